// Package probe implements single-shot reachability checks. A probe answers
// true or false; timeouts and transport errors are ordinary false answers.
package probe

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Prober checks whether address answers within timeout.
type Prober interface {
	Probe(ctx context.Context, address string, timeout time.Duration) bool
}

// Func adapts a plain function to Prober.
type Func func(ctx context.Context, address string, timeout time.Duration) bool

func (f Func) Probe(ctx context.Context, address string, timeout time.Duration) bool {
	return f(ctx, address, timeout)
}

// Mode names accepted by New.
const (
	ModeICMP           = "icmp"
	ModeICMPPrivileged = "icmp-privileged"
	ModeTCP            = "tcp"
)

// New returns the prober for a configured mode.
func New(mode string) (Prober, error) {
	switch mode {
	case ModeICMP, "":
		return &ICMPProber{}, nil
	case ModeICMPPrivileged:
		return &ICMPProber{Privileged: true}, nil
	case ModeTCP:
		return &TCPProber{}, nil
	default:
		return nil, fmt.Errorf("unknown probe mode %q", mode)
	}
}

// TCPProber treats a completed TCP handshake as reachable. Address must be
// host:port.
type TCPProber struct {
	dialer net.Dialer
}

func (p *TCPProber) Probe(ctx context.Context, address string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
