package probe

import (
	"bytes"
	"context"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const protocolICMP = 1

var echoPayload = []byte("drswing-probe")

// ICMPProber sends one echo request and waits for the matching reply.
//
// The default mode uses an unprivileged datagram ICMP socket (Linux
// net.ipv4.ping_group_range). Privileged mode opens a raw socket and needs
// CAP_NET_RAW.
type ICMPProber struct {
	Privileged bool

	seq atomic.Uint32
}

func (p *ICMPProber) Probe(ctx context.Context, address string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	deadline, _ := ctx.Deadline()

	ip, err := resolveIPv4(ctx, address)
	if err != nil {
		return false
	}

	network, dst := "udp4", net.Addr(&net.UDPAddr{IP: ip})
	if p.Privileged {
		network, dst = "ip4:icmp", &net.IPAddr{IP: ip}
	}

	conn, err := icmp.ListenPacket(network, "0.0.0.0")
	if err != nil {
		return false
	}
	defer conn.Close()

	// unblock the read if ctx is cancelled before the deadline
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := conn.SetDeadline(deadline); err != nil {
		return false
	}

	seq := int(p.seq.Add(1) & 0xffff)
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  seq,
			Data: echoPayload,
		},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return false
	}
	if _, err := conn.WriteTo(wire, dst); err != nil {
		return false
	}

	buf := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			return false
		}
		if !peerIP(peer).Equal(ip) {
			continue
		}
		reply, err := icmp.ParseMessage(protocolICMP, buf[:n])
		if err != nil || reply.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		// the kernel rewrites the ID on datagram sockets, so match on seq+payload
		if echo, ok := reply.Body.(*icmp.Echo); ok && echo.Seq == seq && bytes.Equal(echo.Data, echoPayload) {
			return true
		}
	}
}

func resolveIPv4(ctx context.Context, address string) (net.IP, error) {
	if ip := net.ParseIP(address); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, &net.AddrError{Err: "not an IPv4 address", Addr: address}
	}
	addrs, err := net.DefaultResolver.LookupIP(ctx, "ip4", address)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, &net.DNSError{Err: "no IPv4 address", Name: address}
	}
	return addrs[0].To4(), nil
}

func peerIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	case *net.IPAddr:
		return a.IP
	default:
		return nil
	}
}
