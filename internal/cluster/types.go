package cluster

import (
	"context"
	"errors"
	"fmt"
)

// Role is the position a node holds in the active/standby pair.
type Role string

const (
	RolePrimary   Role = "primary"
	RoleSecondary Role = "secondary"
)

// Link is the management-API handle for a single node.
type Link interface {
	PauseTelemetry(ctx context.Context) Outcome
	ResumeTelemetry(ctx context.Context) Outcome
	PromoteToPrimary(ctx context.Context) Outcome
}

// Node is one managed control-plane endpoint. Address is what the prober
// checks; the management API is reached through Link.
type Node struct {
	Hostname string
	Address  string
	Link     Link
	role     Role
}

// NewNode returns a node holding the given initial role.
func NewNode(hostname, address string, role Role, link Link) *Node {
	return &Node{
		Hostname: hostname,
		Address:  address,
		Link:     link,
		role:     role,
	}
}

// Role reports the node's current role. Roles only change through Pair.Swap.
func (n *Node) Role() Role { return n.role }

func (n *Node) String() string { return n.Hostname }

var ErrInvalidPair = errors.New("invalid node pair")

// Pair owns the two managed nodes and the reference to whichever holds the
// primary role. It is not safe for concurrent use; callers serialise access.
type Pair struct {
	a, b    *Node
	primary *Node
}

// NewPair validates that exactly one of a and b is primary.
func NewPair(a, b *Node) (*Pair, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("%w: both nodes are required", ErrInvalidPair)
	}
	if a == b || a.Hostname == b.Hostname {
		return nil, fmt.Errorf("%w: nodes must be distinct", ErrInvalidPair)
	}
	switch {
	case a.role == RolePrimary && b.role == RoleSecondary:
		return &Pair{a: a, b: b, primary: a}, nil
	case b.role == RolePrimary && a.role == RoleSecondary:
		return &Pair{a: a, b: b, primary: b}, nil
	default:
		return nil, fmt.Errorf("%w: exactly one primary required, got %s=%s %s=%s",
			ErrInvalidPair, a.Hostname, a.role, b.Hostname, b.role)
	}
}

func (p *Pair) A() *Node { return p.a }

func (p *Pair) B() *Node { return p.b }

func (p *Pair) Primary() *Node { return p.primary }

// Standby returns the node that is not primary.
func (p *Pair) Standby() *Node {
	if p.primary == p.a {
		return p.b
	}
	return p.a
}

// Swap moves the primary role to the standby. Both role flags and the primary
// reference change together.
func (p *Pair) Swap() {
	old, next := p.primary, p.Standby()
	old.role = RoleSecondary
	next.role = RolePrimary
	p.primary = next
}

// Lookup returns the node with the given hostname.
func (p *Pair) Lookup(hostname string) (*Node, bool) {
	switch hostname {
	case p.a.Hostname:
		return p.a, true
	case p.b.Hostname:
		return p.b, true
	}
	return nil, false
}
