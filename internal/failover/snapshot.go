package failover

import (
	"time"

	"github.com/dreamware/drswing/internal/cluster"
)

// NodeStatus describes one node as of the last tick.
type NodeStatus struct {
	Hostname  string       `json:"hostname" yaml:"hostname"`
	Address   string       `json:"address" yaml:"address"`
	Role      cluster.Role `json:"role" yaml:"role"`
	Reachable bool         `json:"reachable" yaml:"reachable"`
}

// Snapshot is a point-in-time copy of the controller state, safe to hand to
// other goroutines.
type Snapshot struct {
	Primary             string       `json:"primary" yaml:"primary"`
	Standby             string       `json:"standby" yaml:"standby"`
	Nodes               []NodeStatus `json:"nodes" yaml:"nodes"`
	ConsecutiveFailures uint         `json:"consecutive_failures" yaml:"consecutive_failures"`
	FailureThreshold    uint         `json:"failure_threshold" yaml:"failure_threshold"`
	OutageAlerted       bool         `json:"outage_alerted" yaml:"outage_alerted"`
	TelemetryPaused     bool         `json:"telemetry_paused" yaml:"telemetry_paused"`
	Promoting           bool         `json:"promoting" yaml:"promoting"`
	Ticks               uint64       `json:"ticks" yaml:"ticks"`
	LastTick            time.Time    `json:"last_tick,omitempty" yaml:"last_tick,omitempty"`
	Promotions          uint64       `json:"promotions" yaml:"promotions"`
	FailedPromotions    uint64       `json:"failed_promotions" yaml:"failed_promotions"`
}

// PrimaryReachable reports whether the primary answered the last probe.
// Before the first tick it is false.
func (s Snapshot) PrimaryReachable() bool {
	for _, n := range s.Nodes {
		if n.Hostname == s.Primary {
			return n.Reachable
		}
	}
	return false
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	a, b := c.pair.A(), c.pair.B()
	return Snapshot{
		Primary: c.pair.Primary().Hostname,
		Standby: c.pair.Standby().Hostname,
		Nodes: []NodeStatus{
			{Hostname: a.Hostname, Address: a.Address, Role: a.Role(), Reachable: c.last.AReachable},
			{Hostname: b.Hostname, Address: b.Address, Role: b.Role(), Reachable: c.last.BReachable},
		},
		ConsecutiveFailures: c.failures,
		FailureThreshold:    c.cfg.FailureThreshold,
		OutageAlerted:       c.outageAlerted,
		TelemetryPaused:     c.telemetryPaused,
		Promoting:           c.promoting,
		Ticks:               c.ticks,
		LastTick:            c.lastTick,
		Promotions:          c.promotions,
		FailedPromotions:    c.failedAttempts,
	}
}
