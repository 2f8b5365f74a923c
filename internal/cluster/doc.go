// Package cluster defines the two-node active/standby model that the failover
// controller operates on.
//
// # Overview
//
// A managed deployment consists of exactly two control-plane nodes. One holds
// the primary role and serves the cluster; the other is a standby that can be
// promoted when the primary stops answering. The package provides:
//
//   - Node: hostname, probe address, role and management link
//   - Pair: the two nodes plus the primary reference, with Swap as the only
//     way to move the primary role
//   - Link: the management operations used around a promotion
//   - Outcome and Classify: the single place where a management response is
//     turned into Success, Rejected(reason) or TransportFailure
//
// # Roles
//
//	          ┌──────────────┐
//	          │    Pair      │
//	          │  primary ──┐ │
//	          └──┬─────────┼─┘
//	             │         │
//	     ┌───────▼──┐   ┌──▼───────┐
//	     │  Node A  │   │  Node B  │
//	     │ primary  │   │secondary │
//	     └──────────┘   └──────────┘
//
// Exactly one node is primary at every observable instant. Pair.Swap flips
// both role flags and the primary reference in one step, so no caller can
// observe zero or two primaries.
//
// # Outcomes
//
// Every management call yields an Outcome. Rejected outcomes carry a Reason
// (bad request, insufficient permission, internal error) for diagnostics.
// TransportFailure covers connection errors and timeouts and is the only kind
// that is worth retrying. The failover controller treats anything other than
// Success as "did not succeed".
//
// # See Also
//
//   - internal/mgmt: HTTP implementation of Link
//   - internal/failover: the controller that drives the pair
package cluster
