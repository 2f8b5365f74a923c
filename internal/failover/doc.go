// Package failover implements the active/standby failover controller.
//
// The controller owns a cluster.Pair and, once per tick, probes both nodes
// concurrently and folds the two results into one of three cases:
//
//	both reachable      counter = 0, outage alert re-armed
//	both unreachable    counter++, one alert per outage once counter >= threshold
//	one reachable       alert re-armed; then
//	    primary up      counter = 0
//	    standby up      counter++, promotion once counter >= threshold
//
// The counter tracks consecutive ticks in which the current primary was
// unreachable, so an outage of both nodes that ends with only the standby
// coming back keeps counting and may promote on its first tick back.
//
// Promotion protocol. Evaluate calls are serialised, so no second tick can
// interleave with it; state readers use a separate lock and see
// Snapshot.Promoting while it runs.
//
//	1. PauseTelemetry on the current primary, bounded by Config.PauseTimeout
//	   (failure is logged, not fatal)
//	2. PromoteToPrimary on the standby
//	3a. success: Pair.Swap, counter = 0, ResumeTelemetry on the new primary
//	3b. failure: roles and counter unchanged, abandon policy applied
//
// Promotions run on a context detached from the caller's cancellation and
// bounded by Config.DrainTimeout, so a shutdown never leaves the pair half
// swapped.
package failover
