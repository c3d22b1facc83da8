// Package gossip implements anti-entropy replication for zephyrmesh.
// Instead of acknowledging every delivery, nodes periodically push their
// whole value set to their neighbors, and a receiver answers with exactly
// the values the sender lacks. A dirty flag gates each round so a
// converged node stays quiet.
//
// Typical usage:
//
//	rt := &node.Runtime{Strategy: gossip.New(), Tick: 50 * time.Millisecond, ...}
//	err := rt.Run(ctx)
//
// Client broadcasts are also relayed once, tagged, to every neighbor, so
// fresh values spread before the next gossip round.
package gossip
