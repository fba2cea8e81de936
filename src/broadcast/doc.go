// Package broadcast implements the single-value propagation workload: every
// value broadcast to any node must eventually be readable from every node.
//
// The engine keeps a grow-only set. A value arriving from a client or a peer
// is acknowledged unconditionally, and, if previously unseen, fanned out to
// the node's neighbors minus the node it came from. Delivery is at least
// once: gossip is retried until acknowledged, and the receiving side's set
// makes duplicates harmless.
//
// Two gossip policies exist. The direct policy sends each new value to each
// neighbor in its own envelope and retries it individually with a fresh
// msg_id on every timeout. The batch policy accumulates values per neighbor
// and flushes each buffer as one envelope per tick, which trades propagation
// latency for far fewer messages; the tick doubles as the retry loop since
// values leave the buffer only when a batch carrying them is acknowledged.
//
// Two topology policies exist as well. The harness policy adopts the
// neighbor graph from the topology message. The stride policy ignores it and
// derives a sparser partial mesh from the roster, connecting each node to
// every stride-th peer after its own position.
package broadcast
