// Package node implements the reactive component of a gabble node.
//
// This is the part of gabble that drives the line-oriented message loop and
// hands envelopes to the workload engines. Node implements a small state
// machine with three states: Initializing, Running, and Shutdown.
//
// Dispatch
//
// A node reads one JSON envelope per line from its transport, normally
// stdin. The first message must be init: it carries the node's identity and
// the cluster roster, and the node answers it with init_ok before anything
// else is dispatched. From then on, each inbound envelope is routed by the
// type discriminant of its body to the handler registered for that kind.
// Handlers run concurrently up to a fixed budget; past the budget they run
// inline, which slows the loop down rather than queueing unbounded work.
// Everything outbound funnels through a single writer goroutine so that
// concurrent handlers cannot interleave bytes within a line.
//
// Correlation
//
// Requests and replies share the message streams, so the runtime keeps a
// correlation table. An outbound request registered through RPC records a
// reply callback and a deadline under its msg_id; an inbound envelope whose
// in_reply_to matches a table entry consumes that entry and runs the
// callback. Entries whose deadline passes first fire a timeout callback
// instead, which is how the broadcast engine decides to re-send gossip.
// Replies that match nothing are dropped: with at-least-once delivery a
// duplicate acknowledgment is normal traffic, not an error.
//
// Lifecycle
//
// The node stops when its input ends, when a SIGINT or SIGTERM arrives, or
// when a fatal error occurs. Fatal means a malformed initialization or a
// transport write failure; a malformed message after initialization is
// logged and dropped. Shutdown joins the concurrent routines, flushes what
// was already queued for the writer, and abandons outstanding correlation
// entries without firing their callbacks.
package node
