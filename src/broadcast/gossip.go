package broadcast

import (
	"sort"

	"github.com/gabbleio/gabble/src/config"
	"github.com/gabbleio/gabble/src/telemetry"
	"github.com/gabbleio/gabble/src/wire"
	"github.com/sirupsen/logrus"
)

// fanOut propagates freshly learned values to the neighbors, excluding the
// node they came from. The sender already has them, and with symmetric
// graphs this is what keeps a value from bouncing between two nodes forever.
func (e *Engine) fanOut(fresh []int64, source string) {
	if len(fresh) == 0 {
		return
	}

	if e.conf.GossipPolicy == config.GossipBatch {
		e.buffer(fresh, source)
		return
	}

	for _, target := range e.neighborsExcept(source) {
		for _, v := range fresh {
			e.gossip(target, v, 1)
		}
	}
}

// gossip sends one value to one neighbor and keeps re-sending it, with a
// fresh msg_id each time, until the neighbor acknowledges. There is no
// attempt cap; delivery is bounded only by the process lifetime.
func (e *Engine) gossip(target string, value int64, attempt int) {
	e.sender.RPC(target, wire.NewBroadcast(value), e.conf.RetryTimeout,
		func(env *wire.Envelope) {
			// acknowledged; the entry is consumed by the correlation table
		},
		func() {
			telemetry.GossipRetries.Inc()

			next := attempt + 1
			if next > e.conf.RetryWarnThreshold {
				e.logger.WithFields(logrus.Fields{
					"target":  target,
					"value":   value,
					"attempt": next,
				}).Warn("Gossip still unacknowledged")
			}

			e.gossip(target, value, next)
		})
}

// buffer files fresh values into the outstanding buffer of every neighbor
// except the source. The flush tick turns the buffers into batches.
func (e *Engine) buffer(fresh []int64, source string) {
	e.engineLock.Lock()
	defer e.engineLock.Unlock()

	for _, target := range e.neighbors {
		if target == source {
			continue
		}

		set := e.outstanding[target]
		if set == nil {
			set = make(map[int64]struct{})
			e.outstanding[target] = set
		}

		for _, v := range fresh {
			set[v] = struct{}{}
		}
	}
}

// Flush sends each neighbor its outstanding buffer as a single batch. It
// doubles as the retry loop: values stay outstanding until the neighbor
// acknowledges the batch that carried them, so the next tick re-sends
// whatever is still unconfirmed.
func (e *Engine) Flush() {
	type batch struct {
		target string
		values []int64
	}

	e.engineLock.Lock()
	var batches []batch
	for target, set := range e.outstanding {
		if len(set) == 0 {
			continue
		}
		values := make([]int64, 0, len(set))
		for v := range set {
			values = append(values, v)
		}
		sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
		batches = append(batches, batch{target: target, values: values})
	}
	e.engineLock.Unlock()

	for _, b := range batches {
		e.sendBatch(b.target, b.values)
	}
}

// sendBatch ships one batch and prunes exactly its contents from the
// target's buffer when the acknowledgment arrives. broadcast_ok does not
// echo values, so the pending entry captures them. A timeout needs no
// handling of its own; the next flush re-sends.
func (e *Engine) sendBatch(target string, values []int64) {
	e.sender.RPC(target, wire.NewBroadcastBatch(values), e.conf.RetryTimeout,
		func(env *wire.Envelope) {
			e.ack(target, values)
		},
		nil)
}

// ack removes acknowledged values from a neighbor's outstanding buffer.
// Values learned after the batch left stay outstanding.
func (e *Engine) ack(target string, values []int64) {
	e.engineLock.Lock()
	defer e.engineLock.Unlock()

	set := e.outstanding[target]
	if set == nil {
		return
	}

	for _, v := range values {
		delete(set, v)
	}
}
