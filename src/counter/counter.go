// Package counter implements the grow-only counter workload on top of the
// harness's sequentially consistent key/value service.
//
// Client deltas accumulate in a pending sum and are acknowledged
// immediately; a flusher commits the sum with a compare-and-swap against the
// store, one CAS in flight at a time. A cas_ok folds the committed value
// into the local view; a precondition failure means the base value went
// stale, so the engine re-reads the key and re-attempts. Reads return the
// local view, which also folds in peer views via max, and an idle refresh
// tick polls the store and the peers so views converge after partitions.
package counter

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/gabbleio/gabble/src/config"
	"github.com/gabbleio/gabble/src/node"
	"github.com/gabbleio/gabble/src/peers"
	"github.com/gabbleio/gabble/src/wire"
	"github.com/sirupsen/logrus"
)

// counterKey is the single store key holding the committed total.
const counterKey = "total"

// Engine is the g-counter state machine.
type Engine struct {

	// engineLock protects all mutable fields below. Handlers, the refresh
	// timer, and correlation callbacks run on different goroutines.
	engineLock sync.Mutex

	conf   *config.Config
	sender node.Sender
	logger *logrus.Entry

	// started flips when Start runs; the refresh tick idles before that.
	started bool

	// others is the list of peers polled on refresh.
	others []string

	// committed is the store value as of the last authoritative read. It
	// is the from base of the next CAS.
	committed int64

	// pending is the sum of client deltas not yet committed to the store.
	pending int64

	// view is the highest total observed anywhere: own commits, store
	// reads, and peer views. Client reads answer with it.
	view int64

	// casInFlight marks one outstanding CAS cycle, including the re-read
	// after a failed precondition. Further adds buffer behind it.
	casInFlight bool

	// created reports whether the counter key exists in the store. The
	// first CAS, and any CAS after a key-does-not-exist error, asks the
	// store to create it.
	created bool
}

// NewEngine is a factory method that returns a counter Engine wired to
// sender. The kv service name and the retry timeout come from the config.
func NewEngine(conf *config.Config, sender node.Sender, logger *logrus.Entry) *Engine {
	return &Engine{
		conf:   conf,
		sender: sender,
		logger: logger,
	}
}

// Start captures the peer list. It runs as an init hook.
func (e *Engine) Start(id string, peerSet *peers.PeerSet) {
	e.engineLock.Lock()
	defer e.engineLock.Unlock()

	e.started = true
	e.others = peerSet.Others(id)

	e.logger.WithFields(logrus.Fields{
		"id":    id,
		"store": e.conf.KVService,
	}).Debug("Counter engine started")
}

// HandleAdd buffers the delta and acknowledges immediately. The commit to
// the store happens asynchronously.
func (e *Engine) HandleAdd(env *wire.Envelope) error {
	body, ok := env.Body.(*wire.AddBody)
	if !ok {
		return fmt.Errorf("unexpected body %T for add", env.Body)
	}

	e.engineLock.Lock()
	e.pending += body.Delta
	e.engineLock.Unlock()

	e.sender.Reply(env, &wire.AddOKBody{Header: wire.NewHeader(wire.KindAddOK)})

	e.flush()

	return nil
}

// HandleRead answers with the local view. Peers polling each other land here
// too, so the same answer feeds clients and the max-fold on the other side.
func (e *Engine) HandleRead(env *wire.Envelope) error {
	e.engineLock.Lock()
	if total := e.committed + e.pending; total > e.view {
		e.view = total
	}
	view := e.view
	e.engineLock.Unlock()

	body := &wire.ReadOKBody{
		Header: wire.NewHeader(wire.KindReadOK),
		Value:  &view,
	}
	e.sender.Reply(env, body)

	return nil
}

// GetStats returns engine counters for the HTTP service.
func (e *Engine) GetStats() map[string]string {
	e.engineLock.Lock()
	defer e.engineLock.Unlock()

	return map[string]string{
		"committed":     strconv.FormatInt(e.committed, 10),
		"pending":       strconv.FormatInt(e.pending, 10),
		"view":          strconv.FormatInt(e.view, 10),
		"cas_in_flight": strconv.FormatBool(e.casInFlight),
	}
}

// Refresh runs on a timer. While work is pending it nudges the flusher;
// otherwise it polls the store and the peers so the view catches up with
// totals committed elsewhere.
func (e *Engine) Refresh() {
	e.engineLock.Lock()
	if !e.started {
		e.engineLock.Unlock()
		return
	}
	busy := e.casInFlight || e.pending != 0
	others := e.others
	e.engineLock.Unlock()

	if busy {
		e.flush()
		return
	}

	e.pollStore()
	for _, peer := range others {
		e.pollPeer(peer)
	}
}

// flush commits the pending sum with one CAS, unless one is already in
// flight. The from base is the last committed value; when it is stale the
// store answers with a precondition failure and the reply path re-reads.
func (e *Engine) flush() {
	e.engineLock.Lock()

	if e.casInFlight || e.pending == 0 {
		e.engineLock.Unlock()
		return
	}

	e.casInFlight = true
	from := e.committed
	delta := e.pending
	create := !e.created

	e.engineLock.Unlock()

	body := &wire.CASBody{
		Header:            wire.NewHeader(wire.KindCAS),
		Key:               counterKey,
		From:              from,
		To:                from + delta,
		CreateIfNotExists: create,
	}

	e.sender.RPC(e.conf.KVService, body, e.conf.RetryTimeout,
		func(env *wire.Envelope) { e.casResolved(env, from, delta) },
		func() {
			// the CAS may have applied with the reply lost; re-attempting
			// with the same base either succeeds or fails the precondition,
			// and the failure path re-reads
			e.engineLock.Lock()
			e.casInFlight = false
			e.engineLock.Unlock()
			e.flush()
		})
}

// casResolved consumes the store's answer to one CAS.
func (e *Engine) casResolved(env *wire.Envelope, from, delta int64) {
	switch body := env.Body.(type) {
	case *wire.CASOKBody:
		e.engineLock.Lock()
		if from+delta > e.committed {
			e.committed = from + delta
		}
		e.pending -= delta
		e.created = true
		if e.committed > e.view {
			e.view = e.committed
		}
		e.casInFlight = false
		e.engineLock.Unlock()

		e.flush()

	case *wire.ErrorBody:
		switch body.Code {
		case wire.ErrKeyDoesNotExist:
			e.engineLock.Lock()
			e.created = false
			e.casInFlight = false
			e.engineLock.Unlock()

			e.flush()

		default:
			// stale base; re-read the store, then re-attempt
			e.logger.WithFields(logrus.Fields{
				"code": body.Code,
				"text": body.Text,
			}).Debug("CAS rejected")

			e.rereadStore()
		}

	default:
		e.logger.WithField("type", env.Body.Kind()).Warn("Unexpected CAS reply")

		e.engineLock.Lock()
		e.casInFlight = false
		e.engineLock.Unlock()

		e.flush()
	}
}

// rereadStore refreshes the committed base while the CAS cycle stays busy,
// then releases it and re-attempts. The read itself is retried forever; the
// pending sum must not commit against a base known to be stale.
func (e *Engine) rereadStore() {
	body := &wire.ReadBody{Header: wire.NewHeader(wire.KindRead), Key: counterKey}

	e.sender.RPC(e.conf.KVService, body, e.conf.RetryTimeout,
		func(env *wire.Envelope) {
			e.foldStoreRead(env)

			e.engineLock.Lock()
			e.casInFlight = false
			e.engineLock.Unlock()

			e.flush()
		},
		func() { e.rereadStore() })
}

// pollStore reads the committed total outside any CAS cycle. Timeouts are
// ignored; the next refresh polls again.
func (e *Engine) pollStore() {
	body := &wire.ReadBody{Header: wire.NewHeader(wire.KindRead), Key: counterKey}

	e.sender.RPC(e.conf.KVService, body, e.conf.RetryTimeout,
		func(env *wire.Envelope) { e.foldStoreRead(env) },
		nil)
}

// pollPeer asks one peer for its view and folds the answer in via max.
func (e *Engine) pollPeer(peer string) {
	body := &wire.ReadBody{Header: wire.NewHeader(wire.KindRead)}

	e.sender.RPC(peer, body, e.conf.RetryTimeout,
		func(env *wire.Envelope) {
			readOK, ok := env.Body.(*wire.ReadOKBody)
			if !ok || readOK.Value == nil {
				return
			}

			e.engineLock.Lock()
			if *readOK.Value > e.view {
				e.view = *readOK.Value
			}
			e.engineLock.Unlock()
		},
		nil)
}

// foldStoreRead applies an authoritative store read: it becomes the CAS base
// and lifts the view. The store total never shrinks, so a reply landing
// late, after a newer commit, must not lower the base; folds only raise it.
// A key-does-not-exist error marks the key uncreated.
func (e *Engine) foldStoreRead(env *wire.Envelope) {
	switch body := env.Body.(type) {
	case *wire.ReadOKBody:
		if body.Value == nil {
			return
		}

		e.engineLock.Lock()
		if *body.Value > e.committed {
			e.committed = *body.Value
		}
		e.created = true
		if e.committed > e.view {
			e.view = e.committed
		}
		e.engineLock.Unlock()

	case *wire.ErrorBody:
		if body.Code == wire.ErrKeyDoesNotExist {
			e.engineLock.Lock()
			e.created = false
			e.engineLock.Unlock()
		}
	}
}
