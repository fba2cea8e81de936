package broadcast

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/gabbleio/gabble/src/config"
	"github.com/gabbleio/gabble/src/node"
	"github.com/gabbleio/gabble/src/peers"
	"github.com/gabbleio/gabble/src/telemetry"
	"github.com/gabbleio/gabble/src/wire"
	"github.com/sirupsen/logrus"
)

// Engine is the propagation engine of the broadcast workload. It owns the
// grow-only value set and keeps gossiping every value to its neighbors until
// each one acknowledges it.
type Engine struct {

	// engineLock protects all mutable fields below. Handlers, the flush
	// timer, and correlation callbacks all run on different goroutines.
	engineLock sync.Mutex

	conf   *config.Config
	sender node.Sender
	logger *logrus.Entry

	// id is the node identity, captured by Start when the init exchange
	// completes.
	id string

	// values is the grow-only set of every value this node has seen, from
	// clients and peers alike.
	values map[int64]struct{}

	// neighbors is the current gossip fan-out set. The harness topology
	// policy replaces it when the topology message arrives; the stride
	// policy fixes it at Start and ignores the message.
	neighbors []string

	// outstanding maps neighbor to the values sent but not yet acknowledged
	// under the batch policy. The flush tick re-sends the whole buffer, so
	// there is no per-entry retry timer.
	outstanding map[string]map[int64]struct{}
}

// NewEngine is a factory method that returns an Engine wired to sender. The
// gossip and topology policies come from the config.
func NewEngine(conf *config.Config, sender node.Sender, logger *logrus.Entry) *Engine {
	return &Engine{
		conf:        conf,
		sender:      sender,
		logger:      logger,
		values:      make(map[int64]struct{}),
		outstanding: make(map[string]map[int64]struct{}),
	}
}

// Start captures the node identity and computes the initial neighbor set. It
// runs as an init hook, before any broadcast is dispatched. Until a harness
// topology arrives, the full roster serves as the neighbor set.
func (e *Engine) Start(id string, peerSet *peers.PeerSet) {
	e.engineLock.Lock()
	defer e.engineLock.Unlock()

	e.id = id

	switch e.conf.TopologyPolicy {
	case config.TopologyStride:
		e.setNeighbors(peerSet.StrideNeighbors(id, e.conf.Stride))
	default:
		e.setNeighbors(peerSet.Others(id))
	}

	e.logger.WithFields(logrus.Fields{
		"id":        id,
		"policy":    e.conf.GossipPolicy,
		"topology":  e.conf.TopologyPolicy,
		"neighbors": e.neighbors,
	}).Debug("Broadcast engine started")
}

// HandleBroadcast ingests a value, or a batch of values, and fans whatever
// was previously unseen out to the neighbors, excluding the sender. The
// acknowledgment goes out regardless: re-accepting a known value must ack,
// or the sender would retry it forever.
func (e *Engine) HandleBroadcast(env *wire.Envelope) error {
	body, ok := env.Body.(*wire.BroadcastBody)
	if !ok {
		return fmt.Errorf("unexpected body %T for broadcast", env.Body)
	}

	fresh := e.ingest(body.Message.All())
	e.fanOut(fresh, env.Src)

	e.sender.Reply(env, &wire.BroadcastOKBody{Header: wire.NewHeader(wire.KindBroadcastOK)})

	return nil
}

// HandleRead answers with a snapshot of the value set.
func (e *Engine) HandleRead(env *wire.Envelope) error {
	snapshot := e.snapshot()

	body := &wire.ReadOKBody{
		Header:   wire.NewHeader(wire.KindReadOK),
		Messages: &snapshot,
	}
	e.sender.Reply(env, body)

	return nil
}

// HandleTopology adopts the harness neighbor graph, unless the stride policy
// is in force, in which case the message is acknowledged and ignored.
func (e *Engine) HandleTopology(env *wire.Envelope) error {
	body, ok := env.Body.(*wire.TopologyBody)
	if !ok {
		return fmt.Errorf("unexpected body %T for topology", env.Body)
	}

	e.engineLock.Lock()
	if e.conf.TopologyPolicy == config.TopologyHarness {
		e.setNeighbors(body.Topology[e.id])
		e.logger.WithField("neighbors", e.neighbors).Debug("Topology adopted")
	} else {
		e.logger.Debug("Topology ignored, stride mesh in use")
	}
	e.engineLock.Unlock()

	e.sender.Reply(env, &wire.TopologyOKBody{Header: wire.NewHeader(wire.KindTopologyOK)})

	return nil
}

// GetStats returns engine counters for the HTTP service.
func (e *Engine) GetStats() map[string]string {
	e.engineLock.Lock()
	defer e.engineLock.Unlock()

	outstanding := 0
	for _, buffered := range e.outstanding {
		outstanding += len(buffered)
	}

	return map[string]string{
		"set_size":    strconv.Itoa(len(e.values)),
		"neighbors":   strconv.Itoa(len(e.neighbors)),
		"outstanding": strconv.Itoa(outstanding),
	}
}

// ingest adds values to the set and returns the ones that were new.
func (e *Engine) ingest(values []int64) []int64 {
	e.engineLock.Lock()
	defer e.engineLock.Unlock()

	var fresh []int64
	for _, v := range values {
		if _, seen := e.values[v]; seen {
			continue
		}
		e.values[v] = struct{}{}
		fresh = append(fresh, v)
	}

	telemetry.SetSize.Set(float64(len(e.values)))

	return fresh
}

// snapshot returns the value set, sorted so reads are stable.
func (e *Engine) snapshot() []int64 {
	e.engineLock.Lock()
	defer e.engineLock.Unlock()

	out := make([]int64, 0, len(e.values))
	for v := range e.values {
		out = append(out, v)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// setNeighbors replaces the neighbor set while holding engineLock. Under the
// batch policy the outstanding buffers follow: surviving neighbors keep
// theirs, new neighbors start empty, departed neighbors are dropped.
func (e *Engine) setNeighbors(neighbors []string) {
	filtered := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		if n == e.id {
			continue
		}
		filtered = append(filtered, n)
	}

	e.neighbors = filtered

	outstanding := make(map[string]map[int64]struct{}, len(filtered))
	for _, n := range filtered {
		if set, ok := e.outstanding[n]; ok {
			outstanding[n] = set
			continue
		}
		outstanding[n] = make(map[int64]struct{})
	}
	e.outstanding = outstanding
}

// neighborsExcept returns a copy of the neighbor set without source.
func (e *Engine) neighborsExcept(source string) []string {
	e.engineLock.Lock()
	defer e.engineLock.Unlock()

	out := make([]string, 0, len(e.neighbors))
	for _, n := range e.neighbors {
		if n == source {
			continue
		}
		out = append(out, n)
	}

	return out
}
