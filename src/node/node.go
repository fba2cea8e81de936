package node

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gabbleio/gabble/src/config"
	"github.com/gabbleio/gabble/src/peers"
	"github.com/gabbleio/gabble/src/telemetry"
	"github.com/gabbleio/gabble/src/wire"
	"github.com/sirupsen/logrus"
)

// maxLineBytes bounds a single inbound line. Batched gossip can grow large
// but a line past this size is a protocol violation, not a workload.
const maxLineBytes = 10 * 1024 * 1024

// ErrAlreadyInitialized is returned by Initialize when the node identity has
// already been set.
var ErrAlreadyInitialized = errors.New("node already initialized")

// Handler processes one inbound envelope. A returned error is logged; it
// does not stop the node.
type Handler func(*wire.Envelope) error

// InitFunc runs once, after the init exchange completes and before any other
// message is dispatched.
type InitFunc func(id string, peerSet *peers.PeerSet)

// Sender is the part of the runtime that workload engines use to emit
// messages. Node implements it; engine tests substitute recorders.
type Sender interface {
	// ID returns the node identity, empty before initialization.
	ID() string

	// Send stamps body with a fresh msg_id, queues it for dest, and
	// returns the allocated id.
	Send(dest string, body wire.Body) uint64

	// Reply answers req with body: src and dest swapped, in_reply_to set
	// to req's msg_id.
	Reply(req *wire.Envelope, body wire.Body) uint64

	// RPC sends body to dest and registers the callbacks with the
	// correlation table. Exactly one of onReply or onTimeout fires, unless
	// the node shuts down first.
	RPC(dest string, body wire.Body, timeout time.Duration, onReply ReplyFunc, onTimeout func()) uint64
}

// Node reads envelopes line by line from the transport, dispatches them to
// workload handlers, and serializes every outbound envelope through a single
// writer. All ids, handlers, and timers hang off this object; there is no
// global state.
type Node struct {
	state

	conf   *config.Config
	logger *logrus.Entry

	initMu sync.RWMutex
	id     string
	peers  *peers.PeerSet

	handlers  map[wire.Kind]Handler
	initHooks []InitFunc

	correlator *Correlator

	in  io.Reader
	out io.Writer

	// nextID is the owned monotonic msg_id counter. The first allocated id
	// is 1; 0 on the wire means unset.
	nextID uint64

	inCh   chan []byte
	sendCh chan *wire.Envelope

	sigintCh   chan os.Signal
	shutdownCh chan struct{}
	writerDone chan struct{}

	stopOnce     sync.Once
	shutdownOnce sync.Once
	closeSend    sync.Once

	errMu    sync.Mutex
	fatalErr error

	start time.Time
}

// NewNode is a factory method that returns a Node instance reading from in
// and writing to out. It does not touch the transport until Run.
func NewNode(conf *config.Config, in io.Reader, out io.Writer) *Node {
	sigintCh := make(chan os.Signal, 1)
	signal.Notify(sigintCh, os.Interrupt, syscall.SIGTERM)

	node := &Node{
		conf:       conf,
		logger:     conf.Logger().WithField("component", "node"),
		handlers:   make(map[wire.Kind]Handler),
		correlator: NewCorrelator(conf.Logger().WithField("component", "correlation")),
		in:         in,
		out:        out,
		inCh:       make(chan []byte, 64),
		sendCh:     make(chan *wire.Envelope, 256),
		sigintCh:   sigintCh,
		shutdownCh: make(chan struct{}),
		writerDone: make(chan struct{}),
		start:      time.Now(),
	}

	return node
}

// Handle registers the handler for a message kind. It must be called before
// Run; later registrations race with dispatch.
func (n *Node) Handle(kind wire.Kind, handler Handler) {
	n.handlers[kind] = handler
}

// OnInit registers a hook invoked once initialization completes. Engines use
// it to capture the node identity and compute their neighbor sets. It must
// be called before Run.
func (n *Node) OnInit(f InitFunc) {
	n.initHooks = append(n.initHooks, f)
}

// Every runs f on a dedicated goroutine every interval until shutdown. It is
// the scheduling primitive behind the flush and refresh timers.
func (n *Node) Every(interval time.Duration, f func()) {
	n.goFunc(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				f()
			case <-n.shutdownCh:
				return
			}
		}
	})
}

// Initialize sets the node identity and the cluster roster. It is normally
// driven by the init message; calling it twice is an error.
func (n *Node) Initialize(id string, nodeIDs []string) error {
	if id == "" {
		return fmt.Errorf("empty node id")
	}

	n.initMu.Lock()
	defer n.initMu.Unlock()

	if n.id != "" {
		return ErrAlreadyInitialized
	}

	roster := nodeIDs
	if len(roster) == 0 {
		roster = []string{id}
	}

	n.id = id
	n.peers = peers.NewPeerSet(roster)

	n.setState(Running)

	return nil
}

// Initialized reports whether the init exchange has completed.
func (n *Node) Initialized() bool {
	n.initMu.RLock()
	defer n.initMu.RUnlock()
	return n.id != ""
}

// ID returns the harness-assigned node identifier, empty before
// initialization.
func (n *Node) ID() string {
	n.initMu.RLock()
	defer n.initMu.RUnlock()
	return n.id
}

// Peers returns the cluster roster, nil before initialization.
func (n *Node) Peers() *peers.PeerSet {
	n.initMu.RLock()
	defer n.initMu.RUnlock()
	return n.peers
}

// Send stamps body with a fresh msg_id, queues it for dest, and returns the
// allocated id.
func (n *Node) Send(dest string, body wire.Body) uint64 {
	id := n.allocID()
	wire.SetID(body, id)
	n.enqueue(&wire.Envelope{Src: n.ID(), Dest: dest, Body: body})
	return id
}

// Reply answers req with body, swapping src and dest and stamping
// in_reply_to. The reply carries its own fresh msg_id.
func (n *Node) Reply(req *wire.Envelope, body wire.Body) uint64 {
	id := n.allocID()
	wire.SetID(body, id)
	n.enqueue(req.Reply(body))
	return id
}

// RPC sends body to dest and registers the callbacks. The entry is
// registered before the envelope is queued so a fast reply cannot slip past
// the correlation table.
func (n *Node) RPC(dest string, body wire.Body, timeout time.Duration, onReply ReplyFunc, onTimeout func()) uint64 {
	id := n.allocID()
	wire.SetID(body, id)
	n.correlator.AwaitReply(id, timeout, onReply, onTimeout)
	n.enqueue(&wire.Envelope{Src: n.ID(), Dest: dest, Body: body})
	return id
}

func (n *Node) allocID() uint64 {
	return atomic.AddUint64(&n.nextID, 1)
}

func (n *Node) enqueue(env *wire.Envelope) {
	select {
	case n.sendCh <- env:
	case <-n.shutdownCh:
		// late sends still land in the buffered channel through the other
		// branch when there is room; beyond that the process is going away
		select {
		case n.sendCh <- env:
		default:
			n.logger.WithField("msg", env.String()).Debug("Discarding message on shutdown")
		}
	}
}

// Run invokes the main loop of the node: read a line, decode it, dispatch
// it. It blocks until the input is exhausted, a fatal error occurs, or
// Shutdown is called, and returns the fatal error if there was one.
func (n *Node) Run() error {
	n.logger.WithField("workload", n.conf.Workload).Debug("Run")

	go n.readLoop()
	go n.writer()
	n.goFunc(n.correlator.Run)

	for {
		select {
		case line, ok := <-n.inCh:
			if !ok {
				n.logger.Debug("End of input")
				n.logStats()
				n.Shutdown()
				return n.Err()
			}
			if err := n.receive(line); err != nil {
				n.fail(err)
				n.Shutdown()
				return n.Err()
			}
		case <-n.sigintCh:
			n.logger.Debug("Reacting to SIGINT - shutdown")
			n.Shutdown()
			return n.Err()
		case <-n.shutdownCh:
			n.Shutdown()
			return n.Err()
		}
	}
}

// readLoop scans the transport line by line and feeds the dispatch loop.
// It owns no node state; it exits when the input ends or the node stops.
func (n *Node) readLoop() {
	defer close(n.inCh)

	scanner := bufio.NewScanner(n.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		// the scanner reuses its buffer across Scan calls
		line := make([]byte, len(raw))
		copy(line, raw)

		select {
		case n.inCh <- line:
		case <-n.shutdownCh:
			return
		}
	}

	if err := scanner.Err(); err != nil {
		n.logger.WithError(err).Error("Reading transport")
	}
}

// receive decodes and dispatches one line. A non-nil return is fatal and
// stops the node; anything recoverable is logged and dropped here.
func (n *Node) receive(line []byte) error {
	env, err := wire.Decode(line)
	if err != nil {
		if !n.Initialized() {
			return fmt.Errorf("initialization: %w", err)
		}

		telemetry.DecodeFailures.Inc()

		var unknown wire.UnknownKindError
		if errors.As(err, &unknown) {
			n.logger.WithField("type", string(unknown.Type)).Warn("Dropping message of unknown kind")
		} else {
			n.logger.WithError(err).Warn("Dropping undecodable message")
		}

		return nil
	}

	telemetry.MessagesIn.WithLabelValues(string(env.Body.Kind())).Inc()

	if !n.Initialized() {
		init, ok := env.Body.(*wire.InitBody)
		if !ok {
			return fmt.Errorf("initialization: first message is %q, expected %q",
				env.Body.Kind(), wire.KindInit)
		}

		if err := n.Initialize(init.NodeID, init.NodeIDs); err != nil {
			return fmt.Errorf("initialization: %w", err)
		}

		n.logger.WithFields(logrus.Fields{
			"node":  init.NodeID,
			"peers": len(init.NodeIDs),
		}).Debug("Initialized")

		n.Reply(env, &wire.InitOKBody{Header: wire.NewHeader(wire.KindInitOK)})

		for _, f := range n.initHooks {
			f(n.ID(), n.Peers())
		}

		return nil
	}

	if env.Body.Kind() == wire.KindInit {
		n.logger.Warn("Ignoring repeated init")
		n.Reply(env, wire.NewError(wire.ErrMalformedRequest, "node already initialized"))
		return nil
	}

	// Replies route to the correlation table first. An unmatched reply with
	// no handler of its own is a late or duplicate acknowledgment.
	if re := env.Body.ReplyTo(); re != 0 {
		if n.correlator.Resolve(re, env) {
			return nil
		}
		if _, ok := n.handlers[env.Body.Kind()]; !ok {
			n.logger.WithField("msg", env.String()).Debug("Unmatched reply")
			return nil
		}
	}

	handler, ok := n.handlers[env.Body.Kind()]
	if !ok {
		n.logger.WithField("type", string(env.Body.Kind())).Error("No handler registered")
		n.Reply(env, wire.NewError(wire.ErrNotSupported,
			fmt.Sprintf("%s not supported", env.Body.Kind())))
		return nil
	}

	n.goFunc(func() {
		start := time.Now()
		if err := handler(env); err != nil {
			n.logger.WithError(err).WithField("msg", env.String()).Error("Handler failed")
		}
		telemetry.HandleDuration.WithLabelValues(string(env.Body.Kind())).Observe(time.Since(start).Seconds())
	})

	return nil
}

// writer serializes all outbound envelopes. It is the only goroutine that
// touches the transport writer, which keeps lines whole without a lock
// around the encoder.
func (n *Node) writer() {
	defer close(n.writerDone)

	failed := false
	for env := range n.sendCh {
		if failed {
			continue
		}
		if err := n.write(env); err != nil {
			n.fail(fmt.Errorf("transport write: %w", err))
			failed = true
		}
	}
}

func (n *Node) write(env *wire.Envelope) error {
	data, err := wire.Encode(env)
	if err != nil {
		// a handler built an unencodable body; that must not kill the stream
		n.logger.WithError(err).WithField("msg", env.String()).Error("Encoding outbound message")
		return nil
	}

	telemetry.MessagesOut.WithLabelValues(string(env.Body.Kind())).Inc()
	n.logger.WithField("msg", env.String()).Debug("Sending")

	_, err = n.out.Write(append(data, '\n'))

	return err
}

// fail records the first fatal error and triggers the stop sequence without
// waiting for concurrent routines; the Run loop joins them.
func (n *Node) fail(err error) {
	n.errMu.Lock()
	if n.fatalErr == nil {
		n.fatalErr = err
	}
	n.errMu.Unlock()

	n.stop()
}

func (n *Node) stop() {
	n.stopOnce.Do(func() {
		n.setState(Shutdown)
		close(n.shutdownCh)
		n.correlator.Shutdown()
	})
}

// Shutdown stops the node: dispatch ends, concurrent handlers and timers are
// joined, and whatever was queued for the writer is flushed. Outstanding
// correlation entries are abandoned without firing.
func (n *Node) Shutdown() {
	n.stop()

	n.shutdownOnce.Do(func() {
		n.logger.Debug("Shutdown")

		n.waitRoutines()

		n.closeSend.Do(func() { close(n.sendCh) })
		<-n.writerDone
	})
}

// Err returns the fatal error that stopped the node, if any.
func (n *Node) Err() error {
	n.errMu.Lock()
	defer n.errMu.Unlock()
	return n.fatalErr
}

// GetStats returns runtime counters for the HTTP service.
func (n *Node) GetStats() map[string]string {
	peerCount := 0
	if ps := n.Peers(); ps != nil {
		peerCount = ps.Len()
	}

	return map[string]string{
		"id":              n.ID(),
		"state":           n.getState().String(),
		"workload":        n.conf.Workload,
		"peers":           strconv.Itoa(peerCount),
		"last_msg_id":     strconv.FormatUint(atomic.LoadUint64(&n.nextID), 10),
		"pending_replies": strconv.Itoa(n.correlator.PendingCount()),
		"uptime":          time.Since(n.start).String(),
	}
}

func (n *Node) logStats() {
	stats := n.GetStats()

	fields := logrus.Fields{}
	for k, v := range stats {
		fields[k] = v
	}

	n.logger.WithFields(fields).Debug("Stats")
}
