package node

import (
	"container/heap"
	"sync"
	"time"

	"github.com/gabbleio/gabble/src/telemetry"
	"github.com/gabbleio/gabble/src/wire"
	"github.com/sirupsen/logrus"
)

// ReplyFunc consumes the reply to an outbound request.
type ReplyFunc func(*wire.Envelope)

// pendingReply is one outstanding request: the reply callback, the timeout
// callback, and the deadline after which the timeout fires.
type pendingReply struct {
	id       uint64
	deadline time.Time

	onReply   ReplyFunc
	onTimeout func()

	index int
}

// replyQueue orders pending replies by deadline.
type replyQueue []*pendingReply

func (q replyQueue) Len() int { return len(q) }

func (q replyQueue) Less(i, j int) bool {
	return q[i].deadline.Before(q[j].deadline)
}

func (q replyQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *replyQueue) Push(x interface{}) {
	entry := x.(*pendingReply)
	entry.index = len(*q)
	*q = append(*q, entry)
}

func (q *replyQueue) Pop() interface{} {
	old := *q
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*q = old[:n-1]
	return entry
}

type timerFactory func(time.Duration) <-chan time.Time

// Correlator matches replies to the requests that caused them. Requests are
// registered under their msg_id; a reply carrying the matching in_reply_to
// resolves the entry, and entries whose deadline passes first fire their
// timeout callback instead. Exactly one of the two callbacks runs.
type Correlator struct {
	sync.Mutex
	pending map[uint64]*pendingReply
	queue   replyQueue

	timerFactory timerFactory
	resetCh      chan struct{}
	shutdownCh   chan struct{}

	logger *logrus.Entry
}

// NewCorrelator is a factory method that returns a Correlator with an empty
// table. Run drives its deadlines.
func NewCorrelator(logger *logrus.Entry) *Correlator {
	return &Correlator{
		pending:      make(map[uint64]*pendingReply),
		queue:        replyQueue{},
		timerFactory: func(d time.Duration) <-chan time.Time { return time.After(d) },
		resetCh:      make(chan struct{}, 1),
		shutdownCh:   make(chan struct{}),
		logger:       logger,
	}
}

// AwaitReply registers interest in the reply to msg_id id. If the reply
// arrives before timeout elapses, onReply runs with it; otherwise onTimeout
// runs. Entries left at shutdown are abandoned without firing either.
func (c *Correlator) AwaitReply(id uint64, timeout time.Duration, onReply ReplyFunc, onTimeout func()) {
	entry := &pendingReply{
		id:        id,
		deadline:  time.Now().Add(timeout),
		onReply:   onReply,
		onTimeout: onTimeout,
	}

	c.Lock()
	c.pending[id] = entry
	heap.Push(&c.queue, entry)
	newHead := c.queue[0] == entry
	telemetry.PendingReplies.Set(float64(len(c.pending)))
	c.Unlock()

	if newHead {
		c.kick()
	}
}

// Resolve completes the wait registered under in_reply_to and reports
// whether one existed. Duplicate or unmatched resolutions are no-ops, so a
// reply delivered twice runs its callback once.
func (c *Correlator) Resolve(inReplyTo uint64, env *wire.Envelope) bool {
	c.Lock()
	entry, ok := c.pending[inReplyTo]
	if ok {
		delete(c.pending, inReplyTo)
		heap.Remove(&c.queue, entry.index)
		telemetry.PendingReplies.Set(float64(len(c.pending)))
	}
	c.Unlock()

	if !ok {
		return false
	}

	if entry.onReply != nil {
		entry.onReply(env)
	}

	return true
}

// PendingCount returns the number of outstanding requests.
func (c *Correlator) PendingCount() int {
	c.Lock()
	defer c.Unlock()
	return len(c.pending)
}

// Run arms a single timer to the earliest deadline and fires timeout
// callbacks as entries expire. It returns when Shutdown is called.
func (c *Correlator) Run() {
	for {
		var timerCh <-chan time.Time

		c.Lock()
		if len(c.queue) > 0 {
			d := time.Until(c.queue[0].deadline)
			if d < 0 {
				d = 0
			}
			timerCh = c.timerFactory(d)
		}
		c.Unlock()

		select {
		case <-timerCh:
			c.expire()
		case <-c.resetCh:
			// re-arm to the new earliest deadline
		case <-c.shutdownCh:
			return
		}
	}
}

// Shutdown stops the Run loop. Pending entries are dropped.
func (c *Correlator) Shutdown() {
	close(c.shutdownCh)
}

// expire pops every entry whose deadline has passed and runs its timeout
// callback. Callbacks run outside the lock because they typically register
// a fresh attempt.
func (c *Correlator) expire() {
	now := time.Now()

	var fired []*pendingReply
	c.Lock()
	for len(c.queue) > 0 && !c.queue[0].deadline.After(now) {
		entry := heap.Pop(&c.queue).(*pendingReply)
		delete(c.pending, entry.id)
		fired = append(fired, entry)
	}
	telemetry.PendingReplies.Set(float64(len(c.pending)))
	c.Unlock()

	for _, entry := range fired {
		c.logger.WithField("msg_id", entry.id).Debug("Reply timed out")
		if entry.onTimeout != nil {
			entry.onTimeout()
		}
	}
}

func (c *Correlator) kick() {
	select {
	case c.resetCh <- struct{}{}:
	default:
	}
}
