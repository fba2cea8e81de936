package node

import (
	"sync"
	"sync/atomic"
)

// WGLIMIT is the maximum number of goroutines that goFunc will launch
// concurrently. Above the limit, the function runs inline, which applies
// backpressure to the dispatch loop instead of queueing unbounded work.
const WGLIMIT = 20

// State captures the lifecycle of a node.
type State uint32

const (
	// Initializing is the launch state, before the init message arrives.
	Initializing State = iota
	// Running is the normal message-processing state.
	Running
	// Shutdown is the terminal state.
	Shutdown
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "Initializing"
	case Running:
		return "Running"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

type state struct {
	state State

	wg      sync.WaitGroup
	wgCount int32
}

func (b *state) getState() State {
	stateAddr := (*uint32)(&b.state)
	return State(atomic.LoadUint32(stateAddr))
}

func (b *state) setState(s State) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}

// goFunc runs f on a tracked goroutine, or inline when the goroutine budget
// is exhausted.
func (b *state) goFunc(f func()) {
	if atomic.LoadInt32(&b.wgCount) < WGLIMIT {
		b.wg.Add(1)
		atomic.AddInt32(&b.wgCount, 1)

		go func() {
			defer b.wg.Done()
			defer atomic.AddInt32(&b.wgCount, -1)
			f()
		}()

		return
	}

	f()
}

func (b *state) waitRoutines() {
	b.wg.Wait()
}
