// Package uniqueid implements the globally unique id workload. An id is the
// node identity joined with a local counter, so uniqueness needs no
// coordination: node ids are unique cluster-wide and the counter keeps each
// node's sequence disjoint from its own past.
package uniqueid

import (
	"fmt"
	"sync/atomic"

	"github.com/gabbleio/gabble/src/node"
	"github.com/gabbleio/gabble/src/wire"
	"github.com/sirupsen/logrus"
)

// Engine issues node-scoped unique ids.
type Engine struct {
	sender node.Sender
	logger *logrus.Entry

	// counter is the per-node sequence. The first issued id ends in 1.
	counter uint64
}

// NewEngine is a factory method that returns a uniqueid Engine wired to
// sender.
func NewEngine(sender node.Sender, logger *logrus.Entry) *Engine {
	return &Engine{
		sender: sender,
		logger: logger,
	}
}

// HandleGenerate replies with a fresh "<node>-<n>" id.
func (e *Engine) HandleGenerate(env *wire.Envelope) error {
	if _, ok := env.Body.(*wire.GenerateBody); !ok {
		return fmt.Errorf("unexpected body %T for generate", env.Body)
	}

	n := atomic.AddUint64(&e.counter, 1)

	e.sender.Reply(env, &wire.GenerateOKBody{
		Header: wire.NewHeader(wire.KindGenerateOK),
		ID:     fmt.Sprintf("%s-%d", e.sender.ID(), n),
	})

	return nil
}
