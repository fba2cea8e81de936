// Package echo implements the smoke-test workload: every echo request is
// answered with its own payload.
package echo

import (
	"fmt"

	"github.com/gabbleio/gabble/src/node"
	"github.com/gabbleio/gabble/src/wire"
	"github.com/sirupsen/logrus"
)

// Engine answers echo requests.
type Engine struct {
	sender node.Sender
	logger *logrus.Entry
}

// NewEngine is a factory method that returns an echo Engine wired to sender.
func NewEngine(sender node.Sender, logger *logrus.Entry) *Engine {
	return &Engine{
		sender: sender,
		logger: logger,
	}
}

// HandleEcho replies with the request payload.
func (e *Engine) HandleEcho(env *wire.Envelope) error {
	body, ok := env.Body.(*wire.EchoBody)
	if !ok {
		return fmt.Errorf("unexpected body %T for echo", env.Body)
	}

	e.sender.Reply(env, &wire.EchoOKBody{
		Header: wire.NewHeader(wire.KindEchoOK),
		Echo:   body.Echo,
	})

	return nil
}
