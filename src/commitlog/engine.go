// Package commitlog implements the kafka-style workload: per-key append-only
// logs with dense offsets, plus per-key committed offsets. Everything lives
// in one node's memory; there is no replication in this workload.
package commitlog

import (
	"fmt"
	"strconv"

	"github.com/gabbleio/gabble/src/node"
	"github.com/gabbleio/gabble/src/wire"
	"github.com/sirupsen/logrus"
)

// Engine answers the log workload messages out of a Store.
type Engine struct {
	sender node.Sender
	logger *logrus.Entry
	store  *Store
}

// NewEngine is a factory method that returns a commitlog Engine wired to
// sender, with an empty store.
func NewEngine(sender node.Sender, logger *logrus.Entry) *Engine {
	return &Engine{
		sender: sender,
		logger: logger,
		store:  NewStore(),
	}
}

// HandleSend appends the message and replies with its offset.
func (e *Engine) HandleSend(env *wire.Envelope) error {
	body, ok := env.Body.(*wire.SendBody)
	if !ok {
		return fmt.Errorf("unexpected body %T for send", env.Body)
	}

	offset := e.store.Append(body.Key, body.Msg)

	e.sender.Reply(env, &wire.SendOKBody{
		Header: wire.NewHeader(wire.KindSendOK),
		Offset: offset,
	})

	return nil
}

// HandlePoll returns, for each requested key that has a log, the entries at
// and past the requested offset. Keys with no log are omitted.
func (e *Engine) HandlePoll(env *wire.Envelope) error {
	body, ok := env.Body.(*wire.PollBody)
	if !ok {
		return fmt.Errorf("unexpected body %T for poll", env.Body)
	}

	msgs := make(map[string][][2]int64)
	for key, from := range body.Offsets {
		entries := e.store.ReadFrom(key, from)
		if entries == nil {
			continue
		}
		msgs[key] = entries
	}

	e.sender.Reply(env, &wire.PollOKBody{
		Header: wire.NewHeader(wire.KindPollOK),
		Msgs:   msgs,
	})

	return nil
}

// HandleCommitOffsets records the committed offset for each key. A commit
// naming an unknown key or an offset past the end of its log rejects the
// whole request with an error envelope.
func (e *Engine) HandleCommitOffsets(env *wire.Envelope) error {
	body, ok := env.Body.(*wire.CommitOffsetsBody)
	if !ok {
		return fmt.Errorf("unexpected body %T for commit_offsets", env.Body)
	}

	if err := e.store.CommitAll(body.Offsets); err != nil {
		e.logger.WithError(err).Warn("Rejecting commit")

		code := wire.ErrMalformedRequest
		if IsStore(err, KeyNotFound) {
			code = wire.ErrKeyDoesNotExist
		}
		e.sender.Reply(env, wire.NewError(code, err.Error()))

		return nil
	}

	e.sender.Reply(env, &wire.CommitOffsetsOKBody{
		Header: wire.NewHeader(wire.KindCommitOffsetsOK),
	})

	return nil
}

// GetStats returns engine counters for the HTTP service.
func (e *Engine) GetStats() map[string]string {
	keys, entries, committedKeys := e.store.Stats()

	return map[string]string{
		"keys":           strconv.Itoa(keys),
		"entries":        strconv.Itoa(entries),
		"committed_keys": strconv.Itoa(committedKeys),
	}
}

// HandleListCommittedOffsets returns the committed offset of each requested
// key that has one.
func (e *Engine) HandleListCommittedOffsets(env *wire.Envelope) error {
	body, ok := env.Body.(*wire.ListCommittedOffsetsBody)
	if !ok {
		return fmt.Errorf("unexpected body %T for list_committed_offsets", env.Body)
	}

	offsets := make(map[string]int64)
	for _, key := range body.Keys {
		if offset, ok := e.store.Committed(key); ok {
			offsets[key] = offset
		}
	}

	e.sender.Reply(env, &wire.ListCommittedOffsetsOKBody{
		Header:  wire.NewHeader(wire.KindListCommittedOffsetsOK),
		Offsets: offsets,
	})

	return nil
}
