package node

import (
	"sync"
	"time"

	"github.com/gabbleio/gabble/src/wire"
)

// Sent records one envelope emitted through an InmemSender, along with the
// correlation callbacks when it was an RPC, so a test can play the remote
// side and answer or time out at will.
type Sent struct {
	Dest      string
	Body      wire.Body
	ID        uint64
	OnReply   ReplyFunc
	OnTimeout func()
}

// InmemSender implements Sender against an in-memory record instead of a
// transport. Engine tests drive the callbacks by hand, so nothing that uses
// it depends on timing.
type InmemSender struct {
	sync.Mutex
	id     string
	nextID uint64
	sent   []Sent
}

// NewInmemSender is a factory method that returns an InmemSender posing as
// node id.
func NewInmemSender(id string) *InmemSender {
	return &InmemSender{id: id}
}

// ID implements Sender.
func (s *InmemSender) ID() string { return s.id }

// Send implements Sender.
func (s *InmemSender) Send(dest string, body wire.Body) uint64 {
	return s.record(dest, body, nil, nil)
}

// Reply implements Sender.
func (s *InmemSender) Reply(req *wire.Envelope, body wire.Body) uint64 {
	env := req.Reply(body)
	return s.record(env.Dest, body, nil, nil)
}

// RPC implements Sender.
func (s *InmemSender) RPC(dest string, body wire.Body, timeout time.Duration, onReply ReplyFunc, onTimeout func()) uint64 {
	return s.record(dest, body, onReply, onTimeout)
}

func (s *InmemSender) record(dest string, body wire.Body, onReply ReplyFunc, onTimeout func()) uint64 {
	s.Lock()
	defer s.Unlock()

	s.nextID++
	wire.SetID(body, s.nextID)
	s.sent = append(s.sent, Sent{
		Dest:      dest,
		Body:      body,
		ID:        s.nextID,
		OnReply:   onReply,
		OnTimeout: onTimeout,
	})

	return s.nextID
}

// Take drains and returns everything sent since the last call.
func (s *InmemSender) Take() []Sent {
	s.Lock()
	defer s.Unlock()

	out := s.sent
	s.sent = nil

	return out
}
