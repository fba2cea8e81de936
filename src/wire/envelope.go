package wire

import "fmt"

// Envelope is the addressed message unit exchanged between nodes. Src and
// Dest are harness-assigned node identifiers; Body is one of the closed set
// of payload variants defined in bodies.go.
type Envelope struct {
	Src  string `json:"src"`
	Dest string `json:"dest"`
	Body Body   `json:"body"`
}

// Body is implemented by every payload variant. The unexported header
// accessor keeps the set closed: every variant lives in this package and is
// enumerated by the decode registry.
type Body interface {
	Kind() Kind
	ID() uint64
	ReplyTo() uint64
	header() *Header
}

// Header holds the fields common to every body variant. MsgID and InReplyTo
// use 0 as unset; allocated message ids start at 1.
type Header struct {
	Type      Kind   `json:"type"`
	MsgID     uint64 `json:"msg_id,omitempty"`
	InReplyTo uint64 `json:"in_reply_to,omitempty"`
}

// NewHeader returns a header carrying the given wire type.
func NewHeader(k Kind) Header { return Header{Type: k} }

// Kind returns the wire discriminant.
func (h *Header) Kind() Kind { return h.Type }

// ID returns the sender-allocated message id, 0 when unset.
func (h *Header) ID() uint64 { return h.MsgID }

// ReplyTo returns the id of the request this body answers, 0 when unset.
func (h *Header) ReplyTo() uint64 { return h.InReplyTo }

func (h *Header) header() *Header { return h }

// SetID stamps an allocated msg_id on an outbound body.
func SetID(b Body, id uint64) { b.header().MsgID = id }

// SetReplyTo stamps in_reply_to on a reply body.
func SetReplyTo(b Body, id uint64) { b.header().InReplyTo = id }

// Reply builds the answer to e: src and dest swapped, in_reply_to set to
// e's msg_id. The sender stamps the reply's own msg_id.
func (e *Envelope) Reply(body Body) *Envelope {
	SetReplyTo(body, e.Body.ID())
	return &Envelope{
		Src:  e.Dest,
		Dest: e.Src,
		Body: body,
	}
}

// String renders a compact description for logging.
func (e *Envelope) String() string {
	if e.Body == nil {
		return fmt.Sprintf("%s->%s <nil>", e.Src, e.Dest)
	}
	return fmt.Sprintf("%s->%s %s(id=%d, re=%d)",
		e.Src, e.Dest, e.Body.Kind(), e.Body.ID(), e.Body.ReplyTo())
}
