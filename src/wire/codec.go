package wire

import (
	"bytes"
	"fmt"

	"github.com/ugorji/go/codec"
)

// jh is the handle for all wire encoding and decoding. Canonical so that
// encoding the same envelope always produces the same bytes. Handles are
// safe for concurrent use.
var jh = func() *codec.JsonHandle {
	h := new(codec.JsonHandle)
	h.Canonical = true
	return h
}()

// Encode renders the envelope as one line of JSON, without the trailing
// newline. The writer owns framing.
func Encode(e *Envelope) ([]byte, error) {
	if e.Body == nil {
		return nil, fmt.Errorf("wire: encode: nil body")
	}
	if e.Body.Kind() == "" {
		return nil, fmt.Errorf("wire: encode: missing body type")
	}

	var b bytes.Buffer
	enc := codec.NewEncoder(&b, jh)
	if err := enc.Encode(e); err != nil {
		return nil, fmt.Errorf("wire: encode: %v", err)
	}

	return b.Bytes(), nil
}

// Decode parses one line into an envelope. Structural problems surface as a
// DecodeError; a well-formed envelope whose discriminant is not a known
// kind surfaces as an UnknownKindError.
func Decode(data []byte) (*Envelope, error) {
	var probe struct {
		Body struct {
			Type Kind `json:"type"`
		} `json:"body"`
	}

	if err := unmarshal(data, &probe); err != nil {
		return nil, DecodeError{Err: err}
	}

	if probe.Body.Type == "" {
		return nil, DecodeError{Err: errMissingType}
	}

	body := newBody(probe.Body.Type)
	if body == nil {
		return nil, UnknownKindError{Type: probe.Body.Type}
	}

	// The decoder fills the pre-set concrete body through the interface.
	shell := struct {
		Src  string      `json:"src"`
		Dest string      `json:"dest"`
		Body interface{} `json:"body"`
	}{Body: body}

	if err := unmarshal(data, &shell); err != nil {
		return nil, DecodeError{Err: err}
	}

	return &Envelope{Src: shell.Src, Dest: shell.Dest, Body: body}, nil
}

func unmarshal(data []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(data, jh)
	return dec.Decode(v)
}
