package wire

import (
	"bytes"
	"encoding/json"
)

// Values is the message payload of a broadcast body. Clients send one value
// per broadcast; the batching gossip policy packs several into one envelope.
// The wire form of a single value is a bare number, that of a batch an
// array, and whichever form was decoded is the form that re-encodes.
type Values struct {
	vals  []int64
	batch bool
}

// SingleValue wraps one value.
func SingleValue(v int64) Values {
	return Values{vals: []int64{v}}
}

// ValueBatch wraps a batch. The slice is used as is.
func ValueBatch(vs []int64) Values {
	return Values{vals: vs, batch: true}
}

// All returns the carried values. Callers must not mutate the result.
func (v Values) All() []int64 { return v.vals }

// IsBatch reports whether the payload is in batch (array) form.
func (v Values) IsBatch() bool { return v.batch }

// MarshalJSON implements json.Marshaler.
func (v Values) MarshalJSON() ([]byte, error) {
	if !v.batch && len(v.vals) == 1 {
		return json.Marshal(v.vals[0])
	}
	if v.vals == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v.vals)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Values) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		v.batch = true
		v.vals = nil
		return json.Unmarshal(data, &v.vals)
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	v.vals = []int64{n}
	v.batch = false
	return nil
}
