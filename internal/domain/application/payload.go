package application

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Field is one named payload value together with its provenance.
type Field struct {
	Value     json.RawMessage `json:"value"`
	Stage     Stage           `json:"stage"`
	WrittenAt time.Time       `json:"written_at"`
}

// Payload maps field names to values. Later stages read what earlier stages
// wrote; overwrites are allowed only through State.Merge, which records the
// previous value in history.
type Payload map[string]Field

// View returns a read-only accessor over p. The view copies nothing; it only
// hides mutation.
func (p Payload) View() PayloadView {
	return PayloadView{p: p}
}

func (p Payload) clone() Payload {
	out := make(Payload, len(p))
	for k, f := range p {
		f.Value = append(json.RawMessage(nil), f.Value...)
		out[k] = f
	}
	return out
}

// PayloadView is the read-only payload handed to stage workers.
type PayloadView struct {
	p Payload
}

// Has reports whether name is set.
func (v PayloadView) Has(name string) bool {
	_, ok := v.p[name]
	return ok
}

// Keys returns all field names in sorted order.
func (v PayloadView) Keys() []string {
	keys := make([]string, 0, len(v.p))
	for k := range v.p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Raw returns a copy of the raw JSON value of name.
func (v PayloadView) Raw(name string) (json.RawMessage, bool) {
	f, ok := v.p[name]
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), f.Value...), true
}

// Decode unmarshals field name into dst.
func (v PayloadView) Decode(name string, dst any) error {
	f, ok := v.p[name]
	if !ok {
		return fmt.Errorf("payload field %q not set", name)
	}
	if err := json.Unmarshal(f.Value, dst); err != nil {
		return fmt.Errorf("decode payload field %q: %w", name, err)
	}
	return nil
}

// String returns the field as a string, or "" when absent or not a string.
func (v PayloadView) String(name string) string {
	var s string
	if err := v.Decode(name, &s); err != nil {
		return ""
	}
	return s
}

// Float returns the field as a number.
func (v PayloadView) Float(name string) (float64, bool) {
	var f float64
	if err := v.Decode(name, &f); err != nil {
		return 0, false
	}
	return f, true
}

// Delta is a partial payload update proposed by a stage worker.
type Delta map[string]json.RawMessage

// Set marshals value into the delta under name.
func (d Delta) Set(name string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal delta field %q: %w", name, err)
	}
	d[name] = raw
	return nil
}

// MustSet is Set for values that always marshal (strings, numbers, maps of those).
func (d Delta) MustSet(name string, value any) {
	if err := d.Set(name, value); err != nil {
		panic(err)
	}
}

// Keys returns the delta's field names in sorted order.
func (d Delta) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MergeDeltas combines deltas in argument order; for a key present in
// several deltas the last one wins. The result is independent of the order
// in which the deltas were produced, only of the order they are passed in.
func MergeDeltas(deltas ...Delta) Delta {
	out := make(Delta)
	for _, d := range deltas {
		for _, k := range d.Keys() {
			out[k] = d[k]
		}
	}
	return out
}

func sameJSON(a, b json.RawMessage) bool {
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}
