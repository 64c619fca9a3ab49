package chain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CanonicalJSON encodes v deterministically for hashing: map keys sorted,
// HTML escaping off, numbers kept in their source form. Round-tripping
// through an untyped decode means struct field order cannot leak into the
// digest.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded interface{}
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("canonical: %w", err)
	}
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(decoded); err != nil {
		return nil, fmt.Errorf("canonical: %w", err)
	}
	return bytes.TrimSpace(buf.Bytes()), nil
}
