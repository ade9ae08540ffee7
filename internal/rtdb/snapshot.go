package rtdb

import "encoding/json"

// Snapshot is a point-in-time read of a stored value.
type Snapshot struct {
	Path string
	Key  string
	raw  []byte
}

// Exists reports whether the snapshot holds a value.
func (s Snapshot) Exists() bool {
	return s.raw != nil
}

// Decode unmarshals the snapshot value into v.
func (s Snapshot) Decode(v any) error {
	return json.Unmarshal(s.raw, v)
}

// Raw returns the underlying JSON document.
func (s Snapshot) Raw() []byte {
	return s.raw
}
