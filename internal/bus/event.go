package bus

import "time"

// Op names the kind of store mutation an event describes.
type Op string

const (
	OpWrite  Op = "write"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Event represents a change published on the bus. Kind is a '/'-separated
// path, e.g. "rtdb/conversations/<id>".
type Event struct {
	Kind      string
	Op        Op
	Timestamp time.Time
	Payload   any
}
