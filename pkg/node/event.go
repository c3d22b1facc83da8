package node

import (
	"time"

	"github.com/ryandielhenn/zephyrmesh/pkg/message"
)

// Event is anything the event loop drains. Producers only ever enqueue
// events; they never touch node state.
type Event interface {
	kind() string
}

// MessageEvent carries a decoded inbound envelope.
type MessageEvent struct {
	Envelope message.Envelope
}

// TickEvent is posted by the ticker source at a fixed interval.
type TickEvent struct {
	At time.Time
}

// TopologyEvent replaces the neighbor set from an out-of-band source.
type TopologyEvent struct {
	Neighbors []string
}

// EOFEvent is the one-shot end-of-input notice. Err is nil for a clean
// end of stream and non-nil for a framing failure.
type EOFEvent struct {
	Err error
}

func (MessageEvent) kind() string  { return "message" }
func (TickEvent) kind() string     { return "tick" }
func (TopologyEvent) kind() string { return "topology" }
func (EOFEvent) kind() string      { return "eof" }
