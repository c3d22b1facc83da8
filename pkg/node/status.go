package node

import "sync/atomic"

// Status is a copy of node state safe to read from other goroutines.
type Status struct {
	NodeID      string   `json:"node_id"`
	Strategy    string   `json:"strategy"`
	Neighbors   []string `json:"neighbors"`
	Values      int      `json:"values"`
	Outstanding int      `json:"outstanding"`
	Events      uint64   `json:"events"`
	LastMsgID   uint64   `json:"last_msg_id"`
}

// StatusBoard holds the most recently published Status.
type StatusBoard struct {
	v atomic.Pointer[Status]
}

func (b *StatusBoard) Publish(s Status) {
	b.v.Store(&s)
}

// Load returns the last Status, or false before the handshake completes.
func (b *StatusBoard) Load() (Status, bool) {
	p := b.v.Load()
	if p == nil {
		return Status{}, false
	}
	return *p, true
}
