// Package replica holds the set of values a node has learned.
package replica

import (
	"bytes"

	"github.com/ryandielhenn/zephyrmesh/pkg/message"
)

// Set is an append-only, duplicate-free set of opaque values. Values keep
// their first-seen order so snapshots are stable. Set is not safe for
// concurrent use; it belongs to the node's event loop.
type Set struct {
	index  map[string]int
	values []message.Value
	bytes  int
}

func NewSet() *Set {
	return &Set{index: make(map[string]int)}
}

// Add inserts v and reports whether it was new. Empty values are never
// stored.
func (s *Set) Add(v message.Value) bool {
	if message.Empty(v) {
		return false
	}
	k := message.Key(v)
	if _, ok := s.index[k]; ok {
		return false
	}
	s.index[k] = len(s.values)
	s.values = append(s.values, bytes.Clone(v))
	s.bytes += len(v)
	return true
}

// Merge adds every value in vs and returns how many were new.
func (s *Set) Merge(vs []message.Value) int {
	added := 0
	for _, v := range vs {
		if s.Add(v) {
			added++
		}
	}
	return added
}

func (s *Set) Contains(v message.Value) bool {
	_, ok := s.index[message.Key(v)]
	return ok
}

// Snapshot returns a copy of all values; callers may keep it.
func (s *Set) Snapshot() []message.Value {
	out := make([]message.Value, len(s.values))
	for i, v := range s.values {
		out[i] = bytes.Clone(v)
	}
	return out
}

// Missing returns the values held here that are absent from others.
func (s *Set) Missing(others []message.Value) []message.Value {
	theirs := make(map[string]struct{}, len(others))
	for _, v := range others {
		theirs[message.Key(v)] = struct{}{}
	}
	out := make([]message.Value, 0)
	for _, v := range s.values {
		if _, ok := theirs[message.Key(v)]; !ok {
			out = append(out, bytes.Clone(v))
		}
	}
	return out
}

func (s *Set) Len() int {
	return len(s.values)
}

// Bytes is the total encoded size of the stored values.
func (s *Set) Bytes() int {
	return s.bytes
}
