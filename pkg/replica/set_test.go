package replica

import (
	"sort"
	"testing"

	"github.com/ryandielhenn/zephyrmesh/pkg/message"
)

func vals(raw ...string) []message.Value {
	out := make([]message.Value, len(raw))
	for i, r := range raw {
		out[i] = message.Value(r)
	}
	return out
}

func keys(vs []message.Value) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = message.Key(v)
	}
	sort.Strings(out)
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestAddIsIdempotent(t *testing.T) {
	s := NewSet()
	if !s.Add(message.Value("5")) {
		t.Fatalf("first Add(5) = false, want true")
	}
	if s.Add(message.Value(" 5 ")) {
		t.Fatalf("second Add(5) = true, want false")
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	if s.Bytes() != 1 {
		t.Fatalf("Bytes = %d, want 1", s.Bytes())
	}
}

func TestMergeCountsNewValues(t *testing.T) {
	s := NewSet()
	s.Merge(vals("1", "2"))
	if got := s.Merge(vals("2", "3", "3")); got != 1 {
		t.Fatalf("Merge added %d, want 1", got)
	}
	if got := keys(s.Snapshot()); !equal(got, []string{"1", "2", "3"}) {
		t.Fatalf("Snapshot = %v", got)
	}
}

func TestMissing(t *testing.T) {
	s := NewSet()
	s.Merge(vals("2", "3"))
	if got := keys(s.Missing(vals("1", "2"))); !equal(got, []string{"3"}) {
		t.Fatalf("Missing = %v, want [3]", got)
	}
	if got := s.Missing(vals("2", "3")); len(got) != 0 {
		t.Fatalf("Missing of equal sets = %v, want empty", got)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewSet()
	s.Add(message.Value("7"))
	snap := s.Snapshot()
	snap[0][0] = '9'
	s.Add(message.Value("8"))

	if len(snap) != 1 {
		t.Fatalf("snapshot grew with the set: %d", len(snap))
	}
	if !s.Contains(message.Value("7")) || s.Contains(message.Value("9")) {
		t.Fatalf("mutating a snapshot changed the set")
	}
}

func TestEmptyValuesAreNotStored(t *testing.T) {
	s := NewSet()
	for _, v := range []message.Value{nil, message.Value(""), message.Value("null"), message.Value(" null ")} {
		if s.Add(v) {
			t.Fatalf("Add(%q) = true, want false", v)
		}
	}
	if got := s.Merge(vals("null", "4")); got != 1 {
		t.Fatalf("Merge added %d, want 1", got)
	}
	if s.Len() != 1 || s.Contains(message.Value("null")) {
		t.Fatalf("set holds %v", s.Snapshot())
	}
}
