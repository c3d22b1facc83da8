// Package ring places cluster members on a consistent-hash ring and derives
// small neighbor sets from it, so fan-out stays bounded as the cluster grows.
package ring

import (
	"encoding/binary"
	"hash/fnv"
	"slices"
	"sort"
	"sync"
)

type Hasher func([]byte) uint32

type HashRing struct {
	mu       sync.RWMutex
	replicas int
	hash     Hasher
	points   []uint32          // sorted
	owners   map[uint32]string // point -> nodeID
	nodes    map[string]struct{}
}

func New(replicas int, h Hasher) *HashRing {
	if replicas <= 0 {
		replicas = 1
	}
	if h == nil {
		h = FNV32a
	}
	return &HashRing{
		replicas: replicas,
		hash:     h,
		owners:   make(map[uint32]string),
		nodes:    make(map[string]struct{}),
	}
}

func (r *HashRing) Add(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[nodeID]; ok {
		return
	}
	r.nodes[nodeID] = struct{}{}
	for i := 0; i < r.replicas; i++ {
		pt := r.hash(pointKey(nodeID, i))
		r.owners[pt] = nodeID
		r.points = append(r.points, pt)
	}
	slices.Sort(r.points)
}

// Nodes returns the member ids in sorted order.
func (r *HashRing) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.nodes))
	for id := range r.nodes {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Neighbors returns up to k distinct members clockwise of nodeID's first
// point, followed by up to k distinct members counter-clockwise of it.
// With one point per member every node links to the next and previous
// node on the ring, so the resulting graph is connected.
func (r *HashRing) Neighbors(nodeID string, k int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.nodes[nodeID]; !ok || k <= 0 || len(r.points) == 0 {
		return nil
	}
	h := r.hash(pointKey(nodeID, 0))
	idx := sort.Search(len(r.points), func(i int) bool { return r.points[i] >= h })

	seen := map[string]struct{}{nodeID: {}}
	out := make([]string, 0, 2*k)
	collect := func(step int) {
		found := 0
		for i := 1; i < len(r.points) && found < k; i++ {
			p := r.points[((idx+step*i)%len(r.points)+len(r.points))%len(r.points)]
			id := r.owners[p]
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
			found++
		}
	}
	collect(+1)
	collect(-1)
	return out
}

// Layout returns a neighbor layout placing members on a one-point ring and
// linking each to its fanout successors and predecessors. A non-positive
// fanout links every member to every other.
func Layout(fanout int) func(self string, members []string) []string {
	return func(self string, members []string) []string {
		if fanout <= 0 {
			out := make([]string, 0, len(members))
			for _, m := range members {
				if m != self {
					out = append(out, m)
				}
			}
			return out
		}
		r := New(1, FNV32a)
		for _, m := range members {
			r.Add(m)
		}
		r.Add(self)
		return r.Neighbors(self, fanout)
	}
}

// FNV32a is the default ring hash.
func FNV32a(b []byte) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(b)
	return h.Sum32()
}

func pointKey(nodeID string, i int) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(i))
	return append([]byte(nodeID), buf[:]...)
}
