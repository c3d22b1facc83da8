// Package sim runs a cluster of nodes in one process over a lossy,
// reordering, duplicating in-memory network. Every envelope goes through
// the wire codec, so nodes see exactly what they would read from stdin.
// Runs are deterministic for a given seed.
package sim

import (
	"errors"
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmesh/pkg/message"
	"github.com/ryandielhenn/zephyrmesh/pkg/node"
)

// ClientID is the source of every client request injected by the network.
const ClientID = "c1"

var (
	ErrNotSettled = errors.New("sim: cluster did not settle")
	ErrRunaway    = errors.New("sim: message storm")
)

// maxDrainSteps bounds a single Drain.
const maxDrainSteps = 1 << 20

type Config struct {
	Nodes    int
	Strategy func() node.Strategy
	Layout   node.Layout
	// DropRate and DupRate apply to node-to-node envelopes only; client
	// requests and replies are never lost.
	DropRate float64
	DupRate  float64
	// StepsPerTick, when positive, makes Settle deliver at most that many
	// envelopes between ticks instead of draining, so retries and replies
	// from earlier rounds cross each other in flight.
	StepsPerTick int
	Seed         int64
	Logger       *zap.Logger
}

type Stats struct {
	Delivered  int
	Dropped    int
	Duplicated int
	Ticks      int
}

type wire struct {
	src, dest string
	data      []byte
}

// Network owns the nodes and everything in flight between them. It is not
// safe for concurrent use.
type Network struct {
	cfg        Config
	rng        *rand.Rand
	reg        *message.Registry
	ids        []string
	nodes      map[string]*node.Node
	strategies map[string]node.Strategy
	inflight   []wire
	replies    []message.Envelope
	clientID   message.MsgID
	stats      Stats
	log        *zap.Logger
}

// sender is one node's outbound link.
type sender struct {
	net *Network
}

func (s sender) Send(env message.Envelope) error {
	data, err := message.Encode(env)
	if err != nil {
		return err
	}
	s.net.inflight = append(s.net.inflight, wire{src: env.Src, dest: env.Dest, data: data})
	return nil
}

func New(cfg Config) (*Network, error) {
	if cfg.Nodes <= 0 {
		return nil, fmt.Errorf("sim: need at least one node, got %d", cfg.Nodes)
	}
	if cfg.Strategy == nil {
		return nil, errors.New("sim: strategy factory is required")
	}
	if cfg.DropRate < 0 || cfg.DropRate >= 1 || cfg.DupRate < 0 || cfg.DupRate >= 1 {
		return nil, fmt.Errorf("sim: rates must be in [0,1), got drop=%v dup=%v", cfg.DropRate, cfg.DupRate)
	}
	if cfg.StepsPerTick < 0 {
		return nil, fmt.Errorf("sim: steps per tick must not be negative, got %d", cfg.StepsPerTick)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	nw := &Network{
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		nodes:      make(map[string]*node.Node, cfg.Nodes),
		strategies: make(map[string]node.Strategy, cfg.Nodes),
		log:        cfg.Logger,
	}
	for i := range cfg.Nodes {
		nw.ids = append(nw.ids, fmt.Sprintf("n%d", i))
	}
	for _, id := range nw.ids {
		s := cfg.Strategy()
		if nw.reg == nil {
			nw.reg = message.NewRegistry(message.Common(), s.Variants())
		}
		n, err := node.New(message.Init{NodeID: id, NodeIDs: nw.ids}, node.Config{
			Strategy: s,
			Sender:   sender{net: nw},
			Logger:   cfg.Logger,
			Layout:   cfg.Layout,
		})
		if err != nil {
			return nil, err
		}
		nw.nodes[id] = n
		nw.strategies[id] = s
	}
	return nw, nil
}

// IDs returns the node ids in creation order.
func (nw *Network) IDs() []string { return append([]string(nil), nw.ids...) }

func (nw *Network) Node(id string) *node.Node { return nw.nodes[id] }

func (nw *Network) Strategy(id string) node.Strategy { return nw.strategies[id] }

func (nw *Network) Stats() Stats { return nw.stats }

// InFlight is the number of envelopes not yet delivered.
func (nw *Network) InFlight() int { return len(nw.inflight) }

// Replies returns and clears the envelopes nodes sent to the client.
func (nw *Network) Replies() []message.Envelope {
	out := nw.replies
	nw.replies = nil
	return out
}

// Request queues a client request for dest.
func (nw *Network) Request(dest string, p message.Payload) error {
	if _, ok := nw.nodes[dest]; !ok {
		return fmt.Errorf("sim: unknown node %q", dest)
	}
	nw.clientID++
	id := nw.clientID
	return sender{net: nw}.Send(message.Envelope{
		Src:  ClientID,
		Dest: dest,
		Body: message.Body{MsgID: &id, Payload: p},
	})
}

// SetTopology sends every node a topology request carrying topo.
func (nw *Network) SetTopology(topo map[string][]string) error {
	for _, id := range nw.ids {
		if err := nw.Request(id, message.Topology{Topology: topo}); err != nil {
			return err
		}
	}
	return nil
}

// Step delivers one envelope chosen uniformly from those in flight. It
// reports false when nothing is in flight.
func (nw *Network) Step() (bool, error) {
	if len(nw.inflight) == 0 {
		return false, nil
	}
	i := nw.rng.Intn(len(nw.inflight))
	w := nw.inflight[i]
	last := len(nw.inflight) - 1
	nw.inflight[i] = nw.inflight[last]
	nw.inflight = nw.inflight[:last]

	peer := w.src != ClientID && w.dest != ClientID
	if peer && nw.rng.Float64() < nw.cfg.DropRate {
		nw.stats.Dropped++
		return true, nil
	}
	if peer && nw.rng.Float64() < nw.cfg.DupRate {
		nw.stats.Duplicated++
		nw.inflight = append(nw.inflight, w)
	}

	env, err := message.Decode(w.data, nw.reg)
	if err != nil {
		return true, fmt.Errorf("sim: %s -> %s: %w", w.src, w.dest, err)
	}
	nw.stats.Delivered++

	if w.dest == ClientID {
		nw.replies = append(nw.replies, env)
		return true, nil
	}
	n, ok := nw.nodes[w.dest]
	if !ok {
		nw.log.Debug("dropping envelope for unknown node", zap.String("dest", w.dest))
		return true, nil
	}
	return true, n.Handle(node.MessageEvent{Envelope: env})
}

// Drain delivers until nothing is in flight.
func (nw *Network) Drain() error {
	for steps := 0; ; steps++ {
		if steps >= maxDrainSteps {
			return ErrRunaway
		}
		more, err := nw.Step()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// Tick runs one round on every node and returns how many envelopes the
// round queued.
func (nw *Network) Tick() (int, error) {
	before := len(nw.inflight)
	for _, id := range nw.ids {
		if err := nw.nodes[id].Handle(node.TickEvent{}); err != nil {
			return 0, err
		}
	}
	nw.stats.Ticks++
	return len(nw.inflight) - before, nil
}

// Settle alternates delivery and Tick until the cluster has converged,
// nothing is in flight, and a tick sends nothing. It returns the number of
// ticks taken.
func (nw *Network) Settle(maxTicks int) (int, error) {
	for t := 1; t <= maxTicks; t++ {
		if err := nw.deliver(); err != nil {
			return t, err
		}
		sent, err := nw.Tick()
		if err != nil {
			return t, err
		}
		if sent == 0 && len(nw.inflight) == 0 && nw.Converged() {
			return t, nil
		}
	}
	return maxTicks, ErrNotSettled
}

// deliver runs the delivery phase of one Settle round.
func (nw *Network) deliver() error {
	if nw.cfg.StepsPerTick == 0 {
		return nw.Drain()
	}
	budget := 1 + nw.rng.Intn(nw.cfg.StepsPerTick)
	for range budget {
		more, err := nw.Step()
		if err != nil || !more {
			return err
		}
	}
	return nil
}

// Union is every value held by any node.
func (nw *Network) Union() map[string]struct{} {
	all := make(map[string]struct{})
	for _, id := range nw.ids {
		for _, v := range nw.nodes[id].Values().Snapshot() {
			all[message.Key(v)] = struct{}{}
		}
	}
	return all
}

// Converged reports whether every node holds every value any node holds.
func (nw *Network) Converged() bool {
	total := len(nw.Union())
	for _, id := range nw.ids {
		if nw.nodes[id].Values().Len() != total {
			return false
		}
	}
	return true
}
