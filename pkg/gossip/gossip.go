package gossip

import (
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmesh/internal/telemetry"
	"github.com/ryandielhenn/zephyrmesh/pkg/message"
	"github.com/ryandielhenn/zephyrmesh/pkg/node"
)

// Strategy is the anti-entropy node.Strategy. Its only state besides the
// node's replica set is the dirty flag and the last update source.
type Strategy struct {
	dirty      bool
	lastSource string
}

func New() *Strategy {
	return &Strategy{}
}

func (s *Strategy) Name() string { return "gossip" }

func (s *Strategy) Variants() []message.Variant {
	return []message.Variant{
		message.VariantOf[Broadcast](),
		message.VariantOf[BroadcastOk](),
		message.VariantOf[Gossip](),
		message.VariantOf[GossipOk](),
	}
}

// Dirty reports whether the next tick will run a gossip round.
func (s *Strategy) Dirty() bool { return s.dirty }

func (s *Strategy) Handle(n *node.Node, env message.Envelope) (bool, error) {
	switch p := env.Body.Payload.(type) {
	case Broadcast:
		return true, s.onBroadcast(n, env, p)
	case Gossip:
		return true, s.onGossip(n, env, p)
	case GossipOk:
		s.merge(n, env.Src, p.Messages)
		return true, nil
	case BroadcastOk:
		return true, nil
	default:
		return false, nil
	}
}

func (s *Strategy) onBroadcast(n *node.Node, env message.Envelope, p Broadcast) error {
	if message.Empty(p.Message) {
		n.Logger().Debug("ignoring broadcast without a value", zap.String("from", env.Src))
		if p.Relay {
			return nil
		}
		return n.Reply(env, BroadcastOk{})
	}
	fresh := n.Values().Add(p.Message)
	if fresh {
		s.markDirty(env.Src)
	}
	if p.Relay {
		return nil
	}

	if fresh {
		for _, nb := range n.Neighbors() {
			if nb == n.ID() || nb == env.Src {
				continue
			}
			if _, err := n.Send(nb, Broadcast{Message: p.Message, Relay: true}); err != nil {
				return err
			}
		}
	}
	return n.Reply(env, BroadcastOk{})
}

// onGossip answers with the sender's missing values, then merges theirs.
func (s *Strategy) onGossip(n *node.Node, env message.Envelope, p Gossip) error {
	missing := n.Values().Missing(p.Messages)
	if err := n.Reply(env, GossipOk{Messages: missing}); err != nil {
		return err
	}
	s.merge(n, env.Src, p.Messages)
	return nil
}

func (s *Strategy) merge(n *node.Node, src string, vs []message.Value) {
	if added := n.Values().Merge(vs); added > 0 {
		s.markDirty(src)
		n.Logger().Debug("merged values", zap.String("from", src), zap.Int("added", added))
	}
}

func (s *Strategy) markDirty(src string) {
	s.dirty = true
	s.lastSource = src
}

// Tick pushes the full set to every neighbor except the last update
// source, but only when something changed since the previous round.
func (s *Strategy) Tick(n *node.Node) error {
	if !s.dirty {
		telemetry.GossipRoundsTotal.WithLabelValues("skipped").Inc()
		return nil
	}
	last := s.lastSource
	s.dirty, s.lastSource = false, ""

	values := n.Values().Snapshot()
	sent := 0
	for _, nb := range n.Neighbors() {
		if nb == n.ID() || nb == last {
			continue
		}
		if _, err := n.Send(nb, Gossip{Messages: values}); err != nil {
			return err
		}
		sent++
	}
	telemetry.GossipRoundsTotal.WithLabelValues("sent").Inc()
	n.Logger().Debug("gossip round", zap.Int("values", len(values)), zap.Int("peers", sent), zap.String("skipped", last))
	return nil
}
