// Package broadcast implements reliable broadcast with direct fan-out and
// acknowledgment-driven retry.
//
// Every value entering the cluster is tagged once with a correlation id.
// A node applies a correlation id the first time it sees it, forwards the
// value to each neighbor that has not already relayed it, and keeps a
// pending delivery per neighbor until that neighbor acknowledges any of the
// message ids sent to it for that value. Each tick re-sends every pending
// delivery under a fresh message id. There is no retry limit.
package broadcast

import (
	"cmp"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmesh/internal/telemetry"
	"github.com/ryandielhenn/zephyrmesh/pkg/message"
	"github.com/ryandielhenn/zephyrmesh/pkg/node"
)

// Broadcast carries one value. Clients omit Correlation and Visited.
type Broadcast struct {
	Message     message.Value `json:"message"`
	Correlation string        `json:"correlation,omitempty"`
	Visited     []string      `json:"visited,omitempty"`
}

type BroadcastOk struct{}

func (Broadcast) Type() string   { return "broadcast" }
func (BroadcastOk) Type() string { return "broadcast_ok" }

// delivery identifies one value owed to one neighbor.
type delivery struct {
	neighbor    string
	correlation string
}

type pending struct {
	value   message.Value
	visited []string
	// sent holds every msg id used for this delivery, oldest first.
	sent []message.MsgID
}

// attempt is what an acknowledgment is matched against.
type attempt struct {
	neighbor string
	msgID    message.MsgID
}

// Strategy is the reliable-broadcast node.Strategy.
type Strategy struct {
	seen        map[string]struct{}
	outstanding map[delivery]*pending
	attempts    map[attempt]delivery
	newID       func() string
}

// Option configures a Strategy.
type Option func(*Strategy)

// WithCorrelationIDs overrides the correlation id generator.
func WithCorrelationIDs(gen func() string) Option {
	return func(s *Strategy) { s.newID = gen }
}

func New(opts ...Option) *Strategy {
	s := &Strategy{
		seen:        make(map[string]struct{}),
		outstanding: make(map[delivery]*pending),
		attempts:    make(map[attempt]delivery),
		newID:       uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Strategy) Name() string { return "broadcast" }

func (s *Strategy) Variants() []message.Variant {
	return []message.Variant{
		message.VariantOf[Broadcast](),
		message.VariantOf[BroadcastOk](),
	}
}

// Outstanding is the number of unacknowledged deliveries.
func (s *Strategy) Outstanding() int { return len(s.outstanding) }

// Seen is the number of correlation ids applied so far.
func (s *Strategy) Seen() int { return len(s.seen) }

func (s *Strategy) Handle(n *node.Node, env message.Envelope) (bool, error) {
	switch p := env.Body.Payload.(type) {
	case Broadcast:
		return true, s.onBroadcast(n, env, p)
	case BroadcastOk:
		s.onAck(n, env)
		return true, nil
	default:
		return false, nil
	}
}

func (s *Strategy) onBroadcast(n *node.Node, env message.Envelope, p Broadcast) error {
	if message.Empty(p.Message) {
		n.Logger().Debug("ignoring broadcast without a value", zap.String("from", env.Src))
		return n.Reply(env, BroadcastOk{})
	}
	corr := p.Correlation
	if corr == "" {
		// A client resending a value already in flight adds nothing.
		if n.Values().Contains(p.Message) {
			return n.Reply(env, BroadcastOk{})
		}
		corr = s.newID()
	}

	if _, dup := s.seen[corr]; !dup {
		s.seen[corr] = struct{}{}
		n.Values().Add(p.Message)

		visited := appendMissing(slices.Clone(p.Visited), n.ID())
		for _, nb := range n.Neighbors() {
			if nb == n.ID() || nb == env.Src || slices.Contains(visited, nb) {
				continue
			}
			d := delivery{neighbor: nb, correlation: corr}
			if err := s.send(n, d, &pending{value: p.Message, visited: visited}); err != nil {
				return err
			}
		}
		n.Logger().Debug("applied broadcast",
			zap.String("from", env.Src),
			zap.String("correlation", corr),
			zap.Int("outstanding", len(s.outstanding)),
		)
	}

	// Always acknowledge: the sender cannot tell a duplicate from a loss.
	return n.Reply(env, BroadcastOk{})
}

func (s *Strategy) onAck(n *node.Node, env message.Envelope) {
	replyTo, ok := env.Body.ReplyTo()
	if !ok {
		return
	}
	a := attempt{neighbor: env.Src, msgID: replyTo}
	d, ok := s.attempts[a]
	if !ok {
		return
	}
	// Any attempt settles the delivery, including one already retried.
	if p, ok := s.outstanding[d]; ok {
		for _, id := range p.sent {
			delete(s.attempts, attempt{neighbor: d.neighbor, msgID: id})
		}
	}
	delete(s.outstanding, d)
	n.Logger().Debug("delivery acknowledged", zap.String("neighbor", d.neighbor), zap.String("correlation", d.correlation))
}

// Tick re-sends every outstanding delivery under a fresh message id.
func (s *Strategy) Tick(n *node.Node) error {
	if len(s.outstanding) == 0 {
		return nil
	}
	keys := make([]delivery, 0, len(s.outstanding))
	for d := range s.outstanding {
		keys = append(keys, d)
	}
	slices.SortFunc(keys, func(a, b delivery) int {
		return cmp.Or(cmp.Compare(a.neighbor, b.neighbor), cmp.Compare(a.correlation, b.correlation))
	})
	for _, d := range keys {
		if err := s.send(n, d, s.outstanding[d]); err != nil {
			return err
		}
		telemetry.RetriesTotal.Inc()
	}
	n.Logger().Debug("retried deliveries", zap.Int("count", len(keys)))
	return nil
}

// send emits p to d.neighbor and records the attempt alongside earlier
// attempts for the same delivery.
func (s *Strategy) send(n *node.Node, d delivery, p *pending) error {
	id, err := n.Send(d.neighbor, Broadcast{
		Message:     p.value,
		Correlation: d.correlation,
		Visited:     p.visited,
	})
	if err != nil {
		return err
	}
	p.sent = append(p.sent, id)
	s.outstanding[d] = p
	s.attempts[attempt{neighbor: d.neighbor, msgID: id}] = d
	return nil
}

func appendMissing(ids []string, id string) []string {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}
