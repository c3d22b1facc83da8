package node

import (
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmesh/internal/telemetry"
	"github.com/ryandielhenn/zephyrmesh/pkg/message"
	"github.com/ryandielhenn/zephyrmesh/pkg/replica"
)

var (
	// ErrProtocolViolation marks a fatal out-of-protocol message.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrNotInitialized is returned when the first message is not init.
	ErrNotInitialized = errors.New("node not initialized")
)

// Sender writes one envelope to the outbound transport.
type Sender interface {
	Send(env message.Envelope) error
}

// Strategy is a replication protocol layered on the node.
type Strategy interface {
	Name() string
	// Variants lists the payload types the strategy adds to the protocol.
	Variants() []message.Variant
	// Handle reacts to one strategy payload. It reports false for
	// payloads it does not own.
	Handle(n *Node, env message.Envelope) (bool, error)
	// Tick runs one timer-driven round.
	Tick(n *Node) error
}

// Outstander is implemented by strategies that track unacknowledged sends.
type Outstander interface {
	Outstanding() int
}

// Layout picks the initial neighbor set from the init member list.
type Layout func(self string, members []string) []string

// AllOthers is the default layout: every member except self.
func AllOthers(self string, members []string) []string {
	return withoutSelf(self, members)
}

// Config wires a Node to its collaborators.
type Config struct {
	Strategy Strategy
	Sender   Sender
	Logger   *zap.Logger
	Layout   Layout
}

// Node owns all protocol state for one cluster member. Handle must only
// be called from a single goroutine.
type Node struct {
	id        string
	members   []string
	neighbors []string
	lastID    message.MsgID
	values    *replica.Set
	events    uint64

	strategy Strategy
	out      Sender
	log      *zap.Logger
}

// New builds a node from the init handshake.
func New(init message.Init, cfg Config) (*Node, error) {
	if init.NodeID == "" {
		return nil, fmt.Errorf("%w: init without node_id", ErrProtocolViolation)
	}
	if cfg.Strategy == nil || cfg.Sender == nil {
		return nil, errors.New("node: strategy and sender are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Layout == nil {
		cfg.Layout = AllOthers
	}
	members := dedupe(init.NodeIDs)
	return &Node{
		id:        init.NodeID,
		members:   members,
		neighbors: dedupe(cfg.Layout(init.NodeID, members)),
		values:    replica.NewSet(),
		strategy:  cfg.Strategy,
		out:       cfg.Sender,
		log:       cfg.Logger.With(zap.String("node", init.NodeID)),
	}, nil
}

func (n *Node) ID() string { return n.id }

// Members is the full cluster membership from init.
func (n *Node) Members() []string { return slices.Clone(n.members) }

// Neighbors returns a copy of the current neighbor set.
func (n *Node) Neighbors() []string { return slices.Clone(n.neighbors) }

// Values is the node's replica set.
func (n *Node) Values() *replica.Set { return n.values }

func (n *Node) Logger() *zap.Logger { return n.log }

// Handle processes one event to completion.
func (n *Node) Handle(ev Event) error {
	n.events++
	defer n.publishGauges()

	switch ev := ev.(type) {
	case MessageEvent:
		return n.handleMessage(ev.Envelope)
	case TickEvent:
		return n.strategy.Tick(n)
	case TopologyEvent:
		n.setNeighbors(ev.Neighbors)
		return nil
	case EOFEvent:
		return nil
	default:
		return fmt.Errorf("node: unknown event %T", ev)
	}
}

func (n *Node) handleMessage(env message.Envelope) error {
	telemetry.ObserveEnvelope("in", env.Body.Payload.Type())

	switch p := env.Body.Payload.(type) {
	case message.Init:
		_ = n.Reply(env, message.Error{Code: message.CodeNotSupported, Text: "already initialized"})
		return fmt.Errorf("%w: second init from %s", ErrProtocolViolation, env.Src)
	case message.Topology:
		if nbs, ok := p.Topology[n.id]; ok {
			n.setNeighbors(nbs)
		}
		return n.Reply(env, message.TopologyOk{})
	case message.Read:
		return n.Reply(env, message.ReadOk{Messages: n.values.Snapshot()})
	case message.InitOk, message.TopologyOk, message.ReadOk:
		return nil
	case message.Error:
		n.log.Debug("peer reported error", zap.String("from", env.Src), zap.Int("code", p.Code), zap.String("text", p.Text))
		return nil
	case message.Unknown:
		n.log.Debug("ignoring unknown payload", zap.String("from", env.Src), zap.String("type", p.Kind))
		return nil
	}

	handled, err := n.strategy.Handle(n, env)
	if err != nil {
		return err
	}
	if !handled {
		n.log.Warn("payload not handled", zap.String("from", env.Src), zap.String("type", env.Body.Payload.Type()))
	}
	return nil
}

func (n *Node) setNeighbors(nbs []string) {
	n.neighbors = dedupe(nbs)
	n.log.Info("neighbors replaced", zap.Strings("neighbors", n.neighbors))
}

func (n *Node) nextID() message.MsgID {
	n.lastID++
	return n.lastID
}

// Send stamps a fresh msg_id on payload and sends it to dest.
func (n *Node) Send(dest string, payload message.Payload) (message.MsgID, error) {
	id := n.nextID()
	err := n.emit(message.Envelope{
		Src:  n.id,
		Dest: dest,
		Body: message.Body{MsgID: &id, Payload: payload},
	})
	return id, err
}

// Reply answers req with payload, linking it through in_reply_to.
func (n *Node) Reply(req message.Envelope, payload message.Payload) error {
	id := n.nextID()
	return n.emit(message.Envelope{
		Src:  n.id,
		Dest: req.Src,
		Body: message.Body{MsgID: &id, InReplyTo: req.Body.MsgID, Payload: payload},
	})
}

// ackInit answers the handshake with the reserved msg_id 0.
func (n *Node) ackInit(req message.Envelope) error {
	var zero message.MsgID
	return n.emit(message.Envelope{
		Src:  n.id,
		Dest: req.Src,
		Body: message.Body{MsgID: &zero, InReplyTo: req.Body.MsgID, Payload: message.InitOk{}},
	})
}

func (n *Node) emit(env message.Envelope) error {
	if err := n.out.Send(env); err != nil {
		return err
	}
	telemetry.ObserveEnvelope("out", env.Body.Payload.Type())
	return nil
}

func (n *Node) publishGauges() {
	telemetry.ReplicaValues.Set(float64(n.values.Len()))
	telemetry.ReplicaBytes.Set(float64(n.values.Bytes()))
	if o, ok := n.strategy.(Outstander); ok {
		telemetry.OutstandingDeliveries.Set(float64(o.Outstanding()))
	}
}

// Status returns a point-in-time copy of the node's externally visible state.
func (n *Node) Status() Status {
	st := Status{
		NodeID:    n.id,
		Strategy:  n.strategy.Name(),
		Neighbors: n.Neighbors(),
		Values:    n.values.Len(),
		Events:    n.events,
		LastMsgID: n.lastID,
	}
	if o, ok := n.strategy.(Outstander); ok {
		st.Outstanding = o.Outstanding()
	}
	return st
}
