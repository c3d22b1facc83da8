package gossip

import "github.com/ryandielhenn/zephyrmesh/pkg/message"

// Wire payloads for the gossip protocol.

// Broadcast carries one value. Relay is set on the copy a node forwards to
// its neighbors, so receivers do not forward it again.
type Broadcast struct {
	Message message.Value `json:"message"`
	Relay   bool          `json:"relay,omitempty"`
}

type BroadcastOk struct{}

// Gossip pushes the sender's full value set.
type Gossip struct {
	Messages []message.Value `json:"messages"`
}

// GossipOk answers a Gossip with the values its sender was missing.
type GossipOk struct {
	Messages []message.Value `json:"messages"`
}

func (Broadcast) Type() string   { return "broadcast" }
func (BroadcastOk) Type() string { return "broadcast_ok" }
func (Gossip) Type() string      { return "gossip" }
func (GossipOk) Type() string    { return "gossip_ok" }
