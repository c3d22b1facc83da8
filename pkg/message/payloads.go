package message

// Payload variants shared by every node protocol.

// Init is the handshake that assigns the node its identity.
type Init struct {
	NodeID  string   `json:"node_id"`
	NodeIDs []string `json:"node_ids"`
}

type InitOk struct{}

// Topology maps node ids to their neighbor lists.
type Topology struct {
	Topology map[string][]string `json:"topology"`
}

type TopologyOk struct{}

type Read struct{}

// ReadOk carries a snapshot of the replica set.
type ReadOk struct {
	Messages []Value `json:"messages"`
}

// Error reports a failed request back to its sender.
type Error struct {
	Code int    `json:"code"`
	Text string `json:"text,omitempty"`
}

func (Init) Type() string       { return "init" }
func (InitOk) Type() string     { return "init_ok" }
func (Topology) Type() string   { return "topology" }
func (TopologyOk) Type() string { return "topology_ok" }
func (Read) Type() string       { return "read" }
func (ReadOk) Type() string     { return "read_ok" }
func (Error) Type() string      { return "error" }

// CodeNotSupported is the error code for a request the node will not serve.
const CodeNotSupported = 10

// Common lists the shared variants for inclusion in a Registry.
func Common() []Variant {
	return []Variant{
		VariantOf[Init](),
		VariantOf[InitOk](),
		VariantOf[Topology](),
		VariantOf[TopologyOk](),
		VariantOf[Read](),
		VariantOf[ReadOk](),
		VariantOf[Error](),
	}
}
