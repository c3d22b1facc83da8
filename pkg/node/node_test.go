package node

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/ryandielhenn/zephyrmesh/internal/telemetry"
	"github.com/ryandielhenn/zephyrmesh/pkg/message"
)

type recorder struct {
	sent []message.Envelope
}

func (r *recorder) Send(env message.Envelope) error {
	r.sent = append(r.sent, env)
	return nil
}

type echo struct {
	Text string `json:"echo"`
}

func (echo) Type() string { return "echo" }

// stubStrategy handles echo and counts ticks.
type stubStrategy struct {
	ticks   int
	handled int
}

func (s *stubStrategy) Name() string                { return "stub" }
func (s *stubStrategy) Variants() []message.Variant { return []message.Variant{message.VariantOf[echo]()} }

func (s *stubStrategy) Handle(n *Node, env message.Envelope) (bool, error) {
	switch p := env.Body.Payload.(type) {
	case echo:
		s.handled++
		return true, n.Reply(env, p)
	default:
		return false, nil
	}
}

func (s *stubStrategy) Tick(*Node) error {
	s.ticks++
	return nil
}

func newTestNode(t *testing.T, self string, members ...string) (*Node, *stubStrategy, *recorder) {
	t.Helper()
	s := &stubStrategy{}
	rec := &recorder{}
	n, err := New(message.Init{NodeID: self, NodeIDs: members}, Config{Strategy: s, Sender: rec, Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return n, s, rec
}

func msg(src, dest string, id message.MsgID, p message.Payload) MessageEvent {
	return MessageEvent{Envelope: message.Envelope{Src: src, Dest: dest, Body: message.Body{MsgID: &id, Payload: p}}}
}

func sameList(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestNewDefaultsNeighborsToOtherMembers(t *testing.T) {
	n, _, _ := newTestNode(t, "n2", "n1", "n2", "n3", "n3")
	if got := n.Neighbors(); !sameList(got, []string{"n1", "n3"}) {
		t.Fatalf("Neighbors = %v, want [n1 n3]", got)
	}
	if got := n.Members(); !sameList(got, []string{"n1", "n2", "n3"}) {
		t.Fatalf("Members = %v", got)
	}
}

func TestNewRejectsEmptyID(t *testing.T) {
	_, err := New(message.Init{}, Config{Strategy: &stubStrategy{}, Sender: &recorder{}})
	if !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("err = %v, want ErrProtocolViolation", err)
	}
}

func TestTopologyReplacesNeighbors(t *testing.T) {
	n, _, rec := newTestNode(t, "n1", "n1", "n2", "n3", "n4")

	ev := msg("c1", "n1", 7, message.Topology{Topology: map[string][]string{
		"n1": {"n4"},
		"n2": {"n1", "n3"},
	}})
	if err := n.Handle(ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := n.Neighbors(); !sameList(got, []string{"n4"}) {
		t.Fatalf("Neighbors = %v, want [n4]", got)
	}
	if len(rec.sent) != 1 {
		t.Fatalf("sent %d, want 1 topology_ok", len(rec.sent))
	}
	reply := rec.sent[0]
	if _, ok := reply.Body.Payload.(message.TopologyOk); !ok || reply.Dest != "c1" || reply.Src != "n1" {
		t.Fatalf("reply = %+v", reply)
	}
	if r, _ := reply.Body.ReplyTo(); r != 7 {
		t.Fatalf("in_reply_to = %d, want 7", r)
	}
}

func TestTopologyWithoutSelfStillAcks(t *testing.T) {
	n, _, rec := newTestNode(t, "n1", "n1", "n2", "n3")

	if err := n.Handle(msg("c1", "n1", 1, message.Topology{Topology: map[string][]string{"n2": {"n3"}}})); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := n.Neighbors(); !sameList(got, []string{"n2", "n3"}) {
		t.Fatalf("Neighbors changed to %v", got)
	}
	if len(rec.sent) != 1 {
		t.Fatalf("want exactly one ack, got %d", len(rec.sent))
	}
}

func TestReadReturnsSnapshot(t *testing.T) {
	n, _, rec := newTestNode(t, "n1", "n1")
	n.Values().Add(message.Value("1"))

	if err := n.Handle(msg("c1", "n1", 1, message.Read{})); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	n.Values().Add(message.Value("2"))

	ro, ok := rec.sent[0].Body.Payload.(message.ReadOk)
	if !ok {
		t.Fatalf("reply = %T", rec.sent[0].Body.Payload)
	}
	if len(ro.Messages) != 1 || message.Key(ro.Messages[0]) != "1" {
		t.Fatalf("read_ok = %v, later writes must not leak into it", ro.Messages)
	}
}

func TestReplicaGaugesFollowEvents(t *testing.T) {
	n, _, _ := newTestNode(t, "n1", "n1")
	n.Values().Add(message.Value(`"abc"`))
	n.Values().Add(message.Value("12"))

	if err := n.Handle(TickEvent{}); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := testutil.ToFloat64(telemetry.ReplicaValues); got != 2 {
		t.Fatalf("replica_values = %v, want 2", got)
	}
	if got := testutil.ToFloat64(telemetry.ReplicaBytes); got != 7 {
		t.Fatalf("replica_bytes = %v, want 7", got)
	}
}

func TestMessageIDsAreFreshAndIncreasing(t *testing.T) {
	n, _, rec := newTestNode(t, "n1", "n1", "n2")

	for i := range 3 {
		if err := n.Handle(msg("c1", "n1", message.MsgID(i+1), echo{Text: "hi"})); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	if _, err := n.Send("n2", echo{Text: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	var last message.MsgID
	for i, e := range rec.sent {
		id, ok := e.Body.ID()
		if !ok || id <= last {
			t.Fatalf("envelope %d msg_id = %d, want > %d", i, id, last)
		}
		last = id
	}
	if last != 4 {
		t.Fatalf("last msg_id = %d, want 4", last)
	}
}

func TestSecondInitIsFatal(t *testing.T) {
	n, _, rec := newTestNode(t, "n1", "n1")

	err := n.Handle(msg("c1", "n1", 2, message.Init{NodeID: "n1", NodeIDs: []string{"n1"}}))
	if !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("err = %v, want ErrProtocolViolation", err)
	}
	if len(rec.sent) != 1 {
		t.Fatalf("want an error reply before aborting")
	}
	if e, ok := rec.sent[0].Body.Payload.(message.Error); !ok || e.Code != message.CodeNotSupported {
		t.Fatalf("reply = %+v", rec.sent[0].Body.Payload)
	}
}

func TestAcknowledgmentsAndUnknownAreNoOps(t *testing.T) {
	n, s, rec := newTestNode(t, "n1", "n1", "n2")

	for _, p := range []message.Payload{
		message.InitOk{},
		message.TopologyOk{},
		message.ReadOk{},
		message.Error{Code: 11},
		message.Unknown{Kind: "txn_ok"},
	} {
		if err := n.Handle(msg("n2", "n1", 1, p)); err != nil {
			t.Fatalf("Handle(%s): %v", p.Type(), err)
		}
	}
	if len(rec.sent) != 0 || s.handled != 0 {
		t.Fatalf("no-op payloads produced %d messages, %d strategy calls", len(rec.sent), s.handled)
	}
}

func TestTickAndTopologyEvents(t *testing.T) {
	n, s, _ := newTestNode(t, "n1", "n1", "n2")

	if err := n.Handle(TickEvent{}); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if err := n.Handle(TopologyEvent{Neighbors: []string{"n5", "n6"}}); err != nil {
		t.Fatalf("topology event: %v", err)
	}
	if s.ticks != 1 {
		t.Fatalf("ticks = %d, want 1", s.ticks)
	}
	if got := n.Neighbors(); !sameList(got, []string{"n5", "n6"}) {
		t.Fatalf("Neighbors = %v", got)
	}
	st := n.Status()
	if st.Events != 2 || st.Strategy != "stub" || st.NodeID != "n1" {
		t.Fatalf("Status = %+v", st)
	}
}
