package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabhub/presence-relay/internal/metrics"
	"github.com/collabhub/presence-relay/internal/registry"
	"github.com/collabhub/presence-relay/internal/rooms"
)

type recConn struct {
	id string

	mu     sync.Mutex
	events []string
	data   []string
}

func (c *recConn) ID() string { return c.id }

func (c *recConn) Send(event string, data json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	c.data = append(c.data, string(data))
}

func (c *recConn) received() ([]string, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...), append([]string(nil), c.data...)
}

func newTestRelay() (*Relay, *registry.Registry, *rooms.Rooms, *metrics.Metrics) {
	reg := registry.New()
	rms := rooms.New()
	m := metrics.New()
	return New(reg, rms, slog.Default(), m), reg, rms, m
}

func TestRoute_TargetedOffer(t *testing.T) {
	r, reg, _, _ := newTestRelay()
	ha := &recConn{id: "ha"}
	hb := &recConn{id: "hb"}
	hc := &recConn{id: "hc"}
	reg.Register("alice", ha)
	reg.Register("bob", hb)
	reg.Register("carol", hc)

	r.Route(Envelope{
		From:         ha,
		RoomID:       "r1",
		TargetUserID: "bob",
		Kind:         KindOffer,
		Payload:      json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	})

	events, data := hb.received()
	require.Equal(t, []string{"offer"}, events)
	assert.JSONEq(t, `{"from":"ha","roomId":"r1","offer":{"type":"offer","sdp":"v=0"}}`, data[0])

	for _, other := range []*recConn{ha, hc} {
		events, _ := other.received()
		assert.Empty(t, events, "offer must be delivered to the target only")
	}
}

func TestRoute_UnknownTargetDrops(t *testing.T) {
	r, reg, _, m := newTestRelay()
	ha := &recConn{id: "ha"}
	reg.Register("alice", ha)

	r.Route(Envelope{
		From:         ha,
		TargetUserID: "never-setup",
		Kind:         KindOffer,
		Payload:      json.RawMessage(`{}`),
	})

	events, _ := ha.received()
	assert.Empty(t, events)
	assert.Equal(t, uint64(1), m.Get(metrics.RelayTargetMiss))
	assert.Zero(t, m.Get(metrics.RelayDelivered))
}

func TestRoute_RoomBroadcastExcludesSender(t *testing.T) {
	r, _, rms, _ := newTestRelay()
	a := &recConn{id: "a"}
	b := &recConn{id: "b"}
	c := &recConn{id: "c"}
	rms.Join("r1", a)
	rms.Join("r1", b)
	rms.Join("r1", c)

	r.Route(Envelope{
		From:    a,
		RoomID:  "r1",
		Kind:    KindICECandidate,
		Payload: json.RawMessage(`{"candidate":"cand"}`),
	})

	for _, peer := range []*recConn{b, c} {
		events, data := peer.received()
		require.Equal(t, []string{"ice-candidate"}, events)
		// Room broadcasts do not echo the room id back.
		assert.JSONEq(t, `{"from":"a","candidate":{"candidate":"cand"}}`, data[0])
	}
	events, _ := a.received()
	assert.Empty(t, events)
}

func TestRoute_EndCallIsAlwaysRoomBased(t *testing.T) {
	r, reg, rms, _ := newTestRelay()
	a := &recConn{id: "a"}
	b := &recConn{id: "b"}
	c := &recConn{id: "c"}
	reg.Register("alice", a)
	reg.Register("bob", b)
	rms.Join("r1", a)
	rms.Join("r1", b)
	rms.Join("r1", c)

	// Even with a known target user, end-call goes to the room.
	r.Route(Envelope{From: a, RoomID: "r1", TargetUserID: "bob", Kind: KindEndCall})

	for _, peer := range []*recConn{b, c} {
		events, data := peer.received()
		require.Equal(t, []string{"call-ended"}, events)
		assert.JSONEq(t, `{"from":"a"}`, data[0])
	}
	events, _ := a.received()
	assert.Empty(t, events)
}

func TestRoute_AnswerByRoom(t *testing.T) {
	r, _, rms, _ := newTestRelay()
	a := &recConn{id: "a"}
	b := &recConn{id: "b"}
	rms.Join("r1", a)
	rms.Join("r1", b)

	r.Route(Envelope{
		From:    b,
		RoomID:  "r1",
		Kind:    KindAnswer,
		Payload: json.RawMessage(`{"type":"answer","sdp":"v=0"}`),
	})

	events, data := a.received()
	require.Equal(t, []string{"answer"}, events)
	assert.JSONEq(t, `{"from":"b","answer":{"type":"answer","sdp":"v=0"}}`, data[0])
}
