// Package relay routes call-setup messages between connections. It is
// protocol-agnostic signaling transport: payloads are opaque blobs passed
// through untouched, and WebRTC semantics live entirely on the two clients.
package relay

import (
	"encoding/json"
	"log/slog"

	"github.com/collabhub/presence-relay/internal/metrics"
	"github.com/collabhub/presence-relay/internal/wire"
)

// Kind enumerates the relayable call-setup message kinds.
type Kind string

const (
	KindOffer        Kind = wire.EventOffer
	KindAnswer       Kind = wire.EventAnswer
	KindICECandidate Kind = wire.EventICECandidate
	KindEndCall      Kind = wire.EventEndCall
)

// Envelope is one routable signaling message. Exactly one of RoomID and
// TargetUserID selects the routing mode; when both are set, the explicit
// target wins (end-call excepted, which is always room-based).
type Envelope struct {
	From         wire.Conn
	RoomID       string
	TargetUserID string
	Kind         Kind
	Payload      json.RawMessage
}

// TargetLookup resolves a user id to its addressable connection. Satisfied by
// registry.Registry.
type TargetLookup interface {
	Lookup(userID string) (wire.Conn, bool)
}

// RoomBroadcaster fans an event out to a room, excluding the sender.
// Satisfied by rooms.Rooms.
type RoomBroadcaster interface {
	BroadcastExcept(roomID string, sender wire.Conn, event string, data json.RawMessage)
}

type Relay struct {
	targets TargetLookup
	rooms   RoomBroadcaster
	log     *slog.Logger
	metrics *metrics.Metrics
}

func New(targets TargetLookup, rooms RoomBroadcaster, log *slog.Logger, m *metrics.Metrics) *Relay {
	return &Relay{
		targets: targets,
		rooms:   rooms,
		log:     log,
		metrics: m,
	}
}

// Route delivers env to its target connection or room. It is total: an
// unknown target or empty room is silently a no-op delivery, never an error
// back to the sender.
func (r *Relay) Route(env Envelope) {
	if env.Kind == KindEndCall {
		data, err := json.Marshal(wire.CallEnded{From: env.From.ID()})
		if err != nil {
			return
		}
		r.rooms.BroadcastExcept(env.RoomID, env.From, wire.EventCallEnded, data)
		r.metrics.Inc(metrics.RelayDelivered)
		return
	}

	if env.TargetUserID != "" {
		target, ok := r.targets.Lookup(env.TargetUserID)
		if !ok {
			r.metrics.Inc(metrics.RelayTargetMiss)
			r.log.Debug("relay target not registered", "kind", string(env.Kind), "target", env.TargetUserID)
			return
		}
		data, err := json.Marshal(r.delivery(env, true))
		if err != nil {
			return
		}
		target.Send(string(env.Kind), data)
		r.metrics.Inc(metrics.RelayDelivered)
		return
	}

	data, err := json.Marshal(r.delivery(env, false))
	if err != nil {
		return
	}
	r.rooms.BroadcastExcept(env.RoomID, env.From, string(env.Kind), data)
	r.metrics.Inc(metrics.RelayDelivered)
}

// delivery builds the receiver-side payload. Targeted deliveries carry the
// room id so the callee knows which room to answer into; room broadcasts
// already imply it.
func (r *Relay) delivery(env Envelope, includeRoom bool) wire.SignalDelivery {
	out := wire.SignalDelivery{From: env.From.ID()}
	if includeRoom {
		out.RoomID = env.RoomID
	}
	switch env.Kind {
	case KindOffer:
		out.Offer = env.Payload
	case KindAnswer:
		out.Answer = env.Payload
	case KindICECandidate:
		out.Candidate = env.Payload
	}
	return out
}
