// Package wire defines the JSON event surface exchanged with clients over the
// persistent WebSocket connection, and the Conn handle the rest of the service
// uses to address a live connection.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Client -> server event names.
const (
	EventSetup        = "setup"
	EventJoinRoom     = "join-room"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"
	EventEndCall      = "end-call"
)

// Server -> client event names.
const (
	EventUserStatuses = "user-statuses"
	EventUserJoined   = "user-joined"
	EventCallEnded    = "call-ended"
)

// Conn is a handle to one live client connection.
//
// Send is fire-and-forget: delivery to a connection that has gone away is
// dropped by the transport, never surfaced to the caller. The same pre-encoded
// data value may be passed to many conns so fan-out serializes once.
type Conn interface {
	// ID is the transport-level connection identifier, used as the "from"
	// identity in relayed signaling events. It is distinct from the announced
	// user id.
	ID() string

	Send(event string, data json.RawMessage)
}

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParseEnvelope decodes a single inbound frame. Unknown fields and trailing
// data are rejected so malformed frames are dropped whole rather than
// partially interpreted.
func ParseEnvelope(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, err
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("missing event name")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, fmt.Errorf("unexpected trailing data")
	}
	return env, nil
}

// MarshalEnvelope encodes an outbound frame. data must already be valid JSON.
func MarshalEnvelope(event string, data json.RawMessage) ([]byte, error) {
	return json.Marshal(Envelope{Event: event, Data: data})
}

// SignalData is the payload of offer/answer/ice-candidate events. Exactly one
// of RoomID/TargetUserID selects the routing mode; the opaque blob under the
// event's own key (offer/answer/candidate) is relayed without inspection.
type SignalData struct {
	RoomID       string          `json:"roomId,omitempty"`
	TargetUserID string          `json:"targetUserId,omitempty"`
	Offer        json.RawMessage `json:"offer,omitempty"`
	Answer       json.RawMessage `json:"answer,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
}

// SignalDelivery is the payload delivered to the receiving side of a relayed
// offer/answer/ice-candidate event.
type SignalDelivery struct {
	From      string          `json:"from"`
	RoomID    string          `json:"roomId,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// CallEnded is the payload of the call-ended event.
type CallEnded struct {
	From string `json:"from"`
}

// StatusEntry is one user's entry in a user-statuses broadcast.
type StatusEntry struct {
	Status   string `json:"status"`
	LastSeen string `json:"lastSeen"`
}
