package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/collabhub/presence-relay/internal/metrics"
	"github.com/collabhub/presence-relay/internal/ratelimit"
	"github.com/collabhub/presence-relay/internal/relay"
	"github.com/collabhub/presence-relay/internal/wire"
)

const wsWriteWait = 1 * time.Second

var (
	errUnknownEvent = errors.New("unknown event")
	errEmptyUserID  = errors.New("empty user id")
	errEmptyRoomID  = errors.New("empty room id")
)

// session is one upgraded WebSocket connection. It implements wire.Conn, so
// the registry, rooms, and broadcaster address it directly.
type session struct {
	srv  *Server
	conn *websocket.Conn
	id   string
	log  *slog.Logger

	limiter *ratelimit.TokenBucket

	writeMu sync.Mutex

	// userID is set by the setup event; read only from the session goroutine.
	userID string

	closeOnce sync.Once
	done      chan struct{}
}

func (s *session) ID() string { return s.id }

// Send is fire-and-forget. A failed write means the connection is dying; the
// read loop will notice shortly and run teardown, so the error is only
// counted, never propagated.
func (s *session) Send(event string, data json.RawMessage) {
	frame, err := wire.MarshalEnvelope(event, data)
	if err != nil {
		s.srv.deps.Metrics.Inc(metrics.SendFailure)
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		s.srv.deps.Metrics.Inc(metrics.SendFailure)
		s.log.Debug("websocket send failed", "event", event, "error", err)
	}
}

func (s *session) run() {
	defer s.teardown()

	cfg := s.srv.cfg
	s.conn.SetReadLimit(cfg.MaxMessageBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(cfg.WSIdleTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(cfg.WSIdleTimeout))
	})

	go s.pingLoop(cfg.WSPingInterval)

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		// Rate-limit after reading so the frame's bytes leave the TCP receive
		// buffer; closing with unread data can turn into an RST that eats the
		// close frame.
		if !s.limiter.Allow(1) {
			s.srv.deps.Metrics.Inc(metrics.RateLimited)
			s.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			s.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}
		// Any data frame proves liveness, not just pongs.
		_ = s.conn.SetReadDeadline(time.Now().Add(cfg.WSIdleTimeout))

		env, err := wire.ParseEnvelope(data)
		if err != nil {
			s.dropBadMessage("envelope", err)
			continue
		}
		s.dispatch(env)
	}
}

// dispatch handles one inbound event. Malformed payloads are dropped without
// closing the connection: one bad frame from a client should not tear down
// its presence.
func (s *session) dispatch(env wire.Envelope) {
	switch env.Event {
	case wire.EventSetup:
		s.handleSetup(env.Data)
	case wire.EventJoinRoom:
		s.handleJoinRoom(env.Data)
	case wire.EventOffer, wire.EventAnswer, wire.EventICECandidate:
		s.handleSignal(env.Event, env.Data)
	case wire.EventEndCall:
		s.handleEndCall(env.Data)
	default:
		s.dropBadMessage(env.Event, errUnknownEvent)
	}
}

func (s *session) handleSetup(data json.RawMessage) {
	var userID string
	if err := json.Unmarshal(data, &userID); err != nil {
		s.dropBadMessage(wire.EventSetup, err)
		return
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		s.dropBadMessage(wire.EventSetup, errEmptyUserID)
		return
	}

	s.userID = userID
	s.srv.deps.Registry.Register(userID, s)
	s.srv.deps.Tracker.MarkActive(userID)
	s.srv.deps.Broadcaster.BroadcastSnapshot()
	s.log.Debug("user announced", "user_id", userID)
}

func (s *session) handleJoinRoom(data json.RawMessage) {
	var roomID string
	if err := json.Unmarshal(data, &roomID); err != nil {
		s.dropBadMessage(wire.EventJoinRoom, err)
		return
	}
	if roomID == "" {
		s.dropBadMessage(wire.EventJoinRoom, errEmptyRoomID)
		return
	}

	s.srv.deps.Rooms.Join(roomID, s)

	joined, err := json.Marshal(s.id)
	if err != nil {
		return
	}
	s.srv.deps.Rooms.BroadcastExcept(roomID, s, wire.EventUserJoined, joined)
	s.log.Debug("joined room", "room_id", roomID)
}

func (s *session) handleSignal(event string, data json.RawMessage) {
	var sig wire.SignalData
	if err := json.Unmarshal(data, &sig); err != nil {
		s.dropBadMessage(event, err)
		return
	}

	env := relay.Envelope{
		From:         s,
		RoomID:       sig.RoomID,
		TargetUserID: sig.TargetUserID,
		Kind:         relay.Kind(event),
	}
	switch event {
	case wire.EventOffer:
		env.Payload = sig.Offer
	case wire.EventAnswer:
		env.Payload = sig.Answer
	case wire.EventICECandidate:
		env.Payload = sig.Candidate
	}
	s.srv.deps.Relay.Route(env)
}

// handleEndCall's payload is the bare room id string, not a signal object:
// ending a call addresses the room, never a single peer.
func (s *session) handleEndCall(data json.RawMessage) {
	var roomID string
	if err := json.Unmarshal(data, &roomID); err != nil {
		s.dropBadMessage(wire.EventEndCall, err)
		return
	}
	if roomID == "" {
		s.dropBadMessage(wire.EventEndCall, errEmptyRoomID)
		return
	}

	s.srv.deps.Relay.Route(relay.Envelope{
		From:   s,
		RoomID: roomID,
		Kind:   relay.KindEndCall,
	})
}

func (s *session) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// teardown runs exactly once per connection. The unregister is guarded: if a
// reconnect for the same user already superseded this connection, the
// registry refuses the removal and presence is left untouched.
func (s *session) teardown() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()

		s.srv.deps.Rooms.Remove(s)

		if userID, ok := s.srv.deps.Registry.Unregister(s); ok {
			s.srv.deps.Tracker.MarkInactive(userID)
			s.srv.deps.Broadcaster.BroadcastSnapshot()
			s.log.Debug("user disconnected", "user_id", userID)
		} else if s.userID != "" {
			s.srv.deps.Metrics.Inc(metrics.StaleDisconnect)
			s.log.Debug("stale disconnect ignored", "user_id", s.userID)
		}

		s.srv.deps.Metrics.Inc(metrics.ConnClosed)
	})
}

func (s *session) dropBadMessage(event string, err error) {
	s.srv.deps.Metrics.Inc(metrics.BadMessage)
	s.log.Debug("dropping bad message", "event", event, "error", err)
}

func (s *session) closeWith(code int, reason string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}
