// Package gateway owns the WebSocket endpoint and the lifecycle of each
// client connection: upgrade, auth, inbound event dispatch, and the
// registration/presence/broadcast sequencing on connect and disconnect.
package gateway

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/collabhub/presence-relay/internal/auth"
	"github.com/collabhub/presence-relay/internal/config"
	"github.com/collabhub/presence-relay/internal/metrics"
	"github.com/collabhub/presence-relay/internal/origin"
	"github.com/collabhub/presence-relay/internal/presence"
	"github.com/collabhub/presence-relay/internal/ratelimit"
	"github.com/collabhub/presence-relay/internal/registry"
	"github.com/collabhub/presence-relay/internal/relay"
	"github.com/collabhub/presence-relay/internal/rooms"
)

// Deps are the collaborators a Server dispatches into. All are required
// except Verifier, which is nil when AUTH_MODE=none.
type Deps struct {
	Registry    *registry.Registry
	Tracker     *presence.Tracker
	Broadcaster *presence.Broadcaster
	Rooms       *rooms.Rooms
	Relay       *relay.Relay
	Verifier    auth.Verifier
	Metrics     *metrics.Metrics
}

type Server struct {
	cfg  config.Config
	log  *slog.Logger
	deps Deps

	upgrader websocket.Upgrader
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	s := &Server{
		cfg:  cfg,
		log:  logger,
		deps: deps,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return origin.Allowed(r.Header.Get("Origin"), r.Host, cfg.AllowedOrigins)
		},
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWS)
}

// handleWS authenticates before upgrading so rejected clients get a plain
// HTTP status instead of a short-lived socket.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Verifier != nil {
		cred, err := auth.CredentialFromQuery(s.cfg.AuthMode, r.URL.Query())
		if err == nil {
			err = s.deps.Verifier.Verify(cred)
		}
		if err != nil {
			s.deps.Metrics.Inc(metrics.AuthFailure)
			s.log.Debug("websocket auth rejected", "remote_addr", r.RemoteAddr, "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response (including origin rejects).
		s.log.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	s.deps.Metrics.Inc(metrics.ConnAccepted)

	id := uuid.NewString()
	sess := &session{
		srv:     s,
		conn:    conn,
		id:      id,
		log:     s.log.With("conn_id", id),
		limiter: ratelimit.NewTokenBucket(nil, int64(s.cfg.MaxMessagesPerSecond), int64(s.cfg.MaxMessagesPerSecond)),
		done:    make(chan struct{}),
	}
	sess.run()
}
