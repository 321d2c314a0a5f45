package presence

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/collabhub/presence-relay/internal/metrics"
	"github.com/collabhub/presence-relay/internal/wire"
)

// ConnSource yields the connections a broadcast fans out to. Satisfied by
// registry.Registry.
type ConnSource interface {
	Conns() []wire.Conn
}

// Broadcaster serializes the tracker's snapshot and delivers it to every
// registered connection. Every connected client receives the complete
// presence map, not just their contacts; simplicity over bandwidth.
type Broadcaster struct {
	tracker *Tracker
	conns   ConnSource
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewBroadcaster(tracker *Tracker, conns ConnSource, log *slog.Logger, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		tracker: tracker,
		conns:   conns,
		log:     log,
		metrics: m,
	}
}

// BroadcastSnapshot takes one snapshot, serializes it once, and sends the
// identical payload to all registered connections. Sends are fire-and-forget;
// a stale connection silently drops the frame.
//
// The snapshot is copied out before any send so no tracker lock is held
// during fan-out I/O.
func (b *Broadcaster) BroadcastSnapshot() {
	snap := b.tracker.Snapshot()

	statuses := make(map[string]wire.StatusEntry, len(snap))
	for userID, rec := range snap {
		statuses[userID] = wire.StatusEntry{
			Status:   string(rec.Status),
			LastSeen: rec.LastSeen.UTC().Format(time.RFC3339),
		}
	}

	data, err := json.Marshal(statuses)
	if err != nil {
		// Only reachable if StatusEntry itself becomes unmarshalable.
		b.log.Error("marshal presence snapshot", "err", err)
		return
	}

	conns := b.conns.Conns()
	for _, conn := range conns {
		conn.Send(wire.EventUserStatuses, data)
	}

	b.metrics.Inc(metrics.PresenceBroadcast)
	b.log.Debug("presence broadcast", "users", len(statuses), "conns", len(conns))
}
