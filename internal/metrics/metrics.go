package metrics

import "sync"

// Event counter names.
const (
	PresenceBroadcast = "presence_broadcast"
	RelayDelivered    = "relay_delivered"
	RelayTargetMiss   = "relay_target_not_found"
	StaleDisconnect   = "stale_disconnect"
	SendFailure       = "send_failure"
	BadMessage        = "bad_message"
	RateLimited       = "rate_limited"
	AuthFailure       = "auth_failure"
	ConnAccepted      = "conn_accepted"
	ConnClosed        = "conn_closed"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// Presence and signaling are soft state with best-effort delivery, so drop
// counters are the only visibility into swallowed send failures; this type
// keeps that observable and testable without a metrics backend dependency.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
