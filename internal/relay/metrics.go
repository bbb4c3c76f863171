package relay

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
)

type Metrics struct {
	registrations atomic.Uint64
	logins        atomic.Uint64
	rejected      atomic.Uint64
	relayed       atomic.Uint64
	activeConns   atomic.Int64
	presence      *PresenceTracker
}

func NewMetrics(presence *PresenceTracker) *Metrics {
	return &Metrics{presence: presence}
}

func (m *Metrics) IncRegistration() {
	m.registrations.Add(1)
}

func (m *Metrics) IncLogin() {
	m.logins.Add(1)
}

// IncRejected counts websocket connections closed for a bad credential.
func (m *Metrics) IncRejected() {
	m.rejected.Add(1)
}

func (m *Metrics) IncRelayed() {
	m.relayed.Add(1)
}

func (m *Metrics) IncConn() {
	m.activeConns.Add(1)
}

func (m *Metrics) DecConn() {
	m.activeConns.Add(-1)
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"registrations_total":  m.registrations.Load(),
		"logins_total":         m.logins.Load(),
		"rejected_connections": m.rejected.Load(),
		"messages_relayed":     m.relayed.Load(),
		"active_connections":   m.activeConns.Load(),
	}
	if m.presence != nil {
		payload["online_users"] = m.presence.ActiveCount()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// PresenceTracker keeps counts of active websocket connections per user.
type PresenceTracker struct {
	mu     sync.Mutex
	online map[string]int
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[string]int)}
}

func (p *PresenceTracker) Increment(username string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[username]++
	return p.online[username]
}

func (p *PresenceTracker) Decrement(username string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count, ok := p.online[username]
	if !ok {
		return 0
	}
	if count <= 1 {
		delete(p.online, username)
		return 0
	}
	p.online[username] = count - 1
	return p.online[username]
}

func (p *PresenceTracker) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.online)
}
