package checkout

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"storefront-checkout/internal/metrics"

	"github.com/google/uuid"
)

// OrderCreatorFactory builds the per-session order creator, which carries
// the session's attempt lock and backend cooldown.
type OrderCreatorFactory func() OrderCreator

// Manager owns the live orchestrators, one per client session.
type Manager struct {
	deps      Deps
	cfg       Config
	newOrders OrderCreatorFactory
	metrics   *metrics.Metrics
	logger    *log.Logger

	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*Orchestrator
	lastSeen map[string]time.Time
}

// NewManager uses deps for every session; deps.Orders is ignored in favour
// of newOrders.
func NewManager(deps Deps, cfg Config, newOrders OrderCreatorFactory) *Manager {
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard, "", 0)
	}
	return &Manager{
		deps:      deps,
		cfg:       cfg,
		newOrders: newOrders,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       time.Now,
		sessions:  make(map[string]*Orchestrator),
		lastSeen:  make(map[string]time.Time),
	}
}

func (m *Manager) NewSession() string {
	return uuid.NewString()
}

// Get returns the session's orchestrator, creating and loading it on first
// use. A failed load is not cached.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Orchestrator, error) {
	m.mu.Lock()
	o, ok := m.sessions[sessionID]
	if !ok {
		deps := m.deps
		if m.newOrders != nil {
			deps.Orders = m.newOrders()
		}
		o = New(sessionID, deps, m.cfg)
		o.onSettled = m.discard
		m.sessions[sessionID] = o
		m.metrics.SessionOpened()
	}
	m.lastSeen[sessionID] = m.now()
	m.mu.Unlock()

	if err := o.Load(ctx); err != nil {
		m.remove(o)
		o.Close()
		return nil, err
	}
	return o, nil
}

// Close unmounts a session: pollers stop, stored state is kept.
func (m *Manager) Close(sessionID string) bool {
	m.mu.Lock()
	o, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.remove(o)
	o.Close()
	return true
}

// Shutdown closes every live session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	live := make([]*Orchestrator, 0, len(m.sessions))
	for id, o := range m.sessions {
		live = append(live, o)
		delete(m.sessions, id)
		delete(m.lastSeen, id)
		m.metrics.SessionClosed()
	}
	m.mu.Unlock()
	for _, o := range live {
		o.Close()
	}
	m.logger.Printf("checkout: shutdown closed sessions=%d", len(live))
}

// EvictIdle closes sessions not requested for longer than idle. Stored state
// is kept, so a later request reloads the session and resumes any payment.
func (m *Manager) EvictIdle(idle time.Duration) int {
	cutoff := m.now().Add(-idle)
	m.mu.Lock()
	var stale []*Orchestrator
	for id, seen := range m.lastSeen {
		if seen.Before(cutoff) {
			stale = append(stale, m.sessions[id])
		}
	}
	m.mu.Unlock()

	evicted := 0
	for _, o := range stale {
		if o != nil && m.remove(o) {
			o.Close()
			evicted++
		}
	}
	if evicted > 0 {
		m.logger.Printf("checkout: evicted idle sessions=%d", evicted)
	}
	return evicted
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// discard drops a settled session; a later request starts from the store.
func (m *Manager) discard(o *Orchestrator) {
	if m.remove(o) {
		m.logger.Printf("checkout: session settled session=%s state=%s", o.sessionID, o.State())
		o.Close()
	}
}

func (m *Manager) remove(o *Orchestrator) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[o.sessionID]; ok && cur == o {
		delete(m.sessions, o.sessionID)
		delete(m.lastSeen, o.sessionID)
		m.metrics.SessionClosed()
		return true
	}
	return false
}
