// Package session pins one analysis in memory: the frozen summaries,
// baselines, anomalies, verdicts, and recommendations produced for a
// (tenant, window) pair. A session exclusively owns its derived data;
// writes go through a single serialized path, reads of completed fields
// may proceed concurrently. Nothing here persists: a process restart
// loses every session by design.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spendguard/spendguard/internal/domain"
)

// Session is one pinned analysis.
type Session struct {
	ID         string
	Tenant     string
	WindowDays int
	CreatedAt  time.Time

	mu              sync.RWMutex
	lastAccess      time.Time
	summaries       []domain.AdSummary
	summaryIndex    map[string]domain.AdSummary
	baseline        domain.AccountBaseline
	anomalies       []domain.Anomaly
	verdicts        map[string]domain.RootCauseVerdict
	recommendations []domain.Recommendation
	recordsDropped  int
	insufficient    bool
}

// SetAnalysis freezes the analyze stage's output into the session.
func (s *Session) SetAnalysis(summaries []domain.AdSummary, baseline domain.AccountBaseline, anomalies []domain.Anomaly, verdicts map[string]domain.RootCauseVerdict, recordsDropped int, insufficient bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = summaries
	s.summaryIndex = make(map[string]domain.AdSummary, len(summaries))
	for _, sum := range summaries {
		s.summaryIndex[sum.AdID] = sum
	}
	s.baseline = baseline
	s.anomalies = anomalies
	s.verdicts = verdicts
	s.recordsDropped = recordsDropped
	s.insufficient = insufficient
}

// SetRecommendations freezes the recommend stage's output.
func (s *Session) SetRecommendations(recs []domain.Recommendation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recommendations = recs
}

// Summaries returns the frozen ad summaries.
func (s *Session) Summaries() []domain.AdSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summaries
}

// Summary resolves one ad by id.
func (s *Session) Summary(adID string) (domain.AdSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaryIndex[adID]
	return sum, ok
}

// Baseline returns the frozen account baseline.
func (s *Session) Baseline() domain.AccountBaseline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseline
}

// Anomalies returns the frozen anomaly list.
func (s *Session) Anomalies() []domain.Anomaly {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.anomalies
}

// Verdicts returns the frozen verdict map, keyed by ad id.
func (s *Session) Verdicts() map[string]domain.RootCauseVerdict {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verdicts
}

// Recommendations returns the frozen recommendation list.
func (s *Session) Recommendations() []domain.Recommendation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recommendations
}

// RecordsDropped reports rows rejected by strict numeric parsing.
func (s *Session) RecordsDropped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recordsDropped
}

// Insufficient reports whether the baseline sample was too small.
func (s *Session) Insufficient() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.insufficient
}

// Manager owns all live sessions. Expired sessions are swept lazily on
// access.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewManager builds a manager with the given idle TTL. now is injectable
// for tests; nil means wall clock.
func NewManager(ttl time.Duration, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Manager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      now,
	}
}

// Create opens a new session for a tenant and window.
func (m *Manager) Create(tenant string, windowDays int) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()

	now := m.now().UTC()
	s := &Session{
		ID:         uuid.NewString(),
		Tenant:     tenant,
		WindowDays: windowDays,
		CreatedAt:  now,
		lastAccess: now,
	}
	m.sessions[s.ID] = s
	return s
}

// Get resolves a session and refreshes its idle clock. An expired or
// unknown id yields ErrSessionExpired.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrSessionExpired
	}
	if m.expiredLocked(s) {
		delete(m.sessions, id)
		return nil, domain.ErrSessionExpired
	}
	s.mu.Lock()
	s.lastAccess = m.now().UTC()
	s.mu.Unlock()
	return s, nil
}

// Release destroys a session explicitly.
func (m *Manager) Release(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	return true
}

// ActiveCount reports live sessions after sweeping.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	return len(m.sessions)
}

func (m *Manager) expiredLocked(s *Session) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return m.now().UTC().Sub(s.lastAccess) > m.ttl
}

func (m *Manager) sweepLocked() {
	for id, s := range m.sessions {
		if m.expiredLocked(s) {
			delete(m.sessions, id)
		}
	}
}
