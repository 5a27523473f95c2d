package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spendguard/spendguard/internal/domain"
)

// fakeClock is an adjustable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCreateAndGet(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(time.Hour, clock.Now)

	sess := m.Create("wh", 30)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "wh", sess.Tenant)

	got, err := m.Get(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)
}

func TestGetUnknownSession(t *testing.T) {
	m := NewManager(time.Hour, nil)
	_, err := m.Get("nope")
	assert.True(t, errors.Is(err, domain.ErrSessionExpired))
}

func TestIdleTTLExpiry(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(time.Hour, clock.Now)
	sess := m.Create("wh", 30)

	clock.Advance(59 * time.Minute)
	_, err := m.Get(sess.ID)
	require.NoError(t, err, "access inside the TTL keeps the session alive")

	// The access above refreshed the idle clock.
	clock.Advance(59 * time.Minute)
	_, err = m.Get(sess.ID)
	require.NoError(t, err)

	clock.Advance(61 * time.Minute)
	_, err = m.Get(sess.ID)
	assert.True(t, errors.Is(err, domain.ErrSessionExpired))
}

func TestRelease(t *testing.T) {
	m := NewManager(time.Hour, nil)
	sess := m.Create("wh", 30)

	assert.True(t, m.Release(sess.ID))
	assert.False(t, m.Release(sess.ID))

	_, err := m.Get(sess.ID)
	assert.True(t, errors.Is(err, domain.ErrSessionExpired))
}

func TestActiveCountSweeps(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(time.Hour, clock.Now)
	m.Create("wh", 30)
	m.Create("tl", 30)
	assert.Equal(t, 2, m.ActiveCount())

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 0, m.ActiveCount())
}

func TestSessionOwnsItsData(t *testing.T) {
	m := NewManager(time.Hour, nil)
	sess := m.Create("wh", 30)

	summaries := []domain.AdSummary{{AdID: "a", Spend: 500}}
	baseline := domain.AccountBaseline{WindowDays: 30}
	anomalies := []domain.Anomaly{{Metric: domain.MetricROAS, ZScore: -2.5}}
	verdicts := map[string]domain.RootCauseVerdict{"a": {AdID: "a", Cause: domain.CauseUnknown}}

	sess.SetAnalysis(summaries, baseline, anomalies, verdicts, 3, false)

	assert.Equal(t, summaries, sess.Summaries())
	assert.Equal(t, anomalies, sess.Anomalies())
	assert.Equal(t, verdicts, sess.Verdicts())
	assert.Equal(t, 3, sess.RecordsDropped())
	assert.False(t, sess.Insufficient())

	got, ok := sess.Summary("a")
	require.True(t, ok)
	assert.Equal(t, "a", got.AdID)
	_, ok = sess.Summary("missing")
	assert.False(t, ok)
}

func TestConcurrentReads(t *testing.T) {
	m := NewManager(time.Hour, nil)
	sess := m.Create("wh", 30)
	sess.SetAnalysis([]domain.AdSummary{{AdID: "a"}}, domain.AccountBaseline{}, nil, nil, 0, false)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = sess.Summaries()
				_, _ = sess.Summary("a")
			}
		}()
	}
	wg.Wait()
}
