package warehouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/spendguard/spendguard/internal/domain"
)

// CachedStore is a redis read-through layer in front of another Store.
// Cache faults never fail a request; they fall through to the inner
// store. Keys carry the tenant, operation, and window so entries cannot
// bleed across tenants.
type CachedStore struct {
	inner  Store
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewCachedStore wraps inner with a redis read-through cache.
func NewCachedStore(inner Store, client *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{inner: inner, client: client, ttl: ttl, prefix: "spendguard"}
}

func (c *CachedStore) key(parts ...string) string {
	k := c.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// lookup tries the cache; on miss (or any cache fault) it calls fill,
// stores the result, and returns it.
func (c *CachedStore) lookup(ctx context.Context, key string, dst interface{}, fill func() (interface{}, error)) error {
	raw, err := c.client.Get(ctx, key).Result()
	if err == nil {
		if uerr := json.Unmarshal([]byte(raw), dst); uerr == nil {
			return nil
		}
		// Corrupt entry; drop it and refill.
		c.client.Del(ctx, key)
	} else if err != redis.Nil {
		log.Debug().Err(err).Str("key", key).Msg("cache read fault")
	}

	v, err := fill()
	if err != nil {
		return err
	}
	b, merr := json.Marshal(v)
	if merr == nil {
		if serr := c.client.Set(ctx, key, b, c.ttl).Err(); serr != nil {
			log.Debug().Err(serr).Str("key", key).Msg("cache write fault")
		}
	}
	return json.Unmarshal(b, dst)
}

type summariesEnvelope struct {
	Summaries []domain.AdSummary `json:"summaries"`
	Stats     FetchStats         `json:"stats"`
}

// FetchAdSummaries implements Store.
func (c *CachedStore) FetchAdSummaries(ctx context.Context, tenant string, windowDays int) ([]domain.AdSummary, FetchStats, error) {
	var env summariesEnvelope
	err := c.lookup(ctx, c.key("summaries", tenant, fmt.Sprint(windowDays)), &env, func() (interface{}, error) {
		s, st, err := c.inner.FetchAdSummaries(ctx, tenant, windowDays)
		if err != nil {
			return nil, err
		}
		return summariesEnvelope{Summaries: s, Stats: st}, nil
	})
	if err != nil {
		return nil, FetchStats{}, err
	}
	return env.Summaries, env.Stats, nil
}

// FetchDailySeries implements Store.
func (c *CachedStore) FetchDailySeries(ctx context.Context, tenant, adID string, metric domain.Metric, windowDays int) ([]SeriesPoint, error) {
	var out []SeriesPoint
	err := c.lookup(ctx, c.key("series", tenant, adID, string(metric), fmt.Sprint(windowDays)), &out, func() (interface{}, error) {
		return c.inner.FetchDailySeries(ctx, tenant, adID, metric, windowDays)
	})
	return out, err
}

// FetchAccountDailyTotals implements Store.
func (c *CachedStore) FetchAccountDailyTotals(ctx context.Context, tenant string, metric domain.Metric, windowDays int) ([]SeriesPoint, error) {
	var out []SeriesPoint
	err := c.lookup(ctx, c.key("account", tenant, string(metric), fmt.Sprint(windowDays)), &out, func() (interface{}, error) {
		return c.inner.FetchAccountDailyTotals(ctx, tenant, metric, windowDays)
	})
	return out, err
}

// FetchAdDaily implements Store.
func (c *CachedStore) FetchAdDaily(ctx context.Context, tenant, adID string, windowDays int) ([]domain.AdRecord, error) {
	var out []domain.AdRecord
	err := c.lookup(ctx, c.key("daily", tenant, adID, fmt.Sprint(windowDays)), &out, func() (interface{}, error) {
		return c.inner.FetchAdDaily(ctx, tenant, adID, windowDays)
	})
	return out, err
}
