package cache

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CachedRate is an exchange rate shared between terminals of the same store.
type CachedRate struct {
	Rate      decimal.Decimal `json:"rate"`
	FetchedAt time.Time       `json:"fetched_at"`
}

type RateCache interface {
	Get(ctx context.Context, key string) (*CachedRate, bool, error)
	Set(ctx context.Context, key string, value *CachedRate, ttl time.Duration) error
}

type NoopRateCache struct{}

func (NoopRateCache) Get(_ context.Context, _ string) (*CachedRate, bool, error) {
	return nil, false, nil
}

func (NoopRateCache) Set(_ context.Context, _ string, _ *CachedRate, _ time.Duration) error {
	return nil
}

// RateKey is the cache key for a currency pair, e.g. "fx:GBP:EUR".
func RateKey(base string, target string) string {
	return "fx:" + base + ":" + target
}
