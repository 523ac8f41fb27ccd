// Package fx runs the euro cash tender: store-rate resolution, rounded euro targets and the
// conversion of euros received into a sterling cash payment.
package fx

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tillpoint/backend/internal/cache"
)

type Source string

const (
	SourceMemory    Source = "memory"
	SourceCache     Source = "cache"
	SourceLive      Source = "live"
	SourcePersisted Source = "persisted"
	SourceDefault   Source = "default"
)

// LiveRates fetches the current GBP to EUR store rate from the remote ledger.
type LiveRates interface {
	FetchEURRate(ctx context.Context) (decimal.Decimal, error)
}

// RateStore persists the last good rate per terminal so a restart without network still has one.
type RateStore interface {
	LastEURRate(ctx context.Context, terminalID string) (decimal.Decimal, time.Time, bool, error)
	SaveEURRate(ctx context.Context, terminalID string, rate decimal.Decimal, at time.Time) error
}

type ProviderConfig struct {
	TTL         time.Duration
	DefaultRate decimal.Decimal
}

type RateProvider struct {
	live  LiveRates
	cache cache.RateCache
	store RateStore
	ttl   time.Duration
	def   decimal.Decimal
	now   func() time.Time

	mu        sync.Mutex
	rate      decimal.Decimal
	fetchedAt time.Time
}

func NewRateProvider(live LiveRates, rateCache cache.RateCache, store RateStore, cfg ProviderConfig) *RateProvider {
	if rateCache == nil {
		rateCache = cache.NoopRateCache{}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if !cfg.DefaultRate.IsPositive() {
		cfg.DefaultRate = decimal.RequireFromString("1.15")
	}
	return &RateProvider{
		live:  live,
		cache: rateCache,
		store: store,
		ttl:   cfg.TTL,
		def:   cfg.DefaultRate,
		now:   time.Now,
	}
}

var rateKey = cache.RateKey("GBP", "EUR")

// StoreRate never fails: it walks memory, shared cache, live fetch, the persisted rate and
// finally the configured default.
func (p *RateProvider) StoreRate(ctx context.Context, terminalID string) (decimal.Decimal, Source) {
	now := p.now()

	p.mu.Lock()
	if p.rate.IsPositive() && now.Sub(p.fetchedAt) < p.ttl {
		rate := p.rate
		p.mu.Unlock()
		return rate, SourceMemory
	}
	p.mu.Unlock()

	if cached, ok, err := p.cache.Get(ctx, rateKey); err != nil {
		log.Printf("[fx] WARN: rate cache read failed: %v", err)
	} else if ok && now.Sub(cached.FetchedAt) < p.ttl {
		p.remember(cached.Rate, cached.FetchedAt)
		return cached.Rate, SourceCache
	}

	if p.live != nil {
		rate, err := p.live.FetchEURRate(ctx)
		if err == nil && rate.IsPositive() {
			p.remember(rate, now)
			if err := p.cache.Set(ctx, rateKey, &cache.CachedRate{Rate: rate, FetchedAt: now}, p.ttl); err != nil {
				log.Printf("[fx] WARN: rate cache write failed: %v", err)
			}
			if p.store != nil {
				if err := p.store.SaveEURRate(ctx, terminalID, rate, now); err != nil {
					log.Printf("[fx] WARN: persist rate failed: %v", err)
				}
			}
			return rate, SourceLive
		}
		if err != nil {
			log.Printf("[fx] WARN: live rate fetch failed: %v", err)
		}
	}

	if p.store != nil {
		rate, _, ok, err := p.store.LastEURRate(ctx, terminalID)
		if err != nil {
			log.Printf("[fx] WARN: read persisted rate failed: %v", err)
		} else if ok && rate.IsPositive() {
			return rate, SourcePersisted
		}
	}
	return p.def, SourceDefault
}

func (p *RateProvider) remember(rate decimal.Decimal, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rate = rate
	p.fetchedAt = at
}
