package cache

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNoopRateCacheNeverHits(t *testing.T) {
	c := NoopRateCache{}
	if err := c.Set(context.Background(), RateKey("GBP", "EUR"), &CachedRate{Rate: decimal.RequireFromString("1.17")}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(context.Background(), RateKey("GBP", "EUR"))
	if err != nil || ok || got != nil {
		t.Fatalf("expected miss, got %+v ok=%v err=%v", got, ok, err)
	}
}

func TestRateKey(t *testing.T) {
	if got := RateKey("GBP", "EUR"); got != "fx:GBP:EUR" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestRedisRateCacheReportsUnreachableServer(t *testing.T) {
	c := NewRedisRateCache("127.0.0.1:1", "", 0)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := c.Ping(ctx); err == nil {
		t.Fatalf("expected ping error against closed port")
	}
	if _, _, err := c.Get(ctx, RateKey("GBP", "EUR")); err == nil {
		t.Fatalf("expected get error against closed port")
	}
}
