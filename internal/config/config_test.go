package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"TERMINAL_ID", "DEFAULT_EUR_RATE", "FX_RATE_TTL_MINUTES", "ERP_BASE_URL", "USE_MOCK_ERP", "PRINT_CUT", "DEFAULT_VAT_RATE"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.TerminalID != "TILL-01" {
		t.Fatalf("expected default terminal TILL-01, got %q", cfg.TerminalID)
	}
	if cfg.DefaultEURRate.String() != "1.17" {
		t.Fatalf("expected default EUR rate 1.17, got %s", cfg.DefaultEURRate)
	}
	if cfg.FXRateTTL != time.Hour {
		t.Fatalf("expected 1h rate ttl, got %s", cfg.FXRateTTL)
	}
	if !cfg.PrintCut || cfg.DefaultVATRate != 20 {
		t.Fatalf("unexpected print/vat defaults: cut=%v vat=%v", cfg.PrintCut, cfg.DefaultVATRate)
	}
	if !cfg.MockERP() {
		t.Fatalf("expected mock ERP when no base URL is configured")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("TERMINAL_ID", "till-07")
	t.Setenv("DEFAULT_EUR_RATE", "1.2345")
	t.Setenv("FX_RATE_TTL_MINUTES", "15")
	t.Setenv("ERP_BASE_URL", "https://erp.example.test/")
	t.Setenv("USE_MOCK_ERP", "false")
	t.Setenv("ERP_TIMEOUT_SECONDS", "-3")

	cfg := Load()
	if cfg.TerminalID != "TILL-07" {
		t.Fatalf("expected upper-cased terminal, got %q", cfg.TerminalID)
	}
	if cfg.DefaultEURRate.String() != "1.2345" {
		t.Fatalf("expected EUR rate 1.2345, got %s", cfg.DefaultEURRate)
	}
	if cfg.FXRateTTL != 15*time.Minute {
		t.Fatalf("expected 15m ttl, got %s", cfg.FXRateTTL)
	}
	if cfg.ERPBaseURL != "https://erp.example.test" || cfg.MockERP() {
		t.Fatalf("expected live ERP at trimmed URL, got %q mock=%v", cfg.ERPBaseURL, cfg.MockERP())
	}
	if cfg.ERPTimeout != 15*time.Second {
		t.Fatalf("expected fallback timeout for invalid value, got %s", cfg.ERPTimeout)
	}
}

func TestLoadRejectsInvalidEURRate(t *testing.T) {
	t.Setenv("DEFAULT_EUR_RATE", "-1")

	cfg := Load()
	if cfg.DefaultEURRate.String() != "1.17" {
		t.Fatalf("expected fallback rate for negative input, got %s", cfg.DefaultEURRate)
	}
}

func TestLoadStoreTimezone(t *testing.T) {
	t.Setenv("STORE_TIMEZONE", "Europe/London")
	if cfg := Load(); cfg.Location == nil || cfg.Location.String() != "Europe/London" {
		t.Fatalf("expected Europe/London, got %v", cfg.Location)
	}

	t.Setenv("STORE_TIMEZONE", "Mars/Olympus")
	if cfg := Load(); cfg.Location != time.Local {
		t.Fatalf("expected local fallback for unknown zone, got %v", cfg.Location)
	}
}
