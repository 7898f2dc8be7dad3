package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadFallsBackOnInvalidNumbers(t *testing.T) {
	t.Setenv("LEDGER_MAX_RETRIES", "-2")
	t.Setenv("ANALYTICS_CACHE_TTL_SECONDS", "soon")
	t.Setenv("LOW_STOCK_THRESHOLD", "5")
	t.Setenv("DB_AUTO_MIGRATE", "true")

	cfg := Load()
	if cfg.LedgerMaxRetries != 3 {
		t.Fatalf("expected default retries 3, got %d", cfg.LedgerMaxRetries)
	}
	if cfg.AnalyticsCacheTTLSeconds != 60 {
		t.Fatalf("expected default cache ttl 60, got %d", cfg.AnalyticsCacheTTLSeconds)
	}
	if cfg.LowStockThreshold != 5 {
		t.Fatalf("expected low stock threshold 5, got %d", cfg.LowStockThreshold)
	}
	if !cfg.AutoMigrate {
		t.Fatalf("expected auto migrate enabled")
	}
}

func TestAddressUsesPort(t *testing.T) {
	t.Setenv("PORT", "9090")
	if got := Load().Address(); got != ":9090" {
		t.Fatalf("expected :9090, got %q", got)
	}
}
