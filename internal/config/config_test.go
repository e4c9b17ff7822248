package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadWorkerDefaults(t *testing.T) {
	t.Setenv("CORPSIM_STORE", "memory")
	cfg, err := LoadWorkerFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HourlyEvery != time.Hour || cfg.ProposalEvery != 5*time.Minute || cfg.SnapshotEvery != 10*time.Minute {
		t.Fatalf("unexpected intervals: %v %v %v", cfg.HourlyEvery, cfg.ProposalEvery, cfg.SnapshotEvery)
	}
	if cfg.TickConcurrency != 4 || cfg.PriceCacheTTL != time.Minute || cfg.Addr != ":8080" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Level() != slog.LevelInfo {
		t.Fatalf("level got=%v", cfg.Level())
	}
}

func TestPostgresNeedsDatabaseURL(t *testing.T) {
	t.Setenv("CORPSIM_STORE", "postgres")
	t.Setenv("DATABASE_URL", "")
	if _, err := LoadWorkerFromEnv(); err == nil {
		t.Fatalf("expected DATABASE_URL error")
	}
	t.Setenv("CORPSIM_STORE", "sqlite")
	if _, err := LoadWorkerFromEnv(); err == nil {
		t.Fatalf("expected unknown store error")
	}
}

func TestAPIConfig(t *testing.T) {
	t.Setenv("CORPSIM_STORE", "memory")
	t.Setenv("PORT", "9090")
	t.Setenv("CORPSIM_LOG_LEVEL", "debug")
	t.Setenv("CORPSIM_ADMIN_TOKEN", "")
	if _, err := LoadAPIFromEnv(); err == nil {
		t.Fatalf("expected admin token error")
	}
	t.Setenv("CORPSIM_ADMIN_TOKEN", "secret")
	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("addr got=%q", cfg.Addr)
	}
	if cfg.Level() != slog.LevelDebug {
		t.Fatalf("level got=%v", cfg.Level())
	}
}

func TestCLIConfig(t *testing.T) {
	t.Setenv("CORPSIM_API_BASE_URL", "https://corpsim.example/ ")
	cfg, err := LoadCLIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIBaseURL != "https://corpsim.example" {
		t.Fatalf("base url got=%q", cfg.APIBaseURL)
	}
	if cfg.Timeout != 30*time.Second {
		t.Fatalf("timeout got=%v", cfg.Timeout)
	}

	t.Setenv("CORPSIM_CLI_TIMEOUT", "soon")
	if _, err := LoadCLIFromEnv(); err == nil {
		t.Fatalf("expected parse error for bad timeout")
	}
	t.Setenv("CORPSIM_CLI_TIMEOUT", "0s")
	if _, err := LoadCLIFromEnv(); err == nil {
		t.Fatalf("expected error for zero timeout")
	}
}

func TestFundamentalWeightBounds(t *testing.T) {
	t.Setenv("CORPSIM_STORE", "memory")
	t.Setenv("CORPSIM_FUNDAMENTAL_WEIGHT", "0")
	cfg, err := LoadWorkerFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.FundamentalShare != 0 {
		t.Fatalf("explicit zero weight got=%v", cfg.FundamentalShare)
	}
	t.Setenv("CORPSIM_FUNDAMENTAL_WEIGHT", "1.5")
	if _, err := LoadWorkerFromEnv(); err == nil {
		t.Fatalf("expected out of range error")
	}
}
