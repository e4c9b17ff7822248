package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config is shared by the API and the worker.
type Config struct {
	Addr             string        `env:"CORPSIM_API_ADDR" envDefault:":8080"`
	Port             string        `env:"PORT"`
	DatabaseURL      string        `env:"DATABASE_URL"`
	Store            string        `env:"CORPSIM_STORE" envDefault:"postgres"`
	AutoMigrate      bool          `env:"CORPSIM_AUTO_MIGRATE" envDefault:"true"`
	DBMaxConns       int32         `env:"CORPSIM_DB_MAX_CONNS" envDefault:"20"`
	HourlyEvery      time.Duration `env:"CORPSIM_HOURLY_EVERY" envDefault:"1h"`
	ProposalEvery    time.Duration `env:"CORPSIM_PROPOSAL_SWEEP_EVERY" envDefault:"5m"`
	SnapshotEvery    time.Duration `env:"CORPSIM_SNAPSHOT_EVERY" envDefault:"10m"`
	TickConcurrency  int           `env:"CORPSIM_TICK_CONCURRENCY" envDefault:"4"`
	WorkerRunOnce    bool          `env:"CORPSIM_WORKER_RUN_ONCE"`
	CatalogPath      string        `env:"CORPSIM_CATALOG_PATH"`
	PriceCacheTTL    time.Duration `env:"CORPSIM_PRICE_CACHE_TTL" envDefault:"60s"`
	DiscordWebhook   string        `env:"CORPSIM_DISCORD_WEBHOOK_URL"`
	DiscordUsername  string        `env:"CORPSIM_DISCORD_USERNAME" envDefault:"corpsim"`
	NotifyBuffer     int           `env:"CORPSIM_NOTIFY_BUFFER" envDefault:"256"`
	AdminToken       string        `env:"CORPSIM_ADMIN_TOKEN"`
	LogLevel         string        `env:"CORPSIM_LOG_LEVEL" envDefault:"info"`
	ShareLookback    time.Duration `env:"CORPSIM_SHARE_LOOKBACK" envDefault:"168h"`
	FundamentalShare float64       `env:"CORPSIM_FUNDAMENTAL_WEIGHT" envDefault:"0.8"`
}

type CLIConfig struct {
	APIBaseURL string        `env:"CORPSIM_API_BASE_URL" envDefault:"http://localhost:8080"`
	AdminToken string        `env:"CORPSIM_ADMIN_TOKEN"`
	Timeout    time.Duration `env:"CORPSIM_CLI_TIMEOUT" envDefault:"30s"`
}

func load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if p := strings.TrimSpace(cfg.Port); p != "" {
		if !strings.HasPrefix(p, ":") {
			p = ":" + p
		}
		cfg.Addr = p
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	switch cfg.Store {
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreMemory:
	default:
		return cfg, fmt.Errorf("CORPSIM_STORE must be %s or %s", StorePostgres, StoreMemory)
	}
	if cfg.FundamentalShare < 0 || cfg.FundamentalShare > 1 {
		return cfg, fmt.Errorf("CORPSIM_FUNDAMENTAL_WEIGHT must be within [0, 1]")
	}
	return cfg, nil
}

func LoadAPIFromEnv() (Config, error) {
	cfg, err := load()
	if err != nil {
		return cfg, err
	}
	if cfg.AdminToken == "" {
		return cfg, fmt.Errorf("CORPSIM_ADMIN_TOKEN is required")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (Config, error) {
	return load()
}

func LoadCLIFromEnv() (CLIConfig, error) {
	var cfg CLIConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:8080"
	}
	if cfg.Timeout <= 0 {
		return cfg, fmt.Errorf("CORPSIM_CLI_TIMEOUT must be positive")
	}
	return cfg, nil
}

// Level maps CORPSIM_LOG_LEVEL to a slog level, defaulting to info.
func (c Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
