// Package config provides unified configuration loading for the selection
// engine. Supports YAML files, environment variables, and programmatic
// overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the selection engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Reranker      RerankerConfig      `yaml:"reranker"`
	Selection     SelectionConfig     `yaml:"selection"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// CatalogConfig holds catalog source settings.
type CatalogConfig struct {
	FetchLimit     int           `yaml:"fetch_limit"`
	QueryPageSize  int           `yaml:"query_page_size"`
	SearchCacheTTL time.Duration `yaml:"search_cache_ttl"`
	SnapshotPath   string        `yaml:"snapshot_path"`
}

// RerankerConfig holds external reranking service settings.
type RerankerConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	APIKey         string        `yaml:"api_key"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxWindow      int           `yaml:"max_window"`
}

// SelectionConfig holds pipeline tuning parameters. The coverage threshold
// and budget shares are empirically chosen; they are configuration rather
// than fixed business rules.
type SelectionConfig struct {
	MinForRanking          int     `yaml:"min_for_ranking"`
	GateBuffer             int     `yaml:"gate_buffer"`
	FacetCoverageThreshold float64 `yaml:"facet_coverage_threshold"`
	RerankWindowSingle     int     `yaml:"rerank_window_single"`
	RerankWindowPerItem    int     `yaml:"rerank_window_per_item"`
	PreRankPoolPerItem     int     `yaml:"pre_rank_pool_per_item"`
	PrimaryBudgetShare     float64 `yaml:"primary_budget_share"`
	SecondaryBudgetShare   float64 `yaml:"secondary_budget_share"`
	StockOnly              bool    `yaml:"stock_only"`
	BM25K1                 float64 `yaml:"bm25_k1"`
	BM25B                  float64 `yaml:"bm25_b"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8086,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "/tmp/selection-engine.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        5 * time.Minute,
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		Catalog: CatalogConfig{
			FetchLimit:     250,
			QueryPageSize:  50,
			SearchCacheTTL: 10 * time.Minute,
		},
		Reranker: RerankerConfig{
			Endpoint:       "http://localhost:8090/rerank",
			RequestTimeout: 25 * time.Second,
			MaxWindow:      60,
		},
		Selection: SelectionConfig{
			MinForRanking:          5,
			GateBuffer:             4,
			FacetCoverageThreshold: 0.25,
			RerankWindowSingle:     20,
			RerankWindowPerItem:    15,
			PreRankPoolPerItem:     60,
			PrimaryBudgetShare:     0.70,
			SecondaryBudgetShare:   0.60,
			StockOnly:              true,
			BM25K1:                 1.2,
			BM25B:                  0.75,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "debug",
			LogFormat:   "json",
			ServiceName: "selection-engine",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Selection.FacetCoverageThreshold <= 0 || c.Selection.FacetCoverageThreshold >= 1 {
		return fmt.Errorf("facet_coverage_threshold must be in (0, 1)")
	}

	if c.Selection.PrimaryBudgetShare <= 0 || c.Selection.PrimaryBudgetShare > 1 {
		return fmt.Errorf("primary_budget_share must be in (0, 1]")
	}

	if c.Selection.RerankWindowSingle < 1 || c.Selection.RerankWindowPerItem < 1 {
		return fmt.Errorf("rerank windows must be at least 1")
	}

	if c.Reranker.MaxWindow < c.Selection.RerankWindowSingle {
		return fmt.Errorf("reranker max_window smaller than single-item window")
	}

	return nil
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("RERANKER_ENDPOINT"); v != "" {
		cfg.Reranker.Endpoint = v
	}

	if v := os.Getenv("RERANKER_API_KEY"); v != "" {
		cfg.Reranker.APIKey = v
	}

	if v := os.Getenv("CATALOG_SNAPSHOT_PATH"); v != "" {
		cfg.Catalog.SnapshotPath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
