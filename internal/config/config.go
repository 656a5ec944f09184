// Package config loads the pipeline's YAML configuration and applies
// environment-variable overrides for secrets and connection settings it must
// not carry in plaintext.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of config/pipeline.yaml: per-venue endpoint policy,
// storage connection settings, proxy credentials, and retention.
type Config struct {
	Database  DatabaseConfig            `yaml:"database"`
	Proxy     ProxyConfig               `yaml:"proxy"`
	Retention RetentionConfig           `yaml:"retention"`
	Venues    map[string]VenueConfig    `yaml:"venues"`
	Coinalyze CoinalyzeConfig           `yaml:"coinalyze"`
	Log       LogConfig                 `yaml:"log"`
	HTTP      HTTPConfig                `yaml:"http"`
	Backfill  BackfillConfig            `yaml:"backfill"`
	Metrics   MetricsEngineConfig       `yaml:"metrics_engine"`
	Symbols   []string                  `yaml:"symbols"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"DB_HOST"`
	Port            int           `yaml:"port" env:"DB_PORT"`
	User            string        `yaml:"user" env:"DB_USER"`
	Password        string        `yaml:"password" env:"DB_PASSWORD"`
	Name            string        `yaml:"name" env:"DB_NAME"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// DSN renders a libpq connection string from the configured fields.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, orDefault(d.SSLMode, "disable"))
}

type ProxyConfig struct {
	URL      string `yaml:"url" env:"HTTP_PROXY_URL"`
	User     string `yaml:"user" env:"HTTP_PROXY_USER"`
	Password string `yaml:"password" env:"HTTP_PROXY_PASS"`
}

func (p ProxyConfig) Enabled() bool { return p.URL != "" }

type RetentionConfig struct {
	Days int `yaml:"days"`
}

func (r RetentionConfig) Duration() time.Duration {
	days := r.Days
	if days <= 0 {
		days = 10
	}
	return time.Duration(days) * 24 * time.Hour
}

// VenueConfig carries the rate-limit policy and endpoint list for one venue
// (bin, byb, okx); Coinalyze is configured separately since it serves all
// three venues under one REST surface.
type VenueConfig struct {
	WSBaseURL string                    `yaml:"ws_base_url"`
	Endpoints map[string]EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig is a venue-endpoint's rate-limit policy (§4.3, §9 "global
// retry/backoff knobs → a RateLimitPolicy value").
type EndpointConfig struct {
	BaseURL        string        `yaml:"base_url"`
	MaxPageSize    int           `yaml:"max_page_size"`
	DirectDelay    time.Duration `yaml:"direct_page_delay"`
	ProxyDelay     time.Duration `yaml:"proxy_page_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	BaseBackoff    time.Duration `yaml:"base_backoff"`
	SustainedRPS   float64       `yaml:"sustained_rps"`
	Burst          int           `yaml:"burst"`
	DirectShare    float64       `yaml:"direct_share"` // target direct fraction; no default, 0 routes every backfill direct (see connKindFor)
}

type CoinalyzeConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key" env:"COINALYZE_KEY"`
}

type LogConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Production bool   `yaml:"production" env:"LOG_PRODUCTION"`
}

type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr" env:"HTTP_LISTEN_ADDR"`
}

type BackfillConfig struct {
	MaxConcurrentUnits int `yaml:"max_concurrent_units"`
}

type MetricsEngineConfig struct {
	IncrementalCadence time.Duration `yaml:"incremental_cadence"`
	MaxConcurrentKeys  int           `yaml:"max_concurrent_keys"`
	ChunkSize          int           `yaml:"chunk_size"`
}

// Default returns a config populated with the spec's defaults, to be
// overlaid by a YAML file and then environment variables.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Host: "localhost", Port: 5432, Name: "perpingest", SSLMode: "disable",
			MaxOpenConns: 10, MaxIdleConns: 5,
			ConnMaxLifetime: 30 * time.Minute, QueryTimeout: 30 * time.Second,
		},
		Retention: RetentionConfig{Days: 10},
		HTTP:      HTTPConfig{ListenAddr: ":9090"},
		Backfill:  BackfillConfig{MaxConcurrentUnits: 5},
		Metrics: MetricsEngineConfig{
			IncrementalCadence: 60 * time.Second,
			MaxConcurrentKeys:  8,
			ChunkSize:          5000,
		},
		Symbols: []string{"BTC", "ETH", "SOL", "MT"},
	}
}

// Load reads a YAML file over the defaults, then applies `env:"..."` struct
// tag overrides from the process environment. A missing path is not an
// error; Load returns defaults plus env overrides (useful for tests and for
// `ingestd healthcheck` run against a minimal environment).
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, cfg.Validate()
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Database.Port)
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("COINALYZE_KEY"); v != "" {
		cfg.Coinalyze.APIKey = v
	}
	if v := os.Getenv("HTTP_PROXY_URL"); v != "" {
		cfg.Proxy.URL = v
	}
	if v := os.Getenv("HTTP_PROXY_USER"); v != "" {
		cfg.Proxy.User = v
	}
	if v := os.Getenv("HTTP_PROXY_PASS"); v != "" {
		cfg.Proxy.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_PRODUCTION"); v != "" {
		fmt.Sscanf(v, "%t", &cfg.Log.Production)
	}
	if v := os.Getenv("HTTP_LISTEN_ADDR"); v != "" {
		cfg.HTTP.ListenAddr = v
	}
}

// Validate enforces error-taxonomy class 5 (configuration): missing DB
// connection details are fatal at startup.
func (c Config) Validate() error {
	if c.Database.Host == "" || c.Database.Name == "" {
		return fmt.Errorf("config: database host/name are required")
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
