package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// SQLite drivers.
const (
	DriverMattn   = "sqlite3" // github.com/mattn/go-sqlite3, cgo
	DriverModernc = "sqlite"  // modernc.org/sqlite, pure Go
)

// Config captures the tunables required to start the gateway.
type Config struct {
	Addr string `yaml:"addr"`
	// Allowed is the raw origin allow-list, the ALLOWED variable of the
	// deployment. Empty means open access.
	Allowed string          `yaml:"allowed"`
	Log     LogConfig       `yaml:"log"`
	HTTP    HTTPConfig      `yaml:"http"`
	Store   StoreConfig     `yaml:"store"`
	Assets  AssetsConfig    `yaml:"assets"`
	Pow     PowConfig       `yaml:"pow"`
	Logger  *zerolog.Logger `yaml:"-"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type HTTPConfig struct {
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
}

type StoreConfig struct {
	Backend       string         `yaml:"backend"`
	SweepInterval time.Duration  `yaml:"sweep_interval"`
	SQLite        SQLiteConfig   `yaml:"sqlite"`
	Postgres      PostgresConfig `yaml:"postgres"`
	Redis         RedisConfig    `yaml:"redis"`
}

type SQLiteConfig struct {
	Path         string        `yaml:"path"`
	Driver       string        `yaml:"driver"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
}

type PostgresConfig struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"max_conns"`
	MinConns          int32         `yaml:"min_conns"`
	MaxConnLifetime   time.Duration `yaml:"max_conn_lifetime"`
	HealthCheckPeriod time.Duration `yaml:"health_check_period"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type AssetsConfig struct {
	// Dir serves assets from a directory instead of the embedded bundle.
	Dir               string      `yaml:"dir"`
	ProtectedPrefixes []string    `yaml:"protected_prefixes"`
	Aliases           []AliasRule `yaml:"aliases"`
}

// AliasRule rewrites or redirects request paths before asset lookup.
// Match is a doublestar pattern. Exactly one of Rewrite or Redirect is set.
type AliasRule struct {
	Match    string `yaml:"match"`
	Rewrite  string `yaml:"rewrite"`
	Redirect string `yaml:"redirect"`
	Status   int    `yaml:"status"`
}

type PowConfig struct {
	ChallengeCount      int           `yaml:"challenge_count"`
	ChallengeSize       int           `yaml:"challenge_size"`
	ChallengeDifficulty int           `yaml:"challenge_difficulty"`
	ChallengeTTL        time.Duration `yaml:"challenge_ttl"`
	TokenTTL            time.Duration `yaml:"token_ttl"`
	KeepTokens          bool          `yaml:"keep_tokens"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Addr: ":8787",
		Log: LogConfig{
			Level: "info",
		},
		HTTP: HTTPConfig{
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			MaxBodyBytes:      1 << 20,
		},
		Store: StoreConfig{
			Backend:       BackendSQLite,
			SweepInterval: 5 * time.Minute,
			SQLite: SQLiteConfig{
				Path:         "capgate.db",
				Driver:       DriverMattn,
				BusyTimeout:  5 * time.Second,
				MaxOpenConns: 25,
			},
			Postgres: PostgresConfig{
				MaxConns:          10,
				MinConns:          1,
				MaxConnLifetime:   30 * time.Minute,
				HealthCheckPeriod: 30 * time.Second,
			},
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "capgate",
			},
		},
		Assets: AssetsConfig{
			ProtectedPrefixes: []string{"/api", "/widget"},
			Aliases:           DefaultAliases(),
		},
		Pow: PowConfig{
			ChallengeCount:      50,
			ChallengeSize:       32,
			ChallengeDifficulty: 4,
			ChallengeTTL:        10 * time.Minute,
			TokenTTL:            20 * time.Minute,
		},
	}
}

// DefaultAliases serves the demo page at the root and sends the bare widget
// namespace to the widget script.
func DefaultAliases() []AliasRule {
	return []AliasRule{
		{Match: "/", Rewrite: "/demo/landing.html"},
		{Match: "/demo", Rewrite: "/demo/landing.html"},
		{Match: "/landing.html", Rewrite: "/demo/landing.html"},
		{Match: "/widget", Redirect: "/widget/widget.js", Status: 302},
	}
}

// Load reads the YAML file at path on top of Default, applies environment
// overrides and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// applyEnv overrides file values with the deployment environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("ALLOWED"); ok {
		c.Allowed = v
	}
	if v, ok := lookup("CAPGATE_ADDR"); ok && v != "" {
		c.Addr = v
	}
	if v, ok := lookup("CAPGATE_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("CAPGATE_STORE_BACKEND"); ok && v != "" {
		c.Store.Backend = v
	}
	if v, ok := lookup("CAPGATE_SQLITE_PATH"); ok && v != "" {
		c.Store.SQLite.Path = v
	}
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.Store.Postgres.DSN = v
	}
	if v, ok := lookup("CAPGATE_REDIS_ADDR"); ok && v != "" {
		c.Store.Redis.Addr = v
	}
	if v, ok := lookup("CAPGATE_ASSETS_DIR"); ok && v != "" {
		c.Assets.Dir = v
	}
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Store.SQLite.Driver == "" {
		c.Store.SQLite.Driver = d.Store.SQLite.Driver
	}
	if c.Store.SQLite.BusyTimeout == 0 {
		c.Store.SQLite.BusyTimeout = d.Store.SQLite.BusyTimeout
	}
	if c.Store.SQLite.MaxOpenConns == 0 {
		c.Store.SQLite.MaxOpenConns = d.Store.SQLite.MaxOpenConns
	}
	if c.Store.Redis.Prefix == "" {
		c.Store.Redis.Prefix = d.Store.Redis.Prefix
	}
	if c.HTTP.ReadHeaderTimeout == 0 {
		c.HTTP.ReadHeaderTimeout = d.HTTP.ReadHeaderTimeout
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = d.HTTP.ShutdownTimeout
	}
	if c.HTTP.MaxBodyBytes == 0 {
		c.HTTP.MaxBodyBytes = d.HTTP.MaxBodyBytes
	}
	for i := range c.Assets.Aliases {
		a := &c.Assets.Aliases[i]
		if a.Redirect != "" && a.Status == 0 {
			a.Status = 302
		}
	}
}
