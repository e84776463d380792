package config

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog"
)

// Validate checks that the configuration is usable. Field problems are
// reported together as criterio field errors.
func (c *Config) Validate() error {
	return criterio.ValidateStruct(
		criterio.Run("addr", c.Addr, notBlank),
		criterio.Run("log.level", c.Log.Level, logLevel),
		c.Store.validate(),
		c.Assets.validate(),
		c.Pow.validate(),
		c.HTTP.validate(),
	)
}

func (s StoreConfig) validate() error {
	var errs criterio.FieldErrorsBuilder

	if s.SweepInterval < 0 {
		errs = errs.Append("store.sweep_interval", fmt.Errorf("must not be negative"))
	}

	switch s.Backend {
	case BackendSQLite:
		if strings.TrimSpace(s.SQLite.Path) == "" {
			errs = errs.Append("store.sqlite.path", fmt.Errorf("is required"))
		}
		if s.SQLite.Driver != DriverMattn && s.SQLite.Driver != DriverModernc {
			errs = errs.Append("store.sqlite.driver", fmt.Errorf("must be %q or %q, got %q", DriverMattn, DriverModernc, s.SQLite.Driver))
		}
		if s.SQLite.MaxOpenConns < 1 {
			errs = errs.Append("store.sqlite.max_open_conns", fmt.Errorf("must be at least 1"))
		}
	case BackendPostgres:
		if strings.TrimSpace(s.Postgres.DSN) == "" {
			errs = errs.Append("store.postgres.dsn", fmt.Errorf("is required (or set DATABASE_URL)"))
		}
		if s.Postgres.MaxConns < 1 {
			errs = errs.Append("store.postgres.max_conns", fmt.Errorf("must be at least 1"))
		}
		if s.Postgres.MinConns < 0 || s.Postgres.MinConns > s.Postgres.MaxConns {
			errs = errs.Append("store.postgres.min_conns", fmt.Errorf("must be between 0 and max_conns"))
		}
	case BackendRedis:
		if strings.TrimSpace(s.Redis.Addr) == "" {
			errs = errs.Append("store.redis.addr", fmt.Errorf("is required"))
		}
		if s.Redis.DB < 0 {
			errs = errs.Append("store.redis.db", fmt.Errorf("must not be negative"))
		}
	case BackendMemory:
	default:
		errs = errs.Append("store.backend", fmt.Errorf("unknown backend %q", s.Backend))
	}

	return errs.ToError()
}

func (a AssetsConfig) validate() error {
	var errs criterio.FieldErrorsBuilder

	for i, p := range a.ProtectedPrefixes {
		if !strings.HasPrefix(p, "/") {
			errs = errs.Append(fmt.Sprintf("assets.protected_prefixes[%d]", i), fmt.Errorf("must start with /"))
		}
	}

	for i, rule := range a.Aliases {
		field := fmt.Sprintf("assets.aliases[%d]", i)
		if !doublestar.ValidatePattern(rule.Match) {
			errs = errs.Append(field+".match", fmt.Errorf("invalid pattern %q", rule.Match))
		}
		switch {
		case rule.Rewrite == "" && rule.Redirect == "":
			errs = errs.Append(field, fmt.Errorf("needs rewrite or redirect"))
		case rule.Rewrite != "" && rule.Redirect != "":
			errs = errs.Append(field, fmt.Errorf("cannot have both rewrite and redirect"))
		case rule.Rewrite != "" && !strings.HasPrefix(rule.Rewrite, "/"):
			errs = errs.Append(field+".rewrite", fmt.Errorf("must start with /"))
		}
		if rule.Redirect != "" && (rule.Status < 300 || rule.Status > 399 || http.StatusText(rule.Status) == "") {
			errs = errs.Append(field+".status", fmt.Errorf("invalid redirect status %d", rule.Status))
		}
	}

	return errs.ToError()
}

func (p PowConfig) validate() error {
	var errs criterio.FieldErrorsBuilder

	if p.ChallengeCount < 1 {
		errs = errs.Append("pow.challenge_count", fmt.Errorf("must be at least 1"))
	}
	if p.ChallengeSize < 1 {
		errs = errs.Append("pow.challenge_size", fmt.Errorf("must be at least 1"))
	}
	if p.ChallengeDifficulty < 1 || p.ChallengeDifficulty > 64 {
		errs = errs.Append("pow.challenge_difficulty", fmt.Errorf("must be between 1 and 64"))
	}
	if p.ChallengeTTL <= 0 {
		errs = errs.Append("pow.challenge_ttl", fmt.Errorf("must be positive"))
	}
	if p.TokenTTL <= 0 {
		errs = errs.Append("pow.token_ttl", fmt.Errorf("must be positive"))
	}

	return errs.ToError()
}

func (h HTTPConfig) validate() error {
	var errs criterio.FieldErrorsBuilder

	if h.MaxBodyBytes < 1 {
		errs = errs.Append("http.max_body_bytes", fmt.Errorf("must be at least 1"))
	}
	if h.ReadHeaderTimeout < 0 || h.ReadTimeout < 0 || h.WriteTimeout < 0 || h.IdleTimeout < 0 {
		errs = errs.Append("http", fmt.Errorf("timeouts must not be negative"))
	}

	return errs.ToError()
}

func notBlank(v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("is required")
	}
	return nil
}

func logLevel(v string) error {
	if _, err := zerolog.ParseLevel(v); err != nil {
		return fmt.Errorf("invalid level %q", v)
	}
	return nil
}
