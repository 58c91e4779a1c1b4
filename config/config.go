// Package config loads fedsig settings from a YAML file, environment
// variables and built-in defaults, in increasing order of precedence:
// defaults, file, FEDSIG_* variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("config: invalid")

type Config struct {
	App struct {
		// dev | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr            string        `yaml:"addr"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		IdleTimeout     time.Duration `yaml:"idle_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		HandlerTimeout  time.Duration `yaml:"handler_timeout"`
		MaxBodyBytes    int64         `yaml:"max_body_bytes"`

		// TrustedProxies enables X-Forwarded-* handling for peers in these
		// addresses or CIDR ranges. Empty disables it.
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"server"`

	Actor struct {
		Scheme string `yaml:"scheme"`
		Domain string `yaml:"domain"`
		User   string `yaml:"user"`
	} `yaml:"actor"`

	Keys struct {
		PrivatePath string `yaml:"private_path"`
		PublicPath  string `yaml:"public_path"`
		Bits        int    `yaml:"bits"`
	} `yaml:"keys"`

	Signature struct {
		Headers       []string      `yaml:"headers"`
		IncludeQuery  bool          `yaml:"include_query"`
		ClockSkew     time.Duration `yaml:"clock_skew"`
		RequireDigest bool          `yaml:"require_digest"`
	} `yaml:"signature"`

	Resolver struct {
		Timeout     time.Duration `yaml:"timeout"`
		CacheTTL    time.Duration `yaml:"cache_ttl"`
		Attempts    int           `yaml:"attempts"`
		BackoffBase time.Duration `yaml:"backoff_base"`
		BackoffMax  time.Duration `yaml:"backoff_max"`
		SignedFetch bool          `yaml:"signed_fetch"`
	} `yaml:"resolver"`

	Cache struct {
		// memory | redis
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr     string `yaml:"addr"`
			DB       int    `yaml:"db"`
			Password string `yaml:"password"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Log struct {
		// dev | prod; defaults to app.env
		Env   string `yaml:"env"`
		Level string `yaml:"level"`
	} `yaml:"log"`

	Delivery struct {
		Timeout   time.Duration `yaml:"timeout"`
		UserAgent string        `yaml:"user_agent"`
	} `yaml:"delivery"`
}

// Default returns the built-in configuration.
func Default() *Config {
	var c Config

	c.App.Env = "dev"

	c.Server.Addr = "0.0.0.0:8080"
	c.Server.ReadTimeout = 10 * time.Second
	c.Server.WriteTimeout = 30 * time.Second
	c.Server.IdleTimeout = 60 * time.Second
	c.Server.ShutdownTimeout = 15 * time.Second
	c.Server.HandlerTimeout = 20 * time.Second
	c.Server.MaxBodyBytes = 1 << 20

	c.Actor.Scheme = "https"

	c.Keys.PrivatePath = "private.pem"
	c.Keys.PublicPath = "public.pem"
	c.Keys.Bits = 2048

	c.Signature.Headers = []string{"(request-target)", "host", "date", "digest"}
	c.Signature.ClockSkew = 300 * time.Second
	c.Signature.RequireDigest = true

	c.Resolver.Timeout = 5 * time.Second
	c.Resolver.CacheTTL = 10 * time.Minute
	c.Resolver.Attempts = 3
	c.Resolver.BackoffBase = 200 * time.Millisecond
	c.Resolver.BackoffMax = 2 * time.Second

	c.Cache.Kind = "memory"
	c.Cache.Redis.Addr = "localhost:6379"
	c.Cache.Redis.Prefix = "fedsig:keys"

	c.Log.Level = "info"

	c.Delivery.Timeout = 10 * time.Second
	c.Delivery.UserAgent = "fedsig/1.0"

	return &c
}

// Load reads the YAML file at path over the defaults and applies FEDSIG_*
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}

		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := c.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if c.Log.Env == "" {
		c.Log.Env = c.App.Env
	}

	for i, h := range c.Signature.Headers {
		c.Signature.Headers[i] = strings.ToLower(strings.TrimSpace(h))
	}

	return c, nil
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	var problems []string

	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.App.Env == "dev" || c.App.Env == "prod", "app.env must be dev or prod, got %q", c.App.Env)
	check(c.Server.Addr != "", "server.addr is required")
	check(c.Server.ReadTimeout > 0, "server.read_timeout must be positive")
	check(c.Server.WriteTimeout > 0, "server.write_timeout must be positive")
	check(c.Server.IdleTimeout > 0, "server.idle_timeout must be positive")
	check(c.Server.ShutdownTimeout > 0, "server.shutdown_timeout must be positive")
	check(c.Server.HandlerTimeout > 0, "server.handler_timeout must be positive")
	check(c.Server.MaxBodyBytes > 0, "server.max_body_bytes must be positive")
	check(c.Actor.Scheme == "https" || c.Actor.Scheme == "http", "actor.scheme must be https or http")
	check(strings.TrimSpace(c.Actor.Domain) != "", "actor.domain is required")
	check(strings.TrimSpace(c.Actor.User) != "", "actor.user is required")
	check(c.Keys.PrivatePath != "", "keys.private_path is required")
	check(c.Keys.PublicPath != "", "keys.public_path is required")
	check(c.Keys.Bits >= 2048, "keys.bits must be at least 2048, got %d", c.Keys.Bits)
	check(hasHeader(c.Signature.Headers, "(request-target)"), "signature.headers must include (request-target)")
	check(hasHeader(c.Signature.Headers, "digest"), "signature.headers must include digest")
	check(c.Signature.RequireDigest, "signature.require_digest must be true, the inbox only accepts bodies bound by a digest")
	check(c.Signature.ClockSkew > 0, "signature.clock_skew must be positive")
	check(c.Resolver.Timeout > 0, "resolver.timeout must be positive")
	check(c.Resolver.CacheTTL > 0, "resolver.cache_ttl must be positive")
	check(c.Resolver.Attempts > 0, "resolver.attempts must be positive")
	check(c.Resolver.BackoffBase > 0, "resolver.backoff_base must be positive")
	check(c.Resolver.BackoffMax >= c.Resolver.BackoffBase, "resolver.backoff_max must not be below backoff_base")
	check(c.Cache.Kind == "memory" || c.Cache.Kind == "redis", "cache.kind must be memory or redis, got %q", c.Cache.Kind)
	check(c.Cache.Kind != "redis" || c.Cache.Redis.Addr != "", "cache.redis.addr is required for the redis cache")
	check(c.Delivery.Timeout > 0, "delivery.timeout must be positive")

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}

	return nil
}

func hasHeader(headers []string, name string) bool {
	return slices.ContainsFunc(headers, func(h string) bool {
		return strings.EqualFold(strings.TrimSpace(h), name)
	})
}
