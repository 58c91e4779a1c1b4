package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FEDSIG_"

// applyEnvOverrides applies FEDSIG_* variables over the loaded values.
// Malformed numbers, booleans and durations are reported rather than
// ignored.
func (c *Config) applyEnvOverrides() error {
	e := envReader{}

	e.str("APP_ENV", &c.App.Env)

	e.str("SERVER_ADDR", &c.Server.Addr)
	e.dur("SERVER_READ_TIMEOUT", &c.Server.ReadTimeout)
	e.dur("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeout)
	e.dur("SERVER_IDLE_TIMEOUT", &c.Server.IdleTimeout)
	e.dur("SERVER_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)
	e.dur("SERVER_HANDLER_TIMEOUT", &c.Server.HandlerTimeout)
	e.int64("SERVER_MAX_BODY_BYTES", &c.Server.MaxBodyBytes)
	e.csv("SERVER_TRUSTED_PROXIES", &c.Server.TrustedProxies)

	e.str("ACTOR_SCHEME", &c.Actor.Scheme)
	e.str("ACTOR_DOMAIN", &c.Actor.Domain)
	e.str("ACTOR_USER", &c.Actor.User)

	e.str("KEYS_PRIVATE_PATH", &c.Keys.PrivatePath)
	e.str("KEYS_PUBLIC_PATH", &c.Keys.PublicPath)
	e.int("KEYS_BITS", &c.Keys.Bits)

	e.csv("SIGNATURE_HEADERS", &c.Signature.Headers)
	e.bool("SIGNATURE_INCLUDE_QUERY", &c.Signature.IncludeQuery)
	e.dur("SIGNATURE_CLOCK_SKEW", &c.Signature.ClockSkew)
	e.bool("SIGNATURE_REQUIRE_DIGEST", &c.Signature.RequireDigest)

	e.dur("RESOLVER_TIMEOUT", &c.Resolver.Timeout)
	e.dur("RESOLVER_CACHE_TTL", &c.Resolver.CacheTTL)
	e.int("RESOLVER_ATTEMPTS", &c.Resolver.Attempts)
	e.dur("RESOLVER_BACKOFF_BASE", &c.Resolver.BackoffBase)
	e.dur("RESOLVER_BACKOFF_MAX", &c.Resolver.BackoffMax)
	e.bool("RESOLVER_SIGNED_FETCH", &c.Resolver.SignedFetch)

	e.str("CACHE_KIND", &c.Cache.Kind)
	e.str("CACHE_REDIS_ADDR", &c.Cache.Redis.Addr)
	e.int("CACHE_REDIS_DB", &c.Cache.Redis.DB)
	e.str("CACHE_REDIS_PASSWORD", &c.Cache.Redis.Password)
	e.str("CACHE_REDIS_PREFIX", &c.Cache.Redis.Prefix)

	e.str("LOG_ENV", &c.Log.Env)
	e.str("LOG_LEVEL", &c.Log.Level)

	e.dur("DELIVERY_TIMEOUT", &c.Delivery.Timeout)
	e.str("DELIVERY_USER_AGENT", &c.Delivery.UserAgent)

	return e.err
}

type envReader struct {
	err error
}

func (e *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}

	return strings.TrimSpace(v), true
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err)
	}
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}

		*dst = n
	}
}

func (e *envReader) int64(key string, dst *int64) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, err)
			return
		}

		*dst = n
	}
}

func (e *envReader) bool(key string, dst *bool) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, err)
			return
		}

		*dst = b
	}
}

func (e *envReader) dur(key string, dst *time.Duration) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}

		*dst = d
	}
}

func (e *envReader) csv(key string, dst *[]string) {
	if v, ok := e.lookup(key); ok {
		var out []string

		for part := range strings.SplitSeq(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, strings.ToLower(p))
			}
		}

		*dst = out
	}
}
