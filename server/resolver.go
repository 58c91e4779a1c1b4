package server

import (
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/vitalvas/fedsig/activitypub"
	"github.com/vitalvas/fedsig/config"
	"github.com/vitalvas/fedsig/httpsig"
	"github.com/vitalvas/fedsig/keyresolver"
	"github.com/vitalvas/fedsig/keystore"
	"github.com/vitalvas/fedsig/metrics"
)

// fetchHeaders are signed on key fetches when signed fetch is enabled.
var fetchHeaders = []string{httpsig.HeaderRequestTarget, httpsig.HeaderHost, httpsig.HeaderDate}

type builtResolver struct {
	resolver httpsig.KeyResolver
	checks   []Check
	cleanup  []func() error
}

// buildResolver assembles the key resolver from configuration: the local
// actor's key first, then remote fetches through the configured cache.
func buildResolver(cfg *config.Config, kp *keystore.KeyPair, id activitypub.Identity, m *metrics.Metrics) (*builtResolver, error) {
	out := &builtResolver{}

	client := &http.Client{}

	if cfg.Resolver.SignedFetch {
		signer, err := httpsig.NewRSASigner(id.KeyID, kp.Private)
		if err != nil {
			return nil, fmt.Errorf("server: signed fetch: %w", err)
		}

		client.Transport = httpsig.NewTransport(nil, httpsig.SignConfig{
			Signer:  signer,
			Headers: fetchHeaders,
		})
	}

	rcfg := keyresolver.Config{
		Client:      client,
		Timeout:     cfg.Resolver.Timeout,
		Attempts:    cfg.Resolver.Attempts,
		BackoffBase: cfg.Resolver.BackoffBase,
		BackoffMax:  cfg.Resolver.BackoffMax,
		CacheTTL:    cfg.Resolver.CacheTTL,
		UserAgent:   cfg.Delivery.UserAgent,
		Metrics:     m,
	}

	switch cfg.Cache.Kind {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			DB:       cfg.Cache.Redis.DB,
			Password: cfg.Cache.Redis.Password,
		})

		cache := keyresolver.NewRedisCache(rdb, cfg.Cache.Redis.Prefix)

		rcfg.Cache = cache
		out.checks = append(out.checks, Check{Name: "redis", Check: cache.Ping})
		out.cleanup = append(out.cleanup, cache.Close)

	case "memory", "":
		rcfg.Cache = keyresolver.NewMemoryCache(cfg.Resolver.CacheTTL, cfg.Resolver.CacheTTL)

	default:
		return nil, fmt.Errorf("server: unknown cache kind %q", cfg.Cache.Kind)
	}

	remote, err := keyresolver.New(rcfg)
	if err != nil {
		for _, fn := range out.cleanup {
			_ = fn()
		}

		return nil, fmt.Errorf("server: %w", err)
	}

	out.resolver = withLocalKey(remote, kp, id)

	return out, nil
}

// withLocalKey answers lookups of the local actor's own key from memory
// and sends everything else to next.
func withLocalKey(next httpsig.KeyResolver, kp *keystore.KeyPair, id activitypub.Identity) httpsig.KeyResolver {
	local := keyresolver.NewStatic(&httpsig.PublicKey{
		ID:    id.KeyID,
		Owner: id.ID,
		Key:   kp.Public,
	})

	return keyresolver.Chain(local, next)
}
