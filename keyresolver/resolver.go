// Package keyresolver dereferences HTTP Signature keyIds to RSA public keys.
//
// A Resolver fetches the document a keyId points at (an ActivityPub actor
// or a standalone key document), extracts the matching publicKeyPem and
// caches the result. Concurrent lookups of the same keyId share one fetch.
package keyresolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vitalvas/fedsig/httpsig"
	"github.com/vitalvas/fedsig/logger"
	"github.com/vitalvas/fedsig/metrics"
)

const (
	DefaultTimeout     = 5 * time.Second
	DefaultCacheTTL    = 10 * time.Minute
	DefaultAttempts    = 3
	DefaultBackoffBase = 200 * time.Millisecond
	DefaultBackoffMax  = 2 * time.Second

	// MaxDocumentSize caps the size of a fetched key document.
	MaxDocumentSize = 1 << 20
)

// AcceptHeader is sent with every key document request.
const AcceptHeader = `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`

// Config configures a Resolver. Zero values select the defaults above.
type Config struct {
	// Client performs the fetches. Wrap its transport with
	// httpsig.NewTransport to sign them for servers that require it.
	Client *http.Client

	// Timeout bounds each fetch attempt.
	Timeout time.Duration

	// Attempts is the maximum number of tries for transient failures.
	Attempts int

	BackoffBase time.Duration
	BackoffMax  time.Duration

	// Cache stores resolved keys. Defaults to a MemoryCache.
	Cache    Cache
	CacheTTL time.Duration

	UserAgent string

	Metrics *metrics.Metrics
}

// Resolver implements httpsig.KeyResolver over HTTP.
type Resolver struct {
	client      *http.Client
	cache       Cache
	ttl         time.Duration
	timeout     time.Duration
	attempts    int
	backoffBase time.Duration
	backoffMax  time.Duration
	userAgent   string
	metrics     *metrics.Metrics

	group singleflight.Group
}

var _ httpsig.KeyResolver = (*Resolver)(nil)

// New creates a Resolver. Negative durations or attempts are rejected.
func New(cfg Config) (*Resolver, error) {
	if cfg.Timeout < 0 || cfg.CacheTTL < 0 || cfg.BackoffBase < 0 || cfg.BackoffMax < 0 || cfg.Attempts < 0 {
		return nil, fmt.Errorf("keyresolver: negative timeout, ttl, backoff or attempts")
	}

	r := &Resolver{
		client:      cfg.Client,
		cache:       cfg.Cache,
		ttl:         orDefault(cfg.CacheTTL, DefaultCacheTTL),
		timeout:     orDefault(cfg.Timeout, DefaultTimeout),
		attempts:    cfg.Attempts,
		backoffBase: orDefault(cfg.BackoffBase, DefaultBackoffBase),
		backoffMax:  orDefault(cfg.BackoffMax, DefaultBackoffMax),
		userAgent:   cfg.UserAgent,
		metrics:     cfg.Metrics,
	}

	if r.client == nil {
		r.client = &http.Client{}
	}

	if r.attempts == 0 {
		r.attempts = DefaultAttempts
	}

	if r.cache == nil {
		r.cache = NewMemoryCache(r.ttl, time.Minute)
	}

	return r, nil
}

func orDefault(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}

	return v
}

// ResolveKey returns the public key named by keyID, from cache when
// possible. The fetch itself is shared between concurrent callers and is
// not cancelled when one of them gives up; each caller stops waiting when
// its own ctx is done.
func (r *Resolver) ResolveKey(ctx context.Context, keyID string) (*httpsig.PublicKey, error) {
	docURL, err := DocumentURL(keyID)
	if err != nil {
		return nil, err
	}

	if key, ok := r.cached(ctx, keyID); ok {
		return key, nil
	}

	ch := r.group.DoChan(keyID, func() (any, error) {
		return r.fetch(context.WithoutCancel(ctx), keyID, docURL)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrFetch, ctx.Err())

	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		return res.Val.(*httpsig.PublicKey), nil
	}
}

// DocumentURL returns the URL to fetch for keyID: the keyId without its
// fragment. Only absolute http and https URLs are accepted.
func DocumentURL(keyID string) (string, error) {
	u, err := url.Parse(keyID)
	if err != nil {
		return "", fmt.Errorf("%w: keyId %q: %v", ErrKeyNotFound, keyID, err)
	}

	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return "", fmt.Errorf("%w: keyId %q is not an http(s) URL", ErrKeyNotFound, keyID)
	}

	u.Fragment = ""
	u.RawFragment = ""

	return u.String(), nil
}

func (r *Resolver) cached(ctx context.Context, keyID string) (*httpsig.PublicKey, bool) {
	data, ok := r.cache.Get(ctx, keyID)
	if ok {
		key, err := decodeKey(data)
		if err == nil {
			r.metrics.ObserveKeyCache(true)
			return key, true
		}

		logger.From(ctx).Warn("dropping undecodable cache entry", logger.KeyID(keyID), logger.Err(err))
		_ = r.cache.Delete(ctx, keyID)
	}

	r.metrics.ObserveKeyCache(false)

	return nil, false
}

func (r *Resolver) store(ctx context.Context, key *httpsig.PublicKey) {
	data, err := encodeKey(key)
	if err == nil {
		err = r.cache.Set(ctx, key.ID, data, r.ttl)
	}

	if err != nil {
		logger.From(ctx).Warn("key not cached", logger.KeyID(key.ID), logger.Err(err))
	}
}

func (r *Resolver) fetch(ctx context.Context, keyID, docURL string) (*httpsig.PublicKey, error) {
	log := logger.From(ctx).With(logger.Component("keyresolver"), logger.KeyID(keyID))
	start := time.Now()

	var (
		key *httpsig.PublicKey
		err error
	)

	for attempt := 1; attempt <= r.attempts; attempt++ {
		if attempt > 1 {
			wait := r.backoff(attempt - 1)
			log.Debug("retrying key fetch", logger.Attempt(attempt), zap.Duration("backoff", wait), logger.Err(err))

			if werr := sleep(ctx, wait); werr != nil {
				break
			}
		}

		var data []byte

		data, err = r.get(ctx, docURL)
		if err == nil {
			key, err = parseDocument(data, keyID)
			break
		}

		if !isTransient(err) {
			break
		}
	}

	r.metrics.ObserveKeyFetch(errorClass(err), time.Since(start).Seconds())

	if err != nil {
		log.Info("key fetch failed", logger.Err(err))
		return nil, err
	}

	r.store(ctx, key)
	log.Debug("key fetched", logger.Owner(key.Owner))

	return key, nil
}

// backoff returns the wait before retry n (1-based): BackoffBase doubled
// n-1 times, capped at BackoffMax.
func (r *Resolver) backoff(n int) time.Duration {
	d := r.backoffBase
	for i := 1; i < n && d < r.backoffMax; i++ {
		d *= 2
	}

	return min(d, r.backoffMax)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Resolver) get(ctx context.Context, docURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	req.Header.Set("Accept", AcceptHeader)

	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, transient(fmt.Errorf("%w: %w", ErrFetch, err))
	}
	defer resp.Body.Close()

	switch code := resp.StatusCode; {
	case code == http.StatusNotFound || code == http.StatusGone:
		return nil, fmt.Errorf("%w: %s returned %d", ErrKeyNotFound, docURL, code)
	case code == http.StatusTooManyRequests || code >= 500:
		return nil, transient(fmt.Errorf("%w: %s returned %d", ErrFetch, docURL, code))
	case code < 200 || code > 299:
		return nil, fmt.Errorf("%w: %s returned %d", ErrFetch, docURL, code)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxDocumentSize+1))
	if err != nil {
		return nil, transient(fmt.Errorf("%w: read %s: %w", ErrFetch, docURL, err))
	}

	if len(body) > MaxDocumentSize {
		return nil, fmt.Errorf("%w: document larger than %d bytes", ErrInvalidDocument, MaxDocumentSize)
	}

	return body, nil
}
