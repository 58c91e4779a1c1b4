package keyresolver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalvas/fedsig/httpsig"
	"github.com/vitalvas/fedsig/keystore"
)

var (
	pairOnce sync.Once
	pair     *keystore.KeyPair
	pairErr  error
)

func testPair(t *testing.T) *keystore.KeyPair {
	t.Helper()

	pairOnce.Do(func() {
		pair, pairErr = keystore.Generate(2048)
	})
	require.NoError(t, pairErr)

	return pair
}

func publicPEM(t *testing.T) string {
	t.Helper()

	s, err := testPair(t).PublicKeyPEM()
	require.NoError(t, err)

	return s
}

func actorJSON(t *testing.T, actorID string) []byte {
	t.Helper()

	doc := map[string]any{
		"@context": []string{"https://www.w3.org/ns/activitystreams", "https://w3id.org/security/v1"},
		"id":       actorID,
		"type":     "Person",
		"inbox":    actorID + "/inbox",
		"publicKey": map[string]any{
			"id":           actorID + "#main-key",
			"owner":        actorID,
			"publicKeyPem": publicPEM(t),
		},
	}

	b, err := json.Marshal(doc)
	require.NoError(t, err)

	return b
}

func TestParseDocument(t *testing.T) {
	const actor = "https://remote.example/users/alice"
	const keyID = actor + "#main-key"

	pemText := publicPEM(t)

	t.Run("actor with key object", func(t *testing.T) {
		key, err := parseDocument(actorJSON(t, actor), keyID)
		require.NoError(t, err)

		assert.Equal(t, keyID, key.ID)
		assert.Equal(t, actor, key.Owner)
		assert.True(t, testPair(t).Public.Equal(key.Key))
	})

	t.Run("actor with key array", func(t *testing.T) {
		doc, err := json.Marshal(map[string]any{
			"id": actor,
			"publicKey": []map[string]any{
				{"id": actor + "#other", "owner": actor, "publicKeyPem": "garbage"},
				{"id": keyID, "owner": actor, "publicKeyPem": pemText},
			},
		})
		require.NoError(t, err)

		key, err := parseDocument(doc, keyID)
		require.NoError(t, err)
		assert.Equal(t, actor, key.Owner)
	})

	t.Run("bare key document", func(t *testing.T) {
		doc, err := json.Marshal(map[string]any{
			"id":           keyID,
			"owner":        actor,
			"publicKeyPem": pemText,
		})
		require.NoError(t, err)

		key, err := parseDocument(doc, keyID)
		require.NoError(t, err)
		assert.Equal(t, actor, key.Owner)
	})

	t.Run("crlf pem accepted", func(t *testing.T) {
		doc, err := json.Marshal(map[string]any{
			"id":           keyID,
			"publicKeyPem": strings.ReplaceAll(pemText, "\n", "\r\n"),
		})
		require.NoError(t, err)

		_, err = parseDocument(doc, keyID)
		assert.NoError(t, err)
	})

	t.Run("key not published", func(t *testing.T) {
		_, err := parseDocument(actorJSON(t, actor), actor+"#second-key")
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("bare key with other id", func(t *testing.T) {
		doc, err := json.Marshal(map[string]any{"id": actor + "#x", "publicKeyPem": pemText})
		require.NoError(t, err)

		_, err = parseDocument(doc, keyID)
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("owner differs from actor", func(t *testing.T) {
		doc, err := json.Marshal(map[string]any{
			"id": actor,
			"publicKey": map[string]any{
				"id":           keyID,
				"owner":        "https://evil.example/users/mallory",
				"publicKeyPem": pemText,
			},
		})
		require.NoError(t, err)

		_, err = parseDocument(doc, keyID)
		assert.ErrorIs(t, err, ErrInvalidDocument)
	})

	invalid := []struct {
		name string
		doc  string
	}{
		{"not json", `<html>`},
		{"no key", `{"id":"` + actor + `","type":"Person"}`},
		{"null key", `{"id":"` + actor + `","publicKey":null}`},
		{"empty pem", `{"id":"` + actor + `","publicKey":{"id":"` + keyID + `","publicKeyPem":""}}`},
		{"bad pem", `{"id":"` + actor + `","publicKey":{"id":"` + keyID + `","publicKeyPem":"not a key"}}`},
		{"key is a string", `{"id":"` + actor + `","publicKey":"` + keyID + `"}`},
	}

	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseDocument([]byte(tt.doc), keyID)
			assert.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

func TestDocumentURL(t *testing.T) {
	got, err := DocumentURL("https://remote.example/users/alice#main-key")
	require.NoError(t, err)
	assert.Equal(t, "https://remote.example/users/alice", got)

	got, err = DocumentURL("http://localhost:8080/actor")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/actor", got)

	for _, bad := range []string{"", "main-key", "/actor#main-key", "acct:alice@example.org", "ftp://remote.example/key", "https://"} {
		_, err := DocumentURL(bad)
		assert.ErrorIs(t, err, ErrKeyNotFound, bad)
	}
}

// keyServer serves an actor document at /users/alice and counts requests.
type keyServer struct {
	*httptest.Server

	calls   atomic.Int32
	handler func(w http.ResponseWriter, r *http.Request, call int32)
}

func newKeyServer(t *testing.T) *keyServer {
	t.Helper()

	ks := &keyServer{}
	ks.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := ks.calls.Add(1)
		ks.handler(w, r, call)
	}))
	t.Cleanup(ks.Close)

	ks.handler = func(w http.ResponseWriter, _ *http.Request, _ int32) {
		w.Header().Set("Content-Type", "application/activity+json")
		w.Write(actorJSON(t, ks.actor()))
	}

	return ks
}

func (ks *keyServer) actor() string { return ks.URL + "/users/alice" }
func (ks *keyServer) keyID() string { return ks.actor() + "#main-key" }

func fastConfig() Config {
	return Config{
		Timeout:     time.Second,
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
	}
}

func TestResolver(t *testing.T) {
	ctx := context.Background()

	t.Run("fetches and caches", func(t *testing.T) {
		ks := newKeyServer(t)

		var accept string
		inner := ks.handler
		ks.handler = func(w http.ResponseWriter, r *http.Request, call int32) {
			accept = r.Header.Get("Accept")
			inner(w, r, call)
		}

		r, err := New(fastConfig())
		require.NoError(t, err)

		key, err := r.ResolveKey(ctx, ks.keyID())
		require.NoError(t, err)
		assert.Equal(t, ks.actor(), key.Owner)
		assert.Equal(t, AcceptHeader, accept)

		again, err := r.ResolveKey(ctx, ks.keyID())
		require.NoError(t, err)
		assert.True(t, key.Key.Equal(again.Key))
		assert.Equal(t, int32(1), ks.calls.Load())
	})

	t.Run("user agent", func(t *testing.T) {
		ks := newKeyServer(t)

		var ua string
		inner := ks.handler
		ks.handler = func(w http.ResponseWriter, r *http.Request, call int32) {
			ua = r.Header.Get("User-Agent")
			inner(w, r, call)
		}

		cfg := fastConfig()
		cfg.UserAgent = "fedsig/test"
		r, err := New(cfg)
		require.NoError(t, err)

		_, err = r.ResolveKey(ctx, ks.keyID())
		require.NoError(t, err)
		assert.Equal(t, "fedsig/test", ua)
	})

	t.Run("not found is permanent", func(t *testing.T) {
		ks := newKeyServer(t)
		ks.handler = func(w http.ResponseWriter, _ *http.Request, _ int32) {
			w.WriteHeader(http.StatusGone)
		}

		r, err := New(fastConfig())
		require.NoError(t, err)

		_, err = r.ResolveKey(ctx, ks.keyID())
		assert.ErrorIs(t, err, ErrKeyNotFound)
		assert.Equal(t, int32(1), ks.calls.Load())
	})

	t.Run("client error is permanent", func(t *testing.T) {
		ks := newKeyServer(t)
		ks.handler = func(w http.ResponseWriter, _ *http.Request, _ int32) {
			w.WriteHeader(http.StatusUnauthorized)
		}

		r, err := New(fastConfig())
		require.NoError(t, err)

		_, err = r.ResolveKey(ctx, ks.keyID())
		assert.ErrorIs(t, err, ErrFetch)
		assert.Equal(t, int32(1), ks.calls.Load())
	})

	t.Run("server errors are retried", func(t *testing.T) {
		ks := newKeyServer(t)
		inner := ks.handler
		ks.handler = func(w http.ResponseWriter, r *http.Request, call int32) {
			switch call {
			case 1:
				w.WriteHeader(http.StatusServiceUnavailable)
			case 2:
				w.WriteHeader(http.StatusTooManyRequests)
			default:
				inner(w, r, call)
			}
		}

		r, err := New(fastConfig())
		require.NoError(t, err)

		_, err = r.ResolveKey(ctx, ks.keyID())
		require.NoError(t, err)
		assert.Equal(t, int32(3), ks.calls.Load())
	})

	t.Run("retries are bounded", func(t *testing.T) {
		ks := newKeyServer(t)
		ks.handler = func(w http.ResponseWriter, _ *http.Request, _ int32) {
			w.WriteHeader(http.StatusBadGateway)
		}

		cfg := fastConfig()
		cfg.Attempts = 2
		r, err := New(cfg)
		require.NoError(t, err)

		_, err = r.ResolveKey(ctx, ks.keyID())
		assert.ErrorIs(t, err, ErrFetch)
		assert.Equal(t, int32(2), ks.calls.Load())

		_, err = r.ResolveKey(ctx, ks.keyID())
		assert.Error(t, err)
		assert.Equal(t, int32(4), ks.calls.Load(), "failures are not cached")
	})

	t.Run("invalid document not retried", func(t *testing.T) {
		ks := newKeyServer(t)
		ks.handler = func(w http.ResponseWriter, _ *http.Request, _ int32) {
			w.Write([]byte(`{"id":"x"}`))
		}

		r, err := New(fastConfig())
		require.NoError(t, err)

		_, err = r.ResolveKey(ctx, ks.keyID())
		assert.ErrorIs(t, err, ErrInvalidDocument)
		assert.Equal(t, int32(1), ks.calls.Load())
	})

	t.Run("oversized document", func(t *testing.T) {
		ks := newKeyServer(t)
		ks.handler = func(w http.ResponseWriter, _ *http.Request, _ int32) {
			w.Write([]byte(strings.Repeat(" ", MaxDocumentSize+1)))
		}

		r, err := New(fastConfig())
		require.NoError(t, err)

		_, err = r.ResolveKey(ctx, ks.keyID())
		assert.ErrorIs(t, err, ErrInvalidDocument)
	})

	t.Run("attempt timeout", func(t *testing.T) {
		ks := newKeyServer(t)
		ks.handler = func(w http.ResponseWriter, r *http.Request, _ int32) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}

		cfg := fastConfig()
		cfg.Timeout = 20 * time.Millisecond
		cfg.Attempts = 1
		r, err := New(cfg)
		require.NoError(t, err)

		_, err = r.ResolveKey(ctx, ks.keyID())
		assert.ErrorIs(t, err, ErrFetch)
	})

	t.Run("invalid key id", func(t *testing.T) {
		r, err := New(fastConfig())
		require.NoError(t, err)

		_, err = r.ResolveKey(ctx, "acct:alice@remote.example")
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("one fetch for concurrent lookups", func(t *testing.T) {
		ks := newKeyServer(t)
		release := make(chan struct{})
		inner := ks.handler
		ks.handler = func(w http.ResponseWriter, r *http.Request, call int32) {
			<-release
			inner(w, r, call)
		}

		r, err := New(fastConfig())
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make(chan error, 10)

		for range 10 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				_, err := r.ResolveKey(ctx, ks.keyID())
				errs <- err
			}()
		}

		require.Eventually(t, func() bool { return ks.calls.Load() == 1 }, time.Second, time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()
		close(errs)

		for err := range errs {
			assert.NoError(t, err)
		}

		assert.Equal(t, int32(1), ks.calls.Load())
	})

	t.Run("waiter honours its own context", func(t *testing.T) {
		ks := newKeyServer(t)
		release := make(chan struct{})
		inner := ks.handler
		ks.handler = func(w http.ResponseWriter, r *http.Request, call int32) {
			<-release
			inner(w, r, call)
		}
		defer close(release)

		r, err := New(fastConfig())
		require.NoError(t, err)

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		_, err = r.ResolveKey(cctx, ks.keyID())
		assert.ErrorIs(t, err, ErrFetch)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("undecodable cache entry refetched", func(t *testing.T) {
		ks := newKeyServer(t)
		cache := NewMemoryCache(time.Minute, time.Minute)
		require.NoError(t, cache.Set(ctx, ks.keyID(), []byte("junk"), time.Minute))

		cfg := fastConfig()
		cfg.Cache = cache
		r, err := New(cfg)
		require.NoError(t, err)

		_, err = r.ResolveKey(ctx, ks.keyID())
		require.NoError(t, err)
		assert.Equal(t, int32(1), ks.calls.Load())

		data, ok := cache.Get(ctx, ks.keyID())
		require.True(t, ok)
		assert.Contains(t, string(data), "BEGIN PUBLIC KEY")
	})

	t.Run("usable by verifier", func(t *testing.T) {
		ks := newKeyServer(t)

		r, err := New(fastConfig())
		require.NoError(t, err)

		signer, err := httpsig.NewRSASigner(ks.keyID(), testPair(t).Private)
		require.NoError(t, err)

		req := httptest.NewRequest("POST", "https://local.example/inbox", strings.NewReader("{}"))
		require.NoError(t, httpsig.SignRequest(req, httpsig.SignConfig{Signer: signer}))

		res, err := httpsig.VerifyRequest(req, httpsig.VerifyConfig{Resolver: r, RequireDigest: true})
		require.NoError(t, err)
		assert.Equal(t, ks.actor(), res.Owner)
	})
}

func TestNew(t *testing.T) {
	_, err := New(Config{Timeout: -time.Second})
	assert.Error(t, err)

	_, err = New(Config{Attempts: -1})
	assert.Error(t, err)

	r, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultAttempts, r.attempts)
	assert.Equal(t, DefaultTimeout, r.timeout)
	assert.Equal(t, DefaultCacheTTL, r.ttl)
}

func TestBackoff(t *testing.T) {
	r, err := New(Config{BackoffBase: 200 * time.Millisecond, BackoffMax: time.Second})
	require.NoError(t, err)

	assert.Equal(t, 200*time.Millisecond, r.backoff(1))
	assert.Equal(t, 400*time.Millisecond, r.backoff(2))
	assert.Equal(t, 800*time.Millisecond, r.backoff(3))
	assert.Equal(t, time.Second, r.backoff(4))
	assert.Equal(t, time.Second, r.backoff(10))
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute, time.Minute)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	v, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)

	t.Run("expiry", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "short", []byte("v"), 10*time.Millisecond))
		time.Sleep(20 * time.Millisecond)

		_, ok := c.Get(ctx, "short")
		assert.False(t, ok)
	})
}

func TestRedisCacheUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	c := NewRedisCache(client, "fedsig:keys")
	t.Cleanup(func() { c.Close() })

	ctx := context.Background()

	assert.Equal(t, "fedsig:keys:k", c.key("k"))
	assert.Equal(t, "k", NewRedisCache(client, "").key("k"))

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Error(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	assert.Error(t, c.Ping(ctx))
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	key := &httpsig.PublicKey{ID: "https://local.example/actor#main-key", Key: testPair(t).Public}

	s := NewStatic(key)

	got, err := s.ResolveKey(ctx, key.ID)
	require.NoError(t, err)
	assert.Same(t, key, got)

	_, err = s.ResolveKey(ctx, "https://local.example/other#main-key")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	local := &httpsig.PublicKey{ID: "https://local.example/actor#main-key", Key: testPair(t).Public}
	remote := &httpsig.PublicKey{ID: "https://remote.example/actor#main-key", Key: testPair(t).Public}

	t.Run("falls through on not found", func(t *testing.T) {
		r := Chain(NewStatic(local), NewStatic(remote))

		got, err := r.ResolveKey(ctx, remote.ID)
		require.NoError(t, err)
		assert.Same(t, remote, got)
	})

	t.Run("stops on other errors", func(t *testing.T) {
		failing := httpsig.KeyResolverFunc(func(context.Context, string) (*httpsig.PublicKey, error) {
			return nil, ErrFetch
		})

		_, err := Chain(failing, NewStatic(remote)).ResolveKey(ctx, remote.ID)
		assert.ErrorIs(t, err, ErrFetch)
	})

	t.Run("nothing matches", func(t *testing.T) {
		_, err := Chain(NewStatic(local)).ResolveKey(ctx, remote.ID)
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("empty chain", func(t *testing.T) {
		_, err := Chain().ResolveKey(ctx, remote.ID)
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})
}
