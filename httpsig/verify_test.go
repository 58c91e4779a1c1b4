package httpsig

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRequest(t *testing.T) {
	priv, other := testKeys(t)

	signer, err := NewRSASigner(testKeyID, priv)
	require.NoError(t, err)

	newResolver := func() *countingResolver {
		return &countingResolver{
			keyID: testKeyID,
			owner: "https://example.org/actor",
			pub:   &priv.PublicKey,
		}
	}

	signed := func(t *testing.T, body string, at time.Time) *http.Request {
		t.Helper()

		req := httptest.NewRequest("POST", "https://remote.example/inbox", strings.NewReader(body))
		require.NoError(t, SignRequest(req, SignConfig{Signer: signer, Now: fixedNow(at)}))

		return req
	}

	verifyAt := func(resolver KeyResolver, at time.Time) VerifyConfig {
		return VerifyConfig{Resolver: resolver, RequireDigest: true, Now: fixedNow(at)}
	}

	t.Run("nil resolver", func(t *testing.T) {
		req := signed(t, "{}", signTime)

		_, err := VerifyRequest(req, VerifyConfig{})
		assert.ErrorIs(t, err, ErrNoResolver)
	})

	t.Run("round trip", func(t *testing.T) {
		body := `{"type":"Follow"}`
		req := signed(t, body, signTime)

		res, err := VerifyRequest(req, verifyAt(newResolver(), signTime))
		require.NoError(t, err)

		assert.Equal(t, testKeyID, res.KeyID)
		assert.Equal(t, "https://example.org/actor", res.Owner)
		assert.Equal(t, DefaultHeaders, res.Headers)
		assert.True(t, signTime.Equal(res.Date))

		got, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		assert.Equal(t, body, string(got))
	})

	t.Run("authorization header form", func(t *testing.T) {
		req := signed(t, "{}", signTime)
		req.Header.Set("Authorization", "Signature "+req.Header.Get("Signature"))
		req.Header.Del("Signature")

		_, err := VerifyRequest(req, verifyAt(newResolver(), signTime))
		assert.NoError(t, err)
	})

	t.Run("missing signature", func(t *testing.T) {
		req := httptest.NewRequest("POST", "https://remote.example/inbox", nil)

		_, err := VerifyRequest(req, verifyAt(newResolver(), signTime))
		assert.ErrorIs(t, err, ErrMissingHeader)
		assert.Equal(t, KindHeaderMissing, KindOf(err))
	})

	t.Run("missing keyId never resolves", func(t *testing.T) {
		resolver := newResolver()
		req := signed(t, "{}", signTime)

		h, err := ParseSignatureHeader(req.Header.Get("Signature"))
		require.NoError(t, err)
		h.KeyID = ""
		req.Header.Set("Signature", strings.Replace(h.String(), `keyId="",`, "", 1))

		_, err = VerifyRequest(req, verifyAt(resolver, signTime))
		assert.ErrorIs(t, err, ErrMalformedSignatureHeader)
		assert.Equal(t, KindMalformedHeader, KindOf(err))
		assert.Zero(t, resolver.calls.Load())
	})

	t.Run("wrong key", func(t *testing.T) {
		resolver := newResolver()
		resolver.pub = &other.PublicKey

		_, err := VerifyRequest(signed(t, "{}", signTime), verifyAt(resolver, signTime))
		assert.ErrorIs(t, err, ErrSignatureMismatch)
		assert.Equal(t, KindSignatureMismatch, KindOf(err))
	})

	t.Run("tampered body", func(t *testing.T) {
		req := signed(t, `{"type":"Like"}`, signTime)
		req.Body = io.NopCloser(strings.NewReader(`{"type":"Delete"}`))

		resolver := newResolver()
		_, err := VerifyRequest(req, verifyAt(resolver, signTime))
		assert.ErrorIs(t, err, ErrDigestMismatch)
		assert.Equal(t, KindDigestMismatch, KindOf(err))
		assert.Zero(t, resolver.calls.Load())
	})

	t.Run("tampered host", func(t *testing.T) {
		req := signed(t, "{}", signTime)
		req.Host = "attacker.example"

		_, err := VerifyRequest(req, verifyAt(newResolver(), signTime))
		assert.Equal(t, KindSignatureMismatch, KindOf(err))
	})

	t.Run("tampered method", func(t *testing.T) {
		req := signed(t, "{}", signTime)
		req.Method = "PUT"

		_, err := VerifyRequest(req, verifyAt(newResolver(), signTime))
		assert.Equal(t, KindSignatureMismatch, KindOf(err))
	})

	t.Run("one base64 character changed", func(t *testing.T) {
		req := signed(t, "{}", signTime)

		raw := req.Header.Get("Signature")
		_, encoded, ok := strings.Cut(raw, `signature="`)
		require.True(t, ok)
		encoded = strings.TrimSuffix(encoded, `"`)

		mid := len(encoded) / 2
		replacement := "A"
		if encoded[mid] == 'A' {
			replacement = "B"
		}
		altered := encoded[:mid] + replacement + encoded[mid+1:]
		req.Header.Set("Signature", strings.Replace(raw, encoded, altered, 1))

		_, err := VerifyRequest(req, verifyAt(newResolver(), signTime))
		assert.ErrorIs(t, err, ErrSignatureMismatch)
		assert.Equal(t, KindSignatureMismatch, KindOf(err))
	})

	t.Run("padding bits of the last character changed", func(t *testing.T) {
		const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

		for _, flip := range []int{0x01, 0x02, 0x04, 0x08, 0x10} {
			req := signed(t, "{}", signTime)

			raw := req.Header.Get("Signature")
			_, encoded, ok := strings.Cut(raw, `signature="`)
			require.True(t, ok)
			encoded = strings.TrimSuffix(encoded, `"`)
			require.True(t, strings.HasSuffix(encoded, "=="), "2048-bit signatures end in two padding characters")

			last := len(encoded) - 3
			idx := strings.IndexByte(alphabet, encoded[last])
			require.GreaterOrEqual(t, idx, 0)

			altered := encoded[:last] + string(alphabet[idx^flip]) + encoded[last+1:]
			req.Header.Set("Signature", strings.Replace(raw, encoded, altered, 1))

			resolver := newResolver()

			_, err := VerifyRequest(req, verifyAt(resolver, signTime))
			assert.ErrorIs(t, err, ErrSignatureMismatch, "flip %#x", flip)
			assert.Equal(t, KindSignatureMismatch, KindOf(err), "flip %#x", flip)
		}
	})

	t.Run("swapped line order", func(t *testing.T) {
		req := httptest.NewRequest("POST", "https://remote.example/inbox", strings.NewReader("{}"))
		err := SignRequest(req, SignConfig{
			Signer:  signer,
			Headers: []string{"(request-target)", "date", "host", "digest"},
			Now:     fixedNow(signTime),
		})
		require.NoError(t, err)

		h, err := ParseSignatureHeader(req.Header.Get("Signature"))
		require.NoError(t, err)
		h.Headers = DefaultHeaders
		req.Header.Set("Signature", h.String())

		_, err = VerifyRequest(req, verifyAt(newResolver(), signTime))
		assert.Equal(t, KindSignatureMismatch, KindOf(err))
	})

	t.Run("sender order is honoured", func(t *testing.T) {
		req := httptest.NewRequest("POST", "https://remote.example/inbox", strings.NewReader("{}"))
		err := SignRequest(req, SignConfig{
			Signer:  signer,
			Headers: []string{"date", "digest", "host", "(request-target)"},
			Now:     fixedNow(signTime),
		})
		require.NoError(t, err)

		res, err := VerifyRequest(req, verifyAt(newResolver(), signTime))
		require.NoError(t, err)
		assert.Equal(t, []string{"date", "digest", "host", "(request-target)"}, res.Headers)
	})

	t.Run("stale date", func(t *testing.T) {
		cfg := verifyAt(newResolver(), signTime.Add(10*time.Minute))
		cfg.ClockSkew = 5 * time.Minute

		_, err := VerifyRequest(signed(t, "{}", signTime), cfg)
		assert.ErrorIs(t, err, ErrStaleTimestamp)
		assert.Equal(t, KindStaleDate, KindOf(err))
	})

	t.Run("future date", func(t *testing.T) {
		cfg := verifyAt(newResolver(), signTime.Add(-10*time.Minute))
		cfg.ClockSkew = 5 * time.Minute

		_, err := VerifyRequest(signed(t, "{}", signTime), cfg)
		assert.Equal(t, KindStaleDate, KindOf(err))
	})

	t.Run("date within window", func(t *testing.T) {
		cfg := verifyAt(newResolver(), signTime.Add(time.Minute))
		cfg.ClockSkew = 5 * time.Minute

		_, err := VerifyRequest(signed(t, "{}", signTime), cfg)
		assert.NoError(t, err)
	})

	t.Run("default window is five minutes", func(t *testing.T) {
		_, err := VerifyRequest(signed(t, "{}", signTime), verifyAt(newResolver(), signTime.Add(4*time.Minute)))
		assert.NoError(t, err)

		_, err = VerifyRequest(signed(t, "{}", signTime), verifyAt(newResolver(), signTime.Add(6*time.Minute)))
		assert.Equal(t, KindStaleDate, KindOf(err))
	})

	t.Run("negative skew disables check", func(t *testing.T) {
		cfg := verifyAt(newResolver(), signTime.Add(24*time.Hour))
		cfg.ClockSkew = -1

		_, err := VerifyRequest(signed(t, "{}", signTime), cfg)
		assert.NoError(t, err)
	})

	t.Run("unparseable date", func(t *testing.T) {
		req := signed(t, "{}", signTime)
		req.Header.Set("Date", "not a date")

		_, err := VerifyRequest(req, verifyAt(newResolver(), signTime))
		assert.Equal(t, KindStaleDate, KindOf(err))
	})

	t.Run("required header not covered", func(t *testing.T) {
		req := httptest.NewRequest("POST", "https://remote.example/inbox", strings.NewReader("{}"))
		err := SignRequest(req, SignConfig{
			Signer:  signer,
			Headers: []string{"(request-target)", "date", "digest"},
			Now:     fixedNow(signTime),
		})
		require.NoError(t, err)

		_, err = VerifyRequest(req, verifyAt(newResolver(), signTime))
		assert.ErrorIs(t, err, ErrMissingHeader)
		assert.Equal(t, KindHeaderMissing, KindOf(err))
	})

	t.Run("empty required list", func(t *testing.T) {
		req := httptest.NewRequest("GET", "https://remote.example/actor", nil)
		err := SignRequest(req, SignConfig{
			Signer:  signer,
			Headers: []string{"host"},
			Now:     fixedNow(signTime),
		})
		require.NoError(t, err)

		_, err = VerifyRequest(req, VerifyConfig{
			Resolver:        newResolver(),
			RequiredHeaders: []string{},
			Now:             fixedNow(signTime),
		})
		assert.NoError(t, err)
	})

	t.Run("digest required but not covered", func(t *testing.T) {
		req := httptest.NewRequest("POST", "https://remote.example/inbox", strings.NewReader("{}"))
		err := SignRequest(req, SignConfig{
			Signer:  signer,
			Headers: []string{"(request-target)", "host", "date"},
			Now:     fixedNow(signTime),
		})
		require.NoError(t, err)

		_, err = VerifyRequest(req, verifyAt(newResolver(), signTime))
		assert.Equal(t, KindHeaderMissing, KindOf(err))
	})

	t.Run("digest header removed", func(t *testing.T) {
		req := signed(t, "{}", signTime)
		req.Header.Del("Digest")

		_, err := VerifyRequest(req, verifyAt(newResolver(), signTime))
		assert.Equal(t, KindHeaderMissing, KindOf(err))
	})

	t.Run("body unreadable", func(t *testing.T) {
		req := signed(t, "{}", signTime)
		req.Body = io.NopCloser(errReader{})

		_, err := VerifyRequest(req, verifyAt(newResolver(), signTime))
		assert.Equal(t, KindBodyUnreadable, KindOf(err))
	})

	t.Run("resolver failure", func(t *testing.T) {
		resolver := KeyResolverFunc(func(context.Context, string) (*PublicKey, error) {
			return nil, errors.New("connection refused")
		})

		_, err := VerifyRequest(signed(t, "{}", signTime), verifyAt(resolver, signTime))
		assert.ErrorIs(t, err, ErrKeyResolution)
		assert.Equal(t, KindKeyUnresolvable, KindOf(err))
	})

	t.Run("resolver returns nil key", func(t *testing.T) {
		resolver := KeyResolverFunc(func(context.Context, string) (*PublicKey, error) {
			return nil, nil
		})

		_, err := VerifyRequest(signed(t, "{}", signTime), verifyAt(resolver, signTime))
		assert.Equal(t, KindKeyUnresolvable, KindOf(err))
	})

	t.Run("resolved key id mismatch", func(t *testing.T) {
		resolver := KeyResolverFunc(func(context.Context, string) (*PublicKey, error) {
			return &PublicKey{ID: "https://elsewhere.example/actor#main-key", Key: &priv.PublicKey}, nil
		})

		_, err := VerifyRequest(signed(t, "{}", signTime), verifyAt(resolver, signTime))
		assert.Equal(t, KindKeyUnresolvable, KindOf(err))
	})

	t.Run("resolved key unusable", func(t *testing.T) {
		resolver := KeyResolverFunc(func(context.Context, string) (*PublicKey, error) {
			return &PublicKey{ID: testKeyID}, nil
		})

		_, err := VerifyRequest(signed(t, "{}", signTime), verifyAt(resolver, signTime))
		assert.ErrorIs(t, err, ErrInvalidKey)
		assert.Equal(t, KindKeyUnresolvable, KindOf(err))
	})

	t.Run("resolver receives request context", func(t *testing.T) {
		type ctxKey struct{}

		var seen any
		resolver := KeyResolverFunc(func(ctx context.Context, _ string) (*PublicKey, error) {
			seen = ctx.Value(ctxKey{})
			return &PublicKey{ID: testKeyID, Key: &priv.PublicKey}, nil
		})

		req := signed(t, "{}", signTime)
		req = req.WithContext(context.WithValue(req.Context(), ctxKey{}, "marker"))

		_, err := VerifyRequest(req, verifyAt(resolver, signTime))
		require.NoError(t, err)
		assert.Equal(t, "marker", seen)
	})

	t.Run("query mismatch between sides", func(t *testing.T) {
		req := httptest.NewRequest("GET", "https://remote.example/outbox?page=2", nil)
		require.NoError(t, SignRequest(req, SignConfig{
			Signer:       signer,
			Headers:      []string{"(request-target)", "host", "date"},
			IncludeQuery: true,
			Now:          fixedNow(signTime),
		}))

		cfg := VerifyConfig{Resolver: newResolver(), Now: fixedNow(signTime)}

		_, err := VerifyRequest(req, cfg)
		assert.Equal(t, KindSignatureMismatch, KindOf(err))

		cfg.IncludeQuery = true
		_, err = VerifyRequest(req, cfg)
		assert.NoError(t, err)
	})
}

func TestKindOf(t *testing.T) {
	assert.Empty(t, KindOf(nil))
	assert.Empty(t, KindOf(errors.New("other")))
	assert.Equal(t, KindStaleDate, KindOf(reject(KindStaleDate, ErrStaleTimestamp)))
}
