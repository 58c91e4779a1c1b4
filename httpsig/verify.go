package httpsig

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"
)

// DefaultClockSkew is the default tolerance between the Date header and the
// verifier's clock, applied in both directions.
const DefaultClockSkew = 300 * time.Second

// defaultRequiredHeaders must be covered by every accepted signature unless
// VerifyConfig.RequiredHeaders says otherwise.
var defaultRequiredHeaders = []string{HeaderRequestTarget, HeaderHost, HeaderDate}

// PublicKey is a resolved verification key.
type PublicKey struct {
	// ID is the key identifier the key was published under.
	ID string

	// Owner is the actor that owns the key, when known.
	Owner string

	Key *rsa.PublicKey
}

// KeyResolver dereferences a keyId to the public key it names. It is the
// only step of verification that may block on the network; implementations
// must honour ctx.
type KeyResolver interface {
	ResolveKey(ctx context.Context, keyID string) (*PublicKey, error)
}

// KeyResolverFunc adapts a function to the KeyResolver interface.
type KeyResolverFunc func(ctx context.Context, keyID string) (*PublicKey, error)

// ResolveKey calls f(ctx, keyID).
func (f KeyResolverFunc) ResolveKey(ctx context.Context, keyID string) (*PublicKey, error) {
	return f(ctx, keyID)
}

// VerifyConfig configures inbound signature verification.
type VerifyConfig struct {
	// Resolver looks up the public key for a keyId. Required.
	Resolver KeyResolver

	// RequiredHeaders lists header names that must be covered by the
	// signature. A nil slice means (request-target), host and date; an
	// empty non-nil slice requires nothing.
	RequiredHeaders []string

	// ClockSkew bounds how far the Date header may be from now, in either
	// direction. Zero means DefaultClockSkew; negative disables the check.
	ClockSkew time.Duration

	// RequireDigest requires the digest header to be covered and to match
	// the received body.
	RequireDigest bool

	// IncludeQuery appends the raw query string to the (request-target)
	// path. Must match the signer's setting.
	IncludeQuery bool

	// Now returns the verifier's current time. Defaults to time.Now.
	Now func() time.Time
}

// Result describes an accepted signature.
type Result struct {
	KeyID   string
	Owner   string
	Headers []string

	// Date is the parsed Date header, zero when date was not covered.
	Date time.Time
}

// VerifyRequest verifies the Signature header of an inbound request.
//
// Verification proceeds through the following steps, stopping at the first
// failure: parse the Signature header; check the covered header set, the
// Date freshness, and the Digest against the body; resolve the key; rebuild
// the signing string in the order the sender declared; verify the
// signature. The request body is restored for downstream readers.
//
// Every error returned is a *VerificationError; use KindOf to classify it.
func VerifyRequest(r *http.Request, cfg VerifyConfig) (*Result, error) {
	if cfg.Resolver == nil {
		return nil, ErrNoResolver
	}

	raw := signatureFromRequest(r)
	if raw == "" {
		return nil, reject(KindHeaderMissing, fmt.Errorf("%w: signature", ErrMissingHeader))
	}

	sig, err := ParseSignatureHeader(raw)
	if err != nil {
		if errors.Is(err, ErrSignatureMismatch) {
			return nil, reject(KindSignatureMismatch, err)
		}

		return nil, reject(KindMalformedHeader, err)
	}

	required := cfg.RequiredHeaders
	if required == nil {
		required = defaultRequiredHeaders
	}

	for _, name := range required {
		if !slices.Contains(sig.Headers, name) {
			return nil, reject(KindHeaderMissing, fmt.Errorf("%w: %s not covered by signature", ErrMissingHeader, name))
		}
	}

	ctx := NewSigningContext(r, cfg.IncludeQuery)

	result := &Result{
		KeyID:   sig.KeyID,
		Headers: sig.Headers,
	}

	if slices.Contains(sig.Headers, HeaderDate) {
		date, err := checkDate(ctx.Date, cfg)
		if err != nil {
			return nil, err
		}

		result.Date = date
	}

	if cfg.RequireDigest || slices.Contains(sig.Headers, HeaderDigest) {
		if err := checkDigest(r, ctx.Digest, sig.Headers); err != nil {
			return nil, err
		}
	}

	signingString, err := ctx.SigningString(sig.Headers)
	if err != nil {
		return nil, reject(KindHeaderMissing, err)
	}

	key, err := cfg.Resolver.ResolveKey(r.Context(), sig.KeyID)
	if err != nil {
		return nil, reject(KindKeyUnresolvable, fmt.Errorf("%w: %s: %w", ErrKeyResolution, sig.KeyID, err))
	}

	if key == nil {
		return nil, reject(KindKeyUnresolvable, fmt.Errorf("%w: %s: no key returned", ErrKeyResolution, sig.KeyID))
	}

	if key.ID != "" && key.ID != sig.KeyID {
		return nil, reject(KindKeyUnresolvable, fmt.Errorf("%w: resolved key %q does not match %q", ErrKeyResolution, key.ID, sig.KeyID))
	}

	verifier, err := NewRSAVerifier(sig.KeyID, key.Key)
	if err != nil {
		return nil, reject(KindKeyUnresolvable, fmt.Errorf("%w: %w", ErrKeyResolution, err))
	}

	if err := verifier.Verify([]byte(signingString), sig.Signature); err != nil {
		return nil, reject(KindSignatureMismatch, err)
	}

	result.Owner = key.Owner

	return result, nil
}

func checkDate(value string, cfg VerifyConfig) (time.Time, error) {
	if value == "" {
		return time.Time{}, reject(KindHeaderMissing, fmt.Errorf("%w: date", ErrMissingHeader))
	}

	date, err := ParseDate(value)
	if err != nil {
		return time.Time{}, reject(KindStaleDate, fmt.Errorf("%w: %v", ErrStaleTimestamp, err))
	}

	skew := cfg.ClockSkew
	if skew == 0 {
		skew = DefaultClockSkew
	}

	if skew < 0 {
		return date, nil
	}

	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}

	delta := now().Sub(date)
	if delta > skew || delta < -skew {
		return time.Time{}, reject(KindStaleDate, fmt.Errorf("%w: date %s is %s away", ErrStaleTimestamp, value, delta.Round(time.Second)))
	}

	return date, nil
}

func checkDigest(r *http.Request, header string, covered []string) error {
	if !slices.Contains(covered, HeaderDigest) {
		return reject(KindHeaderMissing, fmt.Errorf("%w: digest not covered by signature", ErrMissingHeader))
	}

	body, err := readAndRestoreBody(r)
	if err != nil {
		return reject(KindBodyUnreadable, fmt.Errorf("read body: %w", err))
	}

	if err := VerifyDigest(header, body); err != nil {
		if errors.Is(err, ErrMissingHeader) {
			return reject(KindHeaderMissing, err)
		}

		return reject(KindDigestMismatch, err)
	}

	return nil
}
