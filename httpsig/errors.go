package httpsig

import "errors"

// Signing errors.
var (
	// ErrNoSigner is returned when SignConfig has no Signer configured.
	ErrNoSigner = errors.New("httpsig: signer must not be nil")

	// ErrSigning is returned when the private key is absent or corrupt, or
	// the signing string cannot be built for the outgoing request.
	ErrSigning = errors.New("httpsig: signing failed")
)

// Verification errors.
var (
	// ErrNoResolver is returned when VerifyConfig has no KeyResolver configured.
	ErrNoResolver = errors.New("httpsig: key resolver must not be nil")

	// ErrMissingHeader is returned when the Signature header is absent, a
	// required header is not covered by the signature, or a covered header
	// is not present on the request.
	ErrMissingHeader = errors.New("httpsig: required header missing")

	// ErrMalformedSignatureHeader is returned when the Signature header
	// cannot be parsed or lacks keyId, headers, or signature.
	ErrMalformedSignatureHeader = errors.New("httpsig: malformed signature header")

	// ErrKeyResolution is returned when the key referenced by keyId cannot
	// be obtained or is not usable.
	ErrKeyResolution = errors.New("httpsig: key resolution failed")

	// ErrSignatureMismatch is returned when the signature does not verify
	// against the rebuilt signing string.
	ErrSignatureMismatch = errors.New("httpsig: signature verification failed")

	// ErrDigestMismatch is returned when the Digest header does not match
	// the SHA-256 of the received body.
	ErrDigestMismatch = errors.New("httpsig: digest mismatch")

	// ErrStaleTimestamp is returned when the Date header is outside the
	// allowed clock skew window or cannot be parsed.
	ErrStaleTimestamp = errors.New("httpsig: date outside allowed clock skew")
)

// Key material errors.
var (
	// ErrInvalidKey is returned when key material is nil, corrupt, or
	// smaller than 2048 bits.
	ErrInvalidKey = errors.New("httpsig: invalid key material")
)

// RejectKind classifies why an inbound request was rejected. It is meant
// for logs and metrics; callers should treat every kind as the same
// rejected outcome.
type RejectKind string

const (
	KindHeaderMissing     RejectKind = "header-missing"
	KindMalformedHeader   RejectKind = "malformed-header"
	KindKeyUnresolvable   RejectKind = "key-unresolvable"
	KindSignatureMismatch RejectKind = "signature-mismatch"
	KindDigestMismatch    RejectKind = "digest-mismatch"
	KindStaleDate         RejectKind = "stale-date"
	KindBodyUnreadable    RejectKind = "body-unreadable"
)

// VerificationError is the error type returned by VerifyRequest.
type VerificationError struct {
	Kind RejectKind
	Err  error
}

func (e *VerificationError) Error() string {
	return e.Err.Error()
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// KindOf returns the RejectKind carried by err, or an empty kind when err
// is nil or was not produced by VerifyRequest.
func KindOf(err error) RejectKind {
	var verr *VerificationError
	if errors.As(err, &verr) {
		return verr.Kind
	}

	return ""
}

func reject(kind RejectKind, err error) error {
	return &VerificationError{Kind: kind, Err: err}
}
