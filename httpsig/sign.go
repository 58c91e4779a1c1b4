package httpsig

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"
)

// SignConfig configures HTTP request signing.
type SignConfig struct {
	// Signer produces signatures. Required.
	Signer Signer

	// Headers lists, in order, the headers covered by the signature.
	// Defaults to DefaultHeaders.
	Headers []string

	// IncludeQuery appends the raw query string to the (request-target)
	// path. The receiving side must be configured the same way.
	IncludeQuery bool

	// Now returns the signing time. Defaults to time.Now.
	Now func() time.Time
}

func (cfg SignConfig) headers() []string {
	if len(cfg.Headers) == 0 {
		return slices.Clone(DefaultHeaders)
	}

	headers := make([]string, len(cfg.Headers))
	for i, h := range cfg.Headers {
		headers[i] = strings.ToLower(h)
	}

	return headers
}

// SignRequest signs an HTTP request in place. It sets the Host (when the
// request has none), a Date generated now, a Digest of the body when
// "digest" is covered, and finally the Signature header.
func SignRequest(r *http.Request, cfg SignConfig) error {
	if cfg.Signer == nil {
		return ErrNoSigner
	}

	headers := cfg.headers()

	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}

	if r.Host == "" && r.URL != nil {
		r.Host = r.URL.Host
	}

	r.Header.Set("Date", FormatDate(now()))

	if slices.Contains(headers, HeaderDigest) {
		if _, err := SetDigest(r); err != nil {
			return fmt.Errorf("%w: read body: %v", ErrSigning, err)
		}
	}

	signingString, err := NewSigningContext(r, cfg.IncludeQuery).SigningString(headers)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSigning, err)
	}

	sig, err := cfg.Signer.Sign([]byte(signingString))
	if err != nil {
		return err
	}

	r.Header.Set("Signature", BuildHeader(cfg.Signer.KeyID(), headers, sig))

	return nil
}
