package httpsig

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DigestSHA256 is the algorithm label used in the Digest header.
const DigestSHA256 = "SHA-256"

// Digest returns the Digest header value for body: "SHA-256=" followed by
// the standard base64 encoding of the SHA-256 hash.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)

	return DigestSHA256 + "=" + base64.StdEncoding.EncodeToString(sum[:])
}

// SetDigest reads the request body, sets the Digest header, and replaces
// the body so it can be read again. It returns the body bytes.
func SetDigest(r *http.Request) ([]byte, error) {
	body, err := readAndRestoreBody(r)
	if err != nil {
		return nil, err
	}

	r.Header.Set("Digest", Digest(body))

	return body, nil
}

// VerifyDigest checks a Digest header value against body. The header may
// list several "alg=value" entries; only the SHA-256 entry is checked and
// it must be present.
func VerifyDigest(header string, body []byte) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return fmt.Errorf("%w: digest", ErrMissingHeader)
	}

	for entry := range strings.SplitSeq(header, ",") {
		alg, encoded, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(alg), DigestSHA256) {
			continue
		}

		actual, err := base64.StdEncoding.Strict().DecodeString(strings.TrimSpace(encoded))
		if err != nil {
			return fmt.Errorf("%w: invalid base64 in digest", ErrDigestMismatch)
		}

		expected := sha256.Sum256(body)
		if subtle.ConstantTimeCompare(expected[:], actual) != 1 {
			return ErrDigestMismatch
		}

		return nil
	}

	return fmt.Errorf("%w: no %s entry in digest", ErrDigestMismatch, DigestSHA256)
}

// readAndRestoreBody reads the entire request body and replaces it with a
// new reader so the body can be consumed again by downstream handlers.
func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	return body, nil
}
