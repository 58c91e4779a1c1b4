package httpsig

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// SignatureHeader is the parsed form of a Signature header value.
type SignatureHeader struct {
	KeyID string

	// Algorithm is empty when the header carries no algorithm parameter.
	Algorithm Algorithm

	// Headers lists the covered header names in signing order.
	Headers []string

	Signature []byte
}

// String formats h as comma-separated key="value" pairs: keyId, the
// optional algorithm, headers (space-joined), and signature (base64).
func (h SignatureHeader) String() string {
	var b strings.Builder

	b.WriteString("keyId=")
	b.WriteString(quote(h.KeyID))

	if h.Algorithm != "" {
		b.WriteString(",algorithm=")
		b.WriteString(quote(h.Algorithm.String()))
	}

	b.WriteString(",headers=")
	b.WriteString(quote(strings.Join(h.Headers, " ")))
	b.WriteString(",signature=")
	b.WriteString(quote(base64.StdEncoding.EncodeToString(h.Signature)))

	return b.String()
}

// BuildHeader formats a Signature header value:
//
//	keyId="<keyID>",headers="<h1> <h2> ...",signature="<base64>"
func BuildHeader(keyID string, headers []string, signature []byte) string {
	return SignatureHeader{KeyID: keyID, Headers: headers, Signature: signature}.String()
}

// ParseSignatureHeader parses a Signature header value. The keyId, headers,
// and signature parameters are required; unknown parameters such as
// created and expires are ignored. Header names are lowercased.
func ParseSignatureHeader(value string) (SignatureHeader, error) {
	var (
		h    SignatureHeader
		seen = make(map[string]bool)
	)

	for _, entry := range splitQuoteAware(value, ',') {
		key, raw, ok := strings.Cut(entry, "=")
		if !ok {
			return h, fmt.Errorf("%w: parameter %q has no value", ErrMalformedSignatureHeader, entry)
		}

		key = strings.TrimSpace(key)
		raw = strings.TrimSpace(raw)

		if seen[key] {
			return h, fmt.Errorf("%w: duplicate parameter %q", ErrMalformedSignatureHeader, key)
		}

		seen[key] = true

		switch key {
		case "keyId":
			h.KeyID = unquote(raw)

		case "algorithm":
			h.Algorithm = Algorithm(strings.ToLower(unquote(raw)))

		case "headers":
			headers, err := parseHeaderList(unquote(raw))
			if err != nil {
				return h, err
			}

			h.Headers = headers

		case "signature":
			sig, err := decodeSignature(unquote(raw))
			if err != nil {
				return h, err
			}

			h.Signature = sig
		}
	}

	switch {
	case h.KeyID == "":
		return h, fmt.Errorf("%w: missing keyId", ErrMalformedSignatureHeader)
	case !seen["headers"]:
		return h, fmt.Errorf("%w: missing headers", ErrMalformedSignatureHeader)
	case len(h.Signature) == 0:
		return h, fmt.Errorf("%w: missing signature", ErrMalformedSignatureHeader)
	case !h.Algorithm.accepted():
		return h, fmt.Errorf("%w: unsupported algorithm %q", ErrMalformedSignatureHeader, h.Algorithm)
	}

	return h, nil
}

// signatureFromRequest returns the raw Signature parameters, taken from the
// Signature header or, failing that, from "Authorization: Signature ...".
func signatureFromRequest(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("Signature")); v != "" {
		return v
	}

	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if scheme, params, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Signature") {
		return strings.TrimSpace(params)
	}

	return ""
}

func parseHeaderList(s string) ([]string, error) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty headers list", ErrMalformedSignatureHeader)
	}

	headers := make([]string, 0, len(fields))

	for _, name := range fields {
		if name != HeaderRequestTarget && !httpguts.ValidHeaderFieldName(name) {
			return nil, fmt.Errorf("%w: invalid header name %q", ErrMalformedSignatureHeader, name)
		}

		if slices.Contains(headers, name) {
			return nil, fmt.Errorf("%w: header %q listed twice", ErrMalformedSignatureHeader, name)
		}

		headers = append(headers, name)
	}

	return headers, nil
}

// splitQuoteAware splits s on delim while respecting "..." quoted regions.
// Backslash-escaped quotes (\") inside quoted strings are handled. Each
// resulting part is trimmed of whitespace and empty parts are skipped.
func splitQuoteAware(s string, delim byte) []string {
	var result []string
	var part strings.Builder
	inQuote := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if inQuote {
			if ch == '\\' && i+1 < len(s) {
				part.WriteByte(ch)
				i++
				part.WriteByte(s[i])
				continue
			}

			if ch == '"' {
				inQuote = false
			}

			part.WriteByte(ch)
			continue
		}

		if ch == '"' {
			inQuote = true
			part.WriteByte(ch)
			continue
		}

		if ch == delim {
			if p := strings.TrimSpace(part.String()); p != "" {
				result = append(result, p)
			}

			part.Reset()
			continue
		}

		part.WriteByte(ch)
	}

	if p := strings.TrimSpace(part.String()); p != "" {
		result = append(result, p)
	}

	return result
}

// quote wraps s in double quotes, escaping backslash and double-quote.
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '\\' || ch == '"' {
			b.WriteByte('\\')
		}

		b.WriteByte(ch)
	}

	b.WriteByte('"')

	return b.String()
}

// unquote removes surrounding double quotes and unescapes \\ and \".
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			b.WriteByte(s[i])

			continue
		}

		b.WriteByte(s[i])
	}

	return b.String()
}

// decodeSignature decodes the signature parameter with strict base64, so
// every accepted encoding maps to exactly one byte string. Text that only
// the lenient decoder accepts (non-zero padding bits in the last character)
// is an altered signature rather than a malformed header.
func decodeSignature(encoded string) ([]byte, error) {
	sig, err := base64.StdEncoding.Strict().DecodeString(encoded)
	if err == nil {
		return sig, nil
	}

	if _, lerr := base64.StdEncoding.DecodeString(encoded); lerr == nil {
		return nil, fmt.Errorf("%w: non-canonical base64 in signature", ErrSignatureMismatch)
	}

	return nil, fmt.Errorf("%w: invalid base64 in signature", ErrMalformedSignatureHeader)
}
