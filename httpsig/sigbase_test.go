package httpsig

import (
	"encoding/base64"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildHeader(t *testing.T) {
	got := BuildHeader(testKeyID, DefaultHeaders, []byte{0x01, 0x02, 0x03})

	want := `keyId="https://example.org/actor#main-key",headers="(request-target) host date digest",signature="AQID"`
	assert.Equal(t, want, got)
}

func TestSignatureHeaderString(t *testing.T) {
	h := SignatureHeader{
		KeyID:     "k",
		Algorithm: AlgorithmRSASHA256,
		Headers:   []string{"date"},
		Signature: []byte("x"),
	}

	assert.Equal(t, `keyId="k",algorithm="rsa-sha256",headers="date",signature="eA=="`, h.String())
}

func TestParseSignatureHeader(t *testing.T) {
	sig := base64.StdEncoding.EncodeToString([]byte("signature-bytes"))

	t.Run("round trip", func(t *testing.T) {
		raw := BuildHeader(testKeyID, DefaultHeaders, []byte("signature-bytes"))

		h, err := ParseSignatureHeader(raw)
		require.NoError(t, err)

		assert.Equal(t, testKeyID, h.KeyID)
		assert.Equal(t, DefaultHeaders, h.Headers)
		assert.Equal(t, []byte("signature-bytes"), h.Signature)
		assert.Empty(t, h.Algorithm)
	})

	t.Run("algorithm and whitespace", func(t *testing.T) {
		raw := `keyId="k", algorithm="RSA-SHA256", headers="(request-target) Host Date", signature="` + sig + `"`

		h, err := ParseSignatureHeader(raw)
		require.NoError(t, err)

		assert.Equal(t, AlgorithmRSASHA256, h.Algorithm)
		assert.Equal(t, []string{"(request-target)", "host", "date"}, h.Headers)
	})

	t.Run("hs2019 accepted", func(t *testing.T) {
		raw := `keyId="k",algorithm="hs2019",headers="date",signature="` + sig + `"`

		h, err := ParseSignatureHeader(raw)
		require.NoError(t, err)
		assert.Equal(t, AlgorithmHS2019, h.Algorithm)
	})

	t.Run("unknown parameters ignored", func(t *testing.T) {
		raw := `keyId="k",created=1654634000,expires=1654634300,headers="date",signature="` + sig + `"`

		_, err := ParseSignatureHeader(raw)
		assert.NoError(t, err)
	})

	t.Run("quoted comma and escapes in key id", func(t *testing.T) {
		raw := `keyId="a,b\"c",headers="date",signature="` + sig + `"`

		h, err := ParseSignatureHeader(raw)
		require.NoError(t, err)
		assert.Equal(t, `a,b"c`, h.KeyID)
	})

	t.Run("non-canonical padding bits", func(t *testing.T) {
		// "eA==" encodes "x"; "eB==" decodes to the same byte leniently.
		_, err := ParseSignatureHeader(`keyId="k",headers="date",signature="eB=="`)
		assert.ErrorIs(t, err, ErrSignatureMismatch)
		assert.NotErrorIs(t, err, ErrMalformedSignatureHeader)
	})

	malformed := []struct {
		name string
		raw  string
	}{
		{"missing keyId", `headers="date",signature="` + sig + `"`},
		{"empty keyId", `keyId="",headers="date",signature="` + sig + `"`},
		{"missing headers", `keyId="k",signature="` + sig + `"`},
		{"empty headers", `keyId="k",headers="",signature="` + sig + `"`},
		{"missing signature", `keyId="k",headers="date"`},
		{"invalid base64", `keyId="k",headers="date",signature="***"`},
		{"duplicate parameter", `keyId="k",keyId="j",headers="date",signature="` + sig + `"`},
		{"duplicate header name", `keyId="k",headers="date date",signature="` + sig + `"`},
		{"invalid header name", `keyId="k",headers="da:te",signature="` + sig + `"`},
		{"unsupported algorithm", `keyId="k",algorithm="ed25519",headers="date",signature="` + sig + `"`},
		{"parameter without value", `keyId="k",headers="date",signature="` + sig + `",bogus`},
		{"empty", ``},
	}

	for _, tt := range malformed {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSignatureHeader(tt.raw)
			assert.ErrorIs(t, err, ErrMalformedSignatureHeader)
		})
	}
}

func TestSignatureFromRequest(t *testing.T) {
	t.Run("signature header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "https://example.org/", nil)
		req.Header.Set("Signature", `keyId="k"`)

		assert.Equal(t, `keyId="k"`, signatureFromRequest(req))
	})

	t.Run("authorization fallback", func(t *testing.T) {
		req := httptest.NewRequest("GET", "https://example.org/", nil)
		req.Header.Set("Authorization", `Signature keyId="k"`)

		assert.Equal(t, `keyId="k"`, signatureFromRequest(req))
	})

	t.Run("other authorization scheme ignored", func(t *testing.T) {
		req := httptest.NewRequest("GET", "https://example.org/", nil)
		req.Header.Set("Authorization", "Bearer token")

		assert.Empty(t, signatureFromRequest(req))
	})
}

func TestQuoteUnquote(t *testing.T) {
	for _, s := range []string{"", "plain", `with "quotes"`, `back\slash`} {
		assert.Equal(t, s, unquote(quote(s)))
	}
}
