package httpsig

// Algorithm identifies the signature algorithm named in the optional
// algorithm parameter of the Signature header.
type Algorithm string

const (
	// AlgorithmRSASHA256 is RSASSA-PKCS1-v1_5 using SHA-256.
	AlgorithmRSASHA256 Algorithm = "rsa-sha256"

	// AlgorithmHS2019 is the later draft's placeholder that defers the
	// algorithm choice to the key. With RSA keys it means rsa-sha256.
	AlgorithmHS2019 Algorithm = "hs2019"
)

// String returns the algorithm name as written in the Signature header.
func (a Algorithm) String() string {
	return string(a)
}

// accepted reports whether a received algorithm parameter can be verified
// with an RSA-SHA256 key. An absent parameter is accepted.
func (a Algorithm) accepted() bool {
	switch a {
	case "", AlgorithmRSASHA256, AlgorithmHS2019:
		return true
	default:
		return false
	}
}

// Signer creates signatures over signing strings.
type Signer interface {
	// Sign produces a signature over the given message bytes.
	Sign(message []byte) ([]byte, error)

	// Algorithm returns the algorithm identifier for this signer.
	Algorithm() Algorithm

	// KeyID returns the key identifier placed in the Signature header.
	KeyID() string
}

// Verifier validates signatures over signing strings.
type Verifier interface {
	// Verify checks that signature is valid for the given message bytes.
	// Returns nil on success, non-nil on failure.
	Verify(message, signature []byte) error

	// Algorithm returns the algorithm identifier for this verifier.
	Algorithm() Algorithm

	// KeyID returns the key identifier for this verifier.
	KeyID() string
}
