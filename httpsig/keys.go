package httpsig

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// Minimum RSA key size in bits.
const minRSAKeyBits = 2048

type rsaSigner struct {
	key   *rsa.PrivateKey
	keyID string
}

// NewRSASigner creates a Signer using RSASSA-PKCS1-v1_5 with SHA-256.
//
// It returns an error wrapping both ErrSigning and ErrInvalidKey when the
// key is nil, fails validation, or is smaller than 2048 bits.
func NewRSASigner(keyID string, key *rsa.PrivateKey) (Signer, error) {
	if err := checkPrivateKey(key); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigning, err)
	}

	if keyID == "" {
		return nil, fmt.Errorf("%w: key id must not be empty", ErrSigning)
	}

	return &rsaSigner{key: key, keyID: keyID}, nil
}

func (s *rsaSigner) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)

	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	return sig, nil
}

func (s *rsaSigner) Algorithm() Algorithm { return AlgorithmRSASHA256 }
func (s *rsaSigner) KeyID() string        { return s.keyID }

type rsaVerifier struct {
	key   *rsa.PublicKey
	keyID string
}

// NewRSAVerifier creates a Verifier using RSASSA-PKCS1-v1_5 with SHA-256.
func NewRSAVerifier(keyID string, key *rsa.PublicKey) (Verifier, error) {
	if key == nil || key.N == nil {
		return nil, fmt.Errorf("%w: rsa public key must not be nil", ErrInvalidKey)
	}

	if key.N.BitLen() < minRSAKeyBits {
		return nil, fmt.Errorf("%w: rsa key must be at least %d bits", ErrInvalidKey, minRSAKeyBits)
	}

	return &rsaVerifier{key: key, keyID: keyID}, nil
}

func (v *rsaVerifier) Verify(message, signature []byte) error {
	digest := sha256.Sum256(message)

	if err := rsa.VerifyPKCS1v15(v.key, crypto.SHA256, digest[:], signature); err != nil {
		return ErrSignatureMismatch
	}

	return nil
}

func (v *rsaVerifier) Algorithm() Algorithm { return AlgorithmRSASHA256 }
func (v *rsaVerifier) KeyID() string        { return v.keyID }

// Sign signs a signing string with key and returns the raw signature bytes.
func Sign(signingString string, key *rsa.PrivateKey) ([]byte, error) {
	if err := checkPrivateKey(key); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigning, err)
	}

	s := &rsaSigner{key: key}

	return s.Sign([]byte(signingString))
}

// Verify checks signature over signingString with key.
func Verify(signingString string, signature []byte, key *rsa.PublicKey) error {
	v, err := NewRSAVerifier("", key)
	if err != nil {
		return err
	}

	return v.Verify([]byte(signingString), signature)
}

func checkPrivateKey(key *rsa.PrivateKey) error {
	if key == nil || key.N == nil {
		return fmt.Errorf("%w: rsa private key must not be nil", ErrInvalidKey)
	}

	if key.N.BitLen() < minRSAKeyBits {
		return fmt.Errorf("%w: rsa key must be at least %d bits", ErrInvalidKey, minRSAKeyBits)
	}

	if err := key.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	return nil
}
