// Package keystore generates, encodes, and loads the RSA key pair that an
// actor signs its outgoing requests with.
//
// Private keys are stored as PKCS#8 PEM and public keys as
// SubjectPublicKeyInfo PEM. All PEM output uses LF line endings only:
// several fediverse servers refuse a publicKeyPem that contains CR bytes.
package keystore

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
)

const (
	// MinBits is the smallest RSA modulus accepted for generation and loading.
	MinBits = 2048

	// DefaultBits is the modulus size used when none is configured.
	DefaultBits = 2048
)

const (
	pemTypePrivateKey    = "PRIVATE KEY"
	pemTypeRSAPrivateKey = "RSA PRIVATE KEY"
	pemTypePublicKey     = "PUBLIC KEY"
	pemTypeRSAPublicKey  = "RSA PUBLIC KEY"
)

var (
	// ErrKeyGeneration is returned when a key pair cannot be generated,
	// either because the requested size is below MinBits or because the
	// randomness source failed.
	ErrKeyGeneration = errors.New("keystore: key generation failed")

	// ErrKeyFormat is returned when encoded key material cannot be parsed.
	ErrKeyFormat = errors.New("keystore: malformed key material")
)

// KeyPair is an actor's signing key pair.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// Generate creates a new RSA key pair of the given size using crypto/rand.
func Generate(bits int) (*KeyPair, error) {
	return GenerateFrom(rand.Reader, bits)
}

// GenerateFrom creates a new RSA key pair reading randomness from random.
func GenerateFrom(random io.Reader, bits int) (*KeyPair, error) {
	if bits < MinBits {
		return nil, fmt.Errorf("%w: %d bits requested, minimum is %d", ErrKeyGeneration, bits, MinBits)
	}

	if random == nil {
		return nil, fmt.Errorf("%w: no randomness source", ErrKeyGeneration)
	}

	priv, err := rsa.GenerateKey(random, bits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// FromPrivateKey wraps an existing private key, deriving the public half.
func FromPrivateKey(priv *rsa.PrivateKey) (*KeyPair, error) {
	if err := checkPrivateKey(priv); err != nil {
		return nil, err
	}

	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// PublicKeyPEM returns the public key as an LF-terminated PEM string, ready
// to be published in the actor document.
func (kp *KeyPair) PublicKeyPEM() (string, error) {
	if kp == nil || kp.Public == nil {
		return "", fmt.Errorf("%w: public key missing", ErrKeyFormat)
	}

	b, err := MarshalPublicKeyPEM(kp.Public)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

// MarshalPublicKeyPEM encodes pub as a SubjectPublicKeyInfo PEM block.
func MarshalPublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	if pub == nil {
		return nil, fmt.Errorf("%w: public key must not be nil", ErrKeyFormat)
	}

	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}

	return encodePEM(pemTypePublicKey, der), nil
}

// MarshalPrivateKeyPEM encodes priv as a PKCS#8 PEM block.
func MarshalPrivateKeyPEM(priv *rsa.PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: private key must not be nil", ErrKeyFormat)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}

	return encodePEM(pemTypePrivateKey, der), nil
}

// ParsePrivateKeyPEM decodes an RSA private key from a PKCS#8 or PKCS#1
// PEM block.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, err := decodePEM(data)
	if err != nil {
		return nil, err
	}

	var priv *rsa.PrivateKey

	switch block.Type {
	case pemTypePrivateKey:
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
		}

		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not an RSA key", ErrKeyFormat, key)
		}

		priv = rsaKey

	case pemTypeRSAPrivateKey:
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
		}

		priv = key

	default:
		return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrKeyFormat, block.Type)
	}

	if err := checkPrivateKey(priv); err != nil {
		return nil, err
	}

	return priv, nil
}

// ParsePublicKeyPEM decodes an RSA public key from a SubjectPublicKeyInfo or
// PKCS#1 PEM block. CRLF line endings are accepted on input.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, err := decodePEM(data)
	if err != nil {
		return nil, err
	}

	switch block.Type {
	case pemTypePublicKey:
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
		}

		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not an RSA key", ErrKeyFormat, key)
		}

		return pub, nil

	case pemTypeRSAPublicKey:
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
		}

		return pub, nil

	default:
		return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrKeyFormat, block.Type)
	}
}

func checkPrivateKey(priv *rsa.PrivateKey) error {
	if priv == nil {
		return fmt.Errorf("%w: private key must not be nil", ErrKeyFormat)
	}

	if priv.N == nil || priv.N.BitLen() < MinBits {
		return fmt.Errorf("%w: rsa key must be at least %d bits", ErrKeyFormat, MinBits)
	}

	if err := priv.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}

	return nil
}

// encodePEM relies on pem.EncodeToMemory, which only ever emits LF.
func encodePEM(typ string, der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der})
}

func decodePEM(data []byte) (*pem.Block, error) {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrKeyFormat)
	}

	return block, nil
}
