package keyresolver

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vitalvas/fedsig/httpsig"
	"github.com/vitalvas/fedsig/keystore"
)

// keyObject is the publicKey object of an actor, or a standalone key
// document.
type keyObject struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

type document struct {
	keyObject

	Type      string          `json:"type"`
	PublicKey json.RawMessage `json:"publicKey"`
}

// parseDocument extracts the key named keyID from an actor document or a
// bare key document.
func parseDocument(data []byte, keyID string) (*httpsig.PublicKey, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	var (
		key   keyObject
		owner string
	)

	switch {
	case len(doc.PublicKey) > 0 && !bytes.Equal(doc.PublicKey, []byte("null")):
		keys, err := parseKeyObjects(doc.PublicKey)
		if err != nil {
			return nil, err
		}

		found := false

		for _, k := range keys {
			if k.ID == keyID {
				key, found = k, true
				break
			}
		}

		if !found {
			return nil, fmt.Errorf("%w: %s does not publish %s", ErrKeyNotFound, doc.ID, keyID)
		}

		if key.Owner != "" && doc.ID != "" && key.Owner != doc.ID {
			return nil, fmt.Errorf("%w: key owner %s differs from actor %s", ErrInvalidDocument, key.Owner, doc.ID)
		}

		owner = doc.ID

	case doc.PublicKeyPem != "":
		if doc.ID != keyID {
			return nil, fmt.Errorf("%w: key document id %q differs from %q", ErrKeyNotFound, doc.ID, keyID)
		}

		key = doc.keyObject
		owner = doc.Owner

	default:
		return nil, fmt.Errorf("%w: no public key in document", ErrInvalidDocument)
	}

	if key.PublicKeyPem == "" {
		return nil, fmt.Errorf("%w: empty publicKeyPem", ErrInvalidDocument)
	}

	pub, err := keystore.ParsePublicKeyPEM([]byte(key.PublicKeyPem))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	return &httpsig.PublicKey{ID: keyID, Owner: owner, Key: pub}, nil
}

// parseKeyObjects accepts a single publicKey object or an array of them.
func parseKeyObjects(raw json.RawMessage) ([]keyObject, error) {
	raw = bytes.TrimSpace(raw)

	if len(raw) > 0 && raw[0] == '[' {
		var keys []keyObject
		if err := json.Unmarshal(raw, &keys); err != nil {
			return nil, fmt.Errorf("%w: publicKey: %v", ErrInvalidDocument, err)
		}

		return keys, nil
	}

	var key keyObject
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, fmt.Errorf("%w: publicKey: %v", ErrInvalidDocument, err)
	}

	return []keyObject{key}, nil
}
