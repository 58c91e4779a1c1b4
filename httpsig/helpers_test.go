package httpsig

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

const testKeyID = "https://example.org/actor#main-key"

var (
	keyOnce  sync.Once
	keyA     *rsa.PrivateKey
	keyB     *rsa.PrivateKey
	keyError error
)

// testKeys returns two distinct 2048-bit keys shared by all tests.
func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()

	keyOnce.Do(func() {
		keyA, keyError = rsa.GenerateKey(rand.Reader, 2048)
		if keyError != nil {
			return
		}

		keyB, keyError = rsa.GenerateKey(rand.Reader, 2048)
	})

	require.NoError(t, keyError)

	return keyA, keyB
}

// countingResolver resolves keyID to pub and records how often it ran.
type countingResolver struct {
	keyID string
	owner string
	pub   *rsa.PublicKey
	calls atomic.Int32
}

func (r *countingResolver) ResolveKey(_ context.Context, keyID string) (*PublicKey, error) {
	r.calls.Add(1)

	if keyID != r.keyID {
		return nil, ErrInvalidKey
	}

	return &PublicKey{ID: r.keyID, Owner: r.owner, Key: r.pub}, nil
}
