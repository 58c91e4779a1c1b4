package keyresolver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vitalvas/fedsig/httpsig"
)

// Static resolves a fixed set of keys without network access.
type Static struct {
	mu   sync.RWMutex
	keys map[string]*httpsig.PublicKey
}

// NewStatic creates a Static resolver holding keys.
func NewStatic(keys ...*httpsig.PublicKey) *Static {
	s := &Static{keys: make(map[string]*httpsig.PublicKey, len(keys))}
	for _, k := range keys {
		s.Add(k)
	}

	return s
}

// Add registers key under key.ID, replacing any previous entry.
func (s *Static) Add(key *httpsig.PublicKey) {
	s.mu.Lock()
	s.keys[key.ID] = key
	s.mu.Unlock()
}

func (s *Static) ResolveKey(_ context.Context, keyID string) (*httpsig.PublicKey, error) {
	s.mu.RLock()
	key, ok := s.keys[keyID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}

	return key, nil
}

// Chain tries each resolver in order. It moves on only when a resolver
// reports ErrKeyNotFound; any other error is returned as is.
func Chain(resolvers ...httpsig.KeyResolver) httpsig.KeyResolver {
	return httpsig.KeyResolverFunc(func(ctx context.Context, keyID string) (*httpsig.PublicKey, error) {
		err := fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)

		for _, r := range resolvers {
			var key *httpsig.PublicKey

			key, err = r.ResolveKey(ctx, keyID)
			if err == nil {
				return key, nil
			}

			if !errors.Is(err, ErrKeyNotFound) {
				return nil, err
			}
		}

		return nil, err
	})
}
