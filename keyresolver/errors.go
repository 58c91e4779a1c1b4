package keyresolver

import "errors"

var (
	// ErrKeyNotFound is returned when the keyId is not a fetchable URL, the
	// remote server reports the document gone, or the fetched document does
	// not publish the requested key.
	ErrKeyNotFound = errors.New("keyresolver: key not found")

	// ErrFetch is returned when the key document cannot be retrieved.
	ErrFetch = errors.New("keyresolver: fetch failed")

	// ErrInvalidDocument is returned when the fetched document is not valid
	// JSON, carries unusable key material, or names a different owner.
	ErrInvalidDocument = errors.New("keyresolver: invalid key document")
)

// transientError marks a failure worth retrying: network errors, 5xx and
// 429 responses.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func transient(err error) error {
	return &transientError{err: err}
}

func isTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// errorClass names err for metrics labels.
func errorClass(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrKeyNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidDocument):
		return "invalid_document"
	default:
		return "fetch"
	}
}
