// Package activitypub serves and fetches the discovery documents that let
// remote servers find an actor's public key: the WebFinger document and
// the ActivityPub actor profile.
package activitypub

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/idna"
)

var (
	// ErrInvalidIdentity is returned when a scheme, domain or user is not
	// usable to build an actor identity.
	ErrInvalidIdentity = errors.New("activitypub: invalid identity")

	// ErrInvalidAccount is returned for malformed acct: handles.
	ErrInvalidAccount = errors.New("activitypub: invalid account")

	// ErrNotFound is returned when a remote server does not know the
	// requested account or actor.
	ErrNotFound = errors.New("activitypub: not found")

	// ErrInvalidDocument is returned when a fetched document cannot be
	// decoded or lacks required fields.
	ErrInvalidDocument = errors.New("activitypub: invalid document")
)

// Identity is the local actor. All URLs are derived from the domain.
type Identity struct {
	Scheme            string
	Domain            string
	PreferredUsername string

	// ID is <scheme>://<domain>/actor.
	ID string

	// KeyID is ID + "#main-key".
	KeyID string

	// Inbox is <scheme>://<domain>/inbox.
	Inbox string
}

// NewIdentity builds the identity of user at domain. The domain is
// normalised to its lowercase ASCII form and may carry a port.
func NewIdentity(scheme, domain, user string) (Identity, error) {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if scheme == "" {
		scheme = "https"
	}

	if scheme != "https" && scheme != "http" {
		return Identity{}, fmt.Errorf("%w: scheme %q", ErrInvalidIdentity, scheme)
	}

	host, err := NormalizeDomain(domain)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidIdentity, err)
	}

	user = strings.TrimSpace(user)
	if user == "" || strings.ContainsAny(user, "@/:# ") {
		return Identity{}, fmt.Errorf("%w: user %q", ErrInvalidIdentity, user)
	}

	base := scheme + "://" + host
	id := base + "/actor"

	return Identity{
		Scheme:            scheme,
		Domain:            host,
		PreferredUsername: user,
		ID:                id,
		KeyID:             id + "#main-key",
		Inbox:             base + "/inbox",
	}, nil
}

// Account returns the handle "<user>@<domain>".
func (id Identity) Account() string {
	return id.PreferredUsername + "@" + id.Domain
}

// Subject returns the WebFinger subject "acct:<user>@<domain>".
func (id Identity) Subject() string {
	return "acct:" + id.Account()
}

// NormalizeDomain converts domain to lowercase ASCII (punycode) form. An
// optional ":port" suffix is kept.
func NormalizeDomain(domain string) (string, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return "", errors.New("empty domain")
	}

	host, port := domain, ""
	if h, p, err := net.SplitHostPort(domain); err == nil {
		host, port = h, p
	}

	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("domain %q: %w", domain, err)
	}

	if ascii == "" {
		return "", fmt.Errorf("domain %q: empty host", domain)
	}

	if port != "" {
		return net.JoinHostPort(ascii, port), nil
	}

	return ascii, nil
}

// ParseAccount splits a handle into user and normalised domain. It accepts
// "acct:alice@example.org", "alice@example.org" and "@alice@example.org".
func ParseAccount(s string) (user, domain string, err error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "acct:")
	s = strings.TrimPrefix(s, "@")

	user, domain, ok := strings.Cut(s, "@")
	if !ok || user == "" || domain == "" || strings.Contains(domain, "@") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidAccount, s)
	}

	domain, err = NormalizeDomain(domain)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidAccount, err)
	}

	return user, domain, nil
}
