package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// maxDocumentSize caps fetched WebFinger and actor documents.
const maxDocumentSize = 1 << 20

// Client fetches remote discovery documents.
type Client struct {
	// HTTP performs the requests. Defaults to http.DefaultClient.
	HTTP *http.Client

	// Scheme used for WebFinger lookups. Defaults to "https".
	Scheme string

	UserAgent string
}

func (c *Client) httpClient() *http.Client {
	if c == nil || c.HTTP == nil {
		return http.DefaultClient
	}

	return c.HTTP
}

func (c *Client) scheme() string {
	if c == nil || c.Scheme == "" {
		return "https"
	}

	return c.Scheme
}

// WebFingerURL returns the lookup URL for account on its own domain.
func (c *Client) WebFingerURL(account string) (string, error) {
	user, domain, err := ParseAccount(account)
	if err != nil {
		return "", err
	}

	q := url.Values{"resource": {"acct:" + user + "@" + domain}}

	u := url.URL{
		Scheme:   c.scheme(),
		Host:     domain,
		Path:     "/.well-known/webfinger",
		RawQuery: q.Encode(),
	}

	return u.String(), nil
}

// WebFinger fetches the WebFinger document of account.
func (c *Client) WebFinger(ctx context.Context, account string) (*WebFinger, error) {
	u, err := c.WebFingerURL(account)
	if err != nil {
		return nil, err
	}

	var doc WebFinger
	if err := c.getJSON(ctx, u, ContentTypeJRD+", application/json", &doc); err != nil {
		return nil, err
	}

	return &doc, nil
}

// Lookup resolves account to its actor URL through WebFinger.
func (c *Client) Lookup(ctx context.Context, account string) (string, error) {
	doc, err := c.WebFinger(ctx, account)
	if err != nil {
		return "", err
	}

	href, ok := doc.Self()
	if !ok {
		return "", fmt.Errorf("%w: no self link for %s", ErrInvalidDocument, account)
	}

	return href, nil
}

// FetchActor fetches and decodes the actor document at actorURL.
func (c *Client) FetchActor(ctx context.Context, actorURL string) (*Actor, error) {
	var actor Actor
	if err := c.getJSON(ctx, actorURL, ContentTypeActivity+", "+ContentTypeLDJSON, &actor); err != nil {
		return nil, err
	}

	if actor.ID == "" || actor.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("%w: actor %s has no id or public key", ErrInvalidDocument, actorURL)
	}

	return &actor, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL, accept string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("activitypub: build request: %w", err)
	}

	req.Header.Set("Accept", accept)

	if c != nil && c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("activitypub: get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("activitypub: get %s: status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return fmt.Errorf("activitypub: read %s: %w", rawURL, err)
	}

	if len(body) > maxDocumentSize {
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidDocument, rawURL, maxDocumentSize)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDocument, rawURL, err)
	}

	return nil
}
