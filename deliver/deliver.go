// Package deliver posts signed activities to remote inboxes.
package deliver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vitalvas/fedsig/httpsig"
	"github.com/vitalvas/fedsig/logger"
	"github.com/vitalvas/fedsig/metrics"
)

const (
	DefaultTimeout = 10 * time.Second

	// ContentType is sent with every delivery.
	ContentType = "application/activity+json"

	// excerptSize bounds the response body kept in a RejectedError.
	excerptSize = 512
)

var (
	// ErrRejected is returned when the remote inbox answers with a non-2xx
	// status.
	ErrRejected = errors.New("deliver: rejected by remote inbox")

	// ErrInvalidConfig is returned by New for unusable settings.
	ErrInvalidConfig = errors.New("deliver: invalid config")
)

// RejectedError carries the remote status and the start of its body.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%v: status %d: %s", ErrRejected, e.StatusCode, e.Body)
}

func (e *RejectedError) Unwrap() error {
	return ErrRejected
}

// Config configures a Deliverer.
type Config struct {
	// Signer signs every request. Required.
	Signer httpsig.Signer

	// Headers overrides the covered header list. Must include digest.
	Headers []string

	// BaseTransport carries the signed requests. Defaults to a clone of
	// http.DefaultTransport.
	BaseTransport http.RoundTripper

	// Timeout bounds each delivery, response included.
	Timeout time.Duration

	UserAgent string

	// IncludeQuery signs the inbox query string as part of the
	// (request-target). The receiver must agree.
	IncludeQuery bool

	Metrics *metrics.Metrics
}

// Response describes an accepted delivery.
type Response struct {
	StatusCode int
	Body       []byte
}

// Deliverer sends signed activities. It is safe for concurrent use.
type Deliverer struct {
	client    *http.Client
	userAgent string
	metrics   *metrics.Metrics
}

// New creates a Deliverer.
func New(cfg Config) (*Deliverer, error) {
	if cfg.Signer == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, httpsig.ErrNoSigner)
	}

	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}

	headers := cfg.Headers
	if len(headers) == 0 {
		headers = httpsig.DefaultHeaders
	}

	if !containsFold(headers, httpsig.HeaderDigest) {
		return nil, fmt.Errorf("%w: signed headers must include digest", ErrInvalidConfig)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	transport := httpsig.NewTransport(cfg.BaseTransport, httpsig.SignConfig{
		Signer:       cfg.Signer,
		Headers:      headers,
		IncludeQuery: cfg.IncludeQuery,
	})

	return &Deliverer{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: cfg.UserAgent,
		metrics:   cfg.Metrics,
	}, nil
}

// Deliver POSTs activity to inboxURL with a Signature covering the request
// target, host, date and digest. Nothing is sent when signing fails.
// Deliveries are not retried.
func (d *Deliverer) Deliver(ctx context.Context, inboxURL string, activity []byte) (*Response, error) {
	log := logger.From(ctx).With(logger.Component("deliver"), logger.Inbox(inboxURL))
	start := time.Now()

	resp, err := d.send(ctx, inboxURL, activity)

	result := "delivered"

	var rejected *RejectedError

	switch {
	case errors.As(err, &rejected):
		result = "rejected"
		log.Warn("delivery rejected", logger.Status(rejected.StatusCode), logger.DurationMs(time.Since(start)))
	case err != nil:
		result = "error"
		log.Warn("delivery failed", logger.Err(err), logger.DurationMs(time.Since(start)))
	default:
		log.Info("delivered", logger.Status(resp.StatusCode), logger.DurationMs(time.Since(start)))
	}

	d.metrics.ObserveDelivery(result, time.Since(start).Seconds())

	return resp, err
}

func (d *Deliverer) send(ctx context.Context, inboxURL string, activity []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inboxURL, bytes.NewReader(activity))
	if err != nil {
		return nil, fmt.Errorf("deliver: build request: %w", err)
	}

	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Accept", ContentType)

	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deliver: post %s: %w", inboxURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("deliver: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt := body
		if len(excerpt) > excerptSize {
			excerpt = excerpt[:excerptSize]
		}

		return nil, &RejectedError{StatusCode: resp.StatusCode, Body: string(excerpt)}
	}

	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

func containsFold(list []string, name string) bool {
	for _, v := range list {
		if strings.EqualFold(v, name) {
			return true
		}
	}

	return false
}
