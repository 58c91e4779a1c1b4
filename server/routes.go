package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vitalvas/fedsig/activitypub"
	"github.com/vitalvas/fedsig/httpsig"
	"github.com/vitalvas/fedsig/logger"
	"github.com/vitalvas/fedsig/middleware"
)

// inboxTypes are the media types accepted on the inbox.
var inboxTypes = []string{
	activitypub.ContentTypeActivity,
	"application/ld+json",
	"application/json",
}

func (s *Server) routes(docs *activitypub.Handler, resolver httpsig.KeyResolver, opts Options) (http.Handler, error) {
	cfg := s.cfg

	sizeLimit, err := middleware.RequestSizeLimit(cfg.Server.MaxBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	timeout, err := middleware.Timeout(cfg.Server.HandlerTimeout, "request timed out")
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	contentType, err := middleware.ContentType(inboxTypes...)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	hostname, err := middleware.ServerHeader("", "POD_NAME", "HOSTNAME")
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	verify, err := httpsig.Middleware(httpsig.MiddlewareConfig{
		Verify: httpsig.VerifyConfig{
			Resolver:      resolver,
			ClockSkew:     cfg.Signature.ClockSkew,
			RequireDigest: cfg.Signature.RequireDigest,
			IncludeQuery:  cfg.Signature.IncludeQuery,
		},
		OnResult: func(r *http.Request, res *httpsig.Result, err error) {
			log := logger.From(r.Context()).With(logger.Component("httpsig"))

			if err != nil {
				kind := httpsig.KindOf(err)
				opts.Metrics.ObserveVerification(string(kind))
				log.Warn("signature rejected", logger.RejectKind(string(kind)), logger.Err(err))

				return
			}

			opts.Metrics.ObserveVerification("accepted")
			log.Debug("signature accepted", logger.KeyID(res.KeyID), logger.Owner(res.Owner))
		},
		OnError: func(w http.ResponseWriter, _ *http.Request, err error) {
			// A streamed body can cross the size limit while the digest is read.
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "invalid signature", http.StatusUnauthorized)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	r := chi.NewRouter()

	if len(cfg.Server.TrustedProxies) > 0 {
		proxy, err := middleware.ProxyHeaders(cfg.Server.TrustedProxies)
		if err != nil {
			return nil, fmt.Errorf("server: %w", err)
		}

		r.Use(proxy)
	}

	r.Use(middleware.RequestID(middleware.RequestIDConfig{}))
	r.Use(middleware.AccessLog())
	r.Use(middleware.Recovery())
	r.Use(opts.Metrics.Middleware)
	r.Use(hostname)

	r.Get("/healthz", healthz)
	r.Get("/readyz", s.ready)
	r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(timeout)

		r.Get("/", docs.Hello)
		r.Get("/actor", docs.Actor)
		r.Get("/.well-known/webfinger", docs.WebFinger)

		r.With(sizeLimit, contentType, verify).Method(http.MethodPost, "/inbox", activitypub.InboxHandler(opts.OnActivity))
	})

	return r, nil
}
