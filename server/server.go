// Package server wires the fedsig HTTP service: the actor's discovery
// documents, the signature-verified inbox, health and metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vitalvas/fedsig/activitypub"
	"github.com/vitalvas/fedsig/config"
	"github.com/vitalvas/fedsig/httpsig"
	"github.com/vitalvas/fedsig/keystore"
	"github.com/vitalvas/fedsig/logger"
	"github.com/vitalvas/fedsig/metrics"
)

// Options are the dependencies of a Server.
type Options struct {
	Config  *config.Config
	KeyPair *keystore.KeyPair

	// Metrics may be nil.
	Metrics *metrics.Metrics

	// Resolver overrides the resolver built from Config. The local actor's
	// key is always resolved without network access.
	Resolver httpsig.KeyResolver

	// OnActivity is called for each accepted inbox activity.
	OnActivity activitypub.ActivityFunc
}

// Server is the fedsig HTTP service.
type Server struct {
	cfg      *config.Config
	identity activitypub.Identity
	handler  http.Handler
	checks   []Check
	cleanup  []func() error
}

// New builds the router and its dependencies. Call Close when done.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("server: config is required")
	}

	if opts.KeyPair == nil {
		return nil, errors.New("server: key pair is required")
	}

	cfg := opts.Config

	identity, err := activitypub.NewIdentity(cfg.Actor.Scheme, cfg.Actor.Domain, cfg.Actor.User)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	publicPEM, err := opts.KeyPair.PublicKeyPEM()
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	docs, err := activitypub.NewHandler(identity, publicPEM)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	s := &Server{cfg: cfg, identity: identity}

	resolver := opts.Resolver
	if resolver == nil {
		built, err := buildResolver(cfg, opts.KeyPair, identity, opts.Metrics)
		if err != nil {
			return nil, err
		}

		resolver = built.resolver
		s.checks = append(s.checks, built.checks...)
		s.cleanup = append(s.cleanup, built.cleanup...)
	} else {
		resolver = withLocalKey(resolver, opts.KeyPair, identity)
	}

	router, err := s.routes(docs, resolver, opts)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	s.handler = router

	return s, nil
}

// Identity returns the local actor.
func (s *Server) Identity() activitypub.Identity {
	return s.identity
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Server.Addr, err)
	}

	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully within
// the configured shutdown timeout. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		IdleTimeout:       s.cfg.Server.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	log := logger.Named("server")

	errCh := make(chan error, 1)

	go func() {
		log.Info("listening", zap.String("addr", ln.Addr().String()), logger.Actor(s.identity.ID))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("server: %w", err)

	case <-ctx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}

	return nil
}

// Close releases the resources New acquired, such as a redis client.
func (s *Server) Close() error {
	var errs []error

	for _, fn := range s.cleanup {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}

	s.cleanup = nil

	return errors.Join(errs...)
}

// Check reports whether a dependency is ready to serve.
type Check struct {
	Name  string
	Check func(ctx context.Context) error
}

const readyTimeout = 2 * time.Second

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	for _, c := range s.checks {
		if err := c.Check(ctx); err != nil {
			logger.From(r.Context()).Warn("readiness check failed", logger.Component(c.Name), logger.Err(err))
			http.Error(w, c.Name+" unavailable", http.StatusServiceUnavailable)

			return
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}
