// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/toka/pkg/authserver/events"
	"github.com/stacklok/toka/pkg/authserver/identity"
	"github.com/stacklok/toka/pkg/authserver/metrics"
	"github.com/stacklok/toka/pkg/authserver/oauth"
	"github.com/stacklok/toka/pkg/authserver/server/handlers"
	"github.com/stacklok/toka/pkg/authserver/server/keys"
	"github.com/stacklok/toka/pkg/authserver/storage"
	"github.com/stacklok/toka/pkg/authserver/token"
	"github.com/stacklok/toka/pkg/logger"
)

// middlewareTimeout bounds the handling of a single request.
const middlewareTimeout = 60 * time.Second

// Server is the toka authorization server.
type Server struct {
	cfg     *Config
	handler http.Handler
	store   storage.Storage
	closers []func() error
}

// Option overrides a dependency that would otherwise be built from Config.
type Option func(*serverOptions)

type serverOptions struct {
	store     storage.Storage
	keys      keys.KeyProvider
	users     identity.UserDirectory
	roles     identity.RoleResolver
	passwords identity.PasswordVerifier
	events    events.Sink
	clock     func() time.Time
}

// WithStorage uses s instead of the configured storage backend. The server
// does not close s.
func WithStorage(s storage.Storage) Option {
	return func(o *serverOptions) { o.store = s }
}

// WithKeyProvider uses p instead of the configured signing key.
func WithKeyProvider(p keys.KeyProvider) Option {
	return func(o *serverOptions) { o.keys = p }
}

// WithUserDirectory uses d instead of the configured directory.
func WithUserDirectory(d identity.UserDirectory) Option {
	return func(o *serverOptions) { o.users = d }
}

// WithRoleResolver uses r instead of the configured role service.
func WithRoleResolver(r identity.RoleResolver) Option {
	return func(o *serverOptions) { o.roles = r }
}

// WithPasswordVerifier uses v instead of bcrypt.
func WithPasswordVerifier(v identity.PasswordVerifier) Option {
	return func(o *serverOptions) { o.passwords = v }
}

// WithEventSink uses s instead of the configured event publisher.
func WithEventSink(s events.Sink) Option {
	return func(o *serverOptions) { o.events = s }
}

// WithClock replaces the wall clock used for tokens and codes.
func WithClock(now func() time.Time) Option {
	return func(o *serverOptions) { o.clock = now }
}

// New builds the server and its dependencies from cfg. Call Close to release
// the connections it opened.
func New(ctx context.Context, cfg *Config, opts ...Option) (_ *Server, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	options := &serverOptions{}
	for _, opt := range opts {
		opt(options)
	}

	s := &Server{cfg: cfg}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	supported, err := cfg.SupportedScopes()
	if err != nil {
		return nil, err
	}

	keyProvider := options.keys
	if keyProvider == nil {
		if keyProvider, err = keys.NewProviderFromConfig(cfg.KeyProviderConfig()); err != nil {
			return nil, fmt.Errorf("failed to load signing key: %w", err)
		}
	}
	signingKey, err := keyProvider.SigningKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get signing key: %w", err)
	}
	logger.Debugw("signing key loaded", "kid", signingKey.KeyID, "alg", signingKey.Algorithm)

	s.store = options.store
	if s.store == nil {
		if s.store, err = storage.New(ctx, &cfg.Storage); err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
		s.closers = append(s.closers, s.store.Close)
	}

	users, roles, err := s.identityPorts(ctx, options)
	if err != nil {
		return nil, err
	}

	passwords := options.passwords
	if passwords == nil {
		passwords = identity.BcryptVerifier{}
	}

	clients, err := identity.NewStaticClientRegistry(cfg.AllClients(), supported)
	if err != nil {
		return nil, fmt.Errorf("failed to register clients: %w", err)
	}

	sink := options.events
	if sink == nil {
		sink = s.eventSink(ctx)
	}

	codecOpts := []token.Option{}
	if options.clock != nil {
		codecOpts = append(codecOpts, token.WithClock(options.clock))
	}
	recorder := metrics.New()

	svc, err := oauth.New(oauth.Deps{
		Clients:   clients,
		Users:     users,
		Roles:     roles,
		Passwords: passwords,
		Store:     s.store,
		Codec:     token.NewCodec(cfg.Issuer, keyProvider, codecOpts...),
		Events:    sink,
		Metrics:   recorder,
		Clock:     options.clock,
	}, cfg.OAuthSettings(supported))
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth service: %w", err)
	}

	h := handlers.NewHandler(svc, keyProvider, s.store, recorder)
	s.handler = s.routes(h)

	logger.Infow("authorization server configured",
		"issuer", cfg.Issuer,
		"storage", cfg.Storage.Type,
		"directory", cfg.Directory.Type,
		"clients", len(cfg.AllClients()),
	)
	return s, nil
}

func (s *Server) identityPorts(
	ctx context.Context, options *serverOptions,
) (identity.UserDirectory, identity.RoleResolver, error) {
	dir := s.cfg.Directory
	client := identity.NewServiceClient(dir.ServiceToken, s.upstreamTimeout())

	users := options.users
	if users == nil {
		switch dir.Type {
		case DirectoryTypePostgres:
			db, err := identity.OpenPostgres(ctx, dir.DatabaseURL)
			if err != nil {
				return nil, nil, err
			}
			pg := identity.NewPostgresUserDirectory(db)
			s.closers = append(s.closers, pg.Close)
			users = pg
		default:
			users = identity.NewHTTPUserDirectory(dir.UserServiceURL, client)
		}
	}

	roles := options.roles
	if roles == nil {
		roles = identity.NewHTTPRoleResolver(dir.RoleServiceURL, client)
	}
	return users, roles, nil
}

func (s *Server) eventSink(ctx context.Context) events.Sink {
	if s.cfg.Events.RabbitMQURL == "" {
		logger.Info("RABBITMQ_URL not set; domain events are logged only")
		return events.NewLogSink(logger.Get())
	}
	publisher := events.NewRabbitMQPublisher(s.cfg.Events.RabbitMQURL, s.cfg.Events.Exchange)
	// The publisher outlives the construction context.
	publisher.Start(context.WithoutCancel(ctx))
	s.closers = append(s.closers, publisher.Close)
	return publisher
}

func (s *Server) upstreamTimeout() time.Duration {
	return seconds(s.cfg.Tokens.UpstreamTimeoutSeconds)
}

func (s *Server) routes(h *handlers.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(middlewareTimeout),
	)

	mount := s.cfg.MountPath()
	if mount == "" {
		r.Mount("/", h.Routes())
		return r
	}
	r.Mount(mount, h.Routes())
	// Probes hit the root regardless of the issuer path.
	r.Get("/health", h.HealthHandler)
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves HTTP on the configured port until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(s.cfg.Server.Port)))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.cfg.Server.Port, err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves HTTP on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("starting authorization server on %s", listener.Addr())
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped with error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	logger.Info("shutting down authorization server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// Close releases the storage, directory and broker connections opened by New.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
