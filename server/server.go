// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package server wires authentication, the role gate and the application
// routes into an http.Handler and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/cap-rbac/auth"
	"github.com/hashicorp/cap-rbac/authz"
	"github.com/hashicorp/cap-rbac/claims"
	"github.com/hashicorp/cap-rbac/config"
	"github.com/hashicorp/cap-rbac/session"
	"github.com/hashicorp/cap/oidc"
	"github.com/hashicorp/go-hclog"
)

// Server is the application.
type Server struct {
	cfg     *config.Config
	opts    options
	logger  hclog.Logger
	auth    *auth.Middleware
	handler http.Handler
}

// New builds the application from cfg. It contacts the provider for its
// discovery document (and, when access tokens are verified, its keys) before
// returning. Background work is bound to ctx.
//
// Supported options:
//   - WithLogger
//   - WithProviderCA
//   - WithShutdownTimeout
func New(ctx context.Context, cfg *config.Config, opt ...Option) (*Server, error) {
	const op = "server.New"
	if cfg == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)
	s := &Server{
		cfg:    cfg,
		opts:   opts,
		logger: opts.withLogger,
	}

	caPEM := opts.withProviderCA
	if caPEM == "" {
		var err error
		if caPEM, err = cfg.ProviderCA(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	store, err := session.NewCookieStore(string(cfg.Secret),
		session.WithCookieName(cfg.SessionName),
		session.WithRollingDuration(cfg.SessionRollingDuration),
		session.WithAbsoluteDuration(cfg.SessionAbsoluteDuration),
		session.WithSecure(strings.HasPrefix(cfg.BaseURL, "https://")),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.auth, err = auth.New(ctx, cfg.Issuer, cfg.ClientID, oidc.ClientSecret(cfg.ClientSecret), cfg.BaseURL, store,
		auth.WithAudience(cfg.Audience),
		auth.WithScopes(cfg.Scopes...),
		auth.WithProviderCA(caPEM),
		auth.WithFetchUserInfo(cfg.FetchUserInfo),
		auth.WithProviderLogout(cfg.ProviderLogout),
		auth.WithLoginTimeout(cfg.LoginAttemptTimeout),
		auth.WithLogger(s.logger.Named("auth")),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	decoder, err := s.decoder(ctx, caPEM)
	if err != nil {
		s.auth.Done()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	src, err := authz.NewClaimsSource(cfg.Source(), decoder)
	if err != nil {
		s.auth.Done()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	gate, err := authz.RequireRole(src, cfg.RequiredRole,
		authz.WithNamespace(cfg.RolesNamespace),
		authz.WithPermission(cfg.RequiredPermission),
		authz.WithLogger(s.logger.Named("authz")),
	)
	if err != nil {
		s.auth.Done()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.handler = s.logRequests(s.routes(gate))
	return s, nil
}

// decoder returns the claims.Decoder used on access tokens.
func (s *Server) decoder(ctx context.Context, caPEM string) (claims.Decoder, error) {
	const op = "server.(Server).decoder"
	if !s.cfg.VerifyAccessToken {
		s.logger.Warn("access token signatures are not verified, VERIFY_ACCESS_TOKEN=false")
		return claims.UnverifiedDecoder{}, nil
	}
	vOpts := []claims.Option{claims.WithProviderCA(caPEM)}
	if s.cfg.Audience != "" {
		vOpts = append(vOpts, claims.WithAudiences(s.cfg.Audience))
	}
	if s.cfg.JWKSURL != "" {
		vOpts = append(vOpts, claims.WithJWKSURL(s.cfg.JWKSURL))
	}
	v, err := claims.NewVerifier(ctx, s.cfg.Issuer, vOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

// Handler is the complete application handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Done releases the resources held by the server.
func (s *Server) Done() {
	s.auth.Done()
}

// Run listens on the configured port and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	const op = "server.(Server).Run"
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully. ln is
// closed when Serve returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	const op = "server.(Server).Serve"
	if ln == nil {
		return fmt.Errorf("%s: listener is nil: %w", op, ErrNilParameter)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	srvCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.TLSEnabled() {
			s.logger.Info("starting https server", "addr", ln.Addr().String())
			err = srv.ServeTLS(ln, s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			s.logger.Info("starting http server", "addr", ln.Addr().String())
			err = srv.Serve(ln)
		}
		srvCh <- err
	}()

	select {
	case err := <-srvCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.withShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Info("shutdown complete")
	return nil
}
