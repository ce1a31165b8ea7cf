// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package auth connects the application to an OpenID Connect provider: it
// starts logins, handles the authorization code callback, keeps the resulting
// session in a cookie and logs users out.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/cap-rbac/session"
	"github.com/hashicorp/cap/oidc"
	"github.com/hashicorp/cap/oidc/callback"
	"github.com/hashicorp/go-hclog"
)

// Route paths served by the Middleware.
const (
	LoginPath    = "/login"
	CallbackPath = "/callback"
	LogoutPath   = "/logout"
)

// SessionStore persists sessions between requests.
type SessionStore interface {
	Load(r *http.Request) (*session.Session, error)
	Save(w http.ResponseWriter, r *http.Request, s *session.Session) error
	Clear(w http.ResponseWriter, r *http.Request)
}

// Middleware authenticates users against a single OIDC provider.
type Middleware struct {
	provider    *oidc.Provider
	store       SessionStore
	requests    *requestCache
	callback    http.HandlerFunc
	logout      *logoutEndpoint
	issuer      string
	clientID    string
	baseURL     string
	redirectURL string
	opts        options
	logger      hclog.Logger

	stopSweep context.CancelFunc
	sweepDone chan struct{}
}

// New creates a Middleware for the provider at issuer. The provider's
// discovery document is fetched before New returns. Login attempts older
// than the login timeout are swept in the background until ctx is done.
//
// Supported options:
//   - WithAudience
//   - WithScopes
//   - WithProviderCA
//   - WithFetchUserInfo
//   - WithProviderLogout
//   - WithLoginTimeout
//   - WithSweepInterval
//   - WithLogger
//   - WithNow
func New(ctx context.Context, issuer, clientID string, clientSecret oidc.ClientSecret, baseURL string, store SessionStore, opt ...Option) (*Middleware, error) {
	const op = "auth.New"
	switch {
	case issuer == "":
		return nil, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	case clientID == "":
		return nil, fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	case clientSecret == "":
		return nil, fmt.Errorf("%s: client secret is empty: %w", op, ErrInvalidParameter)
	case baseURL == "":
		return nil, fmt.Errorf("%s: base url is empty: %w", op, ErrInvalidParameter)
	case store == nil:
		return nil, fmt.Errorf("%s: session store is nil: %w", op, ErrNilParameter)
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("%s: base url %q: %w", op, baseURL, ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	baseURL = strings.TrimSuffix(baseURL, "/")
	redirectURL := baseURL + CallbackPath

	var cfgOpts []oidc.Option
	if opts.withProviderCA != "" {
		cfgOpts = append(cfgOpts, oidc.WithProviderCA(opts.withProviderCA))
	}
	pc, err := oidc.NewConfig(issuer, clientID, clientSecret, []oidc.Alg{oidc.RS256}, []string{redirectURL}, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	p, err := oidc.NewProvider(pc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	m := &Middleware{
		provider:    p,
		store:       store,
		requests:    newRequestCache(),
		issuer:      issuer,
		clientID:    clientID,
		baseURL:     baseURL,
		redirectURL: redirectURL,
		opts:        opts,
		logger:      opts.withLogger,
	}
	m.callback, err = callback.AuthCode(ctx, p, m.requests, m.success, m.failed)
	if err != nil {
		p.Done()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if opts.withProviderLogout {
		m.logout, err = discoverLogout(ctx, issuer, opts.withProviderCA)
		if err != nil {
			// logins still work, logout falls back to the Auth0 endpoint
			m.logger.Warn("unable to discover end session endpoint", "error", err)
			m.logout = &logoutEndpoint{}
		}
	}
	sweepCtx, stop := context.WithCancel(ctx)
	m.stopSweep, m.sweepDone = stop, make(chan struct{})
	go func() {
		defer close(m.sweepDone)
		m.requests.run(sweepCtx, opts.withSweepInterval)
	}()
	return m, nil
}

// Done stops the login request sweeper and releases the provider's
// resources.
func (m *Middleware) Done() {
	m.stopSweep()
	<-m.sweepDone
	m.provider.Done()
}

// RedirectURL is the callback URL registered with the provider.
func (m *Middleware) RedirectURL() string { return m.redirectURL }

// Login starts an authorization code flow with PKCE and redirects to the
// provider. The "returnTo" query parameter, when it is a local path, is where
// the user lands once the callback succeeds.
func (m *Middleware) Login(w http.ResponseWriter, r *http.Request) {
	const op = "auth.(Middleware).Login"
	v, err := oidc.NewCodeVerifier()
	if err != nil {
		m.logger.Error("unable to create code verifier", "op", op, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	oidcRequest, err := oidc.NewRequest(m.opts.withLoginTimeout, m.redirectURL,
		oidc.WithScopes(m.opts.withScopes...),
		oidc.WithPKCE(v),
	)
	if err != nil {
		m.logger.Error("unable to create login request", "op", op, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	authURL, err := m.provider.AuthURL(r.Context(), oidcRequest)
	if err != nil {
		m.logger.Error("unable to build auth url", "op", op, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if m.opts.withAudience != "" {
		authURL, err = withQuery(authURL, url.Values{"audience": {m.opts.withAudience}})
		if err != nil {
			m.logger.Error("unable to add audience to auth url", "op", op, "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
	}
	m.requests.Add(oidcRequest, safeReturnTo(r.URL.Query().Get("returnTo")))
	m.logger.Debug("login started", "state", oidcRequest.State())
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback handles the provider's redirect back to the application.
func (m *Middleware) Callback(w http.ResponseWriter, r *http.Request) {
	m.callback(w, r)
}

// RequiresAuth redirects requests without a valid session to the login route
// and otherwise renews the session cookie and stores the session in the
// request context, see session.FromContext.
func (m *Middleware) RequiresAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := m.store.Load(r)
		if err != nil || !s.Authenticated() {
			if err != nil && !errors.Is(err, session.ErrNotFound) {
				m.logger.Debug("discarding session", "path", r.URL.Path, "error", err)
				m.store.Clear(w, r)
			}
			m.redirectToLogin(w, r)
			return
		}
		if err := m.store.Save(w, r, s); err != nil {
			m.logger.Debug("unable to renew session", "session_id", s.ID, "error", err)
			m.store.Clear(w, r)
			m.redirectToLogin(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(session.NewContext(r.Context(), s)))
	})
}

// Logout clears the session cookie and redirects to the provider's logout
// endpoint, or to the base URL when provider logout is disabled.
func (m *Middleware) Logout(w http.ResponseWriter, r *http.Request) {
	s, err := m.store.Load(r)
	if err != nil {
		s = nil
	}
	m.store.Clear(w, r)
	if s != nil {
		m.logger.Debug("logged out", "session_id", s.ID)
	}
	http.Redirect(w, r, m.logoutURL(s), http.StatusFound)
}

func (m *Middleware) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	q := url.Values{"returnTo": {r.URL.RequestURI()}}
	http.Redirect(w, r, LoginPath+"?"+q.Encode(), http.StatusFound)
}

func (m *Middleware) now() time.Time {
	return m.opts.withNow()
}

// safeReturnTo only allows local absolute paths.
func safeReturnTo(p string) string {
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return "/"
	}
	u, err := url.Parse(p)
	if err != nil || u.IsAbs() || u.Host != "" {
		return "/"
	}
	return p
}

func withQuery(raw string, extra url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
