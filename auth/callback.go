// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/cap-rbac/internal/id"
	"github.com/hashicorp/cap-rbac/session"
	"github.com/hashicorp/cap/oidc"
	"github.com/hashicorp/cap/oidc/callback"
	"golang.org/x/oauth2"
)

type staticTokenSourcer interface {
	StaticTokenSource() oauth2.TokenSource
}

// success is the callback.SuccessResponseFunc: it turns the verified tokens
// into a session, saves it and sends the user where the login started.
func (m *Middleware) success(state string, t oidc.Token, w http.ResponseWriter, req *http.Request) {
	const op = "auth.(Middleware).success"
	ctx := req.Context()
	oidcRequest, err := m.requests.Read(ctx, state)
	if err != nil {
		m.logger.Error("error reading state during successful response", "op", op, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	defer m.requests.Delete(state)

	returnTo := "/"
	if extended, ok := oidcRequest.(extendedRequest); ok {
		returnTo = extended.returnTo
	}

	s, err := m.newSession(ctx, t)
	if err != nil {
		m.logger.Error("unable to create session", "op", op, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if err := m.store.Save(w, req, s); err != nil {
		m.logger.Error("unable to save session", "op", op, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	m.logger.Info("user logged in", "session_id", s.ID, "sub", s.UserClaims().Subject())
	http.Redirect(w, req, returnTo, http.StatusFound)
}

// failed is the callback.ErrorResponseFunc.
func (m *Middleware) failed(state string, r *callback.AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
	if state != "" {
		m.requests.Delete(state)
	}
	switch {
	case e != nil:
		m.logger.Error("callback error", "error", e)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	case r != nil:
		m.logger.Warn("callback error from oidc provider", "error", r.Error, "error_description", r.Description)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	default:
		m.logger.Error("unknown error from callback")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (m *Middleware) newSession(ctx context.Context, t oidc.Token) (*session.Session, error) {
	const op = "auth.(Middleware).newSession"
	if t == nil {
		return nil, fmt.Errorf("%s: token is nil: %w", op, ErrNilParameter)
	}
	user := map[string]interface{}{}
	if err := t.IDToken().Claims(&user); err != nil {
		return nil, fmt.Errorf("%s: unable to read id_token claims: %w", op, err)
	}
	now := m.now()

	var at session.AccessToken
	ts, hasSource := t.(staticTokenSourcer)
	switch {
	case hasSource && ts.StaticTokenSource() != nil:
		tk, err := ts.StaticTokenSource().Token()
		if err != nil {
			return nil, fmt.Errorf("%s: unable to read access token: %w", op, err)
		}
		at = session.NewAccessToken(tk, now)
	case t.AccessToken() != "":
		at = session.NewAccessToken(&oauth2.Token{
			AccessToken: string(t.AccessToken()),
			Expiry:      t.Expiry(),
		}, now)
	}

	if m.opts.withFetchUserInfo && hasSource && ts.StaticTokenSource() != nil {
		sub, _ := user["sub"].(string)
		info := map[string]interface{}{}
		if err := m.provider.UserInfo(ctx, ts.StaticTokenSource(), sub, &info); err != nil {
			return nil, fmt.Errorf("%s: unable to get userinfo claims: %w", op, err)
		}
		for k, v := range info {
			user[k] = v
		}
	}

	sid, err := id.New(id.SessionPrefix)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &session.Session{
		ID:           sid,
		User:         user,
		IDToken:      string(t.IDToken()),
		AccessToken:  at,
		RefreshToken: string(t.RefreshToken()),
	}, nil
}
