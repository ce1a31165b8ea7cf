// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package session holds the per-request authentication context (profile
// claims and tokens) and persists it between requests in an encrypted
// cookie.
package session

import (
	"context"
	"time"

	"github.com/hashicorp/cap-rbac/claims"
	"golang.org/x/oauth2"
)

// Session is the authentication context of a logged in user.
type Session struct {
	// ID identifies the session in logs.
	ID string `json:"id"`

	// User holds the profile claims of the id_token received at login,
	// optionally merged with the provider's userinfo reply.
	User map[string]interface{} `json:"user"`

	IDToken      string      `json:"id_token"`
	AccessToken  AccessToken `json:"access_token"`
	RefreshToken string      `json:"refresh_token,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AccessToken is the OAuth2 access token of a session. ExpiresIn is the number
// of seconds left before Expiry, recomputed each time the session is loaded.
type AccessToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	Expiry      time.Time `json:"expires_at,omitempty"`
}

// NewAccessToken converts an oauth2 token.
func NewAccessToken(t *oauth2.Token, now time.Time) AccessToken {
	if t == nil {
		return AccessToken{}
	}
	at := AccessToken{
		AccessToken: t.AccessToken,
		TokenType:   t.Type(),
		Expiry:      t.Expiry,
	}
	at.SetExpiresIn(now)
	return at
}

// SetExpiresIn recomputes ExpiresIn relative to now. A token without an expiry
// keeps ExpiresIn at zero.
func (a *AccessToken) SetExpiresIn(now time.Time) {
	if a.Expiry.IsZero() {
		a.ExpiresIn = 0
		return
	}
	secs := int64(a.Expiry.Sub(now) / time.Second)
	if secs < 0 {
		secs = 0
	}
	a.ExpiresIn = secs
}

// IsExpired reports whether the token has an expiry at or before now.
func (a AccessToken) IsExpired(now time.Time) bool {
	return !a.Expiry.IsZero() && !now.Before(a.Expiry)
}

// OAuth2 converts the token for use with golang.org/x/oauth2 token sources.
func (a AccessToken) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken: a.AccessToken,
		TokenType:   a.TokenType,
		Expiry:      a.Expiry,
	}
}

// String redacts the token.
func (a AccessToken) String() string {
	return "[REDACTED: access_token]"
}

// Authenticated reports whether the session belongs to a logged in user.
func (s *Session) Authenticated() bool {
	return s != nil && s.IDToken != ""
}

// UserClaims returns the profile claims as Claims.
func (s *Session) UserClaims() claims.Claims {
	if s == nil || s.User == nil {
		return claims.Claims{}
	}
	return claims.Claims(s.User)
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session carried by ctx, if any.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	if !ok || s == nil {
		return nil, false
	}
	return s, true
}
