// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package authz

import (
	"fmt"
	"net/http"

	"github.com/hashicorp/cap-rbac/claims"
	"github.com/hashicorp/cap-rbac/session"
)

// Source names where the claims used for a decision come from.
type Source string

const (
	// SourceAccessToken decodes the session's access token.
	SourceAccessToken Source = "access_token"

	// SourceUser uses the profile claims captured at login.
	SourceUser Source = "user"
)

// ParseSource converts a configuration value to a Source.
func ParseSource(s string) (Source, error) {
	const op = "authz.ParseSource"
	switch Source(s) {
	case SourceAccessToken, SourceUser:
		return Source(s), nil
	default:
		return "", fmt.Errorf("%s: %q: %w", op, s, ErrUnknownSource)
	}
}

// ClaimsSource produces the claims a request is authorized against.
type ClaimsSource interface {
	RequestClaims(r *http.Request) (claims.Claims, error)
}

// ClaimsSourceFunc adapts a function to a ClaimsSource.
type ClaimsSourceFunc func(r *http.Request) (claims.Claims, error)

// RequestClaims implements ClaimsSource.
func (f ClaimsSourceFunc) RequestClaims(r *http.Request) (claims.Claims, error) {
	return f(r)
}

// AccessTokenClaims returns a ClaimsSource which runs the request session's
// access token through d.
func AccessTokenClaims(d claims.Decoder) ClaimsSource {
	return ClaimsSourceFunc(func(r *http.Request) (claims.Claims, error) {
		const op = "authz.AccessTokenClaims"
		s, ok := session.FromContext(r.Context())
		if !ok {
			return nil, fmt.Errorf("%s: %w", op, ErrNoSession)
		}
		c, err := d.Decode(r.Context(), s.AccessToken.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return c, nil
	})
}

// UserClaims returns a ClaimsSource which reads the profile claims of the
// request's session.
func UserClaims() ClaimsSource {
	return ClaimsSourceFunc(func(r *http.Request) (claims.Claims, error) {
		const op = "authz.UserClaims"
		s, ok := session.FromContext(r.Context())
		if !ok {
			return nil, fmt.Errorf("%s: %w", op, ErrNoSession)
		}
		return s.UserClaims(), nil
	})
}

// NewClaimsSource returns the ClaimsSource for src. The decoder is required
// for SourceAccessToken.
func NewClaimsSource(src Source, d claims.Decoder) (ClaimsSource, error) {
	const op = "authz.NewClaimsSource"
	switch src {
	case SourceAccessToken:
		if d == nil {
			return nil, fmt.Errorf("%s: decoder is nil: %w", op, ErrNilParameter)
		}
		return AccessTokenClaims(d), nil
	case SourceUser:
		return UserClaims(), nil
	default:
		return nil, fmt.Errorf("%s: %q: %w", op, src, ErrUnknownSource)
	}
}
