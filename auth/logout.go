// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/cap-rbac/internal/httpclient"
	"github.com/hashicorp/cap-rbac/session"
)

// auth0LogoutPath is used when the provider does not advertise an
// end_session_endpoint.
const auth0LogoutPath = "/v2/logout"

type logoutEndpoint struct {
	endSession string
}

// discoverLogout reads the end_session_endpoint from the provider's
// discovery document. An empty endpoint is not an error.
func discoverLogout(ctx context.Context, issuer, caPEM string) (*logoutEndpoint, error) {
	const op = "auth.discoverLogout"
	client, err := httpclient.NewClient(caPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	p, err := gooidc.NewProvider(httpclient.ClientContext(ctx, client), issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var claims struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := p.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &logoutEndpoint{endSession: claims.EndSessionEndpoint}, nil
}

// logoutURL is where Logout sends the browser. s may be nil.
func (m *Middleware) logoutURL(s *session.Session) string {
	if !m.opts.withProviderLogout || m.logout == nil {
		return m.baseURL
	}
	if m.logout.endSession != "" {
		q := url.Values{
			"client_id":                {m.clientID},
			"post_logout_redirect_uri": {m.baseURL},
		}
		if s != nil && s.IDToken != "" {
			q.Set("id_token_hint", s.IDToken)
		}
		u, err := withQuery(m.logout.endSession, q)
		if err != nil {
			m.logger.Warn("invalid end session endpoint", "endpoint", m.logout.endSession, "error", err)
			return m.baseURL
		}
		return u
	}
	q := url.Values{
		"client_id": {m.clientID},
		"returnTo":  {m.baseURL},
	}
	return strings.TrimSuffix(m.issuer, "/") + auth0LogoutPath + "?" + q.Encode()
}
