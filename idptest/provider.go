// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package idptest provides a disposable, in-process OpenID Connect provider
// for tests. It serves discovery, JWKS, authorize, token and userinfo
// endpoints over TLS and mints RS256 tokens carrying configurable claims.
package idptest

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

// Defaults used by a freshly started Provider.
const (
	DefaultClientID     = "test-client-id"
	DefaultClientSecret = "test-client-secret"
	DefaultAuthCode     = "test-auth-code"
	DefaultSubject      = "auth0|alice"
	DefaultKeyID        = "test-key"
)

// Provider is a local OIDC provider. All setters are safe to call while the
// provider is serving requests.
type Provider struct {
	t          testing.TB
	httpServer *httptest.Server
	caCert     string

	privKey *rsa.PrivateKey
	keyID   string

	mu                sync.Mutex
	clientID          string
	clientSecret      string
	expectedAuthCode  string
	subject           string
	idTokenClaims     map[string]interface{}
	accessTokenClaims map[string]interface{}
	accessAudience    string
	userInfo          map[string]interface{}
	tokenExpiry       time.Duration
	omitIDToken       bool
	disableEndSession bool

	// recorded by the authorize endpoint, consumed by the token endpoint
	lastNonce         string
	lastCodeChallenge string
}

// Start creates a disposable Provider which is stopped when the test ends.
func Start(t testing.TB) *Provider {
	t.Helper()
	require := require.New(t)

	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(err)

	p := &Provider{
		t:                 t,
		privKey:           privKey,
		keyID:             DefaultKeyID,
		clientID:          DefaultClientID,
		clientSecret:      DefaultClientSecret,
		expectedAuthCode:  DefaultAuthCode,
		subject:           DefaultSubject,
		idTokenClaims:     map[string]interface{}{},
		accessTokenClaims: map[string]interface{}{},
		userInfo:          map[string]interface{}{},
		tokenExpiry:       time.Hour,
	}

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err = pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running Provider.
func (p *Provider) Stop() {
	p.httpServer.Close()
}

// Addr is the issuer URL of the provider.
func (p *Provider) Addr() string { return p.httpServer.URL }

// CACert returns the PEM encoded CA certificate of the provider's TLS
// listener.
func (p *Provider) CACert() string { return p.caCert }

// HTTPClient returns a client which trusts the provider's certificate and
// does not follow redirects.
func (p *Provider) HTTPClient() *http.Client {
	c := p.httpServer.Client()
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return c
}

// JWKSURL is the location of the provider's JSON Web Key Set.
func (p *Provider) JWKSURL() string { return p.Addr() + "/.well-known/jwks.json" }

// PublicKey returns the key which verifies tokens minted by the provider.
func (p *Provider) PublicKey() *rsa.PublicKey { return &p.privKey.PublicKey }

// ClientCreds returns the client id and secret the token endpoint accepts.
func (p *Provider) ClientCreds() (string, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientID, p.clientSecret
}

// SetClientCreds sets the client credentials the token endpoint accepts.
func (p *Provider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode sets the code returned by the authorize endpoint and
// required by the token endpoint.
func (p *Provider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetSubject sets the "sub" of every minted token and userinfo reply.
func (p *Provider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subject = sub
}

// SetIDTokenClaims sets additional claims added to issued id_tokens.
func (p *Provider) SetIDTokenClaims(c map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idTokenClaims = c
}

// SetAccessTokenClaims sets additional claims added to issued access tokens.
func (p *Provider) SetAccessTokenClaims(c map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessTokenClaims = c
}

// SetAccessTokenAudience sets the "aud" of issued access tokens. When unset
// the client id is used.
func (p *Provider) SetAccessTokenAudience(aud string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessAudience = aud
}

// SetUserInfo sets the userinfo endpoint reply. The subject is always added.
func (p *Provider) SetUserInfo(info map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userInfo = info
}

// SetTokenExpiry sets the lifetime of issued tokens.
func (p *Provider) SetTokenExpiry(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenExpiry = d
}

// OmitIDTokens stops the token endpoint from returning id_tokens.
func (p *Provider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// DisableEndSession removes end_session_endpoint from discovery.
func (p *Provider) DisableEndSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableEndSession = true
}

// SignToken signs the claims as an RS256 JWT with the provider's key.
func (p *Provider) SignToken(claims interface{}) string {
	p.t.Helper()
	return SignToken(p.t, p.privKey, p.keyID, claims)
}

// AccessToken mints an access token for the provider's issuer and the given
// audience, merged with extra claims.
func (p *Provider) AccessToken(aud string, extra map[string]interface{}) string {
	p.t.Helper()
	p.mu.Lock()
	sub, exp := p.subject, p.tokenExpiry
	p.mu.Unlock()
	return p.SignToken(p.tokenClaims(sub, aud, exp, extra))
}

// SignToken signs claims as an RS256 JWT with the given key.
func SignToken(t testing.TB, key *rsa.PrivateKey, keyID string, claims interface{}) string {
	t.Helper()
	require := require.New(t)
	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: jose.JSONWebKey{Key: key, KeyID: keyID}},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(err)

	raw, err := jwt.Signed(sig).Claims(claims).Serialize()
	require.NoError(err)
	return raw
}

func (p *Provider) tokenClaims(sub, aud string, exp time.Duration, extra map[string]interface{}) map[string]interface{} {
	now := time.Now()
	c := map[string]interface{}{
		"iss": p.Addr(),
		"sub": sub,
		"aud": aud,
		"iat": now.Add(-5 * time.Second).Unix(),
		"nbf": now.Add(-5 * time.Second).Unix(),
		"exp": now.Add(exp).Unix(),
	}
	for k, v := range extra {
		c[k] = v
	}
	return c
}

func (p *Provider) writeJSON(w http.ResponseWriter, out interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	_ = enc.Encode(out)
}

func (p *Provider) writeTokenError(w http.ResponseWriter, status int, code, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": desc,
	})
}

// ServeHTTP implements the provider's http.Handler.
func (p *Provider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		reply := struct {
			Issuer                 string   `json:"issuer"`
			AuthEndpoint           string   `json:"authorization_endpoint"`
			TokenEndpoint          string   `json:"token_endpoint"`
			JWKSURI                string   `json:"jwks_uri"`
			UserinfoEndpoint       string   `json:"userinfo_endpoint"`
			EndSessionEndpoint     string   `json:"end_session_endpoint,omitempty"`
			ResponseTypes          []string `json:"response_types_supported"`
			SubjectTypes           []string `json:"subject_types_supported"`
			IDTokenSigningAlgs     []string `json:"id_token_signing_alg_values_supported"`
			CodeChallengeMethods   []string `json:"code_challenge_methods_supported"`
			TokenEndpointAuthMeths []string `json:"token_endpoint_auth_methods_supported"`
		}{
			Issuer:                 p.Addr(),
			AuthEndpoint:           p.Addr() + "/authorize",
			TokenEndpoint:          p.Addr() + "/oauth/token",
			JWKSURI:                p.JWKSURL(),
			UserinfoEndpoint:       p.Addr() + "/userinfo",
			EndSessionEndpoint:     p.Addr() + "/oidc/logout",
			ResponseTypes:          []string{"code"},
			SubjectTypes:           []string{"public"},
			IDTokenSigningAlgs:     []string{"RS256"},
			CodeChallengeMethods:   []string{"S256"},
			TokenEndpointAuthMeths: []string{"client_secret_basic", "client_secret_post"},
		}
		if p.disableEndSession {
			reply.EndSessionEndpoint = ""
		}
		p.writeJSON(w, &reply)

	case "/.well-known/jwks.json":
		p.writeJSON(w, &jose.JSONWebKeySet{
			Keys: []jose.JSONWebKey{
				{
					Key:       &p.privKey.PublicKey,
					KeyID:     p.keyID,
					Algorithm: string(jose.RS256),
					Use:       "sig",
				},
			},
		})

	case "/authorize":
		qv := req.URL.Query()
		redirectURI := qv.Get("redirect_uri")
		state := qv.Get("state")
		switch {
		case redirectURI == "" || state == "":
			w.WriteHeader(http.StatusBadRequest)
			return
		case qv.Get("client_id") != p.clientID:
			p.redirectAuthError(w, req, redirectURI, state, "unauthorized_client")
			return
		case qv.Get("response_type") != "code":
			p.redirectAuthError(w, req, redirectURI, state, "unsupported_response_type")
			return
		}
		p.lastNonce = qv.Get("nonce")
		p.lastCodeChallenge = qv.Get("code_challenge")

		u, err := url.Parse(redirectURI)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		rq := u.Query()
		rq.Set("code", p.expectedAuthCode)
		rq.Set("state", state)
		u.RawQuery = rq.Encode()
		http.Redirect(w, req, u.String(), http.StatusFound)

	case "/oauth/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := req.ParseForm(); err != nil {
			p.writeTokenError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		id, secret, ok := req.BasicAuth()
		if !ok {
			id, secret = req.PostFormValue("client_id"), req.PostFormValue("client_secret")
		} else {
			id, _ = url.QueryUnescape(id)
			secret, _ = url.QueryUnescape(secret)
		}
		switch {
		case req.PostFormValue("grant_type") != "authorization_code":
			p.writeTokenError(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
			return
		case id != p.clientID || secret != p.clientSecret:
			p.writeTokenError(w, http.StatusUnauthorized, "invalid_client", "bad client credentials")
			return
		case req.PostFormValue("code") != p.expectedAuthCode:
			p.writeTokenError(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
			return
		case p.lastCodeChallenge != "" && !pkceMatches(req.PostFormValue("code_verifier"), p.lastCodeChallenge):
			p.writeTokenError(w, http.StatusBadRequest, "invalid_grant", "code_verifier does not match")
			return
		}

		accessAud := p.accessAudience
		if accessAud == "" {
			accessAud = p.clientID
		}
		reply := struct {
			AccessToken  string `json:"access_token"`
			TokenType    string `json:"token_type"`
			ExpiresIn    int64  `json:"expires_in"`
			RefreshToken string `json:"refresh_token,omitempty"`
			IDToken      string `json:"id_token,omitempty"`
		}{
			AccessToken:  p.SignToken(p.tokenClaims(p.subject, accessAud, p.tokenExpiry, p.accessTokenClaims)),
			TokenType:    "Bearer",
			ExpiresIn:    int64(p.tokenExpiry / time.Second),
			RefreshToken: "test-refresh-token",
		}
		if !p.omitIDToken {
			idClaims := map[string]interface{}{"nonce": p.lastNonce}
			for k, v := range p.idTokenClaims {
				idClaims[k] = v
			}
			reply.IDToken = p.SignToken(p.tokenClaims(p.subject, p.clientID, p.tokenExpiry, idClaims))
		}
		p.writeJSON(w, &reply)

	case "/userinfo":
		if len(req.Header.Get("Authorization")) <= len("Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		reply := map[string]interface{}{"sub": p.subject}
		for k, v := range p.userInfo {
			reply[k] = v
		}
		p.writeJSON(w, reply)

	case "/oidc/logout":
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *Provider) redirectAuthError(w http.ResponseWriter, req *http.Request, redirectURI, state, code string) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	q := u.Query()
	q.Set("error", code)
	q.Set("state", state)
	u.RawQuery = q.Encode()
	http.Redirect(w, req, u.String(), http.StatusFound)
}

func pkceMatches(verifier, challenge string) bool {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:]) == challenge
}
