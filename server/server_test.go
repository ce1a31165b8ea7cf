// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/cap-rbac/authz"
	"github.com/hashicorp/cap-rbac/config"
	"github.com/hashicorp/cap-rbac/idptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yhat/scrape"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	testNamespace = "https://example.com/"
	testAudience  = "https://api.example.com"
)

func testConfig(p *idptest.Provider, baseURL string) *config.Config {
	clientID, clientSecret := p.ClientCreds()
	return &config.Config{
		Issuer:                  p.Addr(),
		ClientID:                clientID,
		ClientSecret:            config.Secret(clientSecret),
		Secret:                  "0123456789abcdef0123456789abcdef",
		BaseURL:                 baseURL,
		Audience:                testAudience,
		RolesNamespace:          testNamespace,
		Scopes:                  []string{"openid", "profile", "email", "read:messages"},
		Port:                    3000,
		AuthRequired:            true,
		ProviderLogout:          true,
		RequiredRole:            "moderator",
		RolesSource:             string(authz.SourceAccessToken),
		VerifyAccessToken:       true,
		SessionName:             "appSession",
		SessionRollingDuration:  24 * time.Hour,
		SessionAbsoluteDuration: 7 * 24 * time.Hour,
		LoginAttemptTimeout:     2 * time.Minute,
		LogLevel:                "info",
	}
}

type testApp struct {
	baseURL string
	client  *http.Client
}

func newTestApp(t *testing.T, p *idptest.Provider, mutate func(*config.Config)) *testApp {
	t.Helper()
	require := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := httptest.NewUnstartedServer(nil)
	baseURL := "http://" + srv.Listener.Addr().String()
	cfg := testConfig(p, baseURL)
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(cfg.Validate())

	s, err := New(ctx, cfg, WithProviderCA(p.CACert()))
	require.NoError(err)
	t.Cleanup(s.Done)
	srv.Config.Handler = s.Handler()
	srv.Start()
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(err)
	return &testApp{
		baseURL: baseURL,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (a *testApp) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := a.client.Get(a.baseURL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (a *testApp) login(t *testing.T, p *idptest.Provider) {
	t.Helper()
	require := require.New(t)
	resp := a.get(t, "/login")
	require.Equal(http.StatusFound, resp.StatusCode)
	idpResp, err := p.HTTPClient().Get(resp.Header.Get("Location"))
	require.NoError(err)
	defer idpResp.Body.Close()
	require.Equal(http.StatusFound, idpResp.StatusCode)
	cb, err := a.client.Get(idpResp.Header.Get("Location"))
	require.NoError(err)
	defer cb.Body.Close()
	require.Equal(http.StatusFound, cb.StatusCode)
}

func TestNew_NilConfig(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilParameter)
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	p := idptest.Start(t)
	a := newTestApp(t, p, nil)

	resp := a.get(t, "/healthz")
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.NotEmpty(resp.Header.Get(RequestIDHeader))
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal("ok", body["status"])
}

func TestServer_AuthRequired(t *testing.T) {
	t.Parallel()
	p := idptest.Start(t)

	t.Run("enabled", func(t *testing.T) {
		a := newTestApp(t, p, nil)
		for _, path := range []string{"/", "/static/script.js", "/profile", "/moderator"} {
			resp := a.get(t, path)
			assert.Equal(t, http.StatusFound, resp.StatusCode, path)
			assert.Equal(t, "/login?returnTo="+url.QueryEscape(path), resp.Header.Get("Location"), path)
		}
	})
	t.Run("disabled", func(t *testing.T) {
		a := newTestApp(t, p, func(c *config.Config) { c.AuthRequired = false })
		for _, path := range []string{"/", "/static/script.js", "/static/style.css"} {
			resp := a.get(t, path)
			assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		}
		for _, path := range []string{"/profile", "/moderator"} {
			resp := a.get(t, path)
			assert.Equal(t, http.StatusFound, resp.StatusCode, path)
		}
	})
}

func TestServer_Moderator(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name            string
		accessClaims    map[string]interface{}
		mutate          func(*config.Config)
		wantStatus      int
		wantRoles       []string
		wantPermissions []string
	}{
		{
			name: "role-and-permission",
			accessClaims: map[string]interface{}{
				"permissions":             []string{"access:all"},
				testNamespace + "roles": []string{"moderator"},
			},
			mutate:          func(c *config.Config) { c.RequiredPermission = "access:all" },
			wantStatus:      http.StatusOK,
			wantRoles:       []string{"moderator"},
			wantPermissions: []string{"access:all"},
		},
		{
			name: "wrong-role",
			accessClaims: map[string]interface{}{
				"permissions":             []string{},
				testNamespace + "roles": []string{"user"},
			},
			wantStatus: http.StatusForbidden,
		},
		{
			name: "missing-permission",
			accessClaims: map[string]interface{}{
				testNamespace + "roles": []string{"moderator"},
			},
			mutate:     func(c *config.Config) { c.RequiredPermission = "access:all" },
			wantStatus: http.StatusForbidden,
		},
		{
			name: "unverified-decode",
			accessClaims: map[string]interface{}{
				testNamespace + "roles": []string{"moderator"},
			},
			mutate:          func(c *config.Config) { c.VerifyAccessToken = false },
			wantStatus:      http.StatusOK,
			wantRoles:       []string{"moderator"},
			wantPermissions: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			p := idptest.Start(t)
			p.SetAccessTokenAudience(testAudience)
			p.SetAccessTokenClaims(tt.accessClaims)
			a := newTestApp(t, p, tt.mutate)
			a.login(t, p)

			resp := a.get(t, "/moderator")
			require.Equal(tt.wantStatus, resp.StatusCode)
			if tt.wantStatus == http.StatusForbidden {
				var body authz.MessageResponse
				require.NoError(json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(authz.ForbiddenMessage, body.Message)
				return
			}
			var body ModeratorResponse
			require.NoError(json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(ModeratorMessage, body.Message)
			assert.NotEmpty(body.IDToken)
			assert.NotEmpty(body.AccessToken.AccessToken)
			assert.Equal("Bearer", body.AccessToken.TokenType)
			assert.Greater(body.AccessToken.ExpiresIn, int64(0))
			assert.Equal(tt.wantRoles, body.Roles)
			assert.Equal(tt.wantPermissions, body.Permissions)
		})
	}
}

func TestServer_Moderator_WrongAudienceForbidden(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	p := idptest.Start(t)
	p.SetAccessTokenAudience("https://other.example.com")
	p.SetAccessTokenClaims(map[string]interface{}{testNamespace + "roles": []string{"moderator"}})
	a := newTestApp(t, p, nil)
	a.login(t, p)

	resp := a.get(t, "/moderator")
	require.Equal(http.StatusForbidden, resp.StatusCode)
	var body authz.MessageResponse
	require.NoError(json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(authz.ForbiddenMessage, body.Message)
}

func TestServer_UserRolesSource(t *testing.T) {
	t.Parallel()
	p := idptest.Start(t)
	p.SetIDTokenClaims(map[string]interface{}{testNamespace + "roles": []string{"moderator"}})
	a := newTestApp(t, p, func(c *config.Config) { c.RolesSource = string(authz.SourceUser) })
	a.login(t, p)

	resp := a.get(t, "/moderator")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Profile(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	p := idptest.Start(t)
	p.SetIDTokenClaims(map[string]interface{}{
		"name":                  "Alice",
		"email":                 "alice@example.com",
		"email_verified":        true,
		testNamespace + "roles": []string{"moderator", "user"},
	})
	a := newTestApp(t, p, nil)
	a.login(t, p)

	resp := a.get(t, "/profile")
	require.Equal(http.StatusOK, resp.StatusCode)
	var body ProfileResponse
	require.NoError(json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal("Alice", body.UserDetails["name"])
	assert.Equal(idptest.DefaultSubject, body.UserDetails["sub"])
	assert.Equal([]string{"moderator", "user"}, body.Role)
	assert.True(body.EmailVerified)
}

func TestServer_Logout(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	p := idptest.Start(t)
	a := newTestApp(t, p, nil)
	a.login(t, p)
	require.Equal(http.StatusOK, a.get(t, "/profile").StatusCode)

	resp := a.get(t, "/logout")
	require.Equal(http.StatusFound, resp.StatusCode)
	assert.True(strings.HasPrefix(resp.Header.Get("Location"), p.Addr()+"/oidc/logout"))
	assert.Equal(http.StatusFound, a.get(t, "/profile").StatusCode)
}

func TestServer_Index(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	p := idptest.Start(t)
	a := newTestApp(t, p, nil)
	a.login(t, p)

	resp := a.get(t, "/")
	require.Equal(http.StatusOK, resp.StatusCode)
	root, err := html.Parse(resp.Body)
	require.NoError(err)

	for _, id := range []string{"logout", "call-api"} {
		n, ok := scrape.Find(root, scrape.ById(id))
		require.True(ok, id)
		assert.Equal(atom.Button, n.DataAtom, id)
	}
	_, ok := scrape.Find(root, scrape.ById("result"))
	assert.True(ok)
	script, ok := scrape.Find(root, scrape.ByTag(atom.Script))
	require.True(ok)
	src := scrape.Attr(script, "src")
	assert.Equal("/static/script.js", src)

	js := a.get(t, src)
	assert.Equal(http.StatusOK, js.StatusCode)
	assert.Equal(http.StatusNotFound, a.get(t, "/static/missing.js").StatusCode)
}

func TestServer_Serve(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	p := idptest.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	baseURL := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err := New(ctx, testConfig(p, baseURL), WithProviderCA(p.CACert()), WithShutdownTimeout(time.Second))
	require.NoError(err)
	defer s.Done()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, ln) }()

	require.Eventually(func() bool {
		resp, err := http.Get(baseURL + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	assert.ErrorIs(s.Serve(context.Background(), nil), ErrNilParameter)
}
