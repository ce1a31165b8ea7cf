// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/cap-rbac/idptest"
	"github.com/hashicorp/cap-rbac/session"
	"github.com/hashicorp/cap/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "a-very-long-secret-that-is-at-least-32-chars"

type testApp struct {
	mw      *Middleware
	baseURL string
	client  *http.Client
	store   *session.CookieStore
}

// newTestApp serves the middleware routes plus a protected "/protected"
// route which echoes the session.
func newTestApp(t *testing.T, p *idptest.Provider, opt ...Option) *testApp {
	t.Helper()
	require := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := httptest.NewUnstartedServer(nil)
	baseURL := "http://" + srv.Listener.Addr().String()

	store, err := session.NewCookieStore(testSecret)
	require.NoError(err)

	clientID, clientSecret := p.ClientCreds()
	opt = append([]Option{WithProviderCA(p.CACert())}, opt...)
	mw, err := New(ctx, p.Addr(), clientID, oidc.ClientSecret(clientSecret), baseURL, store, opt...)
	require.NoError(err)
	t.Cleanup(mw.Done)

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+LoginPath, mw.Login)
	mux.HandleFunc("GET "+CallbackPath, mw.Callback)
	mux.HandleFunc("GET "+LogoutPath, mw.Logout)
	mux.Handle("GET /protected", mw.RequiresAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := session.FromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(s)
	})))
	srv.Config.Handler = mux
	srv.Start()
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(err)
	return &testApp{
		mw:      mw,
		baseURL: baseURL,
		store:   store,
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

// login runs the whole authorization code flow and returns the callback
// response.
func (a *testApp) login(t *testing.T, p *idptest.Provider, returnTo string) *http.Response {
	t.Helper()
	require := require.New(t)
	resp := a.get(t, LoginPath+"?returnTo="+url.QueryEscape(returnTo))
	require.Equal(http.StatusFound, resp.StatusCode)
	authURL := resp.Header.Get("Location")
	require.True(strings.HasPrefix(authURL, p.Addr()+"/authorize"), authURL)

	idpResp, err := p.HTTPClient().Get(authURL)
	require.NoError(err)
	defer idpResp.Body.Close()
	require.Equal(http.StatusFound, idpResp.StatusCode)
	cb := idpResp.Header.Get("Location")
	require.True(strings.HasPrefix(cb, a.baseURL+CallbackPath), cb)

	cbResp, err := a.client.Get(cb)
	require.NoError(err)
	t.Cleanup(func() { cbResp.Body.Close() })
	return cbResp
}

func TestNew(t *testing.T) {
	t.Parallel()
	p := idptest.Start(t)
	store, err := session.NewCookieStore(testSecret)
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name      string
		issuer    string
		clientID  string
		secret    oidc.ClientSecret
		baseURL   string
		store     SessionStore
		wantErrIs error
	}{
		{name: "empty-issuer", clientID: "c", secret: "s", baseURL: "http://localhost", store: store, wantErrIs: ErrInvalidParameter},
		{name: "empty-client-id", issuer: p.Addr(), secret: "s", baseURL: "http://localhost", store: store, wantErrIs: ErrInvalidParameter},
		{name: "empty-secret", issuer: p.Addr(), clientID: "c", baseURL: "http://localhost", store: store, wantErrIs: ErrInvalidParameter},
		{name: "empty-base-url", issuer: p.Addr(), clientID: "c", secret: "s", store: store, wantErrIs: ErrInvalidParameter},
		{name: "bad-base-url", issuer: p.Addr(), clientID: "c", secret: "s", baseURL: "not a url", store: store, wantErrIs: ErrInvalidParameter},
		{name: "nil-store", issuer: p.Addr(), clientID: "c", secret: "s", baseURL: "http://localhost", wantErrIs: ErrNilParameter},
		{name: "untrusted-provider", issuer: p.Addr(), clientID: "c", secret: "s", baseURL: "http://localhost", store: store},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			m, err := New(ctx, tt.issuer, tt.clientID, tt.secret, tt.baseURL, tt.store)
			require.Error(err)
			assert.Nil(m)
			if tt.wantErrIs != nil {
				assert.ErrorIs(err, tt.wantErrIs)
			}
		})
	}
}

func TestMiddleware_Login(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	p := idptest.Start(t)
	a := newTestApp(t, p, WithAudience("https://api.example.com"), WithScopes("openid", "profile", "email", "read:messages"))

	resp := a.get(t, LoginPath+"?returnTo=/protected")
	require.Equal(http.StatusFound, resp.StatusCode)
	u, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(err)
	q := u.Query()
	assert.Equal("https://api.example.com", q.Get("audience"))
	assert.Equal(a.baseURL+CallbackPath, q.Get("redirect_uri"))
	assert.Equal("code", q.Get("response_type"))
	assert.Equal("S256", q.Get("code_challenge_method"))
	assert.NotEmpty(q.Get("code_challenge"))
	assert.NotEmpty(q.Get("nonce"))
	assert.NotEmpty(q.Get("state"))
	for _, s := range []string{"openid", "profile", "email", "read:messages"} {
		assert.Contains(strings.Fields(q.Get("scope")), s)
	}
	assert.Equal(1, a.mw.requests.Len())
}

func TestMiddleware_Flow(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	p := idptest.Start(t)
	p.SetIDTokenClaims(map[string]interface{}{"email": "alice@example.com", "email_verified": true})
	p.SetAccessTokenClaims(map[string]interface{}{"permissions": []string{"access:all"}})
	a := newTestApp(t, p)

	// unauthenticated requests go to the login route
	resp := a.get(t, "/protected?x=1")
	require.Equal(http.StatusFound, resp.StatusCode)
	assert.Equal(LoginPath+"?returnTo="+url.QueryEscape("/protected?x=1"), resp.Header.Get("Location"))

	cb := a.login(t, p, "/protected")
	require.Equal(http.StatusFound, cb.StatusCode)
	assert.Equal("/protected", cb.Header.Get("Location"))
	assert.Equal(0, a.mw.requests.Len())

	resp = a.get(t, "/protected")
	require.Equal(http.StatusOK, resp.StatusCode)
	var s session.Session
	require.NoError(json.NewDecoder(resp.Body).Decode(&s))
	assert.True(strings.HasPrefix(s.ID, "sess_"))
	assert.Equal(idptest.DefaultSubject, s.User["sub"])
	assert.Equal("alice@example.com", s.User["email"])
	assert.NotEmpty(s.IDToken)
	assert.NotEmpty(s.AccessToken.AccessToken)
	assert.Equal("Bearer", s.AccessToken.TokenType)
	assert.Greater(s.AccessToken.ExpiresIn, int64(0))
	assert.Equal("test-refresh-token", s.RefreshToken)

	// logout clears the cookie and ends the provider session
	resp = a.get(t, LogoutPath)
	require.Equal(http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(err)
	assert.Equal(p.Addr()+"/oidc/logout", loc.Scheme+"://"+loc.Host+loc.Path)
	assert.Equal(a.baseURL, loc.Query().Get("post_logout_redirect_uri"))
	assert.Equal(s.IDToken, loc.Query().Get("id_token_hint"))

	resp = a.get(t, "/protected")
	assert.Equal(http.StatusFound, resp.StatusCode)
}

func TestMiddleware_FetchUserInfo(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	p := idptest.Start(t)
	p.SetUserInfo(map[string]interface{}{"nickname": "alice", "picture": "https://example.com/a.png"})
	a := newTestApp(t, p, WithFetchUserInfo(true))

	cb := a.login(t, p, "/")
	require.Equal(http.StatusFound, cb.StatusCode)
	assert.Equal("/", cb.Header.Get("Location"))

	resp := a.get(t, "/protected")
	require.Equal(http.StatusOK, resp.StatusCode)
	var s session.Session
	require.NoError(json.NewDecoder(resp.Body).Decode(&s))
	assert.Equal("alice", s.User["nickname"])
	assert.Equal(idptest.DefaultSubject, s.User["sub"])
}

func TestMiddleware_CallbackErrors(t *testing.T) {
	t.Parallel()
	p := idptest.Start(t)
	a := newTestApp(t, p)

	t.Run("unknown-state", func(t *testing.T) {
		resp := a.get(t, CallbackPath+"?code=test-auth-code&state=unknown")
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
	t.Run("provider-error", func(t *testing.T) {
		resp := a.get(t, LoginPath)
		require.Equal(t, http.StatusFound, resp.StatusCode)
		u, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(t, err)
		state := u.Query().Get("state")

		resp = a.get(t, CallbackPath+"?error=access_denied&state="+url.QueryEscape(state))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
	t.Run("bad-code", func(t *testing.T) {
		resp := a.get(t, LoginPath)
		require.Equal(t, http.StatusFound, resp.StatusCode)
		u, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(t, err)
		state := u.Query().Get("state")

		resp = a.get(t, CallbackPath+"?code=wrong&state="+url.QueryEscape(state))
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func TestMiddleware_RequiresAuth_BadCookie(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	p := idptest.Start(t)
	a := newTestApp(t, p)

	req, err := http.NewRequest(http.MethodGet, a.baseURL+"/protected", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: "garbage"})
	resp, err := a.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(http.StatusFound, resp.StatusCode)
	var cleared bool
	for _, c := range resp.Cookies() {
		if c.Name == session.DefaultCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(cleared)
}

func TestMiddleware_logoutURL(t *testing.T) {
	t.Parallel()
	s := &session.Session{IDToken: "id-token"}

	t.Run("auth0-fallback", func(t *testing.T) {
		assert := assert.New(t)
		p := idptest.Start(t)
		p.DisableEndSession()
		a := newTestApp(t, p)
		u, err := url.Parse(a.mw.logoutURL(s))
		require.NoError(t, err)
		assert.Equal(p.Addr()+auth0LogoutPath, u.Scheme+"://"+u.Host+u.Path)
		assert.Equal(idptest.DefaultClientID, u.Query().Get("client_id"))
		assert.Equal(a.baseURL, u.Query().Get("returnTo"))
	})
	t.Run("disabled", func(t *testing.T) {
		p := idptest.Start(t)
		a := newTestApp(t, p, WithProviderLogout(false))
		assert.Equal(t, a.baseURL, a.mw.logoutURL(s))
	})
	t.Run("no-session", func(t *testing.T) {
		p := idptest.Start(t)
		a := newTestApp(t, p)
		u, err := url.Parse(a.mw.logoutURL(nil))
		require.NoError(t, err)
		assert.Empty(t, u.Query().Get("id_token_hint"))
		assert.Equal(t, idptest.DefaultClientID, u.Query().Get("client_id"))
	})
}

func Test_safeReturnTo(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"":                     "/",
		"/":                    "/",
		"/moderator":           "/moderator",
		"/profile?x=1":         "/profile?x=1",
		"//evil.example.com":   "/",
		"/\\evil.example.com":  "/",
		"https://evil.example": "/",
		"moderator":            "/",
	}
	for in, want := range tests {
		assert.Equal(t, want, safeReturnTo(in), in)
	}
}

func Test_withQuery(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	got, err := withQuery("https://example.com/authorize?state=1", url.Values{"audience": {"api"}})
	require.NoError(err)
	u, err := url.Parse(got)
	require.NoError(err)
	assert.Equal("1", u.Query().Get("state"))
	assert.Equal("api", u.Query().Get("audience"))

	_, err = withQuery("://bad", nil)
	assert.Error(err)
}

func TestRequestCache(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	rc := newRequestCache()

	live, err := oidc.NewRequest(time.Minute, "http://localhost/callback")
	require.NoError(err)
	rc.Add(live, "/moderator")

	got, err := rc.Read(ctx, live.State())
	require.NoError(err)
	assert.Equal(live.State(), got.State())
	extended, ok := got.(extendedRequest)
	require.True(ok)
	assert.Equal("/moderator", extended.returnTo)

	_, err = rc.Read(ctx, "missing")
	assert.ErrorIs(err, ErrNotFound)

	stale, err := oidc.NewRequest(time.Nanosecond, "http://localhost/callback")
	require.NoError(err)
	rc.Add(stale, "/")
	time.Sleep(5 * time.Millisecond)
	_, err = rc.Read(ctx, stale.State())
	assert.ErrorIs(err, ErrExpired)
	assert.Equal(1, rc.Len())

	stale2, err := oidc.NewRequest(time.Nanosecond, "http://localhost/callback")
	require.NoError(err)
	rc.Add(stale2, "/")
	time.Sleep(5 * time.Millisecond)
	assert.Equal(1, rc.sweep())
	assert.Equal(1, rc.Len())

	rc.Delete(live.State())
	assert.Equal(0, rc.Len())
}

func TestMiddleware_Done_StopsSweeper(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	p := idptest.Start(t)
	store, err := session.NewCookieStore(testSecret)
	require.NoError(err)

	clientID, clientSecret := p.ClientCreds()
	// the parent ctx outlives the middleware
	m, err := New(context.Background(), p.Addr(), clientID, oidc.ClientSecret(clientSecret), "http://localhost", store,
		WithProviderCA(p.CACert()), WithSweepInterval(time.Millisecond))
	require.NoError(err)

	m.Done()
	select {
	case <-m.sweepDone:
	default:
		assert.Fail("sweeper still running after Done")
	}
}
