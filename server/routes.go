// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package server

import (
	"embed"
	"encoding/json"
	"io/fs"
	"net/http"

	"github.com/hashicorp/cap-rbac/auth"
	"github.com/hashicorp/cap-rbac/authz"
	"github.com/hashicorp/cap-rbac/session"
)

//go:embed public
var public embed.FS

// ModeratorMessage is the message of a successful /moderator response.
const ModeratorMessage = "Moderator access approved"

// ProfileResponse is the body of /profile.
type ProfileResponse struct {
	UserDetails   map[string]interface{} `json:"userDetails"`
	Role          []string               `json:"role"`
	EmailVerified bool                   `json:"email_verified"`
}

// AccessTokenResponse is the access token as shown by /moderator.
type AccessTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ModeratorResponse is the body of /moderator.
type ModeratorResponse struct {
	Message     string              `json:"message"`
	IDToken     string              `json:"idToken"`
	AccessToken AccessTokenResponse `json:"accessToken"`
	Roles       []string            `json:"roles"`
	Permissions []string            `json:"permissions"`
}

func (s *Server) routes(gate func(http.Handler) http.Handler) http.Handler {
	assets, err := fs.Sub(public, "public")
	if err != nil {
		// the embedded tree always has the directory
		panic(err)
	}

	// protect guards routes that only need a session when AUTH_REQUIRED is set.
	protect := func(h http.Handler) http.Handler {
		if s.cfg.AuthRequired {
			return s.auth.RequiresAuth(h)
		}
		return h
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+auth.LoginPath, s.auth.Login)
	mux.HandleFunc("GET "+auth.CallbackPath, s.auth.Callback)
	mux.HandleFunc("POST "+auth.CallbackPath, s.auth.Callback)
	mux.HandleFunc("GET "+auth.LogoutPath, s.auth.Logout)
	mux.HandleFunc("GET /healthz", s.healthz)

	mux.Handle("GET /{$}", protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, assets, "index.html")
	})))
	mux.Handle("GET /static/", protect(http.StripPrefix("/static/", http.FileServerFS(assets))))

	mux.Handle("GET /profile", s.auth.RequiresAuth(http.HandlerFunc(s.profile)))
	mux.Handle("GET /moderator", s.auth.RequiresAuth(gate(http.HandlerFunc(s.moderator))))
	return mux
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	user := sess.UserClaims()
	writeJSON(w, http.StatusOK, ProfileResponse{
		UserDetails:   sess.User,
		Role:          user.Roles(s.cfg.RolesNamespace),
		EmailVerified: user.Bool("email_verified"),
	})
}

func (s *Server) moderator(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	d, ok := authz.FromContext(r.Context())
	if !ok {
		authz.WriteForbidden(w)
		return
	}
	writeJSON(w, http.StatusOK, ModeratorResponse{
		Message: ModeratorMessage,
		IDToken: sess.IDToken,
		AccessToken: AccessTokenResponse{
			AccessToken: sess.AccessToken.AccessToken,
			TokenType:   sess.AccessToken.TokenType,
			ExpiresIn:   sess.AccessToken.ExpiresIn,
		},
		Roles:       d.Roles,
		Permissions: d.Permissions,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
