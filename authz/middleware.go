// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hashicorp/cap-rbac/claims"
)

// ForbiddenMessage is the message of every 403 response.
const ForbiddenMessage = "You do not have permission to access this service."

// MessageResponse is the JSON body of a 403 response.
type MessageResponse struct {
	Message string `json:"message"`
}

// WriteForbidden writes a 403 with a JSON ForbiddenMessage body.
func WriteForbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(MessageResponse{Message: ForbiddenMessage})
}

type decisionKey struct{}

// NewContext returns a copy of ctx carrying d.
func NewContext(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, decisionKey{}, d)
}

// FromContext returns the Decision stored by RequireRole.
func FromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(Decision)
	return d, ok
}

// RequireRole returns middleware which only lets requests through when the
// claims from src grant requiredRole (and the permission given with
// WithPermission). Denied requests get WriteForbidden. When src fails, for
// instance on a malformed token, the failure is logged and the request is
// evaluated against empty claims, which always denies. Allowed requests carry
// the Decision in their context, see FromContext.
//
// Supported options:
//   - WithNamespace
//   - WithPermission
//   - WithLogger
func RequireRole(src ClaimsSource, requiredRole string, opt ...Option) (func(http.Handler) http.Handler, error) {
	const op = "authz.RequireRole"
	switch {
	case src == nil:
		return nil, fmt.Errorf("%s: claims source is nil: %w", op, ErrNilParameter)
	case requiredRole == "":
		return nil, fmt.Errorf("%s: required role is empty: %w", op, ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	logger := opts.withLogger

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := src.RequestClaims(r)
			if err != nil {
				logger.Warn("unable to obtain claims, denying", "path", r.URL.Path, "error", err)
				c = claims.Claims{}
			}
			d := Evaluate(c, requiredRole, opt...)
			logger.Debug("authorization decision",
				"path", r.URL.Path,
				"required_role", requiredRole,
				"required_permission", opts.withPermission,
				"roles", d.Roles,
				"permissions", d.Permissions,
				"allowed", d.Allowed,
			)
			if !d.Allowed {
				WriteForbidden(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), d)))
		})
	}, nil
}
