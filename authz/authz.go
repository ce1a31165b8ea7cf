// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package authz decides whether a set of claims grants a required role and,
// optionally, a required permission.
package authz

import (
	"github.com/hashicorp/cap-rbac/claims"
	"github.com/hashicorp/cap-rbac/internal/strutils"
)

// Decision is the outcome of evaluating claims against a requirement.
type Decision struct {
	Allowed     bool     `json:"allowed"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// Evaluate extracts the roles (namespace + "roles") and permissions from c
// and decides whether requiredRole, and the permission given with
// WithPermission, are both present. Membership is exact: no partial matches,
// case folding or wildcards. An empty requiredRole is never granted.
//
// Supported options:
//   - WithNamespace
//   - WithPermission
func Evaluate(c claims.Claims, requiredRole string, opt ...Option) Decision {
	opts := getOpts(opt...)
	d := Decision{
		Roles:       c.Roles(opts.withNamespace),
		Permissions: c.Permissions(),
	}
	if requiredRole == "" || !strutils.StrListContains(d.Roles, requiredRole) {
		return d
	}
	if opts.withPermission != "" && !strutils.StrListContains(d.Permissions, opts.withPermission) {
		return d
	}
	d.Allowed = true
	return d
}

// IsAuthorized reports whether c grants requiredRole (and the permission
// given with WithPermission). See Evaluate.
func IsAuthorized(c claims.Claims, requiredRole string, opt ...Option) bool {
	return Evaluate(c, requiredRole, opt...).Allowed
}
