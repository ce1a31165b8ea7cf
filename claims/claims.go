// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package claims

// PermissionsClaim is the claim holding the permissions granted to an access
// token.
const PermissionsClaim = "permissions"

// RolesClaimSuffix is appended to a namespace prefix to form the roles claim
// name, e.g. "https://example.com/" + "roles".
const RolesClaimSuffix = "roles"

// Claims is a mapping of claim names to claim values.
type Claims map[string]interface{}

// RolesClaim returns the name of the roles claim for the namespace prefix.
func RolesClaim(namespace string) string {
	return namespace + RolesClaimSuffix
}

// Strings returns the named claim as a list of strings. A missing claim or a
// claim of another type yields an empty, non-nil list. A single string claim
// yields a one element list, and non-string list elements are skipped.
func (c Claims) Strings(name string) []string {
	switch v := c[name].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	default:
		return []string{}
	}
}

// String returns the named claim if it is a string.
func (c Claims) String(name string) string {
	s, _ := c[name].(string)
	return s
}

// Bool returns the named claim if it is a bool.
func (c Claims) Bool(name string) bool {
	b, _ := c[name].(bool)
	return b
}

// Subject returns the "sub" claim.
func (c Claims) Subject() string {
	return c.String("sub")
}

// Roles returns the roles claim under the namespace prefix.
func (c Claims) Roles(namespace string) []string {
	return c.Strings(RolesClaim(namespace))
}

// Permissions returns the permissions claim.
func (c Claims) Permissions() []string {
	return c.Strings(PermissionsClaim)
}
