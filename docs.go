// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// cap-rbac is a small web application which logs users in with an OpenID
// Connect provider and gates an API behind a role, and optionally a
// permission, carried in the user's access token.
//
// The packages are layered, leaves first: claims decodes and verifies
// tokens, authz decides, session keeps the encrypted cookie session, auth
// runs the login, callback and logout flows, config loads the environment
// and server wires everything into routes. cmd/cap-rbac is the command line.
package caprbac
