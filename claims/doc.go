// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package claims decodes the claims carried by compact JWTs and provides typed
accessors for the role and permission claims used for authorization.

Decode only parses the payload; it performs no signature check and its result
must not be trusted for access decisions on its own. A Verifier checks the
token's signature, issuer and audience using a key set from the
github.com/hashicorp/cap/jwt package before returning the same Claims.

Both implement Decoder, so callers choose at startup whether access decisions
rest on verified or merely decoded tokens.
*/
package claims
