// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package claims

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Decoder turns a raw token into Claims.
type Decoder interface {
	Decode(ctx context.Context, token string) (Claims, error)
}

// Decode parses the payload of a compact JWT (header.payload.signature) and
// returns its claims. The signature is not verified. Errors wrap
// ErrMalformedToken when the token has the wrong number of segments, is not
// valid base64url, or its header or payload is not a JSON object. The
// header's "alg" is not consulted.
func Decode(token string) (Claims, error) {
	const op = "claims.Decode"
	if token == "" {
		return nil, fmt.Errorf("%s: token is empty: %w", op, ErrInvalidParameter)
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	// claims are filled in before the signing method lookup fails
	if err != nil && (parsed == nil || !errors.Is(err, jwt.ErrTokenUnverifiable)) {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrMalformedToken, err)
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected claims type %T: %w", op, parsed.Claims, ErrMalformedToken)
	}
	return Claims(mc), nil
}

// UnverifiedDecoder is a Decoder which only decodes. It must not be used for
// authorization outside of demonstrations and tests.
type UnverifiedDecoder struct{}

// Decode implements Decoder using Decode.
func (UnverifiedDecoder) Decode(_ context.Context, token string) (Claims, error) {
	return Decode(token)
}
