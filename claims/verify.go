// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package claims

import (
	"context"
	"fmt"

	"github.com/hashicorp/cap/jwt"
)

// Verifier is a Decoder which only returns the claims of tokens whose
// signature, issuer and audience check out.
type Verifier struct {
	validator *jwt.Validator
	expected  jwt.Expected
}

// NewVerifier creates a Verifier for tokens issued by issuer. Keys are found
// through the issuer's OIDC discovery document unless WithJWKSURL or
// WithKeySet is used.
//
// Supported options:
//   - WithAudiences
//   - WithKeySet
//   - WithJWKSURL
//   - WithProviderCA
//   - WithSigningAlgorithms
//   - WithClockSkewLeeway
//   - WithNow
func NewVerifier(ctx context.Context, issuer string, opt ...Option) (*Verifier, error) {
	const op = "claims.NewVerifier"
	if issuer == "" {
		return nil, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	opts := getVerifierOpts(opt...)
	if len(opts.withSigningAlgorithms) == 0 {
		return nil, fmt.Errorf("%s: no signing algorithms: %w", op, ErrInvalidParameter)
	}
	for _, a := range opts.withSigningAlgorithms {
		if err := jwt.SupportedSigningAlgorithm(a); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", op, a, ErrUnsupportedSigningAlgName)
		}
	}

	ks := opts.withKeySet
	if ks == nil {
		var err error
		switch {
		case opts.withJWKSURL != "":
			ks, err = jwt.NewJSONWebKeySet(ctx, opts.withJWKSURL, opts.withProviderCA)
		default:
			ks, err = jwt.NewOIDCDiscoveryKeySet(ctx, issuer, opts.withProviderCA)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: unable to create key set: %w", op, err)
		}
	}

	v, err := jwt.NewValidator(ks)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Verifier{
		validator: v,
		expected: jwt.Expected{
			Issuer:            issuer,
			Audiences:         opts.withAudiences,
			SigningAlgorithms: opts.withSigningAlgorithms,
			ClockSkewLeeway:   opts.withClockSkewLeeway,
			Now:               opts.withNow,
		},
	}, nil
}

// Verify checks the token and returns its claims.
func (v *Verifier) Verify(ctx context.Context, token string) (Claims, error) {
	const op = "claims.(Verifier).Verify"
	if v == nil || v.validator == nil {
		return nil, fmt.Errorf("%s: verifier is not initialized: %w", op, ErrNilParameter)
	}
	if token == "" {
		return nil, fmt.Errorf("%s: token is empty: %w", op, ErrInvalidParameter)
	}
	c, err := v.validator.Validate(ctx, token, v.expected)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrTokenVerificationFailed, err)
	}
	return Claims(c), nil
}

// Decode implements Decoder using Verify.
func (v *Verifier) Decode(ctx context.Context, token string) (Claims, error) {
	return v.Verify(ctx, token)
}
