// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package claims

import (
	"time"

	"github.com/hashicorp/cap/jwt"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

type verifierOptions struct {
	withAudiences         []string
	withKeySet            jwt.KeySet
	withJWKSURL           string
	withProviderCA        string
	withSigningAlgorithms []jwt.Alg
	withClockSkewLeeway   time.Duration
	withNow               func() time.Time
}

func verifierDefaults() verifierOptions {
	return verifierOptions{
		withSigningAlgorithms: []jwt.Alg{jwt.RS256},
	}
}

func getVerifierOpts(opt ...Option) verifierOptions {
	opts := verifierDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithAudiences provides the audiences at least one of which must appear in a
// verified token's "aud" claim.
func WithAudiences(auds ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*verifierOptions); ok {
			o.withAudiences = auds
		}
	}
}

// WithKeySet provides the key set used to verify signatures, bypassing OIDC
// discovery and WithJWKSURL.
func WithKeySet(ks jwt.KeySet) Option {
	return func(o interface{}) {
		if o, ok := o.(*verifierOptions); ok {
			o.withKeySet = ks
		}
	}
}

// WithJWKSURL verifies signatures with the keys published at the URL instead
// of the keys found through OIDC discovery.
func WithJWKSURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*verifierOptions); ok {
			o.withJWKSURL = u
		}
	}
}

// WithProviderCA provides an optional PEM CA used when fetching keys.
func WithProviderCA(pem string) Option {
	return func(o interface{}) {
		if o, ok := o.(*verifierOptions); ok {
			o.withProviderCA = pem
		}
	}
}

// WithSigningAlgorithms overrides the accepted signing algorithms, RS256 by
// default.
func WithSigningAlgorithms(algs ...jwt.Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*verifierOptions); ok {
			o.withSigningAlgorithms = algs
		}
	}
}

// WithClockSkewLeeway sets the leeway applied to time based claims.
func WithClockSkewLeeway(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*verifierOptions); ok {
			o.withClockSkewLeeway = d
		}
	}
}

// WithNow provides a time source for time based claim checks.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*verifierOptions); ok {
			o.withNow = now
		}
	}
}
