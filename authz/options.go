// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package authz

import "github.com/hashicorp/go-hclog"

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(opts)
	}
}

type options struct {
	withNamespace  string
	withPermission string
	withLogger     hclog.Logger
}

func defaults() options {
	return options{
		withLogger: hclog.NewNullLogger(),
	}
}

func getOpts(opt ...Option) options {
	opts := defaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithNamespace sets the prefix of the roles claim, e.g.
// "https://example.com/" for the claim "https://example.com/roles".
func WithNamespace(ns string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withNamespace = ns
		}
	}
}

// WithPermission additionally requires the permission. An empty permission
// requires nothing.
func WithPermission(p string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withPermission = p
		}
	}
}

// WithLogger provides a logger for RequireRole.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}
