// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package server

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// DefaultShutdownTimeout bounds graceful shutdown.
const DefaultShutdownTimeout = 10 * time.Second

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
	withLogger          hclog.Logger
	withProviderCA      string
	withShutdownTimeout time.Duration
}

func defaults() options {
	return options{
		withLogger:          hclog.NewNullLogger(),
		withShutdownTimeout: DefaultShutdownTimeout,
	}
}

func getOpts(opt ...Option) options {
	opts := defaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides the root logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithProviderCA provides the provider's CA PEM, taking precedence over the
// configured PROVIDER_CA_FILE.
func WithProviderCA(pem string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withProviderCA = pem
		}
	}
}

// WithShutdownTimeout overrides DefaultShutdownTimeout.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && d > 0 {
			o.withShutdownTimeout = d
		}
	}
}
