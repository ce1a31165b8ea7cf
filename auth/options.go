// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package auth

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// DefaultLoginTimeout is how long a login attempt may take before its
// callback is rejected.
const DefaultLoginTimeout = 2 * time.Minute

// DefaultScopes are requested when WithScopes is not used.
var DefaultScopes = []string{"openid", "profile", "email"}

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
	withAudience       string
	withScopes         []string
	withProviderCA     string
	withFetchUserInfo  bool
	withProviderLogout bool
	withLoginTimeout   time.Duration
	withSweepInterval  time.Duration
	withLogger         hclog.Logger
	withNow            func() time.Time
}

func defaults() options {
	return options{
		withScopes:         DefaultScopes,
		withProviderLogout: true,
		withLoginTimeout:   DefaultLoginTimeout,
		withSweepInterval:  time.Minute,
		withLogger:         hclog.NewNullLogger(),
		withNow:            time.Now,
	}
}

func getOpts(opt ...Option) options {
	opts := defaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithAudience asks the provider for an access token for the API audience.
// It is sent as the "audience" authorization parameter.
func WithAudience(aud string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withAudience = aud
		}
	}
}

// WithScopes overrides DefaultScopes.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && len(scopes) > 0 {
			o.withScopes = scopes
		}
	}
}

// WithProviderCA provides a PEM CA used for every request to the provider.
func WithProviderCA(pem string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withProviderCA = pem
		}
	}
}

// WithFetchUserInfo merges the provider's UserInfo claims into the session
// profile at login.
func WithFetchUserInfo(fetch bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withFetchUserInfo = fetch
		}
	}
}

// WithProviderLogout controls whether Logout also ends the provider's
// session. Defaults to true.
func WithProviderLogout(enabled bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withProviderLogout = enabled
		}
	}
}

// WithLoginTimeout overrides DefaultLoginTimeout.
func WithLoginTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && d > 0 {
			o.withLoginTimeout = d
		}
	}
}

// WithSweepInterval sets how often expired login attempts are dropped.
func WithSweepInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && d > 0 {
			o.withSweepInterval = d
		}
	}
}

// WithLogger provides a logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithNow provides a time source.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && now != nil {
			o.withNow = now
		}
	}
}
