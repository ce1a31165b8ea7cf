// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"net/http"
	"time"
)

// Defaults for a CookieStore.
const (
	DefaultCookieName       = "appSession"
	DefaultRollingDuration  = 24 * time.Hour
	DefaultAbsoluteDuration = 7 * 24 * time.Hour
)

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

type storeOptions struct {
	withCookieName       string
	withRollingDuration  time.Duration
	withAbsoluteDuration time.Duration
	withSecure           bool
	withSameSite         http.SameSite
	withNow              func() time.Time
}

func storeDefaults() storeOptions {
	return storeOptions{
		withCookieName:       DefaultCookieName,
		withRollingDuration:  DefaultRollingDuration,
		withAbsoluteDuration: DefaultAbsoluteDuration,
		withSameSite:         http.SameSiteLaxMode,
		withNow:              time.Now,
	}
}

func getStoreOpts(opt ...Option) storeOptions {
	opts := storeDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithCookieName overrides the session cookie name.
func WithCookieName(name string) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok {
			o.withCookieName = name
		}
	}
}

// WithRollingDuration sets how long a session stays valid after it was last
// used. Zero disables the rolling expiry.
func WithRollingDuration(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok {
			o.withRollingDuration = d
		}
	}
}

// WithAbsoluteDuration sets how long a session stays valid after it was
// created, regardless of use. Zero disables the absolute expiry.
func WithAbsoluteDuration(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok {
			o.withAbsoluteDuration = d
		}
	}
}

// WithSecure marks session cookies Secure.
func WithSecure(secure bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok {
			o.withSecure = secure
		}
	}
}

// WithSameSite sets the SameSite attribute of session cookies.
func WithSameSite(s http.SameSite) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok {
			o.withSameSite = s
		}
	}
}

// WithNow provides a time source.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok && now != nil {
			o.withNow = now
		}
	}
}
