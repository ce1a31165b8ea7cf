// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

// DefaultEnvFiles are loaded by Load, most specific first. Missing files are
// ignored.
var DefaultEnvFiles = []string{".env.local", ".env"}

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

type loadOptions struct {
	withEnvFiles    []string
	withEnvironment map[string]string
}

func loadDefaults() loadOptions {
	return loadOptions{
		withEnvFiles: DefaultEnvFiles,
	}
}

func getLoadOpts(opt ...Option) loadOptions {
	opts := loadDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithEnvFiles overrides DefaultEnvFiles. Variables already set are never
// overwritten, so earlier files take precedence over later ones.
func WithEnvFiles(files ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*loadOptions); ok {
			o.withEnvFiles = files
		}
	}
}

// WithEnvironment parses the given variables instead of the process
// environment. No env files are read.
func WithEnvironment(env map[string]string) Option {
	return func(o interface{}) {
		if o, ok := o.(*loadOptions); ok {
			o.withEnvironment = env
			o.withEnvFiles = nil
		}
	}
}
