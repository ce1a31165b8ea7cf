// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package config loads the application configuration once at startup from
// the environment and optional .env files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/cap-rbac/authz"
	"github.com/hashicorp/cap-rbac/internal/strutils"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

// MinSecretLength is the shortest accepted cookie secret.
const MinSecretLength = 32

const redacted = "[REDACTED]"

// Secret is a string which is never printed or marshaled.
type Secret string

// String redacts the secret.
func (s Secret) String() string { return redacted }

// MarshalJSON redacts the secret.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(redacted)
}

// Config is the complete application configuration.
type Config struct {
	Issuer         string `env:"ISSUER" json:"issuer"`
	ClientID       string `env:"CLIENTID" json:"client_id"`
	ClientSecret   Secret `env:"CLIENTSECRET" json:"client_secret"`
	Secret         Secret `env:"SECRET" json:"secret"`
	BaseURL        string `env:"BASEURL" json:"base_url"`
	Audience       string `env:"AUDIENCE" json:"audience,omitempty"`
	RolesNamespace string `env:"AUTH0_ROLES_NAMESPACE" json:"roles_namespace,omitempty"`

	Scopes []string `env:"SCOPES" envSeparator:" " envDefault:"openid profile email read:messages" json:"scopes"`

	Port           int    `env:"PORT" envDefault:"3000" json:"port"`
	TLSCertFile    string `env:"TLS_CERT_FILE" json:"tls_cert_file,omitempty"`
	TLSKeyFile     string `env:"TLS_KEY_FILE" json:"tls_key_file,omitempty"`
	ProviderCAFile string `env:"PROVIDER_CA_FILE" json:"provider_ca_file,omitempty"`

	AuthRequired   bool `env:"AUTH_REQUIRED" envDefault:"true" json:"auth_required"`
	ProviderLogout bool `env:"AUTH0_LOGOUT" envDefault:"true" json:"provider_logout"`
	FetchUserInfo  bool `env:"FETCH_USER_INFO" envDefault:"false" json:"fetch_user_info"`

	RequiredRole       string `env:"REQUIRED_ROLE" envDefault:"moderator" json:"required_role"`
	RequiredPermission string `env:"REQUIRED_PERMISSION" json:"required_permission,omitempty"`
	RolesSource        string `env:"ROLES_SOURCE" envDefault:"access_token" json:"roles_source"`
	VerifyAccessToken  bool   `env:"VERIFY_ACCESS_TOKEN" envDefault:"true" json:"verify_access_token"`
	JWKSURL            string `env:"JWKS_URL" json:"jwks_url,omitempty"`

	SessionName             string        `env:"SESSION_NAME" envDefault:"appSession" json:"session_name"`
	SessionRollingDuration  time.Duration `env:"SESSION_ROLLING_DURATION" envDefault:"24h" json:"session_rolling_duration"`
	SessionAbsoluteDuration time.Duration `env:"SESSION_ABSOLUTE_DURATION" envDefault:"168h" json:"session_absolute_duration"`
	LoginAttemptTimeout     time.Duration `env:"LOGIN_ATTEMPT_TIMEOUT" envDefault:"2m" json:"login_attempt_timeout"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info" json:"log_level"`
	LogJSON  bool   `env:"LOG_JSON" envDefault:"false" json:"log_json"`
}

// Load reads the env files, parses the environment and validates the result.
//
// Supported options:
//   - WithEnvFiles
//   - WithEnvironment
func Load(opt ...Option) (*Config, error) {
	const op = "config.Load"
	opts := getLoadOpts(opt...)
	for _, f := range opts.withEnvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: unable to load %s: %w", op, f, err)
		}
	}
	var c Config
	envOpts := env.Options{}
	if opts.withEnvironment != nil {
		envOpts.Environment = opts.withEnvironment
	}
	if err := env.ParseWithOptions(&c, envOpts); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidParameter, err)
	}
	c.Scopes = strutils.RemoveDuplicatesStable(c.Scopes)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &c, nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	required := map[string]string{
		"ISSUER":       c.Issuer,
		"CLIENTID":     c.ClientID,
		"CLIENTSECRET": string(c.ClientSecret),
		"SECRET":       string(c.Secret),
		"BASEURL":      c.BaseURL,
	}
	for _, name := range []string{"ISSUER", "CLIENTID", "CLIENTSECRET", "SECRET", "BASEURL"} {
		if required[name] == "" {
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, ErrMissingParameter))
		}
	}
	if c.Secret != "" && len(c.Secret) < MinSecretLength {
		result = multierror.Append(result, fmt.Errorf("SECRET must be at least %d characters: %w", MinSecretLength, ErrInvalidParameter))
	}
	if c.Issuer != "" && !isHTTPURL(c.Issuer) {
		result = multierror.Append(result, fmt.Errorf("ISSUER %q is not an http(s) url: %w", c.Issuer, ErrInvalidParameter))
	}
	if c.BaseURL != "" && !isHTTPURL(c.BaseURL) {
		result = multierror.Append(result, fmt.Errorf("BASEURL %q is not an http(s) url: %w", c.BaseURL, ErrInvalidParameter))
	}
	if c.JWKSURL != "" && !isHTTPURL(c.JWKSURL) {
		result = multierror.Append(result, fmt.Errorf("JWKS_URL %q is not an http(s) url: %w", c.JWKSURL, ErrInvalidParameter))
	}
	if c.Port < 1 || c.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("PORT %d is out of range: %w", c.Port, ErrInvalidParameter))
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		result = multierror.Append(result, fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together: %w", ErrInvalidParameter))
	}
	if len(c.Scopes) == 0 {
		result = multierror.Append(result, fmt.Errorf("SCOPES: %w", ErrMissingParameter))
	}
	if c.RequiredRole == "" {
		result = multierror.Append(result, fmt.Errorf("REQUIRED_ROLE: %w", ErrMissingParameter))
	}
	if _, err := authz.ParseSource(c.RolesSource); err != nil {
		result = multierror.Append(result, fmt.Errorf("ROLES_SOURCE: %w: %w", ErrInvalidParameter, err))
	}
	if c.SessionName == "" {
		result = multierror.Append(result, fmt.Errorf("SESSION_NAME: %w", ErrMissingParameter))
	}
	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"SESSION_ROLLING_DURATION", c.SessionRollingDuration},
		{"SESSION_ABSOLUTE_DURATION", c.SessionAbsoluteDuration},
		{"LOGIN_ATTEMPT_TIMEOUT", c.LoginAttemptTimeout},
	} {
		if d.val <= 0 {
			result = multierror.Append(result, fmt.Errorf("%s must be positive: %w", d.name, ErrInvalidParameter))
		}
	}
	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		result = multierror.Append(result, fmt.Errorf("LOG_LEVEL %q is unknown: %w", c.LogLevel, ErrInvalidParameter))
	}
	return result.ErrorOrNil()
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// TLSEnabled reports whether the server should serve HTTPS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// ProviderCA returns the PEM in ProviderCAFile, or "" when none is set.
func (c *Config) ProviderCA() (string, error) {
	const op = "config.(Config).ProviderCA"
	if c.ProviderCAFile == "" {
		return "", nil
	}
	b, err := os.ReadFile(c.ProviderCAFile)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return string(b), nil
}

// Source is the parsed RolesSource.
func (c *Config) Source() authz.Source {
	s, err := authz.ParseSource(c.RolesSource)
	if err != nil {
		return authz.SourceAccessToken
	}
	return s
}

// Logger builds the root logger.
func (c *Config) Logger(name string) hclog.Logger {
	level := hclog.LevelFromString(c.LogLevel)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      level,
		JSONFormat: c.LogJSON,
	})
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
