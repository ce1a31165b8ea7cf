// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/crypto/hkdf"
)

const (
	// keyInfo is the HKDF info used to derive the cookie encryption key.
	keyInfo = "JWE CEK"

	// chunkSize bounds the value of a single cookie, leaving room for the
	// name and attributes within the 4096 byte browser limit.
	chunkSize = 3800
)

// envelope is the encrypted cookie payload.
type envelope struct {
	Session   *Session `json:"session"`
	IssuedAt  int64    `json:"iat"`
	UpdatedAt int64    `json:"uat"`
	Expires   int64    `json:"exp"`
}

// CookieStore persists a Session in the client as a compact JWE (dir +
// A256GCM) whose key is derived from a secret with HKDF-SHA256. Values which
// exceed the cookie size limit are split across NAME.0, NAME.1, ...
type CookieStore struct {
	name     string
	key      []byte
	rolling  time.Duration
	absolute time.Duration
	secure   bool
	sameSite http.SameSite
	now      func() time.Time
}

// NewCookieStore creates a store keyed from secret.
//
// Supported options:
//   - WithCookieName
//   - WithRollingDuration
//   - WithAbsoluteDuration
//   - WithSecure
//   - WithSameSite
//   - WithNow
func NewCookieStore(secret string, opt ...Option) (*CookieStore, error) {
	const op = "session.NewCookieStore"
	if secret == "" {
		return nil, fmt.Errorf("%s: secret is empty: %w", op, ErrInvalidParameter)
	}
	opts := getStoreOpts(opt...)
	switch {
	case opts.withCookieName == "":
		return nil, fmt.Errorf("%s: cookie name is empty: %w", op, ErrInvalidParameter)
	case strings.ContainsAny(opts.withCookieName, "=;, \t"):
		return nil, fmt.Errorf("%s: cookie name %q is invalid: %w", op, opts.withCookieName, ErrInvalidParameter)
	case opts.withRollingDuration < 0 || opts.withAbsoluteDuration < 0:
		return nil, fmt.Errorf("%s: negative session duration: %w", op, ErrInvalidParameter)
	case opts.withRollingDuration == 0 && opts.withAbsoluteDuration == 0:
		return nil, fmt.Errorf("%s: sessions need a rolling or absolute duration: %w", op, ErrInvalidParameter)
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("%s: unable to derive key: %w", op, err)
	}
	return &CookieStore{
		name:     opts.withCookieName,
		key:      key,
		rolling:  opts.withRollingDuration,
		absolute: opts.withAbsoluteDuration,
		secure:   opts.withSecure,
		sameSite: opts.withSameSite,
		now:      opts.withNow,
	}, nil
}

// Name returns the session cookie name.
func (cs *CookieStore) Name() string { return cs.name }

// Load reads the session from the request's cookies. It returns ErrNotFound
// when there is no session cookie, ErrExpired when the session outlived its
// rolling or absolute duration, and ErrInvalidSession when the cookie can't
// be decrypted.
func (cs *CookieStore) Load(r *http.Request) (*Session, error) {
	const op = "session.(CookieStore).Load"
	if r == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	raw := cs.readValue(r)
	if raw == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	obj, err := jose.ParseEncrypted(raw, []jose.KeyAlgorithm{jose.DIRECT}, []jose.ContentEncryption{jose.A256GCM})
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse cookie: %w: %w", op, ErrInvalidSession, err)
	}
	payload, err := obj.Decrypt(cs.key)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to decrypt cookie: %w: %w", op, ErrInvalidSession, err)
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%s: unable to unmarshal session: %w: %w", op, ErrInvalidSession, err)
	}
	if env.Session == nil {
		return nil, fmt.Errorf("%s: empty session: %w", op, ErrInvalidSession)
	}
	now := cs.now()
	if !now.Before(time.Unix(env.Expires, 0)) {
		return nil, fmt.Errorf("%s: %w", op, ErrExpired)
	}
	env.Session.AccessToken.SetExpiresIn(now)
	return env.Session, nil
}

// Save writes the session to the response, refreshing its rolling expiry.
// Cookie chunks left over from a previous, larger session are removed.
func (cs *CookieStore) Save(w http.ResponseWriter, r *http.Request, s *Session) error {
	const op = "session.(CookieStore).Save"
	switch {
	case w == nil:
		return fmt.Errorf("%s: response writer is nil: %w", op, ErrNilParameter)
	case s == nil:
		return fmt.Errorf("%s: session is nil: %w", op, ErrNilParameter)
	}
	now := cs.now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	exp := cs.expiry(s.CreatedAt, now)
	if !now.Before(exp) {
		return fmt.Errorf("%s: %w", op, ErrExpired)
	}
	payload, err := json.Marshal(envelope{
		Session:   s,
		IssuedAt:  s.CreatedAt.Unix(),
		UpdatedAt: now.Unix(),
		Expires:   exp.Unix(),
	})
	if err != nil {
		return fmt.Errorf("%s: unable to marshal session: %w", op, err)
	}
	enc, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{Algorithm: jose.DIRECT, Key: cs.key}, nil)
	if err != nil {
		return fmt.Errorf("%s: unable to create encrypter: %w", op, err)
	}
	obj, err := enc.Encrypt(payload)
	if err != nil {
		return fmt.Errorf("%s: unable to encrypt session: %w", op, err)
	}
	raw, err := obj.CompactSerialize()
	if err != nil {
		return fmt.Errorf("%s: unable to serialize session: %w", op, err)
	}

	written := map[string]bool{}
	if len(raw) <= chunkSize {
		http.SetCookie(w, cs.cookie(cs.name, raw, exp))
		written[cs.name] = true
	} else {
		for i := 0; len(raw) > 0; i++ {
			n := chunkSize
			if len(raw) < n {
				n = len(raw)
			}
			name := cs.chunkName(i)
			http.SetCookie(w, cs.cookie(name, raw[:n], exp))
			written[name] = true
			raw = raw[n:]
		}
	}
	if r != nil {
		for _, name := range cs.existing(r) {
			if !written[name] {
				http.SetCookie(w, cs.expired(name))
			}
		}
	}
	return nil
}

// Clear removes every session cookie present on the request.
func (cs *CookieStore) Clear(w http.ResponseWriter, r *http.Request) {
	names := []string{cs.name}
	if r != nil {
		names = cs.existing(r)
	}
	for _, name := range names {
		http.SetCookie(w, cs.expired(name))
	}
}

func (cs *CookieStore) expiry(created, now time.Time) time.Time {
	var exp time.Time
	if cs.rolling > 0 {
		exp = now.Add(cs.rolling)
	}
	if cs.absolute > 0 {
		abs := created.Add(cs.absolute)
		if exp.IsZero() || abs.Before(exp) {
			exp = abs
		}
	}
	return exp
}

func (cs *CookieStore) chunkName(i int) string {
	return cs.name + "." + strconv.Itoa(i)
}

// readValue returns the unchunked cookie if present, otherwise the
// concatenation of the consecutive chunks starting at NAME.0.
func (cs *CookieStore) readValue(r *http.Request) string {
	if c, err := r.Cookie(cs.name); err == nil && c.Value != "" {
		return c.Value
	}
	var b strings.Builder
	for i := 0; ; i++ {
		c, err := r.Cookie(cs.chunkName(i))
		if err != nil {
			break
		}
		b.WriteString(c.Value)
	}
	return b.String()
}

// existing lists the session cookie names sent with the request.
func (cs *CookieStore) existing(r *http.Request) []string {
	var names []string
	for _, c := range r.Cookies() {
		if c.Name == cs.name {
			names = append(names, c.Name)
			continue
		}
		if suffix, ok := strings.CutPrefix(c.Name, cs.name+"."); ok {
			if _, err := strconv.Atoi(suffix); err == nil {
				names = append(names, c.Name)
			}
		}
	}
	sort.Strings(names)
	return names
}

func (cs *CookieStore) cookie(name, value string, exp time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  exp,
		HttpOnly: true,
		Secure:   cs.secure,
		SameSite: cs.sameSite,
	}
}

func (cs *CookieStore) expired(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   cs.secure,
		SameSite: cs.sameSite,
	}
}
