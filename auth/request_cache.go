// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/cap/oidc"
)

// extendedRequest remembers where the user was going when the login started.
type extendedRequest struct {
	oidc.Request
	returnTo string
}

// requestCache holds the login attempts in flight, keyed by state.
type requestCache struct {
	m sync.Mutex
	c map[string]extendedRequest
}

func newRequestCache() *requestCache {
	return &requestCache{
		c: map[string]extendedRequest{},
	}
}

// Read implements the callback.RequestReader interface. Expired requests are
// removed and reported as not found.
func (rc *requestCache) Read(_ context.Context, state string) (oidc.Request, error) {
	const op = "requestCache.Read"
	rc.m.Lock()
	defer rc.m.Unlock()
	if oidcRequest, ok := rc.c[state]; ok {
		if oidcRequest.IsExpired() {
			delete(rc.c, state)
			return nil, fmt.Errorf("%s: state %s: %w", op, state, ErrExpired)
		}
		return oidcRequest, nil
	}
	return nil, fmt.Errorf("%s: state %s: %w", op, state, ErrNotFound)
}

func (rc *requestCache) Add(r oidc.Request, returnTo string) {
	rc.m.Lock()
	defer rc.m.Unlock()
	rc.c[r.State()] = extendedRequest{Request: r, returnTo: returnTo}
}

func (rc *requestCache) Delete(state string) {
	rc.m.Lock()
	defer rc.m.Unlock()
	delete(rc.c, state)
}

func (rc *requestCache) Len() int {
	rc.m.Lock()
	defer rc.m.Unlock()
	return len(rc.c)
}

// sweep drops every expired request and returns how many were dropped.
func (rc *requestCache) sweep() int {
	rc.m.Lock()
	defer rc.m.Unlock()
	var n int
	for state, r := range rc.c {
		if r.IsExpired() {
			delete(rc.c, state)
			n++
		}
	}
	return n
}

// run sweeps every interval until ctx is done.
func (rc *requestCache) run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rc.sweep()
		}
	}
}
