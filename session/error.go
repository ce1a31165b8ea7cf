// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrNotFound         = errors.New("session not found")
	ErrExpired          = errors.New("session is expired")
	ErrInvalidSession   = errors.New("invalid session")
)
