// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package id generates random identifiers for sessions and requests.
package id

import (
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// Prefixes used across the application.
const (
	SessionPrefix = "sess"
	RequestPrefix = "req"
)

// New generates a random ID with an optional prefix.
func New(optionalPrefix string) (string, error) {
	const op = "id.New"
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate id: %w", op, err)
	}
	switch {
	case optionalPrefix != "":
		return fmt.Sprintf("%s_%s", optionalPrefix, id), nil
	default:
		return id, nil
	}
}
