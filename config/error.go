// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrMissingParameter = errors.New("missing parameter")
)
