// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package claims

import "errors"

var (
	ErrInvalidParameter          = errors.New("invalid parameter")
	ErrNilParameter              = errors.New("nil parameter")
	ErrMalformedToken            = errors.New("malformed token")
	ErrTokenVerificationFailed   = errors.New("token verification failed")
	ErrUnsupportedSigningAlgName = errors.New("unsupported signing algorithm")
)
