// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

package account

import "errors"

// ErrNotFound is returned when a requested account does not exist or when a
// case-insensitive handle lookup is ambiguous.
var ErrNotFound = errors.New("account not found")

// ErrDuplicateHandle is returned by Create when the handle is already taken.
var ErrDuplicateHandle = errors.New("handle already registered")

// ErrIDExhausted is returned by Create when the id space is used up.
var ErrIDExhausted = errors.New("account id space exhausted")
