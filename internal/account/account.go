// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

// Package account defines the account record, its persistence contract, and
// the tab-delimited interchange codec shared by all store backends.
package account

import (
	"context"
	"regexp"
	"time"

	"github.com/samber/oops"
)

// Account id space. Regular accounts live in [StartID, EndID]; ids below
// StartID are reserved for server-category accounts whose id doubles as the
// realm registry slot.
const (
	StartID uint32 = 2000000
	EndID   uint32 = 100000000
)

// Handle validation constraints. Game clients cannot submit handles shorter
// than MinHandleLength.
const (
	MinHandleLength = 4
	MaxHandleLength = 23
)

// DefaultEmail marks an account whose owner never supplied a real address.
const DefaultEmail = "a@a.com"

// handleRegex matches handles made of printable characters without
// whitespace or control characters.
var handleRegex = regexp.MustCompile(`^[^\s\x00-\x1f]+$`)

// Category distinguishes regular player accounts from realm-server
// pseudo-accounts.
type Category uint8

// Account categories. The numeric values are part of the wire protocol.
const (
	Female Category = 0
	Male   Category = 1
	Server Category = 2
)

// String returns the single-letter form used in the interchange format.
func (c Category) String() string {
	switch c {
	case Female:
		return "F"
	case Male:
		return "M"
	case Server:
		return "S"
	}
	return "?"
}

// ParseCategory converts the single-letter interchange form.
func ParseCategory(s string) (Category, error) {
	switch s {
	case "F", "f":
		return Female, nil
	case "M", "m":
		return Male, nil
	case "S", "s":
		return Server, nil
	}
	return Female, oops.Code("ACCOUNT_INVALID_CATEGORY").
		With("value", s).
		Errorf("unknown account category %q", s)
}

// KV is an auxiliary key/value pair carried on an account record.
type KV struct {
	Key   string
	Value string
}

// Account is a single identity record. State zero means active; any nonzero
// state maps to a client-visible rejection reason (state minus one).
type Account struct {
	ID         uint32
	Handle     string
	Password   string // material per digest policy: plaintext or encoded digest
	LastLogin  time.Time
	Sex        Category
	LoginCount uint32
	State      uint32
	Email      string
	BanReason  string // free text shown for the administratively-banned state
	Expiration time.Time // zero = unlimited
	LastIP     string
	Memo       string
	UnbanTime  time.Time // zero = not banned
	Extra      []KV
}

// IsExpired reports whether the account's validity limit has passed.
func (a *Account) IsExpired(now time.Time) bool {
	return !a.Expiration.IsZero() && a.Expiration.Before(now)
}

// IsBanned reports whether a ban is currently in force.
func (a *Account) IsBanned(now time.Time) bool {
	return !a.UnbanTime.IsZero() && a.UnbanTime.After(now)
}

// BanLapsed reports whether a past ban is still recorded and should be
// cleared.
func (a *Account) BanLapsed(now time.Time) bool {
	return !a.UnbanTime.IsZero() && !a.UnbanTime.After(now)
}

// RecordLogin updates the login bookkeeping after a successful
// authentication.
func (a *Account) RecordLogin(now time.Time, ip string) {
	a.LastLogin = now
	a.LastIP = ip
	a.LoginCount++
}

// ValidateHandle validates an account handle against rules.
func ValidateHandle(handle string) error {
	if len(handle) < MinHandleLength {
		return oops.Code("ACCOUNT_INVALID_HANDLE").
			With("min", MinHandleLength).
			Errorf("handle must be at least %d characters", MinHandleLength)
	}
	if len(handle) > MaxHandleLength {
		return oops.Code("ACCOUNT_INVALID_HANDLE").
			With("max", MaxHandleLength).
			Errorf("handle must be at most %d characters", MaxHandleLength)
	}
	if !handleRegex.MatchString(handle) {
		return oops.Code("ACCOUNT_INVALID_HANDLE").
			Errorf("handle must not contain whitespace or control characters")
	}
	return nil
}

// Store is the persistence contract every backend implements.
//
// LoadByHandle resolves the handle exactly first; on a miss it performs a
// case-insensitive scan and resolves only when exactly one candidate exists.
// Zero or multiple case-insensitive matches report ErrNotFound; the
// ambiguity must not be resolved arbitrarily.
type Store interface {
	// LoadByHandle retrieves an account by handle.
	LoadByHandle(ctx context.Context, handle string) (*Account, error)

	// LoadByID retrieves an account by id.
	LoadByID(ctx context.Context, id uint32) (*Account, error)

	// Save persists an account durably before returning.
	Save(ctx context.Context, acc *Account) error

	// SaveLogin persists login bookkeeping (counter, timestamp, address).
	// Backends may defer the durable write for a bounded number of calls;
	// Flush and Close force it.
	SaveLogin(ctx context.Context, acc *Account) error

	// Create assigns the next id and stores a new account.
	// Returns ErrDuplicateHandle if the handle is already taken.
	Create(ctx context.Context, acc *Account) (uint32, error)

	// Flush forces any deferred writes to durable storage.
	Flush(ctx context.Context) error

	// Close flushes and releases the backend.
	Close(ctx context.Context) error
}
