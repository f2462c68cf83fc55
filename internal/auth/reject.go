// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

// Package auth implements credential verification for game clients: digest
// policies, the rejection taxonomy, and the login decision pipeline.
package auth

import (
	"fmt"
	"time"
)

// RejectReason is the client-visible refusal code carried in the refuse
// notification. The numeric values are part of the wire protocol.
type RejectReason uint8

// Refusal codes understood by game clients.
const (
	RejectUnregistered      RejectReason = 0   // unknown handle
	RejectIncorrectPassword RejectReason = 1   // credential mismatch
	RejectExpired           RejectReason = 2   // account validity limit passed
	RejectRefused           RejectReason = 3   // rejected from server
	RejectBlocked           RejectReason = 4   // blocked by the operations team
	RejectStaleClient       RejectReason = 5   // client version below the floor
	RejectBannedUntil       RejectReason = 6   // temporary ban, carries the lift time
	RejectJammed            RejectReason = 7   // server overloaded or flooded
	RejectAlreadyOnline     RejectReason = 8   // session limit, someone is logged in
	RejectErased            RejectReason = 99  // account deleted
	RejectInvestigation     RejectReason = 100 // payment/abuse investigation cluster start
)

// BanDateLayout renders the ban lift time in the fixed-width form clients
// render verbatim.
const BanDateLayout = "2006-01-02 15:04:05"

// String describes the reason for logs.
func (r RejectReason) String() string {
	switch r {
	case RejectUnregistered:
		return "unregistered"
	case RejectIncorrectPassword:
		return "incorrect password"
	case RejectExpired:
		return "expired"
	case RejectRefused:
		return "refused"
	case RejectBlocked:
		return "blocked"
	case RejectStaleClient:
		return "stale client"
	case RejectBannedUntil:
		return "banned"
	case RejectJammed:
		return "jammed"
	case RejectAlreadyOnline:
		return "already online"
	case RejectErased:
		return "erased"
	}
	if r >= RejectInvestigation {
		return "under investigation"
	}
	return fmt.Sprintf("reason %d", uint8(r))
}

// StateReason maps a nonzero stored account state to its refusal code:
// state minus one. State zero is active and never maps to a reason.
func StateReason(state uint32) RejectReason {
	return RejectReason(state - 1)
}

// RejectError reports a login refusal. BanUntil is set only for
// RejectBannedUntil.
type RejectError struct {
	Reason   RejectReason
	BanUntil time.Time
}

// Error implements error.
func (e *RejectError) Error() string {
	if e.Reason == RejectBannedUntil {
		return fmt.Sprintf("login rejected: banned until %s", e.BanUntil.Format(BanDateLayout))
	}
	return "login rejected: " + e.Reason.String()
}

// BanDate renders the lift time for the refuse notification. Empty for
// every reason except RejectBannedUntil.
func (e *RejectError) BanDate() string {
	if e.Reason != RejectBannedUntil || e.BanUntil.IsZero() {
		return ""
	}
	return e.BanUntil.Format(BanDateLayout)
}

func reject(reason RejectReason) *RejectError {
	return &RejectError{Reason: reason}
}

func rejectBanned(until time.Time) *RejectError {
	return &RejectError{Reason: RejectBannedUntil, BanUntil: until}
}
