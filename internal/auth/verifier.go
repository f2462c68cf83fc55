// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/riftgate/riftgate/internal/account"
)

// DuplicatePolicy decides what happens when a login arrives for an account
// with a live session on a realm.
type DuplicatePolicy string

// Duplicate session policies. Either way the stale session is told to
// disconnect; reject additionally refuses the new login.
const (
	DuplicateReject  DuplicatePolicy = "reject"
	DuplicatePreempt DuplicatePolicy = "preempt"
)

// ParseDuplicatePolicy validates a configured policy name.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(s) {
	case DuplicateReject, DuplicatePreempt:
		return DuplicatePolicy(s), nil
	}
	return "", oops.Code("AUTH_INVALID_DUPLICATE_POLICY").
		With("policy", s).
		Errorf("unknown duplicate session policy %q", s)
}

// Presence reports where an account currently is in the cluster.
type Presence interface {
	// Lookup returns the realm holding the account's session. pending is
	// true while the account has redeemed nothing yet; online is false when
	// the account has no session at all.
	Lookup(accountID uint32) (realmID uint8, pending, online bool)
}

// RegistrationLimiter throttles inline account creation per source address.
type RegistrationLimiter interface {
	Allow(ip string, now time.Time) bool
}

// PrivilegeDirectory resolves an account's operator level.
type PrivilegeDirectory interface {
	LevelOf(accountID uint32) int
}

// Blocklist answers the address-reputation question before any account
// lookup happens.
type Blocklist interface {
	Blocked(ip string) bool
}

// Registration suffixes: appending one to an unknown handle creates the
// account inline with the indicated category.
const (
	suffixMale   = "_M"
	suffixFemale = "_F"
)

// Config carries the verifier's policy knobs.
type Config struct {
	// DigestPolicy selects stored password material handling.
	DigestPolicy DigestPolicy

	// DuplicatePolicy selects handling of logins for already-online accounts.
	DuplicatePolicy DuplicatePolicy

	// AllowRegistration enables the _M/_F inline registration suffixes.
	AllowRegistration bool

	// RequiredClientBuild refuses clients reporting any other build tag.
	// Zero disables the gate.
	RequiredClientBuild uint32

	// MinPrivilegeLevel refuses accounts below this operator level.
	// Zero admits everyone.
	MinPrivilegeLevel int

	// Blocklist refuses source addresses with a bad reputation. Nil
	// disables the gate.
	Blocklist Blocklist

	// StartLimitedDays gives auto-registered accounts a validity limit of
	// this many days. Zero creates unlimited accounts.
	StartLimitedDays int
}

// Request is one login attempt as decoded off the wire.
type Request struct {
	Handle        string
	Credential    string // password, digest, or keyed challenge digest
	ClientVersion uint32
	RemoteIP      string
	KeyedMode     KeyedMode
	SessionKey    string // challenge previously issued to this connection
}

// Decision is a successful verification. KickRealm is meaningful only when
// KickExisting is set.
type Decision struct {
	Account      *account.Account
	Created      bool
	KickExisting bool
	KickRealm    uint8
}

// Verifier runs the login decision pipeline.
type Verifier struct {
	store      account.Store
	presence   Presence
	limiter    RegistrationLimiter
	privileges PrivilegeDirectory
	cfg        Config
	now        func() time.Time
}

// NewVerifier wires the pipeline. limiter and privileges may be nil when
// registration or the privilege floor is disabled.
func NewVerifier(store account.Store, presence Presence, limiter RegistrationLimiter, privileges PrivilegeDirectory, cfg Config) *Verifier {
	return &Verifier{
		store:      store,
		presence:   presence,
		limiter:    limiter,
		privileges: privileges,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Verify checks one login attempt. Refusals come back as *RejectError;
// any other error is an internal failure the caller should report as
// RejectRefused without detail. A RejectAlreadyOnline refusal still carries
// a non-nil Decision so the caller can kick the stale session.
func (v *Verifier) Verify(ctx context.Context, req Request) (*Decision, error) {
	now := v.now()

	if v.cfg.Blocklist != nil && v.cfg.Blocklist.Blocked(req.RemoteIP) {
		slog.Info("login from blocklisted address refused", "ip", req.RemoteIP, "handle", req.Handle)
		return nil, reject(RejectRefused)
	}

	// Exact match: a client on a newer, unexpected build is just as
	// incompatible as one on an older build.
	if v.cfg.RequiredClientBuild != 0 && req.ClientVersion != v.cfg.RequiredClientBuild {
		return nil, reject(RejectStaleClient)
	}

	handle := req.Handle
	created := false
	var acc *account.Account

	// An empty password can never register an account; the attempt falls
	// through to normal verification of the literal handle.
	if base, sex, ok := registrationSuffix(handle); ok && v.cfg.AllowRegistration &&
		req.KeyedMode == KeyedNone && req.Credential != "" {
		newAcc, err := v.register(ctx, base, req, sex, now)
		switch {
		case err == nil:
			acc = newAcc
			created = true
		case errors.Is(err, account.ErrDuplicateHandle):
			// The handle exists: treat the attempt as a normal login.
			handle = base
		default:
			return nil, err
		}
	}

	if acc == nil {
		loaded, err := v.store.LoadByHandle(ctx, handle)
		if errors.Is(err, account.ErrNotFound) {
			return nil, reject(RejectUnregistered)
		}
		if err != nil {
			return nil, err
		}
		acc = loaded
	}

	if !created {
		ok, err := VerifyPassword(v.cfg.DigestPolicy, acc.Password, req.Credential, req.KeyedMode, req.SessionKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, reject(RejectIncorrectPassword)
		}
	}

	if acc.IsExpired(now) {
		return nil, reject(RejectExpired)
	}

	if acc.IsBanned(now) {
		return nil, rejectBanned(acc.UnbanTime)
	}
	if acc.BanLapsed(now) {
		acc.UnbanTime = time.Time{}
		acc.BanReason = ""
		if err := v.store.Save(ctx, acc); err != nil {
			return nil, err
		}
		slog.Info("lapsed ban cleared on login",
			"account_id", acc.ID,
			"handle", acc.Handle,
		)
	}

	if acc.State != 0 {
		return nil, reject(StateReason(acc.State))
	}

	if v.cfg.MinPrivilegeLevel > 0 {
		level := 0
		if v.privileges != nil {
			level = v.privileges.LevelOf(acc.ID)
		}
		if level < v.cfg.MinPrivilegeLevel {
			return nil, reject(RejectRefused)
		}
	}

	decision := &Decision{Account: acc, Created: created}
	if v.presence != nil {
		if realmID, pending, online := v.presence.Lookup(acc.ID); online && !pending {
			decision.KickExisting = true
			decision.KickRealm = realmID
			if v.cfg.DuplicatePolicy != DuplicatePreempt {
				return decision, reject(RejectAlreadyOnline)
			}
		}
		// A pending session is simply replaced: issuing a fresh token
		// invalidates the old one.
	}

	acc.RecordLogin(now, req.RemoteIP)
	if err := v.store.SaveLogin(ctx, acc); err != nil {
		return nil, err
	}
	return decision, nil
}

// register creates an account inline from a suffixed handle.
func (v *Verifier) register(ctx context.Context, base string, req Request, sex account.Category, now time.Time) (*account.Account, error) {
	if err := account.ValidateHandle(base); err != nil {
		return nil, reject(RejectUnregistered)
	}
	if v.limiter != nil && !v.limiter.Allow(req.RemoteIP, now) {
		return nil, reject(RejectUnregistered)
	}

	stored, err := HashForStorage(v.cfg.DigestPolicy, req.Credential)
	if err != nil {
		return nil, reject(RejectIncorrectPassword)
	}

	acc := &account.Account{
		Handle:   base,
		Password: stored,
		Sex:      sex,
		Email:    account.DefaultEmail,
	}
	if v.cfg.StartLimitedDays > 0 {
		acc.Expiration = now.AddDate(0, 0, v.cfg.StartLimitedDays)
	}
	id, err := v.store.Create(ctx, acc)
	if err != nil {
		if errors.Is(err, account.ErrIDExhausted) {
			return nil, reject(RejectJammed)
		}
		return nil, err
	}
	acc.ID = id

	slog.Info("account auto-registered",
		"account_id", id,
		"handle", base,
		"sex", sex.String(),
		"ip", req.RemoteIP,
	)
	return acc, nil
}

// registrationSuffix splits a _M/_F registration handle.
func registrationSuffix(handle string) (base string, sex account.Category, ok bool) {
	switch {
	case strings.HasSuffix(handle, suffixMale):
		return strings.TrimSuffix(handle, suffixMale), account.Male, true
	case strings.HasSuffix(handle, suffixFemale):
		return strings.TrimSuffix(handle, suffixFemale), account.Female, true
	}
	return "", 0, false
}
