// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

// Package session tracks the cluster-side session state: one-shot handoff
// tokens issued at login and the presence of accounts across realms.
package session

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/riftgate/riftgate/internal/account"
)

// DefaultTokenTTL is how long an unredeemed handoff token stays valid.
const DefaultTokenTTL = 30 * time.Second

// Token is the credential a realm presents to claim a freshly
// authenticated client. Every field must match at redemption.
type Token struct {
	AccountID     uint32
	LoginID1      uint32
	LoginID2      uint32
	Sex           account.Category
	IP            string
	ClientVersion uint32
	IssuedAt      time.Time
}

// TokenRegistry holds at most one outstanding token per account. Issuing
// replaces any prior token; redeeming consumes it.
type TokenRegistry struct {
	mu     sync.Mutex
	tokens map[uint32]Token
	ttl    time.Duration
}

// NewTokenRegistry builds a registry. A non-positive ttl falls back to the
// default.
func NewTokenRegistry(ttl time.Duration) *TokenRegistry {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenRegistry{
		tokens: make(map[uint32]Token),
		ttl:    ttl,
	}
}

// Issue mints a token for the account, replacing any outstanding one. The
// login id pair comes from the system CSPRNG.
func (r *TokenRegistry) Issue(acc *account.Account, clientVersion uint32, ip string, now time.Time) Token {
	tok := Token{
		AccountID:     acc.ID,
		LoginID1:      randUint32(),
		LoginID2:      randUint32(),
		Sex:           acc.Sex,
		IP:            ip,
		ClientVersion: clientVersion,
		IssuedAt:      now,
	}

	r.mu.Lock()
	r.tokens[acc.ID] = tok
	r.mu.Unlock()
	return tok
}

// Redeem consumes the account's token when every presented field matches.
// A mismatch leaves the token in place; a match removes it so a replayed
// claim fails.
func (r *TokenRegistry) Redeem(accountID, loginID1, loginID2 uint32, sex account.Category, ip string, now time.Time) (Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.tokens[accountID]
	if !ok {
		return Token{}, false
	}
	if now.Sub(tok.IssuedAt) > r.ttl {
		delete(r.tokens, accountID)
		return Token{}, false
	}
	if tok.LoginID1 != loginID1 || tok.LoginID2 != loginID2 || tok.Sex != sex || tok.IP != ip {
		return Token{}, false
	}

	delete(r.tokens, accountID)
	return tok, true
}

// Revoke discards the account's outstanding token, if any.
func (r *TokenRegistry) Revoke(accountID uint32) {
	r.mu.Lock()
	delete(r.tokens, accountID)
	r.mu.Unlock()
}

// Sweep removes expired tokens and returns the affected account ids so the
// caller can clear their pending presence.
func (r *TokenRegistry) Sweep(now time.Time) []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []uint32
	for id, tok := range r.tokens {
		if now.Sub(tok.IssuedAt) > r.ttl {
			delete(r.tokens, id)
			expired = append(expired, id)
		}
	}
	return expired
}

// Outstanding returns the number of unredeemed tokens.
func (r *TokenRegistry) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

func randUint32() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// The system CSPRNG failing is unrecoverable.
		panic(err)
	}
	return binary.LittleEndian.Uint32(buf[:])
}
