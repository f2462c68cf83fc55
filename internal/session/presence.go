// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

package session

import (
	"sync"
	"time"
)

// DefaultTransitionalGrace is how long a session may sit between realms
// before it is considered gone.
const DefaultTransitionalGrace = 40 * time.Second

// presenceState is where an account's session currently is.
type presenceState uint8

const (
	statePending      presenceState = iota // authenticated, no realm yet
	stateActive                            // held by a realm
	stateTransitional                      // left a realm, may reappear on another
)

type presenceEntry struct {
	state   presenceState
	realmID uint8
	since   time.Time
}

// PresenceRegistry tracks which accounts are online and where. It is the
// authority the duplicate-session check and the population counters read.
type PresenceRegistry struct {
	mu      sync.Mutex
	entries map[uint32]presenceEntry
	grace   time.Duration
	now     func() time.Time
}

// NewPresenceRegistry builds a registry. A non-positive grace falls back to
// the default.
func NewPresenceRegistry(grace time.Duration) *PresenceRegistry {
	if grace <= 0 {
		grace = DefaultTransitionalGrace
	}
	return &PresenceRegistry{
		entries: make(map[uint32]presenceEntry),
		grace:   grace,
		now:     time.Now,
	}
}

// MarkPending records a fresh login that has not picked a realm yet.
func (p *PresenceRegistry) MarkPending(accountID uint32) {
	p.set(accountID, presenceEntry{state: statePending, since: p.now()})
}

// MarkActive records a session held by a realm.
func (p *PresenceRegistry) MarkActive(accountID uint32, realmID uint8) {
	p.set(accountID, presenceEntry{state: stateActive, realmID: realmID, since: p.now()})
}

// MarkTransitional records a session that left its realm and may reappear
// on another within the grace period.
func (p *PresenceRegistry) MarkTransitional(accountID uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[accountID]
	if !ok {
		return
	}
	entry.state = stateTransitional
	entry.since = p.now()
	p.entries[accountID] = entry
}

// Clear forgets the account's session entirely.
func (p *PresenceRegistry) Clear(accountID uint32) {
	p.mu.Lock()
	delete(p.entries, accountID)
	p.mu.Unlock()
}

// Lookup implements the duplicate-session check: realmID is meaningful only
// for active sessions, pending covers both the pending and transitional
// states, online is false when the account has no session.
func (p *PresenceRegistry) Lookup(accountID uint32) (realmID uint8, pending, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[accountID]
	if !ok {
		return 0, false, false
	}
	return entry.realmID, entry.state != stateActive, true
}

// ActiveOn lists the accounts currently held by one realm.
func (p *PresenceRegistry) ActiveOn(realmID uint8) []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	var ids []uint32
	for id, entry := range p.entries {
		if entry.state == stateActive && entry.realmID == realmID {
			ids = append(ids, id)
		}
	}
	return ids
}

// Online returns the total number of tracked sessions.
func (p *PresenceRegistry) Online() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// ReconcileSnapshot replaces the registry's view of one realm with the
// realm's own roster. Accounts in the roster become active there; accounts
// the registry thought were on that realm but the roster omits are cleared.
// Applying the same snapshot twice is a no-op.
func (p *PresenceRegistry) ReconcileSnapshot(realmID uint8, roster []uint32) {
	now := p.now()
	listed := make(map[uint32]struct{}, len(roster))
	for _, id := range roster {
		listed[id] = struct{}{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for id, entry := range p.entries {
		if entry.state != stateActive || entry.realmID != realmID {
			continue
		}
		if _, ok := listed[id]; !ok {
			delete(p.entries, id)
		}
	}
	for id := range listed {
		entry, ok := p.entries[id]
		if ok && entry.state == stateActive && entry.realmID == realmID {
			continue
		}
		p.entries[id] = presenceEntry{state: stateActive, realmID: realmID, since: now}
	}
}

// ClearRealm drops every session held by one realm, typically when the
// realm disconnects without a roster to hand back.
func (p *PresenceRegistry) ClearRealm(realmID uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, entry := range p.entries {
		if entry.state == stateActive && entry.realmID == realmID {
			delete(p.entries, id)
		}
	}
}

// TransitionRealm moves every session held by one realm into the
// transitional state, keeping the duplicate-session check strict while the
// realm restarts.
func (p *PresenceRegistry) TransitionRealm(realmID uint8) {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	for id, entry := range p.entries {
		if entry.state == stateActive && entry.realmID == realmID {
			entry.state = stateTransitional
			entry.since = now
			p.entries[id] = entry
		}
	}
}

// Sweep drops transitional sessions that outstayed the grace period.
func (p *PresenceRegistry) Sweep(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, entry := range p.entries {
		if entry.state == stateTransitional && now.Sub(entry.since) > p.grace {
			delete(p.entries, id)
		}
	}
}

func (p *PresenceRegistry) set(accountID uint32, entry presenceEntry) {
	p.mu.Lock()
	p.entries[accountID] = entry
	p.mu.Unlock()
}
