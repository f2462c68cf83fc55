// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

// Package guard throttles abusive connection behavior: inline registration
// floods and repeated credential failures.
package guard

import (
	"sync"
	"time"
)

// Registration guard defaults: one inline account creation per source
// address per rolling ten seconds.
const (
	DefaultRegistrationWindow    = 10 * time.Second
	DefaultRegistrationAllowance = 1
)

// RegistrationGuard allows a bounded number of inline registrations per
// source address inside a rolling window.
type RegistrationGuard struct {
	mu        sync.Mutex
	window    time.Duration
	allowance int
	recent    map[string][]time.Time
}

// NewRegistrationGuard builds a guard. Non-positive parameters fall back to
// the defaults.
func NewRegistrationGuard(window time.Duration, allowance int) *RegistrationGuard {
	if window <= 0 {
		window = DefaultRegistrationWindow
	}
	if allowance <= 0 {
		allowance = DefaultRegistrationAllowance
	}
	return &RegistrationGuard{
		window:    window,
		allowance: allowance,
		recent:    make(map[string][]time.Time),
	}
}

// Allow reports whether the address may register now, recording the attempt
// when it may.
func (g *RegistrationGuard) Allow(ip string, now time.Time) bool {
	cutoff := now.Add(-g.window)

	g.mu.Lock()
	defer g.mu.Unlock()

	kept := g.recent[ip][:0]
	for _, t := range g.recent[ip] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= g.allowance {
		g.recent[ip] = kept
		return false
	}
	g.recent[ip] = append(kept, now)
	return true
}

// Sweep drops history outside the window so the map does not grow with
// every address ever seen.
func (g *RegistrationGuard) Sweep(now time.Time) {
	cutoff := now.Add(-g.window)

	g.mu.Lock()
	defer g.mu.Unlock()

	for ip, times := range g.recent {
		kept := times[:0]
		for _, t := range times {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(g.recent, ip)
		} else {
			g.recent[ip] = kept
		}
	}
}
