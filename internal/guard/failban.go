// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

package guard

import (
	"log/slog"
	"net/netip"
	"sync"
	"time"
)

// FailBan defaults, tuned for interactive login traffic.
const (
	DefaultFailWindow    = 3 * time.Minute
	DefaultFailThreshold = 7
	DefaultBanDuration   = 5 * time.Minute
)

// FailBan temporarily bans source subnets that accumulate too many
// credential failures inside a rolling window. IPv4 addresses are grouped
// by /24, IPv6 by /64, so an attacker rotating within one allocation is
// still caught.
type FailBan struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	duration  time.Duration
	failures  map[string][]time.Time
	bans      map[string]time.Time
}

// NewFailBan builds a tracker. Non-positive parameters fall back to the
// defaults.
func NewFailBan(window time.Duration, threshold int, duration time.Duration) *FailBan {
	if window <= 0 {
		window = DefaultFailWindow
	}
	if threshold <= 0 {
		threshold = DefaultFailThreshold
	}
	if duration <= 0 {
		duration = DefaultBanDuration
	}
	return &FailBan{
		window:    window,
		threshold: threshold,
		duration:  duration,
		failures:  make(map[string][]time.Time),
		bans:      make(map[string]time.Time),
	}
}

// Banned reports whether the address's subnet is currently banned.
func (f *FailBan) Banned(ip string, now time.Time) bool {
	key := subnetKey(ip)

	f.mu.Lock()
	defer f.mu.Unlock()

	until, ok := f.bans[key]
	if !ok {
		return false
	}
	if !until.After(now) {
		delete(f.bans, key)
		return false
	}
	return true
}

// Fail records a credential failure and reports whether it tripped a ban.
func (f *FailBan) Fail(ip string, now time.Time) bool {
	key := subnetKey(ip)
	cutoff := now.Add(-f.window)

	f.mu.Lock()
	defer f.mu.Unlock()

	recent := f.failures[key][:0]
	for _, t := range f.failures[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	f.failures[key] = recent

	if len(recent) < f.threshold {
		return false
	}

	f.bans[key] = now.Add(f.duration)
	delete(f.failures, key)
	slog.Warn("subnet banned after repeated credential failures",
		"subnet", key,
		"failures", len(recent),
		"until", now.Add(f.duration),
	)
	return true
}

// Sweep drops expired bans and failure history outside the window.
func (f *FailBan) Sweep(now time.Time) {
	cutoff := now.Add(-f.window)

	f.mu.Lock()
	defer f.mu.Unlock()

	for key, until := range f.bans {
		if !until.After(now) {
			delete(f.bans, key)
		}
	}
	for key, times := range f.failures {
		recent := times[:0]
		for _, t := range times {
			if t.After(cutoff) {
				recent = append(recent, t)
			}
		}
		if len(recent) == 0 {
			delete(f.failures, key)
		} else {
			f.failures[key] = recent
		}
	}
}

// subnetKey masks an address to its tracking subnet. Unparseable input is
// tracked verbatim rather than ignored.
func subnetKey(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ip
	}
	addr = addr.Unmap()
	bits := 24
	if addr.Is6() {
		bits = 64
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return ip
	}
	return prefix.String()
}
