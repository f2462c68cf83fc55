// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

package guard

import (
	"net/netip"
	"strings"

	"github.com/samber/oops"
)

// Blocklist is a static set of addresses and prefixes with a bad
// reputation. Unlike FailBan it never changes at runtime; it answers the
// reputation question the login pipeline asks before touching the store.
type Blocklist struct {
	prefixes []netip.Prefix
}

// NewBlocklist parses entries as single addresses or CIDR prefixes.
func NewBlocklist(entries []string) (*Blocklist, error) {
	b := &Blocklist{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, oops.Code("GUARD_INVALID_BLOCKLIST").With("entry", entry).Wrap(err)
			}
			b.prefixes = append(b.prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, oops.Code("GUARD_INVALID_BLOCKLIST").With("entry", entry).Wrap(err)
		}
		b.prefixes = append(b.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return b, nil
}

// Blocked reports whether the address falls inside any entry. Unparseable
// addresses are admitted; the wire layer already rejected anything that is
// not a real peer address.
func (b *Blocklist) Blocked(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range b.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
