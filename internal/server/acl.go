// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

// Package server runs the identity server's TCP listener and routes decoded
// frames to per-role connection handlers.
package server

import (
	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// ACLOrder decides which list wins when an address matches both.
type ACLOrder string

// ACL evaluation orders.
const (
	// OrderDenyAllow applies the deny list first; an allow match overrides.
	OrderDenyAllow ACLOrder = "deny,allow"
	// OrderAllowDeny applies the allow list first; a deny match overrides.
	OrderAllowDeny ACLOrder = "allow,deny"
)

// ACL filters client addresses with glob patterns, so entries like
// "10.0.*" or "192.168.1.?" work the way operators expect.
type ACL struct {
	order ACLOrder
	allow []glob.Glob
	deny  []glob.Glob
}

// NewACL compiles the pattern lists. An empty allow list admits everyone
// not denied.
func NewACL(order ACLOrder, allow, deny []string) (*ACL, error) {
	switch order {
	case OrderDenyAllow, OrderAllowDeny, "":
	default:
		return nil, oops.Code("ACL_INVALID_ORDER").
			With("order", string(order)).
			Errorf("unknown acl order %q", order)
	}
	if order == "" {
		order = OrderDenyAllow
	}

	compile := func(patterns []string) ([]glob.Glob, error) {
		globs := make([]glob.Glob, 0, len(patterns))
		for _, p := range patterns {
			g, err := glob.Compile(p, '.')
			if err != nil {
				return nil, oops.Code("ACL_INVALID_PATTERN").
					With("pattern", p).
					Wrap(err)
			}
			globs = append(globs, g)
		}
		return globs, nil
	}

	allowGlobs, err := compile(allow)
	if err != nil {
		return nil, err
	}
	denyGlobs, err := compile(deny)
	if err != nil {
		return nil, err
	}
	return &ACL{order: order, allow: allowGlobs, deny: denyGlobs}, nil
}

// Permitted reports whether the address may connect.
func (a *ACL) Permitted(ip string) bool {
	allowed := matchAny(a.allow, ip)
	denied := matchAny(a.deny, ip)

	switch a.order {
	case OrderAllowDeny:
		if denied {
			return false
		}
		return allowed || len(a.allow) == 0
	default: // OrderDenyAllow
		if allowed {
			return true
		}
		if denied {
			return false
		}
		return len(a.allow) == 0
	}
}

func matchAny(globs []glob.Glob, ip string) bool {
	for _, g := range globs {
		if g.Match(ip) {
			return true
		}
	}
	return false
}
