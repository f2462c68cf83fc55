// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/riftgate/riftgate/internal/account"
	"github.com/riftgate/riftgate/internal/auth"
	"github.com/riftgate/riftgate/internal/realm"
	"github.com/riftgate/riftgate/internal/wire"
)

// Handshake ack results. Zero accepts; clients only distinguish zero from
// nonzero but the value lands in the realm's log.
const (
	handshakeOK      = 0
	handshakeRefused = 3
)

// realmSession handles a connection after it upgraded to the realm role.
type realmSession struct {
	srv    *Server
	conn   *frameConn
	slot   uint8
	handle string
}

// attachRealm authenticates a handshake and claims the registry slot.
// A nil return means the handshake was refused and the connection should
// drop; the refusal ack has already been sent.
func (s *Server) attachRealm(ctx context.Context, c *frameConn, ip string, m wire.RealmHandshake) *realmSession {
	refuse := func(why string, args ...any) *realmSession {
		slog.Warn("realm handshake refused", append([]any{"handle", m.Handle, "ip", ip, "why", why}, args...)...)
		if s.deps.FailBan != nil {
			s.deps.FailBan.Fail(ip, s.now())
		}
		_ = c.send(wire.RealmHandshakeAck{Result: handshakeRefused}) //nolint:errcheck // refusal is best-effort
		return nil
	}

	acc, err := s.deps.Store.LoadByHandle(ctx, m.Handle)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return refuse("unknown handle")
		}
		slog.Error("realm handshake lookup failed", "handle", m.Handle, "error", err)
		_ = c.send(wire.RealmHandshakeAck{Result: handshakeRefused}) //nolint:errcheck // best-effort
		return nil
	}

	if acc.Sex != account.Server {
		return refuse("not a server-category account")
	}
	ok, err := auth.VerifyPassword(s.cfg.DigestPolicy, acc.Password, m.Password, auth.KeyedNone, "")
	if err != nil || !ok {
		return refuse("credential mismatch")
	}
	now := s.now()
	if acc.State != 0 || acc.IsBanned(now) || acc.IsExpired(now) {
		return refuse("account not in good standing")
	}
	if acc.ID > 0xff {
		// The slot is a single byte on the wire; server accounts are
		// created with low ids for exactly this reason.
		return refuse("account id does not fit a realm slot", "account_id", acc.ID)
	}

	slot := uint8(acc.ID)
	entry := realm.Realm{
		ID:          slot,
		Name:        m.Name,
		Host:        m.Host,
		Port:        m.Port,
		Maintenance: m.Maintenance,
		New:         m.New,
		ConnectedAt: now,
	}
	if err := s.deps.Realms.Register(entry); err != nil {
		return refuse("slot occupied", "slot", slot)
	}

	rs := &realmSession{srv: s, conn: c, slot: slot, handle: acc.Handle}
	s.mu.Lock()
	s.realmConns[slot] = rs
	s.mu.Unlock()

	if err := c.send(wire.RealmHandshakeAck{Result: handshakeOK}); err != nil {
		s.detachRealm(rs)
		return nil
	}

	slog.Info("realm attached",
		"slot", slot,
		"name", m.Name,
		"host", m.Host,
		"port", m.Port,
		"ip", ip,
	)

	// The realm needs the operator directory before it serves anyone.
	s.BroadcastPrivileges()
	return rs
}

// detachRealm frees the slot and moves the realm's sessions into the
// transitional state so a quick realm restart does not flush everyone.
func (s *Server) detachRealm(rs *realmSession) {
	s.mu.Lock()
	if s.realmConns[rs.slot] == rs {
		delete(s.realmConns, rs.slot)
	}
	s.mu.Unlock()

	s.deps.Realms.Deregister(rs.slot)
	s.deps.Presence.TransitionRealm(rs.slot)
	slog.Info("realm detached", "slot", rs.slot, "name", rs.handle)
}

func (rs *realmSession) run(ctx context.Context) {
	defer rs.srv.detachRealm(rs)

	for {
		msg, err := rs.conn.next(rs.srv.cfg.RealmIdleTimeout)
		if err != nil {
			if !connClosed(err) {
				slog.Warn("realm connection dropped", "slot", rs.slot, "error", err)
			}
			return
		}

		switch m := msg.(type) {
		case wire.TokenRedeem:
			rs.handleRedeem(ctx, m)

		case wire.PopulationUpdate:
			rs.srv.deps.Realms.SetPopulation(rs.slot, m.Count)

		case wire.AccountOnline:
			rs.srv.deps.Presence.MarkActive(m.AccountID, rs.slot)

		case wire.AccountOffline:
			rs.srv.deps.Presence.Clear(m.AccountID)

		case wire.PresenceSnapshot:
			rs.srv.deps.Presence.ReconcileSnapshot(rs.slot, m.AccountIDs)

		case wire.AllOffline:
			rs.srv.deps.Presence.ClearRealm(rs.slot)

		case wire.PrivilegeReload:
			if err := rs.srv.deps.Privileges.Reload(); err != nil {
				slog.Error("privilege reload failed", "slot", rs.slot, "error", err)
				continue
			}
			rs.srv.BroadcastPrivileges()

		case wire.PromoteRequest:
			rs.handlePromote(m)

		case wire.StateChangeRelay:
			rs.handleStateChange(ctx, m)

		case wire.BanRelay:
			rs.handleBan(ctx, m)

		case wire.UnbanRelay:
			rs.handleUnban(ctx, m)

		case wire.Broadcast:
			rs.srv.eachRealm(func(peer *realmSession) {
				if err := peer.conn.send(m); err != nil {
					slog.Warn("broadcast relay failed", "realm", peer.slot, "error", err)
				}
			})

		default:
			slog.Warn("unexpected frame from realm",
				"slot", rs.slot,
				"opcode", uint16(msg.Opcode()),
			)
			return
		}
	}
}

// handleRedeem resolves a token claim. On a match the session becomes
// active on this realm and the account summary goes back; otherwise the
// realm gets a bare failure.
func (rs *realmSession) handleRedeem(ctx context.Context, m wire.TokenRedeem) {
	s := rs.srv
	result := wire.TokenRedeemResult{AccountID: m.AccountID, Result: 1}

	_, ok := s.deps.Tokens.Redeem(m.AccountID, m.LoginID1, m.LoginID2, account.Category(m.Sex), m.IP, s.now())
	if !ok {
		s.countRedemption("rejected")
		slog.Warn("token redemption rejected",
			"slot", rs.slot,
			"account_id", m.AccountID,
			"ip", m.IP,
		)
		_ = rs.conn.send(result) //nolint:errcheck // dead link surfaces on the read loop
		return
	}

	acc, err := s.deps.Store.LoadByID(ctx, m.AccountID)
	if err != nil {
		s.countRedemption("load failed")
		slog.Error("redeemed account load failed", "account_id", m.AccountID, "error", err)
		_ = rs.conn.send(result) //nolint:errcheck // dead link surfaces on the read loop
		return
	}

	s.deps.Presence.MarkActive(acc.ID, rs.slot)
	s.countRedemption("accepted")

	var expiration int64
	if !acc.Expiration.IsZero() {
		expiration = acc.Expiration.Unix()
	}
	level := 0
	if s.deps.Privileges != nil {
		level = s.deps.Privileges.LevelOf(acc.ID)
	}
	result = wire.TokenRedeemResult{
		AccountID:  acc.ID,
		Result:     0,
		Sex:        uint8(acc.Sex),
		Email:      acc.Email,
		Expiration: expiration,
		Level:      uint8(level),
	}
	_ = rs.conn.send(result) //nolint:errcheck // dead link surfaces on the read loop
}

// handlePromote grants an operator level after checking the shared secret.
func (rs *realmSession) handlePromote(m wire.PromoteRequest) {
	s := rs.srv
	if s.cfg.PromoteSecret == "" ||
		subtle.ConstantTimeCompare([]byte(m.Secret), []byte(s.cfg.PromoteSecret)) != 1 {
		slog.Warn("promotion refused, bad secret",
			"slot", rs.slot,
			"account_id", m.AccountID,
		)
		return
	}
	if err := s.deps.Privileges.Promote(m.AccountID, int(m.Level)); err != nil {
		slog.Error("promotion failed",
			"slot", rs.slot,
			"account_id", m.AccountID,
			"level", m.Level,
			"error", err,
		)
		return
	}
	s.BroadcastPrivileges()
}

// handleStateChange applies an administrative state and kicks the account
// when the new state forbids play.
func (rs *realmSession) handleStateChange(ctx context.Context, m wire.StateChangeRelay) {
	s := rs.srv
	acc, err := s.deps.Store.LoadByID(ctx, m.AccountID)
	if err != nil {
		slog.Error("state change load failed", "account_id", m.AccountID, "error", err)
		return
	}
	acc.State = m.State
	if err := s.deps.Store.Save(ctx, acc); err != nil {
		slog.Error("state change save failed", "account_id", m.AccountID, "error", err)
		return
	}
	slog.Info("account state changed",
		"account_id", m.AccountID,
		"state", m.State,
		"by_realm", rs.slot,
	)
	if m.State != 0 {
		s.kickWherever(m.AccountID)
	}
}

// handleBan sets or clears a timed ban depending on whether the lift time
// is in the future.
func (rs *realmSession) handleBan(ctx context.Context, m wire.BanRelay) {
	s := rs.srv
	acc, err := s.deps.Store.LoadByID(ctx, m.AccountID)
	if err != nil {
		slog.Error("ban relay load failed", "account_id", m.AccountID, "error", err)
		return
	}

	until := time.Unix(m.Until, 0)
	banned := until.After(s.now())
	if banned {
		acc.UnbanTime = until
	} else {
		acc.UnbanTime = time.Time{}
		acc.BanReason = ""
	}
	if err := s.deps.Store.Save(ctx, acc); err != nil {
		slog.Error("ban relay save failed", "account_id", m.AccountID, "error", err)
		return
	}
	slog.Info("account ban updated",
		"account_id", m.AccountID,
		"until", until,
		"banned", banned,
		"by_realm", rs.slot,
	)
	if banned {
		s.kickWherever(m.AccountID)
	}
}

func (rs *realmSession) handleUnban(ctx context.Context, m wire.UnbanRelay) {
	s := rs.srv
	acc, err := s.deps.Store.LoadByID(ctx, m.AccountID)
	if err != nil {
		slog.Error("unban relay load failed", "account_id", m.AccountID, "error", err)
		return
	}
	if acc.UnbanTime.IsZero() {
		return
	}
	acc.UnbanTime = time.Time{}
	acc.BanReason = ""
	if err := s.deps.Store.Save(ctx, acc); err != nil {
		slog.Error("unban relay save failed", "account_id", m.AccountID, "error", err)
		return
	}
	slog.Info("account unbanned", "account_id", m.AccountID, "by_realm", rs.slot)
}

// kickWherever drops the account's session regardless of which realm holds
// it, and revokes any unredeemed token.
func (s *Server) kickWherever(accountID uint32) {
	realmID, pending, online := s.deps.Presence.Lookup(accountID)
	if online && !pending {
		s.kick(realmID, accountID)
		return
	}
	s.deps.Tokens.Revoke(accountID)
	if online {
		s.deps.Presence.Clear(accountID)
	}
}
