// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"

	"github.com/riftgate/riftgate/internal/auth"
	"github.com/riftgate/riftgate/internal/wire"
	"github.com/riftgate/riftgate/pkg/errutil"
)

// noRealmsNotify is the disconnect code shown when no realm is attached.
const noRealmsNotify = 1

// clientSession handles a connection in the game-client role. A realm
// handshake frame upgrades the connection to the realm role; everything
// else stays here.
type clientSession struct {
	srv  *Server
	conn *frameConn
	ip   string
	log  *slog.Logger

	// sessionKey is the challenge issued to this connection for keyed
	// digest logins. Empty until the client asks for one.
	sessionKey string
}

func (cs *clientSession) run(ctx context.Context) {
	for {
		msg, err := cs.conn.next(cs.srv.cfg.ClientIdleTimeout)
		if err != nil {
			if !connClosed(err) {
				cs.log.Warn("client connection dropped", "error", err)
			}
			return
		}

		switch m := msg.(type) {
		case wire.SessionKeyRequest:
			cs.sessionKey = newSessionKey()
			if err := cs.conn.send(wire.SessionKeyReply{Key: cs.sessionKey}); err != nil {
				return
			}

		case wire.Login:
			cs.handleLogin(ctx, auth.Request{
				Handle:        m.Handle,
				Credential:    m.Password,
				ClientVersion: m.ClientVersion,
				RemoteIP:      cs.ip,
				KeyedMode:     auth.KeyedNone,
			})

		case wire.LoginDigest:
			if cs.sessionKey == "" {
				// A digest without a prior challenge can never verify.
				cs.log.Info("digest login without session key", "handle", m.Handle)
				s := cs.srv
				s.countLogin(auth.RejectIncorrectPassword.String())
				_ = cs.conn.send(wire.LoginRefuse{Reason: uint8(auth.RejectIncorrectPassword)}) //nolint:errcheck // best-effort
				continue
			}
			cs.handleLogin(ctx, auth.Request{
				Handle:        m.Handle,
				Credential:    hex.EncodeToString(m.Digest[:]),
				ClientVersion: m.ClientVersion,
				RemoteIP:      cs.ip,
				KeyedMode:     auth.KeyedEither,
				SessionKey:    cs.sessionKey,
			})

		case wire.KeepaliveName, wire.KeepaliveDigest:
			// Traffic for its own sake; nothing to do.

		case wire.RealmHandshake:
			rs := cs.srv.attachRealm(ctx, cs.conn, cs.ip, m)
			if rs != nil {
				rs.run(ctx)
			}
			return

		default:
			cs.log.Warn("unexpected frame from client", "opcode", uint16(msg.Opcode()))
			return
		}
	}
}

// handleLogin runs the verification pipeline and answers with an accept
// carrying the realm roster or a refuse carrying the reason.
func (cs *clientSession) handleLogin(ctx context.Context, req auth.Request) {
	s := cs.srv

	decision, err := s.deps.Verifier.Verify(ctx, req)

	// A duplicate-session refusal still tells the stale realm to drop the
	// old session, whichever policy is in force.
	if decision != nil && decision.KickExisting {
		s.kick(decision.KickRealm, decision.Account.ID)
	}

	if err != nil {
		var rej *auth.RejectError
		if !errors.As(err, &rej) {
			errutil.LogError(cs.log.With("handle", req.Handle), "login pipeline failed", err)
			rej = &auth.RejectError{Reason: auth.RejectRefused}
		}

		s.countLogin(rej.Reason.String())
		if s.deps.FailBan != nil &&
			(rej.Reason == auth.RejectUnregistered || rej.Reason == auth.RejectIncorrectPassword) {
			s.deps.FailBan.Fail(cs.ip, s.now())
		}
		cs.log.Info("login refused", "handle", req.Handle, "reason", rej.Reason.String())
		_ = cs.conn.send(wire.LoginRefuse{ //nolint:errcheck // refusal is best-effort
			Reason:  uint8(rej.Reason),
			BanDate: rej.BanDate(),
		})
		return
	}

	acc := decision.Account

	roster := s.deps.Realms.List()
	if len(roster) == 0 {
		// Authenticated but nowhere to go. No token is minted so nothing
		// dangles.
		s.countLogin("no realms")
		cs.log.Warn("login accepted but no realm attached", "handle", acc.Handle)
		_ = cs.conn.send(wire.Notify{Reason: noRealmsNotify}) //nolint:errcheck // best-effort
		return
	}

	tok := s.deps.Tokens.Issue(acc, req.ClientVersion, cs.ip, s.now())
	s.deps.Presence.MarkPending(acc.ID)
	s.countLogin("accepted")

	accept := wire.LoginAccept{
		LoginID1:  tok.LoginID1,
		AccountID: acc.ID,
		LoginID2:  tok.LoginID2,
		LastIP:    acc.LastIP,
		LastLogin: acc.LastLogin.Format(auth.BanDateLayout),
		Sex:       uint8(acc.Sex),
	}
	for _, r := range roster {
		population := r.Population
		if population > 0xffff {
			population = 0xffff
		}
		accept.Realms = append(accept.Realms, wire.RealmEntry{
			Host:        r.Host,
			Port:        r.Port,
			Name:        r.Name,
			Population:  uint16(population),
			Maintenance: r.Maintenance,
			New:         r.New,
		})
	}

	cs.log.Info("login accepted",
		"account_id", acc.ID,
		"handle", acc.Handle,
		"created", decision.Created,
	)
	if err := cs.conn.send(accept); err != nil {
		// The client is gone; the token will age out on its own.
		cs.log.Warn("accept delivery failed", "account_id", acc.ID, "error", err)
	}
}

// newSessionKey mints the per-connection challenge for keyed logins.
func newSessionKey() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf[:])
}
