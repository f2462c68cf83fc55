// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/riftgate/riftgate/internal/account"
	"github.com/riftgate/riftgate/internal/auth"
	"github.com/riftgate/riftgate/internal/guard"
	"github.com/riftgate/riftgate/internal/observability"
	"github.com/riftgate/riftgate/internal/privilege"
	"github.com/riftgate/riftgate/internal/realm"
	"github.com/riftgate/riftgate/internal/session"
	"github.com/riftgate/riftgate/internal/wire"
)

// Timing defaults for the maintenance loops.
const (
	DefaultClientIdleTimeout = 2 * time.Minute
	DefaultRealmIdleTimeout  = 5 * time.Minute
	DefaultSweepInterval     = 10 * time.Second
	DefaultPingInterval      = 30 * time.Second
	DefaultFlushInterval     = 5 * time.Minute
)

// Config carries the listener's own knobs. Policy for the login pipeline
// lives in auth.Config; this is the transport side.
type Config struct {
	// ListenAddr is the TCP address clients and realms connect to.
	ListenAddr string

	// DigestPolicy is how realm handshake credentials are verified. It
	// matches the store's password material, the same as client logins.
	DigestPolicy auth.DigestPolicy

	// PromoteSecret authorizes operator promotions relayed by realms.
	// Empty disables promotion entirely.
	PromoteSecret string

	// ClientIdleTimeout drops client connections with no traffic.
	ClientIdleTimeout time.Duration

	// RealmIdleTimeout drops realm connections with no traffic. Realms
	// report population periodically, so a quiet link is a dead one.
	RealmIdleTimeout time.Duration

	// SweepInterval paces token, presence, and guard expiry.
	SweepInterval time.Duration

	// PingInterval paces the keepalive probe sent to attached realms.
	PingInterval time.Duration

	// FlushInterval paces forcing deferred account writes to disk.
	FlushInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ClientIdleTimeout <= 0 {
		c.ClientIdleTimeout = DefaultClientIdleTimeout
	}
	if c.RealmIdleTimeout <= 0 {
		c.RealmIdleTimeout = DefaultRealmIdleTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	return c
}

// Deps are the collaborators the server routes frames to. ACL, FailBan,
// Registration, and Metrics may be nil to disable the concern.
type Deps struct {
	Store        account.Store
	Verifier     *auth.Verifier
	Tokens       *session.TokenRegistry
	Presence     *session.PresenceRegistry
	Realms       *realm.Registry
	Privileges   *privilege.Directory
	ACL          *ACL
	FailBan      *guard.FailBan
	Registration *guard.RegistrationGuard
	Metrics      *observability.Metrics
}

// Server accepts TCP connections and routes decoded frames. Every
// connection starts in the client role; a realm handshake upgrades it.
type Server struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	mu         sync.Mutex
	listener   net.Listener
	realmConns map[uint8]*realmSession

	wg sync.WaitGroup
}

// New wires a server. Run must be called to start accepting.
func New(cfg Config, deps Deps) *Server {
	return &Server{
		cfg:        cfg.withDefaults(),
		deps:       deps,
		now:        time.Now,
		realmConns: make(map[uint8]*realmSession),
	}
}

// Run listens and serves until ctx is cancelled. It blocks; the caller
// owns the goroutine.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return oops.Code("SERVER_LISTEN_FAILED").
			With("addr", s.cfg.ListenAddr).
			Wrap(err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	// Closing the listener is what breaks the Accept loop on cancel.
	go func() {
		<-ctx.Done()
		_ = ln.Close() //nolint:errcheck // shutdown path
	}()

	s.wg.Add(1)
	go s.maintain(ctx)

	slog.Info("identity server listening", "addr", ln.Addr().String())

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Error("accept failed", "error", err)
			break
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, nc)
		}()
	}

	s.wg.Wait()
	slog.Info("identity server stopped")
	return nil
}

// Addr returns the bound listen address, empty before Run.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Ready reports whether the listener is accepting, for the readiness probe.
func (s *Server) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener != nil
}

func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	c := newFrameConn(nc)
	defer c.close()

	ip := c.remoteIP()
	if s.deps.ACL != nil && !s.deps.ACL.Permitted(ip) {
		slog.Info("connection refused by acl", "ip", ip)
		return
	}
	if s.deps.FailBan != nil && s.deps.FailBan.Banned(ip, s.now()) {
		slog.Info("connection refused, subnet banned", "ip", ip)
		return
	}

	cs := &clientSession{
		srv:  s,
		conn: c,
		ip:   ip,
		log:  slog.With("conn", ulid.Make().String(), "ip", ip),
	}
	cs.run(ctx)
}

// realmConn returns the live connection holding a slot, if any.
func (s *Server) realmConn(slot uint8) *realmSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realmConns[slot]
}

// kick orders the realm holding the slot to drop the account and revokes
// any outstanding token so the stale session cannot be re-claimed.
func (s *Server) kick(slot uint8, accountID uint32) {
	s.deps.Tokens.Revoke(accountID)

	rs := s.realmConn(slot)
	if rs == nil {
		return
	}
	if err := rs.conn.send(wire.KickAccount{AccountID: accountID}); err != nil {
		slog.Warn("kick delivery failed",
			"realm", slot,
			"account_id", accountID,
			"error", err,
		)
	}
}

// eachRealm runs fn against every attached realm connection.
func (s *Server) eachRealm(fn func(*realmSession)) {
	s.mu.Lock()
	conns := make([]*realmSession, 0, len(s.realmConns))
	for _, rs := range s.realmConns {
		conns = append(conns, rs)
	}
	s.mu.Unlock()

	for _, rs := range conns {
		fn(rs)
	}
}

// BroadcastPrivileges pushes the full operator directory to every realm.
func (s *Server) BroadcastPrivileges() {
	if s.deps.Privileges == nil {
		return
	}
	snap := s.deps.Privileges.Snapshot()
	msg := wire.PrivilegeSnapshot{Grants: make([]wire.PrivilegeGrant, 0, len(snap))}
	for id, level := range snap {
		msg.Grants = append(msg.Grants, wire.PrivilegeGrant{AccountID: id, Level: uint8(level)})
	}

	s.eachRealm(func(rs *realmSession) {
		if err := rs.conn.send(msg); err != nil {
			slog.Warn("privilege snapshot delivery failed", "realm", rs.slot, "error", err)
		}
	})
}

// maintain runs the periodic sweeps, realm pings, and store flushes.
func (s *Server) maintain(ctx context.Context) {
	defer s.wg.Done()

	sweep := time.NewTicker(s.cfg.SweepInterval)
	defer sweep.Stop()
	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()
	flush := time.NewTicker(s.cfg.FlushInterval)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			s.sweepOnce()
		case <-ping.C:
			s.eachRealm(func(rs *realmSession) {
				_ = rs.conn.send(wire.Ping{}) //nolint:errcheck // dead link surfaces on its read loop
			})
		case <-flush.C:
			if err := s.deps.Store.Flush(ctx); err != nil {
				slog.Error("periodic account flush failed", "error", err)
			}
		}
	}
}

func (s *Server) sweepOnce() {
	now := s.now()

	// An expired token means the client never reached a realm; its pending
	// presence claim goes with it. Active sessions are untouched.
	for _, id := range s.deps.Tokens.Sweep(now) {
		if _, pending, online := s.deps.Presence.Lookup(id); online && pending {
			s.deps.Presence.Clear(id)
		}
	}
	s.deps.Presence.Sweep(now)

	if s.deps.FailBan != nil {
		s.deps.FailBan.Sweep(now)
	}
	if s.deps.Registration != nil {
		s.deps.Registration.Sweep(now)
	}

	if m := s.deps.Metrics; m != nil {
		m.OnlineSessions.Set(float64(s.deps.Presence.Online()))
		m.TokensOutstanding.Set(float64(s.deps.Tokens.Outstanding()))
		m.RealmsAttached.Set(float64(s.deps.Realms.Count()))
	}
}

func (s *Server) countLogin(outcome string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.LoginsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Server) countRedemption(outcome string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RedemptionsTotal.WithLabelValues(outcome).Inc()
	}
}

// connClosed reports whether a read-loop error is ordinary disconnection
// rather than a protocol violation worth logging loudly.
func connClosed(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled)
}
