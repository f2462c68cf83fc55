// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

package server

import (
	"context"
	"crypto/md5" //nolint:gosec // the client protocol is md5-based
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/riftgate/riftgate/internal/account"
	"github.com/riftgate/riftgate/internal/auth"
	"github.com/riftgate/riftgate/internal/privilege"
	"github.com/riftgate/riftgate/internal/realm"
	"github.com/riftgate/riftgate/internal/session"
	"github.com/riftgate/riftgate/internal/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memStore is an in-memory account.Store for wiring the server without a
// backend.
type memStore struct {
	mu   sync.Mutex
	byID map[uint32]*account.Account
	next uint32
}

var _ account.Store = (*memStore)(nil)

func newMemStore(seed ...*account.Account) *memStore {
	s := &memStore{byID: make(map[uint32]*account.Account), next: account.StartID}
	for _, acc := range seed {
		cp := *acc
		s.byID[acc.ID] = &cp
		if acc.ID >= s.next {
			s.next = acc.ID + 1
		}
	}
	return s
}

func (s *memStore) LoadByHandle(_ context.Context, handle string) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.byID {
		if acc.Handle == handle {
			cp := *acc
			return &cp, nil
		}
	}
	var match *account.Account
	for _, acc := range s.byID {
		if strings.EqualFold(acc.Handle, handle) {
			if match != nil {
				return nil, account.ErrNotFound
			}
			match = acc
		}
	}
	if match == nil {
		return nil, account.ErrNotFound
	}
	cp := *match
	return &cp, nil
}

func (s *memStore) LoadByID(_ context.Context, id uint32) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.byID[id]
	if !ok {
		return nil, account.ErrNotFound
	}
	cp := *acc
	return &cp, nil
}

func (s *memStore) Save(_ context.Context, acc *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *acc
	s.byID[acc.ID] = &cp
	return nil
}

func (s *memStore) SaveLogin(ctx context.Context, acc *account.Account) error {
	return s.Save(ctx, acc)
}

func (s *memStore) Create(_ context.Context, acc *account.Account) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if strings.EqualFold(existing.Handle, acc.Handle) {
			return 0, account.ErrDuplicateHandle
		}
	}
	id := s.next
	s.next++
	cp := *acc
	cp.ID = id
	s.byID[id] = &cp
	return id, nil
}

func (s *memStore) Flush(context.Context) error { return nil }
func (s *memStore) Close(context.Context) error { return nil }

type testEnv struct {
	srv   *Server
	store *memStore
	addr  string
}

func startServer(t *testing.T, store *memStore, mutate func(*Config, *Deps)) *testEnv {
	t.Helper()

	presence := session.NewPresenceRegistry(0)
	tokens := session.NewTokenRegistry(0)
	realms := realm.NewRegistry()
	dir, err := privilege.NewDirectory(filepath.Join(t.TempDir(), "operators.txt"))
	require.NoError(t, err)

	verifier := auth.NewVerifier(store, presence, nil, dir, auth.Config{
		DigestPolicy:    auth.DigestPlain,
		DuplicatePolicy: auth.DuplicateReject,
	})

	cfg := Config{
		ListenAddr:    "127.0.0.1:0",
		DigestPolicy:  auth.DigestPlain,
		PromoteSecret: "shared-secret",
	}
	deps := Deps{
		Store:      store,
		Verifier:   verifier,
		Tokens:     tokens,
		Presence:   presence,
		Realms:     realms,
		Privileges: dir,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	srv := New(cfg, deps)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Run(ctx)
	}()
	require.Eventually(t, func() bool { return srv.Addr() != "" }, time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &testEnv{srv: srv, store: store, addr: srv.Addr()}
}

func dialTest(t *testing.T, addr string) *frameConn {
	t.Helper()
	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = nc.Close() })
	return newFrameConn(nc)
}

func recv[T wire.Message](t *testing.T, c *frameConn) T {
	t.Helper()
	msg, err := c.next(2 * time.Second)
	require.NoError(t, err)
	m, ok := msg.(T)
	require.True(t, ok, "expected %T, got %#v", m, msg)
	return m
}

func playerAccount() *account.Account {
	return &account.Account{
		ID:       2000001,
		Handle:   "alice",
		Password: "hunter2",
		Sex:      account.Female,
		Email:    "alice@example.com",
	}
}

func realmAccount() *account.Account {
	return &account.Account{
		ID:       5,
		Handle:   "realm01",
		Password: "s3cret",
		Sex:      account.Server,
	}
}

// attachTestRealm completes a handshake and consumes the initial privilege
// snapshot push.
func attachTestRealm(t *testing.T, addr string) *frameConn {
	t.Helper()
	rc := dialTest(t, addr)
	require.NoError(t, rc.send(wire.RealmHandshake{
		Handle:   "realm01",
		Password: "s3cret",
		Host:     "127.0.0.1",
		Port:     6121,
		Name:     "Prontera",
	}))
	ack := recv[wire.RealmHandshakeAck](t, rc)
	require.Zero(t, ack.Result, "handshake accepted")
	recv[wire.PrivilegeSnapshot](t, rc)
	return rc
}

func TestLoginRedeemFlow(t *testing.T) {
	env := startServer(t, newMemStore(playerAccount(), realmAccount()), nil)
	rc := attachTestRealm(t, env.addr)

	cc := dialTest(t, env.addr)
	require.NoError(t, cc.send(wire.Login{Handle: "alice", Password: "hunter2"}))

	accept := recv[wire.LoginAccept](t, cc)
	assert.Equal(t, uint32(2000001), accept.AccountID)
	require.Len(t, accept.Realms, 1)
	assert.Equal(t, "Prontera", accept.Realms[0].Name)
	assert.Equal(t, uint16(6121), accept.Realms[0].Port)

	redeem := wire.TokenRedeem{
		AccountID: accept.AccountID,
		LoginID1:  accept.LoginID1,
		LoginID2:  accept.LoginID2,
		Sex:       accept.Sex,
		IP:        "127.0.0.1",
	}
	require.NoError(t, rc.send(redeem))

	result := recv[wire.TokenRedeemResult](t, rc)
	assert.Zero(t, result.Result)
	assert.Equal(t, "alice@example.com", result.Email)

	// The token is one-shot: a replayed claim fails.
	require.NoError(t, rc.send(redeem))
	replay := recv[wire.TokenRedeemResult](t, rc)
	assert.Equal(t, uint8(1), replay.Result)
}

func TestLoginWrongPassword(t *testing.T) {
	env := startServer(t, newMemStore(playerAccount(), realmAccount()), nil)
	attachTestRealm(t, env.addr)

	cc := dialTest(t, env.addr)
	require.NoError(t, cc.send(wire.Login{Handle: "alice", Password: "wrong"}))

	refuse := recv[wire.LoginRefuse](t, cc)
	assert.Equal(t, uint8(auth.RejectIncorrectPassword), refuse.Reason)
	assert.Empty(t, refuse.BanDate)
}

func TestLoginWithNoRealmAttached(t *testing.T) {
	env := startServer(t, newMemStore(playerAccount()), nil)

	cc := dialTest(t, env.addr)
	require.NoError(t, cc.send(wire.Login{Handle: "alice", Password: "hunter2"}))

	notify := recv[wire.Notify](t, cc)
	assert.Equal(t, uint8(noRealmsNotify), notify.Reason)
	assert.Zero(t, env.srv.deps.Tokens.Outstanding(), "no token minted without a destination")
}

func TestKeyedDigestLogin(t *testing.T) {
	env := startServer(t, newMemStore(playerAccount(), realmAccount()), nil)
	attachTestRealm(t, env.addr)

	cc := dialTest(t, env.addr)
	require.NoError(t, cc.send(wire.SessionKeyRequest{}))
	reply := recv[wire.SessionKeyReply](t, cc)
	require.NotEmpty(t, reply.Key)

	digest := md5.Sum([]byte(reply.Key + "hunter2")) //nolint:gosec // protocol requirement
	require.NoError(t, cc.send(wire.LoginDigest{Handle: "alice", Digest: digest}))

	accept := recv[wire.LoginAccept](t, cc)
	assert.Equal(t, uint32(2000001), accept.AccountID)
}

func TestDigestLoginWithoutChallenge(t *testing.T) {
	env := startServer(t, newMemStore(playerAccount(), realmAccount()), nil)
	attachTestRealm(t, env.addr)

	cc := dialTest(t, env.addr)
	digest := md5.Sum([]byte("hunter2")) //nolint:gosec // protocol requirement
	require.NoError(t, cc.send(wire.LoginDigest{Handle: "alice", Digest: digest}))

	refuse := recv[wire.LoginRefuse](t, cc)
	assert.Equal(t, uint8(auth.RejectIncorrectPassword), refuse.Reason)
}

func TestRealmSlotOccupied(t *testing.T) {
	env := startServer(t, newMemStore(playerAccount(), realmAccount()), nil)
	attachTestRealm(t, env.addr)

	second := dialTest(t, env.addr)
	require.NoError(t, second.send(wire.RealmHandshake{
		Handle:   "realm01",
		Password: "s3cret",
		Host:     "127.0.0.1",
		Port:     6122,
		Name:     "Imposter",
	}))
	ack := recv[wire.RealmHandshakeAck](t, second)
	assert.Equal(t, uint8(handshakeRefused), ack.Result)
}

func TestRealmHandshakeRefusals(t *testing.T) {
	env := startServer(t, newMemStore(playerAccount(), realmAccount()), nil)

	t.Run("wrong password", func(t *testing.T) {
		rc := dialTest(t, env.addr)
		require.NoError(t, rc.send(wire.RealmHandshake{Handle: "realm01", Password: "nope"}))
		ack := recv[wire.RealmHandshakeAck](t, rc)
		assert.Equal(t, uint8(handshakeRefused), ack.Result)
	})

	t.Run("player account cannot claim a slot", func(t *testing.T) {
		rc := dialTest(t, env.addr)
		require.NoError(t, rc.send(wire.RealmHandshake{Handle: "alice", Password: "hunter2"}))
		ack := recv[wire.RealmHandshakeAck](t, rc)
		assert.Equal(t, uint8(handshakeRefused), ack.Result)
	})
}

func TestDuplicateSessionRejectedAndKicked(t *testing.T) {
	env := startServer(t, newMemStore(playerAccount(), realmAccount()), nil)
	rc := attachTestRealm(t, env.addr)

	// First login goes active on the realm.
	cc := dialTest(t, env.addr)
	require.NoError(t, cc.send(wire.Login{Handle: "alice", Password: "hunter2"}))
	accept := recv[wire.LoginAccept](t, cc)
	require.NoError(t, rc.send(wire.TokenRedeem{
		AccountID: accept.AccountID,
		LoginID1:  accept.LoginID1,
		LoginID2:  accept.LoginID2,
		Sex:       accept.Sex,
		IP:        "127.0.0.1",
	}))
	result := recv[wire.TokenRedeemResult](t, rc)
	require.Zero(t, result.Result)

	// Second login is refused and the realm is told to drop the old session.
	cc2 := dialTest(t, env.addr)
	require.NoError(t, cc2.send(wire.Login{Handle: "alice", Password: "hunter2"}))
	refuse := recv[wire.LoginRefuse](t, cc2)
	assert.Equal(t, uint8(auth.RejectAlreadyOnline), refuse.Reason)

	kick := recv[wire.KickAccount](t, rc)
	assert.Equal(t, uint32(2000001), kick.AccountID)
}

func TestPromoteRebroadcastsDirectory(t *testing.T) {
	env := startServer(t, newMemStore(playerAccount(), realmAccount()), nil)
	rc := attachTestRealm(t, env.addr)

	require.NoError(t, rc.send(wire.PromoteRequest{
		AccountID: 2000001,
		Level:     60,
		Secret:    "shared-secret",
	}))
	snap := recv[wire.PrivilegeSnapshot](t, rc)
	require.Len(t, snap.Grants, 1)
	assert.Equal(t, wire.PrivilegeGrant{AccountID: 2000001, Level: 60}, snap.Grants[0])
}

func TestPromoteWithBadSecretIgnored(t *testing.T) {
	env := startServer(t, newMemStore(playerAccount(), realmAccount()), nil)
	rc := attachTestRealm(t, env.addr)

	require.NoError(t, rc.send(wire.PromoteRequest{
		AccountID: 2000001,
		Level:     99,
		Secret:    "guessed",
	}))
	// No snapshot arrives; a subsequent population update still works, so
	// the connection survived the refused request.
	require.NoError(t, rc.send(wire.PopulationUpdate{Count: 42}))
	require.Eventually(t, func() bool {
		r, ok := env.srv.deps.Realms.Get(5)
		return ok && r.Population == 42
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBanRelayPersistsAndKicks(t *testing.T) {
	env := startServer(t, newMemStore(playerAccount(), realmAccount()), nil)
	rc := attachTestRealm(t, env.addr)

	cc := dialTest(t, env.addr)
	require.NoError(t, cc.send(wire.Login{Handle: "alice", Password: "hunter2"}))
	accept := recv[wire.LoginAccept](t, cc)
	require.NoError(t, rc.send(wire.TokenRedeem{
		AccountID: accept.AccountID,
		LoginID1:  accept.LoginID1,
		LoginID2:  accept.LoginID2,
		Sex:       accept.Sex,
		IP:        "127.0.0.1",
	}))
	require.Zero(t, recv[wire.TokenRedeemResult](t, rc).Result)

	until := time.Now().Add(time.Hour).Unix()
	require.NoError(t, rc.send(wire.BanRelay{AccountID: 2000001, Until: until}))

	kick := recv[wire.KickAccount](t, rc)
	assert.Equal(t, uint32(2000001), kick.AccountID)

	acc, err := env.store.LoadByID(context.Background(), 2000001)
	require.NoError(t, err)
	assert.Equal(t, until, acc.UnbanTime.Unix())
}

func TestRealmDisconnectFreesSlot(t *testing.T) {
	env := startServer(t, newMemStore(playerAccount(), realmAccount()), nil)

	nc, err := net.Dial("tcp", env.addr)
	require.NoError(t, err)
	rc := newFrameConn(nc)
	require.NoError(t, rc.send(wire.RealmHandshake{
		Handle: "realm01", Password: "s3cret", Host: "127.0.0.1", Port: 6121, Name: "Prontera",
	}))
	require.Zero(t, recv[wire.RealmHandshakeAck](t, rc).Result)
	recv[wire.PrivilegeSnapshot](t, rc)
	require.Equal(t, 1, env.srv.deps.Realms.Count())

	require.NoError(t, nc.Close())
	require.Eventually(t, func() bool {
		return env.srv.deps.Realms.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)

	// The slot is claimable again.
	attachTestRealm(t, env.addr)
}

func TestACLRefusesConnection(t *testing.T) {
	env := startServer(t, newMemStore(playerAccount()), func(cfg *Config, deps *Deps) {
		acl, err := NewACL(OrderDenyAllow, nil, []string{"127.0.0.*"})
		require.NoError(t, err)
		deps.ACL = acl
	})

	cc := dialTest(t, env.addr)
	require.NoError(t, cc.send(wire.Login{Handle: "alice", Password: "hunter2"}))
	_, err := cc.next(2 * time.Second)
	assert.Error(t, err, "connection closed without a reply")
}
