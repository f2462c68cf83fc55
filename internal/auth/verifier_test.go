// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftgate/riftgate/internal/account"
)

// memStore is a minimal in-memory account.Store for verifier tests.
type memStore struct {
	accounts map[string]*account.Account
	nextID   uint32
	saves    int
	logins   int
}

func newMemStore(accs ...*account.Account) *memStore {
	s := &memStore{accounts: make(map[string]*account.Account), nextID: account.StartID}
	for _, a := range accs {
		s.accounts[a.Handle] = a
		if a.ID >= s.nextID {
			s.nextID = a.ID + 1
		}
	}
	return s
}

func (s *memStore) LoadByHandle(_ context.Context, handle string) (*account.Account, error) {
	if acc, ok := s.accounts[handle]; ok {
		dup := *acc
		return &dup, nil
	}
	return nil, oops.Wrap(account.ErrNotFound)
}

func (s *memStore) LoadByID(_ context.Context, id uint32) (*account.Account, error) {
	for _, acc := range s.accounts {
		if acc.ID == id {
			dup := *acc
			return &dup, nil
		}
	}
	return nil, oops.Wrap(account.ErrNotFound)
}

func (s *memStore) Save(_ context.Context, acc *account.Account) error {
	s.saves++
	dup := *acc
	s.accounts[acc.Handle] = &dup
	return nil
}

func (s *memStore) SaveLogin(_ context.Context, acc *account.Account) error {
	s.logins++
	dup := *acc
	s.accounts[acc.Handle] = &dup
	return nil
}

func (s *memStore) Create(_ context.Context, acc *account.Account) (uint32, error) {
	if _, ok := s.accounts[acc.Handle]; ok {
		return 0, oops.Wrap(account.ErrDuplicateHandle)
	}
	id := s.nextID
	s.nextID++
	dup := *acc
	dup.ID = id
	s.accounts[acc.Handle] = &dup
	return id, nil
}

func (s *memStore) Flush(context.Context) error { return nil }
func (s *memStore) Close(context.Context) error { return nil }

type fakePresence struct {
	realmID uint8
	pending bool
	online  bool
}

func (p *fakePresence) Lookup(uint32) (uint8, bool, bool) {
	return p.realmID, p.pending, p.online
}

type fakeLimiter struct{ allow bool }

func (l *fakeLimiter) Allow(string, time.Time) bool { return l.allow }

type fakeLevels map[uint32]int

func (f fakeLevels) LevelOf(id uint32) int { return f[id] }

func activeAccount(handle, password string) *account.Account {
	return &account.Account{
		ID:       2000001,
		Handle:   handle,
		Password: password,
		Sex:      account.Male,
		Email:    account.DefaultEmail,
	}
}

func defaultConfig() Config {
	return Config{
		DigestPolicy:      DigestPlain,
		DuplicatePolicy:   DuplicateReject,
		AllowRegistration: true,
	}
}

func requireReject(t *testing.T, err error, want RejectReason) *RejectError {
	t.Helper()
	var rej *RejectError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, want, rej.Reason)
	return rej
}

func TestVerifier_Success(t *testing.T) {
	store := newMemStore(activeAccount("alice", "pw"))
	v := NewVerifier(store, &fakePresence{}, nil, nil, defaultConfig())

	dec, err := v.Verify(context.Background(), Request{Handle: "alice", Credential: "pw", RemoteIP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, uint32(2000001), dec.Account.ID)
	assert.False(t, dec.Created)
	assert.False(t, dec.KickExisting)

	assert.Equal(t, 1, store.logins, "login bookkeeping must be saved")
	assert.Equal(t, uint32(1), store.accounts["alice"].LoginCount)
	assert.Equal(t, "10.0.0.1", store.accounts["alice"].LastIP)
}

func TestVerifier_RejectTaxonomy(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name   string
		mutate func(*account.Account)
		cfg    func(*Config)
		req    func(*Request)
		want   RejectReason
	}{
		{
			name: "unknown handle",
			req:  func(r *Request) { r.Handle = "nobody" },
			want: RejectUnregistered,
		},
		{
			name: "wrong password",
			req:  func(r *Request) { r.Credential = "wrong" },
			want: RejectIncorrectPassword,
		},
		{
			name:   "expired account",
			mutate: func(a *account.Account) { a.Expiration = now.Add(-time.Hour) },
			want:   RejectExpired,
		},
		{
			name:   "state maps to reason minus one",
			mutate: func(a *account.Account) { a.State = 5 },
			want:   RejectBlocked,
		},
		{
			name:   "erased state",
			mutate: func(a *account.Account) { a.State = 100 },
			want:   RejectErased,
		},
		{
			name: "older build tag",
			cfg:  func(c *Config) { c.RequiredClientBuild = 20 },
			req:  func(r *Request) { r.ClientVersion = 10 },
			want: RejectStaleClient,
		},
		{
			name: "newer mismatched build tag",
			cfg:  func(c *Config) { c.RequiredClientBuild = 20 },
			req:  func(r *Request) { r.ClientVersion = 99 },
			want: RejectStaleClient,
		},
		{
			name: "below privilege floor",
			cfg:  func(c *Config) { c.MinPrivilegeLevel = 10 },
			want: RejectRefused,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := activeAccount("alice", "pw")
			if tt.mutate != nil {
				tt.mutate(acc)
			}
			cfg := defaultConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			req := Request{Handle: "alice", Credential: "pw"}
			if tt.req != nil {
				tt.req(&req)
			}

			v := NewVerifier(newMemStore(acc), &fakePresence{}, nil, fakeLevels{}, cfg)
			_, err := v.Verify(context.Background(), req)
			requireReject(t, err, tt.want)
		})
	}
}

func TestVerifier_Ban(t *testing.T) {
	now := time.Now()

	t.Run("active ban carries lift time", func(t *testing.T) {
		acc := activeAccount("alice", "pw")
		acc.UnbanTime = now.Add(time.Hour)
		v := NewVerifier(newMemStore(acc), &fakePresence{}, nil, nil, defaultConfig())

		_, err := v.Verify(context.Background(), Request{Handle: "alice", Credential: "pw"})
		rej := requireReject(t, err, RejectBannedUntil)
		assert.Equal(t, acc.UnbanTime.Format(BanDateLayout), rej.BanDate())
		assert.Len(t, rej.BanDate(), 19)
	})

	t.Run("lapsed ban is cleared and login proceeds", func(t *testing.T) {
		acc := activeAccount("alice", "pw")
		acc.UnbanTime = now.Add(-time.Hour)
		acc.BanReason = "flooding"
		store := newMemStore(acc)
		v := NewVerifier(store, &fakePresence{}, nil, nil, defaultConfig())

		_, err := v.Verify(context.Background(), Request{Handle: "alice", Credential: "pw"})
		require.NoError(t, err)
		assert.True(t, store.accounts["alice"].UnbanTime.IsZero())
		assert.Empty(t, store.accounts["alice"].BanReason)
		assert.Equal(t, 1, store.saves, "clearing the ban must persist")
	})
}

func TestVerifier_DuplicateSession(t *testing.T) {
	t.Run("active elsewhere under reject policy", func(t *testing.T) {
		v := NewVerifier(newMemStore(activeAccount("alice", "pw")),
			&fakePresence{realmID: 3, online: true}, nil, nil, defaultConfig())

		dec, err := v.Verify(context.Background(), Request{Handle: "alice", Credential: "pw"})
		requireReject(t, err, RejectAlreadyOnline)
		require.NotNil(t, dec, "kick target must be reported even on refusal")
		assert.True(t, dec.KickExisting)
		assert.Equal(t, uint8(3), dec.KickRealm)
	})

	t.Run("active elsewhere under preempt policy", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.DuplicatePolicy = DuplicatePreempt
		v := NewVerifier(newMemStore(activeAccount("alice", "pw")),
			&fakePresence{realmID: 3, online: true}, nil, nil, cfg)

		dec, err := v.Verify(context.Background(), Request{Handle: "alice", Credential: "pw"})
		require.NoError(t, err)
		assert.True(t, dec.KickExisting)
		assert.Equal(t, uint8(3), dec.KickRealm)
	})

	t.Run("pending session is replaced silently", func(t *testing.T) {
		v := NewVerifier(newMemStore(activeAccount("alice", "pw")),
			&fakePresence{pending: true, online: true}, nil, nil, defaultConfig())

		dec, err := v.Verify(context.Background(), Request{Handle: "alice", Credential: "pw"})
		require.NoError(t, err)
		assert.False(t, dec.KickExisting)
	})
}

func TestVerifier_Registration(t *testing.T) {
	t.Run("suffix creates the account", func(t *testing.T) {
		store := newMemStore()
		v := NewVerifier(store, &fakePresence{}, &fakeLimiter{allow: true}, nil, defaultConfig())

		dec, err := v.Verify(context.Background(), Request{Handle: "newbie_F", Credential: "pw", RemoteIP: "10.0.0.2"})
		require.NoError(t, err)
		assert.True(t, dec.Created)
		assert.Equal(t, "newbie", dec.Account.Handle)
		assert.Equal(t, account.Female, dec.Account.Sex)
		assert.Equal(t, account.StartID, dec.Account.ID)
		assert.Equal(t, account.DefaultEmail, store.accounts["newbie"].Email)
	})

	t.Run("existing handle falls through to normal login", func(t *testing.T) {
		store := newMemStore(activeAccount("alice", "pw"))
		v := NewVerifier(store, &fakePresence{}, &fakeLimiter{allow: true}, nil, defaultConfig())

		dec, err := v.Verify(context.Background(), Request{Handle: "alice_M", Credential: "pw"})
		require.NoError(t, err)
		assert.False(t, dec.Created)
		assert.Equal(t, uint32(2000001), dec.Account.ID)

		_, err = v.Verify(context.Background(), Request{Handle: "alice_M", Credential: "wrong"})
		requireReject(t, err, RejectIncorrectPassword)
	})

	t.Run("limiter denies creation", func(t *testing.T) {
		v := NewVerifier(newMemStore(), &fakePresence{}, &fakeLimiter{allow: false}, nil, defaultConfig())

		_, err := v.Verify(context.Background(), Request{Handle: "newbie_M", Credential: "pw"})
		requireReject(t, err, RejectUnregistered)
	})

	t.Run("registration disabled", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.AllowRegistration = false
		v := NewVerifier(newMemStore(), &fakePresence{}, &fakeLimiter{allow: true}, nil, cfg)

		_, err := v.Verify(context.Background(), Request{Handle: "newbie_M", Credential: "pw"})
		requireReject(t, err, RejectUnregistered)
	})

	t.Run("empty password cannot register", func(t *testing.T) {
		store := newMemStore()
		v := NewVerifier(store, &fakePresence{}, &fakeLimiter{allow: true}, nil, defaultConfig())

		_, err := v.Verify(context.Background(), Request{Handle: "newbie_M", Credential: ""})
		requireReject(t, err, RejectUnregistered)
		assert.NotContains(t, store.accounts, "newbie", "no account may be created")
		assert.NotContains(t, store.accounts, "newbie_M")
	})

	t.Run("base handle too short", func(t *testing.T) {
		v := NewVerifier(newMemStore(), &fakePresence{}, &fakeLimiter{allow: true}, nil, defaultConfig())

		_, err := v.Verify(context.Background(), Request{Handle: "ab_M", Credential: "pw"})
		requireReject(t, err, RejectUnregistered)
	})
}

func TestVerifier_BuildGate(t *testing.T) {
	cfg := defaultConfig()
	cfg.RequiredClientBuild = 20
	v := NewVerifier(newMemStore(activeAccount("alice", "pw")), &fakePresence{}, nil, nil, cfg)

	_, err := v.Verify(context.Background(), Request{Handle: "alice", Credential: "pw", ClientVersion: 20})
	require.NoError(t, err, "matching build admitted")
}

type fakeBlocklist map[string]bool

func (f fakeBlocklist) Blocked(ip string) bool { return f[ip] }

func TestVerifier_Blocklist(t *testing.T) {
	cfg := defaultConfig()
	cfg.Blocklist = fakeBlocklist{"203.0.113.9": true}
	store := newMemStore(activeAccount("alice", "pw"))
	v := NewVerifier(store, &fakePresence{}, nil, nil, cfg)

	_, err := v.Verify(context.Background(), Request{Handle: "alice", Credential: "pw", RemoteIP: "203.0.113.9"})
	requireReject(t, err, RejectRefused)
	assert.Equal(t, 0, store.logins, "blocklisted attempt must not touch the account")

	_, err = v.Verify(context.Background(), Request{Handle: "alice", Credential: "pw", RemoteIP: "203.0.113.10"})
	require.NoError(t, err)
}

func TestVerifier_BlocklistBeforeBuildGate(t *testing.T) {
	cfg := defaultConfig()
	cfg.Blocklist = fakeBlocklist{"203.0.113.9": true}
	cfg.RequiredClientBuild = 20
	v := NewVerifier(newMemStore(activeAccount("alice", "pw")), &fakePresence{}, nil, nil, cfg)

	_, err := v.Verify(context.Background(), Request{
		Handle: "alice", Credential: "pw", RemoteIP: "203.0.113.9", ClientVersion: 10,
	})
	requireReject(t, err, RejectRefused)
}

func TestVerifier_RegistrationStartLimited(t *testing.T) {
	cfg := defaultConfig()
	cfg.StartLimitedDays = 30
	store := newMemStore()
	v := NewVerifier(store, &fakePresence{}, &fakeLimiter{allow: true}, nil, cfg)

	before := time.Now()
	dec, err := v.Verify(context.Background(), Request{Handle: "newbie_M", Credential: "pw"})
	require.NoError(t, err)
	require.True(t, dec.Created)

	exp := store.accounts["newbie"].Expiration
	require.False(t, exp.IsZero())
	assert.WithinDuration(t, before.AddDate(0, 0, 30), exp, time.Minute)
}

func TestVerifier_PrivilegeFloorAdmits(t *testing.T) {
	cfg := defaultConfig()
	cfg.MinPrivilegeLevel = 10
	v := NewVerifier(newMemStore(activeAccount("alice", "pw")), &fakePresence{}, nil,
		fakeLevels{2000001: 60}, cfg)

	_, err := v.Verify(context.Background(), Request{Handle: "alice", Credential: "pw"})
	require.NoError(t, err)
}
