// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

// Package flatfile implements the account store over a single tab-delimited
// text file, the interchange format shared with external tooling.
package flatfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/samber/oops"

	"github.com/riftgate/riftgate/internal/account"
)

// DefaultFlushEveryLogins is how many deferred login writes may accumulate
// before a durable flush is forced.
const DefaultFlushEveryLogins = 10

// Store keeps every account in memory and rewrites the backing file
// atomically on each durable save. Login bookkeeping writes are deferred for
// a bounded number of calls.
type Store struct {
	mu         sync.Mutex
	path       string
	byID       map[uint32]*account.Account
	byHandle   map[string]uint32
	nextID     uint32
	pending    int
	flushEvery int
}

// Option configures a Store.
type Option func(*Store)

// WithFlushEveryLogins overrides how many deferred login writes are allowed
// between durable flushes. Values below 1 flush on every login.
func WithFlushEveryLogins(n int) Option {
	return func(s *Store) { s.flushEvery = n }
}

// Open loads the account file. A missing file is not an error: the store
// starts empty and the file is created on first flush. Malformed lines and
// duplicate id/handle records are skipped with a log line, never aborting
// the load.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:       path,
		byID:       make(map[uint32]*account.Account),
		byHandle:   make(map[string]uint32),
		nextID:     account.StartID,
		flushEvery: DefaultFlushEveryLogins,
	}
	for _, opt := range opts {
		opt(s)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Info("account file not found, starting empty", "path", path)
			return s, nil
		}
		return nil, oops.Code("ACCOUNT_STORE_OPEN_FAILED").
			With("path", path).
			Wrap(err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	lineNo := 0
	loaded := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		if next, ok := account.ParseNextID(line); ok {
			if next > s.nextID {
				s.nextID = next
			}
			continue
		}

		acc, err := account.UnmarshalLine(line)
		if err != nil {
			slog.Warn("skipping malformed account record",
				"path", path,
				"line", lineNo,
				"error", err,
			)
			continue
		}
		if _, exists := s.byID[acc.ID]; exists {
			slog.Warn("skipping account with duplicate id",
				"path", path,
				"line", lineNo,
				"account_id", acc.ID,
			)
			continue
		}
		if _, exists := s.byHandle[acc.Handle]; exists {
			slog.Warn("skipping account with duplicate handle",
				"path", path,
				"line", lineNo,
				"handle", acc.Handle,
			)
			continue
		}
		if other, ambiguous := s.caseInsensitiveTaken(acc.Handle); ambiguous {
			slog.Warn("account handle collides case-insensitively with an existing record",
				"path", path,
				"line", lineNo,
				"handle", acc.Handle,
				"existing", other,
			)
		}

		s.byID[acc.ID] = acc
		s.byHandle[acc.Handle] = acc.ID
		if acc.ID >= s.nextID {
			s.nextID = acc.ID + 1
		}
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_STORE_READ_FAILED").
			With("path", path).
			Wrap(err)
	}

	slog.Info("account file loaded",
		"path", path,
		"accounts", loaded,
		"next_id", s.nextID,
	)
	return s, nil
}

// LoadByHandle resolves a handle: exact match first, then a single-candidate
// case-insensitive fallback. Ambiguous folds report ErrNotFound.
func (s *Store) LoadByHandle(_ context.Context, handle string) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byHandle[handle]; ok {
		return copyAccount(s.byID[id]), nil
	}

	var found *account.Account
	matches := 0
	for h, id := range s.byHandle {
		if strings.EqualFold(h, handle) {
			found = s.byID[id]
			matches++
		}
	}
	if matches != 1 {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("handle", handle).
			With("case_insensitive_matches", matches).
			Wrap(account.ErrNotFound)
	}
	return copyAccount(found), nil
}

// LoadByID retrieves an account by id.
func (s *Store) LoadByID(_ context.Context, id uint32) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.byID[id]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("account_id", id).
			Wrap(account.ErrNotFound)
	}
	return copyAccount(acc), nil
}

// Save persists an account durably before returning.
func (s *Store) Save(_ context.Context, acc *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.put(acc); err != nil {
		return err
	}
	s.pending = 0
	return s.writeFileLocked()
}

// SaveLogin persists login bookkeeping, deferring the durable write until
// flushEvery logins have accumulated.
func (s *Store) SaveLogin(_ context.Context, acc *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.put(acc); err != nil {
		return err
	}
	s.pending++
	if s.pending >= s.flushEvery {
		s.pending = 0
		return s.writeFileLocked()
	}
	return nil
}

// Create assigns the next id and stores a new account durably.
func (s *Store) Create(_ context.Context, acc *account.Account) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byHandle[acc.Handle]; exists {
		return 0, oops.Code("ACCOUNT_DUPLICATE_HANDLE").
			With("handle", acc.Handle).
			Wrap(account.ErrDuplicateHandle)
	}
	if s.nextID > account.EndID {
		return 0, oops.Code("ACCOUNT_ID_EXHAUSTED").
			Wrap(account.ErrIDExhausted)
	}

	stored := copyAccount(acc)
	stored.ID = s.nextID
	s.nextID++
	s.byID[stored.ID] = stored
	s.byHandle[stored.Handle] = stored.ID

	s.pending = 0
	if err := s.writeFileLocked(); err != nil {
		return 0, err
	}
	return stored.ID, nil
}

// Flush forces any deferred login writes to disk.
func (s *Store) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == 0 {
		return nil
	}
	s.pending = 0
	return s.writeFileLocked()
}

// Close flushes and releases the store.
func (s *Store) Close(ctx context.Context) error {
	return s.Flush(ctx)
}

// put replaces the stored record for an existing account id, keeping the
// handle index coherent when a handle changed.
func (s *Store) put(acc *account.Account) error {
	old, ok := s.byID[acc.ID]
	if !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("account_id", acc.ID).
			Wrap(account.ErrNotFound)
	}
	if old.Handle != acc.Handle {
		if _, taken := s.byHandle[acc.Handle]; taken {
			return oops.Code("ACCOUNT_DUPLICATE_HANDLE").
				With("handle", acc.Handle).
				Wrap(account.ErrDuplicateHandle)
		}
		delete(s.byHandle, old.Handle)
		s.byHandle[acc.Handle] = acc.ID
	}
	s.byID[acc.ID] = copyAccount(acc)
	return nil
}

// writeFileLocked rewrites the whole account file atomically: records sorted
// by id, the next-id sentinel last, fsync before rename.
func (s *Store) writeFileLocked() error {
	ids := make([]uint32, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return oops.Code("ACCOUNT_STORE_WRITE_FAILED").
			With("path", s.path).
			Wrap(err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
	if err != nil {
		return oops.Code("ACCOUNT_STORE_WRITE_FAILED").
			With("path", s.path).
			Wrap(err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after successful rename

	w := bufio.NewWriter(tmp)
	for _, id := range ids {
		if _, err := fmt.Fprintln(w, account.MarshalLine(s.byID[id])); err != nil {
			_ = tmp.Close() //nolint:errcheck // write error takes precedence
			return oops.Code("ACCOUNT_STORE_WRITE_FAILED").With("path", s.path).Wrap(err)
		}
	}
	if _, err := fmt.Fprintln(w, account.MarshalNextID(s.nextID)); err != nil {
		_ = tmp.Close() //nolint:errcheck // write error takes precedence
		return oops.Code("ACCOUNT_STORE_WRITE_FAILED").With("path", s.path).Wrap(err)
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close() //nolint:errcheck // flush error takes precedence
		return oops.Code("ACCOUNT_STORE_WRITE_FAILED").With("path", s.path).Wrap(err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close() //nolint:errcheck // sync error takes precedence
		return oops.Code("ACCOUNT_STORE_WRITE_FAILED").With("path", s.path).Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		return oops.Code("ACCOUNT_STORE_WRITE_FAILED").With("path", s.path).Wrap(err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return oops.Code("ACCOUNT_STORE_WRITE_FAILED").With("path", s.path).Wrap(err)
	}
	return nil
}

// caseInsensitiveTaken reports whether a different handle folds to the same
// lower-cased form.
func (s *Store) caseInsensitiveTaken(handle string) (string, bool) {
	for h := range s.byHandle {
		if h != handle && strings.EqualFold(h, handle) {
			return h, true
		}
	}
	return "", false
}

func copyAccount(a *account.Account) *account.Account {
	dup := *a
	if len(a.Extra) > 0 {
		dup.Extra = make([]account.KV, len(a.Extra))
		copy(dup.Extra, a.Extra)
	}
	return &dup
}

// Compile-time interface check.
var _ account.Store = (*Store)(nil)
