// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

// Package postgres implements the account store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/riftgate/riftgate/internal/account"
)

// querier is the pgx surface the store needs. pgxpool.Pool satisfies it, as
// do pgxmock pools in tests.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements account.Store using PostgreSQL. Every write is durable on
// return, so Flush is a no-op.
type Store struct {
	db querier
}

// NewStore wraps an established connection pool.
func NewStore(db querier) *Store {
	return &Store{db: db}
}

// Connect opens a pool and verifies connectivity, retrying with exponential
// backoff so the service can start before the database finishes coming up.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("ACCOUNT_STORE_OPEN_FAILED").
			With("operation", "parse database url").
			Wrap(err)
	}

	var pool *pgxpool.Pool
	backoff := retry.WithMaxRetries(5, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		p, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return retry.RetryableError(err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return retry.RetryableError(err)
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, oops.Code("ACCOUNT_STORE_OPEN_FAILED").
			With("operation", "connect").
			Wrap(err)
	}
	return pool, nil
}

const accountColumns = `id, handle, password, last_login, sex, login_count,
       state, email, ban_reason, expiration, last_ip, memo, unban_time, extra`

// LoadByHandle resolves a handle: exact match first, then a case-insensitive
// lookup that succeeds only when exactly one candidate exists.
func (s *Store) LoadByHandle(ctx context.Context, handle string) (*account.Account, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE handle = $1
	`, handle)

	acc, err := scanAccount(row)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_LOAD_FAILED").
			With("operation", "load by handle").
			With("handle", handle).
			Wrap(err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE LOWER(handle) = LOWER($1)
		LIMIT 2
	`, handle)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LOAD_FAILED").
			With("operation", "load by folded handle").
			With("handle", handle).
			Wrap(err)
	}
	defer rows.Close()

	var candidates []*account.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, oops.Code("ACCOUNT_LOAD_FAILED").
				With("operation", "scan folded handle").
				With("handle", handle).
				Wrap(err)
		}
		candidates = append(candidates, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_LOAD_FAILED").
			With("operation", "load by folded handle").
			With("handle", handle).
			Wrap(err)
	}
	if len(candidates) != 1 {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("handle", handle).
			With("case_insensitive_matches", len(candidates)).
			Wrap(account.ErrNotFound)
	}
	return candidates[0], nil
}

// LoadByID retrieves an account by id.
func (s *Store) LoadByID(ctx context.Context, id uint32) (*account.Account, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
	`, int64(id))

	acc, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("account_id", id).
			Wrap(account.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_LOAD_FAILED").
			With("operation", "load by id").
			With("account_id", id).
			Wrap(err)
	}
	return acc, nil
}

// Save persists the full account record.
func (s *Store) Save(ctx context.Context, acc *account.Account) error {
	extra, err := marshalExtra(acc.Extra)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE accounts SET
			handle = $2,
			password = $3,
			last_login = $4,
			sex = $5,
			login_count = $6,
			state = $7,
			email = $8,
			ban_reason = $9,
			expiration = $10,
			last_ip = $11,
			memo = $12,
			unban_time = $13,
			extra = $14
		WHERE id = $1
	`,
		int64(acc.ID),
		acc.Handle,
		acc.Password,
		nullableTime(acc.LastLogin),
		int16(acc.Sex),
		int64(acc.LoginCount),
		int64(acc.State),
		acc.Email,
		acc.BanReason,
		nullableTime(acc.Expiration),
		acc.LastIP,
		acc.Memo,
		nullableTime(acc.UnbanTime),
		extra,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("ACCOUNT_DUPLICATE_HANDLE").
				With("handle", acc.Handle).
				Wrap(account.ErrDuplicateHandle)
		}
		return oops.Code("ACCOUNT_SAVE_FAILED").
			With("account_id", acc.ID).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("account_id", acc.ID).
			Wrap(account.ErrNotFound)
	}
	return nil
}

// SaveLogin persists only the login bookkeeping columns. The write is
// durable immediately; the deferral allowance in the contract is not needed
// here.
func (s *Store) SaveLogin(ctx context.Context, acc *account.Account) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE accounts SET
			last_login = $2,
			last_ip = $3,
			login_count = $4
		WHERE id = $1
	`,
		int64(acc.ID),
		nullableTime(acc.LastLogin),
		acc.LastIP,
		int64(acc.LoginCount),
	)
	if err != nil {
		return oops.Code("ACCOUNT_SAVE_FAILED").
			With("operation", "save login").
			With("account_id", acc.ID).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("account_id", acc.ID).
			Wrap(account.ErrNotFound)
	}
	return nil
}

// Create inserts a new account, drawing the id from the account sequence.
func (s *Store) Create(ctx context.Context, acc *account.Account) (uint32, error) {
	extra, err := marshalExtra(acc.Extra)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.db.QueryRow(ctx, `
		INSERT INTO accounts (
			id, handle, password, last_login, sex, login_count,
			state, email, ban_reason, expiration, last_ip, memo,
			unban_time, extra
		) VALUES (
			nextval('account_id_seq'), $1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11, $12, $13
		)
		RETURNING id
	`,
		acc.Handle,
		acc.Password,
		nullableTime(acc.LastLogin),
		int16(acc.Sex),
		int64(acc.LoginCount),
		int64(acc.State),
		acc.Email,
		acc.BanReason,
		nullableTime(acc.Expiration),
		acc.LastIP,
		acc.Memo,
		nullableTime(acc.UnbanTime),
		extra,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, oops.Code("ACCOUNT_DUPLICATE_HANDLE").
				With("handle", acc.Handle).
				Wrap(account.ErrDuplicateHandle)
		}
		if isSequenceExhausted(err) {
			return 0, oops.Code("ACCOUNT_ID_EXHAUSTED").
				Wrap(account.ErrIDExhausted)
		}
		return 0, oops.Code("ACCOUNT_CREATE_FAILED").
			With("handle", acc.Handle).
			Wrap(err)
	}
	return uint32(id), nil
}

// Flush is a no-op: every write here is durable on return.
func (s *Store) Flush(context.Context) error { return nil }

// Close releases the pool when the store owns one.
func (s *Store) Close(context.Context) error {
	if closer, ok := s.db.(interface{ Close() }); ok {
		closer.Close()
	}
	return nil
}

// kvJSON is the stored shape of one auxiliary pair.
type kvJSON struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func marshalExtra(extra []account.KV) ([]byte, error) {
	pairs := make([]kvJSON, 0, len(extra))
	for _, kv := range extra {
		pairs = append(pairs, kvJSON{Key: kv.Key, Value: kv.Value})
	}
	data, err := json.Marshal(pairs)
	if err != nil {
		return nil, oops.Code("ACCOUNT_SAVE_FAILED").
			With("operation", "marshal aux pairs").
			Wrap(err)
	}
	return data, nil
}

// scanAccount scans a single row into an Account.
// Callers are responsible for handling pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*account.Account, error) {
	var (
		id         int64
		handle     string
		password   string
		lastLogin  *time.Time
		sex        int16
		loginCount int64
		state      int64
		email      string
		banReason  string
		expiration *time.Time
		lastIP     string
		memo       string
		unbanTime  *time.Time
		extraJSON  []byte
	)

	err := row.Scan(
		&id,
		&handle,
		&password,
		&lastLogin,
		&sex,
		&loginCount,
		&state,
		&email,
		&banReason,
		&expiration,
		&lastIP,
		&memo,
		&unbanTime,
		&extraJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with context-specific info
		}
		return nil, oops.Code("ACCOUNT_SCAN_FAILED").Wrap(err)
	}

	acc := &account.Account{
		ID:         uint32(id),
		Handle:     handle,
		Password:   password,
		LastLogin:  derefTime(lastLogin),
		Sex:        account.Category(sex),
		LoginCount: uint32(loginCount),
		State:      uint32(state),
		Email:      email,
		BanReason:  banReason,
		Expiration: derefTime(expiration),
		LastIP:     lastIP,
		Memo:       memo,
		UnbanTime:  derefTime(unbanTime),
	}

	if len(extraJSON) > 0 {
		var pairs []kvJSON
		if err := json.Unmarshal(extraJSON, &pairs); err != nil {
			return nil, oops.Code("ACCOUNT_SCAN_FAILED").
				With("operation", "unmarshal aux pairs").
				Wrap(err)
		}
		for _, kv := range pairs {
			acc.Extra = append(acc.Extra, account.KV{Key: kv.Key, Value: kv.Value})
		}
	}

	return acc, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func isSequenceExhausted(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.SequenceGeneratorLimitExceeded
}

// Compile-time interface check.
var _ account.Store = (*Store)(nil)
