// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftgate/riftgate/internal/account"
)

var accountCols = []string{
	"id", "handle", "password", "last_login", "sex", "login_count",
	"state", "email", "ban_reason", "expiration", "last_ip", "memo",
	"unban_time", "extra",
}

func accountRow(id int64, handle string) *pgxmock.Rows {
	return pgxmock.NewRows(accountCols).AddRow(
		id, handle, "pw", (*time.Time)(nil), int16(1), int64(3),
		int64(0), "a@a.com", "", (*time.Time)(nil), "10.0.0.1", "",
		(*time.Time)(nil), []byte(`[{"key":"langtype","value":"1"}]`),
	)
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return mock
}

func TestStore_LoadByID(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   error
	}{
		{
			name: "found",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM accounts\s+WHERE id = \$1`).
					WithArgs(int64(2000001)).
					WillReturnRows(accountRow(2000001, "alice"))
			},
		},
		{
			name: "missing",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM accounts\s+WHERE id = \$1`).
					WithArgs(int64(2000001)).
					WillReturnError(pgx.ErrNoRows)
			},
			wantErr: account.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			tt.setupMock(mock)

			got, err := NewStore(mock).LoadByID(context.Background(), 2000001)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "alice", got.Handle)
				assert.Equal(t, uint32(3), got.LoginCount)
				assert.Equal(t, []account.KV{{Key: "langtype", Value: "1"}}, got.Extra)
			}
			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestStore_LoadByHandle_ExactMatch(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM accounts\s+WHERE handle = \$1`).
		WithArgs("alice").
		WillReturnRows(accountRow(2000001, "alice"))

	got, err := NewStore(mock).LoadByHandle(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, uint32(2000001), got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LoadByHandle_CaseInsensitiveFallback(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   error
	}{
		{
			name: "single fold candidate resolves",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM accounts\s+WHERE handle = \$1`).
					WithArgs("alice").
					WillReturnError(pgx.ErrNoRows)
				mock.ExpectQuery(`LOWER\(handle\) = LOWER\(\$1\)`).
					WithArgs("alice").
					WillReturnRows(accountRow(2000001, "Alice"))
			},
		},
		{
			name: "ambiguous fold is a miss",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM accounts\s+WHERE handle = \$1`).
					WithArgs("alice").
					WillReturnError(pgx.ErrNoRows)
				rows := accountRow(2000001, "Alice")
				rows.AddRow(
					int64(2000002), "ALICE", "pw", (*time.Time)(nil), int16(0), int64(0),
					int64(0), "a@a.com", "", (*time.Time)(nil), "", "",
					(*time.Time)(nil), []byte(`[]`),
				)
				mock.ExpectQuery(`LOWER\(handle\) = LOWER\(\$1\)`).
					WithArgs("alice").
					WillReturnRows(rows)
			},
			wantErr: account.ErrNotFound,
		},
		{
			name: "no candidates at all",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM accounts\s+WHERE handle = \$1`).
					WithArgs("alice").
					WillReturnError(pgx.ErrNoRows)
				mock.ExpectQuery(`LOWER\(handle\) = LOWER\(\$1\)`).
					WithArgs("alice").
					WillReturnRows(pgxmock.NewRows(accountCols))
			},
			wantErr: account.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			tt.setupMock(mock)

			got, err := NewStore(mock).LoadByHandle(context.Background(), "alice")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "Alice", got.Handle)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_Save(t *testing.T) {
	acc := &account.Account{
		ID:     2000001,
		Handle: "alice",
		Sex:    account.Female,
		Email:  account.DefaultEmail,
	}

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   error
	}{
		{
			name: "updated",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`UPDATE accounts SET`).
					WithArgs(anyArgs(14)...).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			},
		},
		{
			name: "missing row",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`UPDATE accounts SET`).
					WithArgs(anyArgs(14)...).
					WillReturnResult(pgxmock.NewResult("UPDATE", 0))
			},
			wantErr: account.ErrNotFound,
		},
		{
			name: "handle collision",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`UPDATE accounts SET`).
					WithArgs(anyArgs(14)...).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
			},
			wantErr: account.ErrDuplicateHandle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			tt.setupMock(mock)

			err := NewStore(mock).Save(context.Background(), acc)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_SaveLogin(t *testing.T) {
	now := time.Now().UTC()
	acc := &account.Account{
		ID:         2000001,
		Handle:     "alice",
		LastLogin:  now,
		LastIP:     "10.0.0.9",
		LoginCount: 7,
	}

	mock := newMock(t)
	mock.ExpectExec(`UPDATE accounts SET\s+last_login = \$2`).
		WithArgs(int64(2000001), &now, "10.0.0.9", int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, NewStore(mock).SaveLogin(context.Background(), acc))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Create(t *testing.T) {
	acc := &account.Account{
		Handle: "bob",
		Sex:    account.Male,
		Email:  account.DefaultEmail,
	}

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantID    uint32
		wantErr   error
	}{
		{
			name: "created",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`INSERT INTO accounts`).
					WithArgs(anyArgs(13)...).
					WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(2000005)))
			},
			wantID: 2000005,
		},
		{
			name: "duplicate handle",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`INSERT INTO accounts`).
					WithArgs(anyArgs(13)...).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
			},
			wantErr: account.ErrDuplicateHandle,
		},
		{
			name: "id space exhausted",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`INSERT INTO accounts`).
					WithArgs(anyArgs(13)...).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.SequenceGeneratorLimitExceeded})
			},
			wantErr: account.ErrIDExhausted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			tt.setupMock(mock)

			id, err := NewStore(mock).Create(context.Background(), acc)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantID, id)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
