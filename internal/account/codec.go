// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

package account

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
)

// fixedFieldCount is the number of tab-delimited fields before the variable
// auxiliary pairs.
const fixedFieldCount = 13

// nextIDSentinel tags the trailing record that carries the next-id counter
// for stores without native auto-increment.
const nextIDSentinel = "%newid%"

// fieldSanitizer strips the characters that would corrupt the line format.
var fieldSanitizer = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

// auxKeySanitizer additionally strips the comma that separates an auxiliary
// key from its value. Values may carry commas; the first one splits.
var auxKeySanitizer = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ", ",", " ")

// MarshalLine renders an account as one tab-delimited interchange line:
// id, handle, password, last-login, sex, login count, state, email,
// ban-reason, expiration, last IP, memo, ban-until, then one field per
// auxiliary key,value pair. Timestamps are unix seconds; zero time maps
// to 0.
func MarshalLine(a *Account) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d\t%s\t%s\t%d\t%s\t%d\t%d\t%s\t%s\t%d\t%s\t%s\t%d",
		a.ID,
		fieldSanitizer.Replace(a.Handle),
		fieldSanitizer.Replace(a.Password),
		unixOrZero(a.LastLogin),
		a.Sex.String(),
		a.LoginCount,
		a.State,
		fieldSanitizer.Replace(a.Email),
		fieldSanitizer.Replace(a.BanReason),
		unixOrZero(a.Expiration),
		fieldSanitizer.Replace(a.LastIP),
		fieldSanitizer.Replace(a.Memo),
		unixOrZero(a.UnbanTime),
	)
	for _, kv := range a.Extra {
		if kv.Key == "" {
			continue
		}
		fmt.Fprintf(&b, "\t%s,%s", auxKeySanitizer.Replace(kv.Key), fieldSanitizer.Replace(kv.Value))
	}
	return b.String()
}

// UnmarshalLine parses one interchange line back into an account.
func UnmarshalLine(line string) (*Account, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < fixedFieldCount {
		return nil, oops.Code("ACCOUNT_LINE_MALFORMED").
			With("fields", len(fields)).
			Errorf("expected at least %d fields, got %d", fixedFieldCount, len(fields))
	}

	id, err := parseUint32(fields[0], "id")
	if err != nil {
		return nil, err
	}
	lastLogin, err := parseUnix(fields[3], "last_login")
	if err != nil {
		return nil, err
	}
	sex, err := ParseCategory(fields[4])
	if err != nil {
		return nil, err
	}
	loginCount, err := parseUint32(fields[5], "login_count")
	if err != nil {
		return nil, err
	}
	state, err := parseUint32(fields[6], "state")
	if err != nil {
		return nil, err
	}
	expiration, err := parseUnix(fields[9], "expiration")
	if err != nil {
		return nil, err
	}
	unban, err := parseUnix(fields[12], "unban_time")
	if err != nil {
		return nil, err
	}

	acc := &Account{
		ID:         id,
		Handle:     fields[1],
		Password:   fields[2],
		LastLogin:  lastLogin,
		Sex:        sex,
		LoginCount: loginCount,
		State:      state,
		Email:      fields[7],
		BanReason:  fields[8],
		Expiration: expiration,
		LastIP:     fields[10],
		Memo:       fields[11],
		UnbanTime:  unban,
	}

	for _, raw := range fields[fixedFieldCount:] {
		if raw == "" {
			continue
		}
		key, value, found := strings.Cut(raw, ",")
		if !found || key == "" {
			return nil, oops.Code("ACCOUNT_LINE_MALFORMED").
				With("pair", raw).
				Errorf("malformed auxiliary pair %q", raw)
		}
		acc.Extra = append(acc.Extra, KV{Key: key, Value: value})
	}

	return acc, nil
}

// MarshalNextID renders the trailing next-id sentinel record.
func MarshalNextID(next uint32) string {
	return fmt.Sprintf("%d\t%s", next, nextIDSentinel)
}

// ParseNextID recognizes the next-id sentinel record. The second return
// value is false when the line is not a sentinel.
func ParseNextID(line string) (uint32, bool) {
	value, tag, found := strings.Cut(line, "\t")
	if !found || tag != nextIDSentinel {
		return 0, false
	}
	next, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(next), true
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func parseUnix(s, field string) (time.Time, error) {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, oops.Code("ACCOUNT_LINE_MALFORMED").
			With("field", field).
			Wrap(err)
	}
	if sec == 0 {
		return time.Time{}, nil
	}
	return time.Unix(sec, 0).UTC(), nil
}

func parseUint32(s, field string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, oops.Code("ACCOUNT_LINE_MALFORMED").
			With("field", field).
			Wrap(err)
	}
	return uint32(v), nil
}
