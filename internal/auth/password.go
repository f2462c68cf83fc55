// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

package auth

import (
	"crypto/md5" //nolint:gosec // md5 is the digest legacy game clients speak
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// DigestPolicy selects how account password material is stored and checked.
type DigestPolicy string

// Supported digest policies. Plain keeps the password as-is for
// compatibility with challenge logins; md5 stores the legacy hex digest;
// argon2id stores a salted PHC-format hash.
const (
	DigestPlain    DigestPolicy = "plain"
	DigestMD5      DigestPolicy = "md5"
	DigestArgon2id DigestPolicy = "argon2id"
)

// ParseDigestPolicy validates a configured policy name.
func ParseDigestPolicy(s string) (DigestPolicy, error) {
	switch DigestPolicy(s) {
	case DigestPlain, DigestMD5, DigestArgon2id:
		return DigestPolicy(s), nil
	}
	return "", oops.Code("AUTH_INVALID_DIGEST_POLICY").
		With("policy", s).
		Errorf("unknown digest policy %q", s)
}

// KeyedMode identifies how a challenge login combined the session key with
// the password before digesting. The numeric values come off the wire.
type KeyedMode uint8

// Challenge digest orderings.
const (
	KeyedNone      KeyedMode = 0 // password sent as-is
	KeyedKeyFirst  KeyedMode = 1 // md5(key + password)
	KeyedPassFirst KeyedMode = 2 // md5(password + key)
	KeyedEither    KeyedMode = 3 // accept either ordering
)

// OWASP-recommended argon2id parameters.
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2SaltLen = 16
	argon2KeyLen  = 32
)

// ErrEmptyPassword is returned when hashing an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// HashForStorage renders a password into the stored form for the policy.
func HashForStorage(policy DigestPolicy, password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	switch policy {
	case DigestPlain:
		return password, nil
	case DigestMD5:
		return md5Hex(password), nil
	case DigestArgon2id:
		return hashArgon2id(password)
	}
	return "", oops.Code("AUTH_INVALID_DIGEST_POLICY").
		With("policy", string(policy)).
		Errorf("unknown digest policy %q", policy)
}

// VerifyPassword checks presented credential material against the stored
// form. For keyed modes the presented value is the client's hex digest of
// the session key combined with the password; keyed checks need the
// plaintext and therefore only work under the plain policy.
func VerifyPassword(policy DigestPolicy, stored, presented string, mode KeyedMode, sessionKey string) (bool, error) {
	if mode != KeyedNone {
		if policy != DigestPlain {
			return false, oops.Code("AUTH_KEYED_NEEDS_PLAIN").
				With("policy", string(policy)).
				Errorf("challenge login requires the plain digest policy")
		}
		return verifyKeyed(stored, presented, mode, sessionKey), nil
	}

	switch policy {
	case DigestPlain:
		return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1, nil
	case DigestMD5:
		return subtle.ConstantTimeCompare([]byte(stored), []byte(md5Hex(presented))) == 1, nil
	case DigestArgon2id:
		return verifyArgon2id(presented, stored)
	}
	return false, oops.Code("AUTH_INVALID_DIGEST_POLICY").
		With("policy", string(policy)).
		Errorf("unknown digest policy %q", policy)
}

func verifyKeyed(stored, presented string, mode KeyedMode, key string) bool {
	keyFirst := md5Hex(key + stored)
	passFirst := md5Hex(stored + key)
	switch mode {
	case KeyedKeyFirst:
		return digestEqual(presented, keyFirst)
	case KeyedPassFirst:
		return digestEqual(presented, passFirst)
	case KeyedEither:
		return digestEqual(presented, keyFirst) || digestEqual(presented, passFirst)
	}
	return false
}

func digestEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(a)), []byte(b)) == 1
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec // legacy client digest
	return hex.EncodeToString(sum[:])
}

func hashArgon2id(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	// PHC string format: $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argon2Memory,
		argon2Time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

func verifyArgon2id(password, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	var memory, iterations, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if threads == 0 || threads > 255 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("threads value %d out of range", threads)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if len(expected) == 0 || len(expected) > 1<<30 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash key length: %d", len(expected))
	}

	computed := argon2.IDKey([]byte(password), salt, iterations, memory, uint8(threads), uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}
