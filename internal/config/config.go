// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

// Package config loads the identity server configuration from a YAML file
// with command-line flag overrides.
package config

import (
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/riftgate/riftgate/internal/auth"
	"github.com/riftgate/riftgate/internal/guard"
	"github.com/riftgate/riftgate/internal/server"
	"github.com/riftgate/riftgate/internal/xdg"
)

// Store backends.
const (
	BackendFlatfile = "flatfile"
	BackendPostgres = "postgres"
)

// Log is the logging section.
type Log struct {
	// Format is "json" or "text".
	Format string `koanf:"format"`
}

// Observability is the metrics/health endpoint section. An empty address
// disables the endpoint.
type Observability struct {
	Addr string `koanf:"addr"`
}

// Store selects and parameterizes the account backend.
type Store struct {
	Backend string `koanf:"backend"`

	// Path is the flat-file location, used by the flatfile backend.
	Path string `koanf:"path"`

	// DatabaseURL is the postgres connection string, used by the postgres
	// backend. Also honored from the DATABASE_URL environment variable.
	DatabaseURL string `koanf:"database_url"`

	// FlushEveryLogins bounds how many login-bookkeeping writes the
	// flatfile backend may defer.
	FlushEveryLogins int `koanf:"flush_every_logins"`

	// AutoMigrate applies pending schema migrations on startup, postgres
	// backend only.
	AutoMigrate bool `koanf:"auto_migrate"`
}

// Auth is the login-pipeline policy section. ClientBuild is the exact build
// tag clients must report; zero disables the gate.
type Auth struct {
	PasswordPolicy         string        `koanf:"password_policy"`
	DuplicatePolicy        string        `koanf:"duplicate_policy"`
	AllowRegistration      bool          `koanf:"allow_registration"`
	RegistrationWindow     time.Duration `koanf:"registration_window"`
	RegistrationsPerWindow int           `koanf:"registrations_per_window"`
	ClientBuild            uint32        `koanf:"client_build"`
	MinPrivilegeLevel      int           `koanf:"min_privilege_level"`
	StartLimitedDays       int           `koanf:"start_limited_days"`
}

// Guard is the credential-failure ban section. Blocklist entries are
// addresses or CIDR prefixes refused outright.
type Guard struct {
	FailWindow    time.Duration `koanf:"fail_window"`
	FailThreshold int           `koanf:"fail_threshold"`
	BanDuration   time.Duration `koanf:"ban_duration"`
	Blocklist     []string      `koanf:"blocklist"`
}

// Privileges is the operator-level directory section.
type Privileges struct {
	Path          string        `koanf:"path"`
	PollInterval  time.Duration `koanf:"poll_interval"`
	PromoteSecret string        `koanf:"promote_secret"`
}

// Session is the handoff token and presence section.
type Session struct {
	TokenTTL          time.Duration `koanf:"token_ttl"`
	TransitionalGrace time.Duration `koanf:"transitional_grace"`
}

// ACL is the connection address filter section.
type ACL struct {
	Order string   `koanf:"order"`
	Allow []string `koanf:"allow"`
	Deny  []string `koanf:"deny"`
}

// Timeouts is the transport timing section. Zero values fall back to the
// server defaults.
type Timeouts struct {
	ClientIdle time.Duration `koanf:"client_idle"`
	RealmIdle  time.Duration `koanf:"realm_idle"`
	Sweep      time.Duration `koanf:"sweep"`
	Ping       time.Duration `koanf:"ping"`
	Flush      time.Duration `koanf:"flush"`
}

// Config is the full identity server configuration.
type Config struct {
	ListenAddr    string        `koanf:"listen_addr"`
	Log           Log           `koanf:"log"`
	Observability Observability `koanf:"observability"`
	Store         Store         `koanf:"store"`
	Auth          Auth          `koanf:"auth"`
	Guard         Guard         `koanf:"guard"`
	Privileges    Privileges    `koanf:"privileges"`
	Session       Session       `koanf:"session"`
	ACL           ACL           `koanf:"acl"`
	Timeouts      Timeouts      `koanf:"timeouts"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		ListenAddr:    ":6900",
		Log:           Log{Format: "json"},
		Observability: Observability{Addr: "127.0.0.1:9100"},
		Store: Store{
			Backend: BackendFlatfile,
			Path:    filepath.Join(xdg.DataDir(), "accounts.txt"),
		},
		Auth: Auth{
			PasswordPolicy:  string(auth.DigestPlain),
			DuplicatePolicy: string(auth.DuplicateReject),
		},
		Privileges: Privileges{
			Path: filepath.Join(xdg.DataDir(), "operators.txt"),
		},
		ACL: ACL{Order: string(server.OrderDenyAllow)},
	}
}

// Load reads the file (when path is non-empty) over the defaults and then
// applies flag overrides through keyMap, which maps flag names to config
// keys. Flags absent from keyMap are ignored.
func Load(path string, flags *pflag.FlagSet, keyMap map[string]string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithValue(flags, ".", k, func(key, value string) (string, any) {
			mapped, ok := keyMap[key]
			if !ok {
				return "", nil
			}
			return mapped, value
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_PARSE_FAILED").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every enumerated field.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("listen_addr is required")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").
			With("format", c.Log.Format).
			Errorf("log.format must be json or text")
	}

	switch c.Store.Backend {
	case BackendFlatfile:
		if c.Store.Path == "" {
			return oops.Code("CONFIG_INVALID").Errorf("store.path is required for the flatfile backend")
		}
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			return oops.Code("CONFIG_INVALID").Errorf("store.database_url is required for the postgres backend")
		}
	default:
		return oops.Code("CONFIG_INVALID").
			With("backend", c.Store.Backend).
			Errorf("store.backend must be %s or %s", BackendFlatfile, BackendPostgres)
	}

	if _, err := auth.ParseDigestPolicy(c.Auth.PasswordPolicy); err != nil {
		return err
	}
	if _, err := auth.ParseDuplicatePolicy(c.Auth.DuplicatePolicy); err != nil {
		return err
	}
	if c.Auth.MinPrivilegeLevel < 0 {
		return oops.Code("CONFIG_INVALID").
			With("level", c.Auth.MinPrivilegeLevel).
			Errorf("auth.min_privilege_level must not be negative")
	}
	if c.Auth.StartLimitedDays < 0 {
		return oops.Code("CONFIG_INVALID").
			With("days", c.Auth.StartLimitedDays).
			Errorf("auth.start_limited_days must not be negative")
	}

	if _, err := guard.NewBlocklist(c.Guard.Blocklist); err != nil {
		return err
	}

	switch server.ACLOrder(c.ACL.Order) {
	case server.OrderDenyAllow, server.OrderAllowDeny:
	default:
		return oops.Code("CONFIG_INVALID").
			With("order", c.ACL.Order).
			Errorf("acl.order must be %q or %q", server.OrderDenyAllow, server.OrderAllowDeny)
	}

	if c.Privileges.Path == "" {
		return oops.Code("CONFIG_INVALID").Errorf("privileges.path is required")
	}
	return nil
}

// DigestPolicy returns the parsed password policy. Validate must have
// succeeded.
func (c *Config) DigestPolicy() auth.DigestPolicy {
	policy, _ := auth.ParseDigestPolicy(c.Auth.PasswordPolicy)
	return policy
}

// DuplicatePolicy returns the parsed duplicate-session policy. Validate
// must have succeeded.
func (c *Config) DuplicatePolicy() auth.DuplicatePolicy {
	policy, _ := auth.ParseDuplicatePolicy(c.Auth.DuplicatePolicy)
	return policy
}
