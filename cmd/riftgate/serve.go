// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/riftgate/riftgate/internal/account"
	"github.com/riftgate/riftgate/internal/account/flatfile"
	"github.com/riftgate/riftgate/internal/account/postgres"
	"github.com/riftgate/riftgate/internal/auth"
	"github.com/riftgate/riftgate/internal/config"
	"github.com/riftgate/riftgate/internal/guard"
	"github.com/riftgate/riftgate/internal/logging"
	"github.com/riftgate/riftgate/internal/observability"
	"github.com/riftgate/riftgate/internal/privilege"
	"github.com/riftgate/riftgate/internal/realm"
	"github.com/riftgate/riftgate/internal/server"
	"github.com/riftgate/riftgate/internal/session"
	"github.com/riftgate/riftgate/internal/xdg"
)

// serveFlagKeys maps serve flags to their config keys.
var serveFlagKeys = map[string]string{
	"listen-addr":     "listen_addr",
	"log-format":      "log.format",
	"metrics-addr":    "observability.addr",
	"store-backend":   "store.backend",
	"store-path":      "store.path",
	"database-url":    "store.database_url",
	"privileges-path": "privileges.path",
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the identity server",
		Long: `Start the identity server: the TCP listener for game clients and
realm servers, the account store, and the observability endpoint.`,
		RunE: runServe,
	}

	cmd.Flags().String("listen-addr", "", "TCP listen address (default :6900)")
	cmd.Flags().String("log-format", "", "log format, json or text")
	cmd.Flags().String("metrics-addr", "", "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("store-backend", "", "account backend, flatfile or postgres")
	cmd.Flags().String("store-path", "", "account file path for the flatfile backend")
	cmd.Flags().String("database-url", "", "postgres connection string")
	cmd.Flags().String("privileges-path", "", "operator privilege file path")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, cmd.Flags(), serveFlagKeys)
	if err != nil {
		return err
	}

	logger := logging.Setup("riftgate", version, cfg.Log.Format, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			slog.Error("account store close failed", "error", err)
		}
	}()

	if err := xdg.EnsureDir(filepath.Dir(cfg.Privileges.Path)); err != nil {
		return err
	}
	privileges, err := privilege.NewDirectory(cfg.Privileges.Path)
	if err != nil {
		return err
	}

	presence := session.NewPresenceRegistry(cfg.Session.TransitionalGrace)
	tokens := session.NewTokenRegistry(cfg.Session.TokenTTL)
	realms := realm.NewRegistry()
	registration := guard.NewRegistrationGuard(cfg.Auth.RegistrationWindow, cfg.Auth.RegistrationsPerWindow)
	failban := guard.NewFailBan(cfg.Guard.FailWindow, cfg.Guard.FailThreshold, cfg.Guard.BanDuration)

	acl, err := server.NewACL(server.ACLOrder(cfg.ACL.Order), cfg.ACL.Allow, cfg.ACL.Deny)
	if err != nil {
		return err
	}

	var blocklist auth.Blocklist
	if len(cfg.Guard.Blocklist) > 0 {
		bl, err := guard.NewBlocklist(cfg.Guard.Blocklist)
		if err != nil {
			return err
		}
		blocklist = bl
	}

	verifier := auth.NewVerifier(store, presence, registration, privileges, auth.Config{
		DigestPolicy:        cfg.DigestPolicy(),
		DuplicatePolicy:     cfg.DuplicatePolicy(),
		AllowRegistration:   cfg.Auth.AllowRegistration,
		RequiredClientBuild: cfg.Auth.ClientBuild,
		MinPrivilegeLevel:   cfg.Auth.MinPrivilegeLevel,
		Blocklist:           blocklist,
		StartLimitedDays:    cfg.Auth.StartLimitedDays,
	})

	var srv *server.Server

	var obs *observability.Server
	var obsErrs <-chan error
	var metrics *observability.Metrics
	if cfg.Observability.Addr != "" {
		obs = observability.NewServer(cfg.Observability.Addr, func() bool {
			return srv != nil && srv.Ready()
		})
		obsErrs, err = obs.Start()
		if err != nil {
			return err
		}
		metrics = obs.Metrics()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := obs.Stop(shutdownCtx); err != nil {
				slog.Error("observability server stop failed", "error", err)
			}
		}()
	}

	srv = server.New(server.Config{
		ListenAddr:        cfg.ListenAddr,
		DigestPolicy:      cfg.DigestPolicy(),
		PromoteSecret:     cfg.Privileges.PromoteSecret,
		ClientIdleTimeout: cfg.Timeouts.ClientIdle,
		RealmIdleTimeout:  cfg.Timeouts.RealmIdle,
		SweepInterval:     cfg.Timeouts.Sweep,
		PingInterval:      cfg.Timeouts.Ping,
		FlushInterval:     cfg.Timeouts.Flush,
	}, server.Deps{
		Store:        store,
		Verifier:     verifier,
		Tokens:       tokens,
		Presence:     presence,
		Realms:       realms,
		Privileges:   privileges,
		ACL:          acl,
		FailBan:      failban,
		Registration: registration,
		Metrics:      metrics,
	})

	// Hand-edits to the privilege file reach attached realms without a
	// restart.
	go privileges.Poll(ctx, cfg.Privileges.PollInterval, srv.BroadcastPrivileges)

	if obsErrs != nil {
		go func() {
			if err, ok := <-obsErrs; ok && err != nil {
				slog.Error("observability server failed", "error", err)
				stop()
			}
		}()
	}

	return srv.Run(ctx)
}

// openStore builds the configured account backend. DATABASE_URL overrides
// the configured postgres connection string when set.
func openStore(ctx context.Context, cfg *config.Config) (account.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		url := cfg.Store.DatabaseURL
		if env := os.Getenv("DATABASE_URL"); env != "" {
			url = env
		}
		if cfg.Store.AutoMigrate {
			if err := migrateUp(url); err != nil {
				return nil, err
			}
		}
		pool, err := postgres.Connect(ctx, url)
		if err != nil {
			return nil, err
		}
		return postgres.NewStore(pool), nil
	default:
		if err := xdg.EnsureDir(filepath.Dir(cfg.Store.Path)); err != nil {
			return nil, err
		}
		var opts []flatfile.Option
		if cfg.Store.FlushEveryLogins > 0 {
			opts = append(opts, flatfile.WithFlushEveryLogins(cfg.Store.FlushEveryLogins))
		}
		return flatfile.Open(cfg.Store.Path, opts...)
	}
}

// migrateUp applies pending schema migrations, for store.auto_migrate.
func migrateUp(url string) error {
	m, err := postgres.NewMigrator(url)
	if err != nil {
		return err
	}
	upErr := m.Up()
	if cerr := m.Close(); upErr == nil {
		upErr = cerr
	}
	if upErr == nil {
		slog.Info("account schema migrations applied")
	}
	return upErr
}
