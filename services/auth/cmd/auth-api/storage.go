package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	pkgdb "outsy/pkg/db"
	"outsy/services/auth/internal/config"
	authdb "outsy/services/auth/internal/db"
	"outsy/services/auth/internal/password"
	"outsy/services/auth/internal/session"
	"outsy/services/auth/internal/tokens"
	"outsy/services/auth/internal/users"
	"outsy/services/auth/internal/vault"
)

type sweepingVault interface {
	session.Vault
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

type storage struct {
	users session.CredentialStore
	vault sweepingVault
	// orm is nil for the memory driver.
	orm   *gorm.DB
	close func()
}

// openStorage connects the credential store and the vault selected by
// STORAGE_DRIVER. The postgres driver migrates the schema first.
func openStorage(ctx context.Context, cfg config.Config, log zerolog.Logger) (*storage, error) {
	if cfg.StorageDriver == config.DriverMemory {
		log.Warn().Msg("memory storage driver: accounts and sessions are lost on restart")
		return &storage{
			users: users.NewMemoryStore(),
			vault: vault.NewMemoryVault(),
			close: func() {},
		}, nil
	}

	pool, err := pkgdb.Open(ctx, string(cfg.DBDSN))
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	version, err := pkgdb.Migrate(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info().Int64("version", version).Msg("schema migrated")

	orm, err := authdb.Connect(ctx, string(cfg.DBDSN), log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect gorm: %w", err)
	}

	store, err := users.NewGormStore(orm)
	if err != nil {
		_ = authdb.Close(orm)
		pool.Close()
		return nil, err
	}

	return &storage{
		users: store,
		vault: vault.NewPostgresVault(pool),
		orm:   orm,
		close: func() {
			if err := authdb.Close(orm); err != nil {
				log.Error().Err(err).Msg("close gorm")
			}
			pool.Close()
		},
	}, nil
}

func newService(cfg config.Config, st *storage, events session.Publisher, log zerolog.Logger) (*session.Service, error) {
	issuer, err := tokens.NewIssuer(tokens.Config{
		AccessSecret:  []byte(cfg.JWTAccessSecret),
		RefreshSecret: []byte(cfg.JWTRefreshSecret),
		AccessTTL:     cfg.AccessTokenTTL.Std(),
		RefreshTTL:    cfg.RefreshTokenTTL.Std(),
	})
	if err != nil {
		return nil, err
	}

	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	return session.New(session.Options{
		Users:  st.users,
		Vault:  st.vault,
		Issuer: issuer,
		Hasher: password.NewHasher(cost),
		Events: events,
		Logger: log,
	})
}

// runSweeper deletes expired vault records every interval until ctx is done.
func runSweeper(ctx context.Context, v sweepingVault, interval time.Duration, log zerolog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			n, err := v.Sweep(ctx, now)
			if err != nil {
				log.Error().Err(err).Msg("sweep expired refresh tokens")
				continue
			}
			if n > 0 {
				log.Info().Int64("removed", n).Msg("swept expired refresh tokens")
			}
		}
	}
}
