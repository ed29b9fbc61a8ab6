// Package database opens the portal's MariaDB pool and Redis client, applies
// schema migrations and reports backend health for /healthz. Connections are
// opened once at startup and shared through dependency injection.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// Registers the "mysql" driver.
	_ "github.com/go-sql-driver/mysql"

	"github.com/keyxmakerx/loginfirewall/internal/config"
)

const (
	pingTimeout = 5 * time.Second
	firstDelay  = time.Second
	maxDelay    = 30 * time.Second
)

// NewMariaDB opens the grant and account store and waits for it to answer.
// The portal usually starts alongside its database, so a failed ping is
// retried with backoff until cfg.ConnectAttempts is spent or ctx is done.
func NewMariaDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening mariadb connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := waitFor(ctx, "mariadb", cfg.ConnectAttempts, firstDelay, db.PingContext); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// waitFor calls ping until it succeeds, attempts run out or ctx is done.
// The delay between attempts doubles up to maxDelay.
func waitFor(ctx context.Context, service string, attempts int, delay time.Duration, ping func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == attempts {
			return fmt.Errorf("pinging %s after %d attempts: %w", service, attempts, err)
		}

		slog.Warn(service+" not ready, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Duration("backoff", delay),
			slog.Any("error", err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", service, ctx.Err())
		case <-time.After(delay):
		}
		delay = min(delay*2, maxDelay)
	}
}
