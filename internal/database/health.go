package database

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Backend health values reported by Check.
const (
	StateOK          = "ok"
	StateUnreachable = "unreachable"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Health is the reachability of the grant store and the session store.
type Health struct {
	Database string `json:"database"`
	Redis    string `json:"redis"`
}

// OK reports whether both backends answered.
func (h Health) OK() bool {
	return h.Database == StateOK && h.Redis == StateOK
}

// Check pings MariaDB and Redis within ctx.
func Check(ctx context.Context, db Pinger, rdb *redis.Client) Health {
	h := Health{Database: StateOK, Redis: StateOK}
	if err := db.PingContext(ctx); err != nil {
		slog.Warn("health check: database unreachable", slog.Any("error", err))
		h.Database = StateUnreachable
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("health check: redis unreachable", slog.Any("error", err))
		h.Redis = StateUnreachable
	}
	return h
}
