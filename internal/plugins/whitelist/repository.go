package whitelist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/keyxmakerx/loginfirewall/internal/apperror"
)

// EntryRepository defines the data access contract for whitelist entries.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type EntryRepository interface {
	// Upsert inserts the entry or, if its key already exists, extends
	// expires_at and refreshes the comment. created reports whether a new
	// row was inserted.
	Upsert(ctx context.Context, entry *Entry) (created bool, err error)

	// Find returns the entry for key, or apperror.NotFound.
	Find(ctx context.Context, key Key) (*Entry, error)

	FindByUser(ctx context.Context, userID string) ([]Entry, error)

	// FindExpired returns entries whose expires_at is before now, oldest
	// first.
	FindExpired(ctx context.Context, now time.Time) ([]Entry, error)

	Delete(ctx context.Context, key Key) error

	// ListActive returns every unexpired entry joined with its username,
	// for the admin overview.
	ListActive(ctx context.Context, now time.Time) ([]Entry, error)
}

// entryRepository implements EntryRepository with hand-written MariaDB queries.
type entryRepository struct {
	db *sql.DB
}

// NewEntryRepository creates a new entry repository backed by the given DB pool.
func NewEntryRepository(db *sql.DB) EntryRepository {
	return &entryRepository{db: db}
}

const entryColumns = `id, user_id, whitelist_id, ip, comment, created_at, expires_at`

// Upsert relies on UNIQUE(user_id, whitelist_id, ip). MariaDB reports one
// affected row for an insert and two for an update that changed values.
func (r *entryRepository) Upsert(ctx context.Context, entry *Entry) (bool, error) {
	query := `INSERT INTO whitelisted_ips (user_id, whitelist_id, ip, comment, created_at, expires_at)
	          VALUES (?, ?, ?, ?, ?, ?)
	          ON DUPLICATE KEY UPDATE expires_at = VALUES(expires_at), comment = VALUES(comment)`

	res, err := r.db.ExecContext(ctx, query,
		entry.UserID, entry.WhitelistID, entry.IP, entry.Comment,
		entry.CreatedAt, entry.ExpiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("upserting whitelist entry: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows: %w", err)
	}
	return affected == 1, nil
}

func (r *entryRepository) Find(ctx context.Context, key Key) (*Entry, error) {
	query := `SELECT ` + entryColumns + `
	          FROM whitelisted_ips WHERE user_id = ? AND whitelist_id = ? AND ip = ?`

	e := &Entry{}
	err := r.db.QueryRowContext(ctx, query, key.UserID, key.WhitelistID, key.IP).Scan(
		&e.ID, &e.UserID, &e.WhitelistID, &e.IP, &e.Comment, &e.CreatedAt, &e.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("whitelist entry not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying whitelist entry: %w", err)
	}
	return e, nil
}

func (r *entryRepository) FindByUser(ctx context.Context, userID string) ([]Entry, error) {
	query := `SELECT ` + entryColumns + `
	          FROM whitelisted_ips WHERE user_id = ?
	          ORDER BY expires_at DESC`
	return r.list(ctx, query, userID)
}

func (r *entryRepository) FindExpired(ctx context.Context, now time.Time) ([]Entry, error) {
	query := `SELECT ` + entryColumns + `
	          FROM whitelisted_ips WHERE expires_at < ?
	          ORDER BY expires_at ASC`
	return r.list(ctx, query, now)
}

func (r *entryRepository) Delete(ctx context.Context, key Key) error {
	query := `DELETE FROM whitelisted_ips WHERE user_id = ? AND whitelist_id = ? AND ip = ?`
	if _, err := r.db.ExecContext(ctx, query, key.UserID, key.WhitelistID, key.IP); err != nil {
		return fmt.Errorf("deleting whitelist entry: %w", err)
	}
	return nil
}

func (r *entryRepository) ListActive(ctx context.Context, now time.Time) ([]Entry, error) {
	query := `SELECT w.id, w.user_id, w.whitelist_id, w.ip, w.comment, w.created_at, w.expires_at,
	                 COALESCE(u.username, '')
	          FROM whitelisted_ips w
	          LEFT JOIN users u ON u.id = w.user_id
	          WHERE w.expires_at >= ?
	          ORDER BY w.expires_at ASC`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("listing active whitelist entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.WhitelistID, &e.IP, &e.Comment,
			&e.CreatedAt, &e.ExpiresAt, &e.Username); err != nil {
			return nil, fmt.Errorf("scanning whitelist entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// list runs a query selecting entryColumns and scans every row.
func (r *entryRepository) list(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying whitelist entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.WhitelistID, &e.IP, &e.Comment,
			&e.CreatedAt, &e.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scanning whitelist entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
