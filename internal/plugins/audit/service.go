package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/keyxmakerx/loginfirewall/internal/apperror"
)

// perPage is the number of audit entries shown per page in the activity feed.
const perPage = 50

// maxUserHistoryEntries caps the history returned for a single user.
const maxUserHistoryEntries = 100

// AuditService handles business logic for the audit log. It validates inputs,
// enforces limits, and delegates persistence to the repository.
type AuditService interface {
	// Log records an audit entry. Designed to be fire-and-forget friendly:
	// errors are logged but callers may choose to ignore them since audit
	// failures should not block the primary operation.
	Log(ctx context.Context, entry *AuditEntry) error

	// ListRecent returns a page of the site-wide activity feed and the
	// total entry count.
	ListRecent(ctx context.Context, page int) ([]AuditEntry, int, error)

	// ListByUser returns the recent history for one user.
	ListByUser(ctx context.Context, userID string) ([]AuditEntry, error)
}

// auditService implements AuditService.
type auditService struct {
	repo AuditRepository
}

// NewAuditService creates a new audit service with the given repository.
func NewAuditService(repo AuditRepository) AuditService {
	return &auditService{repo: repo}
}

// Log validates and persists an audit entry.
func (s *auditService) Log(ctx context.Context, entry *AuditEntry) error {
	if entry.Action == "" {
		return apperror.NewBadRequest("action is required for audit entry")
	}
	// Rejected logins may not map to any account.
	if entry.UserID == "" && entry.ActorID == "" && entry.Action != ActionLoginFailed {
		return apperror.NewBadRequest("user or actor is required for audit entry")
	}

	if err := s.repo.Log(ctx, entry); err != nil {
		slog.Error("failed to write audit log entry",
			slog.String("user_id", entry.UserID),
			slog.String("action", entry.Action),
			slog.Any("error", err),
		)
		return apperror.NewInternal(fmt.Errorf("writing audit entry: %w", err))
	}

	return nil
}

// ListRecent returns the paginated activity feed. Pages are 1-indexed.
// Invalid page numbers are clamped to 1.
func (s *auditService) ListRecent(ctx context.Context, page int) ([]AuditEntry, int, error) {
	if page < 1 {
		page = 1
	}

	offset := (page - 1) * perPage
	entries, total, err := s.repo.ListRecent(ctx, perPage, offset)
	if err != nil {
		return nil, 0, apperror.NewInternal(fmt.Errorf("listing activity: %w", err))
	}

	return entries, total, nil
}

// ListByUser returns the recent history for one user.
func (s *auditService) ListByUser(ctx context.Context, userID string) ([]AuditEntry, error) {
	if userID == "" {
		return nil, apperror.NewBadRequest("user ID is required")
	}

	entries, err := s.repo.ListByUser(ctx, userID, maxUserHistoryEntries)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing user history: %w", err))
	}

	return entries, nil
}
