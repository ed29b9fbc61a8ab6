// Package audit records security-relevant actions: portal logins and the
// lifecycle of whitelist grants on the firewall. Entries are persisted to
// the audit_log table and surfaced on the admin activity feed.
//
// Audit writes are best-effort. A failed write is logged but never blocks
// the operation being audited.
package audit

import "time"

// --- Action Constants ---
// Each action string follows the pattern "resource.verb" for consistent
// filtering and display grouping.

const (
	// ActionLoginSucceeded is logged after a successful portal login.
	ActionLoginSucceeded = "login.succeeded"

	// ActionLoginFailed is logged when credentials are rejected.
	ActionLoginFailed = "login.failed"

	// ActionLogout is logged when a user ends their session.
	ActionLogout = "logout"

	// ActionWhitelistGranted is logged when an IP is first added to a rule.
	ActionWhitelistGranted = "whitelist.granted"

	// ActionWhitelistRenewed is logged when a repeat login extends a grant.
	ActionWhitelistRenewed = "whitelist.renewed"

	// ActionWhitelistRevoked is logged when a grant is removed on logout or
	// by an admin.
	ActionWhitelistRevoked = "whitelist.revoked"

	// ActionWhitelistExpired is logged when the sweep removes a grant.
	ActionWhitelistExpired = "whitelist.expired"

	// ActionWhitelistFailed is logged when a remote add or remove fails.
	ActionWhitelistFailed = "whitelist.failed"

	// ActionGroupChanged is logged for admin edits to groups and membership.
	ActionGroupChanged = "group.changed"

	// ActionUserChanged is logged for admin edits to accounts.
	ActionUserChanged = "user.changed"
)

// AuditEntry represents a single recorded action in the audit log.
// WhitelistID and IP are set for whitelist actions. The Details map holds
// action-specific metadata (e.g., the remote error for a failure).
type AuditEntry struct {
	ID          int64          `json:"id"`
	UserID      string         `json:"userId,omitempty"`
	ActorID     string         `json:"actorId,omitempty"` // Admin who performed the action.
	Action      string         `json:"action"`
	WhitelistID string         `json:"whitelistId,omitempty"`
	IP          string         `json:"ip,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`

	// UserName is joined from the users table for display in the activity
	// feed. Not stored in audit_log -- populated at query time.
	UserName string `json:"userName,omitempty"`
}
