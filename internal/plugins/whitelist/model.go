// Package whitelist owns the lifecycle of time-limited IP grants on the
// Zoraxy access rules a user is entitled to: propagating them on login,
// renewing them on repeat logins, and revoking them on logout or expiry.
package whitelist

import (
	"time"
)

// Key identifies one grant: one user's IP on one remote access rule.
type Key struct {
	UserID      string
	WhitelistID string
	IP          string
}

// Entry is a locally recorded grant. ExpiresAt is always after CreatedAt.
type Entry struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	WhitelistID string    `json:"whitelist_id"`
	IP          string    `json:"ip"`
	Comment     string    `json:"comment"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`

	// Joined for admin listings, not stored in whitelisted_ips.
	Username string `json:"username,omitempty"`
}

// Key returns the entry's uniqueness key.
func (e *Entry) Key() Key {
	return Key{UserID: e.UserID, WhitelistID: e.WhitelistID, IP: e.IP}
}

// Expired reports whether the entry is past its expiry at now.
func (e *Entry) Expired(now time.Time) bool {
	return e.ExpiresAt.Before(now)
}

// TargetFailure records a single access rule that could not be updated.
type TargetFailure struct {
	WhitelistID string `json:"whitelist_id"`
	Error       string `json:"error"`
}

// PropagateResult reports what a Propagate call achieved.
type PropagateResult struct {
	IP        string          `json:"ip"`
	Succeeded []string        `json:"succeeded"`
	Failed    []TargetFailure `json:"failed,omitempty"`

	// NoTargets is set when the user belongs to no group with a
	// whitelist. That is not a failure.
	NoTargets bool `json:"no_targets"`

	// NotConfigured is set when the remote API is not configured and
	// nothing was attempted.
	NotConfigured bool `json:"not_configured,omitempty"`
}

// Degraded reports whether at least one target did not receive the grant.
// An unconfigured firewall is not degraded; the dashboard reports that
// state on its own.
func (r *PropagateResult) Degraded() bool {
	return len(r.Failed) > 0
}

// SweepResult reports the outcome of one sweep cycle.
type SweepResult struct {
	Removed      int `json:"removed"`
	StillFailing int `json:"still_failing"`

	// Skipped is set when another sweep was already running.
	Skipped bool `json:"skipped,omitempty"`

	// Renewed counts expired entries that were renewed while the sweep
	// was waiting for their lock.
	Renewed int `json:"renewed,omitempty"`

	// NotConfigured is set when the remote API is not configured; expired
	// entries are left in place.
	NotConfigured bool `json:"not_configured,omitempty"`
}
