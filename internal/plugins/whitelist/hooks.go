package whitelist

import (
	"context"
	"log/slog"
	"time"
)

// propagateBudget bounds how long a login or refresh waits for
// propagation. Targets that do not answer in time are reported as failed
// and retried on the next login or refresh.
const propagateBudget = 20 * time.Second

// AccessHooks plugs the lifecycle manager into portal login and logout.
// It satisfies auth.AccessHooks.
type AccessHooks struct {
	service WhitelistService
	budget  time.Duration
}

// NewAccessHooks creates login/logout hooks over service.
func NewAccessHooks(service WhitelistService) *AccessHooks {
	return &AccessHooks{service: service, budget: propagateBudget}
}

// GrantAccess propagates ip for the user. It never fails the login: an
// error or a partial propagation is reported as degraded.
func (a *AccessHooks) GrantAccess(ctx context.Context, userID, ip string) bool {
	ctx, cancel := detach(ctx, a.budget)
	defer cancel()

	result, err := a.service.Propagate(ctx, userID, ip)
	if err != nil {
		slog.Error("login propagation failed",
			slog.String("user_id", userID),
			slog.String("ip", ip),
			slog.Any("error", err),
		)
		return true
	}
	return result.Degraded()
}

// RevokeAccess removes every grant the user holds. Grants that cannot be
// removed now are left for the sweep.
func (a *AccessHooks) RevokeAccess(ctx context.Context, userID string) {
	ctx, cancel := detach(ctx, a.budget)
	defer cancel()

	if _, err := a.service.RevokeAll(ctx, userID); err != nil {
		slog.Error("revoking whitelist on logout failed",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
	}
}

// detach keeps the request's values but not its cancellation, so a client
// that disconnects mid-propagation cannot leave a remote grant unrecorded.
func detach(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), budget)
}
