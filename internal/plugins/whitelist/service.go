package whitelist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/keyxmakerx/loginfirewall/internal/apperror"
	"github.com/keyxmakerx/loginfirewall/internal/plugins/audit"
	"github.com/keyxmakerx/loginfirewall/internal/zoraxy"
)

// Defaults applied by NewWhitelistService for zero Options fields.
const (
	DefaultTTL         = 24 * time.Hour
	DefaultComment     = "Added via LoginFirewall - 24h access"
	DefaultConcurrency = 4
)

// TargetResolver returns the whitelist ids a user is entitled to. Backed
// by group membership.
type TargetResolver interface {
	TargetsForUser(ctx context.Context, userID string) ([]string, error)
}

// Gateway mutates remote whitelists. *zoraxy.Client satisfies it.
type Gateway interface {
	AddEntry(ctx context.Context, target, ip, comment string) error
	RemoveEntry(ctx context.Context, target, ip string) error
}

// AuditLogger records lifecycle events. audit.AuditService satisfies it.
type AuditLogger interface {
	Log(ctx context.Context, entry *audit.AuditEntry) error
}

// Options tunes the lifecycle manager.
type Options struct {
	TTL         time.Duration
	Comment     string
	Concurrency int

	// Now overrides the clock, for tests.
	Now func() time.Time

	Metrics *Metrics
	Audit   AuditLogger
}

// WhitelistService owns the set of whitelist entries. Handlers and the
// sweeper call these methods -- they never touch the repository directly.
type WhitelistService interface {
	// Propagate grants ip on every whitelist userID is entitled to,
	// renewing existing grants. A single target's failure never blocks
	// the others; only a resolver failure fails the whole call.
	Propagate(ctx context.Context, userID, ip string) (*PropagateResult, error)

	// RevokeAll removes every grant held by userID and returns how many
	// were removed. Grants whose remote removal fails stay for the sweep.
	RevokeAll(ctx context.Context, userID string) (int, error)

	// Sweep removes expired grants. Overlapping calls are skipped.
	Sweep(ctx context.Context) (*SweepResult, error)

	ListForUser(ctx context.Context, userID string) ([]Entry, error)
	ListActive(ctx context.Context) ([]Entry, error)

	// Configured reports whether a remote gateway is available.
	Configured() bool

	// Now is the service clock, in UTC.
	Now() time.Time
}

// whitelistService implements WhitelistService.
type whitelistService struct {
	repo     EntryRepository
	resolver TargetResolver
	gateway  Gateway
	opts     Options

	locks    *keyedMutex
	sweeping sync.Mutex
}

// NewWhitelistService creates the lifecycle manager. A nil gateway means
// the remote API is not configured: Propagate and Sweep become reporting
// no-ops.
func NewWhitelistService(repo EntryRepository, resolver TargetResolver, gateway Gateway, opts Options) WhitelistService {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Comment == "" {
		opts.Comment = DefaultComment
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	return &whitelistService{
		repo:     repo,
		resolver: resolver,
		gateway:  gateway,
		opts:     opts,
		locks:    newKeyedMutex(),
	}
}

func (s *whitelistService) Configured() bool {
	return s.gateway != nil
}

func (s *whitelistService) Now() time.Time {
	return s.opts.Now().UTC()
}

// Propagate resolves the user's targets and grants ip on each of them in
// parallel, bounded by Options.Concurrency.
func (s *whitelistService) Propagate(ctx context.Context, userID, ip string) (*PropagateResult, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return nil, apperror.NewBadRequest("invalid client IP address")
	}
	ip = addr.Unmap().String()

	result := &PropagateResult{IP: ip, Succeeded: []string{}}
	if s.gateway == nil {
		result.NotConfigured = true
		s.opts.Metrics.observePropagation(result)
		return result, nil
	}

	targets, err := s.resolver.TargetsForUser(ctx, userID)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("resolving whitelist targets: %w", err))
	}
	targets = dedupe(targets)
	if len(targets) == 0 {
		result.NoTargets = true
		s.opts.Metrics.observePropagation(result)
		slog.Debug("user has no whitelist targets", slog.String("user_id", userID))
		return result, nil
	}

	errs := make([]error, len(targets))
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, target := range targets {
		g.Go(func() error {
			errs[i] = s.propagateOne(ctx, Key{UserID: userID, WhitelistID: target, IP: ip})
			return nil
		})
	}
	_ = g.Wait()

	for i, target := range targets {
		if errs[i] != nil {
			result.Failed = append(result.Failed, TargetFailure{WhitelistID: target, Error: errs[i].Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, target)
	}

	s.opts.Metrics.observePropagation(result)
	slog.Info("whitelist propagated",
		slog.String("user_id", userID),
		slog.String("ip", ip),
		slog.Int("succeeded", len(result.Succeeded)),
		slog.Int("failed", len(result.Failed)),
	)
	return result, nil
}

// propagateOne adds the grant remotely, then records it. If the record
// cannot be written for a brand-new grant, the remote grant is rolled back
// so it cannot outlive every future sweep.
func (s *whitelistService) propagateOne(ctx context.Context, key Key) error {
	unlock := s.locks.Lock(key)
	defer unlock()

	existed := true
	if _, err := s.repo.Find(ctx, key); err != nil {
		if !isNotFound(err) {
			return fmt.Errorf("checking existing entry: %w", err)
		}
		existed = false
	}

	err := s.gateway.AddEntry(ctx, key.WhitelistID, key.IP, s.opts.Comment)
	s.opts.Metrics.observeTarget("add", err)
	if err != nil {
		slog.Warn("whitelist add failed",
			slog.String("user_id", key.UserID),
			slog.String("whitelist_id", key.WhitelistID),
			slog.String("ip", key.IP),
			slog.Any("error", err),
		)
		s.audit(ctx, audit.ActionWhitelistFailed, key, map[string]any{"op": "add", "error": err.Error()})
		return err
	}

	now := s.Now()
	entry := &Entry{
		UserID:      key.UserID,
		WhitelistID: key.WhitelistID,
		IP:          key.IP,
		Comment:     s.opts.Comment,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.opts.TTL),
	}
	created, err := s.repo.Upsert(ctx, entry)
	if err != nil {
		if !existed {
			s.compensate(ctx, key)
		}
		return fmt.Errorf("recording whitelist entry: %w", err)
	}

	action := audit.ActionWhitelistRenewed
	if created {
		action = audit.ActionWhitelistGranted
	}
	s.audit(ctx, action, key, map[string]any{"expires_at": entry.ExpiresAt})
	return nil
}

// compensate removes a remote grant that has no local record.
func (s *whitelistService) compensate(ctx context.Context, key Key) {
	ctx = context.WithoutCancel(ctx)
	if err := s.gateway.RemoveEntry(ctx, key.WhitelistID, key.IP); err != nil && !zoraxy.IsNotFound(err) {
		slog.Error("orphaned remote whitelist entry",
			slog.String("user_id", key.UserID),
			slog.String("whitelist_id", key.WhitelistID),
			slog.String("ip", key.IP),
			slog.Any("error", err),
		)
	}
}

// RevokeAll removes every grant for userID. Local records are deleted only
// after the remote side confirms removal or reports the entry absent.
func (s *whitelistService) RevokeAll(ctx context.Context, userID string) (int, error) {
	entries, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		return 0, apperror.NewInternal(fmt.Errorf("listing user whitelist entries: %w", err))
	}
	if len(entries) == 0 {
		return 0, nil
	}
	if s.gateway == nil {
		slog.Warn("cannot revoke whitelist entries: zoraxy not configured",
			slog.String("user_id", userID),
			slog.Int("entries", len(entries)),
		)
		return 0, nil
	}

	revoked := make([]bool, len(entries))
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i := range entries {
		g.Go(func() error {
			revoked[i] = s.removeOne(ctx, entries[i].Key(), audit.ActionWhitelistRevoked, nil)
			return nil
		})
	}
	_ = g.Wait()

	count := 0
	for _, ok := range revoked {
		if ok {
			count++
		}
	}
	slog.Info("whitelist revoked",
		slog.String("user_id", userID),
		slog.Int("revoked", count),
		slog.Int("remaining", len(entries)-count),
	)
	return count, nil
}

// sweepOutcome is what happened to one expired entry during a sweep.
type sweepOutcome int

const (
	sweepGone sweepOutcome = iota
	sweepRemoved
	sweepFailed
	sweepRenewed
)

// Sweep removes every entry that expired before now. It is non-reentrant:
// a call that finds another sweep running returns immediately with
// Skipped set.
func (s *whitelistService) Sweep(ctx context.Context) (*SweepResult, error) {
	if !s.sweeping.TryLock() {
		s.opts.Metrics.skippedSweeps.Inc()
		slog.Info("whitelist sweep already running, skipping")
		return &SweepResult{Skipped: true}, nil
	}
	defer s.sweeping.Unlock()

	start := time.Now()
	defer func() {
		s.opts.Metrics.lastSweepDuration.Set(time.Since(start).Seconds())
	}()
	s.opts.Metrics.sweeps.Inc()

	now := s.Now()
	expired, err := s.repo.FindExpired(ctx, now)
	if err != nil {
		s.opts.Metrics.failedSweeps.Inc()
		s.opts.Metrics.lastSweepResult.Set(0)
		return nil, apperror.NewInternal(fmt.Errorf("listing expired whitelist entries: %w", err))
	}

	result := &SweepResult{}
	if s.gateway == nil {
		result.NotConfigured = true
		result.StillFailing = len(expired)
		s.opts.Metrics.stillFailing.Set(float64(result.StillFailing))
		s.opts.Metrics.lastSweepResult.Set(0)
		if len(expired) > 0 {
			slog.Warn("expired whitelist entries cannot be removed: zoraxy not configured",
				slog.Int("entries", len(expired)),
			)
		}
		return result, nil
	}

	outcomes := make([]sweepOutcome, len(expired))
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i := range expired {
		g.Go(func() error {
			outcomes[i] = s.sweepOne(ctx, expired[i].Key(), now)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		switch o {
		case sweepRemoved:
			result.Removed++
		case sweepFailed:
			result.StillFailing++
		case sweepRenewed:
			result.Renewed++
		}
	}

	s.opts.Metrics.stillFailing.Set(float64(result.StillFailing))
	s.opts.Metrics.lastSweepResult.Set(1)
	s.opts.Metrics.lastSweepSuccess.SetToCurrentTime()
	slog.Info("whitelist sweep finished",
		slog.Int("expired", len(expired)),
		slog.Int("removed", result.Removed),
		slog.Int("still_failing", result.StillFailing),
		slog.Int("renewed", result.Renewed),
	)
	return result, nil
}

// sweepOne re-reads the entry under its key lock so a renewal that raced
// the sweep is never removed.
func (s *whitelistService) sweepOne(ctx context.Context, key Key, now time.Time) sweepOutcome {
	unlock := s.locks.Lock(key)
	defer unlock()

	current, err := s.repo.Find(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return sweepGone
		}
		slog.Warn("re-reading expired whitelist entry failed",
			slog.String("whitelist_id", key.WhitelistID),
			slog.String("ip", key.IP),
			slog.Any("error", err),
		)
		return sweepFailed
	}
	if !current.Expired(now) {
		return sweepRenewed
	}

	if !s.removeLocked(ctx, key, audit.ActionWhitelistExpired, map[string]any{"expired_at": current.ExpiresAt}) {
		return sweepFailed
	}
	return sweepRemoved
}

// removeOne takes the key lock and removes the grant.
func (s *whitelistService) removeOne(ctx context.Context, key Key, action string, details map[string]any) bool {
	unlock := s.locks.Lock(key)
	defer unlock()
	return s.removeLocked(ctx, key, action, details)
}

// removeLocked removes the grant remotely and, once confirmed, deletes the
// local record. The caller holds the key lock.
func (s *whitelistService) removeLocked(ctx context.Context, key Key, action string, details map[string]any) bool {
	err := s.gateway.RemoveEntry(ctx, key.WhitelistID, key.IP)
	if err != nil && zoraxy.IsNotFound(err) {
		slog.Debug("whitelist entry already absent remotely",
			slog.String("whitelist_id", key.WhitelistID),
			slog.String("ip", key.IP),
		)
		err = nil
	}
	s.opts.Metrics.observeTarget("remove", err)
	if err != nil {
		slog.Warn("whitelist remove failed",
			slog.String("user_id", key.UserID),
			slog.String("whitelist_id", key.WhitelistID),
			slog.String("ip", key.IP),
			slog.Any("error", err),
		)
		s.audit(ctx, audit.ActionWhitelistFailed, key, map[string]any{"op": "remove", "error": err.Error()})
		return false
	}

	if err := s.repo.Delete(ctx, key); err != nil {
		// The next sweep sees the remote side absent and retries the delete.
		slog.Error("deleting whitelist entry failed",
			slog.String("user_id", key.UserID),
			slog.String("whitelist_id", key.WhitelistID),
			slog.Any("error", err),
		)
		return false
	}

	s.audit(ctx, action, key, details)
	return true
}

func (s *whitelistService) ListForUser(ctx context.Context, userID string) ([]Entry, error) {
	entries, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing user whitelist entries: %w", err))
	}
	return entries, nil
}

func (s *whitelistService) ListActive(ctx context.Context) ([]Entry, error) {
	entries, err := s.repo.ListActive(ctx, s.Now())
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing active whitelist entries: %w", err))
	}
	return entries, nil
}

// audit writes a best-effort audit entry.
func (s *whitelistService) audit(ctx context.Context, action string, key Key, details map[string]any) {
	if s.opts.Audit == nil {
		return
	}
	entry := &audit.AuditEntry{
		UserID:      key.UserID,
		Action:      action,
		WhitelistID: key.WhitelistID,
		IP:          key.IP,
		Details:     details,
	}
	if err := s.opts.Audit.Log(context.WithoutCancel(ctx), entry); err != nil {
		slog.Warn("failed to audit whitelist event",
			slog.String("action", action),
			slog.Any("error", err),
		)
	}
}

// dedupe drops blank and repeated ids, keeping first-seen order.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// isNotFound checks for an apperror.NotFound from the repository.
func isNotFound(err error) bool {
	var appErr *apperror.AppError
	return errors.As(err, &appErr) && appErr.Code == 404
}
