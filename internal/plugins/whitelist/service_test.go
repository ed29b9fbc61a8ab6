package whitelist

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/loginfirewall/internal/apperror"
	"github.com/keyxmakerx/loginfirewall/internal/plugins/audit"
	"github.com/keyxmakerx/loginfirewall/internal/zoraxy"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type harness struct {
	svc      WhitelistService
	repo     *memRepo
	gateway  *fakeGateway
	resolver *staticResolver
	clock    *fakeClock
	audit    *recordingAudit
	metrics  *Metrics
}

func newHarness(t *testing.T, targets map[string][]string) *harness {
	t.Helper()
	h := &harness{
		repo:     newMemRepo(),
		gateway:  newFakeGateway(),
		resolver: &staticResolver{targets: targets},
		clock:    &fakeClock{now: t0},
		audit:    &recordingAudit{},
		metrics:  NewMetrics(prometheus.NewPedanticRegistry()),
	}
	h.svc = NewWhitelistService(h.repo, h.resolver, h.gateway, Options{
		Now:     h.clock.Now,
		Metrics: h.metrics,
		Audit:   h.audit,
	})
	return h
}

func (h *harness) advance(d time.Duration) {
	h.clock.Set(t0.Add(d))
}

func TestPropagate_IdempotentRenewal(t *testing.T) {
	h := newHarness(t, map[string][]string{"u1": {"grpA"}})
	ctx := context.Background()
	key := Key{UserID: "u1", WhitelistID: "grpA", IP: "203.0.113.7"}

	_, err := h.svc.Propagate(ctx, "u1", "203.0.113.7")
	require.NoError(t, err)
	first, ok := h.repo.get(key)
	require.True(t, ok)
	assert.Equal(t, t0.Add(DefaultTTL), first.ExpiresAt)
	assert.Equal(t, DefaultComment, first.Comment)

	h.advance(time.Hour)
	res, err := h.svc.Propagate(ctx, "u1", "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, []string{"grpA"}, res.Succeeded)

	assert.Equal(t, 1, h.repo.count(), "renewal must not duplicate")
	renewed, _ := h.repo.get(key)
	assert.Equal(t, first.ID, renewed.ID)
	assert.Equal(t, t0.Add(time.Hour+DefaultTTL), renewed.ExpiresAt)
	assert.True(t, renewed.ExpiresAt.After(renewed.CreatedAt))
	assert.Equal(t, []string{audit.ActionWhitelistGranted, audit.ActionWhitelistRenewed}, h.audit.list())
}

func TestPropagate_PartialFailureIsolated(t *testing.T) {
	h := newHarness(t, map[string][]string{"u1": {"t1", "t2", "t3"}})
	h.gateway.addErr["t2"] = errRemote

	res, err := h.svc.Propagate(context.Background(), "u1", "198.51.100.4")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"t1", "t3"}, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "t2", res.Failed[0].WhitelistID)
	assert.True(t, res.Degraded())

	assert.Equal(t, 2, h.repo.count())
	_, ok := h.repo.get(Key{UserID: "u1", WhitelistID: "t2", IP: "198.51.100.4"})
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.propagations.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.targetOutcomes.WithLabelValues("add", "failure")))
}

func TestPropagate_NoTargets(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.svc.Propagate(context.Background(), "u1", "198.51.100.4")
	require.NoError(t, err)
	assert.True(t, res.NoTargets)
	assert.Empty(t, res.Succeeded)
	assert.False(t, res.Degraded())

	adds, _ := h.gateway.counts()
	assert.Zero(t, adds)
}

func TestPropagate_DedupesTargets(t *testing.T) {
	h := newHarness(t, map[string][]string{"u1": {"w1", "", "w1", "w2"}})

	res, err := h.svc.Propagate(context.Background(), "u1", "198.51.100.4")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"w1", "w2"}, res.Succeeded)

	adds, _ := h.gateway.counts()
	assert.Equal(t, 2, adds)
}

func TestPropagate_ResolverFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.resolver.err = errors.New("db down")

	_, err := h.svc.Propagate(context.Background(), "u1", "198.51.100.4")
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 500, appErr.Code)

	adds, _ := h.gateway.counts()
	assert.Zero(t, adds)
}

func TestPropagate_InvalidIP(t *testing.T) {
	h := newHarness(t, map[string][]string{"u1": {"w1"}})

	_, err := h.svc.Propagate(context.Background(), "u1", "not-an-ip")
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 400, appErr.Code)
}

func TestPropagate_NormalizesMappedIPv4(t *testing.T) {
	h := newHarness(t, map[string][]string{"u1": {"w1"}})

	res, err := h.svc.Propagate(context.Background(), "u1", "::ffff:203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", res.IP)
	assert.True(t, h.gateway.has("w1", "203.0.113.7"))
}

func TestPropagate_NotConfigured(t *testing.T) {
	repo := newMemRepo()
	svc := NewWhitelistService(repo, &staticResolver{targets: map[string][]string{"u1": {"w1"}}}, nil, Options{})

	assert.False(t, svc.Configured())
	res, err := svc.Propagate(context.Background(), "u1", "198.51.100.4")
	require.NoError(t, err)
	assert.True(t, res.NotConfigured)
	assert.Zero(t, repo.count())

	sweep, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.True(t, sweep.NotConfigured)
}

func TestPropagate_CompensatesUnrecordedGrant(t *testing.T) {
	h := newHarness(t, map[string][]string{"u1": {"w1"}})
	h.repo.upsertErr = errors.New("disk full")

	res, err := h.svc.Propagate(context.Background(), "u1", "198.51.100.4")
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)

	assert.False(t, h.gateway.has("w1", "198.51.100.4"), "remote grant must be rolled back")
	_, removes := h.gateway.counts()
	assert.Equal(t, 1, removes)
}

func TestPropagate_KeepsExistingGrantWhenRenewalRecordFails(t *testing.T) {
	h := newHarness(t, map[string][]string{"u1": {"w1"}})
	ctx := context.Background()

	_, err := h.svc.Propagate(ctx, "u1", "198.51.100.4")
	require.NoError(t, err)

	h.repo.upsertErr = errors.New("disk full")
	_, err = h.svc.Propagate(ctx, "u1", "198.51.100.4")
	require.NoError(t, err)

	assert.True(t, h.gateway.has("w1", "198.51.100.4"))
	_, removes := h.gateway.counts()
	assert.Zero(t, removes)
}

func TestRevokeAll(t *testing.T) {
	h := newHarness(t, map[string][]string{"u1": {"w1", "w2"}})
	ctx := context.Background()

	_, err := h.svc.Propagate(ctx, "u1", "198.51.100.4")
	require.NoError(t, err)
	h.gateway.setRemoveErr("w2", errRemote)

	n, err := h.svc.RevokeAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	remaining, _ := h.svc.ListForUser(ctx, "u1")
	require.Len(t, remaining, 1)
	assert.Equal(t, "w2", remaining[0].WhitelistID, "failed removal keeps its record")
	assert.True(t, h.gateway.has("w2", "198.51.100.4"))
}

func TestRevokeAll_AbsentRemotelyCountsAsRemoved(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.repo.Upsert(ctx, &Entry{UserID: "u1", WhitelistID: "w1", IP: "198.51.100.4",
		CreatedAt: t0, ExpiresAt: t0.Add(DefaultTTL)})
	require.NoError(t, err)

	n, err := h.svc.RevokeAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, h.repo.count())
}

func TestSweep_DeletesOnlyAfterRemoteConfirmation(t *testing.T) {
	h := newHarness(t, map[string][]string{"u1": {"w1", "w2"}})
	ctx := context.Background()

	_, err := h.svc.Propagate(ctx, "u1", "198.51.100.4")
	require.NoError(t, err)
	h.gateway.setRemoveErr("w2", errRemote)
	h.advance(DefaultTTL + time.Minute)

	res, err := h.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 1, res.StillFailing)
	assert.Equal(t, 1, h.repo.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.stillFailing))

	h.gateway.setRemoveErr("w2", nil)
	res, err = h.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	assert.Zero(t, res.StillFailing)
	assert.Zero(t, h.repo.count())
	assert.False(t, h.gateway.has("w2", "198.51.100.4"))

	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.sweeps))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.lastSweepResult))
}

func TestSweep_KeepsEntryWhenRemoveRouteIsMissing(t *testing.T) {
	h := newHarness(t, map[string][]string{"alice": {"grpA"}})
	ctx := context.Background()

	_, err := h.svc.Propagate(ctx, "alice", "203.0.113.7")
	require.NoError(t, err)
	h.gateway.setRemoveErr("grpA", &zoraxy.RemoteError{
		Op:     "remove",
		Target: "grpA",
		Status: http.StatusNotFound,
		Cause:  &zoraxy.StatusError{Status: http.StatusNotFound, Body: "404 page not found"},
	})
	h.advance(25 * time.Hour)

	res, err := h.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Removed)
	assert.Equal(t, 1, res.StillFailing)
	assert.Equal(t, 1, h.repo.count(), "entry survives until removal is confirmed")
	assert.True(t, h.gateway.has("grpA", "203.0.113.7"))

	n, err := h.svc.RevokeAll(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, h.repo.count())
}

func TestSweep_LeavesRenewedEntry(t *testing.T) {
	h := newHarness(t, map[string][]string{"u1": {"w1"}})
	ctx := context.Background()

	_, err := h.svc.Propagate(ctx, "u1", "198.51.100.4")
	require.NoError(t, err)
	current, _ := h.repo.get(Key{UserID: "u1", WhitelistID: "w1", IP: "198.51.100.4"})

	stale := current
	stale.ExpiresAt = t0.Add(-time.Minute)
	h.repo.staleExpired = []Entry{stale}

	res, err := h.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Renewed)
	assert.Zero(t, res.Removed)
	assert.True(t, h.gateway.has("w1", "198.51.100.4"))
	assert.Equal(t, 1, h.repo.count())
}

func TestSweep_SkipsWhileRunning(t *testing.T) {
	h := newHarness(t, map[string][]string{"u1": {"w1"}})
	ctx := context.Background()

	_, err := h.svc.Propagate(ctx, "u1", "198.51.100.4")
	require.NoError(t, err)
	h.advance(DefaultTTL + time.Minute)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.gateway.onRemove = func() {
		once.Do(func() { close(entered) })
		<-release
	}

	done := make(chan *SweepResult)
	go func() {
		res, _ := h.svc.Sweep(ctx)
		done <- res
	}()
	<-entered

	res, err := h.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.skippedSweeps))

	close(release)
	first := <-done
	require.NotNil(t, first)
	assert.Equal(t, 1, first.Removed)
}

// A user in two groups logs in, logs in again 11 hours later, and the
// sweeps run at +25h and +36h.
func TestAliceScenario(t *testing.T) {
	h := newHarness(t, map[string][]string{"alice": {"grpA", "grpB"}})
	ctx := context.Background()
	const ip = "203.0.113.7"

	res, err := h.svc.Propagate(ctx, "alice", ip)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"grpA", "grpB"}, res.Succeeded)
	for _, target := range []string{"grpA", "grpB"} {
		e, ok := h.repo.get(Key{UserID: "alice", WhitelistID: target, IP: ip})
		require.True(t, ok)
		assert.Equal(t, t0.Add(24*time.Hour), e.ExpiresAt)
		assert.True(t, h.gateway.has(target, ip))
	}

	h.advance(11 * time.Hour)
	_, err = h.svc.Propagate(ctx, "alice", ip)
	require.NoError(t, err)
	assert.Equal(t, 2, h.repo.count())
	for _, target := range []string{"grpA", "grpB"} {
		e, _ := h.repo.get(Key{UserID: "alice", WhitelistID: target, IP: ip})
		assert.Equal(t, t0.Add(35*time.Hour), e.ExpiresAt)
	}

	// The renewal pushed expiry to +35h, so the +25h sweep has nothing to do.
	h.advance(25 * time.Hour)
	sweep, err := h.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, sweep.Removed)
	assert.Equal(t, 2, h.repo.count())

	h.advance(36 * time.Hour)
	sweep, err = h.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sweep.Removed)
	assert.Zero(t, h.repo.count())
	assert.False(t, h.gateway.has("grpA", ip))
	assert.False(t, h.gateway.has("grpB", ip))
}

func TestListActive(t *testing.T) {
	h := newHarness(t, map[string][]string{"u1": {"w1"}, "u2": {"w2"}})
	ctx := context.Background()

	_, err := h.svc.Propagate(ctx, "u1", "198.51.100.4")
	require.NoError(t, err)
	h.advance(12 * time.Hour)
	_, err = h.svc.Propagate(ctx, "u2", "198.51.100.5")
	require.NoError(t, err)

	h.advance(30 * time.Hour)
	active, err := h.svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "u2", active[0].UserID)
}
