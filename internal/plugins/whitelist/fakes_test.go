package whitelist

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/keyxmakerx/loginfirewall/internal/apperror"
	"github.com/keyxmakerx/loginfirewall/internal/plugins/audit"
	"github.com/keyxmakerx/loginfirewall/internal/zoraxy"
)

var errRemote = errors.New("remote unavailable")

// memRepo is an in-memory EntryRepository with the same upsert semantics
// as the MariaDB implementation.
type memRepo struct {
	mu      sync.Mutex
	entries map[Key]Entry
	nextID  int64

	upsertErr error

	// staleExpired, when set, is returned by FindExpired instead of the
	// real expired set, simulating a renewal that raced the listing.
	staleExpired []Entry
}

func newMemRepo() *memRepo {
	return &memRepo{entries: make(map[Key]Entry)}
}

func (r *memRepo) Upsert(_ context.Context, e *Entry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return false, r.upsertErr
	}
	key := e.Key()
	if cur, ok := r.entries[key]; ok {
		cur.ExpiresAt = e.ExpiresAt
		cur.Comment = e.Comment
		r.entries[key] = cur
		return false, nil
	}
	r.nextID++
	stored := *e
	stored.ID = r.nextID
	r.entries[key] = stored
	return true, nil
}

func (r *memRepo) Find(_ context.Context, key Key) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return nil, apperror.NewNotFound("whitelist entry not found")
	}
	return &e, nil
}

func (r *memRepo) FindByUser(_ context.Context, userID string) ([]Entry, error) {
	return r.filter(func(e Entry) bool { return e.UserID == userID }), nil
}

func (r *memRepo) FindExpired(_ context.Context, now time.Time) ([]Entry, error) {
	r.mu.Lock()
	stale := r.staleExpired
	r.mu.Unlock()
	if stale != nil {
		return stale, nil
	}
	return r.filter(func(e Entry) bool { return e.ExpiresAt.Before(now) }), nil
}

func (r *memRepo) Delete(_ context.Context, key Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
	return nil
}

func (r *memRepo) ListActive(_ context.Context, now time.Time) ([]Entry, error) {
	return r.filter(func(e Entry) bool { return !e.ExpiresAt.Before(now) }), nil
}

func (r *memRepo) filter(keep func(Entry) bool) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memRepo) get(key Key) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	return e, ok
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// staticResolver maps users to fixed targets.
type staticResolver struct {
	targets map[string][]string
	err     error
}

func (s *staticResolver) TargetsForUser(_ context.Context, userID string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.targets[userID], nil
}

// fakeGateway records remote whitelist state the way Zoraxy would:
// adding an existing IP is a no-op and removing an absent IP fails with a
// "not found" API error.
type fakeGateway struct {
	mu        sync.Mutex
	remote    map[string]map[string]string
	addErr    map[string]error
	removeErr map[string]error
	adds      int
	removes   int

	// onRemove, if set, runs before each remove is applied.
	onRemove func()
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		remote:    make(map[string]map[string]string),
		addErr:    make(map[string]error),
		removeErr: make(map[string]error),
	}
}

func (g *fakeGateway) AddEntry(_ context.Context, target, ip, comment string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.adds++
	if err := g.addErr[target]; err != nil {
		return err
	}
	if g.remote[target] == nil {
		g.remote[target] = make(map[string]string)
	}
	g.remote[target][ip] = comment
	return nil
}

func (g *fakeGateway) RemoveEntry(_ context.Context, target, ip string) error {
	g.mu.Lock()
	hook := g.onRemove
	g.mu.Unlock()
	if hook != nil {
		hook()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.removes++
	if err := g.removeErr[target]; err != nil {
		return err
	}
	if _, ok := g.remote[target][ip]; !ok {
		return &zoraxy.APIError{Message: "IP not found in whitelist"}
	}
	delete(g.remote[target], ip)
	return nil
}

func (g *fakeGateway) has(target, ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.remote[target][ip]
	return ok
}

func (g *fakeGateway) counts() (adds, removes int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.adds, g.removes
}

func (g *fakeGateway) setRemoveErr(target string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.removeErr, target)
		return
	}
	g.removeErr[target] = err
}

// recordingAudit collects audit actions.
type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAudit) Log(_ context.Context, e *audit.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, e.Action)
	return nil
}

func (a *recordingAudit) list() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.actions...)
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
