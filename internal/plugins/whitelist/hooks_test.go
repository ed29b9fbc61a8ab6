package whitelist

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessHooks_GrantAccess(t *testing.T) {
	h := newHarness(t, map[string][]string{"u1": {"w1", "w2"}})
	hooks := NewAccessHooks(h.svc)

	assert.False(t, hooks.GrantAccess(context.Background(), "u1", "198.51.100.4"))

	h.gateway.addErr["w2"] = errRemote
	assert.True(t, hooks.GrantAccess(context.Background(), "u1", "198.51.100.9"))
}

func TestAccessHooks_ResolverErrorIsDegraded(t *testing.T) {
	h := newHarness(t, nil)
	h.resolver.err = errors.New("db down")

	assert.True(t, NewAccessHooks(h.svc).GrantAccess(context.Background(), "u1", "198.51.100.4"))
}

func TestAccessHooks_NotConfiguredIsNotDegraded(t *testing.T) {
	svc := NewWhitelistService(newMemRepo(), &staticResolver{}, nil, Options{})

	assert.False(t, NewAccessHooks(svc).GrantAccess(context.Background(), "u1", "198.51.100.4"))
}

func TestAccessHooks_SurvivesCancelledRequest(t *testing.T) {
	h := newHarness(t, map[string][]string{"u1": {"w1"}})
	hooks := NewAccessHooks(h.svc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hooks.GrantAccess(ctx, "u1", "198.51.100.4")
	require.Equal(t, 1, h.repo.count())

	hooks.RevokeAccess(ctx, "u1")
	assert.Zero(t, h.repo.count())
	assert.False(t, h.gateway.has("w1", "198.51.100.4"))
}
