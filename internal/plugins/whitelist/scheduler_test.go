package whitelist

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingService counts Sweep calls; the other methods are unused.
type countingService struct {
	WhitelistService
	sweeps atomic.Int32
}

func (s *countingService) Sweep(context.Context) (*SweepResult, error) {
	s.sweeps.Add(1)
	return &SweepResult{}, nil
}

func TestSweeper_RunsImmediatelyAndOnTicks(t *testing.T) {
	svc := &countingService{}
	sw := NewSweeper(svc, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return svc.sweeps.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

// slowService takes a while per sweep and tracks how many are running.
type slowService struct {
	WhitelistService
	started  atomic.Int32
	finished atomic.Int32
	delay    time.Duration
}

func (s *slowService) Sweep(context.Context) (*SweepResult, error) {
	s.started.Add(1)
	time.Sleep(s.delay)
	s.finished.Add(1)
	return &SweepResult{}, nil
}

func TestSweeper_RunWaitsForInFlightSweep(t *testing.T) {
	svc := &slowService{delay: 100 * time.Millisecond}
	sw := NewSweeper(svc, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return svc.started.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
	assert.Equal(t, svc.started.Load(), svc.finished.Load(), "a sweep outlived Run")
}

func TestNewSweeper_DefaultInterval(t *testing.T) {
	sw := NewSweeper(&countingService{}, 0, nil)
	assert.Equal(t, DefaultSweepInterval, sw.interval)
}

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := newKeyedMutex()
	key := Key{UserID: "u1", WhitelistID: "w1", IP: "198.51.100.4"}

	var (
		wg      sync.WaitGroup
		active  atomic.Int32
		overlap atomic.Bool
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock(key)
			if active.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load(), "two holders of the same key")
	assert.Zero(t, km.size(), "idle locks must be dropped")
}

func TestKeyedMutex_DifferentKeysIndependent(t *testing.T) {
	km := newKeyedMutex()
	unlockA := km.Lock(Key{UserID: "a"})
	defer unlockA()

	acquired := make(chan struct{})
	go func() {
		unlock := km.Lock(Key{UserID: "b"})
		unlock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
	assert.Equal(t, 1, km.size())
}
