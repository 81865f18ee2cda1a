package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExpirer struct {
	mu    sync.Mutex
	calls []time.Duration
	err   error
}

func (f *fakeExpirer) ExpireStale(_ context.Context, ttl time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ttl)
	return 1, f.err
}

func (f *fakeExpirer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestAddOrderReaper(t *testing.T) {
	s := New()
	require.NoError(t, s.AddOrderReaper("@every 10m", &fakeExpirer{}, 2*time.Hour))

	entry, ok := s.Entry(JobOrderReaper)
	require.True(t, ok)
	assert.True(t, entry.Valid())

	_, ok = s.Entry("unknown")
	assert.False(t, ok)
}

func TestAddOrderReaperRejectsBadInput(t *testing.T) {
	s := New()
	assert.Error(t, s.AddOrderReaper("every now and then", &fakeExpirer{}, time.Hour))
	assert.Error(t, s.AddOrderReaper("@every 1m", &fakeExpirer{}, 0))
}

func TestReapOrders(t *testing.T) {
	f := &fakeExpirer{}
	reapOrders(f, 90*time.Minute)()
	assert.Equal(t, []time.Duration{90 * time.Minute}, f.calls)

	f.err = errors.New("db down")
	reapOrders(f, time.Hour)()
	assert.Equal(t, 2, f.count())
}

func TestSchedulerRunsJob(t *testing.T) {
	f := &fakeExpirer{}
	s := New()
	require.NoError(t, s.AddOrderReaper("@every 1s", f, time.Hour))
	s.Start()
	defer func() { <-s.Stop().Done() }()

	assert.Eventually(t, func() bool { return f.count() > 0 }, 3*time.Second, 50*time.Millisecond)
}
