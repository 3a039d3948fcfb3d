package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSweeper) Sweep(ctx context.Context) error {
	f.calls.Add(1)
	return f.err
}

type fakePurger struct{ calls atomic.Int32 }

func (f *fakePurger) PurgeRevoked(now time.Time) int {
	f.calls.Add(1)
	return 2
}

func TestRunOnce_JoinsErrors(t *testing.T) {
	errSweep := errors.New("upstream down")
	sweeper := &fakeSweeper{err: errSweep}
	purger := &fakePurger{}

	s := NewScheduler()
	NewSessionJobs(sweeper, purger, time.Minute).RegisterJobs(s)

	err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, errSweep)
	assert.Contains(t, err.Error(), "sweep_sessions")
	assert.EqualValues(t, 1, sweeper.calls.Load())
	assert.EqualValues(t, 1, purger.calls.Load())
}

func TestScheduler_StartStop(t *testing.T) {
	sweeper := &fakeSweeper{}
	s := NewScheduler()
	s.AddJob("sweep", 5*time.Millisecond, sweeper.Sweep)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return sweeper.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()

	after := sweeper.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, sweeper.calls.Load())
}
