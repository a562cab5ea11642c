package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) Sweep(ctx context.Context) (int, error) {
	s.calls.Add(1)
	return 2, s.err
}

func TestSchedulerRestart(t *testing.T) {
	sched := NewScheduler(time.Hour, &countingSweeper{})

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	assert.Error(t, sched.Start())

	status := sched.Status()
	assert.True(t, status.Running)
	assert.False(t, status.NextRun.IsZero())

	require.NoError(t, sched.Stop())
	assert.False(t, sched.IsRunning())
	assert.True(t, sched.GetNextRun().IsZero())

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	require.NotNil(t, sched.ctx)
	assert.NoError(t, sched.ctx.Err())

	require.NoError(t, sched.Stop())
	assert.NoError(t, sched.Stop())
}

func TestSchedulerRunsSweep(t *testing.T) {
	sweeper := &countingSweeper{}
	sched := NewScheduler(time.Second, sweeper)

	require.NoError(t, sched.Start())
	defer sched.Stop()

	assert.Eventually(t, func() bool {
		return sweeper.calls.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSchedulerRunOnce(t *testing.T) {
	sweeper := &countingSweeper{err: errors.New("store offline")}
	sched := NewScheduler(time.Minute, sweeper)

	removed, err := sched.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, int32(1), sweeper.calls.Load())
	sched.Wait()
}

func TestSchedulerRejectsInvalidInterval(t *testing.T) {
	sched := NewScheduler(0, &countingSweeper{})
	assert.Error(t, sched.Start())
	assert.False(t, sched.IsRunning())
}
