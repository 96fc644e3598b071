package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScheduler_Register(t *testing.T) {
	s := NewScheduler(zap.NewNop(), nil)

	require.NoError(t, s.Register("sweep", time.Minute, func(context.Context) error { return nil }))
	assert.Error(t, s.Register("bad", 0, func(context.Context) error { return nil }))

	s.Start(context.Background())
	defer s.Stop()

	assert.Error(t, s.Register("late", time.Minute, func(context.Context) error { return nil }))
}

func TestScheduler_RunsOnTick(t *testing.T) {
	s := NewScheduler(zap.NewNop(), DefaultConfig())

	var runs atomic.Int32
	require.NoError(t, s.Register("tick", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

func TestScheduler_RunOnStart(t *testing.T) {
	s := NewScheduler(zap.NewNop(), &Config{RunTimeout: time.Second, RunOnStart: true})

	ran := make(chan struct{}, 1)
	require.NoError(t, s.Register("once", time.Hour, func(context.Context) error {
		ran <- struct{}{}
		return nil
	}))

	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("job did not run on start")
	}
}

func TestScheduler_RunNow(t *testing.T) {
	s := NewScheduler(zap.NewNop(), nil)
	boom := errors.New("boom")
	require.NoError(t, s.Register("fails", time.Hour, func(context.Context) error { return boom }))
	require.NoError(t, s.Register("panics", time.Hour, func(context.Context) error { panic("oops") }))

	assert.ErrorIs(t, s.RunNow(context.Background(), "fails"), boom)
	assert.ErrorContains(t, s.RunNow(context.Background(), "panics"), "job panicked")
	assert.ErrorContains(t, s.RunNow(context.Background(), "missing"), "unknown job")
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	s := NewScheduler(zap.NewNop(), nil)

	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int32
	require.NoError(t, s.Register("slow", time.Hour, func(context.Context) error {
		runs.Add(1)
		close(started)
		<-release
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background(), "slow") }()
	<-started

	assert.NoError(t, s.RunNow(context.Background(), "slow"))
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), runs.Load())
}
