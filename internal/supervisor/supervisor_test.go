package supervisor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloser struct {
	closed atomic.Bool
}

func (f *fakeCloser) Close(context.Context) error {
	f.closed.Store(true)
	return nil
}

func newTestSupervisor(closer Closer) *Supervisor {
	return New(slog.New(slog.DiscardHandler), closer)
}

func TestStart_RestartCancelsPrevious(t *testing.T) {
	s := newTestSupervisor(nil)

	var running, maxRunning atomic.Int32
	body := func(ctx context.Context) {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		<-ctx.Done()
		running.Add(-1)
	}

	require.True(t, s.Start("watcher", body))
	require.Eventually(t, func() bool { return running.Load() == 1 }, time.Second, time.Millisecond)

	require.True(t, s.Start("watcher", body))
	require.True(t, s.Start("watcher", body))
	require.Eventually(t, func() bool { return running.Load() == 1 && s.Running("watcher") }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	assert.Equal(t, int32(0), running.Load())
	assert.Equal(t, int32(1), maxRunning.Load())
	assert.False(t, s.Running("watcher"))
}

func TestGo_TracksTasks(t *testing.T) {
	s := newTestSupervisor(nil)

	release := make(chan struct{})
	var done atomic.Int32
	for range 3 {
		require.True(t, s.Go("fanout", func(context.Context) {
			<-release
			done.Add(1)
		}))
	}

	assert.Eventually(t, func() bool { return s.InFlight() == 3 }, time.Second, time.Millisecond)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, int32(3), done.Load())
	assert.Equal(t, 0, s.InFlight())
}

func TestGo_RecoversPanics(t *testing.T) {
	s := newTestSupervisor(nil)

	require.True(t, s.Go("boom", func(context.Context) { panic("boom") }))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestShutdown_AbandonsSlowTasksAndClosesRegistry(t *testing.T) {
	closer := &fakeCloser{}
	s := newTestSupervisor(closer)

	stuck := make(chan struct{})
	defer close(stuck)
	require.True(t, s.Go("slow", func(ctx context.Context) {
		select {
		case <-stuck:
		case <-ctx.Done():
		}
	}))

	loopStopped := make(chan struct{})
	require.True(t, s.Start("scheduler", func(ctx context.Context) {
		<-ctx.Done()
		close(loopStopped)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-loopStopped:
	default:
		t.Fatal("loop was not stopped")
	}
	assert.True(t, closer.closed.Load())
}

func TestShutdown_RejectsNewWork(t *testing.T) {
	s := newTestSupervisor(nil)

	require.NoError(t, s.Shutdown(context.Background()))
	require.NoError(t, s.Shutdown(context.Background()))

	assert.False(t, s.Go("late", func(context.Context) { t.Error("task ran after shutdown") }))
	assert.False(t, s.Start("late", func(context.Context) { t.Error("loop ran after shutdown") }))
}
