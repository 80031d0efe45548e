package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsJobDetachedFromCaller(t *testing.T) {
	p := NewPool(PoolOptions{}, zerolog.Nop())
	defer p.Shutdown(context.Background())

	done := make(chan string, 1)
	p.Register(KindReportGenerate, func(ctx context.Context, id string) error {
		time.Sleep(10 * time.Millisecond)
		assert.NoError(t, ctx.Err())
		done <- id
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Dispatch(ctx, Job{Kind: KindReportGenerate, ID: "r1"}))
	cancel()

	select {
	case id := <-done:
		assert.Equal(t, "r1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestPoolUnknownKind(t *testing.T) {
	p := NewPool(PoolOptions{}, zerolog.Nop())
	defer p.Shutdown(context.Background())

	err := p.Dispatch(context.Background(), Job{Kind: "nope", ID: "x"})
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestPoolCancelRunningJob(t *testing.T) {
	p := NewPool(PoolOptions{}, zerolog.Nop())
	defer p.Shutdown(context.Background())

	started := make(chan struct{})
	result := make(chan error, 1)
	p.Register(KindAnalysisRun, func(ctx context.Context, id string) error {
		close(started)
		<-ctx.Done()
		result <- ctx.Err()
		return ctx.Err()
	})

	require.NoError(t, p.Dispatch(context.Background(), Job{Kind: KindAnalysisRun, ID: "a1"}))
	<-started
	require.NoError(t, p.Cancel(context.Background(), "a1"))

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not cancelled")
	}
}

func TestPoolCancelReachesEveryKindSharingAnID(t *testing.T) {
	p := NewPool(PoolOptions{}, zerolog.Nop())
	defer p.Shutdown(context.Background())

	started := make(chan struct{})
	result := make(chan error, 1)
	p.Register(KindAnalysisExecute, func(ctx context.Context, id string) error {
		close(started)
		<-ctx.Done()
		result <- ctx.Err()
		return ctx.Err()
	})
	skipped := make(chan struct{})
	p.Register(KindAnalysisRun, func(ctx context.Context, id string) error {
		close(skipped)
		return nil
	})

	require.NoError(t, p.Dispatch(context.Background(), Job{Kind: KindAnalysisExecute, ID: "a1"}))
	<-started
	require.NoError(t, p.Dispatch(context.Background(), Job{Kind: KindAnalysisRun, ID: "a1"}))
	<-skipped

	// the short job's exit must not drop the long job's registration
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.running["a1"]) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, p.Cancel(context.Background(), "a1"))
	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("execute job was not cancelled")
	}
}

func TestPoolDispatchRacingShutdown(t *testing.T) {
	p := NewPool(PoolOptions{}, zerolog.Nop())
	var ran int32
	p.Register(KindReportGenerate, func(ctx context.Context, id string) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})

	var accepted int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			err := p.Dispatch(context.Background(), Job{Kind: KindReportGenerate, ID: "r"})
			if err == nil {
				atomic.AddInt32(&accepted, 1)
				continue
			}
			assert.ErrorIs(t, err, ErrStopped)
		}
	}()

	require.NoError(t, p.Shutdown(context.Background()))
	<-done
	// Shutdown waits for every accepted job
	assert.Equal(t, atomic.LoadInt32(&accepted), atomic.LoadInt32(&ran))
}

func TestPoolBoundedSkipsCancelledQueuedJob(t *testing.T) {
	p := NewPool(PoolOptions{MaxWorkers: 1, QueueSize: 4}, zerolog.Nop())
	defer p.Shutdown(context.Background())

	release := make(chan struct{})
	var ran int32
	p.Register(KindAnalysisRun, func(ctx context.Context, id string) error {
		if id == "blocker" {
			<-release
			return nil
		}
		atomic.AddInt32(&ran, 1)
		return nil
	})

	finished := make(chan struct{})
	p.Register(KindReportGenerate, func(ctx context.Context, id string) error {
		close(finished)
		return nil
	})

	require.NoError(t, p.Dispatch(context.Background(), Job{Kind: KindAnalysisRun, ID: "blocker"}))
	require.NoError(t, p.Dispatch(context.Background(), Job{Kind: KindAnalysisRun, ID: "queued"}))
	require.NoError(t, p.Cancel(context.Background(), "queued"))
	require.NoError(t, p.Dispatch(context.Background(), Job{Kind: KindReportGenerate, ID: "marker"}))
	close(release)

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("marker job did not run")
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran))
}

func TestPoolRecoversPanics(t *testing.T) {
	p := NewPool(PoolOptions{MaxWorkers: 1}, zerolog.Nop())
	defer p.Shutdown(context.Background())

	p.Register(KindAnalysisRun, func(ctx context.Context, id string) error {
		panic("boom")
	})
	done := make(chan struct{})
	p.Register(KindReportGenerate, func(ctx context.Context, id string) error {
		close(done)
		return nil
	})

	require.NoError(t, p.Dispatch(context.Background(), Job{Kind: KindAnalysisRun, ID: "a"}))
	require.NoError(t, p.Dispatch(context.Background(), Job{Kind: KindReportGenerate, ID: "b"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after panic")
	}
}

func TestPoolShutdownCancelsAndRejects(t *testing.T) {
	p := NewPool(PoolOptions{}, zerolog.Nop())

	started := make(chan struct{})
	p.Register(KindAnalysisRun, func(ctx context.Context, id string) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, p.Dispatch(context.Background(), Job{Kind: KindAnalysisRun, ID: "a"}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))

	err := p.Dispatch(context.Background(), Job{Kind: KindAnalysisRun, ID: "b"})
	assert.ErrorIs(t, err, ErrStopped)
}
