package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merlian/merlian/internal/indexer"
)

func opts(folders ...string) indexer.Options {
	return indexer.Options{Folders: folders}
}

func wait(t *testing.T, s *Supervisor, id string) Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := s.Wait(ctx, id)
	require.NoError(t, err)
	return job
}

func waitStatus(t *testing.T, s *Supervisor, id string, want Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		j, err := s.Get(id)
		return err == nil && j.Status == want
	}, 5*time.Second, 5*time.Millisecond)
}

// blockingRunner reports one progress step and then waits for release or cancellation.
type blockingRunner struct {
	release chan struct{}
	stopped chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{release: make(chan struct{}), stopped: make(chan struct{}, 16)}
}

func (b *blockingRunner) run(ctx context.Context, _ indexer.Options, progress indexer.ProgressFunc) (indexer.Counts, error) {
	progress(indexer.Progress{Processed: 1, Total: 4, Message: "indexing"})
	defer func() { b.stopped <- struct{}{} }()
	select {
	case <-b.release:
		return indexer.Counts{Added: 4}, nil
	case <-ctx.Done():
		return indexer.Counts{}, ctx.Err()
	}
}

func TestJob_Done(t *testing.T) {
	s := NewSupervisor(func(_ context.Context, _ indexer.Options, progress indexer.ProgressFunc) (indexer.Counts, error) {
		progress(indexer.Progress{Total: 2, Message: "found 2 images"})
		progress(indexer.Progress{Processed: 1, Total: 2})
		progress(indexer.Progress{Processed: 2, Total: 2})
		return indexer.Counts{Added: 2}, nil
	}, 0)
	defer s.Close()

	id, err := s.Start(opts("/pics"))
	require.NoError(t, err)

	job := wait(t, s, id)
	assert.Equal(t, StatusDone, job.Status)
	assert.Equal(t, 2, job.Processed)
	assert.Equal(t, 2, job.Total)
	require.NotNil(t, job.Counts)
	assert.Equal(t, 2, job.Counts.Added)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.FinishedAt)
	assert.Empty(t, job.Error)
	assert.Equal(t, []string{"/pics"}, job.Folders)
}

func TestJob_Error(t *testing.T) {
	s := NewSupervisor(func(context.Context, indexer.Options, indexer.ProgressFunc) (indexer.Counts, error) {
		return indexer.Counts{}, indexer.ErrNothingIndexed
	}, 0)
	defer s.Close()

	id, err := s.Start(opts("/pics"))
	require.NoError(t, err)
	job := wait(t, s, id)
	assert.Equal(t, StatusError, job.Status)
	assert.Contains(t, job.Error, indexer.ErrNothingIndexed.Error())
	assert.Nil(t, job.Counts)
	assert.NotNil(t, job.FinishedAt)
}

func TestJob_CancelRunning(t *testing.T) {
	b := newBlockingRunner()
	s := NewSupervisor(b.run, 0)
	defer s.Close()

	id, err := s.Start(opts("/pics"))
	require.NoError(t, err)
	waitStatus(t, s, id, StatusRunning)
	require.Eventually(t, func() bool {
		j, _ := s.Get(id)
		return j.Processed == 1
	}, 5*time.Second, 5*time.Millisecond)

	job, err := s.Cancel(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, job.Status)
	assert.NotNil(t, job.FinishedAt)
	assert.Equal(t, 1, job.Processed, "progress is not rolled back")

	select {
	case <-b.stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("runner was not cancelled")
	}

	again, err := s.Cancel(id)
	require.NoError(t, err)
	assert.Equal(t, job.Status, again.Status)
	assert.Equal(t, job.FinishedAt, again.FinishedAt)

	got := wait(t, s, id)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Nil(t, got.Counts)
}

func TestJob_CancelDoneIsNoop(t *testing.T) {
	s := NewSupervisor(func(context.Context, indexer.Options, indexer.ProgressFunc) (indexer.Counts, error) {
		return indexer.Counts{Skipped: 3}, nil
	}, 0)
	defer s.Close()

	id, err := s.Start(opts("/pics"))
	require.NoError(t, err)
	done := wait(t, s, id)

	job, err := s.Cancel(id)
	require.NoError(t, err)
	assert.Equal(t, done, job)
}

func TestJob_ProgressNeverDecreases(t *testing.T) {
	s := NewSupervisor(func(_ context.Context, _ indexer.Options, progress indexer.ProgressFunc) (indexer.Counts, error) {
		progress(indexer.Progress{Processed: 3, Total: 5})
		progress(indexer.Progress{Processed: 1, Total: 5})
		return indexer.Counts{}, nil
	}, 0)
	defer s.Close()

	id, err := s.Start(opts("/pics"))
	require.NoError(t, err)
	assert.Equal(t, 3, wait(t, s, id).Processed)
}

func TestStart_RejectsWhileAnotherJobIsLive(t *testing.T) {
	b := newBlockingRunner()
	s := NewSupervisor(b.run, 0)
	defer s.Close()

	id, err := s.Start(opts("/pics"))
	require.NoError(t, err)

	// one data dir, one writer: disjoint folders are rejected too
	for _, folder := range []string{"/pics", "/pics/2026", "/", "/pictures"} {
		_, err = s.Start(opts(folder))
		assert.ErrorIs(t, err, ErrJobActive, folder)
	}
	live, ok := s.Active()
	assert.True(t, ok)
	assert.Equal(t, id, live)

	close(b.release)
	wait(t, s, id)
	require.Eventually(t, func() bool {
		_, ok := s.Active()
		return !ok
	}, 5*time.Second, 5*time.Millisecond)

	_, err = s.Start(opts("/pictures"))
	assert.NoError(t, err)
}

func TestCancel_RestartWaitsForRunnerToReturn(t *testing.T) {
	var (
		mu      sync.Mutex
		running int
		peak    int
	)
	linger := make(chan struct{})
	s := NewSupervisor(func(ctx context.Context, _ indexer.Options, _ indexer.ProgressFunc) (indexer.Counts, error) {
		mu.Lock()
		running++
		peak = max(peak, running)
		mu.Unlock()
		defer func() {
			mu.Lock()
			running--
			mu.Unlock()
		}()
		<-ctx.Done()
		<-linger
		return indexer.Counts{}, ctx.Err()
	}, 0)
	defer s.Close()

	id, err := s.Start(opts("/pics"))
	require.NoError(t, err)
	waitStatus(t, s, id, StatusRunning)

	job, err := s.Cancel(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, job.Status)

	// the cancelled runner still holds the data dir
	_, err = s.Start(opts("/pics"))
	assert.ErrorIs(t, err, ErrJobActive)

	close(linger)
	var next string
	require.Eventually(t, func() bool {
		next, err = s.Start(opts("/pics"))
		return err == nil
	}, 5*time.Second, 5*time.Millisecond)
	waitStatus(t, s, next, StatusRunning)

	_, err = s.Cancel(next)
	require.NoError(t, err)
	mu.Lock()
	assert.Equal(t, 1, peak, "runners overlapped")
	mu.Unlock()
}

func TestStart_RequiresFolders(t *testing.T) {
	s := NewSupervisor(newBlockingRunner().run, 0)
	defer s.Close()
	_, err := s.Start(indexer.Options{})
	assert.Error(t, err)
}

func TestGetAndCancel_Unknown(t *testing.T) {
	s := NewSupervisor(newBlockingRunner().run, 0)
	defer s.Close()

	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Cancel("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Wait(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRetain_EvictsOldestFinished(t *testing.T) {
	s := NewSupervisor(func(context.Context, indexer.Options, indexer.ProgressFunc) (indexer.Counts, error) {
		return indexer.Counts{}, nil
	}, 2)
	defer s.Close()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.Start(opts("/pics"))
		require.NoError(t, err)
		wait(t, s, id)
		ids = append(ids, id)
	}

	_, err := s.Get(ids[0])
	assert.ErrorIs(t, err, ErrNotFound)
	list := s.List()
	require.Len(t, list, 2)
	assert.ElementsMatch(t, ids[1:], []string{list[0].ID, list[1].ID})
}

func TestClose_CancelsActiveJobs(t *testing.T) {
	b := newBlockingRunner()
	s := NewSupervisor(b.run, 0)

	id, err := s.Start(opts("/pics"))
	require.NoError(t, err)
	waitStatus(t, s, id, StatusRunning)

	s.Close()
	select {
	case <-b.stopped:
	default:
		t.Fatal("Close returned before the job stopped")
	}
	_, err = s.Get(id)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Start(opts("/pics"))
	assert.ErrorIs(t, err, ErrClosed)
	s.Close()
}
