package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/merlian/merlian/internal/indexer"
	"github.com/merlian/merlian/internal/logutil"
)

// DefaultRetain is how many finished jobs are kept by default.
const DefaultRetain = 50

// Runner performs one indexing pass.
type Runner func(ctx context.Context, opts indexer.Options, progress indexer.ProgressFunc) (indexer.Counts, error)

// Supervisor owns every Job of one data dir. A single actor goroutine holds
// the job table; callers and running jobs talk to it through messages.
//
// At most one job is live at a time. A job stays live until its runner
// returns, which may be after it was reported cancelled.
type Supervisor struct {
	run    Runner
	retain int
	log    *zap.Logger

	msgs chan func(*table)
	quit chan struct{}
	stop sync.Once

	root    context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

type entry struct {
	job    Job
	cancel context.CancelFunc
	done   chan struct{}
}

type table struct {
	jobs     map[string]*entry
	finished []string
	// live holds ids whose runner has not returned yet.
	live map[string]bool
}

// NewSupervisor starts a supervisor that runs jobs with run and keeps at most
// retain finished jobs.
func NewSupervisor(run Runner, retain int) *Supervisor {
	if retain <= 0 {
		retain = DefaultRetain
	}
	root, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		run:    run,
		retain: retain,
		log:    logutil.GetLogger(context.Background()).With(zap.String("component", "jobs")),
		msgs:   make(chan func(*table)),
		quit:   make(chan struct{}),
		root:   root,
		cancel: cancel,
	}
	go s.loop()
	return s
}

func (s *Supervisor) loop() {
	t := &table{jobs: make(map[string]*entry), live: make(map[string]bool)}
	for {
		select {
		case m := <-s.msgs:
			m(t)
		case <-s.quit:
			return
		}
	}
}

// do runs fn on the actor goroutine and waits for it.
func (s *Supervisor) do(fn func(*table)) error {
	done := make(chan struct{})
	select {
	case s.msgs <- func(t *table) { fn(t); close(done) }:
	case <-s.quit:
		return ErrClosed
	}
	<-done
	return nil
}

// Start queues an indexing job and returns its id. It fails with
// ErrJobActive while another job is live.
func (s *Supervisor) Start(opts indexer.Options) (string, error) {
	if len(opts.Folders) == 0 {
		return "", fmt.Errorf("no folders given")
	}
	opts.Folders = append([]string(nil), opts.Folders...)

	var (
		id     string
		ctx    context.Context
		runErr error
	)
	err := s.do(func(t *table) {
		if s.root.Err() != nil {
			runErr = ErrClosed
			return
		}
		if live := t.liveID(); live != "" {
			runErr = fmt.Errorf("%w (job %s)", ErrJobActive, live)
			return
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(s.root)
		id = uuid.NewString()
		t.jobs[id] = &entry{
			job: Job{
				ID:        id,
				Status:    StatusQueued,
				Folders:   opts.Folders,
				Message:   "queued",
				CreatedAt: time.Now().UTC(),
			},
			cancel: cancel,
			done:   make(chan struct{}),
		}
		t.live[id] = true
		s.running.Add(1)
	})
	if err != nil {
		return "", err
	}
	if runErr != nil {
		return "", runErr
	}

	go s.execute(ctx, id, opts)
	return id, nil
}

func (s *Supervisor) execute(ctx context.Context, id string, opts indexer.Options) {
	defer s.running.Done()
	// covers runs that never started; a finished run is released with its result
	defer func() {
		_ = s.do(func(t *table) { delete(t.live, id) })
	}()
	log := s.log.With(zap.String("job", id))

	started := false
	_ = s.do(func(t *table) {
		e, ok := t.jobs[id]
		if !ok || e.job.Status != StatusQueued {
			return
		}
		now := time.Now().UTC()
		e.job.Status = StatusRunning
		e.job.StartedAt = &now
		e.job.Message = "running"
		started = true
	})
	if !started {
		return
	}
	log.Info("index job started", zap.Strings("folders", opts.Folders))

	progress := func(p indexer.Progress) {
		_ = s.do(func(t *table) {
			e, ok := t.jobs[id]
			if !ok || e.job.Status != StatusRunning {
				return
			}
			e.job.Processed = max(e.job.Processed, p.Processed)
			if p.Total > 0 {
				e.job.Total = p.Total
			}
			if p.Message != "" {
				e.job.Message = p.Message
			}
		})
	}

	counts, err := s.run(logutil.WithLogger(ctx, log), opts, progress)

	_ = s.do(func(t *table) {
		delete(t.live, id)
		e, ok := t.jobs[id]
		if !ok || e.job.Status != StatusRunning {
			// cancelled while running; the result is discarded
			return
		}
		now := time.Now().UTC()
		e.job.FinishedAt = &now
		switch {
		case err == nil:
			e.job.Status = StatusDone
			e.job.Counts = &counts
			e.job.Message = "done"
		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			e.job.Status = StatusCancelled
			e.job.Message = "cancelled"
		default:
			e.job.Status = StatusError
			e.job.Error = err.Error()
			e.job.Message = "failed"
		}
		s.finish(t, e)
	})
	if err != nil {
		log.Warn("index job ended", zap.Error(err))
		return
	}
	log.Info("index job finished",
		zap.Int("added", counts.Added),
		zap.Int("updated", counts.Updated),
		zap.Int("removed", counts.Removed),
		zap.Int("skipped", counts.Skipped),
		zap.Int("failed", counts.Failed))
}

// finish records a terminal job and evicts the oldest finished jobs.
func (s *Supervisor) finish(t *table, e *entry) {
	e.cancel()
	close(e.done)
	t.finished = append(t.finished, e.job.ID)
	for len(t.finished) > s.retain {
		delete(t.jobs, t.finished[0])
		t.finished = t.finished[1:]
	}
}

// Get returns a snapshot of job id.
func (s *Supervisor) Get(id string) (Job, error) {
	var (
		job   Job
		found bool
	)
	err := s.do(func(t *table) {
		if e, ok := t.jobs[id]; ok {
			job, found = e.job.clone(), true
		}
	})
	if err != nil {
		return Job{}, err
	}
	if !found {
		return Job{}, ErrNotFound
	}
	return job, nil
}

// Cancel stops job id. Cancelling a terminal job returns it unchanged.
func (s *Supervisor) Cancel(id string) (Job, error) {
	var (
		job   Job
		found bool
	)
	err := s.do(func(t *table) {
		e, ok := t.jobs[id]
		if !ok {
			return
		}
		found = true
		if !e.job.Status.Terminal() {
			now := time.Now().UTC()
			e.job.Status = StatusCancelled
			e.job.Message = "cancelled"
			e.job.FinishedAt = &now
			s.finish(t, e)
			s.log.Info("index job cancelled", zap.String("job", id))
		}
		job = e.job.clone()
	})
	if err != nil {
		return Job{}, err
	}
	if !found {
		return Job{}, ErrNotFound
	}
	return job, nil
}

// List returns every known job, newest first.
func (s *Supervisor) List() []Job {
	var out []Job
	_ = s.do(func(t *table) {
		out = make([]Job, 0, len(t.jobs))
		for _, e := range t.jobs {
			out = append(out, e.job.clone())
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Wait blocks until job id is terminal or ctx ends.
func (s *Supervisor) Wait(ctx context.Context, id string) (Job, error) {
	var done chan struct{}
	err := s.do(func(t *table) {
		if e, ok := t.jobs[id]; ok {
			done = e.done
		}
	})
	if err != nil {
		return Job{}, err
	}
	if done == nil {
		return Job{}, ErrNotFound
	}
	select {
	case <-done:
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
	return s.Get(id)
}

// Active returns the id of the live job, if any.
func (s *Supervisor) Active() (string, bool) {
	var id string
	if err := s.do(func(t *table) { id = t.liveID() }); err != nil {
		return "", false
	}
	return id, id != ""
}

func (t *table) liveID() string {
	for id := range t.live {
		return id
	}
	return ""
}

// Close cancels active jobs, waits for them to return and stops the actor.
func (s *Supervisor) Close() {
	s.stop.Do(func() {
		s.cancel()
		s.running.Wait()
		close(s.quit)
	})
}
