package jobs

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/merlian/merlian/internal/indexer"
	"github.com/merlian/merlian/internal/logutil"
)

// Scheduler periodically starts an index job over a fixed set of folders.
type Scheduler struct {
	cron *cron.Cron
	sup  *Supervisor
	opts indexer.Options
	spec string
}

// NewScheduler parses spec (standard five-field cron) and prepares a
// scheduler that starts opts on sup at every tick.
func NewScheduler(spec string, sup *Supervisor, opts indexer.Options) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s := &Scheduler{
		cron: cron.New(cron.WithParser(parser)),
		sup:  sup,
		opts: opts,
		spec: spec,
	}
	if _, err := s.cron.AddFunc(spec, s.Tick); err != nil {
		return nil, err
	}
	return s, nil
}

// Tick starts one job now. An active job over the same folders is not an error.
func (s *Scheduler) Tick() {
	logger := logutil.GetLogger(context.Background()).With(
		zap.String("component", "scheduler"),
		zap.String("spec", s.spec),
	)
	id, err := s.sup.Start(s.opts)
	switch {
	case errors.Is(err, ErrJobActive):
		logger.Info("scheduled re-index skipped: job still active")
	case err != nil:
		logger.Error("scheduled re-index failed to start", zap.Error(err))
	default:
		logger.Info("scheduled re-index started", zap.String("job", id))
	}
}

// Start begins firing ticks.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running tick.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
