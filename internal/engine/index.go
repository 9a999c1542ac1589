package engine

import (
	"context"
	"fmt"

	"github.com/merlian/merlian/internal/indexer"
	"github.com/merlian/merlian/internal/jobs"
	"github.com/merlian/merlian/internal/search/index"
)

// IndexRequest asks for an indexing job. A nil UseTextExtraction follows the
// ocr.enabled setting.
type IndexRequest struct {
	Folders           []string `json:"folders"`
	UseTextExtraction *bool    `json:"use_text_extraction,omitempty"`
	RecentOnly        bool     `json:"recent_only,omitempty"`
	MaxItems          int      `json:"max_items,omitempty"`
}

func (e *Engine) indexOptions(req IndexRequest) (indexer.Options, error) {
	if len(req.Folders) == 0 {
		return indexer.Options{}, invalid("at least one folder is required")
	}
	if req.MaxItems < 0 {
		return indexer.Options{}, invalid("max_items must not be negative")
	}
	folders := make([]string, 0, len(req.Folders))
	for _, f := range req.Folders {
		abs, err := resolveFolder(f)
		if err != nil {
			return indexer.Options{}, err
		}
		folders = append(folders, abs)
	}
	useText := e.cfg.OCR.Enabled
	if req.UseTextExtraction != nil {
		useText = *req.UseTextExtraction
	}
	return indexer.Options{
		Folders:           folders,
		UseTextExtraction: useText,
		MaxItems:          req.MaxItems,
		RecentOnly:        req.RecentOnly,
		RecentDays:        e.cfg.Indexer.RecentDays,
	}, nil
}

// StartIndexJob validates req and queues an indexing job.
func (e *Engine) StartIndexJob(req IndexRequest) (string, error) {
	opts, err := e.indexOptions(req)
	if err != nil {
		return "", err
	}
	return e.jobs.Start(opts)
}

// GetJob returns job id.
func (e *Engine) GetJob(id string) (jobs.Job, error) {
	return e.jobs.Get(id)
}

// CancelJob cancels job id; terminal jobs are returned unchanged.
func (e *Engine) CancelJob(id string) (jobs.Job, error) {
	return e.jobs.Cancel(id)
}

// ListJobs returns known jobs, newest first.
func (e *Engine) ListJobs() []jobs.Job {
	return e.jobs.List()
}

// WaitJob blocks until job id finishes or ctx ends.
func (e *Engine) WaitJob(ctx context.Context, id string) (jobs.Job, error) {
	return e.jobs.Wait(ctx, id)
}

// Reset deletes every asset row and the published index. It fails while an
// index job is active.
func (e *Engine) Reset(ctx context.Context) error {
	if id, ok := e.jobs.Active(); ok {
		return fmt.Errorf("%w (job %s)", jobs.ErrJobActive, id)
	}
	lock, err := index.Lock(e.cfg.DataDir)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	if err := e.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset assets: %w", err)
	}
	if err := index.Remove(e.indexer.IndexDir()); err != nil {
		return fmt.Errorf("remove index: %w", err)
	}
	return nil
}
