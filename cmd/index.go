package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/merlian/merlian/internal/engine"
	"github.com/merlian/merlian/internal/jobs"
)

var (
	flagIndexNoOCR    bool
	flagIndexOCR      bool
	flagIndexRecent   bool
	flagIndexMaxItems int
	flagIndexJSON     bool
)

var indexCmd = &cobra.Command{
	Use:   "index [folder...]",
	Short: "Index image folders (defaults to the configured roots)",
	Long: `Index the images under the given folders. Unchanged files are skipped,
changed files are re-analysed and files removed from disk are dropped.

Indexing a different folder set replaces the searchable corpus.
Press Ctrl-C to cancel; the previous index stays searchable.`,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagIndexOCR, "ocr", false, "Force text extraction on")
	indexCmd.Flags().BoolVar(&flagIndexNoOCR, "no-ocr", false, "Skip text extraction for this run")
	indexCmd.Flags().BoolVar(&flagIndexRecent, "recent", false, "Only index files modified within indexer.recent_days")
	indexCmd.Flags().IntVar(&flagIndexMaxItems, "max-items", 0, "Index at most this many files (most recent first)")
	indexCmd.Flags().BoolVar(&flagIndexJSON, "json", false, "Print the finished job as JSON")
	indexCmd.MarkFlagsMutuallyExclusive("ocr", "no-ocr")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(_ *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	req := engine.IndexRequest{
		Folders:    args,
		RecentOnly: flagIndexRecent,
		MaxItems:   flagIndexMaxItems,
	}
	switch {
	case flagIndexOCR:
		on := true
		req.UseTextExtraction = &on
	case flagIndexNoOCR:
		off := false
		req.UseTextExtraction = &off
	}

	id, err := e.StartIndexJob(req)
	if err != nil {
		return err
	}
	if !flagIndexJSON {
		printInfo("", fmt.Sprintf("index job %s started", id))
	}

	job, err := waitWithProgress(ctx, e, id, !flagIndexJSON)
	if errors.Is(err, context.Canceled) {
		if !flagIndexJSON {
			fmt.Println()
			printWarn("", "interrupted, cancelling job")
		}
		if _, err := e.CancelJob(id); err != nil {
			return err
		}
		job, err = e.WaitJob(context.Background(), id)
	}
	if err != nil {
		return err
	}

	if flagIndexJSON {
		return printJSON(job)
	}
	return printJobResult(job)
}

// waitWithProgress polls job id until it finishes, redrawing a progress line.
func waitWithProgress(ctx context.Context, e *engine.Engine, id string, show bool) (jobs.Job, error) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		job jobs.Job
		err error
	}
	done := make(chan result, 1)
	go func() {
		j, err := e.WaitJob(waitCtx, id)
		done <- result{j, err}
	}()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case r := <-done:
			if show {
				fmt.Print("\r\033[K")
			}
			return r.job, r.err
		case <-ticker.C:
			if !show {
				continue
			}
			j, err := e.GetJob(id)
			if err != nil {
				continue
			}
			fmt.Printf("\r\033[K  ~  %d/%d  %s", j.Processed, j.Total, j.Message)
		}
	}
}

func printJobResult(j jobs.Job) error {
	switch j.Status {
	case jobs.StatusDone:
		c := j.Counts
		if c == nil {
			printOK("", "index complete")
			return nil
		}
		printOK("", fmt.Sprintf("index complete: %d added, %d updated, %d removed, %d skipped, %d failed",
			c.Added, c.Updated, c.Removed, c.Skipped, c.Failed))
		if c.Failed > 0 {
			printWarn("", "some files could not be embedded; run with --log-level debug for details")
		}
		return nil
	case jobs.StatusCancelled:
		printWarn("", "index cancelled; the previous index is unchanged")
		return nil
	default:
		return fmt.Errorf("index failed: %s", j.Error)
	}
}
