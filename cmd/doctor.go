package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/merlian/merlian/internal/config"
	"github.com/merlian/merlian/internal/embeddings"
	"github.com/merlian/merlian/internal/engine"
	"github.com/merlian/merlian/internal/indexer"
	"github.com/merlian/merlian/internal/ocr"
	"github.com/merlian/merlian/internal/search/index"
	"github.com/merlian/merlian/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run pre-flight environment checks",
	Long: `Check that Merlian's dependencies and environment are correctly configured.
Run this command when something seems wrong, or before filing a bug report.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(_ *cobra.Command, _ []string) error {
	allOK := true
	failD := func(format string, args ...any) {
		printErr("", fmt.Sprintf(format, args...))
		allOK = false
	}

	printSection("merlian doctor")
	fmt.Println()

	// ── Check 1: merlian.yaml ─────────────────────────────────────────────────
	fmt.Println("[ merlian.yaml ]")
	cfgPath, _ := config.ConfigPath()
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		printWarn("", fmt.Sprintf("%s not found, using defaults (run 'merlian init')", cfgPath))
	}
	cfg, loadErr := loadConfig()
	if loadErr != nil {
		failD("%v", loadErr)
	} else {
		printOK("", fmt.Sprintf("valid config, %d root(s), data dir %s", len(cfg.Roots), cfg.DataDir))
	}
	fmt.Println()
	if loadErr != nil {
		return fmt.Errorf("doctor found issues")
	}

	// ── Check 2: data dir is writable ─────────────────────────────────────────
	fmt.Println("[ Data dir ]")
	if err := checkWritable(cfg.DataDir); err != nil {
		failD("data dir not writable: %v", err)
	} else {
		printOK("", cfg.DataDir)
	}
	fmt.Println()

	// ── Check 3: SQLite and FTS5 ──────────────────────────────────────────────
	fmt.Println("[ SQLite ]")
	st, err := store.Open(filepath.Join(cfg.DataDir, engine.DBFile))
	if err != nil {
		failD("cannot open asset store: %v", err)
	} else {
		if st.FTSAvailable() {
			printOK("", "FTS5 available, text matches are bm25-ranked")
		} else {
			printWarn("", "FTS5 unavailable, text matching falls back to LIKE (build with -tags sqlite_fts5)")
		}
		_ = st.Close()
	}
	fmt.Println()

	// ── Check 4: embedding service ────────────────────────────────────────────
	fmt.Println("[ Embeddings ]")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	prov, err := embeddings.NewFromConfig(embeddings.ConfigFrom(cfg.Embeddings), cfg.Device)
	if err != nil {
		failD("cannot build provider: %v", err)
	} else if v, err := prov.EmbedText(ctx, "a photo of a cat"); err != nil {
		failD("%s unreachable: %v", prov.Model(), err)
	} else {
		printOK("", fmt.Sprintf("%s on %s, dim %d", prov.Model(), embeddings.ResolveDevice(cfg.Device), len(v)))
	}
	fmt.Println()

	// ── Check 5: text extraction ──────────────────────────────────────────────
	fmt.Println("[ Text extraction ]")
	x, err := ocr.New(cfg.OCR)
	switch {
	case err != nil:
		failD("%v", err)
	case x.Name() == "none":
		printSkip("", "disabled")
	default:
		if t, ok := x.(*ocr.Tesseract); ok && !t.Available() {
			failD("%s not found on PATH; install tesseract or set ocr.enabled: false", cfg.OCR.Binary)
		} else {
			printOK("", x.Name())
		}
	}
	fmt.Println()

	// ── Check 6: published index ──────────────────────────────────────────────
	fmt.Println("[ Index ]")
	idx, err := index.Load(filepath.Join(cfg.DataDir, indexer.IndexDirName))
	switch {
	case errors.Is(err, index.ErrNotIndexed):
		printMiss("", "nothing indexed yet")
	case err != nil:
		failD("index unreadable: %v (run 'merlian index' to rebuild)", err)
	default:
		printOK("", fmt.Sprintf("%d vectors, model %s, version %d", idx.Len(), idx.Manifest.Model, idx.Manifest.IndexVersion))
		if idx.Manifest.Model != (embeddings.Identity{Name: cfg.Embeddings.Model, Variant: cfg.Embeddings.Variant}) {
			printWarn("", "configured model differs from the index; the next index run re-embeds everything")
		}
	}
	fmt.Println()

	// ── Summary ───────────────────────────────────────────────────────────────
	fmt.Println("===================")
	if allOK {
		fmt.Println("✓  All checks passed. Merlian is ready to use.")
	} else {
		fmt.Fprintln(os.Stderr, "✗  One or more checks failed. See details above.")
		return fmt.Errorf("doctor found issues")
	}
	return nil
}

// checkWritable creates dir and probes it with a throwaway file.
func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
