package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/merlian/merlian/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init [folder...]",
	Short: "Create ~/.merlian with a default config",
	Long: `Create the Merlian home directory, a default merlian.yaml and a .env
template for secrets.

Folders given as arguments are stored as roots; they are used by
'merlian index' without arguments and by scheduled re-indexing.`,
	RunE: runInit,
}

var flagInitNoOCR bool

func init() {
	initCmd.Flags().BoolVar(&flagInitNoOCR, "no-ocr", false, "Disable text extraction in the written config")
	rootCmd.AddCommand(initCmd)
}

func runInit(_ *cobra.Command, args []string) error {
	// ── 1. Resolve ~/.merlian ─────────────────────────────────────────────────
	appDir, err := config.AppDir()
	if err != nil {
		return err
	}
	cfgPath, err := config.ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(appDir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", appDir, err)
	}
	printOK("", fmt.Sprintf("Merlian directory ready: %s", appDir))

	// ── 2. Write merlian.yaml if missing ──────────────────────────────────────
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg, err := config.DefaultConfig()
		if err != nil {
			return err
		}
		if flagInitNoOCR {
			cfg.OCR.Enabled = false
		}
		for _, a := range args {
			root, err := config.ExpandPath(a)
			if err != nil {
				return err
			}
			if root, err = filepath.Abs(root); err != nil {
				return err
			}
			cfg.Roots = append(cfg.Roots, root)
		}
		if err := config.Save(cfg); err != nil {
			return err
		}
		printOK("", fmt.Sprintf("Config written: %s", cfgPath))
	} else {
		printSkip("", fmt.Sprintf("Config already exists: %s", cfgPath))
		if len(args) > 0 {
			printWarn("", "folders ignored; edit roots in merlian.yaml instead")
		}
	}

	// ── 3. .env template ──────────────────────────────────────────────────────
	if err := config.EnsureDotEnvTemplate(); err != nil {
		return err
	}
	envPath, _ := config.DotEnvPath()
	printOK("", fmt.Sprintf("Secrets file ready: %s", envPath))

	// ── 4. Data dir ───────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("cannot create data dir %s: %w", cfg.DataDir, err)
	}
	printOK("", fmt.Sprintf("Data dir ready: %s", cfg.DataDir))

	fmt.Println("\n✓  merlian init complete. Run 'merlian doctor' to verify your environment.")
	return nil
}
