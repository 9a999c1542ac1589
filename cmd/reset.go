package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var flagResetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every indexed asset and the vector index",
	Long: `Delete every asset row and the published vector index from the data dir.
Your image folders are never touched.`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&flagResetYes, "yes", false, "Confirm the reset")
	rootCmd.AddCommand(resetCmd)
}

func runReset(_ *cobra.Command, _ []string) error {
	if !flagResetYes {
		return fmt.Errorf("refusing to reset without --yes")
	}
	ctx := context.Background()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.Reset(ctx); err != nil {
		return err
	}
	printOK("", fmt.Sprintf("index cleared: %s", e.Config().DataDir))
	return nil
}
