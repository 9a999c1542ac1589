package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var flagStatusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what is indexed",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&flagStatusJSON, "json", false, "Print status as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	st, err := e.Status(ctx)
	if err != nil {
		return err
	}
	if flagStatusJSON {
		return printJSON(st)
	}

	printSection("Index")
	switch {
	case st.Problem != "":
		printErr("", fmt.Sprintf("index unreadable: %s", st.Problem))
		printInfo("", "run 'merlian index' to rebuild it")
	case !st.Indexed:
		printMiss("", "nothing indexed yet; run 'merlian index <folder>'")
	default:
		printOK("", fmt.Sprintf("%d vectors, model %s on %s", st.Vectors, st.Model, st.Device))
		printBullet("Roots:")
		for _, r := range st.Roots {
			fmt.Printf("  ○  %s\n", r)
		}
	}

	printSection("Assets")
	printInfo("", fmt.Sprintf("%d assets, %d with recognised text", st.Assets, st.WithText))
	if st.LastIndexedAt != nil {
		printInfo("", fmt.Sprintf("last indexed %s", st.LastIndexedAt.Local().Format(time.DateTime)))
	}
	printInfo("", fmt.Sprintf("text matching: %s", st.LexicalEngine))
	printInfo("", fmt.Sprintf("data dir: %s", st.DataDir))
	return nil
}
