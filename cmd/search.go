package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/merlian/merlian/internal/engine"
	"github.com/merlian/merlian/internal/search"
)

var (
	flagSearchK         int
	flagSearchMode      string
	flagSearchOCRWeight float64
	flagSearchJSON      bool
	flagSearchDebug     bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search indexed images by description or contained text",
	Long: `Rank indexed images against a natural-language query.

Modes:
  hybrid  blend visual similarity with text matches (default)
  clip    visual similarity only
  ocr     text matches only`,
	Args: cobra.MinimumNArgs(0),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&flagSearchK, "k", 0, "Number of results to show (default search.k)")
	searchCmd.Flags().StringVar(&flagSearchMode, "mode", "", "Ranking mode: clip, ocr or hybrid (default search.mode)")
	searchCmd.Flags().Float64Var(&flagSearchOCRWeight, "ocr-weight", 0, "Weight of text matches in hybrid mode, 0..1 (default search.ocr_weight)")
	searchCmd.Flags().BoolVar(&flagSearchJSON, "json", false, "Print results as JSON")
	searchCmd.Flags().BoolVar(&flagSearchDebug, "debug", false, "Show per-signal scores")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Help()
	}
	query := strings.Join(args, " ")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	req := engine.SearchRequest{Query: query, Mode: flagSearchMode}
	if cmd.Flags().Changed("k") {
		req.K = &flagSearchK
	}
	if cmd.Flags().Changed("ocr-weight") {
		req.OCRWeight = &flagSearchOCRWeight
	}

	results, err := e.Search(ctx, req)
	if err != nil {
		return err
	}
	if flagSearchJSON {
		return printJSON(map[string]any{"results": results})
	}
	if len(results) == 0 {
		st, err := e.Status(ctx)
		if err == nil && !st.Indexed {
			printMiss("", "nothing indexed yet; run 'merlian index <folder>' first")
			return nil
		}
	}
	printSearchResults(query, results)
	return nil
}

func printSearchResults(query string, results []search.Result) {
	fmt.Printf("\nmerlian search %q\n\n", query)
	fmt.Printf("Results (%d found):\n", len(results))
	if len(results) == 0 {
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for i, r := range results {
		dims := ""
		if r.Width > 0 && r.Height > 0 {
			dims = fmt.Sprintf("%dx%d", r.Width, r.Height)
		}
		fmt.Fprintf(w, "  %d.\t[%.3f]\t%s\t%s\n", i+1, r.Score, filepath.Base(r.Path), dims)
		fmt.Fprintf(w, "  \t\t%s\n", r.Path)
		if len(r.MatchedTokens) > 0 {
			fmt.Fprintf(w, "  \t\ttext: %s\n", strings.Join(r.MatchedTokens, ", "))
		}
		if flagSearchDebug {
			fmt.Fprintf(w, "  \t\tclip=%.3f lexical=%.3f blended=%.3f group=%s\n",
				r.Clip, r.Lexical, r.Blended, r.DuplicateGroup)
		}
	}
	_ = w.Flush()
}
