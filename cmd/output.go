package cmd

import (
	"encoding/json"
	"fmt"
	"os"
)

// ── Unified output helpers ────────────────────────────────────────────────────
// All commands use these functions so icons and indentation stay consistent.
//
// Icon semantics:
//   ✓  success / healthy
//   ✗  error / failure          (written to stderr)
//   ⚠  warning
//   ○  skipped / not applicable
//   -  not found / missing
//   ~  neutral info / state change

// printSection prints a top-level section header, e.g. "=== Status ===".
func printSection(title string) {
	fmt.Printf("\n=== %s ===\n", title)
}

// printBullet prints a grouped-section bullet, e.g. "● Counts:".
func printBullet(title string) {
	fmt.Printf("\n● %s\n", title)
}

// printOK prints a success line.
//
//	name = "" → "  ✓  msg"
//	name set  → "  ✓  [name] msg"
func printOK(name, msg string) {
	printLine(os.Stdout, "✓", name, msg)
}

// printErr prints an error line to stderr.
func printErr(name, msg string) {
	printLine(os.Stderr, "✗", name, msg)
}

// printWarn prints a warning line.
func printWarn(name, msg string) {
	printLine(os.Stdout, "⚠", name, msg)
}

// printSkip prints a skipped / not-applicable line.
func printSkip(name, msg string) {
	printLine(os.Stdout, "○", name, msg)
}

// printMiss prints a not-found / missing line.
func printMiss(name, msg string) {
	printLine(os.Stdout, "-", name, msg)
}

// printInfo prints a neutral informational / state-change line.
func printInfo(name, msg string) {
	printLine(os.Stdout, "~", name, msg)
}

func printLine(f *os.File, icon, name, msg string) {
	if name == "" {
		fmt.Fprintf(f, "  %s  %s\n", icon, msg)
	} else {
		fmt.Fprintf(f, "  %s  [%s] %s\n", icon, name, msg)
	}
}

// printJSON writes v as indented JSON for --json output.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
