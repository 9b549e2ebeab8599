package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"appforge/internal/diff"
)

var diffWrite bool

// diffCmd exposes the fuzzy patch applier for debugging.
var diffCmd = &cobra.Command{
	Use:   "diff [target-file] [diff-file]",
	Short: "Apply a unified diff to a file with fuzzy matching",
	Long: `Parses a unified diff (auto-correcting inconsistent hunk headers) and
applies it to the target file. Hunks with wrong line numbers are
relocated by searching for their context lines; hunks whose context
cannot be verified are skipped and reported.

Prints the patched content to stdout unless --write is given.`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func init() {
	diffCmd.Flags().BoolVar(&diffWrite, "write", false, "Write the result back to the target file")
}

func runDiff(cmd *cobra.Command, args []string) error {
	target, diffPath := args[0], args[1]

	content, err := os.ReadFile(target)
	if err != nil {
		return fmt.Errorf("read target: %w", err)
	}
	diffText, err := os.ReadFile(diffPath)
	if err != nil {
		return fmt.Errorf("read diff: %w", err)
	}

	hunks := diff.ParseUnified(string(diffText))
	if len(hunks) == 0 {
		return fmt.Errorf("no hunks found in %s", diffPath)
	}
	if err := diff.Validate(hunks); err != nil {
		return fmt.Errorf("invalid hunks: %w", err)
	}

	result, report := diff.Apply(string(content), hunks, diff.DefaultOptions())

	for _, rel := range report.Relocations {
		fmt.Fprintf(os.Stderr, "hunk relocated: declared line %d, applied at line %d (%d/%d context)\n",
			rel.DeclaredStart, rel.AnchoredStart, rel.Matched, rel.Sampled)
	}
	for _, sk := range report.Skipped {
		fmt.Fprintf(os.Stderr, "hunk skipped at line %d: %s\n", sk.OldStart, sk.Reason)
	}
	fmt.Fprintf(os.Stderr, "%d/%d hunks applied\n", report.Applied, len(hunks))

	if diffWrite {
		if err := os.WriteFile(target, []byte(result), 0644); err != nil {
			return fmt.Errorf("write target: %w", err)
		}
		return nil
	}
	fmt.Print(result)
	return nil
}
