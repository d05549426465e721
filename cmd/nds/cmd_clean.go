package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ianremillard/nds/internal/session"
)

// newCleanCmd creates the "nds clean" subcommand.
func newCleanCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove directory entries for sessions whose supervisor is gone",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if cmdClean(stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func cmdClean(stdout, stderr io.Writer) int {
	root := resolveRoot()
	removed, err := session.Clean(root)
	if err != nil {
		fmt.Fprintf(stderr, "nds clean: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	if len(removed) == 0 {
		fmt.Fprintln(stdout, "nothing to clean") //nolint:errcheck // best-effort stdout
		return 0
	}
	for _, id := range removed {
		fmt.Fprintf(stdout, "removed %s\n", id[:8]) //nolint:errcheck // best-effort stdout
	}
	return 0
}
