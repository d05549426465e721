package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ianremillard/nds/internal/session"
)

// newListCmd creates the "nds list" subcommand.
func newListCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known sessions",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if cmdList(stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func cmdList(stdout, stderr io.Writer) int {
	root := resolveRoot()
	summaries, err := session.List(root)
	if err != nil {
		fmt.Fprintf(stderr, "nds list: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt < summaries[j].CreatedAt
	})

	if len(summaries) == 0 {
		fmt.Fprintln(stdout, "no sessions") //nolint:errcheck // best-effort stdout
		return 0
	}

	fmt.Fprintf(stdout, "%-10s %-16s %-10s %-6s %-9s %s\n", "ID", "NAME", "STATE", "CLIENTS", "AGE", "SHELL") //nolint:errcheck // best-effort stdout
	for _, s := range summaries {
		name := s.Name
		if name == "" {
			name = "-"
		}
		age := time.Since(time.Unix(s.CreatedAt, 0)).Truncate(time.Second)
		fmt.Fprintf(stdout, "%-10s %-16s %-10s %-6d %-9s %s\n", //nolint:errcheck // best-effort stdout
			s.DisplayID(), name, s.State, s.Attached, age, s.Shell)
	}
	return 0
}
