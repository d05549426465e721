package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ianremillard/nds/internal/session"
)

// newRenameCmd creates the "nds rename" subcommand.
func newRenameCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id|name> <new-name>",
		Short: "Rename a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			if cmdRename(args[0], args[1], stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func cmdRename(idOrName, newName string, stdout, stderr io.Writer) int {
	root := resolveRoot()
	meta, err := resolveSession(root, idOrName)
	if err != nil {
		fmt.Fprintf(stderr, "nds rename: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	if err := session.Rename(root, meta.ID, newName); err != nil {
		fmt.Fprintf(stderr, "nds rename: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	fmt.Fprintf(stdout, "renamed %s to %q\n", meta.DisplayID(), newName) //nolint:errcheck // best-effort stdout
	return 0
}
