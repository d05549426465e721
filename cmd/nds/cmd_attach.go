package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ianremillard/nds/internal/client"
	"github.com/ianremillard/nds/internal/session"
)

// newAttachCmd creates the "nds attach" subcommand.
func newAttachCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "attach <id|name>",
		Short: "Attach to an existing session (detach: newline, ~d)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if cmdAttach(args[0], stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func cmdAttach(idOrName string, stdout, stderr io.Writer) int {
	root := resolveRoot()
	meta, err := resolveSession(root, idOrName)
	if err != nil {
		fmt.Fprintf(stderr, "nds attach: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	paths := session.PathsFor(root, meta.ID)
	if err := client.Attach(paths.Socket); err != nil {
		fmt.Fprintf(stderr, "nds attach: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	return 0
}
