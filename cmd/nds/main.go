// Command nds is the CLI client for the ndsd session supervisor. It creates,
// lists, attaches to, renames, and kills detachable shell sessions, each
// supervised by its own ndsd process (see cmd/ndsd).
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ianremillard/nds/internal/session"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// errExit is a sentinel returned by RunE functions to request a non-zero
// exit after the command has already written its own error to stderr.
var errExit = errors.New("exit")

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "nds",
		Short:         "nds — detachable shell sessions",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			fmt.Fprintf(stderr, "nds: unknown command %q\n", args[0]) //nolint:errcheck // best-effort stderr
			return errExit
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(
		newNewCmd(stdout, stderr),
		newAttachCmd(stdout, stderr),
		newListCmd(stdout, stderr),
		newRenameCmd(stdout, stderr),
		newKillCmd(stdout, stderr),
		newCleanCmd(stdout, stderr),
		newHistoryCmd(stdout, stderr),
		newWatchCmd(stdout, stderr),
	)
	return root
}

// resolveRoot returns the session directory root, honoring NDS_ROOT.
func resolveRoot() string {
	return session.Root()
}
