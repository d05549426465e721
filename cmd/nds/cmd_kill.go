package main

import (
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ianremillard/nds/internal/proto"
	"github.com/ianremillard/nds/internal/session"
)

// newKillCmd creates the "nds kill" subcommand.
func newKillCmd(stdout, stderr io.Writer) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "kill <id|name>",
		Short: "Terminate a session's shell and supervisor",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if cmdKill(args[0], force, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "send SIGKILL directly instead of asking the supervisor to shut down")
	return cmd
}

func cmdKill(idOrName string, force bool, stdout, stderr io.Writer) int {
	root := resolveRoot()
	meta, err := resolveSession(root, idOrName)
	if err != nil {
		fmt.Fprintf(stderr, "nds kill: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	if force {
		if meta.PID > 0 {
			syscall.Kill(meta.PID, syscall.SIGKILL)
		}
		session.Remove(session.PathsFor(root, meta.ID))
		fmt.Fprintf(stdout, "killed %s\n", meta.DisplayID()) //nolint:errcheck // best-effort stdout
		return 0
	}

	paths := session.PathsFor(root, meta.ID)
	conn, err := net.DialTimeout("unix", paths.Socket, 500*time.Millisecond)
	if err != nil {
		// Supervisor already gone, or socket unreachable: fall back to a
		// direct signal so `nds kill` remains useful for cleanup.
		if meta.PID > 0 {
			syscall.Kill(meta.PID, syscall.SIGTERM)
		}
		fmt.Fprintf(stdout, "killed %s\n", meta.DisplayID()) //nolint:errcheck // best-effort stdout
		return 0
	}
	defer conn.Close()

	conn.Write(proto.Encode(proto.CmdKill))
	fmt.Fprintf(stdout, "killed %s\n", meta.DisplayID()) //nolint:errcheck // best-effort stdout
	return 0
}
