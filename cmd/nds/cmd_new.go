package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/ianremillard/nds/internal/client"
	"github.com/ianremillard/nds/internal/config"
	"github.com/ianremillard/nds/internal/session"
)

// newNewCmd creates the "nds new" subcommand.
func newNewCmd(stdout, stderr io.Writer) *cobra.Command {
	var name string
	var shell string
	var detached bool

	cmd := &cobra.Command{
		Use:   "new [-- command...]",
		Short: "Create a new session and attach to it",
		Args:  cobra.ArbitraryArgs,
		RunE: func(_ *cobra.Command, args []string) error {
			if cmdNew(args, name, shell, detached, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "human-readable session name (must be unique)")
	cmd.Flags().StringVar(&shell, "shell", "", "shell to run (default: $NDS_SHELL, $SHELL, config.yaml shell, /bin/sh)")
	cmd.Flags().BoolVarP(&detached, "detach", "d", false, "create the session without attaching")
	return cmd
}

func cmdNew(argv []string, name, shell string, detached bool, stdout, stderr io.Writer) int {
	root := resolveRoot()

	if shell == "" {
		shell = resolveShell()
	}

	id, paths, err := session.Reserve(root, name, argv, shell)
	if err != nil {
		fmt.Fprintf(stderr, "nds new: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	exe, err := os.Executable()
	if err != nil {
		exe = "ndsd"
	}
	ndsdPath := findNdsd(exe)

	spawn := exec.Command(ndsdPath, "-root", root, "-id", id)
	spawn.Stdout = nil
	spawn.Stderr = nil
	spawn.Stdin = nil
	if err := spawn.Start(); err != nil {
		fmt.Fprintf(stderr, "nds new: start supervisor: %v\n", err) //nolint:errcheck // best-effort stderr
		session.Remove(paths)
		return 1
	}
	spawn.Process.Release()

	fmt.Fprintf(stdout, "created session %s\n", id[:8]) //nolint:errcheck // best-effort stdout

	if detached {
		return 0
	}
	if err := waitForSocket(paths.Socket); err != nil {
		fmt.Fprintf(stderr, "nds new: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	if err := client.Attach(paths.Socket); err != nil {
		fmt.Fprintf(stderr, "nds new: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	return 0
}

// resolveShell implements the fallback chain: NDS_SHELL, SHELL, the shell
// pinned in config.yaml, /bin/sh.
func resolveShell() string {
	if s := os.Getenv("NDS_SHELL"); s != "" {
		return s
	}
	if s := os.Getenv("SHELL"); s != "" {
		return s
	}
	if cfg, err := config.Load(resolveRoot()); err == nil && cfg.Shell != "" {
		return cfg.Shell
	}
	return "/bin/sh"
}

// findNdsd locates the ndsd binary alongside the running nds binary, falling
// back to $PATH lookup so a `go install`'d pair still works.
func findNdsd(ndsExePath string) string {
	dir := ndsExePath
	for i := len(dir) - 1; i >= 0; i-- {
		if dir[i] == '/' {
			candidate := dir[:i+1] + "ndsd"
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
			break
		}
	}
	return "ndsd"
}
