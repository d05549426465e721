package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/ianremillard/nds/internal/session"
)

// newHistoryCmd creates the "nds history" subcommand. This is not part of
// the base control protocol: it reads the session's event log directly off
// disk (the active log, or the archived one if the active log is gone),
// rather than asking the supervisor for it, so it also works for a session
// whose supervisor has died. The session is looked up through its metadata
// record, so a session that exited normally (its supervisor removes that
// record on the way out) is reported as not found.
func newHistoryCmd(stdout, stderr io.Writer) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "history <id|name>",
		Short: "Print a session's lifecycle event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if cmdHistory(args[0], follow, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new events as they're appended")
	return cmd
}

func cmdHistory(idOrName string, follow bool, stdout, stderr io.Writer) int {
	root := resolveRoot()
	meta, err := resolveSession(root, idOrName)
	if err != nil {
		fmt.Fprintf(stderr, "nds history: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	paths := session.PathsFor(root, meta.ID)
	path := paths.Active
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		path = paths.Archive
		data, readErr = os.ReadFile(path)
	}
	if readErr != nil {
		fmt.Fprintf(stderr, "nds history: no event log for %s\n", meta.DisplayID()) //nolint:errcheck // best-effort stderr
		return 1
	}
	stdout.Write(data)

	if !follow || path == paths.Archive {
		return 0
	}
	return followHistory(path, int64(len(data)), stdout, stderr)
}

// followHistory watches the active event log for appended bytes via
// fsnotify rather than polling, printing each new chunk as it lands. It
// returns when the log is renamed away (session shutdown archives it).
func followHistory(path string, offset int64, stdout, stderr io.Writer) int {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fmt.Fprintf(stderr, "nds history: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		fmt.Fprintf(stderr, "nds history: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	for event := range watcher.Events {
		if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
			f, err := os.Open(path)
			if err != nil {
				continue
			}
			f.Seek(offset, os.SEEK_SET)
			n, _ := io.Copy(stdout, f)
			offset += n
			f.Close()
		}
		if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			return 0
		}
	}
	return 0
}
