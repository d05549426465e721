package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ianremillard/nds/internal/session"
)

// newWatchCmd creates the "nds watch" subcommand: a live-refreshing session
// list. It redraws on a fsnotify event from the status directory rather than
// polling, falling back to a slow ticker in case a change is missed (e.g. a
// rename racing the watch setup).
func newWatchCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Live dashboard of session state (Ctrl-C to exit)",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if cmdWatch(stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func cmdWatch(stdout, stderr io.Writer) int {
	root := resolveRoot()
	statusDir := root + "/status"
	if err := os.MkdirAll(statusDir, 0o700); err != nil {
		fmt.Fprintf(stderr, "nds watch: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fmt.Fprintf(stderr, "nds watch: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	defer watcher.Close()
	if err := watcher.Add(statusDir); err != nil {
		fmt.Fprintf(stderr, "nds watch: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	fd := int(os.Stdout.Fd())
	fmt.Fprint(stdout, "\033[?1049h\033[?25l") //nolint:errcheck // best-effort stdout
	defer fmt.Fprint(stdout, "\033[?25h\033[?1049l")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	fallback := time.NewTicker(2 * time.Second)
	defer fallback.Stop()

	drawWatch(stdout, fd, root)
	for {
		select {
		case <-sigCh:
			return 0
		case <-watcher.Events:
			drawWatch(stdout, fd, root)
		case err := <-watcher.Errors:
			fmt.Fprintf(stderr, "nds watch: %v\n", err) //nolint:errcheck // best-effort stderr
		case <-fallback.C:
			drawWatch(stdout, fd, root)
		}
	}
}

func drawWatch(stdout io.Writer, fd int, root string) {
	width, _, err := term.GetSize(fd)
	if err != nil || width < 40 {
		width = 100
	}

	summaries, err := session.List(root)

	var buf strings.Builder
	buf.WriteString("\033[H")
	buf.WriteString("nds — live session status\n\n")

	if err != nil {
		fmt.Fprintf(&buf, "error reading session directory: %v\n", err)
		buf.WriteString("\033[J")
		fmt.Fprint(stdout, buf.String()) //nolint:errcheck // best-effort stdout
		return
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt < summaries[j].CreatedAt
	})

	fmt.Fprintf(&buf, "%-10s %-16s %-10s %-6s %s\n", "ID", "NAME", "STATE", "CLIENTS", "AGE")
	fmt.Fprintf(&buf, "%s\n", strings.Repeat("─", width))

	var attached int
	for _, s := range summaries {
		name := s.Name
		if name == "" {
			name = "-"
		}
		age := time.Since(time.Unix(s.CreatedAt, 0)).Truncate(time.Second)
		fmt.Fprintf(&buf, "%-10s %-16s %-10s %-6d %s\n", s.DisplayID(), name, s.State, s.Attached, age)
		if s.Attached > 0 {
			attached++
		}
	}
	if len(summaries) == 0 {
		buf.WriteString("\n  no sessions\n")
	}

	fmt.Fprintf(&buf, "\n%d session(s)  ·  %d attached  ·  %s\n",
		len(summaries), attached, time.Now().Format("15:04:05"))

	buf.WriteString("\033[J")
	fmt.Fprint(stdout, buf.String()) //nolint:errcheck // best-effort stdout
}
