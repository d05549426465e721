package session

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// Root resolves the per-user root directory once. Precedence: NDS_ROOT env
// var, then ~/.nds. Per §9 "Global state", callers resolve this once at
// startup and treat it as immutable for the life of the process.
func Root() string {
	if env := os.Getenv("NDS_ROOT"); env != "" {
		if abs, err := filepath.Abs(env); err == nil {
			return abs
		}
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".nds")
}

// Summary is a read-only, external-tool view of a session: metadata plus
// whatever the status file currently reports. It is built entirely from
// sessions/*.json and status/* — never by dialing the socket, per §4.3.
type Summary struct {
	Meta
	State      string
	Attached   int
	LastUpdate int64
}

// List builds a Summary for every session recorded under root, in no
// particular order. Sessions whose status file is missing or unreadable are
// reported as Starting while their recorded PID is alive, and as Dead
// otherwise (e.g. a supervisor that crashed before writing one).
func List(root string) ([]Summary, error) {
	metas, err := ListMeta(root)
	if err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(metas))
	for _, m := range metas {
		paths := PathsFor(root, m.ID)
		s := Summary{Meta: m}

		attached, lastUpdate, err := ReadStatus(paths.Status)
		if err != nil {
			// No status file yet doesn't necessarily mean dead: a
			// supervisor that has set its PID but hasn't reached the
			// first WriteStatus call (§4.1 step 1) is still starting up.
			if isAlive(m.PID) {
				s.State = Starting
			} else {
				s.State = Dead
			}
			s.Attached = 0
			s.LastUpdate = lastUpdate
			out = append(out, s)
			continue
		}
		if !isAlive(m.PID) {
			s.State = Dead
			s.Attached = 0
			s.LastUpdate = lastUpdate
			out = append(out, s)
			continue
		}

		s.Attached = attached
		s.LastUpdate = lastUpdate
		switch {
		case attached > 0:
			s.State = Attached
		default:
			s.State = Detached
		}
		out = append(out, s)
	}
	return out, nil
}

// Find resolves a full or display-prefix identifier to its full metadata
// record. An empty result with a nil error means no match.
func Find(root, idOrPrefix string) (Meta, bool, error) {
	metas, err := ListMeta(root)
	if err != nil {
		return Meta{}, false, err
	}
	for _, m := range metas {
		if m.ID == idOrPrefix || m.Name == idOrPrefix || m.DisplayID() == idOrPrefix {
			return m, true, nil
		}
	}
	// Fall back to prefix match against the full id.
	for _, m := range metas {
		if len(idOrPrefix) > 0 && len(m.ID) >= len(idOrPrefix) && m.ID[:len(idOrPrefix)] == idOrPrefix {
			return m, true, nil
		}
	}
	return Meta{}, false, nil
}

// Clean prunes stale files for sessions whose supervisor is gone: a session
// is dead if its recorded PID no longer exists, or the PID is alive but
// does not own the recorded socket path (e.g. PID reuse after a crash).
// Clean never dials the socket — doing so would itself count as an attach.
// It returns the ids it removed.
func Clean(root string) ([]string, error) {
	metas, err := ListMeta(root)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, m := range metas {
		if isAlive(m.PID) && ownsSocket(m.PID, m.Socket) {
			continue
		}
		paths := PathsFor(root, m.ID)
		archiveHistory(root, m.ID)
		Remove(paths)
		removed = append(removed, m.ID)
	}
	return removed, nil
}

// isAlive reports whether pid names a live process, using kill(pid, 0) —
// this delivers no signal but fails with ESRCH if the process is gone.
func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	// EPERM means the process exists but we can't signal it (unexpected for
	// our own child, but treat as alive rather than risk pruning a live
	// session); ESRCH and anything else mean it's gone.
	return err == syscall.EPERM
}

// ownsSocket is a best-effort check that pid still has the socket open, by
// walking /proc/<pid>/fd on Linux and resolving each descriptor's target.
// On platforms without /proc (or if it's unreadable, e.g. in a container
// with restricted procfs), ownership is assumed from the liveness check
// alone — Clean degrades gracefully rather than refusing to prune anything.
func ownsSocket(pid int, socketPath string) bool {
	fdDir := filepath.Join("/proc", itoa(pid), "fd")
	entries, err := os.ReadDir(fdDir)
	if err != nil {
		return true
	}

	// A socket descriptor resolves to "socket:[<inode>]" rather than to its
	// path, so look the bound path's inode up in /proc/net/unix as well.
	wantSocket := ""
	if table, err := os.ReadFile("/proc/net/unix"); err == nil {
		for _, line := range strings.Split(string(table), "\n") {
			f := strings.Fields(line)
			if len(f) >= 8 && f[7] == socketPath {
				wantSocket = "socket:[" + f[6] + "]"
				break
			}
		}
	}

	wantSuffix := filepath.Base(socketPath)
	for _, e := range entries {
		target, err := os.Readlink(filepath.Join(fdDir, e.Name()))
		if err != nil {
			continue
		}
		if filepath.Base(target) == wantSuffix || (wantSocket != "" && target == wantSocket) {
			return true
		}
	}
	return false
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// archiveHistory moves a session's active event log to the archived
// directory, best-effort, before its other files are removed.
func archiveHistory(root, id string) {
	paths := PathsFor(root, id)
	if _, err := os.Stat(paths.Active); err != nil {
		return
	}
	os.Rename(paths.Active, paths.Archive)
}
