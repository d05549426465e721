// Package supervisor implements the session supervisor: the long-lived
// process that owns one pseudo-terminal pair, forks the configured shell
// onto its slave side, serves attach requests over a Unix socket, and
// drives the single-threaded I/O multiplexer described in §4.2.
package supervisor

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/ianremillard/nds/internal/config"
	"github.com/ianremillard/nds/internal/session"
)

// defaultCols/defaultRows are used when no client has yet attached to
// report its terminal size (§4.1 step 2).
const (
	defaultCols = 80
	defaultRows = 24

	masterReadChunk = 16 * 1024 // §4.2 "read up to 16 KiB"
	clientReadChunk = 16 * 1024

	// shutdownFlushBudget bounds how long graceful shutdown waits for
	// client output queues to drain before giving up (§5).
	shutdownFlushBudget = 2 * time.Second
	// shutdownChildBudget bounds how long the supervisor waits for the
	// shell to exit after SIGHUP before escalating to SIGKILL.
	shutdownChildBudget = 3 * time.Second
)

// Supervisor owns one session's PTY, listener, scrollback, and client set.
type Supervisor struct {
	root string
	id   string
	name string

	paths session.Paths

	shellPath    string
	argv         []string
	promptPrefix string

	ptm   *os.File // kept for pty.Setsize; Fd() is also polled directly
	ptmFd int
	cmd   *exec.Cmd

	listenFd int

	ring    *Ring
	clients []*client
	pipe    *selfPipe

	activeLog *os.File

	shutdownRequested bool
	shutdownDeadline  time.Time
	childReaped       bool
	exitCode          int
}

// New builds a Supervisor for an already-reserved session (see
// session.Reserve). meta carries the shell and argv decided at creation
// time; cfg carries the optional ~/.nds/config.yaml overrides.
func New(root, id string, meta session.Meta, cfg config.Config) *Supervisor {
	argv := meta.Argv
	if len(argv) == 0 {
		argv = []string{meta.Shell}
	}
	return &Supervisor{
		root:         root,
		id:           id,
		name:         meta.Name,
		paths:        session.PathsFor(root, id),
		shellPath:    meta.Shell,
		argv:         argv,
		promptPrefix: cfg.PromptPrefix,
		ring:         NewRing(cfg.ScrollbackBytes),
	}
}

// Run executes the full supervisor lifecycle: startup contract, multiplexer
// loop, shutdown contract (§4.1). It returns the shell's exit status, or a
// setup error if setup failed before or after the fork (binding the socket
// and creating the self-pipe happen after it).
func (s *Supervisor) Run() (int, error) {
	if err := session.EnsureDirs(s.root); err != nil {
		return 1, err
	}

	if err := s.openHistory(); err != nil {
		return 1, err
	}
	defer func() {
		if s.activeLog != nil {
			s.activeLog.Close()
		}
	}()

	if err := s.spawnShell(); err != nil {
		return 1, fmt.Errorf("spawn shell: %w", err)
	}

	if err := session.SetPID(s.paths, os.Getpid()); err != nil {
		log.Printf("session %s: record pid: %v", s.id, err)
	}

	if err := s.bindSocket(); err != nil {
		// Failure to bind after the fork means we must kill the shell and
		// clean up rather than leave an orphaned, unreachable session.
		s.killChild(syscall.SIGHUP)
		time.Sleep(200 * time.Millisecond)
		s.killChild(syscall.SIGKILL)
		s.cmd.Wait()
		session.Remove(s.paths)
		return 2, fmt.Errorf("bind socket: %w", err)
	}

	pipe, err := newSelfPipe()
	if err != nil {
		return 2, fmt.Errorf("self-pipe: %w", err)
	}
	s.pipe = pipe
	defer s.pipe.close()

	if err := session.WriteStatus(s.paths, 0); err != nil {
		log.Printf("session %s: write status: %v", s.id, err)
	}
	s.logEvent("start", fmt.Sprintf("pid=%d shell=%s", s.cmd.Process.Pid, s.shellPath))

	s.loop()

	return s.shutdown(), nil
}

// spawnShell allocates the pseudo-terminal, forks the configured shell onto
// its slave side, and puts the master into non-blocking mode for the
// multiplexer's manual readiness loop.
func (s *Supervisor) spawnShell() error {
	var args []string
	if len(s.argv) > 1 {
		args = s.argv[1:]
	}
	cmd := exec.Command(s.shellPath, args...)
	cmd.Env = s.buildEnv()

	ws := &pty.Winsize{Rows: defaultRows, Cols: defaultCols}

	// The forked child inherits the parent's umask at fork time; clamping
	// it to 0077 here for the duration of the fork+exec gives the shell
	// process the restrictive file-creation mask §4.1 step 3 asks for,
	// without needing a fork hook Go doesn't expose.
	oldMask := syscall.Umask(0o077)
	ptm, err := pty.StartWithSize(cmd, ws)
	syscall.Umask(oldMask)
	if err != nil {
		return err
	}

	// Fd() switches the descriptor back to blocking mode on every call, so
	// it is taken once, before non-blocking mode is set.
	ptmFd := int(ptm.Fd())
	if err := unix.SetNonblock(ptmFd, true); err != nil {
		ptm.Close()
		cmd.Process.Kill()
		return fmt.Errorf("set pty master non-blocking: %w", err)
	}

	s.ptm = ptm
	s.ptmFd = ptmFd
	s.cmd = cmd
	return nil
}

// bindSocket creates the session's Unix listener at mode 0600 (§4.1 step 1,
// §6). The listener and every accepted connection are plain non-blocking
// file descriptors driven by the same poll loop as the PTY master.
func (s *Supervisor) bindSocket() error {
	os.Remove(s.paths.Socket)

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return err
	}

	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: s.paths.Socket}); err != nil {
		unix.Close(fd)
		return err
	}
	if err := unix.Listen(fd, 16); err != nil {
		unix.Close(fd)
		return err
	}
	if err := os.Chmod(s.paths.Socket, 0o600); err != nil {
		unix.Close(fd)
		return err
	}

	s.listenFd = fd
	return nil
}

// buildEnv augments the inherited environment with the session identity
// variables consumed by the spawned shell (§6).
func (s *Supervisor) buildEnv() []string {
	env := append([]string{}, os.Environ()...)
	env = append(env, "NDS_SESSION_ID="+s.id, "TERM=xterm-256color")
	if s.name != "" {
		env = append(env, "NDS_SESSION_NAME="+s.name)
	}
	if s.promptPrefix != "" {
		env = append(env, "NDS_PROMPT_PREFIX="+s.promptPrefix)
	}
	return env
}

// openHistory opens the append-only active event log (§6). Unlike the
// scrollback ring, this records discrete events (attach, detach, resize,
// exit) rather than raw PTY bytes.
func (s *Supervisor) openHistory() error {
	if err := os.MkdirAll(filepath.Dir(s.paths.Active), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(s.paths.Active, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	s.activeLog = f
	return nil
}

func (s *Supervisor) logEvent(kind, detail string) {
	if s.activeLog == nil {
		return
	}
	line := fmt.Sprintf("%s %s %s\n", time.Now().UTC().Format(time.RFC3339), kind, detail)
	s.activeLog.WriteString(line)
}

// killChild signals the shell's entire process group, matching the
// Setsid-created session so a multi-process shell job tree dies together.
func (s *Supervisor) killChild(sig syscall.Signal) {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	pid := s.cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	if err != nil || pgid <= 0 {
		syscall.Kill(pid, sig)
		return
	}
	syscall.Kill(-pgid, sig)
}

// shutdown implements §4.1's shutdown contract once the loop has exited:
// close the master, notify and close every client, remove the directory
// files, archive history, and return the shell's exit status.
func (s *Supervisor) shutdown() int {
	if s.ptm != nil {
		s.ptm.Close()
	}

	final := []byte("\r\n[session ended]\r\n")
	deadline := time.Now().Add(shutdownFlushBudget)
	for _, c := range s.clients {
		c.enqueue(final)
		c.flush()
		for len(c.out) > 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
			if err := c.flush(); err != nil {
				break
			}
		}
		c.close()
	}
	s.clients = nil

	s.logEvent("exit", fmt.Sprintf("code=%d", s.exitCode))

	paths := s.paths
	session.Remove(paths)
	if _, err := os.Stat(paths.Active); err == nil {
		if err := os.MkdirAll(filepath.Dir(paths.Archive), 0o700); err == nil {
			os.Rename(paths.Active, paths.Archive)
		}
	}

	return s.exitCode
}
