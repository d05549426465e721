package supervisor

import (
	"fmt"
	"log"
	"strconv"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/ianremillard/nds/internal/proto"
	"github.com/ianremillard/nds/internal/session"
)

// pollTimeoutMs bounds how long a single poll() call blocks when nothing is
// ready, so the loop periodically wakes to re-check shutdown deadlines even
// without new I/O (§5: the loop still only ever waits on one primitive).
const pollTimeoutMs = 250

// loop is the single-threaded, cooperative event loop (§5). Every iteration
// builds one poll() table covering the PTY master, the self-pipe, the
// listening socket, and every attached client, then reacts to whichever fds
// came back ready. No locks, no other goroutines touch shared state.
func (s *Supervisor) loop() {
	for {
		fds := make([]unix.PollFd, 0, 3+len(s.clients))

		fds = append(fds, unix.PollFd{Fd: int32(s.ptmFd), Events: unix.POLLIN})
		masterIdx := 0

		fds = append(fds, unix.PollFd{Fd: int32(s.pipe.r.Fd()), Events: unix.POLLIN})
		pipeIdx := 1

		listenIdx := -1
		if !s.shutdownRequested {
			fds = append(fds, unix.PollFd{Fd: int32(s.listenFd), Events: unix.POLLIN})
			listenIdx = len(fds) - 1
		}

		clientStart := len(fds)
		for _, c := range s.clients {
			ev := int16(unix.POLLIN)
			if len(c.out) > 0 {
				ev |= unix.POLLOUT
			}
			fds = append(fds, unix.PollFd{Fd: int32(c.fd), Events: ev})
		}

		_, err := unix.Poll(fds, pollTimeoutMs)
		if err != nil && err != unix.EINTR {
			log.Printf("session %s: poll: %v", s.id, err)
		}

		if fds[pipeIdx].Revents&unix.POLLIN != 0 {
			childExited, shutdown := s.pipe.drain()
			if childExited {
				s.reapChild()
			}
			if shutdown {
				s.beginShutdown()
			}
		}

		if fds[masterIdx].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			s.drainMaster()
		}

		if listenIdx >= 0 && fds[listenIdx].Revents&unix.POLLIN != 0 {
			s.acceptClients()
		}

		for i, c := range s.clients {
			pf := fds[clientStart+i]
			if pf.Revents&unix.POLLIN != 0 {
				s.drainClient(c)
			}
			if pf.Revents&unix.POLLOUT != 0 {
				if err := c.flush(); err != nil {
					c.closing = true
				}
			}
			if pf.Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
				c.closing = true
			}
		}

		s.reapClients()

		if s.childReaped {
			return
		}
		if s.shutdownRequested && time.Now().After(s.shutdownDeadline) {
			s.killChild(syscall.SIGKILL)
			// Push the deadline out once more so we don't spin re-sending
			// SIGKILL every iteration while waiting for the reap signal.
			s.shutdownDeadline = time.Now().Add(shutdownChildBudget)
		}
	}
}

// beginShutdown reacts to SIGTERM/SIGINT by asking the shell to leave
// cleanly (§4.1 shutdown contract) and stops accepting new clients.
func (s *Supervisor) beginShutdown() {
	if s.shutdownRequested {
		return
	}
	s.shutdownRequested = true
	s.shutdownDeadline = time.Now().Add(shutdownChildBudget)
	s.killChild(syscall.SIGHUP)
	s.logEvent("shutdown", "signal received")
}

// reapChild collects the shell's exit status without blocking the loop.
// Direct Wait4 is safe here instead of exec.Cmd.Wait because the PTY-backed
// Cmd has *os.File stdio and spawns no internal io.Copy goroutines.
func (s *Supervisor) reapChild() {
	if s.cmd == nil || s.cmd.Process == nil || s.childReaped {
		return
	}
	var ws syscall.WaitStatus
	pid, err := syscall.Wait4(s.cmd.Process.Pid, &ws, syscall.WNOHANG, nil)
	if err != nil || pid == 0 {
		return
	}
	s.childReaped = true
	switch {
	case ws.Exited():
		s.exitCode = ws.ExitStatus()
	case ws.Signaled():
		s.exitCode = 128 + int(ws.Signal())
	}
}

// drainMaster forwards pseudo-terminal output to scrollback and to every
// attached client's output queue (§4.2 "master readable").
func (s *Supervisor) drainMaster() {
	buf := make([]byte, masterReadChunk)
	for {
		n, err := unix.Read(s.ptmFd, buf)
		if n > 0 {
			chunk := buf[:n]
			s.ring.Write(chunk)
			for _, c := range s.clients {
				if over := c.enqueue(chunk); over {
					c.closing = true
				}
			}
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			// EIO here means the slave side has no more readers/writers,
			// i.e. the shell has exited; the SIGCHLD marker will arrive
			// separately and drive actual reaping.
			return
		}
		if n == 0 {
			return
		}
	}
}

// acceptClients drains the listening socket's backlog (§4.2 "listener
// readable"), registering each new connection and replaying scrollback to
// it before any live bytes can reach its queue.
func (s *Supervisor) acceptClients() {
	for {
		fd, _, err := unix.Accept4(s.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			log.Printf("session %s: accept: %v", s.id, err)
			return
		}

		others := len(s.clients)
		c := newClient(fd)
		c.enqueue(s.ring.Snapshot())
		s.clients = append(s.clients, c)

		if others > 0 {
			notice := []byte(fmt.Sprintf("\r\n[Another client connected (total: %d)]\r\n", len(s.clients)))
			for _, other := range s.clients[:others] {
				other.enqueue(notice)
			}
		}

		s.logEvent("attach", "")
		session.WriteStatus(s.paths, len(s.clients))
	}
}

// drainClient reads raw bytes from one client, separates data from control
// frames via its Scanner, forwards data to the pseudo-terminal master, and
// applies any frames found (§4.2 "client readable").
func (s *Supervisor) drainClient(c *client) {
	buf := make([]byte, clientReadChunk)
	for {
		n, err := unix.Read(c.fd, buf)
		if n > 0 {
			data, frames := c.scanner.Feed(buf[:n])
			if len(data) > 0 {
				writeAll(s.ptmFd, data)
			}
			for _, f := range frames {
				s.applyFrame(c, f)
			}
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			c.closing = true
			return
		}
		if n == 0 {
			c.closing = true
			return
		}
	}
}

// applyFrame executes one validated control frame from a client. resize,
// detach, scrollback, clear, and kill act on this session directly; attach,
// list, and switch name operations that belong to session selection rather
// than an already-open session socket, so this per-session supervisor only
// ever acknowledges them — a client reconnects to a different session's own
// socket to actually switch, rather than this connection changing target.
func (s *Supervisor) applyFrame(c *client, f proto.Frame) {
	switch f.Cmd {
	case proto.CmdResize:
		if len(f.Args) < 2 {
			return
		}
		cols, err1 := strconv.Atoi(f.Args[0])
		rows, err2 := strconv.Atoi(f.Args[1])
		if err1 != nil || err2 != nil {
			return
		}
		c.cols, c.rows = uint16(cols), uint16(rows)
		s.applyMinSize()
		s.logEvent("resize", fmt.Sprintf("%dx%d", cols, rows))

	case proto.CmdDetach:
		c.closing = true
		s.logEvent("detach", "")

	case proto.CmdScrollback:
		n := 0
		if len(f.Args) > 0 {
			n, _ = strconv.Atoi(f.Args[0])
		}
		var snap []byte
		if n > 0 {
			snap = s.ring.Last(n)
		} else {
			snap = s.ring.Snapshot()
		}
		c.enqueue(snap)

	case proto.CmdClear:
		// Only this client's own queue and screen clear; the shared ring
		// and every other client's scrollback are untouched. pumpOutput on
		// the client side is a blind io.Copy with no frame parsing, so the
		// reply has to be plain terminal bytes (CSI home + clear), not a
		// framed control message.
		c.out = c.out[:0]
		c.enqueue([]byte("\x1b[H\x1b[2J"))

	case proto.CmdKill:
		s.logEvent("kill", "requested by client")
		s.beginShutdown()

	case proto.CmdRefresh:
		c.enqueue(s.ring.Snapshot())

	case proto.CmdAttach, proto.CmdList, proto.CmdSwitch:
		c.enqueue(proto.Encode(f.Cmd, "ack"))
	}
}

// applyMinSize recomputes the pseudo-terminal's size as the minimum of every
// attached client's reported size (§4.2 "Terminal size"), so no attached
// client ever sees output wrapped for a window larger than its own.
func (s *Supervisor) applyMinSize() {
	var cols, rows uint16
	for _, c := range s.clients {
		if c.cols == 0 || c.rows == 0 {
			continue
		}
		if cols == 0 || c.cols < cols {
			cols = c.cols
		}
		if rows == 0 || c.rows < rows {
			rows = c.rows
		}
	}
	if cols == 0 {
		cols = defaultCols
	}
	if rows == 0 {
		rows = defaultRows
	}
	pty.Setsize(s.ptm, &pty.Winsize{Cols: cols, Rows: rows})
}

// reapClients removes every client marked for closing, matching the
// accounting to the status file read by `nds list` (§6).
func (s *Supervisor) reapClients() {
	if len(s.clients) == 0 {
		return
	}
	kept := s.clients[:0]
	removed := false
	for _, c := range s.clients {
		if c.closing {
			c.flush()
			c.close()
			removed = true
			continue
		}
		kept = append(kept, c)
	}
	s.clients = kept
	if removed {
		if len(s.clients) > 0 {
			s.applyMinSize()
		}
		session.WriteStatus(s.paths, len(s.clients))
	}
}

// writeAll performs a best-effort non-blocking write loop, used for the
// small, bursty keystroke forwarding path (client -> PTY master) where
// partial writes are retried immediately rather than queued.
func writeAll(fd int, data []byte) {
	for len(data) > 0 {
		n, err := unix.Write(fd, data)
		if n > 0 {
			data = data[n:]
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				continue
			}
			return
		}
		if n == 0 {
			return
		}
	}
}
