// Package client implements the attach-side half of the wire protocol: the
// terminal raw-mode dance, the detach key sequence, and forwarding resize
// events into control frames addressed to a session's supervisor.
package client

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/term"

	"github.com/ianremillard/nds/internal/proto"
)

// eofByte is a bare Ctrl-D: at the start of a line it detaches, the same
// way it would signal EOF to a foreground shell reading from a terminal.
const eofByte = 0x04

// Attach connects to a session's Unix socket, puts the controlling terminal
// into raw mode for the duration, and pumps bytes in both directions until
// the user detaches (§4.3) or the connection is closed by the supervisor
// (session exited).
//
// It returns nil on an ordinary detach, and the error the session or
// terminal produced otherwise.
func Attach(socketPath string) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("connect to session: %w", err)
	}
	defer conn.Close()

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("enter raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	if err := sendSize(conn); err != nil {
		return err
	}

	winch := make(chan os.Signal, 4)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)

	done := make(chan error, 2)
	var once sync.Once
	stop := func(err error) {
		once.Do(func() { done <- err })
	}

	go func() {
		for range winch {
			sendSize(conn)
		}
	}()

	go pumpOutput(conn, stop)
	go pumpInput(os.Stdin, conn, stop)

	return <-done
}

// pumpOutput copies bytes from the session to the local terminal. The
// supervisor only sends frames back as acknowledgements of attach, list, and
// switch frames, which this client never sends, so this is a plain copy.
func pumpOutput(conn net.Conn, stop func(error)) {
	_, err := io.Copy(os.Stdout, conn)
	stop(err)
}

// pumpInput reads local keystrokes from r, recognizing the `~d` / `~s`
// escape and a bare EOF only at the start of a line (§4.3), and forwards
// everything else unchanged to w. The escape bytes themselves are consumed
// locally and never reach the shell. r and w are split out from the
// connection itself so the escape-sequence state machine can be driven by a
// test without a real socket or tty.
func pumpInput(r io.Reader, w io.Writer, stop func(error)) {
	buf := make([]byte, 4096)
	lineStart := true
	tilde := false

	forward := func(b byte) bool {
		if _, err := w.Write([]byte{b}); err != nil {
			stop(err)
			return false
		}
		lineStart = b == '\n'
		return true
	}

	for {
		n, err := r.Read(buf)
		for i := 0; i < n; i++ {
			b := buf[i]

			if tilde {
				tilde = false
				switch b {
				case 'd':
					w.Write(proto.Encode(proto.CmdDetach))
					stop(nil)
					return
				case 's':
					// ~s requests a switch between sessions; composing that
					// with another session's attach is the outer tool's
					// job, not this connection's, so it is swallowed here.
					lineStart = false
				default:
					if !forward('~') {
						return
					}
					if !forward(b) {
						return
					}
				}
				continue
			}

			if lineStart && b == '~' {
				tilde = true
				continue
			}
			if lineStart && b == eofByte {
				w.Write(proto.Encode(proto.CmdDetach))
				stop(nil)
				return
			}
			if !forward(b) {
				return
			}
		}
		if err != nil {
			stop(err)
			return
		}
	}
}

// sendSize reads the attached terminal's current dimensions and forwards
// them as a resize control frame (§4.2 "Terminal size").
func sendSize(conn net.Conn) error {
	cols, rows, err := term.GetSize(int(os.Stdin.Fd()))
	if err != nil {
		return nil // not a terminal (e.g. piped test harness); size stays default
	}
	_, err = conn.Write(proto.Encode(proto.CmdResize, itoa(cols), itoa(rows)))
	return err
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b [12]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		b[i] = '-'
	}
	return string(b[i:])
}
