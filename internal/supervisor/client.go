package supervisor

import (
	"golang.org/x/sys/unix"

	"github.com/ianremillard/nds/internal/proto"
)

// backpressureCap is the soft limit on a client's pending output queue
// (§4.2 "Backpressure"). A client that falls this far behind is evicted;
// the master is never blocked waiting for a slow reader.
const backpressureCap = 4 << 20 // 4 MiB

// client is one attached connection, addressed by its raw file descriptor
// rather than a net.Conn: the multiplexer drives every socket through the
// same readiness primitive as the pseudo-terminal master (§5), so sockets
// and the PTY are both plain fds in one poll table.
//
// The supervisor keeps a flat slice of these, indexed by a small integer
// handle that doubles as a poll-table row — no back-pointers into the
// supervisor (§9 "Cyclic ownership of clients").
type client struct {
	fd int

	cols, rows uint16

	// out is the pending output queue. Scrollback replay and every live
	// broadcast append here in arrival order, so a client never observes
	// live bytes ahead of its replay — FIFO append is the entire ordering
	// guarantee; no separate "replaying" flag is needed.
	out []byte

	scanner proto.Scanner

	closing bool // marked for removal at the next reap pass
}

func newClient(fd int) *client {
	return &client{fd: fd}
}

// enqueue appends data to the client's output queue. It reports whether the
// client exceeded the backpressure cap and should be evicted.
func (c *client) enqueue(data []byte) (overCap bool) {
	c.out = append(c.out, data...)
	return len(c.out) > backpressureCap
}

// flush performs one non-blocking best-effort write of the pending queue.
func (c *client) flush() error {
	for len(c.out) > 0 {
		n, err := unix.Write(c.fd, c.out)
		if n > 0 {
			c.out = c.out[n:]
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				return nil // socket buffer full for now; retry next iteration
			}
			return err
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}

func (c *client) close() {
	unix.Close(c.fd)
}
