package supervisor

import (
	"os"
	"os/signal"
	"syscall"
)

// Signal markers written down the self-pipe. SIGCHLD means "go reap the
// child"; shutdown means a SIGTERM/SIGINT asked for a graceful stop.
const (
	sigMarkerChild    byte = 1
	sigMarkerShutdown byte = 2
)

// selfPipe turns asynchronous signal delivery into bytes on a pipe, so the
// multiplexer's single poll() call is the only wait primitive the event
// loop needs (§9 "Signals as data"). signal.Notify itself still runs on a
// runtime-managed goroutine — that goroutine only ever forwards a byte; all
// state mutation happens back in the single-threaded poll loop.
type selfPipe struct {
	r, w *os.File
	sigs chan os.Signal
}

func newSelfPipe() (*selfPipe, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}

	sp := &selfPipe{r: r, w: w, sigs: make(chan os.Signal, 4)}
	signal.Notify(sp.sigs, syscall.SIGCHLD, syscall.SIGTERM, syscall.SIGINT)
	// SIGWINCH to the supervisor itself is ignored: resize is driven solely
	// by client frames (§4.2 "Signal handling").

	go sp.forward()
	return sp, nil
}

func (sp *selfPipe) forward() {
	for sig := range sp.sigs {
		marker := sigMarkerShutdown
		if sig == syscall.SIGCHLD {
			marker = sigMarkerChild
		}
		sp.w.Write([]byte{marker})
	}
}

// drain reads and classifies all pending markers currently buffered on the
// pipe, returning whether a SIGCHLD and/or a shutdown signal arrived.
func (sp *selfPipe) drain() (childExited, shutdown bool) {
	buf := make([]byte, 64)
	for {
		n, err := sp.r.Read(buf)
		for i := 0; i < n; i++ {
			switch buf[i] {
			case sigMarkerChild:
				childExited = true
			case sigMarkerShutdown:
				shutdown = true
			}
		}
		if err != nil || n < len(buf) {
			return
		}
	}
}

func (sp *selfPipe) close() {
	signal.Stop(sp.sigs)
	close(sp.sigs)
	sp.r.Close()
	sp.w.Close()
}
