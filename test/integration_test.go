//go:build integration

// Integration tests for nds + ndsd.
//
// Each test builds the binaries once (via TestMain), runs them against an
// isolated NDS_ROOT temp directory, and drives the session socket directly
// with net.Dial rather than through a real terminal — attach's raw-mode
// dance needs an actual tty, which a test process doesn't have, but the
// wire protocol it speaks is exactly what a dialed connection sees.
//
// Run with:
//
//	go test -tags=integration -v ./test/
//	go test -tags=integration -run TestFullLifecycle -v ./test/

package integration_test

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ianremillard/nds/internal/proto"
)

var ndsBin, ndsdBin string

func TestMain(m *testing.M) {
	root := moduleRoot()

	tmpBin, err := os.MkdirTemp("", "nds-inttest-bin-*")
	if err != nil {
		panic("MkdirTemp: " + err.Error())
	}
	defer os.RemoveAll(tmpBin)

	ndsBin = filepath.Join(tmpBin, "nds")
	ndsdBin = filepath.Join(tmpBin, "ndsd")

	for _, b := range []struct{ out, pkg string }{
		{ndsBin, "./cmd/nds"},
		{ndsdBin, "./cmd/ndsd"},
	} {
		cmd := exec.Command("go", "build", "-o", b.out, b.pkg)
		cmd.Dir = root
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			panic("build " + b.pkg + ": " + err.Error())
		}
	}

	os.Exit(m.Run())
}

func moduleRoot() string {
	abs, err := filepath.Abs("..")
	if err != nil {
		panic(err)
	}
	return abs
}

// ── Test environment ────────────────────────────────────────────────────────

type testEnv struct {
	t    *testing.T
	root string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{t: t, root: t.TempDir()}
	t.Cleanup(env.cleanup)
	return env
}

func (e *testEnv) envVars() []string {
	return append(os.Environ(), "NDS_ROOT="+e.root, "NDS_SHELL=/bin/sh")
}

// nds runs an nds subcommand and returns trimmed combined output.
func (e *testEnv) nds(args ...string) (string, error) {
	cmd := exec.Command(ndsBin, args...)
	cmd.Env = e.envVars()
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func (e *testEnv) ndsOK(args ...string) string {
	e.t.Helper()
	out, err := e.nds(args...)
	require.NoError(e.t, err, "nds %v\n%s", args, out)
	return out
}

// newSession creates a detached session and returns its display id.
func (e *testEnv) newSession(extra ...string) string {
	e.t.Helper()
	args := append([]string{"new", "-d"}, extra...)
	out := e.ndsOK(args...)
	fields := strings.Fields(out)
	require.NotEmpty(e.t, fields)
	return fields[len(fields)-1]
}

func (e *testEnv) socketPath(id string) string {
	matches, err := filepath.Glob(filepath.Join(e.root, "sockets", id+"*.sock"))
	require.NoError(e.t, err)
	require.Len(e.t, matches, 1, "expected exactly one socket for %s", id)
	return matches[0]
}

func (e *testEnv) cleanup() {
	out, _ := e.nds("list")
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0] == "ID" || fields[0] == "no" {
			continue
		}
		e.nds("kill", "--force", fields[0])
	}
}

// rawClient is a minimal stand-in for `nds attach` that dials the socket
// directly and exposes a line reader, for assertions on shell output.
type rawClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, socketPath string) *rawClient {
	t.Helper()
	var conn net.Conn
	var err error
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		conn, err = net.Dial("unix", socketPath)
		if err == nil {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	require.NoError(t, err, "dial session socket")
	c := &rawClient{t: t, conn: conn, r: bufio.NewReader(conn)}
	c.send(proto.CmdResize, "80", "24")
	return c
}

func (c *rawClient) send(cmd string, args ...string) {
	_, err := c.conn.Write(proto.Encode(cmd, args...))
	require.NoError(c.t, err)
}

func (c *rawClient) writeLine(s string) {
	_, err := c.conn.Write([]byte(s + "\n"))
	require.NoError(c.t, err)
}

// waitForText polls raw output until needle appears or the deadline passes.
func (c *rawClient) waitForText(needle string, timeout time.Duration) bool {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	var seen strings.Builder
	buf := make([]byte, 4096)
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	for time.Now().Before(deadline) {
		n, err := c.conn.Read(buf)
		if n > 0 {
			seen.Write(buf[:n])
			if strings.Contains(seen.String(), needle) {
				return true
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return strings.Contains(seen.String(), needle)
			}
			return false
		}
	}
	return strings.Contains(seen.String(), needle)
}

func (c *rawClient) close() {
	c.conn.Close()
}

// ── Tests ────────────────────────────────────────────────────────────────────

func TestListEmpty(t *testing.T) {
	env := newTestEnv(t)
	out := env.ndsOK("list")
	assert.Contains(t, out, "no sessions")
}

func TestCreateAndList(t *testing.T) {
	env := newTestEnv(t)
	id := env.newSession()

	out := env.ndsOK("list")
	assert.Contains(t, out, id)
}

// TestCreateAndDetach covers the end-to-end scenario of setting a variable,
// detaching (here: a detach frame, then closing the connection),
// reattaching, and observing it.
func TestCreateAndDetach(t *testing.T) {
	env := newTestEnv(t)
	id := env.newSession()
	sock := env.socketPath(id)

	c1 := dial(t, sock)
	c1.writeLine("export X=hello")
	c1.send(proto.CmdDetach)
	c1.close()

	time.Sleep(100 * time.Millisecond)

	c2 := dial(t, sock)
	defer c2.close()
	c2.writeLine("echo $X")
	assert.True(t, c2.waitForText("hello", 3*time.Second))
}

// TestMultiClientFanOut covers scenario 2: two clients attached to the same
// session both see output produced from either one.
func TestMultiClientFanOut(t *testing.T) {
	env := newTestEnv(t)
	id := env.newSession()
	sock := env.socketPath(id)

	a := dial(t, sock)
	defer a.close()
	b := dial(t, sock)
	defer b.close()

	a.writeLine("echo MARKERAB")

	assert.True(t, a.waitForText("MARKERAB", 3*time.Second))
	assert.True(t, b.waitForText("MARKERAB", 3*time.Second))
}

// TestResizeAppliesMinimumAcrossClients covers scenario 3: the pty's window
// size tracks the minimum, per axis, across every attached client, not
// whichever client resized most recently.
func TestResizeAppliesMinimumAcrossClients(t *testing.T) {
	env := newTestEnv(t)
	id := env.newSession()
	sock := env.socketPath(id)

	a := dial(t, sock)
	defer a.close()
	b := dial(t, sock)
	defer b.close()

	a.send(proto.CmdResize, "100", "50")
	b.send(proto.CmdResize, "40", "10")
	time.Sleep(150 * time.Millisecond)

	a.writeLine("stty size")
	assert.True(t, a.waitForText("10 40", 3*time.Second))
}

// TestBackpressureEvictsSlowClient covers scenario 4: a client that never
// drains its output queue past the 4 MiB cap is evicted outright rather than
// letting it stall delivery to every other attached client.
func TestBackpressureEvictsSlowClient(t *testing.T) {
	env := newTestEnv(t)
	id := env.newSession()
	sock := env.socketPath(id)

	c := dial(t, sock)
	defer c.close()

	c.writeLine("yes aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	// Read nothing for a while so the queue passes the cap, then drain what
	// the kernel already buffered: the connection must end in EOF, not in a
	// read timeout.
	time.Sleep(2 * time.Second)
	c.conn.SetReadDeadline(time.Now().Add(8 * time.Second))
	buf := make([]byte, 64*1024)
	var err error
	for err == nil {
		_, err = c.conn.Read(buf)
	}
	assert.ErrorIs(t, err, io.EOF, "expected the supervisor to close the connection once the client's queue exceeded the backpressure cap")
}

func TestKillRemovesSession(t *testing.T) {
	env := newTestEnv(t)
	id := env.newSession()

	env.ndsOK("kill", id)
	time.Sleep(200 * time.Millisecond)

	out := env.ndsOK("list")
	assert.NotContains(t, out, id)
}

func TestRenameRejectsDuplicate(t *testing.T) {
	env := newTestEnv(t)
	env.newSession("--name", "alpha")
	id2 := env.newSession("--name", "beta")

	_, err := env.nds("rename", id2, "alpha")
	assert.Error(t, err)
}

// TestCleanPrunesDeadSession covers scenario 5: killing the supervisor
// itself (rather than asking it to shut down) leaves stale metadata and a
// socket behind, which `clean` must prune without ever dialing the socket.
func TestCleanPrunesDeadSession(t *testing.T) {
	env := newTestEnv(t)
	id := env.newSession()

	pid := env.sessionPID(id)
	proc, err := os.FindProcess(pid)
	require.NoError(t, err)
	require.NoError(t, proc.Signal(syscall.SIGKILL))
	time.Sleep(200 * time.Millisecond)

	out := env.ndsOK("clean")
	assert.Contains(t, out, id[:8])

	out = env.ndsOK("list")
	assert.NotContains(t, out, id)
}

func (e *testEnv) sessionPID(id string) int {
	e.t.Helper()
	matches, err := filepath.Glob(filepath.Join(e.root, "sessions", id+"*.json"))
	require.NoError(e.t, err)
	require.Len(e.t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(e.t, err)

	var meta struct {
		PID int `json:"pid"`
	}
	require.NoError(e.t, json.Unmarshal(data, &meta))
	return meta.PID
}
