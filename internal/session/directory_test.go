package session

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusRoundTrip(t *testing.T) {
	paths := PathsFor(t.TempDir(), "s1")
	require.NoError(t, EnsureDirs(paths.Root))

	require.NoError(t, WriteStatus(paths, 3))
	attached, lastUpdate, err := ReadStatus(paths.Status)
	require.NoError(t, err)
	assert.Equal(t, 3, attached)
	assert.Greater(t, lastUpdate, int64(0))
}

func TestWriteStatusIsIdempotentOnRepeatedCount(t *testing.T) {
	paths := PathsFor(t.TempDir(), "s1")
	require.NoError(t, EnsureDirs(paths.Root))

	require.NoError(t, WriteStatus(paths, 2))
	attached1, _, err := ReadStatus(paths.Status)
	require.NoError(t, err)

	require.NoError(t, WriteStatus(paths, 2))
	attached2, _, err := ReadStatus(paths.Status)
	require.NoError(t, err)

	assert.Equal(t, attached1, attached2)
}

func TestCleanRemovesSessionWithDeadPID(t *testing.T) {
	root := t.TempDir()
	id, paths, err := Reserve(root, "", nil, "/bin/sh")
	require.NoError(t, err)
	// PID 0 is never a live user process; isAlive(0) is false by construction.
	require.NoError(t, SetPID(paths, 0))

	removed, err := Clean(root)
	require.NoError(t, err)
	assert.Contains(t, removed, id)
	assert.NoFileExists(t, paths.Meta)
}

func TestCleanKeepsSessionWithLivePID(t *testing.T) {
	root := t.TempDir()
	id, paths, err := Reserve(root, "", nil, "/bin/sh")
	require.NoError(t, err)
	require.NoError(t, SetPID(paths, os.Getpid()))

	// ownsSocket matches by walking this process's /proc/<pid>/fd entries
	// for one whose target ends in the socket's basename, so give it a
	// real open file at that path to find.
	f, err := os.Create(paths.Socket)
	require.NoError(t, err)
	defer f.Close()

	removed, err := Clean(root)
	require.NoError(t, err)
	assert.NotContains(t, removed, id)
	assert.FileExists(t, paths.Meta)
}

func TestFindMatchesByDisplayPrefixAndName(t *testing.T) {
	root := t.TempDir()
	id, _, err := Reserve(root, "myproj", nil, "/bin/sh")
	require.NoError(t, err)

	byPrefix, ok, err := Find(root, id[:8])
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, byPrefix.ID)

	byName, ok, err := Find(root, "myproj")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, byName.ID)

	_, ok, err = Find(root, "nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRootPrefersEnvVar(t *testing.T) {
	t.Setenv("NDS_ROOT", "/tmp/custom-nds-root")
	assert.Equal(t, "/tmp/custom-nds-root", Root())
}
