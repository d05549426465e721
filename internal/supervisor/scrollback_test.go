package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingSnapshotBeforeWrap(t *testing.T) {
	r := NewRing(16)
	r.Write([]byte("hello"))
	assert.Equal(t, "hello", string(r.Snapshot()))
	assert.Equal(t, 5, r.Len())
}

func TestRingDiscardsOldestOnOverflow(t *testing.T) {
	r := NewRing(8)
	r.Write([]byte("abcdefgh")) // exactly fills
	r.Write([]byte("XY"))       // overwrites the oldest 2 bytes
	assert.Equal(t, "cdefghXY", string(r.Snapshot()))
	assert.Equal(t, 8, r.Len())
}

func TestRingWriteLargerThanCapacityKeepsTail(t *testing.T) {
	r := NewRing(4)
	r.Write([]byte("abcdefgh"))
	assert.Equal(t, "efgh", string(r.Snapshot()))
}

func TestRingLastReturnsSuffix(t *testing.T) {
	r := NewRing(16)
	r.Write([]byte("0123456789"))
	assert.Equal(t, "789", string(r.Last(3)))
	assert.Equal(t, "0123456789", string(r.Last(100)))
}

func TestNewRingClampsToDefaultAndCeiling(t *testing.T) {
	assert.Len(t, NewRing(0).buf, DefaultScrollbackBytes)
	assert.Len(t, NewRing(-5).buf, DefaultScrollbackBytes)
	assert.Len(t, NewRing(100<<20).buf, MaxScrollbackBytes)
}
