package proto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScannerPassesThroughPlainData(t *testing.T) {
	var s Scanner
	data, frames := s.Feed([]byte("hello world"))
	assert.Equal(t, "hello world", string(data))
	assert.Empty(t, frames)
}

func TestScannerParsesSingleFrame(t *testing.T) {
	var s Scanner
	wire := Encode(CmdResize, "24", "80")
	data, frames := s.Feed(wire)
	assert.Empty(t, data)
	require.Len(t, frames, 1)
	assert.Equal(t, CmdResize, frames[0].Cmd)
	assert.Equal(t, []string{"24", "80"}, frames[0].Args)
}

func TestScannerInterleavesDataAndFrames(t *testing.T) {
	var s Scanner
	wire := append([]byte("before"), Encode(CmdDetach)...)
	wire = append(wire, []byte("after")...)

	data, frames := s.Feed(wire)
	assert.Equal(t, "beforeafter", string(data))
	require.Len(t, frames, 1)
	assert.Equal(t, CmdDetach, frames[0].Cmd)
}

func TestScannerHandlesSplitFrame(t *testing.T) {
	var s Scanner
	wire := Encode(CmdScrollback, "4096")

	data1, frames1 := s.Feed(wire[:3])
	assert.Empty(t, data1)
	assert.Empty(t, frames1)

	data2, frames2 := s.Feed(wire[3:])
	assert.Empty(t, data2)
	require.Len(t, frames2, 1)
	assert.Equal(t, CmdScrollback, frames2[0].Cmd)
	assert.Equal(t, []string{"4096"}, frames2[0].Args)
}

func TestScannerDiscardsUnknownCommandSilently(t *testing.T) {
	var s Scanner
	wire := Encode("bogus", "1")
	data, frames := s.Feed(wire)
	assert.Empty(t, data)
	assert.Empty(t, frames, "unknown command must be dropped, not surfaced as data or frame")
}

func TestScannerRejectsOversizedLength(t *testing.T) {
	var s Scanner
	// Hand-build a frame whose length field exceeds MaxFramePayload.
	hdr := append([]byte{}, magic[:]...)
	hdr = append(hdr, 0xFF, 0xFF) // 65535 > MaxFramePayload
	data, frames := s.Feed(append(hdr, []byte("trailing")...))
	assert.Empty(t, frames)
	// The invalid header is dropped; trailing data continues to scan as data.
	assert.Equal(t, "trailing", string(data))
}

func TestSanitizeArgClampsNumericRange(t *testing.T) {
	assert.Equal(t, "1", sanitizeArg("0"))
	assert.Equal(t, "9999", sanitizeArg("10000"))
	assert.Equal(t, "42", sanitizeArg("42"))
}

func TestSanitizeArgStripsControlCharacters(t *testing.T) {
	dirty := "abc\x07def\x1bghi"
	clean := sanitizeArg(dirty)
	assert.Equal(t, "abcdefghi", clean)
}

func TestEncodeRoundTripsAllCommands(t *testing.T) {
	cmds := []string{CmdResize, CmdDetach, CmdAttach, CmdList, CmdKill, CmdSwitch, CmdScrollback, CmdClear, CmdRefresh}
	for _, c := range cmds {
		var s Scanner
		_, frames := s.Feed(Encode(c))
		require.Len(t, frames, 1, "command %q should round-trip", c)
		assert.Equal(t, c, frames[0].Cmd)
	}
}

func TestEncodeAtMaxPayloadIsAccepted(t *testing.T) {
	// Build an argument that pushes the payload to exactly MaxFramePayload.
	cmd := CmdRefresh
	pad := strings.Repeat("x", MaxFramePayload-len(cmd)-1)
	wire := Encode(cmd, pad)

	var s Scanner
	_, frames := s.Feed(wire)
	require.Len(t, frames, 1)
	assert.Equal(t, cmd, frames[0].Cmd)
}
