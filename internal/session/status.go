package session

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// WriteStatus atomically rewrites the status file for a session with the
// current attached-client count. Rewriting with the same count is
// idempotent: the file's bytes change only in the timestamp.
func WriteStatus(paths Paths, attached int) error {
	line := fmt.Sprintf("%d %d\n", attached, time.Now().Unix())
	return atomicWrite(paths.Status, []byte(line), 0o600)
}

// ReadStatus parses a status file's two whitespace-separated tokens:
// attached-count and last-update-unix-seconds.
func ReadStatus(path string) (attached int, lastUpdate int64, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("malformed status file %s", path)
	}
	attached, err = strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed status file %s: %w", path, err)
	}
	lastUpdate, err = strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed status file %s: %w", path, err)
	}
	return attached, lastUpdate, nil
}
