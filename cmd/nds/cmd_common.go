package main

import (
	"fmt"
	"os"
	"time"

	"github.com/ianremillard/nds/internal/session"
)

// waitForSocket polls for the supervisor's socket to appear, since `nds new`
// forks ndsd and returns before the child has necessarily finished its
// startup contract (§4.1).
func waitForSocket(path string) error {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		time.Sleep(25 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for session socket %s", path)
}

// resolveSession looks up a session by id, name, or display-id prefix,
// returning a user-facing error if nothing matches.
func resolveSession(root, idOrName string) (session.Meta, error) {
	meta, ok, err := session.Find(root, idOrName)
	if err != nil {
		return session.Meta{}, err
	}
	if !ok {
		return session.Meta{}, fmt.Errorf("session not found: %s", idOrName)
	}
	return meta, nil
}
