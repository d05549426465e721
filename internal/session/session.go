// Package session implements the on-disk session directory: the metadata,
// socket, and status files that let external tools discover and report on
// live nds sessions without ever opening the attach socket themselves.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Liveness states. Attached(n) is represented as Summary.State == Attached
// with Summary.Attached == n.
const (
	Starting = "starting"
	Detached = "detached"
	Attached = "attached"
	Dead     = "dead"
)

// idDisplayPrefix is how many hex characters of Meta.ID are shown to users
// for partial matching ("attach <prefix>").
const idDisplayPrefix = 8

// Meta is the metadata record written to sessions/<id>.json.
type Meta struct {
	ID        string   `json:"id"`
	Name      string   `json:"name,omitempty"`
	PID       int      `json:"pid"`
	Socket    string   `json:"socket"`
	CreatedAt int64    `json:"created_at"`
	User      string   `json:"user"`
	Shell     string   `json:"shell"`
	Argv      []string `json:"argv"`
}

// DisplayID returns the short, user-facing prefix of the identifier.
func (m Meta) DisplayID() string {
	if len(m.ID) <= idDisplayPrefix {
		return m.ID
	}
	return m.ID[:idDisplayPrefix]
}

// Paths collects the absolute paths owned by one session. Only the
// supervisor writes to these; external tools only read sessions/*.json and
// status/*.
type Paths struct {
	Root    string
	Meta    string
	Socket  string
	Status  string
	Active  string // history/active/<id>.log, appended to while the session lives
	Archive string // history/archived/<id>.log, written on shutdown
}

// NewID allocates a fresh, globally-unique-enough session identifier: 16
// hex characters (8 bytes) of crypto/rand. Collisions are vanishingly
// unlikely, but Reserve still guards against one.
func NewID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// PathsFor computes the standard set of per-session paths under root.
func PathsFor(root, id string) Paths {
	return Paths{
		Root:    root,
		Meta:    filepath.Join(root, "sessions", id+".json"),
		Socket:  filepath.Join(root, "sockets", id+".sock"),
		Status:  filepath.Join(root, "status", id),
		Active:  filepath.Join(root, "history", "active", id+".log"),
		Archive: filepath.Join(root, "history", "archived", id+".log"),
	}
}

// EnsureDirs creates the standard subdirectory layout under root, each
// restricted to the owning user (0700), per §4.1 step 1.
func EnsureDirs(root string) error {
	for _, sub := range []string{"sessions", "sockets", "status", "history/active", "history/archived"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o700); err != nil {
			return fmt.Errorf("create %s: %w", sub, err)
		}
	}
	return nil
}

// Reserve allocates a fresh identifier, takes an advisory lock on the
// session directory so concurrent `nds new` invocations never race on the
// same id, and writes the initial metadata record. It returns the chosen
// id and its Paths. `nds new` calls this before it starts the supervisor,
// which then reads the reserved record back.
func Reserve(root string, name string, argv []string, shell string) (string, Paths, error) {
	if err := EnsureDirs(root); err != nil {
		return "", Paths{}, err
	}

	lockPath := filepath.Join(root, ".lock")
	fl := flock.New(lockPath)
	if err := fl.Lock(); err != nil {
		return "", Paths{}, fmt.Errorf("lock session directory: %w", err)
	}
	defer fl.Unlock()

	if name != "" {
		if taken, err := nameTaken(root, name); err != nil {
			return "", Paths{}, err
		} else if taken {
			return "", Paths{}, fmt.Errorf("session name %q already in use", name)
		}
	}

	var id string
	var paths Paths
	for attempt := 0; attempt < 8; attempt++ {
		candidate, err := NewID()
		if err != nil {
			return "", Paths{}, err
		}
		p := PathsFor(root, candidate)
		if _, err := os.Stat(p.Meta); os.IsNotExist(err) {
			id, paths = candidate, p
			break
		}
	}
	if id == "" {
		return "", Paths{}, fmt.Errorf("could not allocate a unique session id")
	}

	uid := currentUsername()
	meta := Meta{
		ID:        id,
		Name:      name,
		Socket:    paths.Socket,
		CreatedAt: time.Now().Unix(),
		User:      uid,
		Shell:     shell,
		Argv:      argv,
	}
	if err := writeMetaFile(paths.Meta, meta); err != nil {
		return "", Paths{}, err
	}
	return id, paths, nil
}

// SetPID rewrites the metadata record with the supervisor's PID, once it is
// known (after fork, before the socket is bound).
func SetPID(paths Paths, pid int) error {
	meta, err := ReadMeta(paths.Meta)
	if err != nil {
		return err
	}
	meta.PID = pid
	return writeMetaFile(paths.Meta, meta)
}

// Rename changes a session's human-chosen name, enforcing the uniqueness
// invariant at rename time the same way Reserve enforces it at create time.
func Rename(root, id, newName string) error {
	lockPath := filepath.Join(root, ".lock")
	fl := flock.New(lockPath)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("lock session directory: %w", err)
	}
	defer fl.Unlock()

	if newName != "" {
		taken, err := nameTaken(root, newName)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("session name %q already in use", newName)
		}
	}

	paths := PathsFor(root, id)
	meta, err := ReadMeta(paths.Meta)
	if err != nil {
		return err
	}
	meta.Name = newName
	return writeMetaFile(paths.Meta, meta)
}

// nameTaken reports whether any session recorded under root already uses
// name, whether or not its supervisor is still running (a record stays until
// it is removed or pruned by Clean). Must be called with the directory lock
// held.
func nameTaken(root, name string) (bool, error) {
	metas, err := ListMeta(root)
	if err != nil {
		return false, err
	}
	for _, m := range metas {
		if m.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// ReadMeta reads and parses a single metadata file.
func ReadMeta(path string) (Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, err
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

// ListMeta reads every sessions/*.json file under root.
func ListMeta(root string) ([]Meta, error) {
	dir := filepath.Join(root, "sessions")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Meta
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		m, err := ReadMeta(filepath.Join(dir, e.Name()))
		if err != nil {
			continue // skip unreadable/corrupt entries; `clean` will prune them
		}
		out = append(out, m)
	}
	return out, nil
}

// Remove deletes the metadata, socket, and status files for a session. It
// is best-effort: missing files are not an error.
func Remove(paths Paths) {
	os.Remove(paths.Meta)
	os.Remove(paths.Socket)
	os.Remove(paths.Status)
}

// writeMetaFile writes meta atomically: write-temp-then-rename, so readers
// never observe a half-written record.
func writeMetaFile(path string, meta Meta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(path, data, 0o600)
}

// atomicWrite writes data to a temp file in the same directory as path,
// then renames it into place. Rename is atomic on POSIX filesystems, so
// concurrent readers see either the old or the new content, never a
// partial write.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// currentUsername resolves the invoking user's identifier. Falls back to
// the USER environment variable, then "unknown", if the os/user lookup
// fails (e.g. in a minimal container without an nsswitch entry).
func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}
