// Package daemon implements the start/stop lifecycle pieces around a
// PID file: writing one on start and reading it back to signal a
// running instance on stop. Restart is the caller running the two in
// sequence.
package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// PIDFile wraps the lock-file-backed PID record an instance writes on
// start and the next invocation reads on stop/restart.
type PIDFile struct {
	path string
	file *os.File
}

// Acquire creates path if absent, locks it exclusively, and writes the
// current process's PID. It fails if another live instance already
// holds the lock, which is the only way a second `start` can tell it
// is not alone.
func Acquire(path string) (*PIDFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("daemon: open pidfile %s: %w", path, err)
	}
	if err := lockExclusive(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("daemon: %s is locked by another instance: %w", path, err)
	}
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("daemon: write pidfile %s: %w", path, err)
	}
	return &PIDFile{path: path, file: f}, nil
}

// Release unlocks and removes the PID file. Call it once, from the
// same instance that Acquired it, during shutdown.
func (p *PIDFile) Release() error {
	unlock(p.file)
	if err := p.file.Close(); err != nil {
		return err
	}
	return os.Remove(p.path)
}

// ReadPID reads the PID recorded at path, without locking it, so a
// stop/restart invocation can signal the instance that owns it.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("daemon: read pidfile %s: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("daemon: pidfile %s does not contain a PID: %w", path, err)
	}
	return pid, nil
}
