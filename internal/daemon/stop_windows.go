//go:build windows

package daemon

import (
	"fmt"
	"os"
	"time"
)

// Stop terminates the instance recorded at pidFile. Windows has no
// SIGTERM-style graceful signal reachable across process boundaries
// without extra console-event plumbing, so this calls Process.Kill,
// an intentionally coarser stop than the POSIX path's.
func Stop(pidFile string, timeout time.Duration) error {
	pid, err := ReadPID(pidFile)
	if err != nil {
		return err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("daemon: find process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("daemon: kill process %d: %w", pid, err)
	}
	return nil
}
