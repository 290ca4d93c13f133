//go:build windows

package daemon

import "os"

// Windows has no POSIX advisory locking, so a second Acquire against a
// live instance is not rejected here the way flock rejects it on
// POSIX; lock/unlock are no-ops.
func lockExclusive(f *os.File) error { return nil }

func unlock(f *os.File) {}
