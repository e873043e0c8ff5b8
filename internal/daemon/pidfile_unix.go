//go:build unix

package daemon

import "golang.org/x/sys/unix"

// processExists sends signal 0, which only checks that pid exists.
func processExists(pid int) bool {
	return unix.Kill(pid, 0) == nil
}
