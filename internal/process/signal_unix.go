//go:build !windows

package process

import (
	"errors"
	"syscall"
)

// signalProcess sends a signal to a single Unix process.
func signalProcess(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}

// isGone reports the error of signalling a process that no longer exists.
func isGone(err error) bool { return errors.Is(err, syscall.ESRCH) }
