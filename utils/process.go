package utils

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"
)

const killWaitTimeout = 15 * time.Second

// IsProcessAlive returns true if a process with the given PID currently exists.
// Uses kill(pid, 0): no signal is sent, only existence is checked.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// InterruptProcess sends SIGINT, asking the process to shut its guest down
// cleanly, then waits up to gracePeriod for it to exit.
// Returns nil once the process is gone.
func InterruptProcess(ctx context.Context, pid int, gracePeriod time.Duration) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGINT); err != nil {
		if !IsProcessAlive(pid) {
			return nil
		}
		return fmt.Errorf("interrupt process %d: %w", pid, err)
	}
	return WaitFor(ctx, gracePeriod, 500*time.Millisecond, func() (bool, error) {
		return !IsProcessAlive(pid), nil
	})
}

// KillProcess sends SIGKILL and waits for the process to disappear.
func KillProcess(ctx context.Context, pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	_ = proc.Kill()
	return WaitFor(ctx, killWaitTimeout, 200*time.Millisecond, func() (bool, error) {
		return !IsProcessAlive(pid), nil
	})
}
