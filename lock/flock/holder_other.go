//go:build !linux

package flock

import (
	"os/exec"
	"strconv"
	"strings"
)

// HolderPID finds the PID holding a flock on path via lsof.
// Returns 0 when no holder is found.
func HolderPID(path string) (int, error) {
	out, err := exec.Command("lsof", "-t", "--", path).Output()
	if err != nil {
		// lsof exits non-zero when no process has the file open.
		return 0, nil
	}
	for line := range strings.Lines(string(out)) {
		pid, err := strconv.Atoi(strings.TrimSpace(line))
		if err == nil && pid > 0 {
			return pid, nil
		}
	}
	return 0, nil
}
