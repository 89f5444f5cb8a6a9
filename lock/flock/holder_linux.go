//go:build linux

package flock

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// HolderPID finds the PID holding a flock on path by matching the file's
// inode against /proc/locks. Returns 0 when no holder is found.
func HolderPID(path string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("no inode information for %s", path)
	}

	f, err := os.Open("/proc/locks")
	if err != nil {
		return 0, fmt.Errorf("open /proc/locks: %w", err)
	}
	defer f.Close() //nolint:errcheck

	// Lines look like:
	//   1: FLOCK  ADVISORY  WRITE 12345 fd:01:9318154 0 EOF
	// Field 5 is the PID, field 6 is MAJOR:MINOR:INODE.
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 || fields[1] != "FLOCK" {
			continue
		}
		dev := strings.Split(fields[5], ":")
		if len(dev) != 3 {
			continue
		}
		ino, err := strconv.ParseUint(dev[2], 10, 64)
		if err != nil || ino != st.Ino {
			continue
		}
		pid, err := strconv.Atoi(fields[4])
		if err != nil || pid <= 0 {
			continue
		}
		return pid, nil
	}
	return 0, scanner.Err()
}
