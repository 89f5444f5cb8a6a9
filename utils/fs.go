package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CopyChunkSize is the buffer size for streaming file copies. Large disk
// images are moved through this window so they are never fully in memory.
const CopyChunkSize = 10 * 1024 * 1024

// CopyFile streams src into dst using a fixed-size buffer, creating dst with
// the given mode. The copy goes to dst+".tmp" first and is renamed into
// place, so a crash never leaves a half-written file under the final name.
func CopyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src) //nolint:gosec // caller-controlled path
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close() //nolint:errcheck

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode) //nolint:gosec
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	buf := make([]byte, CopyChunkSize)
	if _, err := io.CopyBuffer(out, in, buf); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("move %s into place: %w", dst, err)
	}
	return nil
}

// CopyDir recursively copies the regular files and subdirectories of src
// into dst. dst must not already exist.
func CopyDir(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if err := os.Mkdir(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	for _, e := range entries {
		s := filepath.Join(src, e.Name())
		d := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := CopyDir(s, d); err != nil {
				return err
			}
			continue
		}
		if !e.Type().IsRegular() {
			continue
		}
		ei, err := e.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", s, err)
		}
		if err := CopyFile(s, d, ei.Mode().Perm()); err != nil {
			return err
		}
	}
	return nil
}
