// Package storage maps VM names to directories on disk across a flat
// namespace of registered storage locations.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/projecteru2/core/log"

	"github.com/cradlevm/cradle/config"
	"github.com/cradlevm/cradle/types"
	"github.com/cradlevm/cradle/utils"
)

// Layout resolves VM names (plus optional named or literal storage
// locations) to concrete VMDirectory handles.
type Layout struct {
	conf *config.Config
}

// NewLayout creates a Layout over the given configuration.
func NewLayout(conf *config.Config) *Layout {
	return &Layout{conf: conf}
}

// NormalizeName converts an image:tag reference into a directory-safe VM
// name. Idempotent: names without a colon pass through unchanged.
func NormalizeName(name string) string {
	return strings.ReplaceAll(name, ":", "_")
}

// DirEntry pairs a VM directory with the registered location it lives in.
type DirEntry struct {
	Dir      VMDirectory
	Location string
}

// GetDirectory resolves a concrete path for the VM name. If storage contains
// a path separator it is treated as a literal filesystem root (created if
// absent); otherwise it names a registered location, with empty meaning the
// default location. Does not require the VM to exist.
func (l *Layout) GetDirectory(ctx context.Context, name, storage string) (VMDirectory, error) {
	name = NormalizeName(name)
	if strings.ContainsRune(storage, os.PathSeparator) {
		if err := os.MkdirAll(storage, 0o750); err != nil {
			return VMDirectory{}, fmt.Errorf("create storage root %s: %w", storage, err)
		}
		return VMDirectory{Name: name, Path: filepath.Join(storage, name)}, nil
	}

	settings, err := l.conf.LoadSettings(ctx)
	if err != nil {
		return VMDirectory{}, err
	}
	locName := storage
	if locName == "" {
		locName = settings.Default
	}
	path, ok := settings.Locations[locName]
	if !ok {
		return VMDirectory{}, fmt.Errorf("%q: %w", locName, types.ErrLocationNotFound)
	}
	return VMDirectory{Name: name, Path: filepath.Join(path, name)}, nil
}

// ResolveDirectory finds an existing VM. When storage is empty all
// registered locations are searched and exactly one initialized match must
// exist; more or fewer is ErrNotFound. With storage set, resolution follows
// GetDirectory and the VM must exist there.
func (l *Layout) ResolveDirectory(ctx context.Context, name, storage string) (VMDirectory, string, error) {
	name = NormalizeName(name)
	if storage != "" {
		dir, err := l.GetDirectory(ctx, name, storage)
		if err != nil {
			return VMDirectory{}, "", err
		}
		if !dir.Exists() {
			return VMDirectory{}, "", fmt.Errorf("%s: %w", name, types.ErrNotFound)
		}
		return dir, storage, nil
	}

	settings, err := l.conf.LoadSettings(ctx)
	if err != nil {
		return VMDirectory{}, "", err
	}
	var (
		found    VMDirectory
		location string
		matches  int
	)
	for locName, path := range settings.Locations {
		dir := VMDirectory{Name: name, Path: filepath.Join(path, name)}
		if dir.Exists() {
			matches++
			found, location = dir, locName
		}
	}
	switch matches {
	case 1:
		return found, location, nil
	case 0:
		return VMDirectory{}, "", fmt.Errorf("%s: %w", name, types.ErrNotFound)
	default:
		return VMDirectory{}, "", fmt.Errorf("%s: found in %d locations, specify one: %w", name, matches, types.ErrNotFound)
	}
}

// GetAllDirectories enumerates every registered location and lists its
// initialized VM subdirectories. Corrupt entries are skipped, not fatal.
func (l *Layout) GetAllDirectories(ctx context.Context) ([]DirEntry, error) {
	logger := log.WithFunc("storage.GetAllDirectories")

	settings, err := l.conf.LoadSettings(ctx)
	if err != nil {
		return nil, err
	}
	locNames := make([]string, 0, len(settings.Locations))
	for n := range settings.Locations {
		locNames = append(locNames, n)
	}
	sort.Strings(locNames)

	var result []DirEntry
	for _, locName := range locNames {
		entries, err := os.ReadDir(settings.Locations[locName])
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Warnf(ctx, "list location %s: %v", locName, err)
			}
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			dir := VMDirectory{Name: e.Name(), Path: filepath.Join(settings.Locations[locName], e.Name())}
			if !dir.Initialized() {
				continue
			}
			result = append(result, DirEntry{Dir: dir, Location: locName})
		}
	}
	return result, nil
}

// AddLocation registers a named storage root.
func (l *Layout) AddLocation(ctx context.Context, name, path string) error {
	if name == "" || strings.ContainsRune(name, os.PathSeparator) {
		return &types.ValidationError{Field: "location", Msg: fmt.Sprintf("invalid name %q", name)}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return fmt.Errorf("create location %s: %w", abs, err)
	}
	return l.conf.UpdateSettings(ctx, func(s *config.Settings) error {
		if _, ok := s.Locations[name]; ok {
			return &types.ValidationError{Field: "location", Msg: fmt.Sprintf("%q already registered", name)}
		}
		s.Locations[name] = abs
		return nil
	})
}

// RemoveLocation unregisters a named storage root. The directory itself is
// left untouched. The default location cannot be removed.
func (l *Layout) RemoveLocation(ctx context.Context, name string) error {
	return l.conf.UpdateSettings(ctx, func(s *config.Settings) error {
		if _, ok := s.Locations[name]; !ok {
			return fmt.Errorf("%q: %w", name, types.ErrLocationNotFound)
		}
		if name == s.Default {
			return &types.ValidationError{Field: "location", Msg: "cannot remove the default location"}
		}
		delete(s.Locations, name)
		return nil
	})
}

// SetDefaultLocation changes which registered location is the default.
func (l *Layout) SetDefaultLocation(ctx context.Context, name string) error {
	return l.conf.UpdateSettings(ctx, func(s *config.Settings) error {
		if _, ok := s.Locations[name]; !ok {
			return fmt.Errorf("%q: %w", name, types.ErrLocationNotFound)
		}
		s.Default = name
		return nil
	})
}

// Locations returns the registered location table and the default name.
func (l *Layout) Locations(ctx context.Context) (map[string]string, string, error) {
	settings, err := l.conf.LoadSettings(ctx)
	if err != nil {
		return nil, "", err
	}
	return settings.Locations, settings.Default, nil
}

// CopyDirectory copies an existing VM directory to a new name, for clone.
// Fails if the destination already exists. Identity fields (MAC, machine
// identifier) are left as-is; the caller regenerates them afterwards.
func (l *Layout) CopyDirectory(ctx context.Context, from, to, srcLocation, dstLocation string) error {
	src, _, err := l.ResolveDirectory(ctx, from, srcLocation)
	if err != nil {
		return err
	}
	dst, err := l.GetDirectory(ctx, to, dstLocation)
	if err != nil {
		return err
	}
	if dst.Exists() {
		return fmt.Errorf("%s: %w", dst.Name, types.ErrAlreadyExists)
	}
	return utils.CopyDir(src.Path, dst.Path)
}

// CreateTempDirectory returns a unique scratch directory for an in-progress
// create or pull, later moved into place by Finalize. No partially built VM
// is ever visible under its final name.
func (l *Layout) CreateTempDirectory() (string, error) {
	if err := os.MkdirAll(l.conf.TempDir(), 0o750); err != nil {
		return "", fmt.Errorf("create temp root: %w", err)
	}
	dir, err := os.MkdirTemp(l.conf.TempDir(), "vm-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	return dir, nil
}

// Finalize atomically moves a fully prepared temp directory into its final
// named location.
func (l *Layout) Finalize(tempPath string, dir VMDirectory) error {
	if dir.Exists() {
		return fmt.Errorf("%s: %w", dir.Name, types.ErrAlreadyExists)
	}
	if err := os.MkdirAll(filepath.Dir(dir.Path), 0o750); err != nil {
		return fmt.Errorf("create location root: %w", err)
	}
	if err := os.Rename(tempPath, dir.Path); err != nil {
		return fmt.Errorf("finalize %s: %w", dir.Name, err)
	}
	return nil
}
