package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cradlevm/cradle/types"
)

// Well-known file names inside a VM directory.
const (
	ConfigFileName   = "config.json"
	DiskFileName     = "disk.img"
	NVRAMFileName    = "nvram.bin"
	SessionsFileName = "sessions.json"
)

// VMDirectory is the filesystem handle for one VM: its config, disk image,
// firmware variable store, and optional last-session record.
type VMDirectory struct {
	Name string
	Path string
}

func (d VMDirectory) ConfigPath() string   { return filepath.Join(d.Path, ConfigFileName) }
func (d VMDirectory) DiskPath() string     { return filepath.Join(d.Path, DiskFileName) }
func (d VMDirectory) NVRAMPath() string    { return filepath.Join(d.Path, NVRAMFileName) }
func (d VMDirectory) SessionsPath() string { return filepath.Join(d.Path, SessionsFileName) }

// Exists reports whether the VM directory is present on disk.
func (d VMDirectory) Exists() bool {
	info, err := os.Stat(d.Path)
	return err == nil && info.IsDir()
}

// Initialized reports whether the directory holds a loadable config.json.
// Existing-but-not-initialized is distinct from not-found: callers treat a
// corrupt or partial directory differently from an absent one.
func (d VMDirectory) Initialized() bool {
	if !d.Exists() {
		return false
	}
	_, err := d.LoadConfig()
	return err == nil
}

// LoadConfig reads and parses config.json.
func (d VMDirectory) LoadConfig() (*types.VMConfig, error) {
	data, err := os.ReadFile(d.ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", d.Name, types.ErrNotInitialized)
		}
		return nil, fmt.Errorf("read config for %s: %w", d.Name, err)
	}
	cfg := &types.VMConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: parse config: %w", d.Name, types.ErrNotInitialized)
	}
	return cfg, nil
}

// SaveConfig writes config.json in place. The config file doubles as the
// VM's advisory lock target, so it is written directly rather than via
// rename, since replacing the inode would silently drop a held lock.
func (d VMDirectory) SaveConfig(cfg *types.VMConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config for %s: %w", d.Name, err)
	}
	f, err := os.OpenFile(d.ConfigPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec
	if err != nil {
		return fmt.Errorf("write config for %s: %w", d.Name, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write config for %s: %w", d.Name, err)
	}
	return f.Close()
}

// LoadSession reads sessions.json. Returns (nil, nil) when absent.
func (d VMDirectory) LoadSession() (*types.VMSession, error) {
	data, err := os.ReadFile(d.SessionsPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session for %s: %w", d.Name, err)
	}
	s := &types.VMSession{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse session for %s: %w", d.Name, err)
	}
	return s, nil
}

// SaveSession persists sessions.json.
func (d VMDirectory) SaveSession(s *types.VMSession) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session for %s: %w", d.Name, err)
	}
	if err := os.WriteFile(d.SessionsPath(), data, 0o600); err != nil {
		return fmt.Errorf("write session for %s: %w", d.Name, err)
	}
	return nil
}

// ClearSession removes sessions.json. Missing file is not an error.
func (d VMDirectory) ClearSession() error {
	err := os.Remove(d.SessionsPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear session for %s: %w", d.Name, err)
	}
	return nil
}

// DiskInfo reports allocated vs declared disk size.
func (d VMDirectory) DiskInfo(declared int64) types.DiskInfo {
	info := types.DiskInfo{Total: declared}
	if fi, err := os.Stat(d.DiskPath()); err == nil {
		info.Allocated = fi.Size()
	}
	return info
}

// Delete removes the VM directory and everything in it.
func (d VMDirectory) Delete() error {
	if err := os.RemoveAll(d.Path); err != nil {
		return fmt.Errorf("delete %s: %w", d.Name, err)
	}
	return nil
}
