package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cradlevm/cradle/lock"
	"github.com/cradlevm/cradle/lock/flock"
)

// DefaultLocationName is the built-in storage location present in fresh
// settings. It always points at Config.DefaultVMDir unless re-registered.
const DefaultLocationName = "default"

// Settings is the persisted table of registered storage locations plus the
// default-location pointer. Stored as flock-guarded JSON under the root dir
// so concurrent CLI invocations see consistent state.
type Settings struct {
	Locations map[string]string `json:"locations"` // name → path
	Default   string            `json:"default"`
}

// Init fills a freshly loaded (or empty) Settings with the built-in default.
func (s *Settings) Init(defaultPath string) {
	if s.Locations == nil {
		s.Locations = make(map[string]string)
	}
	if _, ok := s.Locations[DefaultLocationName]; !ok {
		s.Locations[DefaultLocationName] = defaultPath
	}
	if s.Default == "" {
		s.Default = DefaultLocationName
	}
}

// LoadSettings reads the settings file under the settings lock.
// A missing file yields defaults.
func (c *Config) LoadSettings(ctx context.Context) (*Settings, error) {
	s := &Settings{}
	err := lock.WithLock(ctx, flock.New(c.SettingsLock()), func() error {
		return c.readSettings(s)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// UpdateSettings loads, mutates via fn, and persists the settings atomically
// under the settings lock.
func (c *Config) UpdateSettings(ctx context.Context, fn func(*Settings) error) error {
	return lock.WithLock(ctx, flock.New(c.SettingsLock()), func() error {
		s := &Settings{}
		if err := c.readSettings(s); err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
		return c.writeSettings(s)
	})
}

func (c *Config) readSettings(s *Settings) error {
	data, err := os.ReadFile(c.SettingsFile())
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return fmt.Errorf("read settings %s: %w", c.SettingsFile(), err)
	default:
		if err := json.Unmarshal(data, s); err != nil {
			return fmt.Errorf("parse settings %s: %w", c.SettingsFile(), err)
		}
	}
	s.Init(c.DefaultVMDir())
	return nil
}

// writeSettings persists via temp-file-then-rename so a crash never leaves a
// truncated settings file.
func (c *Config) writeSettings(s *Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	tmp := c.SettingsFile() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, c.SettingsFile()); err != nil {
		return fmt.Errorf("commit settings: %w", err)
	}
	return nil
}
