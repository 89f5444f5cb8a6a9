package config

import (
	"os"
	"path/filepath"

	coretypes "github.com/projecteru2/core/types"
)

// Config holds global Cradle configuration.
type Config struct {
	// RootDir is the base directory for persistent data (VM locations table,
	// image cache, temp build dirs).
	// Env: CRADLE_ROOT_DIR. Default: ~/.cradle.
	RootDir string `json:"root_dir" mapstructure:"root_dir"`
	// CacheDir is the image layer cache directory. Empty means RootDir/cache.
	// Env: CRADLE_CACHE_DIR.
	CacheDir string `json:"cache_dir" mapstructure:"cache_dir"`
	// CacheEnabled toggles the local image cache. Default: true.
	CacheEnabled bool `json:"cache_enabled" mapstructure:"cache_enabled"`
	// Registry is the default OCI registry host.
	// Env: CRADLE_REGISTRY. Default: ghcr.io.
	Registry string `json:"registry" mapstructure:"registry"`
	// Organization is the default registry organization for image references.
	// Env: CRADLE_ORGANIZATION.
	Organization string `json:"organization" mapstructure:"organization"`
	// VMBinary is the path or name of the virtualization helper executable
	// that hosts the actual guest. Default: "cradle-vmhost".
	VMBinary string `json:"vm_binary" mapstructure:"vm_binary"`
	// StopTimeoutSeconds is how long to wait after an interrupt signal before
	// escalating to SIGKILL. Default: 10.
	StopTimeoutSeconds int `json:"stop_timeout_seconds" mapstructure:"stop_timeout_seconds"`
	// PullConcurrency is the maximum number of layers downloaded in parallel.
	// Default: 5.
	PullConcurrency int `json:"pull_concurrency" mapstructure:"pull_concurrency"`
	// ChunkSizeMB is the split size for large disk layers on push. Default: 500.
	ChunkSizeMB int `json:"chunk_size_mb" mapstructure:"chunk_size_mb"`
	// Log configuration, uses eru core's ServerLogConfig.
	Log coretypes.ServerLogConfig `json:"log" mapstructure:"log"`
}

// DefaultConfig returns a Config with defaults filled in.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		RootDir:            filepath.Join(home, ".cradle"),
		CacheEnabled:       true,
		Registry:           "ghcr.io",
		StopTimeoutSeconds: 10,
		PullConcurrency:    5,
		ChunkSizeMB:        500,
	}
}

// Derived path helpers.

func (c *Config) SettingsFile() string {
	return filepath.Join(c.RootDir, "settings.json")
}

func (c *Config) SettingsLock() string {
	return filepath.Join(c.RootDir, "settings.lock")
}

func (c *Config) TempDir() string {
	return filepath.Join(c.RootDir, "temp")
}

func (c *Config) CacheRoot() string {
	if c.CacheDir != "" {
		return c.CacheDir
	}
	return filepath.Join(c.RootDir, "cache")
}

// DefaultVMDir is the path backing the built-in "default" storage location.
func (c *Config) DefaultVMDir() string {
	return filepath.Join(c.RootDir, "vms")
}

// EnsureDirs creates all required base directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.RootDir, c.TempDir(), c.CacheRoot(), c.DefaultVMDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	return nil
}
