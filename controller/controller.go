// Package controller is the single public entry point for VM lifecycle
// operations. Every operation resolves names through the storage layout,
// delegates image transfer to the registry client, and hands process-level
// start/stop to the VM runtime.
package controller

import (
	"context"
	"fmt"

	"github.com/projecteru2/core/log"

	"github.com/cradlevm/cradle/config"
	"github.com/cradlevm/cradle/images"
	"github.com/cradlevm/cradle/storage"
	"github.com/cradlevm/cradle/types"
	"github.com/cradlevm/cradle/vm"
	"github.com/cradlevm/cradle/vm/backend"
)

// Controller orchestrates the storage layout, registry client, and VM
// runtime. All dependencies are injected; no package-level state.
type Controller struct {
	conf       *config.Config
	layout     *storage.Layout
	images     *images.Manager
	running    *vm.Registry
	newBackend backend.Factory
	resolveIP  vm.IPResolver
}

// Option tweaks Controller construction.
type Option func(*Controller)

// WithBackendFactory substitutes the virtualization backend factory.
func WithBackendFactory(f backend.Factory) Option {
	return func(c *Controller) { c.newBackend = f }
}

// WithIPResolver installs a MAC→IP resolver for details reporting.
func WithIPResolver(r vm.IPResolver) Option {
	return func(c *Controller) { c.resolveIP = r }
}

// WithImageManager substitutes the image registry manager.
func WithImageManager(m *images.Manager) Option {
	return func(c *Controller) { c.images = m }
}

// New wires a Controller from configuration.
func New(conf *config.Config, running *vm.Registry, opts ...Option) (*Controller, error) {
	if err := conf.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("ensure dirs: %w", err)
	}
	c := &Controller{
		conf:       conf,
		layout:     storage.NewLayout(conf),
		images:     images.NewManager(conf, ""),
		running:    running,
		newBackend: backend.New,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Layout exposes the storage layout manager for location commands.
func (c *Controller) Layout() *storage.Layout { return c.layout }

// Get resolves a VM by name: normalize, locate (searching all locations when
// storage is empty), load config, bind a runtime handle.
func (c *Controller) Get(ctx context.Context, name, storageLoc string) (*vm.VM, error) {
	normalized := storage.NormalizeName(name)
	// The running-registry short-circuit only applies when the caller's
	// location matches: another location may hold a distinct VM of the same
	// name, and that one is not the running instance.
	if running := c.running.Get(normalized); running != nil &&
		(storageLoc == "" || storageLoc == running.Location) {
		return running, nil
	}
	dir, location, err := c.layout.ResolveDirectory(ctx, normalized, storageLoc)
	if err != nil {
		return nil, err
	}
	cfg, err := dir.LoadConfig()
	if err != nil {
		return nil, err
	}
	be, err := c.newBackend(cfg.OS, c.conf)
	if err != nil {
		return nil, err
	}
	return vm.New(dir, cfg, location, c.conf, be, c.resolveIP), nil
}

// List enumerates VMs in one or all locations. Entries that fail to load are
// skipped: one corrupt VM must not break listing of the rest.
func (c *Controller) List(ctx context.Context, storageLoc string) ([]*types.VMDetails, error) {
	logger := log.WithFunc("controller.List")

	entries, err := c.layout.GetAllDirectories(ctx)
	if err != nil {
		return nil, err
	}
	var result []*types.VMDetails
	for _, e := range entries {
		if storageLoc != "" && e.Location != storageLoc {
			continue
		}
		cfg, err := e.Dir.LoadConfig()
		if err != nil {
			logger.Warnf(ctx, "skipping %s: %v", e.Dir.Name, err)
			continue
		}
		be, err := c.newBackend(cfg.OS, c.conf)
		if err != nil {
			logger.Warnf(ctx, "skipping %s: %v", e.Dir.Name, err)
			continue
		}
		result = append(result, vm.New(e.Dir, cfg, e.Location, c.conf, be, c.resolveIP).Details(ctx))
	}
	return result, nil
}

// Delete stops the VM if it is currently tracked as running, then removes
// its directory.
func (c *Controller) Delete(ctx context.Context, name, storageLoc string) error {
	logger := log.WithFunc("controller.Delete")

	normalized := storage.NormalizeName(name)
	v, err := c.Get(ctx, normalized, storageLoc)
	if err != nil {
		logger.Errorf(ctx, err, "delete %s", normalized)
		return err
	}
	if c.running.Get(normalized) != nil || v.IsRunning() {
		if err := v.Stop(ctx); err != nil {
			logger.Errorf(ctx, err, "stop %s before delete", normalized)
			return err
		}
		c.running.Remove(normalized)
	}
	if err := v.Dir.Delete(); err != nil {
		logger.Errorf(ctx, err, "delete %s", normalized)
		return err
	}
	logger.Infof(ctx, "deleted %s", normalized)
	return nil
}

// Stop halts a running VM and clears its running-registry entry on success.
func (c *Controller) Stop(ctx context.Context, name, storageLoc string) error {
	logger := log.WithFunc("controller.Stop")

	normalized := storage.NormalizeName(name)
	v, err := c.Get(ctx, normalized, storageLoc)
	if err != nil {
		logger.Errorf(ctx, err, "stop %s", normalized)
		return err
	}
	if err := v.Stop(ctx); err != nil {
		logger.Errorf(ctx, err, "stop %s", normalized)
		return err
	}
	c.running.Remove(normalized)
	return nil
}
