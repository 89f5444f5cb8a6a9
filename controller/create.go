package controller

import (
	"context"
	"fmt"

	"github.com/projecteru2/core/log"

	"github.com/cradlevm/cradle/storage"
	"github.com/cradlevm/cradle/types"
	"github.com/cradlevm/cradle/utils"
)

// CreateOptions describes a new VM. RestoreImage is the OS installer image
// path, required for macOS guests and rejected for Linux ones.
type CreateOptions struct {
	Name         string
	OS           types.OS
	CPU          int
	Memory       int64
	DiskSize     int64
	Display      types.Resolution
	RestoreImage string
	Storage      string
}

func (o *CreateOptions) validate() error {
	if o.Name == "" {
		return &types.ValidationError{Field: "name", Msg: "must not be empty"}
	}
	if o.CPU < 1 {
		return &types.ValidationError{Field: "cpu", Msg: "must be at least 1"}
	}
	if o.Memory < 1 {
		return &types.ValidationError{Field: "memory", Msg: "must be positive"}
	}
	if o.DiskSize < 1 {
		return &types.ValidationError{Field: "disk-size", Msg: "must be positive"}
	}
	switch o.OS {
	case types.OSMacOS:
		if o.RestoreImage == "" {
			return &types.ValidationError{Field: "ipsw", Msg: "macOS VMs require a restore image"}
		}
	case types.OSLinux:
		if o.RestoreImage != "" {
			return &types.ValidationError{Field: "ipsw", Msg: "linux VMs do not take a restore image"}
		}
	default:
		return &types.ValidationError{Field: "os", Msg: fmt.Sprintf("unsupported OS %q", o.OS)}
	}
	return nil
}

// Create builds a new VM in a scratch directory and atomically moves it into
// its storage location. A crash mid-create leaves only garbage under temp,
// never a half-built VM under its final name.
func (c *Controller) Create(ctx context.Context, opts CreateOptions) error {
	logger := log.WithFunc("controller.Create")

	if err := opts.validate(); err != nil {
		return err
	}
	name := storage.NormalizeName(opts.Name)
	final, err := c.layout.GetDirectory(ctx, name, opts.Storage)
	if err != nil {
		return err
	}
	if final.Exists() {
		return fmt.Errorf("%s: %w", name, types.ErrAlreadyExists)
	}

	tempPath, err := c.layout.CreateTempDirectory()
	if err != nil {
		return err
	}
	tempDir := storage.VMDirectory{Name: name, Path: tempPath}
	defer func() {
		// Finalize renames the temp dir away on success; this only fires
		// on failure.
		if tempDir.Exists() {
			_ = tempDir.Delete()
		}
	}()

	cfg := &types.VMConfig{
		OS:                opts.OS,
		CPUCount:          opts.CPU,
		MemorySize:        opts.Memory,
		DiskSize:          opts.DiskSize,
		Display:           opts.Display,
		MACAddress:        utils.GenerateMAC(),
		MachineIdentifier: utils.GenerateMachineID(),
	}
	if err := tempDir.SaveConfig(cfg); err != nil {
		return err
	}

	be, err := c.newBackend(opts.OS, c.conf)
	if err != nil {
		return err
	}
	logger.Infof(ctx, "setting up %s (%s, %d cpu, %d bytes memory, %d bytes disk)",
		name, opts.OS, opts.CPU, opts.Memory, opts.DiskSize)
	if err := be.Setup(ctx, tempDir, cfg, opts.RestoreImage); err != nil {
		return fmt.Errorf("setup %s: %w", name, err)
	}

	if err := c.layout.Finalize(tempPath, final); err != nil {
		return err
	}
	logger.Infof(ctx, "created %s in %s", name, final.Path)
	return nil
}

// Clone copies a stopped VM to a new name and regenerates its identity
// fields so guest and host never see two machines claiming the same MAC or
// machine identifier.
func (c *Controller) Clone(ctx context.Context, from, to, srcStorage, dstStorage string) error {
	logger := log.WithFunc("controller.Clone")

	src, err := c.Get(ctx, from, srcStorage)
	if err != nil {
		return err
	}
	if src.IsRunning() {
		return fmt.Errorf("clone %s: %w", src.Name, types.ErrAlreadyRunning)
	}

	to = storage.NormalizeName(to)
	if err := c.layout.CopyDirectory(ctx, src.Name, to, srcStorage, dstStorage); err != nil {
		return err
	}
	dst, _, err := c.layout.ResolveDirectory(ctx, to, dstStorage)
	if err != nil {
		return err
	}
	cfg, err := dst.LoadConfig()
	if err != nil {
		return err
	}
	cfg.MACAddress = utils.GenerateMAC()
	cfg.MachineIdentifier = utils.GenerateMachineID()
	if err := dst.SaveConfig(cfg); err != nil {
		return err
	}
	logger.Infof(ctx, "cloned %s to %s", src.Name, to)
	return nil
}
