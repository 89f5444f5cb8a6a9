package controller

import (
	"context"
	"fmt"

	"github.com/projecteru2/core/log"

	"github.com/cradlevm/cradle/images"
	"github.com/cradlevm/cradle/storage"
	"github.com/cradlevm/cradle/types"
	"github.com/cradlevm/cradle/utils"
)

// PullImage fetches an image from the registry and materializes it as a VM.
// vmName defaults to the directory-safe form of the reference. The VM is
// staged in a temp directory and only renamed into place once every layer is
// downloaded, verified, and installed.
func (c *Controller) PullImage(ctx context.Context, reference, vmName, storageLoc string, progress images.ProgressFunc) error {
	logger := log.WithFunc("controller.PullImage")

	ref, err := images.ParseReference(reference, c.conf.Registry, c.conf.Organization)
	if err != nil {
		return err
	}
	if vmName == "" {
		vmName = ref.DirName()
	}
	vmName = storage.NormalizeName(vmName)

	final, err := c.layout.GetDirectory(ctx, vmName, storageLoc)
	if err != nil {
		return err
	}
	if final.Exists() {
		return fmt.Errorf("%s: %w", vmName, types.ErrAlreadyExists)
	}

	tempPath, err := c.layout.CreateTempDirectory()
	if err != nil {
		return err
	}
	tempDir := storage.VMDirectory{Name: vmName, Path: tempPath}
	defer func() {
		if tempDir.Exists() {
			_ = tempDir.Delete()
		}
	}()

	if err := c.images.Pull(ctx, ref, tempPath, progress); err != nil {
		logger.Errorf(ctx, err, "pull %s", ref)
		return err
	}

	// A pulled image may carry identity fields from the machine it was
	// pushed from. Regenerate so every pulled VM is unique on this host.
	cfg, err := tempDir.LoadConfig()
	if err != nil {
		return fmt.Errorf("pulled image %s has no usable config: %w", ref, err)
	}
	cfg.MACAddress = utils.GenerateMAC()
	cfg.MachineIdentifier = utils.GenerateMachineID()
	if err := tempDir.SaveConfig(cfg); err != nil {
		return err
	}

	if err := c.layout.Finalize(tempPath, final); err != nil {
		return err
	}
	logger.Infof(ctx, "pulled %s into %s", ref, final.Path)
	return nil
}

// PushImage uploads a stopped VM's artifacts to the registry under one or
// more tags.
func (c *Controller) PushImage(ctx context.Context, vmName, image string, tags []string, storageLoc string, opts images.PushOptions) error {
	logger := log.WithFunc("controller.PushImage")

	v, err := c.Get(ctx, vmName, storageLoc)
	if err != nil {
		return err
	}
	if v.IsRunning() {
		return fmt.Errorf("push %s: %w", v.Name, types.ErrAlreadyRunning)
	}
	if len(tags) == 0 {
		return &types.ValidationError{Field: "tags", Msg: "at least one tag required"}
	}
	ref, err := images.ParseReference(image+":"+tags[0], c.conf.Registry, c.conf.Organization)
	if err != nil {
		return err
	}
	opts.Tags = tags
	if opts.ChunkSizeMB == 0 {
		opts.ChunkSizeMB = c.conf.ChunkSizeMB
	}
	if err := c.images.Push(ctx, ref, v.Dir, opts); err != nil {
		logger.Errorf(ctx, err, "push %s", ref)
		return err
	}
	return nil
}

// GetImages lists locally cached images.
func (c *Controller) GetImages() ([]types.CachedImage, error) {
	return c.images.Cache().List()
}

// PruneImages removes the entire local image cache.
func (c *Controller) PruneImages() error {
	return c.images.Cache().Prune()
}
