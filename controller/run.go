package controller

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/projecteru2/core/log"

	"github.com/cradlevm/cradle/images"
	"github.com/cradlevm/cradle/storage"
	"github.com/cradlevm/cradle/types"
	"github.com/cradlevm/cradle/vm"
	"github.com/cradlevm/cradle/vm/backend"
)

// RunOptions carries everything a run needs beyond the VM name.
type RunOptions struct {
	backend.StartOptions
	Storage  string
	Progress images.ProgressFunc
}

func (o *RunOptions) validate() error {
	for _, sd := range o.SharedDirectories {
		info, err := os.Stat(sd.HostPath)
		if err != nil {
			return &types.ValidationError{Field: "shared-dir", Msg: fmt.Sprintf("%s: %v", sd.HostPath, err)}
		}
		if !info.IsDir() {
			return &types.ValidationError{Field: "shared-dir", Msg: fmt.Sprintf("%s: not a directory", sd.HostPath)}
		}
	}
	if o.MountPath != "" {
		if _, err := os.Stat(o.MountPath); err != nil {
			return &types.ValidationError{Field: "mount", Msg: fmt.Sprintf("%s: %v", o.MountPath, err)}
		}
	}
	return nil
}

// Run starts a VM and blocks until it exits. When name looks like an
// image:tag reference and no VM with the normalized name exists yet, the
// image is pulled first and the VM materialized from it.
func (c *Controller) Run(ctx context.Context, name string, opts RunOptions) error {
	logger := log.WithFunc("controller.Run")

	if err := opts.validate(); err != nil {
		return err
	}

	v, err := c.Get(ctx, name, opts.Storage)
	if errors.Is(err, types.ErrNotFound) && images.LooksLikeReference(name) {
		logger.Infof(ctx, "%s not found locally, pulling", name)
		if err := c.PullImage(ctx, name, storage.NormalizeName(name), opts.Storage, opts.Progress); err != nil {
			return err
		}
		v, err = c.Get(ctx, name, opts.Storage)
	}
	if err != nil {
		return err
	}

	c.running.Add(v.Name, v)
	defer c.running.Remove(v.Name)

	logger.Infof(ctx, "running %s", v.Name)
	return v.Run(ctx, opts.StartOptions)
}

// ForceClearLock recovers a VM whose lock holder died without releasing. It
// refuses while the holder process is still alive.
func (c *Controller) ForceClearLock(ctx context.Context, name, storageLoc string) error {
	v, err := c.Get(ctx, name, storageLoc)
	if err != nil {
		return err
	}
	return v.ForceClearLock(ctx)
}

// Running reports the VMs started by this process.
func (c *Controller) Running() *vm.Registry { return c.running }
