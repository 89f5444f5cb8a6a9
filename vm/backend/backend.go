// Package backend is the narrow boundary to the virtualization layer that
// actually hosts guest execution. The controller and runtime never reach
// past this interface into hypervisor internals.
package backend

import (
	"context"

	"github.com/cradlevm/cradle/config"
	"github.com/cradlevm/cradle/storage"
	"github.com/cradlevm/cradle/types"
)

// StartOptions carries per-run parameters down to the backend.
type StartOptions struct {
	NoDisplay         bool
	SharedDirectories []types.SharedDirectory
	MountPath         string
	VNCPort           int
	RecoveryMode      bool
	USBPaths          []string
}

// Handle is a running guest. Wait parks until the guest exits; Stop asks for
// a clean shutdown and escalates internally if the guest ignores it.
type Handle interface {
	Stop(ctx context.Context) error
	Wait() error
	DisplayURL() string
	PID() int
}

// Backend creates and runs guests for one OS flavor.
type Backend interface {
	// Setup prepares a freshly created VM directory: disk image, firmware
	// variable store, OS install media. restoreImage is the firmware/IPSW
	// reference for macOS guests, empty for Linux.
	Setup(ctx context.Context, dir storage.VMDirectory, cfg *types.VMConfig, restoreImage string) error
	// Start launches the guest and returns a handle for it.
	Start(ctx context.Context, dir storage.VMDirectory, cfg *types.VMConfig, opts StartOptions) (Handle, error)
}

// Factory builds a Backend for a guest OS. Injected into the controller so
// tests can substitute a fake.
type Factory func(os types.OS, conf *config.Config) (Backend, error)

// New is the default Factory, selecting the exec-based backend for every
// supported OS. OS-specific behavior lives in the helper's arguments, not
// in a type hierarchy.
func New(osFlavor types.OS, conf *config.Config) (Backend, error) {
	switch osFlavor {
	case types.OSMacOS, types.OSLinux:
		return newExecBackend(osFlavor, conf), nil
	default:
		return nil, &types.ValidationError{Field: "os", Msg: string("unsupported OS " + osFlavor)}
	}
}
