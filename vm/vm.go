// Package vm owns the per-VM run/stop state machine. An exclusive,
// non-blocking advisory lock on the VM's config file is the sole "is this
// VM running" primitive: the kernel releases it automatically if the owner
// dies, so there is no stale PID file to clean up.
package vm

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/cradlevm/cradle/config"
	"github.com/cradlevm/cradle/lock/flock"
	"github.com/cradlevm/cradle/storage"
	"github.com/cradlevm/cradle/types"
	"github.com/cradlevm/cradle/utils"
	"github.com/cradlevm/cradle/vm/backend"
)

const (
	// interruptGrace is how long a signalled lock holder gets to exit
	// before escalation to SIGKILL.
	interruptGrace = 10 * time.Second
	// releasePoll is how often the lock is re-probed while waiting for a
	// stopping VM to let go of it.
	releasePoll = 500 * time.Millisecond
)

// IPResolver reports a VM's guest IP from its MAC address, if discoverable.
// Lease inspection lives outside this module; nil resolvers are fine.
type IPResolver func(ctx context.Context, macAddress string) string

// VM is a runtime-bound handle for one on-disk VM.
type VM struct {
	Name     string
	Dir      storage.VMDirectory
	Config   *types.VMConfig
	Location string

	conf      *config.Config
	backend   backend.Backend
	resolveIP IPResolver

	mu     sync.Mutex
	lk     *flock.Lock
	handle backend.Handle
}

// New binds a loaded VM directory to a runtime backend.
func New(dir storage.VMDirectory, cfg *types.VMConfig, location string, conf *config.Config, be backend.Backend, resolveIP IPResolver) *VM {
	return &VM{
		Name:      dir.Name,
		Dir:       dir,
		Config:    cfg,
		Location:  location,
		conf:      conf,
		backend:   be,
		resolveIP: resolveIP,
	}
}

// IsRunning probes the advisory lock. For the in-process owner the live
// handle answers directly; otherwise a momentary try-acquire on the config
// file does.
func (v *VM) IsRunning() bool {
	v.mu.Lock()
	h := v.handle
	v.mu.Unlock()
	if h != nil {
		return true
	}
	held, err := flock.Held(v.Dir.ConfigPath())
	return err == nil && held
}

// Run starts the VM and parks the calling goroutine until the guest exits.
// A second concurrent Run on the same VM fails fast with ErrAlreadyRunning
// instead of queueing.
func (v *VM) Run(ctx context.Context, opts backend.StartOptions) error {
	logger := log.WithFunc("vm.Run")

	if !v.Dir.Initialized() {
		return fmt.Errorf("%s: %w", v.Name, types.ErrNotInitialized)
	}
	if v.Config.CPUCount <= 0 || v.Config.MemorySize <= 0 {
		return &types.ValidationError{Field: v.Name, Msg: "cpu and memory must be set before run"}
	}

	lk := flock.New(v.Dir.ConfigPath())
	locked, err := lk.TryLock()
	if err != nil {
		return fmt.Errorf("%s: %w", v.Name, err)
	}
	if !locked {
		return fmt.Errorf("%s: %w", v.Name, types.ErrAlreadyRunning)
	}
	v.mu.Lock()
	v.lk = lk
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		v.lk = nil
		v.mu.Unlock()
		_ = lk.Unlock(context.Background())
	}()

	handle, err := v.backend.Start(ctx, v.Dir, v.Config, opts)
	if err != nil {
		return fmt.Errorf("start %s: %w", v.Name, err)
	}
	v.mu.Lock()
	v.handle = handle
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		v.handle = nil
		v.mu.Unlock()
	}()

	// Persist the session so a later inspect, possibly from another
	// process, can report the display URL and shares.
	session := &types.VMSession{
		VNCURL:            handle.DisplayURL(),
		SharedDirectories: opts.SharedDirectories,
	}
	if err := v.Dir.SaveSession(session); err != nil {
		logger.Warnf(ctx, "save session for %s: %v", v.Name, err)
	}
	defer v.Dir.ClearSession() //nolint:errcheck

	// A cross-process stop signals this (lock-holding) process; translate
	// that into a clean backend stop instead of dying with the guest up.
	done := make(chan struct{})
	defer close(done)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Infof(ctx, "stop signal received for %s", v.Name)
			_ = handle.Stop(ctx)
		case <-done:
		}
	}()

	logger.Infof(ctx, "%s running", v.Name)
	if err := handle.Wait(); err != nil {
		return fmt.Errorf("%s exited: %w", v.Name, err)
	}
	logger.Infof(ctx, "%s stopped", v.Name)
	return nil
}

// Stop halts a running VM. The in-process handle, when present, gets a clean
// stop; otherwise the VM was started by another process, so the lock-holder
// PID is located and the escalation sequence applied: interrupt, poll for
// release, kill, poll again. Failure after the kill is fatal.
func (v *VM) Stop(ctx context.Context) error {
	logger := log.WithFunc("vm.Stop")

	v.mu.Lock()
	handle := v.handle
	v.mu.Unlock()
	if handle != nil {
		if err := handle.Stop(ctx); err != nil {
			return fmt.Errorf("stop %s: %w", v.Name, err)
		}
		return v.waitReleased(ctx, interruptGrace)
	}

	configPath := v.Dir.ConfigPath()
	held, err := flock.Held(configPath)
	if err != nil {
		return fmt.Errorf("%s: %w", v.Name, err)
	}
	if !held {
		return fmt.Errorf("%s: %w", v.Name, types.ErrNotRunning)
	}
	pid, err := flock.HolderPID(configPath)
	if err != nil || pid == 0 {
		return fmt.Errorf("%s: locate lock holder: %w", v.Name, err)
	}

	logger.Infof(ctx, "interrupting %s (pid %d)", v.Name, pid)
	grace := time.Duration(v.conf.StopTimeoutSeconds) * time.Second
	if err := utils.InterruptProcess(ctx, pid, grace); err == nil {
		return v.waitReleased(ctx, grace)
	}

	logger.Warnf(ctx, "%s (pid %d) ignored interrupt, killing", v.Name, pid)
	if err := utils.KillProcess(ctx, pid); err != nil {
		return fmt.Errorf("%s: %w: %v", v.Name, types.ErrNotStopped, err)
	}
	return v.waitReleased(ctx, grace)
}

// waitReleased polls until no process holds the config-file lock.
func (v *VM) waitReleased(ctx context.Context, timeout time.Duration) error {
	err := utils.WaitFor(ctx, timeout, releasePoll, func() (bool, error) {
		held, err := flock.Held(v.Dir.ConfigPath())
		if err != nil {
			return false, err
		}
		return !held, nil
	})
	if err != nil {
		return fmt.Errorf("%s: lock still held: %w", v.Name, types.ErrNotStopped)
	}
	return nil
}

// ForceClearLock is the explicit, last-resort recovery for a lock left
// inconsistent by an abrupt crash. It refuses to run against a VM that
// still looks alive; callers must have exhausted Stop first.
func (v *VM) ForceClearLock(ctx context.Context) error {
	if v.IsRunning() {
		if pid, err := flock.HolderPID(v.Dir.ConfigPath()); err == nil && utils.IsProcessAlive(pid) {
			return fmt.Errorf("%s: %w", v.Name, types.ErrAlreadyRunning)
		}
	}
	return flock.New(v.Dir.ConfigPath()).ForceClear(ctx)
}

// Setters: each asserts the VM is not running, then persists.

func (v *VM) SetCPU(count int) error {
	if count <= 0 {
		return &types.ValidationError{Field: "cpu", Msg: "must be positive"}
	}
	if v.IsRunning() {
		return fmt.Errorf("%s: %w", v.Name, types.ErrAlreadyRunning)
	}
	v.Config.CPUCount = count
	return v.Dir.SaveConfig(v.Config)
}

func (v *VM) SetMemory(bytes int64) error {
	if bytes <= 0 {
		return &types.ValidationError{Field: "memory", Msg: "must be positive"}
	}
	if v.IsRunning() {
		return fmt.Errorf("%s: %w", v.Name, types.ErrAlreadyRunning)
	}
	v.Config.MemorySize = bytes
	return v.Dir.SaveConfig(v.Config)
}

func (v *VM) SetDisplay(res types.Resolution) error {
	if res.Width <= 0 || res.Height <= 0 {
		return types.ErrInvalidDisplayResolution
	}
	if v.IsRunning() {
		return fmt.Errorf("%s: %w", v.Name, types.ErrAlreadyRunning)
	}
	v.Config.Display = res
	return v.Dir.SaveConfig(v.Config)
}

// SetDiskSize grows the declared disk. Shrinking would truncate guest data
// and is rejected.
func (v *VM) SetDiskSize(bytes int64) error {
	if bytes < v.Config.DiskSize {
		return fmt.Errorf("%s: %d < %d: %w", v.Name, bytes, v.Config.DiskSize, types.ErrResizeTooSmall)
	}
	if v.IsRunning() {
		return fmt.Errorf("%s: %w", v.Name, types.ErrAlreadyRunning)
	}
	if bytes > v.Config.DiskSize {
		f, err := os.OpenFile(v.Dir.DiskPath(), os.O_WRONLY, 0o600) //nolint:gosec
		if err == nil {
			truncErr := f.Truncate(bytes)
			closeErr := f.Close()
			if truncErr != nil {
				return fmt.Errorf("grow disk for %s: %w", v.Name, truncErr)
			}
			if closeErr != nil {
				return fmt.Errorf("grow disk for %s: %w", v.Name, closeErr)
			}
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("grow disk for %s: %w", v.Name, err)
		}
	}
	v.Config.DiskSize = bytes
	return v.Dir.SaveConfig(v.Config)
}

// Details computes the derived on-demand view: config, live lock probe, and
// the saved session record when one exists.
func (v *VM) Details(ctx context.Context) *types.VMDetails {
	d := &types.VMDetails{
		Name:         v.Name,
		OS:           v.Config.OS,
		CPUCount:     v.Config.CPUCount,
		MemorySize:   v.Config.MemorySize,
		DiskSize:     v.Dir.DiskInfo(v.Config.DiskSize),
		Display:      v.Config.Display,
		Status:       types.VMStatusStopped,
		LocationName: v.Location,
	}
	if !v.IsRunning() {
		return d
	}
	d.Status = types.VMStatusRunning
	if session, err := v.Dir.LoadSession(); err == nil && session != nil {
		d.VNCURL = session.VNCURL
		d.SharedDirectories = session.SharedDirectories
	}
	if v.resolveIP != nil {
		d.IPAddress = v.resolveIP(ctx, v.Config.MACAddress)
	}
	return d
}
