package backend

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/cradlevm/cradle/config"
	"github.com/cradlevm/cradle/storage"
	"github.com/cradlevm/cradle/types"
	"github.com/cradlevm/cradle/utils"
)

const stopGracePeriod = 5 * time.Second

// execBackend runs guests by launching the configured virtualization helper
// binary as a child process, one per VM.
type execBackend struct {
	osFlavor types.OS
	conf     *config.Config
}

func newExecBackend(osFlavor types.OS, conf *config.Config) *execBackend {
	return &execBackend{osFlavor: osFlavor, conf: conf}
}

// Setup allocates the VM's disk image and firmware variable store. For macOS
// guests the helper additionally loads the restore image; for Linux the disk
// starts empty and the guest installs from mounted media at first run.
func (b *execBackend) Setup(ctx context.Context, dir storage.VMDirectory, cfg *types.VMConfig, restoreImage string) error {
	logger := log.WithFunc("backend.Setup")

	disk, err := os.OpenFile(dir.DiskPath(), os.O_WRONLY|os.O_CREATE, 0o600) //nolint:gosec
	if err != nil {
		return fmt.Errorf("create disk for %s: %w", dir.Name, err)
	}
	if err := disk.Truncate(cfg.DiskSize); err != nil {
		_ = disk.Close()
		return fmt.Errorf("allocate disk for %s: %w", dir.Name, err)
	}
	if err := disk.Close(); err != nil {
		return fmt.Errorf("close disk for %s: %w", dir.Name, err)
	}
	if err := os.WriteFile(dir.NVRAMPath(), nil, 0o600); err != nil {
		return fmt.Errorf("create nvram for %s: %w", dir.Name, err)
	}

	if b.osFlavor == types.OSMacOS {
		args := []string{"setup", "--vm-dir", dir.Path, "--restore-image", restoreImage}
		cmd := exec.CommandContext(ctx, b.conf.VMBinary, args...) //nolint:gosec
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("restore image install for %s: %w: %s", dir.Name, err, out)
		}
	}
	logger.Infof(ctx, "setup complete for %s (%s)", dir.Name, b.osFlavor)
	return nil
}

// Start launches the helper for the VM and returns its handle. The helper
// owns the guest for its whole lifetime; Wait returns when it exits.
func (b *execBackend) Start(ctx context.Context, dir storage.VMDirectory, cfg *types.VMConfig, opts StartOptions) (Handle, error) {
	args := []string{
		"run",
		"--vm-dir", dir.Path,
		"--os", string(cfg.OS),
		"--cpu", strconv.Itoa(cfg.CPUCount),
		"--memory", strconv.FormatInt(cfg.MemorySize, 10),
	}
	if opts.NoDisplay {
		args = append(args, "--no-display")
	} else if opts.VNCPort > 0 {
		args = append(args, "--vnc-port", strconv.Itoa(opts.VNCPort))
	}
	if opts.RecoveryMode {
		args = append(args, "--recovery")
	}
	if opts.MountPath != "" {
		args = append(args, "--mount", opts.MountPath)
	}
	for _, sd := range opts.SharedDirectories {
		mode := "rw"
		if sd.ReadOnly {
			mode = "ro"
		}
		args = append(args, "--shared-dir", fmt.Sprintf("%s:%s:%s", sd.HostPath, sd.Tag, mode))
	}
	for _, usb := range opts.USBPaths {
		args = append(args, "--usb", usb)
	}

	cmd := exec.Command(b.conf.VMBinary, args...) //nolint:gosec
	// Own process group so signals aimed at the CLI don't tear the guest down.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launch %s for %s: %w", b.conf.VMBinary, dir.Name, err)
	}

	h := &execHandle{cmd: cmd}
	if !opts.NoDisplay && opts.VNCPort > 0 {
		h.displayURL = fmt.Sprintf("vnc://127.0.0.1:%d", opts.VNCPort)
	}
	log.WithFunc("backend.Start").Infof(ctx, "launched %s (pid %d)", dir.Name, cmd.Process.Pid)
	return h, nil
}

// execHandle wraps the helper process.
type execHandle struct {
	cmd        *exec.Cmd
	displayURL string
}

func (h *execHandle) Wait() error {
	return h.cmd.Wait()
}

func (h *execHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *execHandle) DisplayURL() string {
	return h.displayURL
}

// Stop asks the helper to shut the guest down via SIGINT, then escalates to
// SIGKILL after the grace period.
func (h *execHandle) Stop(ctx context.Context) error {
	pid := h.PID()
	if pid == 0 {
		return types.ErrNotRunning
	}
	if err := utils.InterruptProcess(ctx, pid, stopGracePeriod); err == nil {
		return nil
	}
	return utils.KillProcess(ctx, pid)
}
