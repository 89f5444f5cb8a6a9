package vm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cradlevm/cradle/config"
	"github.com/cradlevm/cradle/storage"
	"github.com/cradlevm/cradle/types"
	"github.com/cradlevm/cradle/vm/backend"
)

// fakeHandle is a controllable in-memory guest.
type fakeHandle struct {
	url      string
	stopOnce sync.Once
	exited   chan struct{}
}

func (h *fakeHandle) Stop(context.Context) error {
	h.stopOnce.Do(func() { close(h.exited) })
	return nil
}
func (h *fakeHandle) Wait() error        { <-h.exited; return nil }
func (h *fakeHandle) DisplayURL() string { return h.url }
func (h *fakeHandle) PID() int           { return os.Getpid() }

type fakeBackend struct {
	mu       sync.Mutex
	started  int
	lastOpts backend.StartOptions
	handle   *fakeHandle
}

func (b *fakeBackend) Setup(_ context.Context, dir storage.VMDirectory, cfg *types.VMConfig, _ string) error {
	if err := os.WriteFile(dir.NVRAMPath(), nil, 0o600); err != nil {
		return err
	}
	return os.WriteFile(dir.DiskPath(), make([]byte, cfg.DiskSize), 0o600)
}

func (b *fakeBackend) Start(_ context.Context, _ storage.VMDirectory, _ *types.VMConfig, opts backend.StartOptions) (backend.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started++
	b.lastOpts = opts
	b.handle = &fakeHandle{url: "vnc://127.0.0.1:5900", exited: make(chan struct{})}
	return b.handle, nil
}

func testVM(t *testing.T) (*VM, *fakeBackend) {
	t.Helper()
	conf := &config.Config{RootDir: t.TempDir(), StopTimeoutSeconds: 1}
	dir := storage.VMDirectory{Name: "vm1", Path: filepath.Join(t.TempDir(), "vm1")}
	if err := os.MkdirAll(dir.Path, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cfg := &types.VMConfig{OS: types.OSLinux, CPUCount: 2, MemorySize: 1 << 30, DiskSize: 4096}
	if err := dir.SaveConfig(cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
	be := &fakeBackend{}
	return New(dir, cfg, "default", conf, be, nil), be
}

func waitRunning(t *testing.T, v *VM, want bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if v.IsRunning() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("IsRunning never became %v", want)
}

func TestRunAndStop(t *testing.T) {
	v, be := testVM(t)
	runErr := make(chan error, 1)
	go func() { runErr <- v.Run(context.Background(), backend.StartOptions{NoDisplay: true}) }()
	waitRunning(t, v, true)

	session, err := v.Dir.LoadSession()
	if err != nil || session == nil {
		t.Fatalf("expected session record, got %+v err=%v", session, err)
	}
	if session.VNCURL != "vnc://127.0.0.1:5900" {
		t.Errorf("session url %q", session.VNCURL)
	}

	if err := v.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run never returned after stop")
	}
	waitRunning(t, v, false)
	if s, _ := v.Dir.LoadSession(); s != nil {
		t.Error("session survived stop")
	}
	be.mu.Lock()
	defer be.mu.Unlock()
	if be.started != 1 {
		t.Errorf("backend started %d times", be.started)
	}
	if !be.lastOpts.NoDisplay {
		t.Error("start options not forwarded")
	}
}

func TestRun_SecondRunFailsFast(t *testing.T) {
	v, _ := testVM(t)
	runErr := make(chan error, 1)
	go func() { runErr <- v.Run(context.Background(), backend.StartOptions{}) }()
	waitRunning(t, v, true)

	// A second binding to the same directory, as another CLI invocation
	// would produce.
	cfg, err := v.Dir.LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	other := New(v.Dir, cfg, "default", v.conf, &fakeBackend{}, nil)
	if err := other.Run(context.Background(), backend.StartOptions{}); !errors.Is(err, types.ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}

	if err := v.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	<-runErr
}

func TestRun_NotInitialized(t *testing.T) {
	conf := &config.Config{RootDir: t.TempDir(), StopTimeoutSeconds: 1}
	dir := storage.VMDirectory{Name: "ghost", Path: filepath.Join(t.TempDir(), "ghost")}
	v := New(dir, &types.VMConfig{CPUCount: 1, MemorySize: 1}, "default", conf, &fakeBackend{}, nil)
	if err := v.Run(context.Background(), backend.StartOptions{}); !errors.Is(err, types.ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestStop_NotRunning(t *testing.T) {
	v, _ := testVM(t)
	if err := v.Stop(context.Background()); !errors.Is(err, types.ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestSetters_Persist(t *testing.T) {
	v, _ := testVM(t)

	if err := v.SetCPU(8); err != nil {
		t.Fatalf("set cpu: %v", err)
	}
	if err := v.SetMemory(2 << 30); err != nil {
		t.Fatalf("set memory: %v", err)
	}
	if err := v.SetDisplay(types.Resolution{Width: 2560, Height: 1440}); err != nil {
		t.Fatalf("set display: %v", err)
	}
	loaded, err := v.Dir.LoadConfig()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.CPUCount != 8 || loaded.MemorySize != 2<<30 || loaded.Display.Width != 2560 {
		t.Errorf("got %+v", loaded)
	}

	if err := v.SetCPU(0); err == nil {
		t.Error("accepted zero cpu")
	}
	if err := v.SetMemory(-1); err == nil {
		t.Error("accepted negative memory")
	}
}

func TestSetDiskSize_GrowOnly(t *testing.T) {
	v, _ := testVM(t)
	if err := os.WriteFile(v.Dir.DiskPath(), make([]byte, 4096), 0o600); err != nil {
		t.Fatalf("write disk: %v", err)
	}

	if err := v.SetDiskSize(1024); !errors.Is(err, types.ErrResizeTooSmall) {
		t.Errorf("expected ErrResizeTooSmall, got %v", err)
	}
	if err := v.SetDiskSize(8192); err != nil {
		t.Fatalf("grow: %v", err)
	}
	info, err := os.Stat(v.Dir.DiskPath())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 8192 {
		t.Errorf("disk size %d, want 8192", info.Size())
	}
	loaded, _ := v.Dir.LoadConfig()
	if loaded.DiskSize != 8192 {
		t.Errorf("declared size %d, want 8192", loaded.DiskSize)
	}
}

func TestSetters_RejectWhileRunning(t *testing.T) {
	v, _ := testVM(t)
	runErr := make(chan error, 1)
	go func() { runErr <- v.Run(context.Background(), backend.StartOptions{}) }()
	waitRunning(t, v, true)
	defer func() {
		_ = v.Stop(context.Background())
		<-runErr
	}()

	if err := v.SetCPU(4); !errors.Is(err, types.ErrAlreadyRunning) {
		t.Errorf("SetCPU: expected ErrAlreadyRunning, got %v", err)
	}
	if err := v.SetMemory(1 << 30); !errors.Is(err, types.ErrAlreadyRunning) {
		t.Errorf("SetMemory: expected ErrAlreadyRunning, got %v", err)
	}
	if err := v.SetDiskSize(1 << 20); !errors.Is(err, types.ErrAlreadyRunning) {
		t.Errorf("SetDiskSize: expected ErrAlreadyRunning, got %v", err)
	}
	if err := v.SetDisplay(types.Resolution{Width: 800, Height: 600}); !errors.Is(err, types.ErrAlreadyRunning) {
		t.Errorf("SetDisplay: expected ErrAlreadyRunning, got %v", err)
	}
}

func TestDetails(t *testing.T) {
	v, _ := testVM(t)
	d := v.Details(context.Background())
	if d.Status != types.VMStatusStopped {
		t.Errorf("status %q, want stopped", d.Status)
	}
	if d.Name != "vm1" || d.CPUCount != 2 || d.LocationName != "default" {
		t.Errorf("got %+v", d)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- v.Run(context.Background(), backend.StartOptions{}) }()
	waitRunning(t, v, true)
	d = v.Details(context.Background())
	if d.Status != types.VMStatusRunning {
		t.Errorf("status %q, want running", d.Status)
	}
	if d.VNCURL == "" {
		t.Error("running VM has no display URL")
	}

	_ = v.Stop(context.Background())
	<-runErr
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	v, _ := testVM(t)
	r.Add("vm1", v)
	if r.Get("vm1") != v {
		t.Error("lookup failed")
	}
	if r.Get("other") != nil {
		t.Error("expected nil for unknown name")
	}
	names := r.Names()
	if len(names) != 1 || names[0] != "vm1" {
		t.Errorf("names %v", names)
	}
	r.Remove("vm1")
	r.Remove("vm1") // idempotent
	if r.Get("vm1") != nil {
		t.Error("entry survived remove")
	}
}
