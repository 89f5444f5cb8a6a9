package types

import (
	"fmt"
	"strconv"
	"strings"
)

// OS is the guest operating system of a VM.
type OS string

const (
	OSMacOS OS = "macos"
	OSLinux OS = "linux"
)

// ParseOS validates a guest OS string.
func ParseOS(s string) (OS, error) {
	switch OS(s) {
	case OSMacOS, OSLinux:
		return OS(s), nil
	default:
		return "", &ValidationError{Field: "os", Msg: fmt.Sprintf("unsupported OS %q", s)}
	}
}

// VMStatus is the observed run state of a VM.
type VMStatus string

const (
	VMStatusRunning VMStatus = "running"
	VMStatusStopped VMStatus = "stopped"
)

// Resolution is a display size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ParseResolution parses a "WIDTHxHEIGHT" string.
func ParseResolution(s string) (Resolution, error) {
	parts := strings.SplitN(s, "x", 2)
	if len(parts) != 2 {
		return Resolution{}, ErrInvalidDisplayResolution
	}
	w, err1 := strconv.Atoi(parts[0])
	h, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return Resolution{}, ErrInvalidDisplayResolution
	}
	return Resolution{Width: w, Height: h}, nil
}

// SharedDirectory maps a host directory into the guest.
type SharedDirectory struct {
	HostPath string `json:"host_path"`
	Tag      string `json:"tag"`
	ReadOnly bool   `json:"read_only"`
}

// ParseSharedDirectory parses "hostPath[:tag[:ro]]".
func ParseSharedDirectory(s string) (SharedDirectory, error) {
	parts := strings.Split(s, ":")
	sd := SharedDirectory{HostPath: parts[0], Tag: "shared"}
	switch len(parts) {
	case 1:
	case 2:
		sd.Tag = parts[1]
	case 3:
		sd.Tag = parts[1]
		if parts[2] != "ro" && parts[2] != "rw" {
			return SharedDirectory{}, &ValidationError{Field: "shared-dir", Msg: fmt.Sprintf("invalid mode %q, want ro or rw", parts[2])}
		}
		sd.ReadOnly = parts[2] == "ro"
	default:
		return SharedDirectory{}, &ValidationError{Field: "shared-dir", Msg: fmt.Sprintf("invalid format %q", s)}
	}
	if sd.HostPath == "" {
		return SharedDirectory{}, &ValidationError{Field: "shared-dir", Msg: "empty host path"}
	}
	return sd, nil
}

// VMConfig is the persisted, declared shape of a VM. It is the single
// source of truth for the VM's hardware configuration; all mutation goes
// through the controller setters, which assert the VM is not running.
type VMConfig struct {
	OS                OS         `json:"os"`
	CPUCount          int        `json:"cpu_count"`
	MemorySize        int64      `json:"memory_size"` // bytes
	DiskSize          int64      `json:"disk_size"`   // bytes
	Display           Resolution `json:"display"`
	MACAddress        string     `json:"mac_address"`
	HardwareModel     string     `json:"hardware_model,omitempty"`     // base64 opaque blob for macOS guests
	MachineIdentifier string     `json:"machine_identifier,omitempty"` // unique per VM, regenerated on clone
}

// DiskInfo reports actual vs declared disk usage.
type DiskInfo struct {
	Allocated int64 `json:"allocated"` // bytes on disk
	Total     int64 `json:"total"`     // declared size
}

// VMSession records the last display session. Persisted as sessions.json
// so a later inspect can report the VNC URL of a VM started by another
// invocation.
type VMSession struct {
	VNCURL            string            `json:"vnc_url,omitempty"`
	SharedDirectories []SharedDirectory `json:"shared_directories,omitempty"`
}

// VMDetails is the derived, on-demand view of a VM. Never persisted;
// computed from VMConfig plus a live lock probe and the saved session.
type VMDetails struct {
	Name              string            `json:"name"`
	OS                OS                `json:"os"`
	CPUCount          int               `json:"cpu_count"`
	MemorySize        int64             `json:"memory_size"`
	DiskSize          DiskInfo          `json:"disk_size"`
	Display           Resolution        `json:"display"`
	Status            VMStatus          `json:"status"`
	VNCURL            string            `json:"vnc_url,omitempty"`
	IPAddress         string            `json:"ip_address,omitempty"`
	LocationName      string            `json:"location_name"`
	SharedDirectories []SharedDirectory `json:"shared_directories,omitempty"`
}

// CachedImage describes one locally cached image.
type CachedImage struct {
	Repository string `json:"repository"`
	Tag        string `json:"tag"`
	ManifestID string `json:"manifest_id"`
	Size       int64  `json:"size"`
}
