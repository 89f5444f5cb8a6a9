package types

import (
	"errors"
	"testing"
)

func TestParseOS(t *testing.T) {
	for _, s := range []string{"macos", "linux"} {
		if _, err := ParseOS(s); err != nil {
			t.Errorf("ParseOS(%q): %v", s, err)
		}
	}
	if _, err := ParseOS("windows"); err == nil {
		t.Error("expected error for unsupported OS")
	}
	var ve *ValidationError
	if _, err := ParseOS(""); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestParseResolution(t *testing.T) {
	r, err := ParseResolution("1920x1080")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Width != 1920 || r.Height != 1080 {
		t.Errorf("got %+v", r)
	}
	if r.String() != "1920x1080" {
		t.Errorf("String() = %q", r.String())
	}

	for _, bad := range []string{"", "1920", "x1080", "1920x", "0x768", "-1x768", "axb"} {
		if _, err := ParseResolution(bad); !errors.Is(err, ErrInvalidDisplayResolution) {
			t.Errorf("ParseResolution(%q): expected ErrInvalidDisplayResolution, got %v", bad, err)
		}
	}
}

func TestParseSharedDirectory(t *testing.T) {
	sd, err := ParseSharedDirectory("/data")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sd.HostPath != "/data" || sd.Tag != "shared" || sd.ReadOnly {
		t.Errorf("got %+v", sd)
	}

	sd, err = ParseSharedDirectory("/data:work:ro")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sd.Tag != "work" || !sd.ReadOnly {
		t.Errorf("got %+v", sd)
	}

	sd, err = ParseSharedDirectory("/data:work:rw")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sd.ReadOnly {
		t.Errorf("rw parsed as read-only")
	}

	for _, bad := range []string{"", "/data:tag:wx", "/a:b:c:d", ":tag"} {
		if _, err := ParseSharedDirectory(bad); err == nil {
			t.Errorf("ParseSharedDirectory(%q): expected error", bad)
		}
	}
}
