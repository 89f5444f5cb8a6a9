package images

import (
	"errors"
	"testing"

	"github.com/cradlevm/cradle/types"
)

func TestParseReference(t *testing.T) {
	ref, err := ParseReference("macos-sequoia:latest", "ghcr.io", "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.Image != "macos-sequoia" || ref.Tag != "latest" {
		t.Errorf("got %+v", ref)
	}
	if ref.Repository() != "acme/macos-sequoia" {
		t.Errorf("Repository() = %q", ref.Repository())
	}
	if ref.String() != "macos-sequoia:latest" {
		t.Errorf("String() = %q", ref.String())
	}
	if ref.DirName() != "macos-sequoia_latest" {
		t.Errorf("DirName() = %q", ref.DirName())
	}
}

func TestParseReference_Invalid(t *testing.T) {
	for _, bad := range []string{"", "noTag", "image:", ":tag", "image:tag:extra", "BAD NAME:tag"} {
		if _, err := ParseReference(bad, "ghcr.io", "acme"); !errors.Is(err, types.ErrInvalidImageFormat) {
			t.Errorf("ParseReference(%q): expected ErrInvalidImageFormat, got %v", bad, err)
		}
	}
}

func TestLooksLikeReference(t *testing.T) {
	if !LooksLikeReference("ubuntu:24.04") {
		t.Error("expected ubuntu:24.04 to look like a reference")
	}
	if LooksLikeReference("my-vm") {
		t.Error("expected plain name to not look like a reference")
	}
}

func TestPartInfo(t *testing.T) {
	l := Layer{MediaType: PartMediaType(MediaTypeDisk, 3, 7)}
	num, total, ok := l.PartInfo()
	if !ok || num != 3 || total != 7 {
		t.Errorf("got num=%d total=%d ok=%v", num, total, ok)
	}
	if l.BaseMediaType() != MediaTypeDisk {
		t.Errorf("BaseMediaType() = %q", l.BaseMediaType())
	}

	whole := Layer{MediaType: MediaTypeDisk}
	if _, _, ok := whole.PartInfo(); ok {
		t.Error("whole-file layer reported part info")
	}
}

func TestDigestFileName(t *testing.T) {
	d := NewDigest("abc123")
	if d.String() != "sha256:abc123" {
		t.Errorf("String() = %q", d.String())
	}
	if d.FileName() != "sha256_abc123" {
		t.Errorf("FileName() = %q", d.FileName())
	}
	if d.Hex() != "abc123" {
		t.Errorf("Hex() = %q", d.Hex())
	}
}
