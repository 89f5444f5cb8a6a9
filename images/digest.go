package images

import (
	"fmt"
	"os"
	"strings"

	godigest "github.com/opencontainers/go-digest"
)

// Digest represents a content-addressable digest in "algorithm:hex" format
// (e.g., "sha256:abcdef..."). Backed by opencontainers/go-digest.
type Digest string

// NewDigest creates a Digest from a raw hex string, prefixing "sha256:".
func NewDigest(hex string) Digest {
	return Digest(godigest.NewDigestFromEncoded(godigest.SHA256, hex))
}

// DigestFile computes the canonical digest of a file's contents.
func DigestFile(path string) (Digest, error) {
	f, err := os.Open(path) //nolint:gosec // caller-controlled path
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck
	d, err := godigest.FromReader(f)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", path, err)
	}
	return Digest(d), nil
}

// Hex returns the hex portion of the digest, stripping the algorithm prefix.
func (d Digest) Hex() string {
	return godigest.Digest(d).Encoded()
}

// String returns the full digest string including the algorithm prefix.
func (d Digest) String() string {
	return string(d)
}

// FileName returns the digest as a filesystem-safe name, colon replaced by
// underscore. Used for layer blob files in the cache.
func (d Digest) FileName() string {
	return strings.ReplaceAll(string(d), ":", "_")
}
