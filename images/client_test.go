package images

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	godigest "github.com/opencontainers/go-digest"

	"github.com/cradlevm/cradle/types"
)

func testClient(reg *fakeRegistry) *Client {
	c := NewClient(reg.URL())
	c.backoffUnit = time.Millisecond
	return c
}

// --- Token ---

func TestToken(t *testing.T) {
	reg := newFakeRegistry(t)
	c := testClient(reg)

	tok, err := c.Token(context.Background(), "acme/box", "pull")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok != testToken {
		t.Errorf("expected %q, got %q", testToken, tok)
	}
}

func TestToken_ServerError(t *testing.T) {
	reg := newFakeRegistry(t)
	c := NewClient(reg.URL() + "/missing")
	c.backoffUnit = time.Millisecond

	_, err := c.Token(context.Background(), "acme/box", "pull")
	if !errors.Is(err, types.ErrTokenFetch) {
		t.Errorf("expected ErrTokenFetch, got %v", err)
	}
}

// --- Manifest ---

func TestManifest(t *testing.T) {
	reg := newFakeRegistry(t)
	c := testClient(reg)

	raw, _ := json.Marshal(Manifest{
		SchemaVersion: 2,
		MediaType:     ManifestMediaType,
		Layers:        []Layer{{MediaType: MediaTypeDisk, Digest: "sha256:abc", Size: 10}},
	})
	reg.addManifest("acme/box", "latest", raw)

	m, id, body, err := c.Manifest(context.Background(), testToken, "acme/box", "latest")
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if id != godigest.FromBytes(raw).String() {
		t.Errorf("manifest id %q does not match content digest", id)
	}
	if len(m.Layers) != 1 || m.Layers[0].Digest != "sha256:abc" {
		t.Errorf("unexpected layers: %+v", m.Layers)
	}
	if string(body) != string(raw) {
		t.Error("raw body differs from stored manifest")
	}
}

func TestManifest_MissingDigestHeader(t *testing.T) {
	reg := newFakeRegistry(t)
	reg.omitDigestHdr = true
	c := testClient(reg)
	reg.addManifest("acme/box", "latest", []byte(`{"schemaVersion":2}`))

	_, _, _, err := c.Manifest(context.Background(), testToken, "acme/box", "latest")
	if !errors.Is(err, types.ErrManifestFetch) {
		t.Errorf("expected ErrManifestFetch, got %v", err)
	}
}

func TestManifest_NotFound(t *testing.T) {
	reg := newFakeRegistry(t)
	c := testClient(reg)

	_, _, _, err := c.Manifest(context.Background(), testToken, "acme/box", "nope")
	if !errors.Is(err, types.ErrManifestFetch) {
		t.Errorf("expected ErrManifestFetch, got %v", err)
	}
}

// --- DownloadLayer ---

func TestDownloadLayer_VerifiesDigest(t *testing.T) {
	reg := newFakeRegistry(t)
	c := testClient(reg)
	content := []byte("layer content")
	digest := reg.addBlob(content)
	dst := filepath.Join(t.TempDir(), "blob")

	err := c.DownloadLayer(context.Background(), testToken, "acme/box",
		Layer{MediaType: MediaTypeDisk, Digest: digest, Size: int64(len(content))}, dst)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read dst: %v", err)
	}
	if string(got) != string(content) {
		t.Error("downloaded content differs")
	}
	if c.DownloadCount() != 1 {
		t.Errorf("expected 1 download, got %d", c.DownloadCount())
	}
}

func TestDownloadLayer_RetriesTransientFailures(t *testing.T) {
	reg := newFakeRegistry(t)
	c := testClient(reg)
	content := []byte("flaky layer")
	digest := reg.addBlob(content)
	reg.failBlob(digest, 2)
	dst := filepath.Join(t.TempDir(), "blob")

	err := c.DownloadLayer(context.Background(), testToken, "acme/box",
		Layer{Digest: digest, Size: int64(len(content))}, dst)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
}

func TestDownloadLayer_ExhaustsRetries(t *testing.T) {
	reg := newFakeRegistry(t)
	c := testClient(reg)
	content := []byte("dead layer")
	digest := reg.addBlob(content)
	reg.failBlob(digest, layerRetries) // one failure per attempt
	dst := filepath.Join(t.TempDir(), "blob")

	err := c.DownloadLayer(context.Background(), testToken, "acme/box",
		Layer{Digest: digest, Size: int64(len(content))}, dst)
	var lde *types.LayerDownloadError
	if !errors.As(err, &lde) {
		t.Fatalf("expected LayerDownloadError, got %v", err)
	}
	if lde.Digest != digest {
		t.Errorf("error names digest %q, want %q", lde.Digest, digest)
	}
	if _, statErr := os.Stat(dst); !os.IsNotExist(statErr) {
		t.Error("failed download left a file behind")
	}
}

func TestDownloadLayer_RejectsCorruptContent(t *testing.T) {
	reg := newFakeRegistry(t)
	c := testClient(reg)
	// Register content under the digest of different bytes.
	wrongDigest := godigest.FromBytes([]byte("expected")).String()
	reg.mu.Lock()
	reg.blobs[wrongDigest] = []byte("actual")
	reg.mu.Unlock()
	dst := filepath.Join(t.TempDir(), "blob")

	err := c.DownloadLayer(context.Background(), testToken, "acme/box",
		Layer{Digest: wrongDigest, Size: 6}, dst)
	var lde *types.LayerDownloadError
	if !errors.As(err, &lde) {
		t.Fatalf("expected LayerDownloadError for corrupt content, got %v", err)
	}
	if _, statErr := os.Stat(dst); !os.IsNotExist(statErr) {
		t.Error("corrupt download left a file behind")
	}
}

// --- BlobExists / UploadBlob / PutManifest ---

func TestBlobExists(t *testing.T) {
	reg := newFakeRegistry(t)
	c := testClient(reg)
	digest := reg.addBlob([]byte("present"))

	ok, err := c.BlobExists(context.Background(), testToken, "acme/box", digest)
	if err != nil || !ok {
		t.Errorf("expected present blob, got ok=%v err=%v", ok, err)
	}
	ok, err = c.BlobExists(context.Background(), testToken, "acme/box", "sha256:0000")
	if err != nil || ok {
		t.Errorf("expected missing blob, got ok=%v err=%v", ok, err)
	}
}

func TestUploadBlob_AndPutManifest(t *testing.T) {
	reg := newFakeRegistry(t)
	c := testClient(reg)

	path := filepath.Join(t.TempDir(), "payload")
	content := []byte("uploaded bytes")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	digest := godigest.FromBytes(content).String()

	if err := c.UploadBlob(context.Background(), testToken, "acme/box", digest, path); err != nil {
		t.Fatalf("upload: %v", err)
	}
	reg.mu.Lock()
	stored := reg.blobs[digest]
	reg.mu.Unlock()
	if string(stored) != string(content) {
		t.Error("uploaded blob content differs")
	}

	raw := []byte(`{"schemaVersion":2}`)
	if err := c.PutManifest(context.Background(), testToken, "acme/box", "v1", raw); err != nil {
		t.Fatalf("put manifest: %v", err)
	}
	reg.mu.Lock()
	storedManifest := reg.manifests["acme/box:v1"]
	reg.mu.Unlock()
	if string(storedManifest) != string(raw) {
		t.Error("stored manifest differs")
	}
}
