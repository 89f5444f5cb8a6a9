package images

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"
)

func cacheManifest(t *testing.T, layers []Layer) []byte {
	t.Helper()
	raw, err := json.Marshal(Manifest{SchemaVersion: 2, MediaType: ManifestMediaType, Layers: layers})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func writeCacheBlobs(t *testing.T, c *Cache, org, manifestID string, layers []Layer) {
	t.Helper()
	for _, l := range layers {
		if err := os.WriteFile(c.LayerPath(org, manifestID, l.Digest), []byte("blob"), 0o600); err != nil {
			t.Fatalf("write blob: %v", err)
		}
	}
}

func TestCacheValidate(t *testing.T) {
	c := NewCache(t.TempDir(), true)
	layers := []Layer{
		{MediaType: MediaTypeDisk, Digest: "sha256:d1", Size: 4},
		{MediaType: MediaTypeVMConfig, Digest: "sha256:c1", Size: 4},
	}
	raw := cacheManifest(t, layers)
	fresh := &Manifest{Layers: layers}

	if c.Validate("acme", "sha256:m1", fresh) {
		t.Error("validated a nonexistent entry")
	}

	md := Metadata{Image: "box", Tag: "v1", CachedAt: time.Now().UTC()}
	if err := c.WriteEntry("acme", "sha256:m1", raw, md); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	if c.Validate("acme", "sha256:m1", fresh) {
		t.Error("validated an entry with missing blobs")
	}

	writeCacheBlobs(t, c, "acme", "sha256:m1", layers)
	if !c.Validate("acme", "sha256:m1", fresh) {
		t.Error("expected hit for complete entry")
	}

	// A changed layer list is a full miss even with all blobs present.
	changed := &Manifest{Layers: []Layer{layers[0]}}
	if c.Validate("acme", "sha256:m1", changed) {
		t.Error("validated against a different layer list")
	}
}

func TestCacheValidate_Disabled(t *testing.T) {
	c := NewCache(t.TempDir(), false)
	layers := []Layer{{MediaType: MediaTypeDisk, Digest: "sha256:d1", Size: 4}}
	if err := c.WriteEntry("acme", "sha256:m1", cacheManifest(t, layers), Metadata{Image: "box"}); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	writeCacheBlobs(t, c, "acme", "sha256:m1", layers)
	if c.Validate("acme", "sha256:m1", &Manifest{Layers: layers}) {
		t.Error("disabled cache reported a hit")
	}
}

func TestCacheEvictOthers(t *testing.T) {
	c := NewCache(t.TempDir(), true)
	layers := []Layer{{MediaType: MediaTypeDisk, Digest: "sha256:d1", Size: 4}}
	raw := cacheManifest(t, layers)

	for id, md := range map[string]Metadata{
		"sha256:old":   {Image: "box", Tag: "v1"},
		"sha256:new":   {Image: "box", Tag: "v2"},
		"sha256:other": {Image: "different", Tag: "v1"},
	} {
		if err := c.WriteEntry("acme", id, raw, md); err != nil {
			t.Fatalf("write %s: %v", id, err)
		}
	}

	c.EvictOthers(context.Background(), "acme", "box", "sha256:new")

	if _, err := os.Stat(c.EntryDir("acme", "sha256:old")); !os.IsNotExist(err) {
		t.Error("superseded entry survived eviction")
	}
	if _, err := os.Stat(c.EntryDir("acme", "sha256:new")); err != nil {
		t.Error("kept entry was evicted")
	}
	if _, err := os.Stat(c.EntryDir("acme", "sha256:other")); err != nil {
		t.Error("unrelated image was evicted")
	}
}

func TestCacheListAndPrune(t *testing.T) {
	c := NewCache(t.TempDir(), true)
	layers := []Layer{{MediaType: MediaTypeDisk, Digest: "sha256:d1", Size: 4}}
	if err := c.WriteEntry("acme", "sha256:m1", cacheManifest(t, layers), Metadata{Image: "box", Tag: "v1"}); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	writeCacheBlobs(t, c, "acme", "sha256:m1", layers)

	imgs, err := c.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(imgs) != 1 {
		t.Fatalf("expected 1 image, got %d", len(imgs))
	}
	if imgs[0].Repository != "acme/box" || imgs[0].Tag != "v1" {
		t.Errorf("got %+v", imgs[0])
	}
	if imgs[0].Size == 0 {
		t.Error("expected nonzero entry size")
	}

	if err := c.Prune(); err != nil {
		t.Fatalf("prune: %v", err)
	}
	imgs, err = c.List()
	if err != nil {
		t.Fatalf("list after prune: %v", err)
	}
	if len(imgs) != 0 {
		t.Errorf("expected empty cache after prune, got %d entries", len(imgs))
	}
	// Root must be recreated so subsequent pulls can stage.
	if _, err := os.Stat(c.root); err != nil {
		t.Errorf("cache root missing after prune: %v", err)
	}
}
