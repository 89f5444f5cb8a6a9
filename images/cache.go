package images

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/cradlevm/cradle/types"
)

const (
	cacheManifestFile = "manifest.json"
	cacheMetadataFile = "metadata.json"
)

// Metadata records which image:tag a cache entry corresponds to and when it
// was cached. Used to evict superseded entries for the same repository.
type Metadata struct {
	Image    string    `json:"image"`
	Tag      string    `json:"tag"`
	CachedAt time.Time `json:"cached_at"`
}

// Cache is the persistent local layer cache, keyed by manifest digest:
// {root}/{organization}/{manifestId}/ holds manifest.json, metadata.json,
// and one file per layer digest.
type Cache struct {
	root    string
	enabled bool
}

// NewCache creates a Cache rooted at root.
func NewCache(root string, enabled bool) *Cache {
	return &Cache{root: root, enabled: enabled}
}

// Enabled reports whether caching is turned on.
func (c *Cache) Enabled() bool { return c.enabled }

// EntryDir is the directory for one cached manifest.
func (c *Cache) EntryDir(organization, manifestID string) string {
	return filepath.Join(c.root, organization, Digest(manifestID).FileName())
}

// LayerPath is the blob file for one layer inside a cache entry.
func (c *Cache) LayerPath(organization, manifestID, layerDigest string) string {
	return filepath.Join(c.EntryDir(organization, manifestID), Digest(layerDigest).FileName())
}

// Validate reports a cache hit: the saved manifest's layer list must be
// byte-identical to the freshly fetched one AND every layer blob must
// physically exist. Any mismatch is a full miss; no partial reuse across a
// changed manifest.
func (c *Cache) Validate(organization, manifestID string, fresh *Manifest) bool {
	if !c.enabled {
		return false
	}
	dir := c.EntryDir(organization, manifestID)
	saved, err := os.ReadFile(filepath.Join(dir, cacheManifestFile))
	if err != nil {
		return false
	}
	savedManifest := &Manifest{}
	if err := json.Unmarshal(saved, savedManifest); err != nil {
		return false
	}
	savedLayers, err1 := json.Marshal(savedManifest.Layers)
	freshLayers, err2 := json.Marshal(fresh.Layers)
	if err1 != nil || err2 != nil || !bytes.Equal(savedLayers, freshLayers) {
		return false
	}
	for _, layer := range fresh.Layers {
		if _, err := os.Stat(c.LayerPath(organization, manifestID, layer.Digest)); err != nil {
			return false
		}
	}
	return true
}

// WriteEntry creates the cache entry directory and persists the manifest and
// image metadata for it. Layer blobs are added separately as they complete.
func (c *Cache) WriteEntry(organization, manifestID string, rawManifest []byte, md Metadata) error {
	dir := c.EntryDir(organization, manifestID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create cache entry: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, cacheManifestFile), rawManifest, 0o600); err != nil {
		return fmt.Errorf("write cached manifest: %w", err)
	}
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, cacheMetadataFile), data, 0o600); err != nil {
		return fmt.Errorf("write cache metadata: %w", err)
	}
	return nil
}

// EvictOthers removes cache entries for the same repository under a
// different manifest id. Called only after the new entry is fully written
// and validated, so a concurrent reader of the old entry has already been
// superseded rather than raced mid-write.
func (c *Cache) EvictOthers(ctx context.Context, organization, image, keepManifestID string) {
	logger := log.WithFunc("images.EvictOthers")
	orgDir := filepath.Join(c.root, organization)
	entries, err := os.ReadDir(orgDir)
	if err != nil {
		return
	}
	keep := Digest(keepManifestID).FileName()
	for _, e := range entries {
		if !e.IsDir() || e.Name() == keep {
			continue
		}
		md, err := c.readMetadata(filepath.Join(orgDir, e.Name()))
		if err != nil || md.Image != image {
			continue
		}
		if err := os.RemoveAll(filepath.Join(orgDir, e.Name())); err != nil {
			logger.Warnf(ctx, "evict cache entry %s: %v", e.Name(), err)
			continue
		}
		logger.Infof(ctx, "evicted superseded cache entry for %s:%s", md.Image, md.Tag)
	}
}

// List returns every cached image across all organizations.
func (c *Cache) List() ([]types.CachedImage, error) {
	orgs, err := os.ReadDir(c.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache root: %w", err)
	}
	var result []types.CachedImage
	for _, org := range orgs {
		if !org.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(c.root, org.Name()))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			entryPath := filepath.Join(c.root, org.Name(), e.Name())
			md, err := c.readMetadata(entryPath)
			if err != nil {
				continue
			}
			result = append(result, types.CachedImage{
				Repository: org.Name() + "/" + md.Image,
				Tag:        md.Tag,
				ManifestID: e.Name(),
				Size:       dirSize(entryPath),
			})
		}
	}
	return result, nil
}

// Prune clears the entire layer cache.
func (c *Cache) Prune() error {
	if err := os.RemoveAll(c.root); err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	return os.MkdirAll(c.root, 0o750)
}

func (c *Cache) readMetadata(entryPath string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(entryPath, cacheMetadataFile))
	if err != nil {
		return nil, err
	}
	md := &Metadata{}
	if err := json.Unmarshal(data, md); err != nil {
		return nil, err
	}
	return md, nil
}

func dirSize(path string) (total int64) {
	entries, _ := os.ReadDir(path)
	for _, e := range entries {
		if info, err := e.Info(); err == nil && e.Type().IsRegular() {
			total += info.Size()
		}
	}
	return total
}
