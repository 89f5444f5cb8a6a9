// Package images pulls and pushes VM disk images as content-addressed,
// deduplicated layers against an OCI-style registry, with a persistent
// local cache keyed by manifest digest.
package images

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/projecteru2/core/log"

	"github.com/cradlevm/cradle/config"
	"github.com/cradlevm/cradle/storage"
	"github.com/cradlevm/cradle/types"
	"github.com/cradlevm/cradle/utils"
)

// inflightWait bounds how long one pull waits for another pull's in-flight
// download of the same digest before trying to download it itself.
const (
	inflightPollInterval = 500 * time.Millisecond
	inflightWaitTimeout  = 10 * time.Minute
)

// ProgressFunc receives running downloadedBytes/totalBytes updates as layers
// complete or are served from cache.
type ProgressFunc func(downloaded, total int64)

// Manager is the image registry client: pull, push, cache bookkeeping.
// One Manager serves all pulls/pushes in the process; the in-flight digest
// set deduplicates concurrent downloads of the same layer across pulls.
type Manager struct {
	conf   *config.Config
	client *Client
	cache  *Cache

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewManager creates a Manager talking to the given registry host.
func NewManager(conf *config.Config, registry string) *Manager {
	if registry == "" {
		registry = conf.Registry
	}
	return &Manager{
		conf:     conf,
		client:   NewClient(registry),
		cache:    NewCache(conf.CacheRoot(), conf.CacheEnabled),
		inflight: make(map[string]struct{}),
	}
}

// Client exposes the underlying registry client, mainly for download
// accounting in tests.
func (m *Manager) Client() *Client { return m.client }

// Cache exposes the layer cache for list/prune operations.
func (m *Manager) Cache() *Cache { return m.cache }

// Pull fetches ref into destDir (a VM directory path), using the local cache
// when the manifest is unchanged and every layer blob is present.
func (m *Manager) Pull(ctx context.Context, ref Reference, destDir string, progress ProgressFunc) error {
	logger := log.WithFunc("images.Pull")

	token, err := m.client.Token(ctx, ref.Repository(), "pull")
	if err != nil {
		return err
	}
	manifest, manifestID, rawManifest, err := m.client.Manifest(ctx, token, ref.Repository(), ref.Tag)
	if err != nil {
		return err
	}
	logger.Infof(ctx, "pulling %s (manifest %s, %d layers)", ref, manifestID, len(manifest.Layers))

	if m.cache.Validate(ref.Organization, manifestID, manifest) {
		logger.Infof(ctx, "cache hit for %s", ref)
		reportAll(progress, manifest)
		return m.install(ctx, m.cache.EntryDir(ref.Organization, manifestID), manifest, destDir)
	}

	// Miss: stage into the cache (or a throwaway dir when caching is off),
	// download layers, then install into the VM directory.
	stagingDir := m.cache.EntryDir(ref.Organization, manifestID)
	if m.cache.Enabled() {
		md := Metadata{Image: ref.Image, Tag: ref.Tag, CachedAt: time.Now().UTC()}
		if err := m.cache.WriteEntry(ref.Organization, manifestID, rawManifest, md); err != nil {
			return err
		}
	} else {
		stagingDir, err = os.MkdirTemp(m.conf.TempDir(), "pull-*")
		if err != nil {
			return fmt.Errorf("create staging dir: %w", err)
		}
		defer os.RemoveAll(stagingDir) //nolint:errcheck
	}

	if err := m.downloadLayers(ctx, token, ref, manifest, stagingDir, progress); err != nil {
		return err
	}
	if err := m.install(ctx, stagingDir, manifest, destDir); err != nil {
		return err
	}

	// Old cache entries for this repository are superseded only now that the
	// new entry is complete and installed.
	if m.cache.Enabled() {
		m.cache.EvictOthers(ctx, ref.Organization, ref.Image, manifestID)
	}
	logger.Infof(ctx, "pulled %s", ref)
	return nil
}

// downloadLayers fetches all layers into stagingDir with at most
// conf.PullConcurrency in flight, deduplicating concurrent downloads of the
// same digest across pulls.
func (m *Manager) downloadLayers(ctx context.Context, token string, ref Reference, manifest *Manifest, stagingDir string, progress ProgressFunc) error {
	logger := log.WithFunc("images.downloadLayers")

	pool, err := ants.NewPool(m.conf.PullConcurrency)
	if err != nil {
		return fmt.Errorf("create download pool: %w", err)
	}
	defer pool.Release()

	total := manifest.TotalSize()
	var downloaded atomic.Int64
	report := func(n int64) {
		done := downloaded.Add(n)
		if progress != nil {
			progress(done, total)
		}
		if total > 0 {
			logger.Infof(ctx, "%s: %d/%d bytes (%.1f%%)", ref, done, total, float64(done)/float64(total)*100) //nolint:mnd
		}
	}

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)
	for _, layer := range manifest.Layers {
		wg.Add(1)
		l := layer
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if err := m.fetchLayer(ctx, token, ref, l, filepath.Join(stagingDir, Digest(l.Digest).FileName())); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
				return
			}
			report(l.Size)
		})
		if submitErr != nil {
			wg.Done()
			errMu.Lock()
			errs = append(errs, fmt.Errorf("submit layer %s: %w", l.Digest, submitErr))
			errMu.Unlock()
		}
	}
	wg.Wait()

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// fetchLayer ensures one layer blob exists at dst: served from a previous
// download, awaited from a concurrent one, or fetched from the network.
// Dedup is best-effort: a duplicate download of the same digest is safe,
// only wasteful, and the first finisher wins the cache slot.
func (m *Manager) fetchLayer(ctx context.Context, token string, ref Reference, layer Layer, dst string) error {
	deadline := time.Now().Add(inflightWaitTimeout)
	for {
		if _, err := os.Stat(dst); err == nil {
			return nil
		}
		if m.beginDownload(layer.Digest) {
			err := m.client.DownloadLayer(ctx, token, ref.Repository(), layer, dst)
			m.endDownload(layer.Digest)
			return err
		}
		// Another pull is fetching this digest; wait for it to settle,
		// bounded, then re-check the file and re-contend.
		if time.Now().After(deadline) {
			return &types.LayerDownloadError{Digest: layer.Digest, Err: fmt.Errorf("timed out waiting for concurrent download")}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(inflightPollInterval):
		}
	}
}

func (m *Manager) beginDownload(digest string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[digest]; busy {
		return false
	}
	m.inflight[digest] = struct{}{}
	return true
}

func (m *Manager) endDownload(digest string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, digest)
}

// install copies an image's layers from the staging/cache directory into the
// VM directory, reassembling split disk fragments in ascending part order.
func (m *Manager) install(ctx context.Context, srcDir string, manifest *Manifest, destDir string) error {
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return fmt.Errorf("create VM dir: %w", err)
	}

	var (
		parts     []diskPart
		partTotal int
	)
	for _, layer := range manifest.Layers {
		src := filepath.Join(srcDir, Digest(layer.Digest).FileName())
		if num, total, ok := layer.PartInfo(); ok {
			parts = append(parts, diskPart{num: num, size: layer.Size, path: src})
			partTotal = total
			continue
		}
		var dstName string
		switch layer.BaseMediaType() {
		case MediaTypeVMConfig:
			dstName = storage.ConfigFileName
		case MediaTypeDisk:
			dstName = storage.DiskFileName
		case MediaTypeNVRAM:
			dstName = storage.NVRAMFileName
		default:
			log.WithFunc("images.install").Warnf(ctx, "skipping layer with unknown media type %q", layer.MediaType)
			continue
		}
		if err := installFile(src, filepath.Join(destDir, dstName), layer.MediaType); err != nil {
			return err
		}
	}

	if len(parts) == 0 {
		return nil
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].num < parts[j].num })
	var declared int64
	for i, p := range parts {
		if p.num != i+1 {
			return &types.MissingPartError{Part: i + 1, Total: partTotal}
		}
		declared += p.size
	}
	if len(parts) != partTotal {
		return &types.MissingPartError{Part: len(parts) + 1, Total: partTotal}
	}
	return assembleDisk(parts, declared, filepath.Join(destDir, storage.DiskFileName))
}

// diskPart is one split-disk fragment staged for reassembly.
type diskPart struct {
	num  int
	size int64
	path string
}

// assembleDisk concatenates the ordered fragments into a single disk image
// via chunked streaming copy, then verifies the final size against the sum
// of the declared part sizes. A mismatch is fatal: a truncated disk must
// never be silently accepted.
func assembleDisk(parts []diskPart, declared int64, dst string) error {
	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	buf := make([]byte, utils.CopyChunkSize)
	for _, p := range parts {
		in, err := os.Open(p.path) //nolint:gosec // cache-internal path
		if err != nil {
			_ = out.Close()
			_ = os.Remove(tmp)
			return fmt.Errorf("open part %d: %w", p.num, err)
		}
		_, copyErr := io.CopyBuffer(out, in, buf)
		_ = in.Close()
		if copyErr != nil {
			_ = out.Close()
			_ = os.Remove(tmp)
			return fmt.Errorf("assemble part %d: %w", p.num, copyErr)
		}
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	info, err := os.Stat(tmp)
	if err != nil {
		return fmt.Errorf("stat %s: %w", tmp, err)
	}
	if info.Size() != declared {
		_ = os.Remove(tmp)
		return &types.SizeMismatchError{Got: info.Size(), Want: declared}
	}
	return os.Rename(tmp, dst)
}

// installFile copies one whole-file layer into the VM directory, streaming
// through gzip when the media type is compressed.
func installFile(src, dst, mediaType string) error {
	if !strings.Contains(mediaType, "+gzip") {
		return utils.CopyFile(src, dst, 0o600)
	}
	in, err := os.Open(src) //nolint:gosec // cache-internal path
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close() //nolint:errcheck
	gz, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrDecompression, err)
	}
	defer gz.Close() //nolint:errcheck
	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	buf := make([]byte, utils.CopyChunkSize)
	if _, err := io.CopyBuffer(out, gz, buf); err != nil { //nolint:gosec // bounded by source blob
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %v", types.ErrDecompression, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	return os.Rename(tmp, dst)
}

// reportAll marks every layer as already present for progress reporting on a
// cache hit.
func reportAll(progress ProgressFunc, manifest *Manifest) {
	if progress == nil {
		return
	}
	total := manifest.TotalSize()
	progress(total, total)
}
