package images

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/projecteru2/core/log"
	"golang.org/x/sync/errgroup"

	"github.com/cradlevm/cradle/storage"
	"github.com/cradlevm/cradle/types"
	"github.com/cradlevm/cradle/utils"
)

// PushOptions controls a push.
type PushOptions struct {
	// Tags to publish the manifest under. At least one is required.
	Tags []string
	// ChunkSizeMB is the split threshold and fragment size for disk.img.
	// Zero means the configured default.
	ChunkSizeMB int
	// DryRun validates inputs and logs the upload plan without transferring.
	DryRun bool
}

// pushLayer pairs a manifest layer with the staged file backing it.
type pushLayer struct {
	Layer
	path string
}

// Push publishes a VM directory's image files (disk chunks, config, nvram)
// as a tagged manifest.
func (m *Manager) Push(ctx context.Context, ref Reference, dir storage.VMDirectory, opts PushOptions) error {
	logger := log.WithFunc("images.Push")

	if len(opts.Tags) == 0 {
		return &types.ValidationError{Field: "tags", Msg: "at least one tag required"}
	}
	if !dir.Initialized() {
		return fmt.Errorf("%s: %w", dir.Name, types.ErrNotInitialized)
	}
	chunkSize := int64(opts.ChunkSizeMB)
	if chunkSize <= 0 {
		chunkSize = int64(m.conf.ChunkSizeMB)
	}
	chunkSize *= 1024 * 1024

	stagingDir, err := os.MkdirTemp(m.conf.TempDir(), "push-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir) //nolint:errcheck

	layers, err := stageLayers(dir, stagingDir, chunkSize)
	if err != nil {
		return err
	}

	if opts.DryRun {
		for _, l := range layers {
			logger.Infof(ctx, "dry run: would upload %s (%s, %d bytes)", l.Digest, l.MediaType, l.Size)
		}
		logger.Infof(ctx, "dry run: would publish %s under tags %v", ref.Repository(), opts.Tags)
		return nil
	}

	token, err := m.client.Token(ctx, ref.Repository(), "pull,push")
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.conf.PullConcurrency)
	for _, l := range layers {
		g.Go(func() error {
			exists, err := m.client.BlobExists(gctx, token, ref.Repository(), l.Digest)
			if err != nil {
				return err
			}
			if exists {
				logger.Infof(gctx, "layer %s already present, skipping", l.Digest)
				return nil
			}
			logger.Infof(gctx, "uploading %s (%d bytes)", l.Digest, l.Size)
			return m.client.UploadBlob(gctx, token, ref.Repository(), l.Digest, l.path)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	manifest := Manifest{
		SchemaVersion: 2, //nolint:mnd
		MediaType:     ManifestMediaType,
		Layers:        make([]Layer, 0, len(layers)),
	}
	for _, l := range layers {
		manifest.Layers = append(manifest.Layers, l.Layer)
	}
	raw, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	for _, tag := range opts.Tags {
		if err := m.client.PutManifest(ctx, token, ref.Repository(), tag, raw); err != nil {
			return err
		}
		logger.Infof(ctx, "published %s/%s:%s", ref.Organization, ref.Image, tag)
	}
	return nil
}

// stageLayers builds the upload plan: the disk image (split into fixed-size
// fragments when it exceeds chunkSize), the config, and the nvram store.
func stageLayers(dir storage.VMDirectory, stagingDir string, chunkSize int64) ([]pushLayer, error) {
	var layers []pushLayer

	if info, err := os.Stat(dir.DiskPath()); err == nil {
		diskLayers, err := stageDisk(dir.DiskPath(), stagingDir, info.Size(), chunkSize)
		if err != nil {
			return nil, err
		}
		layers = append(layers, diskLayers...)
	}

	for _, f := range []struct {
		path, mediaType string
	}{
		{dir.ConfigPath(), MediaTypeVMConfig},
		{dir.NVRAMPath(), MediaTypeNVRAM},
	} {
		info, err := os.Stat(f.path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", f.path, err)
		}
		d, err := DigestFile(f.path)
		if err != nil {
			return nil, err
		}
		layers = append(layers, pushLayer{
			Layer: Layer{MediaType: f.mediaType, Digest: d.String(), Size: info.Size()},
			path:  f.path,
		})
	}
	return layers, nil
}

// stageDisk splits disk.img into numbered chunk files in stagingDir when it
// exceeds chunkSize; otherwise the whole file is one layer.
func stageDisk(diskPath, stagingDir string, size, chunkSize int64) ([]pushLayer, error) {
	if size <= chunkSize {
		d, err := DigestFile(diskPath)
		if err != nil {
			return nil, err
		}
		return []pushLayer{{
			Layer: Layer{MediaType: MediaTypeDisk, Digest: d.String(), Size: size},
			path:  diskPath,
		}}, nil
	}

	total := int((size + chunkSize - 1) / chunkSize)
	in, err := os.Open(diskPath) //nolint:gosec // VM-directory path
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", diskPath, err)
	}
	defer in.Close() //nolint:errcheck

	layers := make([]pushLayer, 0, total)
	for num := 1; num <= total; num++ {
		chunkPath := filepath.Join(stagingDir, fmt.Sprintf("disk.part%d", num))
		written, err := writeChunk(in, chunkPath, chunkSize)
		if err != nil {
			return nil, fmt.Errorf("stage disk part %d: %w", num, err)
		}
		d, err := DigestFile(chunkPath)
		if err != nil {
			return nil, err
		}
		layers = append(layers, pushLayer{
			Layer: Layer{
				MediaType: PartMediaType(MediaTypeDisk, num, total),
				Digest:    d.String(),
				Size:      written,
			},
			path: chunkPath,
		})
	}
	return layers, nil
}

func writeChunk(in io.Reader, path string, limit int64) (int64, error) {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec
	if err != nil {
		return 0, err
	}
	buf := make([]byte, utils.CopyChunkSize)
	written, copyErr := io.CopyBuffer(out, io.LimitReader(in, limit), buf)
	closeErr := out.Close()
	if copyErr != nil {
		return 0, copyErr
	}
	return written, closeErr
}
