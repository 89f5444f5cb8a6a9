package images

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	godigest "github.com/opencontainers/go-digest"
	"github.com/projecteru2/core/log"

	"github.com/cradlevm/cradle/types"
	"github.com/cradlevm/cradle/utils"
)

const (
	digestHeader = "Docker-Content-Digest"

	// Per-layer download retry policy: up to 5 attempts with linearly
	// increasing backoff (attempt × backoffUnit).
	layerRetries = 5
)

// Client speaks the registry HTTP protocol: token, manifests, blobs.
type Client struct {
	base        string // scheme://host
	service     string // token service name, the bare registry host
	hc          *http.Client
	backoffUnit time.Duration

	downloads atomic.Int64
}

// NewClient creates a Client for the given registry host. A host without an
// explicit scheme is assumed to be HTTPS.
func NewClient(registry string) *Client {
	base := registry
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return &Client{
		base:        strings.TrimSuffix(base, "/"),
		service:     hostOnly(registry),
		hc:          &http.Client{Timeout: 10 * time.Minute},
		backoffUnit: 5 * time.Second,
	}
}

// DownloadCount reports how many layer blobs were actually transferred over
// the network, as opposed to served from cache or deduplicated.
func (c *Client) DownloadCount() int64 {
	return c.downloads.Load()
}

// Token fetches a short-lived bearer token scoped to the repository.
// scope is "pull" or "pull,push".
func (c *Client) Token(ctx context.Context, repository, scope string) (string, error) {
	u := fmt.Sprintf("%s/token?service=%s&scope=%s", c.base,
		url.QueryEscape(c.service),
		url.QueryEscape(fmt.Sprintf("repository:%s:%s", repository, scope)))

	body, err := utils.DoWithRetry(ctx, func() ([]byte, error) {
		b, _, err := utils.DoAPI(ctx, c.hc, http.MethodGet, u, nil, nil, http.StatusOK)
		return b, err
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", types.ErrTokenFetch, repository, err)
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Token == "" {
		return "", fmt.Errorf("%w: %s: bad token response", types.ErrTokenFetch, repository)
	}
	return resp.Token, nil
}

// Manifest fetches the manifest for a tag. The registry's Docker-Content-Digest
// response header is the authoritative manifest id; its absence is an error.
// The raw body is returned alongside the parsed form for byte-level cache
// comparison.
func (c *Client) Manifest(ctx context.Context, token, repository, tag string) (*Manifest, string, []byte, error) {
	u := fmt.Sprintf("%s/v2/%s/manifests/%s", c.base, repository, tag)
	headers := map[string]string{
		"Accept":        ManifestMediaType,
		"Authorization": "Bearer " + token,
	}
	type manifestResp struct {
		body    []byte
		headers http.Header
	}
	res, err := utils.DoWithRetry(ctx, func() (manifestResp, error) {
		b, h, err := utils.DoAPI(ctx, c.hc, http.MethodGet, u, headers, nil, http.StatusOK)
		return manifestResp{body: b, headers: h}, err
	})
	body, respHeaders := res.body, res.headers
	if err != nil {
		return nil, "", nil, fmt.Errorf("%w: %s:%s: %v", types.ErrManifestFetch, repository, tag, err)
	}
	manifestID := respHeaders.Get(digestHeader)
	if manifestID == "" {
		return nil, "", nil, fmt.Errorf("%w: %s:%s: missing %s header", types.ErrManifestFetch, repository, tag, digestHeader)
	}
	m := &Manifest{}
	if err := json.Unmarshal(body, m); err != nil {
		return nil, "", nil, fmt.Errorf("%w: %s:%s: parse: %v", types.ErrManifestFetch, repository, tag, err)
	}
	return m, manifestID, body, nil
}

// DownloadLayer fetches one blob into dst, retrying with linear backoff and
// verifying the content digest while streaming. The blob lands at dst via a
// temp-then-rename move so concurrent readers never see a partial file.
func (c *Client) DownloadLayer(ctx context.Context, token, repository string, layer Layer, dst string) error {
	logger := log.WithFunc("images.DownloadLayer")

	var lastErr error
	for attempt := 1; attempt <= layerRetries; attempt++ {
		if err := c.downloadOnce(ctx, token, repository, layer, dst); err != nil {
			lastErr = err
			if attempt < layerRetries {
				backoff := time.Duration(attempt) * c.backoffUnit
				logger.Warnf(ctx, "layer %s attempt %d/%d failed: %v, retrying in %s",
					layer.Digest, attempt, layerRetries, err, backoff)
				select {
				case <-ctx.Done():
					return &types.LayerDownloadError{Digest: layer.Digest, Err: ctx.Err()}
				case <-time.After(backoff):
				}
			}
			continue
		}
		return nil
	}
	return &types.LayerDownloadError{Digest: layer.Digest, Err: lastErr}
}

func (c *Client) downloadOnce(ctx context.Context, token, repository string, layer Layer, dst string) error {
	u := fmt.Sprintf("%s/v2/%s/blobs/%s", c.base, repository, layer.Digest)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return &utils.APIError{Code: resp.StatusCode, Message: fmt.Sprintf("GET %s → %d", u, resp.StatusCode)}
	}
	c.downloads.Add(1)

	expected, err := godigest.Parse(layer.Digest)
	if err != nil {
		return fmt.Errorf("bad layer digest %q: %w", layer.Digest, err)
	}
	verifier := expected.Verifier()

	tmp := dst + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	buf := make([]byte, utils.CopyChunkSize)
	_, copyErr := io.CopyBuffer(io.MultiWriter(f, verifier), resp.Body, buf)
	closeErr := f.Close()
	if copyErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("stream blob: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, closeErr)
	}
	if !verifier.Verified() {
		_ = os.Remove(tmp)
		return fmt.Errorf("digest mismatch for %s", layer.Digest)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("move blob into place: %w", err)
	}
	return nil
}

// BlobExists checks whether the registry already has a blob.
func (c *Client) BlobExists(ctx context.Context, token, repository, digest string) (bool, error) {
	u := fmt.Sprintf("%s/v2/%s/blobs/%s", c.base, repository, digest)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.hc.Do(req)
	if err != nil {
		return false, fmt.Errorf("HEAD %s: %w", u, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, &utils.APIError{Code: resp.StatusCode, Message: fmt.Sprintf("HEAD %s → %d", u, resp.StatusCode)}
	}
}

// UploadBlob pushes one blob: start an upload session, then a monolithic PUT.
func (c *Client) UploadBlob(ctx context.Context, token, repository, digest, path string) error {
	startURL := fmt.Sprintf("%s/v2/%s/blobs/uploads/", c.base, repository)
	_, headers, err := utils.DoAPI(ctx, c.hc, http.MethodPost, startURL,
		map[string]string{"Authorization": "Bearer " + token}, nil, http.StatusAccepted)
	if err != nil {
		return fmt.Errorf("start upload for %s: %w", digest, err)
	}
	loc := headers.Get("Location")
	if loc == "" {
		return fmt.Errorf("start upload for %s: missing Location header", digest)
	}
	putURL, err := c.resolveLocation(loc, digest)
	if err != nil {
		return err
	}

	f, err := os.Open(path) //nolint:gosec // staged upload file
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, putURL, f)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = info.Size()

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", digest, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	rb, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return &utils.APIError{Code: resp.StatusCode, Message: fmt.Sprintf("PUT %s → %d: %s", putURL, resp.StatusCode, rb)}
	}
	return nil
}

// PutManifest publishes a manifest under a tag.
func (c *Client) PutManifest(ctx context.Context, token, repository, tag string, manifest []byte) error {
	u := fmt.Sprintf("%s/v2/%s/manifests/%s", c.base, repository, tag)
	headers := map[string]string{
		"Authorization": "Bearer " + token,
		"Content-Type":  ManifestMediaType,
	}
	if _, _, err := utils.DoAPI(ctx, c.hc, http.MethodPut, u, headers, manifest, http.StatusCreated); err != nil {
		return fmt.Errorf("put manifest %s:%s: %w", repository, tag, err)
	}
	return nil
}

// resolveLocation turns a possibly relative upload Location into an absolute
// URL with the digest query parameter appended.
func (c *Client) resolveLocation(loc, digest string) (string, error) {
	base, err := url.Parse(c.base)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	u, err := base.Parse(loc)
	if err != nil {
		return "", fmt.Errorf("parse upload location %q: %w", loc, err)
	}
	q := u.Query()
	q.Set("digest", digest)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
