package images

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	godigest "github.com/opencontainers/go-digest"
)

const testToken = "test-token"

// fakeRegistry is an in-memory registry speaking the subset of the protocol
// the client uses: token endpoint, manifests, blob download/upload.
type fakeRegistry struct {
	t   *testing.T
	srv *httptest.Server

	mu              sync.Mutex
	blobs           map[string][]byte // digest → content
	manifests       map[string][]byte // "repo:tag" → raw manifest
	blobFailures    map[string]int    // digest → remaining injected 500s
	omitDigestHdr   bool
	tokenCalls      int
	blobUploads     int
	manifestUploads int
}

func newFakeRegistry(t *testing.T) *fakeRegistry {
	f := &fakeRegistry{
		t:            t,
		blobs:        make(map[string][]byte),
		manifests:    make(map[string][]byte),
		blobFailures: make(map[string]int),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRegistry) URL() string { return f.srv.URL }

func (f *fakeRegistry) addBlob(content []byte) string {
	d := godigest.FromBytes(content).String()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[d] = content
	return d
}

func (f *fakeRegistry) addManifest(repo, tag string, raw []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manifests[repo+":"+tag] = raw
}

func (f *fakeRegistry) failBlob(digest string, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobFailures[digest] = times
}

func (f *fakeRegistry) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/token" {
		f.mu.Lock()
		f.tokenCalls++
		f.mu.Unlock()
		if r.URL.Query().Get("scope") == "" {
			http.Error(w, "missing scope", http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, `{"token":%q}`, testToken)
		return
	}

	if r.Header.Get("Authorization") != "Bearer "+testToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 5 || parts[0] != "v2" {
		http.NotFound(w, r)
		return
	}
	repo, kind := parts[1]+"/"+parts[2], parts[3]

	switch {
	case kind == "manifests":
		f.handleManifest(w, r, repo, parts[4])
	case kind == "blobs" && parts[4] == "uploads":
		f.handleUpload(w, r, repo)
	case kind == "blobs":
		f.handleBlob(w, r, parts[4])
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeRegistry) handleManifest(w http.ResponseWriter, r *http.Request, repo, tag string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := repo + ":" + tag
	if r.Method == http.MethodPut {
		body, _ := io.ReadAll(r.Body)
		f.manifests[key] = body
		f.manifestUploads++
		w.WriteHeader(http.StatusCreated)
		return
	}
	raw, ok := f.manifests[key]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if !f.omitDigestHdr {
		w.Header().Set("Docker-Content-Digest", godigest.FromBytes(raw).String())
	}
	_, _ = w.Write(raw)
}

func (f *fakeRegistry) handleUpload(w http.ResponseWriter, r *http.Request, repo string) {
	switch r.Method {
	case http.MethodPost:
		w.Header().Set("Location", "/v2/"+repo+"/blobs/uploads/session")
		w.WriteHeader(http.StatusAccepted)
	case http.MethodPut:
		digest := r.URL.Query().Get("digest")
		body, _ := io.ReadAll(r.Body)
		if godigest.FromBytes(body).String() != digest {
			http.Error(w, "digest mismatch", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.blobs[digest] = body
		f.blobUploads++
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeRegistry) handleBlob(w http.ResponseWriter, r *http.Request, digest string) {
	f.mu.Lock()
	content, ok := f.blobs[digest]
	if left := f.blobFailures[digest]; ok && left > 0 && r.Method == http.MethodGet {
		f.blobFailures[digest] = left - 1
		f.mu.Unlock()
		http.Error(w, "transient", http.StatusInternalServerError)
		return
	}
	f.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", fmt.Sprint(len(content)))
		w.WriteHeader(http.StatusOK)
		return
	}
	_, _ = w.Write(content)
}
