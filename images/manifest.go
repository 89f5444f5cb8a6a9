package images

import (
	"fmt"
	"strconv"
	"strings"
)

// Media types for VM image layers. A disk too large for one blob is split
// into numbered fragments whose media type carries part.number/part.total
// annotations.
const (
	ManifestMediaType = "application/vnd.oci.image.manifest.v1+json"

	MediaTypeVMConfig = "application/vnd.cradle.vm.config.v1+json"
	MediaTypeDisk     = "application/vnd.cradle.vm.disk.v1"
	MediaTypeNVRAM    = "application/vnd.cradle.vm.nvram.v1"
)

// Layer is one content-addressed blob referenced by a manifest.
type Layer struct {
	MediaType string `json:"mediaType"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
}

// Manifest is the registry descriptor listing the layers composing an image.
type Manifest struct {
	SchemaVersion int     `json:"schemaVersion"`
	MediaType     string  `json:"mediaType"`
	Config        *Layer  `json:"config,omitempty"`
	Layers        []Layer `json:"layers"`
}

// TotalSize sums the declared sizes of all layers.
func (m *Manifest) TotalSize() (total int64) {
	for _, l := range m.Layers {
		total += l.Size
	}
	return total
}

// PartInfo extracts split-fragment numbering from a layer media type of the
// form "base;part.number=N;part.total=T". ok is false for whole-file layers.
func (l Layer) PartInfo() (num, total int, ok bool) {
	for field := range strings.SplitSeq(l.MediaType, ";") {
		k, v, found := strings.Cut(strings.TrimSpace(field), "=")
		if !found {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		switch k {
		case "part.number":
			num = n
		case "part.total":
			total = n
		}
	}
	return num, total, num > 0 && total > 0
}

// BaseMediaType strips any part annotations from the layer media type.
func (l Layer) BaseMediaType() string {
	base, _, _ := strings.Cut(l.MediaType, ";")
	return strings.TrimSpace(base)
}

// PartMediaType annotates a base media type with fragment numbering.
func PartMediaType(base string, num, total int) string {
	return fmt.Sprintf("%s;part.number=%d;part.total=%d", base, num, total)
}
