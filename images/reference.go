package images

import (
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"

	"github.com/cradlevm/cradle/types"
)

// Reference identifies one image in a registry: registry host, organization,
// image name, and tag.
type Reference struct {
	Registry     string
	Organization string
	Image        string
	Tag          string
}

// ParseReference splits an "image:tag" string and validates the resulting
// fully qualified reference.
func ParseReference(s, registry, organization string) (Reference, error) {
	img, tag, ok := strings.Cut(s, ":")
	if !ok || img == "" || tag == "" || strings.Contains(tag, ":") {
		return Reference{}, fmt.Errorf("%q: %w", s, types.ErrInvalidImageFormat)
	}
	ref := Reference{
		Registry:     registry,
		Organization: organization,
		Image:        img,
		Tag:          tag,
	}
	if _, err := name.NewTag(fmt.Sprintf("%s/%s:%s", hostOnly(registry), ref.Repository(), tag)); err != nil {
		return Reference{}, fmt.Errorf("%q: %w", s, types.ErrInvalidImageFormat)
	}
	return ref, nil
}

// LooksLikeReference reports whether s parses as an image:tag reference.
// Used by run to decide between a plain VM name and an auto-pull target.
func LooksLikeReference(s string) bool {
	_, err := ParseReference(s, "registry.invalid", "org")
	return err == nil
}

// Repository returns the "{organization}/{image}" path used in registry URLs
// and token scopes.
func (r Reference) Repository() string {
	return r.Organization + "/" + r.Image
}

// String renders the short image:tag form.
func (r Reference) String() string {
	return r.Image + ":" + r.Tag
}

// DirName returns the directory-safe VM name for this reference.
func (r Reference) DirName() string {
	return r.Image + "_" + r.Tag
}

// hostOnly strips an explicit scheme so the host validates as a registry.
func hostOnly(registry string) string {
	if _, host, ok := strings.Cut(registry, "://"); ok {
		return host
	}
	return registry
}
