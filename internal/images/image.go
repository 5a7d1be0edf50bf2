// Package images holds the in-memory model the cleanup decision engine
// reasons about: the Image composite, the discovered-set index, the
// multi-arch dependency graph and the classification predicates.
package images

import (
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/registry"
)

// Image is the unit of classification and deletion: one manifest in one
// package together with the tags pointing at it and its graph context.
// Images live for a single cleanup run and are rebuilt from the registry on
// every invocation.
type Image struct {
	Package   registry.Package
	Manifest  *registry.Manifest
	Tags      []registry.Tag
	Referrers []registry.Referrer

	// MultiArch is set by the graph builder when at least one declared child
	// resolved against the discovered set.
	MultiArch bool

	// Children holds the digests of the resolved child images, in manifest
	// order. Children are stored as digests and looked up through the Set
	// index rather than as shared pointers, so removing an image from the
	// working set can never leave a dangling reference.
	Children []digest.Digest

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Digest returns the image's manifest digest.
func (img *Image) Digest() digest.Digest {
	return img.Manifest.Digest
}

// Tagged reports whether at least one tag points at the image.
func (img *Image) Tagged() bool {
	return len(img.Tags) > 0
}

// TagNames returns the image's tag names in discovery order.
func (img *Image) TagNames() []string {
	if len(img.Tags) == 0 {
		return nil
	}
	names := make([]string, 0, len(img.Tags))
	for _, tag := range img.Tags {
		names = append(names, tag.Name)
	}
	return names
}

// HasTag reports whether the image carries the named tag.
func (img *Image) HasTag(name string) bool {
	for _, tag := range img.Tags {
		if tag.Name == name {
			return true
		}
	}
	return false
}

// SortTime is the timestamp retention ordering uses: UpdatedAt when set,
// falling back to CreatedAt, falling back to the zero time.
func (img *Image) SortTime() time.Time {
	if !img.UpdatedAt.IsZero() {
		return img.UpdatedAt
	}
	return img.CreatedAt
}

// Ref is the human-readable identity used in logs and error messages:
// "pkg@digest" plus the first tag when one exists.
func (img *Image) Ref() string {
	ref := img.Package.Name + "@" + img.Digest().String()
	if len(img.Tags) > 0 {
		ref += " (" + img.Tags[0].Name + ")"
	}
	return ref
}
