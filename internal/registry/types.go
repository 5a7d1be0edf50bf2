// Package registry defines the data model shared by every registry backend:
// packages, tags, manifests and referrers, plus the Provider contract the
// cleanup engine consumes.
package registry

import (
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// MediaTypeDockerManifestList is the Docker schema 2 manifest list media
// type, the pre-OCI equivalent of an image index.
const MediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"

// MediaTypeDockerManifest is the Docker schema 2 image manifest media type.
const MediaTypeDockerManifest = "application/vnd.docker.distribution.manifest.v2+json"

// Package is a registry-level namespace for images. It is created during
// discovery and never mutated afterwards.
type Package struct {
	ID        string
	Name      string
	Owner     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Tag is a named pointer at a manifest digest. Many tags may point at the
// same digest; a manifest with zero tags is untagged.
type Tag struct {
	Name      string
	Digest    digest.Digest
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Manifest is a content-addressed artifact. Manifests is populated only when
// the manifest is a multi-arch index; each entry describes one child.
// CreatedAt and UpdatedAt are filled by backends whose APIs track per-digest
// timestamps; manifests served straight from the distribution API carry none.
type Manifest struct {
	Digest    digest.Digest
	MediaType string
	Size      int64
	Config    *ocispec.Descriptor
	Layers    []ocispec.Descriptor
	Manifests []ocispec.Descriptor
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Referrer is an OCI artifact (attestation, signature) pointing at another
// manifest by digest.
type Referrer struct {
	Digest       digest.Digest
	ArtifactType string
	MediaType    string
	Size         int64
}

// IsIndexMediaType reports whether mediaType identifies a multi-arch index
// manifest. Only the OCI image index and the Docker manifest list count.
func IsIndexMediaType(mediaType string) bool {
	switch mediaType {
	case ocispec.MediaTypeImageIndex, MediaTypeDockerManifestList:
		return true
	}
	return false
}

// IsIndex reports whether the manifest is a multi-arch index.
func (m *Manifest) IsIndex() bool {
	return IsIndexMediaType(m.MediaType)
}

// ChildDigests returns the digests the manifest declares as children, in
// manifest order. Non-index manifests declare no children regardless of any
// stray entries a registry may return.
func (m *Manifest) ChildDigests() []digest.Digest {
	if !m.IsIndex() || len(m.Manifests) == 0 {
		return nil
	}
	digests := make([]digest.Digest, 0, len(m.Manifests))
	for _, desc := range m.Manifests {
		digests = append(digests, desc.Digest)
	}
	return digests
}
