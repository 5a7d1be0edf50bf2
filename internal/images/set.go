package images

import (
	"github.com/opencontainers/go-digest"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/registry"
)

// Set is the full discovered collection for one run, indexed so that exactly
// one Image exists per (package, digest) pair.
type Set struct {
	images []*Image
	index  map[setKey]*Image
}

type setKey struct {
	pkg    string
	digest digest.Digest
}

// NewSet returns an empty discovered set.
func NewSet() *Set {
	return &Set{index: make(map[setKey]*Image)}
}

// Add inserts an image unless one with the same (package, digest) identity
// already exists, in which case the existing image is returned.
func (s *Set) Add(img *Image) *Image {
	key := setKey{pkg: img.Package.Name, digest: img.Digest()}
	if existing, ok := s.index[key]; ok {
		return existing
	}
	s.images = append(s.images, img)
	s.index[key] = img
	return img
}

// GetOrCreate returns the image for (pkg, manifest.Digest), creating it when
// this is the first time the digest is seen in the package.
func (s *Set) GetOrCreate(pkg registry.Package, manifest *registry.Manifest) *Image {
	key := setKey{pkg: pkg.Name, digest: manifest.Digest}
	if existing, ok := s.index[key]; ok {
		return existing
	}
	img := &Image{Package: pkg, Manifest: manifest}
	s.images = append(s.images, img)
	s.index[key] = img
	return img
}

// Lookup resolves a digest within a package.
func (s *Set) Lookup(pkg string, dgst digest.Digest) (*Image, bool) {
	img, ok := s.index[setKey{pkg: pkg, digest: dgst}]
	return img, ok
}

// Resolve resolves a digest within the same package as img.
func (s *Set) Resolve(img *Image, dgst digest.Digest) (*Image, bool) {
	return s.Lookup(img.Package.Name, dgst)
}

// All returns the images in discovery order. The slice is shared; callers
// must not mutate it.
func (s *Set) All() []*Image {
	return s.images
}

// Len returns the number of discovered images.
func (s *Set) Len() int {
	return len(s.images)
}
