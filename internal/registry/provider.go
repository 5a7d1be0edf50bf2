package registry

import (
	"context"

	"github.com/opencontainers/go-digest"
)

// Feature identifies an optional registry capability a backend may declare.
type Feature string

const (
	FeatureMultiArch   Feature = "MULTI_ARCH"
	FeatureReferrers   Feature = "REFERRERS"
	FeatureAttestation Feature = "ATTESTATION"
	FeatureCosign      Feature = "COSIGN"
)

// Provider is the uniform contract every registry backend implements. The
// cleanup engine depends only on this interface, never on a concrete
// backend.
type Provider interface {
	// Authenticate verifies credentials before any other call is made.
	Authenticate(ctx context.Context) error

	// ListPackages returns every package the credentials can see.
	ListPackages(ctx context.Context) ([]Package, error)

	// ListTags returns all tags of a package.
	ListTags(ctx context.Context, pkg Package) ([]Tag, error)

	// GetManifest fetches a manifest by tag name or digest.
	GetManifest(ctx context.Context, pkg Package, reference string) (*Manifest, error)

	// GetPackageManifests returns the package's manifests including untagged
	// ones not reachable through any tag.
	GetPackageManifests(ctx context.Context, pkg Package) ([]*Manifest, error)

	// DeleteTag removes a single tag without touching the manifest it points
	// at. Backends that cannot untag individually return an error describing
	// the restriction.
	DeleteTag(ctx context.Context, pkg Package, tag string) error

	// DeleteManifest removes a manifest by digest.
	DeleteManifest(ctx context.Context, pkg Package, dgst digest.Digest) error

	// GetReferrers returns the artifacts referring to the given digest. Only
	// called when the backend declares FeatureReferrers.
	GetReferrers(ctx context.Context, pkg Package, dgst digest.Digest) ([]Referrer, error)

	// SupportsFeature declares optional capabilities.
	SupportsFeature(feature Feature) bool

	// KnownRegistryURLs lists hostnames the backend serves, used for
	// registry-type auto-detection.
	KnownRegistryURLs() []string
}
