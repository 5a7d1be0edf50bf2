package images

import (
	"github.com/opencontainers/go-digest"
)

// HasReferrers reports whether any referrer artifact points at the image.
func HasReferrers(img *Image) bool {
	return len(img.Referrers) > 0
}

// ReferrerDigests returns the digests of the image's referrer artifacts.
func ReferrerDigests(img *Image) []digest.Digest {
	if len(img.Referrers) == 0 {
		return nil
	}
	digests := make([]digest.Digest, 0, len(img.Referrers))
	for _, ref := range img.Referrers {
		digests = append(digests, ref.Digest)
	}
	return digests
}

// IsReferrer reports whether some other image in the set lists img's digest
// among its referrer digests, i.e. img is itself an attestation or signature
// artifact.
func IsReferrer(img *Image, set *Set) bool {
	for _, other := range set.All() {
		if other == img || other.Package.Name != img.Package.Name {
			continue
		}
		for _, ref := range other.Referrers {
			if ref.Digest == img.Digest() {
				return true
			}
		}
	}
	return false
}

// ParentsOf returns the multi-arch index images whose declared child list
// contains img's digest. The declared list is used, not the resolved one, so
// a parent counts even when the registry's view of it is inconsistent.
func ParentsOf(img *Image, set *Set) []*Image {
	var parents []*Image
	for _, other := range set.All() {
		if other == img || other.Package.Name != img.Package.Name {
			continue
		}
		for _, dgst := range other.Manifest.ChildDigests() {
			if dgst == img.Digest() {
				parents = append(parents, other)
				break
			}
		}
	}
	return parents
}

// IsPartialMultiArch reports whether the image is a multi-arch index whose
// manifest declares more children than resolved during discovery: the
// registry claims children that do not exist in the discovered set.
func IsPartialMultiArch(img *Image) bool {
	if !img.MultiArch {
		return false
	}
	return len(img.Manifest.ChildDigests()) > len(img.Children)
}

// IsGhost reports whether the image is an index none of whose declared
// children exist in the discovered set. The index still answers to its
// digest but every platform manifest behind it is gone.
func IsGhost(img *Image) bool {
	declared := img.Manifest.ChildDigests()
	return len(declared) > 0 && len(img.Children) == 0
}

// IsOrphaned reports whether nothing keeps the image alive: no tags, no
// multi-arch parent and no artifact referring to it. A tagged image is never
// orphaned regardless of its graph position.
func IsOrphaned(img *Image, set *Set) bool {
	if img.Tagged() {
		return false
	}
	if len(ParentsOf(img, set)) > 0 {
		return false
	}
	return !IsReferrer(img, set)
}
