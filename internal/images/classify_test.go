package images

import (
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/registry"
)

func TestIsReferrer(t *testing.T) {
	set := NewSet()
	subject := addImage(set, newManifest("s"), "v1.0")
	attestation := addImage(set, newManifest("a"))
	unrelated := addImage(set, newManifest("u"))

	subject.Referrers = []registry.Referrer{{
		Digest:       attestation.Digest(),
		ArtifactType: "application/vnd.dev.sigstore.bundle+json",
	}}

	assert.True(t, HasReferrers(subject))
	assert.Equal(t, []digest.Digest{attestation.Digest()}, ReferrerDigests(subject))

	assert.True(t, IsReferrer(attestation, set))
	assert.False(t, IsReferrer(subject, set))
	assert.False(t, IsReferrer(unrelated, set))
}

func TestParentsOf(t *testing.T) {
	set := NewSet()
	child := addImage(set, newManifest("c"))
	parent := addImage(set, newIndex("p", child.Digest()), "v1.0")
	other := addImage(set, newManifest("o"))
	Link(set)

	parents := ParentsOf(child, set)
	assert.Len(t, parents, 1)
	assert.Same(t, parent, parents[0])

	assert.Empty(t, ParentsOf(other, set))
	assert.Empty(t, ParentsOf(parent, set))
}

func TestParentsOf_DeclaredButUnresolvedStillCounts(t *testing.T) {
	// A parent whose child list did not fully resolve still parents the
	// children it declares.
	set := NewSet()
	child := addImage(set, newManifest("c"))
	parent := addImage(set, newIndex("p", child.Digest(), testDigest("z")))
	Link(set)

	parents := ParentsOf(child, set)
	assert.Len(t, parents, 1)
	assert.Same(t, parent, parents[0])
}

func TestIsPartialMultiArch(t *testing.T) {
	set := NewSet()
	resolved := addImage(set, newManifest("r"))
	complete := addImage(set, newIndex("p", resolved.Digest()))
	partial := addImage(set, newIndex("q", resolved.Digest(), testDigest("z")))
	ghost := addImage(set, newIndex("g", testDigest("x"), testDigest("y")))
	plain := addImage(set, newManifest("m"))
	Link(set)

	assert.False(t, IsPartialMultiArch(complete))
	assert.True(t, IsPartialMultiArch(partial))
	// A fully unresolved index never got MultiArch set, so it is a ghost,
	// not a partial.
	assert.False(t, IsPartialMultiArch(ghost))
	assert.False(t, IsPartialMultiArch(plain))
}

func TestIsGhost(t *testing.T) {
	set := NewSet()
	resolved := addImage(set, newManifest("r"))
	complete := addImage(set, newIndex("p", resolved.Digest()))
	partial := addImage(set, newIndex("q", resolved.Digest(), testDigest("z")))
	ghost := addImage(set, newIndex("g", testDigest("x"), testDigest("y")))
	plain := addImage(set, newManifest("m"))
	Link(set)

	assert.True(t, IsGhost(ghost))
	assert.False(t, IsGhost(complete))
	assert.False(t, IsGhost(partial))
	assert.False(t, IsGhost(plain))
}

func TestIsOrphaned(t *testing.T) {
	set := NewSet()
	child := addImage(set, newManifest("c"))
	addImage(set, newIndex("p", child.Digest()), "v1.0")
	attestation := addImage(set, newManifest("a"))
	tagged := addImage(set, newManifest("t"), "latest")
	orphan := addImage(set, newManifest("o"))
	tagged.Referrers = []registry.Referrer{{Digest: attestation.Digest()}}
	Link(set)

	assert.True(t, IsOrphaned(orphan, set))
	assert.False(t, IsOrphaned(child, set), "parented image is not orphaned")
	assert.False(t, IsOrphaned(attestation, set), "referrer artifact is not orphaned")
	assert.False(t, IsOrphaned(tagged, set), "tagged image is never orphaned")
}

func TestIsOrphaned_TagsTakePrecedence(t *testing.T) {
	// Tagged images are never orphaned regardless of graph position.
	set := NewSet()
	img := addImage(set, newManifest("t"), "v2.0")
	Link(set)

	assert.False(t, IsOrphaned(img, set))
}
