package docker

import (
	"context"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/registry"
)

const (
	appID      = "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	danglingID = "sha256:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	otherID    = "sha256:cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
)

type fakeDaemon struct {
	images  []image.Summary
	removed []string
}

func (f *fakeDaemon) Ping(ctx context.Context) (types.Ping, error) {
	return types.Ping{}, nil
}

func (f *fakeDaemon) ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
	return f.images, nil
}

func (f *fakeDaemon) ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error) {
	for _, img := range f.images {
		if img.ID == imageID {
			return image.InspectResponse{ID: img.ID, Size: img.Size}, nil
		}
		for _, ref := range img.RepoTags {
			if ref == imageID {
				return image.InspectResponse{ID: img.ID, Size: img.Size}, nil
			}
		}
	}
	return image.InspectResponse{}, assert.AnError
}

func (f *fakeDaemon) ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error) {
	f.removed = append(f.removed, imageID)
	return nil, nil
}

func testDaemon() *fakeDaemon {
	return &fakeDaemon{images: []image.Summary{
		{
			ID:       appID,
			RepoTags: []string{"acme/app:v1.0", "acme/app:latest"},
			Created:  1700000000,
			Size:     2048,
		},
		{
			ID:          danglingID,
			RepoTags:    []string{"<none>:<none>"},
			RepoDigests: []string{"acme/app@" + danglingID},
			Created:     1690000000,
		},
		{
			ID:       otherID,
			RepoTags: []string{"library/debian:stable"},
			Created:  1680000000,
		},
	}}
}

func newTestProvider(t *testing.T, daemon *fakeDaemon) *Provider {
	t.Helper()
	provider, err := New(Options{Owner: "acme", Client: daemon})
	require.NoError(t, err)
	return provider
}

func TestProvider_ListPackagesFiltersByOwner(t *testing.T) {
	provider := newTestProvider(t, testDaemon())

	pkgs, err := provider.ListPackages(context.Background())
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	assert.Equal(t, "acme/app", pkgs[0].Name)
}

func TestProvider_ListTags(t *testing.T) {
	provider := newTestProvider(t, testDaemon())

	tags, err := provider.ListTags(context.Background(), registry.Package{Name: "acme/app"})
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "v1.0", tags[0].Name)
	assert.Equal(t, digest.Digest(appID), tags[0].Digest)
	assert.False(t, tags[0].CreatedAt.IsZero())
}

func TestProvider_GetManifestByTagAndDigest(t *testing.T) {
	provider := newTestProvider(t, testDaemon())
	pkg := registry.Package{Name: "acme/app"}

	manifest, err := provider.GetManifest(context.Background(), pkg, "v1.0")
	require.NoError(t, err)
	assert.Equal(t, digest.Digest(appID), manifest.Digest)

	manifest, err = provider.GetManifest(context.Background(), pkg, appID)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), manifest.Size)
}

func TestProvider_GetPackageManifestsFindsDangling(t *testing.T) {
	provider := newTestProvider(t, testDaemon())

	manifests, err := provider.GetPackageManifests(context.Background(), registry.Package{Name: "acme/app"})
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	assert.Equal(t, digest.Digest(danglingID), manifests[0].Digest)
	assert.False(t, manifests[0].CreatedAt.IsZero(), "daemon creation time carries over to the manifest")
}

func TestProvider_DeleteTagAndManifest(t *testing.T) {
	daemon := testDaemon()
	provider := newTestProvider(t, daemon)
	pkg := registry.Package{Name: "acme/app"}

	require.NoError(t, provider.DeleteTag(context.Background(), pkg, "v1.0"))
	require.NoError(t, provider.DeleteManifest(context.Background(), pkg, digest.Digest(danglingID)))
	assert.Equal(t, []string{"acme/app:v1.0", danglingID}, daemon.removed)
}
