package ghcr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/registry"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup/pkg/httpc"
)

type fakeVersion struct {
	ID     int64
	Digest string
	Tags   []string
}

// fakeGHCR serves enough of the GitHub Packages API and the ghcr.io
// distribution endpoint for the backend tests.
type fakeGHCR struct {
	t         *testing.T
	ownerType string // "Organization" or "User"
	versions  map[string][]fakeVersion
	manifests map[string]string // "repo ref" -> body

	deletedVersions []int64
	tokenExchanges  int
}

func (f *fakeGHCR) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/users/acme":
			json.NewEncoder(w).Encode(map[string]string{"type": f.ownerType}) //nolint:errcheck

		case r.URL.Path == "/orgs/acme/packages" || r.URL.Path == "/users/acme/packages":
			if r.URL.Query().Get("page") != "1" {
				json.NewEncoder(w).Encode([]any{}) //nolint:errcheck
				return
			}
			var out []map[string]any
			for name := range f.versions {
				out = append(out, map[string]any{"id": 1, "name": name})
			}
			json.NewEncoder(w).Encode(out) //nolint:errcheck

		case r.URL.Path == "/token":
			f.tokenExchanges++
			json.NewEncoder(w).Encode(map[string]string{"token": "registry-token"}) //nolint:errcheck

		default:
			f.packageRoutes(w, r)
		}
	}
}

func (f *fakeGHCR) packageRoutes(w http.ResponseWriter, r *http.Request) {
	for name, versions := range f.versions {
		versionsPath := "/orgs/acme/packages/container/" + name + "/versions"
		if f.ownerType == "User" {
			versionsPath = "/users/acme/packages/container/" + name + "/versions"
		}

		if r.URL.Path == versionsPath && r.Method == http.MethodGet {
			if r.URL.Query().Get("page") != "1" {
				json.NewEncoder(w).Encode([]any{}) //nolint:errcheck
				return
			}
			var out []map[string]any
			for _, v := range versions {
				out = append(out, map[string]any{
					"id":         v.ID,
					"name":       v.Digest,
					"created_at": "2024-03-01T12:00:00Z",
					"updated_at": "2024-03-02T12:00:00Z",
					"metadata": map[string]any{
						"container": map[string]any{"tags": v.Tags},
					},
				})
			}
			json.NewEncoder(w).Encode(out) //nolint:errcheck
			return
		}

		for _, v := range versions {
			if r.URL.Path == versionsPath+"/"+strconv.FormatInt(v.ID, 10) && r.Method == http.MethodDelete {
				f.deletedVersions = append(f.deletedVersions, v.ID)
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
	}

	if body, ok := f.manifests[r.Method+" "+r.URL.Path]; ok {
		require.NotEmpty(f.t, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", ocispec.MediaTypeImageManifest)
		w.Write([]byte(body)) //nolint:errcheck
		return
	}

	http.NotFound(w, r)
}

func newTestProvider(t *testing.T, fake *fakeGHCR) *Provider {
	t.Helper()
	fake.t = t
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	provider, err := New(httpc.New(httpc.Options{}), Options{
		Owner:        "acme",
		Token:        "test-token",
		APIBase:      server.URL,
		RegistryBase: server.URL,
	})
	require.NoError(t, err)
	return provider
}

func TestProvider_ListTags(t *testing.T) {
	dgst := "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	provider := newTestProvider(t, &fakeGHCR{
		ownerType: "Organization",
		versions: map[string][]fakeVersion{
			"app": {{ID: 10, Digest: dgst, Tags: []string{"v1.0", "latest"}}},
		},
	})

	tags, err := provider.ListTags(context.Background(), registry.Package{Name: "app", Owner: "acme"})
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "v1.0", tags[0].Name)
	assert.Equal(t, digest.Digest(dgst), tags[0].Digest)
}

func TestProvider_ListPackagesUserOwner(t *testing.T) {
	provider := newTestProvider(t, &fakeGHCR{
		ownerType: "User",
		versions:  map[string][]fakeVersion{"app": {}},
	})

	pkgs, err := provider.ListPackages(context.Background())
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	assert.Equal(t, "app", pkgs[0].Name)
	assert.Equal(t, "acme", pkgs[0].Owner)
}

func TestProvider_GetManifestExchangesToken(t *testing.T) {
	fake := &fakeGHCR{
		ownerType: "Organization",
		versions:  map[string][]fakeVersion{"app": {}},
		manifests: map[string]string{
			"GET /v2/acme/app/manifests/v1.0": `{"schemaVersion":2}`,
		},
	}
	provider := newTestProvider(t, fake)

	pkg := registry.Package{Name: "app", Owner: "acme"}
	manifest, err := provider.GetManifest(context.Background(), pkg, "v1.0")
	require.NoError(t, err)
	assert.Equal(t, ocispec.MediaTypeImageManifest, manifest.MediaType)
	assert.Equal(t, 1, fake.tokenExchanges)

	// The exchanged token is cached across requests to the same repository.
	_, err = provider.GetManifest(context.Background(), pkg, "v1.0")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.tokenExchanges)
}

func TestProvider_GetPackageManifestsSkipsTaggedVersions(t *testing.T) {
	tagged := "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	untagged := "sha256:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	provider := newTestProvider(t, &fakeGHCR{
		ownerType: "Organization",
		versions: map[string][]fakeVersion{
			"app": {
				{ID: 10, Digest: tagged, Tags: []string{"v1.0"}},
				{ID: 11, Digest: untagged},
			},
		},
		manifests: map[string]string{
			"GET /v2/acme/app/manifests/" + untagged: `{"schemaVersion":2}`,
		},
	})

	manifests, err := provider.GetPackageManifests(context.Background(), registry.Package{Name: "app", Owner: "acme"})
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	assert.True(t, manifests[0].CreatedAt.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		"version timestamps carry over to the manifest")
	assert.True(t, manifests[0].UpdatedAt.Equal(time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)))
}

func TestProvider_DeleteManifestResolvesVersionID(t *testing.T) {
	dgst := digest.Digest("sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	fake := &fakeGHCR{
		ownerType: "Organization",
		versions: map[string][]fakeVersion{
			"app": {{ID: 42, Digest: dgst.String()}},
		},
	}
	provider := newTestProvider(t, fake)

	pkg := registry.Package{Name: "app", Owner: "acme"}
	require.NoError(t, provider.DeleteManifest(context.Background(), pkg, dgst))
	assert.Equal(t, []int64{42}, fake.deletedVersions)
}

func TestProvider_DeleteManifestUnknownDigest(t *testing.T) {
	provider := newTestProvider(t, &fakeGHCR{
		ownerType: "Organization",
		versions:  map[string][]fakeVersion{"app": {}},
	})

	err := provider.DeleteManifest(context.Background(), registry.Package{Name: "app", Owner: "acme"},
		digest.Digest("sha256:ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no package version")
}

func TestProvider_DeleteTagPolicy(t *testing.T) {
	shared := "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	sole := "sha256:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	provider := newTestProvider(t, &fakeGHCR{
		ownerType: "Organization",
		versions: map[string][]fakeVersion{
			"app": {
				{ID: 10, Digest: shared, Tags: []string{"v1.0", "latest"}},
				{ID: 11, Digest: sole, Tags: []string{"dev"}},
			},
		},
	})

	pkg := registry.Package{Name: "app", Owner: "acme"}

	err := provider.DeleteTag(context.Background(), pkg, "latest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot delete tag")

	// A sole tag disappears with its version, so the call is a no-op.
	assert.NoError(t, provider.DeleteTag(context.Background(), pkg, "dev"))

	err = provider.DeleteTag(context.Background(), pkg, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestProvider_RequiresOwnerAndToken(t *testing.T) {
	_, err := New(httpc.New(httpc.Options{}), Options{Token: "x"})
	assert.Error(t, err)
	_, err = New(httpc.New(httpc.Options{}), Options{Owner: "acme"})
	assert.Error(t, err)
}
