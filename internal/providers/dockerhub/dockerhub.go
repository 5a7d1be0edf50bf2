// Package dockerhub implements the Docker Hub backend. Hub has no package
// versions API and no referrers support; it exposes repositories and tags
// through hub.docker.com with a JWT obtained from username and token.
package dockerhub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/registry"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup/pkg/httpc"
)

const defaultAPIBase = "https://hub.docker.com"

// Provider talks to Docker Hub on behalf of one namespace.
type Provider struct {
	http     *httpc.Client
	base     string
	owner    string
	username string
	token    string

	mu   sync.Mutex
	jwt  string
	tags map[string][]hubTag
}

// Options configures the Docker Hub backend.
type Options struct {
	// Owner is the Hub namespace (user or organization).
	Owner string
	// Username and Token authenticate against Hub. Username defaults to
	// Owner; Token is a password or a Hub access token.
	Username string
	Token    string
	// APIBase overrides hub.docker.com, for tests.
	APIBase string
}

// New builds a Docker Hub backend.
func New(httpClient *httpc.Client, opts Options) (*Provider, error) {
	if opts.Owner == "" {
		return nil, fmt.Errorf("the dockerhub registry type requires an owner")
	}
	if opts.Token == "" {
		return nil, fmt.Errorf("the dockerhub registry type requires a token")
	}
	username := opts.Username
	if username == "" {
		username = opts.Owner
	}
	base := opts.APIBase
	if base == "" {
		base = defaultAPIBase
	}

	return &Provider{
		http:     httpClient,
		base:     strings.TrimSuffix(base, "/"),
		owner:    opts.Owner,
		username: username,
		token:    opts.Token,
		tags:     make(map[string][]hubTag),
	}, nil
}

// Authenticate logs in at /v2/users/login and keeps the returned JWT.
func (p *Provider) Authenticate(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"username": p.username,
		"password": p.token,
	})
	if err != nil {
		return err
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	resp, err := p.http.Do(ctx, http.MethodPost, p.base+"/v2/users/login", h, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("docker hub login failed: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("failed to decode docker hub login response: %w", err)
	}

	p.mu.Lock()
	p.jwt = out.Token
	p.mu.Unlock()
	return nil
}

func (p *Provider) apiHeaders() http.Header {
	h := http.Header{}
	p.mu.Lock()
	if p.jwt != "" {
		h.Set("Authorization", "Bearer "+p.jwt)
	}
	p.mu.Unlock()
	return h
}

type hubPage[T any] struct {
	Next    string `json:"next"`
	Results []T    `json:"results"`
}

func (p *Provider) ListPackages(ctx context.Context) ([]registry.Package, error) {
	var pkgs []registry.Package
	endpoint := fmt.Sprintf("%s/v2/repositories/%s/?page_size=100", p.base, url.PathEscape(p.owner))
	for endpoint != "" {
		var page hubPage[struct {
			Name        string    `json:"name"`
			LastUpdated time.Time `json:"last_updated"`
		}]
		if err := p.http.GetJSON(ctx, endpoint, p.apiHeaders(), &page); err != nil {
			return nil, fmt.Errorf("failed to list repositories: %w", err)
		}
		for _, repo := range page.Results {
			pkgs = append(pkgs, registry.Package{
				ID:        p.owner + "/" + repo.Name,
				Name:      repo.Name,
				Owner:     p.owner,
				UpdatedAt: repo.LastUpdated,
			})
		}
		endpoint = page.Next
	}
	return pkgs, nil
}

type hubTag struct {
	Name        string    `json:"name"`
	Digest      string    `json:"digest"`
	LastUpdated time.Time `json:"last_updated"`
	Images      []struct {
		Digest       string `json:"digest"`
		Architecture string `json:"architecture"`
		OS           string `json:"os"`
		Size         int64  `json:"size"`
	} `json:"images"`
}

// listHubTags fetches and caches the tag listing of one repository; the tag
// listing doubles as the manifest source, so it is read once per run.
func (p *Provider) listHubTags(ctx context.Context, pkg registry.Package) ([]hubTag, error) {
	p.mu.Lock()
	cached, ok := p.tags[pkg.Name]
	p.mu.Unlock()
	if ok {
		return cached, nil
	}

	var tags []hubTag
	endpoint := fmt.Sprintf("%s/v2/repositories/%s/%s/tags/?page_size=100",
		p.base, url.PathEscape(p.owner), url.PathEscape(pkg.Name))
	for endpoint != "" {
		var page hubPage[hubTag]
		if err := p.http.GetJSON(ctx, endpoint, p.apiHeaders(), &page); err != nil {
			return nil, fmt.Errorf("failed to list tags of %s: %w", pkg.Name, err)
		}
		tags = append(tags, page.Results...)
		endpoint = page.Next
	}

	p.mu.Lock()
	p.tags[pkg.Name] = tags
	p.mu.Unlock()
	return tags, nil
}

func (p *Provider) ListTags(ctx context.Context, pkg registry.Package) ([]registry.Tag, error) {
	hubTags, err := p.listHubTags(ctx, pkg)
	if err != nil {
		return nil, err
	}
	tags := make([]registry.Tag, 0, len(hubTags))
	for _, t := range hubTags {
		tags = append(tags, registry.Tag{
			Name:      t.Name,
			Digest:    digest.Digest(t.Digest),
			CreatedAt: t.LastUpdated,
			UpdatedAt: t.LastUpdated,
		})
	}
	return tags, nil
}

// GetManifest synthesizes a manifest from the Hub tag listing: Hub's API
// reports the per-architecture images of a tag but not the raw manifest
// bytes. Multi-image tags become indexes with the child digests filled in.
func (p *Provider) GetManifest(ctx context.Context, pkg registry.Package, ref string) (*registry.Manifest, error) {
	hubTags, err := p.listHubTags(ctx, pkg)
	if err != nil {
		return nil, err
	}
	for _, t := range hubTags {
		if t.Name != ref && t.Digest != ref {
			continue
		}
		return synthesizeManifest(t), nil
	}
	return nil, fmt.Errorf("tag %q not found in repository %s/%s", ref, p.owner, pkg.Name)
}

func synthesizeManifest(t hubTag) *registry.Manifest {
	manifest := &registry.Manifest{
		Digest:    digest.Digest(t.Digest),
		MediaType: registry.MediaTypeDockerManifest,
	}
	if len(t.Images) > 1 {
		manifest.MediaType = registry.MediaTypeDockerManifestList
		for _, img := range t.Images {
			manifest.Manifests = append(manifest.Manifests, ocispec.Descriptor{
				Digest:    digest.Digest(img.Digest),
				MediaType: registry.MediaTypeDockerManifest,
				Size:      img.Size,
				Platform:  &ocispec.Platform{Architecture: img.Architecture, OS: img.OS},
			})
		}
	}
	return manifest
}

// GetPackageManifests returns nothing: Hub garbage-collects untagged
// manifests on its own and offers no way to enumerate them.
func (p *Provider) GetPackageManifests(ctx context.Context, pkg registry.Package) ([]*registry.Manifest, error) {
	return nil, nil
}

func (p *Provider) DeleteTag(ctx context.Context, pkg registry.Package, tag string) error {
	endpoint := fmt.Sprintf("%s/v2/repositories/%s/%s/tags/%s/",
		p.base, url.PathEscape(p.owner), url.PathEscape(pkg.Name), url.PathEscape(tag))
	resp, err := p.http.Do(ctx, http.MethodDelete, endpoint, p.apiHeaders(), nil)
	if err != nil {
		return fmt.Errorf("failed to delete tag %s: %w", tag, err)
	}
	resp.Body.Close()

	p.mu.Lock()
	delete(p.tags, pkg.Name)
	p.mu.Unlock()
	return nil
}

// DeleteManifest is a policy rejection on Docker Hub: the API deletes tags,
// and untagged manifests are garbage-collected server-side.
func (p *Provider) DeleteManifest(ctx context.Context, pkg registry.Package, dgst digest.Digest) error {
	return fmt.Errorf("docker hub does not support manifest deletion by digest (%s)", dgst)
}

func (p *Provider) GetReferrers(ctx context.Context, pkg registry.Package, dgst digest.Digest) ([]registry.Referrer, error) {
	return nil, nil
}

func (p *Provider) SupportsFeature(feature registry.Feature) bool {
	return feature == registry.FeatureMultiArch
}

func (p *Provider) KnownRegistryURLs() []string {
	return []string{"docker.io", "registry-1.docker.io", "hub.docker.com"}
}
