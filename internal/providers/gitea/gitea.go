// Package gitea implements the Gitea container registry backend. The Gitea
// packages API handles enumeration and deletion; manifest reads go through
// the registry's distribution endpoint on the same host.
package gitea

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog/log"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/providers/oci"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/registry"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup/pkg/httpc"
)

// Provider talks to one Gitea instance on behalf of one owner.
type Provider struct {
	http     *httpc.Client
	registry *oci.Client
	base     string
	owner    string
	token    string

	mu       sync.Mutex
	versions map[string][]packageVersion
}

type packageVersion struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Version   string    `json:"version"` // a tag name or a manifest digest
	CreatedAt time.Time `json:"created_at"`
}

// Options configures the Gitea backend.
type Options struct {
	// URL is the Gitea base URL, e.g. "https://git.example.com".
	URL string
	// Owner is the user or organization holding the packages.
	Owner string
	// Username defaults to Owner when empty.
	Username string
	// Token is a Gitea access token with package scope.
	Token string
}

// New builds a Gitea backend.
func New(httpClient *httpc.Client, opts Options) (*Provider, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("the gitea registry type requires a registry URL")
	}
	if opts.Owner == "" {
		return nil, fmt.Errorf("the gitea registry type requires an owner")
	}

	base := strings.TrimSuffix(opts.URL, "/")
	p := &Provider{
		http:     httpClient,
		base:     base,
		owner:    opts.Owner,
		token:    opts.Token,
		versions: make(map[string][]packageVersion),
	}

	var auth oci.AuthFunc
	if opts.Token != "" {
		user := opts.Username
		if user == "" {
			user = opts.Owner
		}
		credentials := base64.StdEncoding.EncodeToString([]byte(user + ":" + opts.Token))
		auth = func(ctx context.Context, repo string) (string, error) {
			return "Basic " + credentials, nil
		}
	}
	p.registry = oci.NewClient(httpClient, base, auth)
	return p, nil
}

func (p *Provider) apiHeaders() http.Header {
	h := http.Header{}
	if p.token != "" {
		h.Set("Authorization", "token "+p.token)
	}
	return h
}

func (p *Provider) Authenticate(ctx context.Context) error {
	var out struct {
		Username string `json:"login"`
	}
	endpoint := fmt.Sprintf("%s/api/v1/users/%s", p.base, url.PathEscape(p.owner))
	if err := p.http.GetJSON(ctx, endpoint, p.apiHeaders(), &out); err != nil {
		return fmt.Errorf("failed to reach gitea at %s: %w", p.base, err)
	}
	return nil
}

// listVersions fetches and caches the container package versions of one
// package. Gitea models every tag and every untagged digest as a version.
func (p *Provider) listVersions(ctx context.Context, name string) ([]packageVersion, error) {
	p.mu.Lock()
	cached, ok := p.versions[name]
	p.mu.Unlock()
	if ok {
		return cached, nil
	}

	var versions []packageVersion
	for page := 1; ; page++ {
		var out []packageVersion
		endpoint := fmt.Sprintf("%s/api/v1/packages/%s?type=container&q=%s&page=%d&limit=50",
			p.base, url.PathEscape(p.owner), url.QueryEscape(name), page)
		if err := p.http.GetJSON(ctx, endpoint, p.apiHeaders(), &out); err != nil {
			return nil, fmt.Errorf("failed to list versions of %s: %w", name, err)
		}
		if len(out) == 0 {
			break
		}
		for _, v := range out {
			if v.Name == name {
				versions = append(versions, v)
			}
		}
	}

	p.mu.Lock()
	p.versions[name] = versions
	p.mu.Unlock()
	return versions, nil
}

func (p *Provider) ListPackages(ctx context.Context) ([]registry.Package, error) {
	seen := make(map[string]bool)
	var pkgs []registry.Package
	for page := 1; ; page++ {
		var out []packageVersion
		endpoint := fmt.Sprintf("%s/api/v1/packages/%s?type=container&page=%d&limit=50",
			p.base, url.PathEscape(p.owner), page)
		if err := p.http.GetJSON(ctx, endpoint, p.apiHeaders(), &out); err != nil {
			return nil, fmt.Errorf("failed to list packages: %w", err)
		}
		if len(out) == 0 {
			break
		}
		for _, v := range out {
			if seen[v.Name] {
				continue
			}
			seen[v.Name] = true
			pkgs = append(pkgs, registry.Package{
				ID:        v.Name,
				Name:      v.Name,
				Owner:     p.owner,
				CreatedAt: v.CreatedAt,
			})
		}
	}
	return pkgs, nil
}

func (p *Provider) ListTags(ctx context.Context, pkg registry.Package) ([]registry.Tag, error) {
	versions, err := p.listVersions(ctx, pkg.Name)
	if err != nil {
		return nil, err
	}

	var tags []registry.Tag
	for _, v := range versions {
		if isDigestVersion(v.Version) {
			continue
		}
		tags = append(tags, registry.Tag{Name: v.Version, CreatedAt: v.CreatedAt, UpdatedAt: v.CreatedAt})
	}
	return tags, nil
}

func (p *Provider) GetManifest(ctx context.Context, pkg registry.Package, ref string) (*registry.Manifest, error) {
	return p.registry.Manifest(ctx, p.repo(pkg), ref)
}

// GetPackageManifests resolves the digest versions, which is how Gitea
// records manifests no tag reaches.
func (p *Provider) GetPackageManifests(ctx context.Context, pkg registry.Package) ([]*registry.Manifest, error) {
	versions, err := p.listVersions(ctx, pkg.Name)
	if err != nil {
		return nil, err
	}

	var manifests []*registry.Manifest
	for _, v := range versions {
		if !isDigestVersion(v.Version) {
			continue
		}
		manifest, err := p.registry.Manifest(ctx, p.repo(pkg), v.Version)
		if err != nil {
			if httpc.IsNotFound(err) {
				log.Debug().Str("digest", v.Version).Msg("Version has no manifest, skipping")
				continue
			}
			return nil, err
		}
		manifest.CreatedAt = v.CreatedAt
		manifest.UpdatedAt = v.CreatedAt
		manifests = append(manifests, manifest)
	}
	return manifests, nil
}

func (p *Provider) DeleteTag(ctx context.Context, pkg registry.Package, tag string) error {
	return p.deleteVersion(ctx, pkg.Name, tag)
}

func (p *Provider) DeleteManifest(ctx context.Context, pkg registry.Package, dgst digest.Digest) error {
	err := p.deleteVersion(ctx, pkg.Name, dgst.String())
	// Tagged manifests have no digest version of their own; deleting the
	// last tag version removes them, so a missing digest version is fine.
	if httpc.IsNotFound(err) {
		return nil
	}
	return err
}

func (p *Provider) deleteVersion(ctx context.Context, name, version string) error {
	endpoint := fmt.Sprintf("%s/api/v1/packages/%s/container/%s/%s",
		p.base, url.PathEscape(p.owner), url.PathEscape(name), url.PathEscape(version))
	resp, err := p.http.Do(ctx, http.MethodDelete, endpoint, p.apiHeaders(), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()

	p.mu.Lock()
	delete(p.versions, name)
	p.mu.Unlock()
	return nil
}

func (p *Provider) GetReferrers(ctx context.Context, pkg registry.Package, dgst digest.Digest) ([]registry.Referrer, error) {
	return p.registry.Referrers(ctx, p.repo(pkg), dgst)
}

func (p *Provider) SupportsFeature(feature registry.Feature) bool {
	switch feature {
	case registry.FeatureMultiArch, registry.FeatureReferrers:
		return true
	}
	return false
}

func (p *Provider) KnownRegistryURLs() []string { return nil }

func (p *Provider) repo(pkg registry.Package) string {
	return strings.ToLower(p.owner + "/" + pkg.Name)
}

func isDigestVersion(version string) bool {
	return strings.HasPrefix(version, "sha256:")
}
