// Package ghcr implements the GitHub Container Registry backend. Package and
// version enumeration and deletion go through the GitHub Packages REST API;
// manifest and referrer reads go through the ghcr.io distribution endpoint
// with a token exchanged per repository.
package ghcr

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

const (
	defaultAPIBase      = "https://api.github.com"
	defaultRegistryBase = "https://ghcr.io"
)

// Provider talks to GHCR on behalf of one owner (user or organization).
type Provider struct {
	http         *httpc.Client
	registry     *oci.Client
	apiBase      string
	registryBase string
	owner        string
	token        string

	mu        sync.Mutex
	ownerType string // "orgs" or "users", probed lazily
	versions  map[string][]packageVersion
	tokens    map[string]string // repo -> registry bearer token
}

type packageVersion struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"` // the manifest digest
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Metadata  struct {
		Container struct {
			Tags []string `json:"tags"`
		} `json:"container"`
	} `json:"metadata"`
}

// Options configures the GHCR backend.
type Options struct {
	// Owner is the user or organization holding the packages.
	Owner string
	// Token is a PAT or the Actions GITHUB_TOKEN with packages scope.
	Token string
	// APIBase and RegistryBase override the github.com endpoints, for
	// GitHub Enterprise installs.
	APIBase      string
	RegistryBase string
}

// New builds a GHCR backend.
func New(httpClient *httpc.Client, opts Options) (*Provider, error) {
	if opts.Owner == "" {
		return nil, fmt.Errorf("the ghcr registry type requires an owner")
	}
	if opts.Token == "" {
		return nil, fmt.Errorf("the ghcr registry type requires a token")
	}
	if opts.APIBase == "" {
		opts.APIBase = defaultAPIBase
	}
	if opts.RegistryBase == "" {
		opts.RegistryBase = defaultRegistryBase
	}

	p := &Provider{
		http:         httpClient,
		apiBase:      strings.TrimSuffix(opts.APIBase, "/"),
		registryBase: strings.TrimSuffix(opts.RegistryBase, "/"),
		owner:        opts.Owner,
		token:        opts.Token,
		versions:     make(map[string][]packageVersion),
		tokens:       make(map[string]string),
	}
	p.registry = oci.NewClient(httpClient, p.registryBase, p.registryAuth)
	return p, nil
}

func (p *Provider) apiHeaders() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+p.token)
	h.Set("Accept", "application/vnd.github+json")
	h.Set("X-GitHub-Api-Version", "2022-11-28")
	return h
}

// registryAuth exchanges the API token for a registry pull token, cached per
// repository.
func (p *Provider) registryAuth(ctx context.Context, repo string) (string, error) {
	p.mu.Lock()
	token, ok := p.tokens[repo]
	p.mu.Unlock()
	if ok {
		return "Bearer " + token, nil
	}

	tokenURL := fmt.Sprintf("%s/token?service=ghcr.io&scope=repository:%s:pull,delete", p.registryBase, repo)
	h := http.Header{}
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("token:"+p.token)))

	var out struct {
		Token string `json:"token"`
	}
	if err := p.http.GetJSON(ctx, tokenURL, h, &out); err != nil {
		return "", fmt.Errorf("ghcr token exchange failed for %s: %w", repo, err)
	}

	p.mu.Lock()
	p.tokens[repo] = out.Token
	p.mu.Unlock()
	return "Bearer " + out.Token, nil
}

// resolveOwnerType probes whether the owner is an organization or a user;
// the Packages API uses different path prefixes for each.
func (p *Provider) resolveOwnerType(ctx context.Context) (string, error) {
	p.mu.Lock()
	cached := p.ownerType
	p.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var out struct {
		Type string `json:"type"`
	}
	endpoint := fmt.Sprintf("%s/users/%s", p.apiBase, p.owner)
	if err := p.http.GetJSON(ctx, endpoint, p.apiHeaders(), &out); err != nil {
		return "", fmt.Errorf("failed to resolve owner %s: %w", p.owner, err)
	}

	ownerType := "users"
	if out.Type == "Organization" {
		ownerType = "orgs"
	}
	p.mu.Lock()
	p.ownerType = ownerType
	p.mu.Unlock()
	return ownerType, nil
}

func (p *Provider) packagesURL(ownerType, suffix string) string {
	return fmt.Sprintf("%s/%s/%s/packages%s", p.apiBase, ownerType, p.owner, suffix)
}

func (p *Provider) Authenticate(ctx context.Context) error {
	_, err := p.resolveOwnerType(ctx)
	return err
}

func (p *Provider) ListPackages(ctx context.Context) ([]registry.Package, error) {
	ownerType, err := p.resolveOwnerType(ctx)
	if err != nil {
		return nil, err
	}

	var pkgs []registry.Package
	for page := 1; ; page++ {
		var out []struct {
			ID        int64     `json:"id"`
			Name      string    `json:"name"`
			CreatedAt time.Time `json:"created_at"`
			UpdatedAt time.Time `json:"updated_at"`
		}
		endpoint := p.packagesURL(ownerType, fmt.Sprintf("?package_type=container&per_page=100&page=%d", page))
		if err := p.http.GetJSON(ctx, endpoint, p.apiHeaders(), &out); err != nil {
			return nil, fmt.Errorf("failed to list packages: %w", err)
		}
		if len(out) == 0 {
			break
		}
		for _, item := range out {
			pkgs = append(pkgs, registry.Package{
				ID:        fmt.Sprintf("%d", item.ID),
				Name:      item.Name,
				Owner:     p.owner,
				CreatedAt: item.CreatedAt,
				UpdatedAt: item.UpdatedAt,
			})
		}
	}
	return pkgs, nil
}

// listVersions fetches and caches every version of a package; versions carry
// the digest, timestamps and tag metadata everything else here needs.
func (p *Provider) listVersions(ctx context.Context, pkg registry.Package) ([]packageVersion, error) {
	p.mu.Lock()
	cached, ok := p.versions[pkg.Name]
	p.mu.Unlock()
	if ok {
		return cached, nil
	}

	ownerType, err := p.resolveOwnerType(ctx)
	if err != nil {
		return nil, err
	}

	var versions []packageVersion
	for page := 1; ; page++ {
		var out []packageVersion
		endpoint := p.packagesURL(ownerType, fmt.Sprintf("/container/%s/versions?per_page=100&page=%d",
			url.PathEscape(pkg.Name), page))
		if err := p.http.GetJSON(ctx, endpoint, p.apiHeaders(), &out); err != nil {
			return nil, fmt.Errorf("failed to list versions of %s: %w", pkg.Name, err)
		}
		if len(out) == 0 {
			break
		}
		versions = append(versions, out...)
	}

	p.mu.Lock()
	p.versions[pkg.Name] = versions
	p.mu.Unlock()
	return versions, nil
}

func (p *Provider) ListTags(ctx context.Context, pkg registry.Package) ([]registry.Tag, error) {
	versions, err := p.listVersions(ctx, pkg)
	if err != nil {
		return nil, err
	}

	var tags []registry.Tag
	for _, version := range versions {
		for _, name := range version.Metadata.Container.Tags {
			tags = append(tags, registry.Tag{
				Name:      name,
				Digest:    digest.Digest(version.Name),
				CreatedAt: version.CreatedAt,
				UpdatedAt: version.UpdatedAt,
			})
		}
	}
	return tags, nil
}

func (p *Provider) GetManifest(ctx context.Context, pkg registry.Package, ref string) (*registry.Manifest, error) {
	return p.registry.Manifest(ctx, p.repo(pkg), ref)
}

func (p *Provider) GetPackageManifests(ctx context.Context, pkg registry.Package) ([]*registry.Manifest, error) {
	versions, err := p.listVersions(ctx, pkg)
	if err != nil {
		return nil, err
	}

	var manifests []*registry.Manifest
	for _, version := range versions {
		if len(version.Metadata.Container.Tags) > 0 {
			continue
		}
		manifest, err := p.registry.Manifest(ctx, p.repo(pkg), version.Name)
		if err != nil {
			// The version list can lag behind the registry; treat a missing
			// manifest as already gone.
			if httpc.IsNotFound(err) {
				log.Debug().Str("digest", version.Name).Msg("Version has no manifest, skipping")
				continue
			}
			return nil, err
		}
		manifest.CreatedAt = version.CreatedAt
		manifest.UpdatedAt = version.UpdatedAt
		manifests = append(manifests, manifest)
	}
	return manifests, nil
}

// DeleteTag is a policy rejection on GHCR: a tag only disappears when its
// version is deleted, and a version shared by several tags cannot be untagged
// individually. Sole tags succeed as a no-op since the subsequent manifest
// deletion removes them.
func (p *Provider) DeleteTag(ctx context.Context, pkg registry.Package, tag string) error {
	versions, err := p.listVersions(ctx, pkg)
	if err != nil {
		return err
	}
	for _, version := range versions {
		tags := version.Metadata.Container.Tags
		for _, name := range tags {
			if name != tag {
				continue
			}
			if len(tags) > 1 {
				return fmt.Errorf("ghcr cannot delete tag %q individually: version %s carries %d tags",
					tag, version.Name, len(tags))
			}
			return nil
		}
	}
	return fmt.Errorf("tag %q not found in package %s", tag, pkg.Name)
}

func (p *Provider) DeleteManifest(ctx context.Context, pkg registry.Package, dgst digest.Digest) error {
	versions, err := p.listVersions(ctx, pkg)
	if err != nil {
		return err
	}

	var id int64 = -1
	for _, version := range versions {
		if version.Name == dgst.String() {
			id = version.ID
			break
		}
	}
	if id < 0 {
		return fmt.Errorf("no package version found for digest %s", dgst)
	}

	ownerType, err := p.resolveOwnerType(ctx)
	if err != nil {
		return err
	}
	endpoint := p.packagesURL(ownerType, fmt.Sprintf("/container/%s/versions/%d", url.PathEscape(pkg.Name), id))
	resp, err := p.http.Do(ctx, http.MethodDelete, endpoint, p.apiHeaders(), nil)
	if err != nil {
		return fmt.Errorf("failed to delete version %d of %s: %w", id, pkg.Name, err)
	}
	resp.Body.Close()

	p.mu.Lock()
	delete(p.versions, pkg.Name)
	p.mu.Unlock()
	return nil
}

func (p *Provider) GetReferrers(ctx context.Context, pkg registry.Package, dgst digest.Digest) ([]registry.Referrer, error) {
	return p.registry.Referrers(ctx, p.repo(pkg), dgst)
}

func (p *Provider) SupportsFeature(feature registry.Feature) bool {
	switch feature {
	case registry.FeatureMultiArch, registry.FeatureReferrers,
		registry.FeatureAttestation, registry.FeatureCosign:
		return true
	}
	return false
}

func (p *Provider) KnownRegistryURLs() []string {
	return []string{"ghcr.io", "containers.pkg.github.com"}
}

func (p *Provider) repo(pkg registry.Package) string {
	return strings.ToLower(p.owner + "/" + pkg.Name)
}
