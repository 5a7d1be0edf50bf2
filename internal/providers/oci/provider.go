package oci

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/registry"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup/pkg/httpc"
)

// Provider is the generic OCI distribution API backend for self-hosted
// registries (distribution/distribution, Harbor, Zot and friends).
type Provider struct {
	client *Client
	owner  string
}

// Options configures the generic backend.
type Options struct {
	// URL is the registry base URL, e.g. "https://registry.example.com".
	URL string
	// Owner optionally scopes catalog listings to "owner/..." repositories.
	Owner string
	// Username and Token are sent as basic credentials when set.
	Username string
	Token    string
}

// New builds the generic OCI backend.
func New(httpClient *httpc.Client, opts Options) (*Provider, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("the oci registry type requires a registry URL")
	}

	var auth AuthFunc
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

	return &Provider{
		client: NewClient(httpClient, opts.URL, auth),
		owner:  opts.Owner,
	}, nil
}

func (p *Provider) Authenticate(ctx context.Context) error {
	// The /v2/ base endpoint answers 200 for valid credentials.
	h, err := p.client.headers(ctx, "", "")
	if err != nil {
		return err
	}
	resp, err := p.client.http.Do(ctx, http.MethodGet, p.client.base+"/v2/", h, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (p *Provider) ListPackages(ctx context.Context) ([]registry.Package, error) {
	repos, err := p.client.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	var pkgs []registry.Package
	for _, repo := range repos {
		if p.owner != "" && !strings.HasPrefix(repo, p.owner+"/") {
			continue
		}
		pkgs = append(pkgs, registry.Package{ID: repo, Name: repo, Owner: p.owner})
	}
	return pkgs, nil
}

func (p *Provider) ListTags(ctx context.Context, pkg registry.Package) ([]registry.Tag, error) {
	names, err := p.client.Tags(ctx, p.repo(pkg))
	if err != nil {
		return nil, err
	}
	tags := make([]registry.Tag, 0, len(names))
	for _, name := range names {
		tags = append(tags, registry.Tag{Name: name})
	}
	return tags, nil
}

func (p *Provider) GetManifest(ctx context.Context, pkg registry.Package, ref string) (*registry.Manifest, error) {
	return p.client.Manifest(ctx, p.repo(pkg), ref)
}

// GetPackageManifests returns nothing: the distribution API cannot enumerate
// manifests that no tag reaches, so untagged discovery is limited to the
// children of tagged indexes.
func (p *Provider) GetPackageManifests(ctx context.Context, pkg registry.Package) ([]*registry.Manifest, error) {
	return nil, nil
}

// DeleteTag issues a DELETE on the tag reference. Registries that only
// implement digest deletion reject this; the error is surfaced so the engine
// records it and moves on.
func (p *Provider) DeleteTag(ctx context.Context, pkg registry.Package, tag string) error {
	if err := p.client.DeleteManifest(ctx, p.repo(pkg), tag); err != nil {
		return fmt.Errorf("registry rejected tag deletion (digest-only deletion?): %w", err)
	}
	return nil
}

func (p *Provider) DeleteManifest(ctx context.Context, pkg registry.Package, dgst digest.Digest) error {
	return p.client.DeleteManifest(ctx, p.repo(pkg), dgst.String())
}

func (p *Provider) GetReferrers(ctx context.Context, pkg registry.Package, dgst digest.Digest) ([]registry.Referrer, error) {
	return p.client.Referrers(ctx, p.repo(pkg), dgst)
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
	return pkg.Name
}
