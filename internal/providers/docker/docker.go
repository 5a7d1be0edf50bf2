// Package docker implements the local daemon backend. It maps the daemon's
// image store onto the registry model: repositories become packages, repo
// tags become tags and image IDs stand in for manifest digests.
package docker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/opencontainers/go-digest"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/registry"
)

// API is the slice of the daemon client the backend uses.
type API interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error)
}

// Provider cleans images in a local Docker (or Podman) daemon.
type Provider struct {
	client API
	owner  string
}

// Options configures the daemon backend.
type Options struct {
	// Owner optionally restricts listings to "owner/..." repositories.
	Owner string
	// Client overrides the daemon client, for tests. When nil the client
	// comes from the environment (DOCKER_HOST and friends).
	Client API
}

// New builds a daemon backend.
func New(opts Options) (*Provider, error) {
	api := opts.Client
	if api == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("failed to create docker client: %w", err)
		}
		api = cli
	}
	return &Provider{client: api, owner: opts.Owner}, nil
}

func (p *Provider) Authenticate(ctx context.Context) error {
	if _, err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon not reachable: %w", err)
	}
	return nil
}

// summaries lists all images including dangling ones.
func (p *Provider) summaries(ctx context.Context) ([]image.Summary, error) {
	images, err := p.client.ImageList(ctx, image.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	return images, nil
}

func (p *Provider) ListPackages(ctx context.Context) ([]registry.Package, error) {
	images, err := p.summaries(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var pkgs []registry.Package
	for _, img := range images {
		for _, ref := range img.RepoTags {
			repo, _, ok := splitRepoTag(ref)
			if !ok || seen[repo] {
				continue
			}
			if p.owner != "" && !strings.HasPrefix(repo, p.owner+"/") {
				continue
			}
			seen[repo] = true
			pkgs = append(pkgs, registry.Package{ID: repo, Name: repo, Owner: p.owner})
		}
	}
	return pkgs, nil
}

func (p *Provider) ListTags(ctx context.Context, pkg registry.Package) ([]registry.Tag, error) {
	images, err := p.summaries(ctx)
	if err != nil {
		return nil, err
	}

	var tags []registry.Tag
	for _, img := range images {
		for _, ref := range img.RepoTags {
			repo, tag, ok := splitRepoTag(ref)
			if !ok || repo != pkg.Name {
				continue
			}
			created := time.Unix(img.Created, 0).UTC()
			tags = append(tags, registry.Tag{
				Name:      tag,
				Digest:    digest.Digest(img.ID),
				CreatedAt: created,
				UpdatedAt: created,
			})
		}
	}
	return tags, nil
}

// GetManifest inspects an image reference. The daemon has no manifest bytes
// to serve, so the image ID stands in for the digest.
func (p *Provider) GetManifest(ctx context.Context, pkg registry.Package, ref string) (*registry.Manifest, error) {
	target := ref
	if !strings.HasPrefix(ref, "sha256:") {
		target = pkg.Name + ":" + ref
	}
	inspect, err := p.client.ImageInspect(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", target, err)
	}
	return &registry.Manifest{
		Digest:    digest.Digest(inspect.ID),
		MediaType: registry.MediaTypeDockerManifest,
		Size:      inspect.Size,
	}, nil
}

// GetPackageManifests reports the dangling images whose repo digests still
// point at the package.
func (p *Provider) GetPackageManifests(ctx context.Context, pkg registry.Package) ([]*registry.Manifest, error) {
	images, err := p.summaries(ctx)
	if err != nil {
		return nil, err
	}

	var manifests []*registry.Manifest
	for _, img := range images {
		if tagged(img) {
			continue
		}
		for _, repoDigest := range img.RepoDigests {
			repo, _, found := strings.Cut(repoDigest, "@")
			if !found || repo != pkg.Name {
				continue
			}
			created := time.Unix(img.Created, 0).UTC()
			manifests = append(manifests, &registry.Manifest{
				Digest:    digest.Digest(img.ID),
				MediaType: registry.MediaTypeDockerManifest,
				Size:      img.Size,
				CreatedAt: created,
				UpdatedAt: created,
			})
			break
		}
	}
	return manifests, nil
}

func (p *Provider) DeleteTag(ctx context.Context, pkg registry.Package, tag string) error {
	ref := pkg.Name + ":" + tag
	if _, err := p.client.ImageRemove(ctx, ref, image.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove %s: %w", ref, err)
	}
	return nil
}

// DeleteManifest removes the image by ID. Untagging already happened, so a
// missing image is fine.
func (p *Provider) DeleteManifest(ctx context.Context, pkg registry.Package, dgst digest.Digest) error {
	_, err := p.client.ImageRemove(ctx, dgst.String(), image.RemoveOptions{Force: true})
	if err != nil && client.IsErrNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to remove image %s: %w", dgst, err)
	}
	return nil
}

// GetReferrers returns nothing: the daemon's store has no referrer notion.
func (p *Provider) GetReferrers(ctx context.Context, pkg registry.Package, dgst digest.Digest) ([]registry.Referrer, error) {
	return nil, nil
}

func (p *Provider) SupportsFeature(feature registry.Feature) bool {
	return false
}

func (p *Provider) KnownRegistryURLs() []string { return nil }

func splitRepoTag(ref string) (repo, tag string, ok bool) {
	if ref == "<none>:<none>" {
		return "", "", false
	}
	idx := strings.LastIndex(ref, ":")
	if idx < 0 {
		return "", "", false
	}
	return ref[:idx], ref[idx+1:], true
}

func tagged(img image.Summary) bool {
	for _, ref := range img.RepoTags {
		if ref != "<none>:<none>" {
			return true
		}
	}
	return false
}
