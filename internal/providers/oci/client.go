// Package oci implements the generic OCI distribution API backend and the
// registry client the GHCR and Gitea backends reuse for manifest access.
package oci

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/registry"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup/pkg/httpc"
)

// acceptedManifestTypes is sent on every manifest request so registries
// return indexes and manifests in both OCI and Docker flavors.
var acceptedManifestTypes = strings.Join([]string{
	ocispec.MediaTypeImageIndex,
	ocispec.MediaTypeImageManifest,
	registry.MediaTypeDockerManifestList,
	registry.MediaTypeDockerManifest,
}, ", ")

// AuthFunc returns the Authorization header value for a repository, e.g. a
// bearer token obtained from the registry's token endpoint. A nil AuthFunc
// sends unauthenticated requests.
type AuthFunc func(ctx context.Context, repo string) (string, error)

// Client speaks the OCI distribution API against one registry host.
type Client struct {
	http *httpc.Client
	base string
	auth AuthFunc
}

// NewClient builds a distribution API client for the given base URL
// ("https://registry.example.com").
func NewClient(httpClient *httpc.Client, baseURL string, auth AuthFunc) *Client {
	return &Client{http: httpClient, base: strings.TrimSuffix(baseURL, "/"), auth: auth}
}

func (c *Client) headers(ctx context.Context, repo string, accept string) (http.Header, error) {
	h := http.Header{}
	if accept != "" {
		h.Set("Accept", accept)
	}
	if c.auth != nil {
		value, err := c.auth(ctx, repo)
		if err != nil {
			return nil, fmt.Errorf("failed to authorize for %s: %w", repo, err)
		}
		if value != "" {
			h.Set("Authorization", value)
		}
	}
	return h, nil
}

// Catalog lists the repositories the registry exposes via /v2/_catalog.
func (c *Client) Catalog(ctx context.Context) ([]string, error) {
	var repos []string
	url := fmt.Sprintf("%s/v2/_catalog?n=100", c.base)
	for url != "" {
		h, err := c.headers(ctx, "", "")
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(ctx, http.MethodGet, url, h, nil)
		if err != nil {
			return nil, err
		}
		var page struct {
			Repositories []string `json:"repositories"`
		}
		err = json.NewDecoder(resp.Body).Decode(&page)
		next := nextLink(resp, c.base)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode catalog: %w", err)
		}
		repos = append(repos, page.Repositories...)
		url = next
	}
	return repos, nil
}

// Tags lists the tag names of a repository, following pagination links.
func (c *Client) Tags(ctx context.Context, repo string) ([]string, error) {
	var tags []string
	url := fmt.Sprintf("%s/v2/%s/tags/list?n=100", c.base, repo)
	for url != "" {
		h, err := c.headers(ctx, repo, "")
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(ctx, http.MethodGet, url, h, nil)
		if err != nil {
			return nil, err
		}
		var page struct {
			Tags []string `json:"tags"`
		}
		err = json.NewDecoder(resp.Body).Decode(&page)
		next := nextLink(resp, c.base)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode tag list for %s: %w", repo, err)
		}
		tags = append(tags, page.Tags...)
		url = next
	}
	return tags, nil
}

// Manifest fetches a manifest by tag or digest and decodes the fields
// classification needs. The digest comes from the Docker-Content-Digest
// header when present and is computed from the body otherwise.
func (c *Client) Manifest(ctx context.Context, repo, ref string) (*registry.Manifest, error) {
	h, err := c.headers(ctx, repo, acceptedManifestTypes)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(ctx, http.MethodGet, fmt.Sprintf("%s/v2/%s/manifests/%s", c.base, repo, ref), h, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s/%s: %w", repo, ref, err)
	}

	var decoded struct {
		MediaType string               `json:"mediaType"`
		Config    *ocispec.Descriptor  `json:"config"`
		Layers    []ocispec.Descriptor `json:"layers"`
		Manifests []ocispec.Descriptor `json:"manifests"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s/%s: %w", repo, ref, err)
	}

	dgst := digest.Digest(resp.Header.Get("Docker-Content-Digest"))
	if dgst == "" {
		dgst = digest.FromBytes(body)
	}
	mediaType := decoded.MediaType
	if mediaType == "" {
		mediaType = resp.Header.Get("Content-Type")
	}

	return &registry.Manifest{
		Digest:    dgst,
		MediaType: mediaType,
		Size:      int64(len(body)),
		Config:    decoded.Config,
		Layers:    decoded.Layers,
		Manifests: decoded.Manifests,
	}, nil
}

// Referrers returns the artifacts referring to dgst. Registries without the
// referrers API are handled through the fallback tag schema: a tag named
// "sha256-<hex>" pointing at an index of the referrer descriptors.
func (c *Client) Referrers(ctx context.Context, repo string, dgst digest.Digest) ([]registry.Referrer, error) {
	h, err := c.headers(ctx, repo, ocispec.MediaTypeImageIndex)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(ctx, http.MethodGet, fmt.Sprintf("%s/v2/%s/referrers/%s", c.base, repo, dgst), h, nil)
	if httpc.IsNotFound(err) {
		return c.referrersByTagSchema(ctx, repo, dgst)
	}
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var index struct {
		Manifests []struct {
			Digest       digest.Digest `json:"digest"`
			MediaType    string        `json:"mediaType"`
			ArtifactType string        `json:"artifactType"`
			Size         int64         `json:"size"`
		} `json:"manifests"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&index); err != nil {
		return nil, fmt.Errorf("failed to decode referrers for %s: %w", dgst, err)
	}

	referrers := make([]registry.Referrer, 0, len(index.Manifests))
	for _, m := range index.Manifests {
		referrers = append(referrers, registry.Referrer{
			Digest:       m.Digest,
			MediaType:    m.MediaType,
			ArtifactType: m.ArtifactType,
			Size:         m.Size,
		})
	}
	return referrers, nil
}

func (c *Client) referrersByTagSchema(ctx context.Context, repo string, dgst digest.Digest) ([]registry.Referrer, error) {
	tag := strings.Replace(dgst.String(), ":", "-", 1)
	manifest, err := c.Manifest(ctx, repo, tag)
	if httpc.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	referrers := make([]registry.Referrer, 0, len(manifest.Manifests))
	for _, desc := range manifest.Manifests {
		referrers = append(referrers, registry.Referrer{
			Digest:       desc.Digest,
			MediaType:    desc.MediaType,
			ArtifactType: desc.ArtifactType,
			Size:         desc.Size,
		})
	}
	return referrers, nil
}

// DeleteManifest removes a manifest by tag or digest reference.
func (c *Client) DeleteManifest(ctx context.Context, repo, ref string) error {
	h, err := c.headers(ctx, repo, "")
	if err != nil {
		return err
	}
	resp, err := c.http.Do(ctx, http.MethodDelete, fmt.Sprintf("%s/v2/%s/manifests/%s", c.base, repo, ref), h, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// nextLink resolves the RFC 5988 Link header used for registry pagination.
func nextLink(resp *http.Response, base string) string {
	link := resp.Header.Get("Link")
	if link == "" {
		return ""
	}
	for _, part := range strings.Split(link, ",") {
		fields := strings.Split(part, ";")
		if len(fields) < 2 || !strings.Contains(fields[1], `rel="next"`) {
			continue
		}
		url := strings.Trim(strings.TrimSpace(fields[0]), "<>")
		if strings.HasPrefix(url, "/") {
			url = base + url
		}
		return url
	}
	return ""
}
