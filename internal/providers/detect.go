// Package providers builds the registry backend a cleanup run talks to.
package providers

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/config"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/providers/docker"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/providers/dockerhub"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/providers/ghcr"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/providers/gitea"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/providers/oci"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/registry"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup/pkg/httpc"
)

// New builds the backend named by cfg.Registry, falling back to URL
// detection and finally to the generic OCI backend when no type is set.
func New(httpClient *httpc.Client, cfg *config.Config) (registry.Provider, error) {
	registryType := cfg.Registry
	if registryType == "" {
		registryType = detect(cfg.RegistryURL)
		log.Debug().Str("registry", registryType).Str("url", cfg.RegistryURL).
			Msg("Detected registry type from URL")
	}

	switch registryType {
	case config.RegistryGHCR:
		return ghcr.New(httpClient, ghcr.Options{Owner: cfg.Owner, Token: cfg.Token})
	case config.RegistryGitea:
		return gitea.New(httpClient, gitea.Options{URL: cfg.RegistryURL, Owner: cfg.Owner, Token: cfg.Token})
	case config.RegistryDockerHub:
		return dockerhub.New(httpClient, dockerhub.Options{Owner: cfg.Owner, Token: cfg.Token})
	case config.RegistryDocker:
		return docker.New(docker.Options{Owner: cfg.Owner})
	case config.RegistryOCI:
		return oci.New(httpClient, oci.Options{URL: cfg.RegistryURL, Owner: cfg.Owner, Token: cfg.Token})
	default:
		return nil, fmt.Errorf("unknown registry type %q", registryType)
	}
}

// detect maps a registry URL onto a backend type by matching the hosts each
// backend is known to serve.
func detect(registryURL string) string {
	host := strings.TrimPrefix(strings.TrimPrefix(registryURL, "https://"), "http://")
	host = strings.SplitN(host, "/", 2)[0]

	known := map[string][]string{
		config.RegistryGHCR:      (&ghcr.Provider{}).KnownRegistryURLs(),
		config.RegistryDockerHub: (&dockerhub.Provider{}).KnownRegistryURLs(),
	}
	for registryType, hosts := range known {
		for _, candidate := range hosts {
			if strings.EqualFold(host, candidate) {
				return registryType
			}
		}
	}
	if registryURL == "" {
		return config.RegistryGHCR
	}
	return config.RegistryOCI
}
