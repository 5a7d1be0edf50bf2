package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/config"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/providers/ghcr"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/providers/oci"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup/pkg/httpc"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"", config.RegistryGHCR},
		{"https://ghcr.io", config.RegistryGHCR},
		{"ghcr.io", config.RegistryGHCR},
		{"https://hub.docker.com", config.RegistryDockerHub},
		{"docker.io", config.RegistryDockerHub},
		{"https://registry.example.com", config.RegistryOCI},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, detect(tt.url))
		})
	}
}

func TestNew_ExplicitType(t *testing.T) {
	httpClient := httpc.New(httpc.Options{})

	provider, err := New(httpClient, &config.Config{
		Registry: config.RegistryGHCR,
		Owner:    "acme",
		Token:    "x",
	})
	require.NoError(t, err)
	assert.IsType(t, &ghcr.Provider{}, provider)

	provider, err = New(httpClient, &config.Config{
		Registry:    config.RegistryOCI,
		RegistryURL: "https://registry.example.com",
	})
	require.NoError(t, err)
	assert.IsType(t, &oci.Provider{}, provider)
}

func TestNew_GHCRNeedsToken(t *testing.T) {
	_, err := New(httpc.New(httpc.Options{}), &config.Config{
		Registry: config.RegistryGHCR,
		Owner:    "acme",
	})
	assert.Error(t, err)
}
