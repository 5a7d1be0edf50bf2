// Package cmd wires the CLI. The same binary serves as a GitHub Action step
// (options arriving as INPUT_* environment variables) and as a standalone
// tool (options arriving as flags or a policy file).
package cmd

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	_ "github.com/joho/godotenv/autoload"
)

// Build metadata, injected by the linker.
var (
	BuildVersion = "dev"
	BuildCommit  = "none"
	BuildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "docker-cleanup",
	Short: "Container registry cleanup for GHCR, Gitea, Docker Hub and OCI registries",
	Long: `docker-cleanup deletes stale images from a container registry while
keeping multi-arch images, attestations and signatures intact. It discovers
the packages of an owner, builds the manifest dependency graph and applies
the configured retention policy before deleting anything.`,
}

// Execute runs the CLI with the given build metadata.
func Execute(version, commit, date string) error {
	if version != "" {
		BuildVersion = version
	}
	if commit != "" {
		BuildCommit = commit
	}
	if date != "" {
		BuildDate = date
	}
	return rootCmd.Execute()
}

// setupLogging configures the global zerolog logger. JSON output when running
// under GitHub Actions, console output otherwise.
func setupLogging(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	zerolog.TimeFieldFormat = time.RFC3339

	if os.Getenv("GITHUB_ACTIONS") != "true" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
