package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/config"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/engine"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/output"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/providers"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup/pkg/httpc"
)

var policyFile string

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Run a cleanup against the configured registry",
	Long: `Discover the configured packages, apply the retention policy and delete
what it selects. With --dry-run the run reports what would be deleted
without touching the registry.`,
	RunE: runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)

	flags := cleanCmd.Flags()
	flags.String("registry", "", "registry type: ghcr, gitea, dockerhub, oci or docker (default: detect from URL)")
	flags.String("registry-url", "", "registry base URL for gitea and oci registries")
	flags.String("owner", "", "user or organization owning the packages")
	flags.String("token", "", "registry access token")
	flags.StringSlice("packages", nil, "package names or glob/regex patterns to clean")

	flags.Bool("dry-run", false, "report what would be deleted without deleting")
	flags.String("keep-n-tagged", "", "keep the newest N tagged images per package")
	flags.String("keep-n-untagged", "", "keep the newest N untagged images per package")
	flags.Bool("delete-untagged", false, "delete all untagged images")
	flags.StringSlice("delete-tags", nil, "tag names or glob patterns to delete")
	flags.StringSlice("exclude-tags", nil, "tag names or glob patterns never to delete")
	flags.String("older-than", "", "only delete images older than this age, e.g. 30d, 4w, 6m, 1y")

	flags.Bool("delete-ghost-images", false, "delete indexes whose children are all missing")
	flags.Bool("delete-partial-images", false, "delete indexes with missing children")
	flags.Bool("delete-orphaned-images", false, "delete images no tag or parent references")

	flags.Bool("validate", false, "re-read surviving multi-arch images after deletion")
	flags.Int("retry", 3, "retry attempts for failed registry requests")
	flags.Int("throttle", 1000, "base retry delay in milliseconds")
	flags.String("log-level", "info", "log level: trace, debug, info, warn, error")

	flags.StringVar(&policyFile, "policy-file", "", "YAML policy file with per-package rules")
}

func runClean(cmd *cobra.Command, args []string) error {
	v := viper.New()
	config.Bind(v)
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	base, err := config.Load(v)
	if err != nil {
		return err
	}
	setupLogging(base.LogLevel)

	configs := []*config.Config{base}
	if policyFile != "" {
		policy, err := config.LoadPolicy(policyFile)
		if err != nil {
			return err
		}
		if configs, err = policy.Configs(base); err != nil {
			return err
		}
		log.Info().Str("file", policyFile).Int("rules", len(configs)).Msg("Loaded cleanup policy")
	}

	httpClient := httpc.New(httpc.Options{
		Retries:   base.Retry,
		Throttle:  base.Throttle,
		UserAgent: "docker-cleanup/" + BuildVersion,
	})

	total := &engine.Result{}
	for _, cfg := range configs {
		provider, err := providers.New(httpClient, cfg)
		if err != nil {
			return err
		}
		res, err := engine.New(provider, cfg).Run(cmd.Context())
		if err != nil {
			return err
		}
		total.Merge(res)
	}

	if err := output.WriteOutputs(total); err != nil {
		log.Warn().Err(err).Msg("Failed to write action outputs")
	}
	if err := output.WriteSummary(total, base.DryRun); err != nil {
		log.Warn().Err(err).Msg("Failed to write step summary")
	}

	if total.Failed(base.DryRun) {
		for _, msg := range total.Errors {
			fmt.Fprintln(os.Stderr, "error:", msg)
		}
		return fmt.Errorf("cleanup finished with %d errors", len(total.Errors))
	}
	return nil
}
