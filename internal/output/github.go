// Package output publishes run results to the GitHub Actions environment:
// step outputs via GITHUB_OUTPUT and a markdown run summary via
// GITHUB_STEP_SUMMARY. Outside Actions both destinations are absent and the
// writers are no-ops.
package output

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/engine"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup/pkg/bytesize"
)

// WriteOutputs appends the result's counters and tag lists to the
// GITHUB_OUTPUT file in key=value format.
func WriteOutputs(res *engine.Result) error {
	path := os.Getenv("GITHUB_OUTPUT")
	if path == "" {
		return nil
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open GITHUB_OUTPUT: %w", err)
	}
	defer file.Close()

	outputs := []struct {
		key   string
		value string
	}{
		{"deleted-count", fmt.Sprintf("%d", res.DeletedCount)},
		{"kept-count", fmt.Sprintf("%d", res.KeptCount)},
		{"reclaimed-bytes", fmt.Sprintf("%d", res.ReclaimedBytes)},
		{"deleted-tags", strings.Join(res.DeletedTags, ",")},
		{"kept-tags", strings.Join(res.KeptTags, ",")},
		{"error-count", fmt.Sprintf("%d", len(res.Errors))},
	}
	for _, out := range outputs {
		if _, err := fmt.Fprintf(file, "%s=%s\n", out.key, out.value); err != nil {
			return fmt.Errorf("failed to write GITHUB_OUTPUT: %w", err)
		}
	}

	log.Debug().Str("path", path).Msg("Wrote action outputs")
	return nil
}

// WriteSummary appends a markdown summary of the run to GITHUB_STEP_SUMMARY.
func WriteSummary(res *engine.Result, dryRun bool) error {
	path := os.Getenv("GITHUB_STEP_SUMMARY")
	if path == "" {
		return nil
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open GITHUB_STEP_SUMMARY: %w", err)
	}
	defer file.Close()

	var b strings.Builder
	title := "Registry cleanup"
	if dryRun {
		title += " (dry run)"
	}
	fmt.Fprintf(&b, "## %s\n\n", title)
	fmt.Fprintf(&b, "| Deleted | Kept | Reclaimed | Errors |\n|---|---|---|---|\n| %d | %d | %s | %d |\n\n",
		res.DeletedCount, res.KeptCount, bytesize.Format(res.ReclaimedBytes), len(res.Errors))

	if len(res.DeletedTags) > 0 {
		fmt.Fprintf(&b, "**Deleted tags:** %s\n\n", strings.Join(res.DeletedTags, ", "))
	}
	if len(res.Errors) > 0 {
		b.WriteString("### Errors\n\n")
		for _, msg := range res.Errors {
			fmt.Fprintf(&b, "- %s\n", msg)
		}
		b.WriteString("\n")
	}

	if _, err := file.WriteString(b.String()); err != nil {
		return fmt.Errorf("failed to write GITHUB_STEP_SUMMARY: %w", err)
	}
	return nil
}
