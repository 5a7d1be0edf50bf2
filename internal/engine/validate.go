package engine

import (
	"context"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/images"
)

// validateImages is the post-deletion integrity check: for every surviving
// multi-arch image it re-reads the index from the registry and counts how
// many declared children still resolve. Mismatches are warned, never failed;
// the check is read-only.
func (e *Engine) validateImages(ctx context.Context, set *images.Set, deleted map[string]bool) {
	for _, img := range set.All() {
		if !img.MultiArch || deleted[imageKey(img)] {
			continue
		}

		manifest, err := e.provider.GetManifest(ctx, img.Package, img.Digest().String())
		if err != nil {
			e.log.Warn().Err(err).Str("image", img.Ref()).Msg("Validation could not re-read index")
			continue
		}

		declared := manifest.ChildDigests()
		actual := 0
		for _, childDigest := range declared {
			if _, err := e.provider.GetManifest(ctx, img.Package, childDigest.String()); err == nil {
				actual++
			}
		}

		if actual != len(declared) {
			e.log.Warn().
				Str("image", img.Ref()).
				Int("expected", len(declared)).
				Int("actual", actual).
				Msg("Multi-arch image is missing children after cleanup")
		}
	}
}
