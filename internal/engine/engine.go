// Package engine orchestrates a cleanup run: discover the images of the
// requested packages, build the multi-arch graph, apply the filter pipeline,
// delete the selection and validate what survived. Partial failure is the
// default policy: per-tag, per-manifest and per-package errors are recorded
// on the result and skipped; only a discovery-level failure aborts the run.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/config"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/filter"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/images"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/registry"
)

// Engine drives one cleanup run against a single provider. Engines hold no
// state between runs; every run rebuilds its model from the registry.
type Engine struct {
	provider registry.Provider
	cfg      *config.Config
	log      zerolog.Logger
}

// New builds an engine for the given provider and configuration.
func New(provider registry.Provider, cfg *config.Config) *Engine {
	return &Engine{
		provider: provider,
		cfg:      cfg,
		log:      log.With().Str("run_id", uuid.NewString()[:8]).Logger(),
	}
}

// Run executes the cleanup state machine and returns the result. The error
// return is non-nil only for fatal discovery failures; everything else is
// recorded on the result.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	res := &Result{}

	set, err := e.discover(ctx, res)
	if err != nil {
		return nil, err
	}
	e.log.Info().Int("images", set.Len()).Msg("Discovery complete")

	images.Link(set)

	sel := filter.New(e.cfg.FilterOptions()).Apply(set)
	e.log.Info().
		Int("selected", len(sel.Delete)).
		Int("kept", len(sel.Keep)).
		Bool("dry_run", e.cfg.DryRun).
		Msg("Filter pipeline complete")

	deleted := e.deleteImages(ctx, set, sel, res)

	if e.cfg.Validate {
		e.validateImages(ctx, set, deleted)
	}

	for _, img := range set.All() {
		if !deleted[imageKey(img)] {
			res.KeptCount++
			res.KeptTags = append(res.KeptTags, img.TagNames()...)
		}
	}

	e.log.Info().
		Int("deleted", res.DeletedCount).
		Int("kept", res.KeptCount).
		Int("errors", len(res.Errors)).
		Msg("Cleanup run finished")
	return res, nil
}

// discover assembles the full image set for the selected packages. Failures
// below the package level are warned and recorded; a package that cannot be
// listed at all is skipped the same way.
func (e *Engine) discover(ctx context.Context, res *Result) (*images.Set, error) {
	if err := e.provider.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	pkgs, err := e.selectPackages(ctx)
	if err != nil {
		return nil, err
	}

	set := images.NewSet()
	for _, pkg := range pkgs {
		if err := e.discoverPackage(ctx, pkg, set, res); err != nil {
			e.log.Warn().Err(err).Str("package", pkg.Name).Msg("Skipping package")
			res.recordError("package %s: %v", pkg.Name, err)
		}
	}
	return set, nil
}

// selectPackages expands the configured package list. Literal names are used
// as-is; names containing glob metacharacters, or wrapped in slashes for a
// regular expression, are expanded against the provider's full package list.
func (e *Engine) selectPackages(ctx context.Context) ([]registry.Package, error) {
	if len(e.cfg.Packages) == 0 {
		pkgs, err := e.provider.ListPackages(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list packages: %w", err)
		}
		return pkgs, nil
	}

	var literals []registry.Package
	var patterns []string
	for _, name := range e.cfg.Packages {
		if isPattern(name) {
			patterns = append(patterns, name)
		} else {
			literals = append(literals, registry.Package{Name: name, Owner: e.cfg.Owner})
		}
	}
	if len(patterns) == 0 {
		return literals, nil
	}

	all, err := e.provider.ListPackages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages for pattern expansion: %w", err)
	}

	seen := make(map[string]bool, len(literals))
	for _, pkg := range literals {
		seen[pkg.Name] = true
	}
	selected := literals
	for _, pattern := range patterns {
		matcher, err := newPackageMatcher(pattern)
		if err != nil {
			return nil, err
		}
		for _, pkg := range all {
			if !seen[pkg.Name] && matcher(pkg.Name) {
				seen[pkg.Name] = true
				selected = append(selected, pkg)
			}
		}
	}
	return selected, nil
}

func isPattern(name string) bool {
	if strings.HasPrefix(name, "/") && strings.HasSuffix(name, "/") && len(name) > 1 {
		return true
	}
	return strings.ContainsAny(name, "*?[")
}

func newPackageMatcher(pattern string) (func(string) bool, error) {
	if strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/") && len(pattern) > 1 {
		re, err := regexp.Compile(pattern[1 : len(pattern)-1])
		if err != nil {
			return nil, fmt.Errorf("invalid package regexp %s: %w", pattern, err)
		}
		return re.MatchString, nil
	}
	return func(name string) bool {
		return filter.MatchesPattern(pattern, name)
	}, nil
}

// discoverPackage fetches the package's tags, resolves each tag's manifest,
// picks up untagged manifests not covered by any tag and, when the provider
// supports it, the referrers of every image. Per-tag and per-manifest
// failures are warned and recorded without aborting the package.
func (e *Engine) discoverPackage(ctx context.Context, pkg registry.Package, set *images.Set, res *Result) error {
	tags, err := e.provider.ListTags(ctx, pkg)
	if err != nil {
		return fmt.Errorf("failed to list tags: %w", err)
	}

	var pkgImages []*images.Image
	for _, tag := range tags {
		manifest, err := e.provider.GetManifest(ctx, pkg, tag.Name)
		if err != nil {
			e.log.Warn().Err(err).Str("package", pkg.Name).Str("tag", tag.Name).Msg("Skipping tag")
			res.recordError("tag %s/%s: %v", pkg.Name, tag.Name, err)
			continue
		}
		img := set.GetOrCreate(pkg, manifest)
		img.Tags = append(img.Tags, tag)
		applyTimestamps(img, tag.CreatedAt, tag.UpdatedAt)
		pkgImages = appendImage(pkgImages, img)
	}

	manifests, err := e.provider.GetPackageManifests(ctx, pkg)
	if err != nil {
		e.log.Warn().Err(err).Str("package", pkg.Name).Msg("Failed to list untagged manifests")
		res.recordError("package %s manifests: %v", pkg.Name, err)
	} else {
		for _, manifest := range manifests {
			img := set.GetOrCreate(pkg, manifest)
			// Prefer the manifest's own timestamps so keep-N ordering can
			// tell untagged images apart; the package timestamps are the
			// fallback for backends that track none per digest.
			created, updated := manifest.CreatedAt, manifest.UpdatedAt
			if created.IsZero() && updated.IsZero() {
				created, updated = pkg.CreatedAt, pkg.UpdatedAt
			}
			applyTimestamps(img, created, updated)
			pkgImages = appendImage(pkgImages, img)
		}
	}

	if e.provider.SupportsFeature(registry.FeatureReferrers) {
		for _, img := range pkgImages {
			referrers, err := e.provider.GetReferrers(ctx, pkg, img.Digest())
			if err != nil {
				e.log.Warn().Err(err).Str("digest", img.Digest().String()).Msg("Failed to fetch referrers")
				res.recordError("referrers %s@%s: %v", pkg.Name, img.Digest(), err)
				continue
			}
			img.Referrers = referrers
		}
	}

	e.log.Debug().Str("package", pkg.Name).Int("images", len(pkgImages)).Msg("Package discovered")
	return nil
}

// deleteImages executes (or, under dry-run, reports) the deletion selection:
// per image its tags first, then the manifest, then the cascade to resolved
// children that no surviving parent still references. Returns the set of
// image keys that were (or would be) deleted.
func (e *Engine) deleteImages(ctx context.Context, set *images.Set, sel filter.Selection, res *Result) map[string]bool {
	selected := make(map[string]bool, len(sel.Delete))
	for _, img := range sel.Delete {
		selected[imageKey(img)] = true
	}

	deleted := make(map[string]bool)
	for _, img := range sel.Delete {
		e.deleteImage(ctx, set, img, selected, deleted, res)
	}
	return deleted
}

func (e *Engine) deleteImage(ctx context.Context, set *images.Set, img *images.Image, selected, deleted map[string]bool, res *Result) {
	if deleted[imageKey(img)] {
		return
	}

	for _, tag := range img.Tags {
		if e.cfg.DryRun {
			res.DeletedTags = append(res.DeletedTags, tag.Name)
			continue
		}
		if err := e.provider.DeleteTag(ctx, img.Package, tag.Name); err != nil {
			e.log.Warn().Err(err).Str("package", img.Package.Name).Str("tag", tag.Name).Msg("Failed to delete tag")
			res.recordError("delete tag %s/%s: %v", img.Package.Name, tag.Name, err)
			continue
		}
		res.DeletedTags = append(res.DeletedTags, tag.Name)
	}

	if e.cfg.DryRun {
		e.log.Info().Str("image", img.Ref()).Msg("Would delete image")
		markDeleted(img, deleted, res)
	} else if err := e.provider.DeleteManifest(ctx, img.Package, img.Digest()); err != nil {
		e.log.Error().Err(err).Str("image", img.Ref()).Msg("Failed to delete manifest")
		res.recordError("delete manifest %s: %v", img.Ref(), err)
		// The index survived, so its children are still referenced.
		return
	} else {
		e.log.Info().Str("image", img.Ref()).Msg("Deleted image")
		markDeleted(img, deleted, res)
	}

	for _, childDigest := range img.Children {
		child, ok := set.Resolve(img, childDigest)
		if !ok || deleted[imageKey(child)] {
			continue
		}
		if hasSurvivingParent(child, set, selected) {
			e.log.Debug().Str("image", child.Ref()).Msg("Child still referenced, not cascading")
			continue
		}
		if e.cfg.DryRun {
			e.log.Info().Str("image", child.Ref()).Msg("Would delete child image")
			markDeleted(child, deleted, res)
			continue
		}
		if err := e.provider.DeleteManifest(ctx, child.Package, child.Digest()); err != nil {
			e.log.Error().Err(err).Str("image", child.Ref()).Msg("Failed to delete child manifest")
			res.recordError("delete child manifest %s: %v", child.Ref(), err)
			continue
		}
		e.log.Info().Str("image", child.Ref()).Msg("Deleted child image")
		markDeleted(child, deleted, res)
	}
}

func markDeleted(img *images.Image, deleted map[string]bool, res *Result) {
	deleted[imageKey(img)] = true
	res.DeletedCount++
	res.ReclaimedBytes += img.Manifest.Size
}

// hasSurvivingParent reports whether any image outside the deletion
// selection still declares child among its children.
func hasSurvivingParent(child *images.Image, set *images.Set, selected map[string]bool) bool {
	for _, parent := range images.ParentsOf(child, set) {
		if !selected[imageKey(parent)] {
			return true
		}
	}
	return false
}

func imageKey(img *images.Image) string {
	return img.Package.Name + "@" + img.Digest().String()
}

func appendImage(imgs []*images.Image, img *images.Image) []*images.Image {
	for _, existing := range imgs {
		if existing == img {
			return imgs
		}
	}
	return append(imgs, img)
}

func applyTimestamps(img *images.Image, created, updated time.Time) {
	if img.CreatedAt.IsZero() || (!created.IsZero() && created.Before(img.CreatedAt)) {
		img.CreatedAt = created
	}
	if updated.After(img.UpdatedAt) {
		img.UpdatedAt = updated
	}
}
