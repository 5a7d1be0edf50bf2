// Package filter reduces the discovered image set to the set of images to
// delete. Filters run in a fixed order because later steps operate on the
// output of earlier ones: children of multi-arch parents are removed first
// (they are only ever deleted as a cascade), then exclusions and the age
// cutoff narrow the working set, and the remaining steps select deletion
// candidates from it.
package filter

import (
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup/internal/images"
)

// Options is the policy configuration the pipeline honors. Nil keep counts
// mean the corresponding filter is disabled.
type Options struct {
	ExcludeTags []string
	DeleteTags  []string

	// OlderThan restricts deletion to images last touched before now minus
	// this duration. Zero disables the cutoff.
	OlderThan time.Duration

	KeepNTagged    *int
	KeepNUntagged  *int
	DeleteUntagged bool

	DeleteGhostImages    bool
	DeletePartialImages  bool
	DeleteOrphanedImages bool
}

// Selection is the pipeline outcome: the deletion set in selection order and
// the kept complement.
type Selection struct {
	Delete []*images.Image
	Keep   []*images.Image
}

// Pipeline applies the configured policy to a discovered set.
type Pipeline struct {
	opts Options
	now  func() time.Time
}

// New builds a pipeline from the given policy.
func New(opts Options) *Pipeline {
	return &Pipeline{opts: opts, now: time.Now}
}

// Apply runs the filter steps over the discovered set and returns the
// deletion selection. The set itself is not mutated.
func (p *Pipeline) Apply(set *images.Set) Selection {
	working := removeChildImages(set)

	if len(p.opts.ExcludeTags) > 0 {
		working = reject(working, func(img *images.Image) bool {
			return hasMatchingTag(img, p.opts.ExcludeTags)
		})
	}

	if p.opts.OlderThan > 0 {
		cutoff := p.now().Add(-p.opts.OlderThan)
		working = reject(working, func(img *images.Image) bool {
			// An image without timestamps cannot be proven stale.
			ts := img.SortTime()
			return ts.IsZero() || !ts.Before(cutoff)
		})
	}

	sel := newSelector()

	if len(p.opts.DeleteTags) > 0 {
		for _, img := range working {
			if hasMatchingTag(img, p.opts.DeleteTags) {
				sel.add(img)
			}
		}
	}

	if p.opts.DeleteGhostImages {
		for _, img := range working {
			if images.IsGhost(img) {
				sel.add(img)
			}
		}
	}

	if p.opts.DeletePartialImages {
		for _, img := range working {
			if images.IsPartialMultiArch(img) {
				sel.add(img)
			}
		}
	}

	if p.opts.DeleteOrphanedImages {
		for _, img := range working {
			if images.IsOrphaned(img, set) {
				sel.add(img)
			}
		}
	}

	if p.opts.KeepNTagged != nil {
		tagged := filterTagged(working, true)
		for _, img := range beyondNewest(tagged, *p.opts.KeepNTagged, sel) {
			sel.add(img)
		}
	}

	untagged := filterTagged(working, false)
	switch {
	case p.opts.DeleteUntagged:
		// deleteUntagged takes precedence over keepNUntagged.
		for _, img := range untagged {
			sel.add(img)
		}
	case p.opts.KeepNUntagged != nil:
		for _, img := range beyondNewest(untagged, *p.opts.KeepNUntagged, sel) {
			sel.add(img)
		}
	}

	return Selection{Delete: sel.ordered, Keep: sel.complement(set)}
}

// removeChildImages drops every image that is a resolved child of some
// multi-arch parent; children are deleted only as a cascade of their parent.
// An image that is itself multi-arch is never removed, even when another
// index also lists it as a child.
func removeChildImages(set *images.Set) []*images.Image {
	childDigests := make(map[string]bool)
	for _, img := range set.All() {
		if !img.MultiArch {
			continue
		}
		for _, dgst := range img.Children {
			childDigests[img.Package.Name+"@"+dgst.String()] = true
		}
	}

	var out []*images.Image
	for _, img := range set.All() {
		if !img.MultiArch && childDigests[img.Package.Name+"@"+img.Digest().String()] {
			continue
		}
		out = append(out, img)
	}
	return out
}

// beyondNewest sorts candidates newest-first and returns everything past the
// first n, skipping images the selector already holds so the keep window is
// computed over genuinely surviving images.
func beyondNewest(candidates []*images.Image, n int, sel *selector) []*images.Image {
	remaining := make([]*images.Image, 0, len(candidates))
	for _, img := range candidates {
		if !sel.has(img) {
			remaining = append(remaining, img)
		}
	}

	sort.SliceStable(remaining, func(i, j int) bool {
		// Zero timestamps sort last, behaving like the epoch.
		return remaining[i].SortTime().After(remaining[j].SortTime())
	})

	if n >= len(remaining) {
		return nil
	}
	return remaining[n:]
}

func filterTagged(imgs []*images.Image, tagged bool) []*images.Image {
	var out []*images.Image
	for _, img := range imgs {
		if img.Tagged() == tagged {
			out = append(out, img)
		}
	}
	return out
}

func reject(imgs []*images.Image, drop func(*images.Image) bool) []*images.Image {
	var out []*images.Image
	for _, img := range imgs {
		if !drop(img) {
			out = append(out, img)
		}
	}
	return out
}

// hasMatchingTag reports whether any of the image's tags matches one of the
// glob patterns. Matching is anchored, case-sensitive, with * and ?
// wildcards.
func hasMatchingTag(img *images.Image, patterns []string) bool {
	for _, tag := range img.Tags {
		for _, pattern := range patterns {
			if ok, err := path.Match(pattern, tag.Name); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// MatchesPattern reports whether name matches the anchored glob pattern.
// Used by package selection as well as tag policies.
func MatchesPattern(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// ValidatePatterns rejects malformed glob patterns up front so a typo fails
// the run before anything is deleted.
func ValidatePatterns(patterns []string) error {
	for _, pattern := range patterns {
		if _, err := path.Match(pattern, "probe"); err != nil {
			return fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// selector accumulates the deletion set, deduplicated by (package, digest):
// selecting an already-selected image is a no-op.
type selector struct {
	ordered []*images.Image
	seen    map[string]bool
}

func newSelector() *selector {
	return &selector{seen: make(map[string]bool)}
}

func (s *selector) key(img *images.Image) string {
	return img.Package.Name + "@" + img.Digest().String()
}

func (s *selector) add(img *images.Image) {
	key := s.key(img)
	if s.seen[key] {
		return
	}
	s.seen[key] = true
	s.ordered = append(s.ordered, img)
}

func (s *selector) has(img *images.Image) bool {
	return s.seen[s.key(img)]
}

func (s *selector) complement(set *images.Set) []*images.Image {
	var keep []*images.Image
	for _, img := range set.All() {
		if !s.seen[s.key(img)] {
			keep = append(keep, img)
		}
	}
	return keep
}
