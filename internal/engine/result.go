package engine

import "fmt"

// Result is what a cleanup run returns. It is always produced, even when
// individual deletions failed; Errors carries the human-readable failures
// accumulated along the way.
type Result struct {
	DeletedCount   int
	KeptCount      int
	ReclaimedBytes int64
	DeletedTags    []string
	KeptTags       []string
	Errors         []string
}

func (r *Result) recordError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Merge folds another run's result into this one. Used when a policy file
// fans one invocation out into several runs.
func (r *Result) Merge(other *Result) {
	r.DeletedCount += other.DeletedCount
	r.KeptCount += other.KeptCount
	r.ReclaimedBytes += other.ReclaimedBytes
	r.DeletedTags = append(r.DeletedTags, other.DeletedTags...)
	r.KeptTags = append(r.KeptTags, other.KeptTags...)
	r.Errors = append(r.Errors, other.Errors...)
}

// Failed reports whether the run should be treated as failed for automation
// purposes: any recorded error in a live run fails the invocation, while the
// result still carries the partial progress.
func (r *Result) Failed(dryRun bool) bool {
	return !dryRun && len(r.Errors) > 0
}
