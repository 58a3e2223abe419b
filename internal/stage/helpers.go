package stage

import (
	"scribe/internal/services"
)

// RequireMedia returns a validation error when run carries no job or media.
func RequireMedia(run *Run, stageName string) error {
	if run == nil || run.Job == nil || run.Media == nil {
		return services.Wrap(services.ErrValidation, stageName, "prepare",
			"stage invoked without job or media state", nil)
	}
	return nil
}

// Reusable reports whether a stage may keep output persisted by an earlier
// run instead of recomputing it.
func Reusable(run *Run, done bool) bool {
	return run != nil && !run.Reprocess && done
}
