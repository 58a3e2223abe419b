package preflight

import (
	"context"

	"scribe/internal/config"
)

// minFreeBytes is the free space below which the work directory is flagged.
// Tier 3 downloads full audio tracks there.
const minFreeBytes = 2 << 30

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckFreeSpace("Work directory space", cfg.Paths.WorkDir, minFreeBytes),
	}
	if cfg.Transcription.CacheEnabled {
		results = append(results, CheckDirectoryAccess("Cache directory", cfg.Paths.CacheDir))
	}
	for _, status := range CheckSystemDeps(cfg) {
		result := Result{Name: status.Name, Passed: status.Available || status.Optional, Detail: status.Detail}
		if status.Available {
			result.Detail = status.Command
		}
		results = append(results, result)
	}
	if cfg.LLMEnabled() {
		results = append(results, CheckLLM(ctx, "LLM", cfg.GetLLM()))
	}
	if cfg.Transcription.APIBaseURL != "" {
		results = append(results, CheckHTTP(ctx, "Transcript API", cfg.Transcription.APIBaseURL))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
