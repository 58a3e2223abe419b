package workflow

import "scribe/internal/stage"

// StageSet bundles the concrete handlers for the six pipeline stages.
type StageSet struct {
	Metadata      stage.Handler
	Validation    stage.Handler
	Transcription stage.Handler
	ContentStart  stage.Handler
	Analysis      stage.Handler
	Indexing      stage.Handler
}

// Stage names as recorded in failed_stage and progress events.
const (
	StageMetadata      = "metadata"
	StageValidation    = "validation"
	StageTranscription = "transcription"
	StageContentStart  = "content_start"
	StageAnalysis      = "analysis"
	StageIndexing      = "indexing"
)

type pipelineStage struct {
	number  int
	name    string
	percent int
	handler stage.Handler
}

// pipelineFor lays the handlers out in execution order with their progress
// checkpoints. Stage numbers are fixed even when a handler is missing.
func pipelineFor(set StageSet) []pipelineStage {
	return []pipelineStage{
		{number: 1, name: StageMetadata, percent: 10, handler: set.Metadata},
		{number: 2, name: StageValidation, percent: 20, handler: set.Validation},
		{number: 3, name: StageTranscription, percent: 50, handler: set.Transcription},
		{number: 4, name: StageContentStart, percent: 60, handler: set.ContentStart},
		{number: 5, name: StageAnalysis, percent: 70, handler: set.Analysis},
		{number: 6, name: StageIndexing, percent: 90, handler: set.Indexing},
	}
}

// StageCount is the number of pipeline stages.
const StageCount = 6

// StageName returns the name of stage number n (1-based), or "" when n is
// out of range.
func StageName(n int) string {
	if n < 1 || n > StageCount {
		return ""
	}
	return pipelineFor(StageSet{})[n-1].name
}
