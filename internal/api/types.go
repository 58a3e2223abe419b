package api

import (
	"scribe/internal/assistant"
	"scribe/internal/progress"
	"scribe/internal/retrieval"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a pipeline run in a transport-friendly format.
type Job struct {
	ID              string `json:"id"`
	MediaID         int64  `json:"media_id"`
	Status          string `json:"status"`
	Stage           int    `json:"stage"`
	StageName       string `json:"stage_name,omitempty"`
	Percent         int    `json:"percent"`
	Reprocess       bool   `json:"reprocess"`
	CancelRequested bool   `json:"cancel_requested"`
	ErrorMessage    string `json:"error_message,omitempty"`
	FailedStage     string `json:"failed_stage,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`
	StartedAt       string `json:"started_at,omitempty"`
	CompletedAt     string `json:"completed_at,omitempty"`
	HeartbeatAt     string `json:"heartbeat_at,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

// Media describes a media item and what the pipeline derived from it.
type Media struct {
	ID                  int64    `json:"id"`
	ExternalRef         string   `json:"external_ref"`
	ScopeID             string   `json:"scope_id,omitempty"`
	Title               string   `json:"title,omitempty"`
	Status              string   `json:"status"`
	ErrorMessage        string   `json:"error_message,omitempty"`
	DurationSeconds     float64  `json:"duration_seconds"`
	Language            string   `json:"language,omitempty"`
	ContentStartSeconds *float64 `json:"content_start_seconds,omitempty"`
	TranscriptSource    string   `json:"transcript_source,omitempty"`
	ContentHash         string   `json:"content_hash,omitempty"`
	TranscriptWords     int      `json:"transcript_words"`
	Transcript          string   `json:"transcript,omitempty"`
	Summary             string   `json:"summary,omitempty"`
	Topics              []string `json:"topics,omitempty"`
	Keywords            []string `json:"keywords,omitempty"`
	SegmentCount        int      `json:"segment_count"`
	CreatedAt           string   `json:"created_at,omitempty"`
	UpdatedAt           string   `json:"updated_at,omitempty"`
}

// SubmitRequest asks for a media item to be processed.
type SubmitRequest struct {
	ExternalRef string `json:"external_ref"`
	ScopeID     string `json:"scope_id,omitempty"`
	Reprocess   bool   `json:"reprocess,omitempty"`
}

// SubmitResponse reports the job created for a submission.
type SubmitResponse struct {
	Job   Job   `json:"job"`
	Media Media `json:"media"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	Workers     int            `json:"workers"`
	QueueDepth  int            `json:"queue_depth"`
	JobCounts   map[string]int `json:"job_counts"`
	LastError   string         `json:"last_error,omitempty"`
	LastJob     *Job           `json:"last_job,omitempty"`
	StageHealth []StageHealth  `json:"stage_health"`
}

// StageHealth mirrors readiness reporting for workflow stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DependencyStatus captures availability of an external binary.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	DatabasePath string             `json:"database_path"`
	LockFilePath string             `json:"lock_file_path"`
	Workflow     WorkflowStatus     `json:"workflow"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// MediaResponse wraps a single media item.
type MediaResponse struct {
	Media Media `json:"media"`
}

// SearchResponse wraps ranked search results.
type SearchResponse struct {
	Results []retrieval.Result `json:"results"`
}

// AskResponse is the assistant answer.
type AskResponse = assistant.Answer

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Hint  string `json:"hint,omitempty"`
}

// ProgressResponse is one page of progress history.
type ProgressResponse struct {
	Events []progress.Event `json:"events"`
	Next   uint64           `json:"next"`
}
