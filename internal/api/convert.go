package api

import (
	"slices"
	"strings"
	"time"

	"scribe/internal/deps"
	"scribe/internal/stage"
	"scribe/internal/store"
	"scribe/internal/workflow"
)

// FromJob converts a job record to its API representation.
func FromJob(job *store.Job) Job {
	if job == nil {
		return Job{}
	}
	return Job{
		ID:              job.ID,
		MediaID:         job.MediaID,
		Status:          string(job.Status),
		Stage:           job.CurrentStage,
		StageName:       workflow.StageName(job.CurrentStage),
		Percent:         job.ProgressPercent,
		Reprocess:       job.Reprocess,
		CancelRequested: job.CancelRequested,
		ErrorMessage:    job.ErrorMessage,
		FailedStage:     job.FailedStage,
		CreatedAt:       FormatTime(job.CreatedAt),
		StartedAt:       formatTimePtr(job.StartedAt),
		CompletedAt:     formatTimePtr(job.CompletedAt),
		HeartbeatAt:     formatTimePtr(job.HeartbeatAt),
		UpdatedAt:       FormatTime(job.UpdatedAt),
	}
}

// FromJobs converts a slice of job records.
func FromJobs(jobs []*store.Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		if job == nil {
			continue
		}
		out = append(out, FromJob(job))
	}
	return out
}

// FromMedia converts a media item. The transcript text is included only when
// withTranscript is set.
func FromMedia(item *store.MediaItem, segments int, withTranscript bool) Media {
	if item == nil {
		return Media{}
	}
	dto := Media{
		ID:                  item.ID,
		ExternalRef:         item.ExternalRef,
		ScopeID:             item.ScopeID,
		Title:               item.Title,
		Status:              string(item.Status),
		ErrorMessage:        item.ErrorMessage,
		DurationSeconds:     item.DurationSeconds,
		Language:            item.Language,
		ContentStartSeconds: item.ContentStartSeconds,
		TranscriptSource:    string(item.TranscriptSource),
		ContentHash:         item.ContentHash,
		TranscriptWords:     len(strings.Fields(item.TranscriptText)),
		Summary:             item.Summary,
		Topics:              item.Topics,
		Keywords:            item.Keywords,
		SegmentCount:        segments,
		CreatedAt:           FormatTime(item.CreatedAt),
		UpdatedAt:           FormatTime(item.UpdatedAt),
	}
	if withTranscript {
		dto.Transcript = item.TranscriptText
	}
	return dto
}

// FromStatusSummary converts workflow status into its API form.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	status := WorkflowStatus{
		Running:     summary.Running,
		Workers:     summary.Workers,
		QueueDepth:  summary.QueueDepth,
		JobCounts:   MergeJobCounts(summary.JobCounts),
		LastError:   summary.LastError,
		StageHealth: StageHealthSlice(summary.StageHealth),
	}
	if summary.LastJob != nil {
		job := FromJob(summary.LastJob)
		status.LastJob = &job
	}
	return status
}

// MergeJobCounts returns counts for every job status, zero-filled.
func MergeJobCounts(counts map[store.Status]int) map[string]int {
	out := map[string]int{
		string(store.StatusQueued):    0,
		string(store.StatusRunning):   0,
		string(store.StatusCompleted): 0,
		string(store.StatusFailed):    0,
	}
	for status, n := range counts {
		out[string(status)] += n
	}
	return out
}

// StageHealthSlice orders stage health by pipeline position. Unknown names sort last.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	out := make([]StageHealth, 0, len(health))
	for name, h := range health {
		out = append(out, StageHealth{Name: name, Ready: h.Ready, Detail: h.Detail})
	}
	slices.SortFunc(out, func(a, b StageHealth) int {
		if d := stagePosition(a.Name) - stagePosition(b.Name); d != 0 {
			return d
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

func stagePosition(name string) int {
	for n := 1; n <= workflow.StageCount; n++ {
		if workflow.StageName(n) == name {
			return n
		}
	}
	return workflow.StageCount + 1
}

// FromDependencies converts dependency check results.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, DependencyStatus{
			Name:        s.Name,
			Command:     s.Command,
			Description: s.Description,
			Optional:    s.Optional,
			Available:   s.Available,
			Detail:      s.Detail,
		})
	}
	return out
}

func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return FormatTime(*t)
}
