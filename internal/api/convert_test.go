package api

import (
	"testing"
	"time"

	"scribe/internal/stage"
	"scribe/internal/store"
	"scribe/internal/workflow"
)

func TestFromJobFormatsTimes(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	dto := FromJob(&store.Job{
		ID:           "j1",
		MediaID:      7,
		Status:       store.StatusRunning,
		CurrentStage: 3,
		CreatedAt:    started,
		StartedAt:    &started,
	})
	if dto.StageName != workflow.StageTranscription {
		t.Fatalf("stage name = %q", dto.StageName)
	}
	if dto.StartedAt != "2026-03-01T09:00:00.000Z" || dto.CompletedAt != "" || dto.UpdatedAt != "" {
		t.Fatalf("unexpected timestamps: %+v", dto)
	}
	if FromJob(nil).ID != "" {
		t.Fatal("nil job should convert to zero value")
	}
}

func TestStageHealthSliceUsesPipelineOrder(t *testing.T) {
	got := StageHealthSlice(map[string]stage.Health{
		workflow.StageIndexing:   stage.Healthy(workflow.StageIndexing),
		"extra":                  stage.Healthy("extra"),
		workflow.StageMetadata:   stage.Healthy(workflow.StageMetadata),
		workflow.StageValidation: stage.Unhealthy(workflow.StageValidation, "bad window"),
	})
	want := []string{workflow.StageMetadata, workflow.StageValidation, workflow.StageIndexing, "extra"}
	if len(got) != len(want) {
		t.Fatalf("len = %d", len(got))
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Fatalf("position %d = %s, want %s", i, got[i].Name, name)
		}
	}
	if got[1].Ready || got[1].Detail != "bad window" {
		t.Fatalf("unexpected validation health: %+v", got[1])
	}
}

func TestMergeJobCountsZeroFills(t *testing.T) {
	got := MergeJobCounts(map[store.Status]int{store.StatusFailed: 2})
	if got["failed"] != 2 || got["queued"] != 0 || len(got) != 4 {
		t.Fatalf("unexpected counts: %v", got)
	}
}

func TestFromStatusSummary(t *testing.T) {
	status := FromStatusSummary(workflow.StatusSummary{
		Running:    true,
		Workers:    2,
		QueueDepth: 5,
		LastJob:    &store.Job{ID: "j9", Status: store.StatusCompleted},
	})
	if !status.Running || status.Workers != 2 || status.QueueDepth != 5 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.LastJob == nil || status.LastJob.ID != "j9" {
		t.Fatalf("last job missing: %+v", status.LastJob)
	}
	if status.StageHealth == nil || status.JobCounts["running"] != 0 {
		t.Fatalf("expected empty but non-nil collections: %+v", status)
	}
}
