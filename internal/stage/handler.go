package stage

import (
	"context"

	"scribe/internal/store"
)

// Run is the state one stage reads and mutates. The orchestrator persists Job
// and Media together after the stage returns.
type Run struct {
	Job       *store.Job
	Media     *store.MediaItem
	Reprocess bool
}

// Handler describes the contract the orchestrator needs from each stage.
type Handler interface {
	Prepare(context.Context, *Run) error
	Execute(context.Context, *Run) error
	HealthCheck(context.Context) Health
}
