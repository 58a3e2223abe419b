package progress

import "time"

// Status values carried by progress events.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Event is one stage transition for a media item.
type Event struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	JobID     string    `json:"job_id,omitempty"`
	MediaID   int64     `json:"media_id"`
	Stage     int       `json:"stage"`
	StageName string    `json:"stage_name,omitempty"`
	Percent   int       `json:"percent"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
}

// Publisher accepts events from the orchestrator.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

// Publish calls f.
func (f PublisherFunc) Publish(evt Event) { f(evt) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(Event) {})
