package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Status represents the lifecycle state shared by jobs and media items.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// TranscriptSource records which resolver tier produced a transcript.
type TranscriptSource string

const (
	SourceNone  TranscriptSource = ""
	SourceTier1 TranscriptSource = "tier1"
	SourceTier2 TranscriptSource = "tier2"
	SourceTier3 TranscriptSource = "tier3"
)

// Valid reports whether the source names a real tier.
func (s TranscriptSource) Valid() bool {
	return s == SourceTier1 || s == SourceTier2 || s == SourceTier3
}

var (
	// ErrNotFound is returned when a job or media item does not exist.
	ErrNotFound = errors.New("not found")
	// ErrJobTerminal is returned when an update targets a completed or failed job.
	ErrJobTerminal = errors.New("job is terminal")
	// ErrStageRegression is returned when an update would move a job's stage backwards.
	ErrStageRegression = errors.New("job stage cannot move backwards")
	// ErrActiveJob is returned when a media item already has a queued or
	// running job.
	ErrActiveJob = errors.New("media item already has an active job")
	// ErrInvalidTranscript is returned when transcript and source disagree.
	ErrInvalidTranscript = errors.New("transcript source requires non-empty transcript")
)

// Job is one processing attempt for a media item.
type Job struct {
	ID              string
	MediaID         int64
	Status          Status
	CurrentStage    int
	ProgressPercent int
	Reprocess       bool
	CancelRequested bool
	ErrorMessage    string
	FailedStage     string
	HeartbeatAt     *time.Time
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	UpdatedAt       time.Time
}

// MediaItem is the persisted record for one piece of media and everything
// derived from it.
type MediaItem struct {
	ID                  int64
	ExternalRef         string
	ScopeID             string
	Title               string
	DurationSeconds     float64
	Status              Status
	ErrorMessage        string
	Language            string
	ContentStartSeconds *float64
	TranscriptText      string
	TranscriptCuesJSON  string
	TranscriptSource    TranscriptSource
	ContentHash         string
	Summary             string
	Topics              []string
	Keywords            []string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasTranscript reports whether a non-empty transcript is stored.
func (m *MediaItem) HasTranscript() bool {
	return m != nil && m.TranscriptText != ""
}

// SetTranscript records transcript text with its provenance and content hash.
// An empty text clears the transcript entirely.
func (m *MediaItem) SetTranscript(text, cuesJSON string, source TranscriptSource) error {
	if text == "" {
		m.ClearTranscript()
		return nil
	}
	if !source.Valid() {
		return ErrInvalidTranscript
	}
	sum := sha256.Sum256([]byte(text))
	m.TranscriptText = text
	m.TranscriptCuesJSON = cuesJSON
	m.TranscriptSource = source
	m.ContentHash = hex.EncodeToString(sum[:])
	return nil
}

// ClearTranscript removes transcript text, cues, source and hash together.
func (m *MediaItem) ClearTranscript() {
	m.TranscriptText = ""
	m.TranscriptCuesJSON = ""
	m.TranscriptSource = SourceNone
	m.ContentHash = ""
}

// ContentStart returns the content start offset, zero when unset.
func (m *MediaItem) ContentStart() float64 {
	if m == nil || m.ContentStartSeconds == nil {
		return 0
	}
	return *m.ContentStartSeconds
}

// Segment is an indexed window of transcript text with its embedding.
type Segment struct {
	ID            int64
	MediaID       int64
	SequenceIndex int
	StartOffset   int
	EndOffset     int
	StartSeconds  float64
	EndSeconds    float64
	WordCount     int
	Text          string
	Embedding     []float32
	CreatedAt     time.Time
}

// ScopedSegment is a segment joined with its media item's identity.
type ScopedSegment struct {
	Segment
	ExternalRef string
	Title       string
	ScopeID     string
}
