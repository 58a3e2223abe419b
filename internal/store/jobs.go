package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const jobColumns = "id, media_id, status, current_stage, progress_percent, reprocess, cancel_requested, error_message, failed_stage, heartbeat_at, created_at, started_at, completed_at, updated_at"

func scanJob(scanner rowScanner) (*Job, error) {
	var (
		job          Job
		status       string
		reprocess    int
		cancel       int
		errorMessage sql.NullString
		failedStage  sql.NullString
		heartbeatRaw sql.NullString
		createdRaw   sql.NullString
		startedRaw   sql.NullString
		completedRaw sql.NullString
		updatedRaw   sql.NullString
	)
	if err := scanner.Scan(
		&job.ID,
		&job.MediaID,
		&status,
		&job.CurrentStage,
		&job.ProgressPercent,
		&reprocess,
		&cancel,
		&errorMessage,
		&failedStage,
		&heartbeatRaw,
		&createdRaw,
		&startedRaw,
		&completedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	job.Status = Status(status)
	job.Reprocess = reprocess != 0
	job.CancelRequested = cancel != 0
	job.ErrorMessage = errorMessage.String
	job.FailedStage = failedStage.String
	job.HeartbeatAt = parseOptionalTime(heartbeatRaw.String)
	if created, err := ParseTime(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	job.StartedAt = parseOptionalTime(startedRaw.String)
	job.CompletedAt = parseOptionalTime(completedRaw.String)
	if updated, err := ParseTime(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	return &job, nil
}

// NewJobID returns a fresh job identifier.
func NewJobID() string {
	return uuid.NewString()
}

// CreateJob inserts a queued job for mediaID. An empty job.ID is assigned.
// It fails with ErrActiveJob while another job for the media item is queued
// or running.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if job.ID == "" {
		job.ID = NewJobID()
	}
	if job.Status == "" {
		job.Status = StatusQueued
	}
	ts := s.timestamp()
	_, err := s.execWithRetry(ctx,
		`INSERT INTO jobs (id, media_id, status, current_stage, progress_percent, reprocess,
            cancel_requested, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		job.ID, job.MediaID, job.Status, job.CurrentStage, job.ProgressPercent,
		boolToInt(job.Reprocess), ts, ts,
	)
	if isUniqueViolation(err, "jobs.media_id") {
		return fmt.Errorf("media %d: %w", job.MediaID, ErrActiveJob)
	}
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if t, perr := ParseTime(ts); perr == nil {
		job.CreatedAt = t
		job.UpdatedAt = t
	}
	return nil
}

// GetJob fetches a job by identifier.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ActiveJob returns the queued or running job for mediaID, or ErrNotFound.
func (s *Store) ActiveJob(ctx context.Context, mediaID int64) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+jobColumns+` FROM jobs WHERE media_id = ? AND status IN ('queued', 'running')`, mediaID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active job for media %d: %w", mediaID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get active job: %w", err)
	}
	return job, nil
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Statuses []Status
	MediaID  int64
	Limit    int
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	var (
		clauses []string
		args    []any
	)
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if filter.MediaID > 0 {
		clauses = append(clauses, "media_id = ?")
		args = append(args, filter.MediaID)
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountJobsByStatus returns job counts keyed by status.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()
	counts := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}

// updateJobTx writes job state unless the stored row is terminal or the
// write would move current_stage backwards.
func updateJobTx(ctx context.Context, tx *sql.Tx, job *Job, ts string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET
            status = ?, current_stage = ?, progress_percent = ?, error_message = ?,
            failed_stage = ?, heartbeat_at = ?, started_at = ?, completed_at = ?, updated_at = ?
         WHERE id = ? AND status NOT IN ('completed', 'failed') AND current_stage <= ?`,
		job.Status,
		job.CurrentStage,
		job.ProgressPercent,
		nullableString(job.ErrorMessage),
		nullableString(job.FailedStage),
		nullableTime(job.HeartbeatAt),
		nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt),
		ts,
		job.ID,
		job.CurrentStage,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var (
		status string
		stage  int
	)
	err = tx.QueryRowContext(ctx, `SELECT status, current_stage FROM jobs WHERE id = ?`, job.ID).Scan(&status, &stage)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("job %s: %w", job.ID, ErrNotFound)
	case err != nil:
		return fmt.Errorf("inspect job: %w", err)
	case Status(status).Terminal():
		return fmt.Errorf("job %s is %s: %w", job.ID, status, ErrJobTerminal)
	default:
		return fmt.Errorf("job %s at stage %d, update to %d: %w", job.ID, stage, job.CurrentStage, ErrStageRegression)
	}
}

// UpdateJob persists job state.
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	return s.SaveProgress(ctx, job, nil)
}

// SaveProgress persists job and (optionally) media state atomically.
func (s *Store) SaveProgress(ctx context.Context, job *Job, media *MediaItem) error {
	ctx = ensureContext(ctx)
	ts := s.timestamp()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateJobTx(ctx, tx, job, ts); err != nil {
			return err
		}
		if media != nil {
			return updateMediaTx(ctx, tx, media, ts)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if t, perr := ParseTime(ts); perr == nil {
		job.UpdatedAt = t
		if media != nil {
			media.UpdatedAt = t
		}
	}
	return nil
}

// RequestCancel flags a non-terminal job for cooperative cancellation.
func (s *Store) RequestCancel(ctx context.Context, id string) (*Job, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET cancel_requested = 1, updated_at = ?
         WHERE id = ? AND status NOT IN ('completed', 'failed')`,
		s.timestamp(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("request cancel: %w", err)
	}
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return job, fmt.Errorf("job %s is %s: %w", id, job.Status, ErrJobTerminal)
	}
	return job, nil
}

// CancelRequested reports the persisted cancellation flag.
func (s *Store) CancelRequested(ctx context.Context, id string) (bool, error) {
	var flag int
	err := s.db.QueryRowContext(ensureContext(ctx), `SELECT cancel_requested FROM jobs WHERE id = ?`, id).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return flag != 0, nil
}

// UpdateHeartbeat refreshes the heartbeat of a running job.
func (s *Store) UpdateHeartbeat(ctx context.Context, id string) error {
	ts := s.timestamp()
	_, err := s.execWithRetry(ctx,
		`UPDATE jobs SET heartbeat_at = ?, updated_at = ? WHERE id = ? AND status = 'running'`,
		ts, ts, id,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// StaleRunningJobs returns running jobs whose heartbeat is older than cutoff.
// A running job that never wrote a heartbeat is judged by updated_at.
func (s *Store) StaleRunningJobs(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+jobColumns+` FROM jobs
         WHERE status = 'running' AND COALESCE(heartbeat_at, updated_at) < ?
         ORDER BY id`,
		FormatTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("stale jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
