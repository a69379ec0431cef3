package columnar

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/thorium-sh/thorium/pkg/models"
)

// ErrJobNotFound is returned when a job id has no matching row.
var ErrJobNotFound = errors.New("columnar: job not found")

// ErrStaleClaim is returned by ClaimRow when the job's status is no longer
// Created or Sleeping, meaning another actor (a
// BulkReset, a manual requeue) has already touched this job since it was
// popped from the deadline queue.
var ErrStaleClaim = errors.New("columnar: job state changed since it was queued")

// Jobs is the durable row store backing the reaction/job engine's state
// machine, grounded on the teacher's pkg/queue/worker.go claim pattern —
// a transaction that selects the row FOR UPDATE and conditionally
// transitions its status, committing only if nothing else raced it.
type Jobs struct {
	db *sqlx.DB
}

func (c *Client) Jobs() *Jobs {
	return &Jobs{db: c.db}
}

type jobRow struct {
	ID              string      `db:"id"`
	ReactionID      string      `db:"reaction_id"`
	Group           string      `db:"grp"`
	Pipeline        string      `db:"pipeline"`
	Stage           string      `db:"stage"`
	Image           string      `db:"image"`
	Creator         string      `db:"creator"`
	Args            []byte      `db:"args"`
	Status          string      `db:"status"`
	Deadline        time.Time   `db:"deadline"`
	Worker          *string     `db:"worker"`
	Parent          *string     `db:"parent"`
	Generator       bool        `db:"generator"`
	Scaler          string      `db:"scaler"`
	Samples         StringSlice `db:"samples"`
	Ephemeral       StringSlice `db:"ephemeral"`
	ParentEphemeral StringMap   `db:"parent_ephemeral"`
	Repos           []byte      `db:"repos"`
	TriggerDepth    int         `db:"trigger_depth"`
	Checkpoint      string      `db:"checkpoint"`
}

func (r jobRow) toModel() (models.GenericJob, error) {
	j := models.GenericJob{
		ID:              r.ID,
		ReactionID:      r.ReactionID,
		Group:           r.Group,
		Pipeline:        r.Pipeline,
		Stage:           r.Stage,
		Image:           r.Image,
		Creator:         r.Creator,
		Status:          models.JobStatus(r.Status),
		Deadline:        r.Deadline,
		Generator:       r.Generator,
		Scaler:          models.ScalerKind(r.Scaler),
		Samples:         r.Samples,
		Ephemeral:       r.Ephemeral,
		ParentEphemeral: r.ParentEphemeral,
		TriggerDepth:    r.TriggerDepth,
		Checkpoint:      r.Checkpoint,
	}
	j.Worker = r.Worker
	j.Parent = r.Parent
	if len(r.Args) > 0 {
		if err := json.Unmarshal(r.Args, &j.Args); err != nil {
			return j, fmt.Errorf("columnar: decode job %s args: %w", r.ID, err)
		}
	}
	if len(r.Repos) > 0 {
		if err := json.Unmarshal(r.Repos, &j.Repos); err != nil {
			return j, fmt.Errorf("columnar: decode job %s repos: %w", r.ID, err)
		}
	}
	return j, nil
}

// Create inserts a new job row in Created status.
func (j *Jobs) Create(ctx context.Context, job models.GenericJob) error {
	args, err := json.Marshal(job.Args)
	if err != nil {
		return fmt.Errorf("columnar: encode job %s args: %w", job.ID, err)
	}
	repos, err := json.Marshal(job.Repos)
	if err != nil {
		return fmt.Errorf("columnar: encode job %s repos: %w", job.ID, err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO jobs (id, reaction_id, grp, pipeline, stage, image, creator, args, status, deadline,
			worker, parent, generator, scaler, samples, ephemeral, parent_ephemeral, repos, trigger_depth, checkpoint)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		job.ID, job.ReactionID, job.Group, job.Pipeline, job.Stage, job.Image, job.Creator, args,
		string(job.Status), job.Deadline, job.Worker, job.Parent, job.Generator, string(job.Scaler),
		StringSlice(job.Samples), StringSlice(job.Ephemeral), StringMap(job.ParentEphemeral), repos,
		job.TriggerDepth, job.Checkpoint,
	)
	if err != nil {
		return fmt.Errorf("columnar: insert job %s: %w", job.ID, err)
	}
	return nil
}

// Get retrieves a single job row.
func (j *Jobs) Get(ctx context.Context, id string) (models.GenericJob, error) {
	var r jobRow
	err := j.db.GetContext(ctx, &r, `SELECT * FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GenericJob{}, ErrJobNotFound
	}
	if err != nil {
		return models.GenericJob{}, fmt.Errorf("columnar: get job %s: %w", id, err)
	}
	return r.toModel()
}

// ClaimRow transactionally moves a job from Created/Sleeping to Running,
// assigning it to worker. It fails with ErrStaleClaim if the row's
// status has already moved on — the deadline queue pop that preceded
// this call is advisory only; this transaction is the real claim.
func (j *Jobs) ClaimRow(ctx context.Context, id, worker string) (models.GenericJob, error) {
	tx, err := j.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.GenericJob{}, fmt.Errorf("columnar: begin claim: %w", err)
	}
	defer tx.Rollback()

	var r jobRow
	err = tx.GetContext(ctx, &r, `SELECT * FROM jobs WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GenericJob{}, ErrJobNotFound
	}
	if err != nil {
		return models.GenericJob{}, fmt.Errorf("columnar: select job for claim: %w", err)
	}
	if r.Status != string(models.JobCreated) && r.Status != string(models.JobSleeping) {
		return models.GenericJob{}, ErrStaleClaim
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET status = $1, worker = $2, updated_at = now() WHERE id = $3`,
		string(models.JobRunning), worker, id,
	)
	if err != nil {
		return models.GenericJob{}, fmt.Errorf("columnar: claim job %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return models.GenericJob{}, fmt.Errorf("columnar: commit claim: %w", err)
	}
	r.Status = string(models.JobRunning)
	r.Worker = &worker
	return r.toModel()
}

// UpdateStatus sets a job's status outright, used for Proceed/Error/Sleep
// transitions that don't need the FOR-UPDATE race guard a claim does,
// since only the worker currently holding the job calls these.
func (j *Jobs) UpdateStatus(ctx context.Context, id string, status models.JobStatus) error {
	_, err := j.db.ExecContext(ctx, `UPDATE jobs SET status = $1, updated_at = now() WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("columnar: update job %s status: %w", id, err)
	}
	return nil
}

// SetCheckpoint persists a job handle's checkpoint blob for later resume.
func (j *Jobs) SetCheckpoint(ctx context.Context, id, checkpoint string) error {
	_, err := j.db.ExecContext(ctx, `UPDATE jobs SET checkpoint = $1, updated_at = now() WHERE id = $2`, checkpoint, id)
	return err
}

// SetDeadline reschedules a job's deadline, used on Sleep.
func (j *Jobs) SetDeadline(ctx context.Context, id string, deadline time.Time) error {
	_, err := j.db.ExecContext(ctx, `UPDATE jobs SET deadline = $1, updated_at = now() WHERE id = $2`, deadline, id)
	return err
}

// ClearWorker detaches a job's worker assignment without changing status,
// used when an external reset or a sleep transition removes a job from
// active duty.
func (j *Jobs) ClearWorker(ctx context.Context, id string) error {
	_, err := j.db.ExecContext(ctx, `UPDATE jobs SET worker = NULL, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("columnar: clear worker for job %s: %w", id, err)
	}
	return nil
}

// UpdateArgs overwrites a job's args, used to inject the --checkpoint
// kwarg when a sleeping generator is re-materialized.
func (j *Jobs) UpdateArgs(ctx context.Context, id string, args models.JobArgs) error {
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("columnar: encode job %s args: %w", id, err)
	}
	_, err = j.db.ExecContext(ctx, `UPDATE jobs SET args = $1, updated_at = now() WHERE id = $2`, b, id)
	if err != nil {
		return fmt.Errorf("columnar: update job %s args: %w", id, err)
	}
	return nil
}

// JobReset describes one job reset by BulkReset, carrying the worker it
// was assigned to immediately before the reset cleared that column —
// the only place that value is still observable, since the UPDATE that
// produces it is also the UPDATE that nulls it.
type JobReset struct {
	ID          string  `db:"id"`
	PriorWorker *string `db:"prior_worker"`
}

// BulkReset resets every Running job for a reaction (or a specific stage
// within it) back to Created, clearing their worker assignment — used to
// recover jobs whose worker died without reporting a terminal status.
// The data-modifying CTE selects the pre-reset rows FOR UPDATE first so
// the caller can learn which worker each job was pulled off of, since a
// plain UPDATE ... RETURNING only ever surfaces post-update values.
func (j *Jobs) BulkReset(ctx context.Context, reactionID string, stage string) ([]JobReset, error) {
	query := `
		WITH target AS (
			SELECT id, worker FROM jobs
			WHERE reaction_id = $1 AND status = $2`
	args := []interface{}{reactionID, string(models.JobRunning)}
	if stage != "" {
		query += " AND stage = $3"
		args = append(args, stage)
	}
	query += `
			FOR UPDATE
		)
		UPDATE jobs SET status = $` + fmt.Sprint(len(args)+1) + `, worker = NULL, updated_at = now()
		FROM target
		WHERE jobs.id = target.id
		RETURNING jobs.id, target.worker AS prior_worker`
	args = append(args, string(models.JobCreated))

	var resets []JobReset
	if err := j.db.SelectContext(ctx, &resets, query, args...); err != nil {
		return nil, fmt.Errorf("columnar: bulk reset for reaction %s: %w", reactionID, err)
	}
	return resets, nil
}

// ResetIfRunning transactionally moves a single job from Running back to
// Created, clearing its worker. It reports false (no error) when the job
// wasn't Running — the external bulk_reset() call (spec.md §4.1, distinct
// from the reaction-scoped BulkReset above) is a no-op on jobs that have
// already completed, failed, or were never claimed.
func (j *Jobs) ResetIfRunning(ctx context.Context, id string) (models.GenericJob, bool, error) {
	tx, err := j.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.GenericJob{}, false, fmt.Errorf("columnar: begin reset: %w", err)
	}
	defer tx.Rollback()

	var r jobRow
	err = tx.GetContext(ctx, &r, `SELECT * FROM jobs WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GenericJob{}, false, ErrJobNotFound
	}
	if err != nil {
		return models.GenericJob{}, false, fmt.Errorf("columnar: select job for reset: %w", err)
	}
	if r.Status != string(models.JobRunning) {
		m, err := r.toModel()
		return m, false, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET status = $1, worker = NULL, updated_at = now() WHERE id = $2`,
		string(models.JobCreated), id,
	)
	if err != nil {
		return models.GenericJob{}, false, fmt.Errorf("columnar: reset job %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return models.GenericJob{}, false, fmt.Errorf("columnar: commit reset: %w", err)
	}
	r.Status = string(models.JobCreated)
	r.Worker = nil
	m, err := r.toModel()
	return m, true, err
}

// ByReaction lists every job belonging to a reaction.
func (j *Jobs) ByReaction(ctx context.Context, reactionID string) ([]models.GenericJob, error) {
	var rows []jobRow
	if err := j.db.SelectContext(ctx, &rows, `SELECT * FROM jobs WHERE reaction_id = $1 ORDER BY created_at`, reactionID); err != nil {
		return nil, fmt.Errorf("columnar: list jobs for reaction %s: %w", reactionID, err)
	}
	out := make([]models.GenericJob, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ByReactionStage lists every job belonging to one stage of a reaction,
// used by Proceed to decide whether a stage has fully completed.
func (j *Jobs) ByReactionStage(ctx context.Context, reactionID, stage string) ([]models.GenericJob, error) {
	var rows []jobRow
	err := j.db.SelectContext(ctx, &rows,
		`SELECT * FROM jobs WHERE reaction_id = $1 AND stage = $2 ORDER BY created_at`, reactionID, stage)
	if err != nil {
		return nil, fmt.Errorf("columnar: list jobs for reaction %s stage %s: %w", reactionID, stage, err)
	}
	out := make([]models.GenericJob, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ByWorker returns every job currently assigned to a worker.
func (j *Jobs) ByWorker(ctx context.Context, worker string) ([]models.GenericJob, error) {
	var rows []jobRow
	if err := j.db.SelectContext(ctx, &rows, `SELECT * FROM jobs WHERE worker = $1`, worker); err != nil {
		return nil, fmt.Errorf("columnar: list jobs for worker %s: %w", worker, err)
	}
	out := make([]models.GenericJob, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
