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

// ErrReactionNotFound is returned when a reaction id has no matching row.
var ErrReactionNotFound = errors.New("columnar: reaction not found")

// ErrReactionExists is returned by Create when the reaction id already has
// a row, mirroring spec.md §4.1's "Conflict if the reaction id already
// exists".
var ErrReactionExists = errors.New("columnar: reaction already exists")

// Reactions is the durable row store for reactions, grounded on the same
// claim-pattern transaction style as Jobs, generalizing the teacher's
// pkg/session status-enum handling to a parent state machine with a
// stage cursor.
type Reactions struct {
	db *sqlx.DB
}

func (c *Client) Reactions() *Reactions {
	return &Reactions{db: c.db}
}

type reactionRow struct {
	ID              string      `db:"id"`
	Group           string      `db:"grp"`
	Pipeline        string      `db:"pipeline"`
	Creator         string      `db:"creator"`
	Args            []byte      `db:"args"`
	Parent          *string     `db:"parent"`
	TriggerDepth    int         `db:"trigger_depth"`
	Samples         StringSlice `db:"samples"`
	Repos           []byte      `db:"repos"`
	Ephemeral       StringSlice `db:"ephemeral"`
	ParentEphemeral StringMap   `db:"parent_ephemeral"`
	Status          string      `db:"status"`
	StageCursor     int         `db:"stage_cursor"`
	Jobs            StringSlice `db:"jobs"`
	CreatedAt       time.Time   `db:"created_at"`
}

func (r reactionRow) toModel() (models.Reaction, error) {
	var args map[string]models.JobArgs
	if len(r.Args) > 0 {
		if err := json.Unmarshal(r.Args, &args); err != nil {
			return models.Reaction{}, fmt.Errorf("columnar: decode reaction args: %w", err)
		}
	}
	var repos []models.RepoDependency
	if len(r.Repos) > 0 {
		if err := json.Unmarshal(r.Repos, &repos); err != nil {
			return models.Reaction{}, fmt.Errorf("columnar: decode reaction repos: %w", err)
		}
	}
	return models.Reaction{
		ID:              r.ID,
		Group:           r.Group,
		Pipeline:        r.Pipeline,
		Creator:         r.Creator,
		Args:            args,
		Parent:          r.Parent,
		TriggerDepth:    r.TriggerDepth,
		Samples:         r.Samples,
		Repos:           repos,
		Ephemeral:       r.Ephemeral,
		ParentEphemeral: r.ParentEphemeral,
		Status:          models.ReactionStatus(r.Status),
		StageCursor:     r.StageCursor,
		Jobs:            r.Jobs,
		CreatedAt:       r.CreatedAt,
	}, nil
}

// Create inserts a new reaction row, failing with ErrReactionExists if the
// id is already taken (ids are server-assigned so this only fires on a
// retried create with the same id, which the engine reports as Conflict).
func (rp *Reactions) Create(ctx context.Context, r models.Reaction) error {
	args, err := json.Marshal(r.Args)
	if err != nil {
		return fmt.Errorf("columnar: encode reaction args: %w", err)
	}
	repos, err := json.Marshal(r.Repos)
	if err != nil {
		return fmt.Errorf("columnar: encode reaction repos: %w", err)
	}
	jobsJSON, err := json.Marshal(r.Jobs)
	if err != nil {
		return fmt.Errorf("columnar: encode reaction jobs: %w", err)
	}
	_, err = rp.db.ExecContext(ctx, `
		INSERT INTO reactions (id, grp, pipeline, creator, args, parent, trigger_depth,
			samples, repos, ephemeral, parent_ephemeral, status, stage_cursor, jobs, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		r.ID, r.Group, r.Pipeline, r.Creator, args, r.Parent, r.TriggerDepth,
		StringSlice(r.Samples), repos, StringSlice(r.Ephemeral), StringMap(r.ParentEphemeral),
		string(r.Status), r.StageCursor, jobsJSON, r.CreatedAt,
	)
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) && pgErr.SQLState() == "23505" {
		return ErrReactionExists
	}
	if err != nil {
		return fmt.Errorf("columnar: insert reaction %s: %w", r.ID, err)
	}
	return nil
}

// Get retrieves a single reaction row.
func (rp *Reactions) Get(ctx context.Context, id string) (models.Reaction, error) {
	var row reactionRow
	err := rp.db.GetContext(ctx, &row, `SELECT * FROM reactions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Reaction{}, ErrReactionNotFound
	}
	if err != nil {
		return models.Reaction{}, fmt.Errorf("columnar: get reaction %s: %w", id, err)
	}
	return row.toModel()
}

// MarkRunningIfCreated transitions a reaction from Created to Running,
// a no-op if it has already moved past Created. Used by claim(), which
// per spec.md §4.1 drives "Created -> Running when any job is claimed".
func (rp *Reactions) MarkRunningIfCreated(ctx context.Context, id string) error {
	_, err := rp.db.ExecContext(ctx, `UPDATE reactions SET status = $1 WHERE id = $2 AND status = $3`,
		string(models.ReactionRunning), id, string(models.ReactionCreated))
	if err != nil {
		return fmt.Errorf("columnar: mark reaction %s running: %w", id, err)
	}
	return nil
}

// AppendJobs extends a reaction's owned job-id list, used when a new
// stage's jobs are lazily materialized on the prior stage's completion.
func (rp *Reactions) AppendJobs(ctx context.Context, id string, jobIDs []string) error {
	r, err := rp.Get(ctx, id)
	if err != nil {
		return err
	}
	r.Jobs = append(r.Jobs, jobIDs...)
	jobsJSON, err := json.Marshal(r.Jobs)
	if err != nil {
		return fmt.Errorf("columnar: encode reaction %s jobs: %w", id, err)
	}
	_, err = rp.db.ExecContext(ctx, `UPDATE reactions SET jobs = $1 WHERE id = $2`, jobsJSON, id)
	if err != nil {
		return fmt.Errorf("columnar: append jobs to reaction %s: %w", id, err)
	}
	return nil
}

// UpdateStatus sets a reaction's status outright (Completed on last-stage
// proceed, Failed on any job error/timeout); the first claim's move to
// Running goes through MarkRunningIfCreated instead.
func (rp *Reactions) UpdateStatus(ctx context.Context, id string, status models.ReactionStatus) error {
	_, err := rp.db.ExecContext(ctx, `UPDATE reactions SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("columnar: update reaction %s status: %w", id, err)
	}
	return nil
}

// AdvanceStage transactionally bumps the stage cursor, leaving the
// reaction's status unchanged. Returns the row as it stood before the
// update so the caller can check whether stages remain.
func (rp *Reactions) AdvanceStage(ctx context.Context, id string) (models.Reaction, error) {
	tx, err := rp.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Reaction{}, fmt.Errorf("columnar: begin advance: %w", err)
	}
	defer tx.Rollback()

	var row reactionRow
	if err := tx.GetContext(ctx, &row, `SELECT * FROM reactions WHERE id = $1 FOR UPDATE`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Reaction{}, ErrReactionNotFound
		}
		return models.Reaction{}, fmt.Errorf("columnar: select reaction for advance: %w", err)
	}
	before, err := row.toModel()
	if err != nil {
		return models.Reaction{}, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE reactions SET stage_cursor = stage_cursor + 1 WHERE id = $1`, id); err != nil {
		return models.Reaction{}, fmt.Errorf("columnar: advance reaction %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return models.Reaction{}, fmt.Errorf("columnar: commit advance: %w", err)
	}
	return before, nil
}

// ByGroupPipelineStatus lists reactions for an (group, pipeline) pair in a
// given status, newest first.
func (rp *Reactions) ByGroupPipelineStatus(ctx context.Context, group, pipeline string, status models.ReactionStatus) ([]models.Reaction, error) {
	var rows []reactionRow
	err := rp.db.SelectContext(ctx, &rows, `
		SELECT * FROM reactions WHERE grp = $1 AND pipeline = $2 AND status = $3
		ORDER BY created_at DESC`, group, pipeline, string(status))
	if err != nil {
		return nil, fmt.Errorf("columnar: list reactions for %s/%s: %w", group, pipeline, err)
	}
	out := make([]models.Reaction, 0, len(rows))
	for _, row := range rows {
		m, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Delete removes a reaction row; jobs cascade via the FK (spec.md §3's
// "a reaction exclusively owns its jobs").
func (rp *Reactions) Delete(ctx context.Context, id string) error {
	_, err := rp.db.ExecContext(ctx, `DELETE FROM reactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("columnar: delete reaction %s: %w", id, err)
	}
	return nil
}
