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

// ErrWorkerNotFound reports a missing worker row.
var ErrWorkerNotFound = errors.New("columnar: worker not found")

// Workers is the durable desired/observed state of reactor-launched
// workers: the scaler writes a row when it decides to spawn or retire a
// worker, and the reactor reads back "what should exist on this node"
// during its startup recovery sweep (spec.md §4.3).
type Workers struct {
	db *sqlx.DB
}

func (c *Client) Workers() *Workers {
	return &Workers{db: c.db}
}

type workerRow struct {
	Name      string       `db:"name"`
	Cluster   string       `db:"cluster"`
	Node      string       `db:"node"`
	Scaler    string       `db:"scaler"`
	Group     string       `db:"grp"`
	Pipeline  string       `db:"pipeline"`
	Stage     string       `db:"stage"`
	Status    string       `db:"status"`
	Active    []byte       `db:"active"`
	IdleSince sql.NullTime `db:"idle_since"`
}

func (r workerRow) toModel() (models.Worker, error) {
	w := models.Worker{
		Cluster:  r.Cluster,
		Node:     r.Node,
		Name:     r.Name,
		Scaler:   models.ScalerKind(r.Scaler),
		Group:    r.Group,
		Pipeline: r.Pipeline,
		Stage:    r.Stage,
		Status:   models.WorkerStatus(r.Status),
	}
	if len(r.Active) > 0 {
		var a models.ActiveJob
		if err := json.Unmarshal(r.Active, &a); err != nil {
			return w, fmt.Errorf("columnar: decode worker %s active job: %w", r.Name, err)
		}
		w.Active = &a
	}
	if r.IdleSince.Valid {
		t := r.IdleSince.Time
		w.IdleSince = &t
	}
	return w, nil
}

// Create inserts a new worker row, the scaler's "spawn one via the
// reactor" step (spec.md §4.2 scheduling loop step 5). The reactor's
// actual process/cgroup launch happens out of band, driven by its own
// per-node loop reading ByNode.
func (w *Workers) Create(ctx context.Context, worker models.Worker) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO workers (name, cluster, node, scaler, grp, pipeline, stage, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (name) DO UPDATE SET status=$8`,
		worker.Name, worker.Cluster, worker.Node, string(worker.Scaler),
		worker.Group, worker.Pipeline, worker.Stage, string(worker.Status),
	)
	if err != nil {
		return fmt.Errorf("columnar: create worker %s: %w", worker.Name, err)
	}
	return nil
}

// Get retrieves a single worker by name.
func (w *Workers) Get(ctx context.Context, name string) (models.Worker, error) {
	var row workerRow
	err := w.db.GetContext(ctx, &row, `SELECT * FROM workers WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Worker{}, ErrWorkerNotFound
	}
	if err != nil {
		return models.Worker{}, fmt.Errorf("columnar: get worker %s: %w", name, err)
	}
	return row.toModel()
}

// ByNode lists every worker that should exist on (cluster, node), the
// reactor's startup-recovery read (spec.md §4.3 "for every worker the API
// says should exist on this node").
func (w *Workers) ByNode(ctx context.Context, cluster, node string) ([]models.Worker, error) {
	var rows []workerRow
	err := w.db.SelectContext(ctx, &rows, `SELECT * FROM workers WHERE cluster = $1 AND node = $2 ORDER BY name`, cluster, node)
	if err != nil {
		return nil, fmt.Errorf("columnar: list workers for %s/%s: %w", cluster, node, err)
	}
	out := make([]models.Worker, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ByStage lists every worker bound to one (group, pipeline, stage), the
// scaler's view when deciding how many workers are already in flight for a
// stage (spawn-limit checks and idle-worker retirement, spec.md §4.2 steps
// 3 and 5).
func (w *Workers) ByStage(ctx context.Context, group, pipeline, stage string) ([]models.Worker, error) {
	var rows []workerRow
	err := w.db.SelectContext(ctx, &rows,
		`SELECT * FROM workers WHERE grp = $1 AND pipeline = $2 AND stage = $3 ORDER BY name`, group, pipeline, stage)
	if err != nil {
		return nil, fmt.Errorf("columnar: list workers for %s/%s/%s: %w", group, pipeline, stage, err)
	}
	out := make([]models.Worker, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// SetActive records (or clears, when job == nil) the job a worker is
// currently executing, clearing IdleSince when a job starts and setting
// it to now when one ends.
func (w *Workers) SetActive(ctx context.Context, name string, job *models.ActiveJob) error {
	var active []byte
	var idleSince *time.Time
	if job != nil {
		var err error
		active, err = json.Marshal(job)
		if err != nil {
			return fmt.Errorf("columnar: encode active job for worker %s: %w", name, err)
		}
	} else {
		now := time.Now().UTC()
		idleSince = &now
	}
	_, err := w.db.ExecContext(ctx, `UPDATE workers SET active = $1, idle_since = $2 WHERE name = $3`, active, idleSince, name)
	if err != nil {
		return fmt.Errorf("columnar: set active job for worker %s: %w", name, err)
	}
	return nil
}

// Delete removes a worker row, the API-visible half of delete_workers
// (spec.md §4.3 check loop). The reactor's local cgroup teardown happens
// independently, driven by its own observation that the worker finished.
func (w *Workers) Delete(ctx context.Context, name string) error {
	_, err := w.db.ExecContext(ctx, `DELETE FROM workers WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("columnar: delete worker %s: %w", name, err)
	}
	return nil
}
