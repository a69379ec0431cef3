package columnar

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Logs is the append-only store of per-job stage logs: every batch the
// agent ships during monitor(), plus the final lines proceed()/error()
// append, lands here as one row so the full ordered transcript can be
// read back for `thorctl reactions logs`.
type Logs struct {
	db *sqlx.DB
}

func (c *Client) Logs() *Logs {
	return &Logs{db: c.db}
}

// Append persists one batch of log lines for a job, in order.
func (l *Logs) Append(ctx context.Context, jobID string, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	b, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("columnar: encode log chunk for job %s: %w", jobID, err)
	}
	_, err = l.db.ExecContext(ctx, `INSERT INTO job_logs (job_id, chunk) VALUES ($1, $2)`, jobID, b)
	if err != nil {
		return fmt.Errorf("columnar: append log chunk for job %s: %w", jobID, err)
	}
	return nil
}

// Get returns every log line for a job, oldest first.
func (l *Logs) Get(ctx context.Context, jobID string) ([]string, error) {
	var chunks [][]byte
	if err := l.db.SelectContext(ctx, &chunks, `SELECT chunk FROM job_logs WHERE job_id = $1 ORDER BY id`, jobID); err != nil {
		return nil, fmt.Errorf("columnar: get logs for job %s: %w", jobID, err)
	}
	var out []string
	for _, c := range chunks {
		var lines []string
		if err := json.Unmarshal(c, &lines); err != nil {
			return nil, fmt.Errorf("columnar: decode log chunk for job %s: %w", jobID, err)
		}
		out = append(out, lines...)
	}
	return out, nil
}
