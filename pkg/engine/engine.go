// Package engine implements Thorium's reaction/job engine (C4): the state
// machine and claim/deadline queue that turn a reaction request into
// ordered jobs, admit them to workers, and drive the parent reaction to
// completion or failure. Grounded on the teacher's pkg/queue/worker.go
// claim-then-execute loop (generalized from a single in-process queue to
// the columnar-backed durable rows plus kvindex-backed deadline streams
// spec.md §4.1 describes) and pkg/session/types.go's status-enum handling
// (generalized to the reaction/job dual state machine of spec.md §4.1).
package engine

import (
	"log/slog"

	"github.com/thorium-sh/thorium/pkg/columnar"
	"github.com/thorium-sh/thorium/pkg/kvindex"
)

// Engine ties the durable columnar rows (the source of truth for status)
// to the kvindex deadline/running streams (the ordering primitive claim
// pops from). Every mutating operation updates both: the columnar row
// first since it carries the authoritative FOR-UPDATE guard, then the
// kvindex streams, so a crash between the two leaves the kvindex index
// merely stale rather than the row incorrect.
type Engine struct {
	db  *columnar.Client
	kv  *kvindex.Client
	log *slog.Logger
}

// New constructs an Engine over already-connected store clients.
func New(db *columnar.Client, kv *kvindex.Client) *Engine {
	return &Engine{db: db, kv: kv, log: slog.With("component", "engine")}
}
