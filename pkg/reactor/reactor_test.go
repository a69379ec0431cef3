package reactor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/thorium-sh/thorium/pkg/columnar"
	"github.com/thorium-sh/thorium/pkg/models"
)

func newTestColumnarClient(t *testing.T) *columnar.Client {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	client, err := columnar.NewClient(ctx, columnar.Config{
		Host:            host,
		Port:            port.Int(),
		User:            "test",
		Password:        "test",
		Database:        "test",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client
}

// fakeLauncher is a scriptable Launcher: each worker name is pre-seeded
// with the liveness/recovery answer the test wants Tick to observe,
// avoiding any real cgroup or process-tree interaction.
type fakeLauncher struct {
	mu        sync.Mutex
	alive     map[string]bool
	recovered map[string]bool
	launched  []string
	killed    []string
	cleaned   []string
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{alive: map[string]bool{}, recovered: map[string]bool{}}
}

func (f *fakeLauncher) Launch(ctx context.Context, worker models.Worker, image models.Image, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launched = append(f.launched, worker.Name)
	f.alive[worker.Name] = true
	return nil
}

func (f *fakeLauncher) Alive(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[name]
}

func (f *fakeLauncher) Recover(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recovered[name]
}

func (f *fakeLauncher) Kill(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, name)
	delete(f.alive, name)
	return nil
}

func (f *fakeLauncher) Cleanup(ctx context.Context, worker models.Worker, image models.Image, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned = append(f.cleaned, worker.Name)
	return nil
}

// seedJob creates a parent reaction row (jobs.reaction_id is a FK) and a
// single job under it, since Jobs.Create never materializes its own
// reaction.
func seedJob(t *testing.T, db *columnar.Client, jobID, reactionID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.Reactions().Create(ctx, models.Reaction{
		ID: reactionID, Group: "research", Pipeline: "full-scan", Creator: "alice",
		Status: models.ReactionRunning, Jobs: []string{jobID},
	}))
	require.NoError(t, db.Jobs().Create(ctx, models.GenericJob{
		ID: jobID, ReactionID: reactionID, Group: "research", Image: "harvest",
		Status: models.JobRunning, Deadline: time.Now(),
	}))
}

func TestTickLaunchesSpawningWorkers(t *testing.T) {
	ctx := context.Background()
	db := newTestColumnarClient(t)
	launcher := newFakeLauncher()
	r := New("cluster-1", "node-1", launcher, db, time.Hour)

	const jobID = "00000000-0000-0000-0000-000000000001"
	seedJob(t, db, jobID, "00000000-0000-0000-0000-000000000101")
	require.NoError(t, db.Catalog().PutImage(ctx, models.Image{Group: "research", Name: "harvest", Scaler: models.ScalerBareMetal, ContainerImage: "repo/harvest:1.0"}))
	require.NoError(t, db.Workers().Create(ctx, models.Worker{
		Cluster: "cluster-1", Node: "node-1", Name: "worker-1",
		Group: "research", Status: models.WorkerSpawning,
	}))
	require.NoError(t, db.Workers().SetActive(ctx, "worker-1", &models.ActiveJob{JobID: jobID, StartedAt: time.Now()}))

	require.NoError(t, r.Tick(ctx))

	assert.Contains(t, launcher.launched, "worker-1")
	w, err := db.Workers().Get(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkerRunning, w.Status)
}

func TestTickRetiresLeakedIdleWorker(t *testing.T) {
	ctx := context.Background()
	db := newTestColumnarClient(t)
	launcher := newFakeLauncher()
	r := New("cluster-1", "node-1", launcher, db, time.Minute)

	launcher.alive["worker-2"] = true
	require.NoError(t, db.Workers().Create(ctx, models.Worker{
		Cluster: "cluster-1", Node: "node-1", Name: "worker-2",
		Group: "research", Status: models.WorkerRunning,
	}))
	idleSince := time.Now().Add(-2 * time.Hour)
	_, err := db.DB().ExecContext(ctx, `UPDATE workers SET idle_since = $1 WHERE name = $2`, idleSince, "worker-2")
	require.NoError(t, err)

	require.NoError(t, r.Tick(ctx))

	assert.Contains(t, launcher.killed, "worker-2", "a worker idle past its leak grace must be killed")
	_, err = db.Workers().Get(ctx, "worker-2")
	assert.Error(t, err, "a retired worker's desired-state row must be deleted")
}

func TestTickRetiresDeadProcessTreeAndResetsJob(t *testing.T) {
	ctx := context.Background()
	db := newTestColumnarClient(t)
	launcher := newFakeLauncher()
	r := New("cluster-1", "node-1", launcher, db, time.Hour)

	const jobID = "00000000-0000-0000-0000-000000000003"
	seedJob(t, db, jobID, "00000000-0000-0000-0000-000000000103")
	require.NoError(t, db.Catalog().PutImage(ctx, models.Image{Group: "research", Name: "harvest", Scaler: models.ScalerBareMetal, ContainerImage: "repo/harvest:1.0"}))
	require.NoError(t, db.Workers().Create(ctx, models.Worker{
		Cluster: "cluster-1", Node: "node-1", Name: "worker-3",
		Group: "research", Status: models.WorkerRunning,
	}))
	require.NoError(t, db.Workers().SetActive(ctx, "worker-3", &models.ActiveJob{JobID: jobID, StartedAt: time.Now()}))
	// launcher.alive["worker-3"] left false: process tree is gone.

	require.NoError(t, r.Tick(ctx))

	assert.Contains(t, launcher.cleaned, "worker-3")
	_, err := db.Workers().Get(ctx, "worker-3")
	assert.Error(t, err)

	reset, err := db.Jobs().Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCreated, reset.Status, "the in-flight job must be reset so another worker can claim it")
}
