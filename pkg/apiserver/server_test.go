package apiserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
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

func newTestKeyStore(t *testing.T, lines string) *KeyStore {
	t.Helper()
	ks, err := LoadKeyStore(writeKeyFile(t, lines))
	require.NoError(t, err)
	return ks
}

// These tests cover the handlers that only touch the columnar store
// directly (health, getImage); the result/job/sample handlers are
// exercised by pkg/ingestion and pkg/engine's own test suites against
// the same columnar+kvindex backends, and re-driving them here through
// HTTP would just restate those tests behind gin routing.
func TestHealthEndpointReportsOK(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestColumnarClient(t)
	srv := NewServer(nil, nil, db, nil, nil, nil)

	r := srv.Router()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetImageEndpointRequiresAuthAndReturnsStoredImage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestColumnarClient(t)
	require.NoError(t, db.Catalog().PutImage(context.Background(), models.Image{
		Group:          "research",
		Name:           "harvest",
		Scaler:         models.ScalerK8s,
		ContainerImage: "repo/harvest:1.0",
	}))

	keys := newTestKeyStore(t, "tok-agent component:agent\n")
	srv := NewServer(nil, nil, db, nil, nil, keys)
	r := srv.Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/images/research/harvest", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "the image route must sit behind auth middleware")

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/images/research/harvest", nil)
	req.Header.Set("Authorization", "Bearer tok-agent")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "repo/harvest:1.0")
}

func TestGetImageEndpointMissingImageReturnsNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestColumnarClient(t)
	keys := newTestKeyStore(t, "tok-agent component:agent\n")
	srv := NewServer(nil, nil, db, nil, nil, keys)
	r := srv.Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/images/research/missing", nil)
	req.Header.Set("Authorization", "Bearer tok-agent")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
