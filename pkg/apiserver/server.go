// Package apiserver implements Thorium's HTTP API: the job-handle
// contract of spec.md §6 plus the result/tag ingestion endpoints backing
// C2/C9. Grounded on the teacher's cmd/tarsy/main.go gin wiring and
// pkg/api/handlers.go's handler shape (ShouldBindJSON + explicit status
// codes) — not the unfinished echo v5 exploration pkg/api/server.go
// leaves in the teacher repo, which cmd/tarsy/main.go never references.
package apiserver

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thorium-sh/thorium/pkg/blobstore"
	"github.com/thorium-sh/thorium/pkg/columnar"
	"github.com/thorium-sh/thorium/pkg/engine"
	"github.com/thorium-sh/thorium/pkg/ingestion"
	"github.com/thorium-sh/thorium/pkg/kvindex"
)

// Server holds every dependency the HTTP handlers need.
type Server struct {
	engine *engine.Engine
	ingest *ingestion.Pipeline
	db     *columnar.Client
	blob   *blobstore.Client
	kv     *kvindex.Client
	keys   *KeyStore
	log    *slog.Logger
}

// NewServer constructs a Server over already-wired components.
func NewServer(e *engine.Engine, ingest *ingestion.Pipeline, db *columnar.Client, blob *blobstore.Client, kv *kvindex.Client, keys *KeyStore) *Server {
	return &Server{engine: e, ingest: ingest, db: db, blob: blob, kv: kv, keys: keys, log: slog.With("component", "apiserver")}
}

// Router builds a gin.Engine with every route registered, ready to Run.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	r.GET("/health", s.health)

	api := r.Group("/")
	api.Use(authMiddleware(s.keys))
	{
		api.PATCH("/jobs/claim/:group/:pipeline/:stage/:cluster/:node/:worker/:count", s.claim)
		api.POST("/jobs/handle/:id/proceed/:runtime", s.proceed)
		api.POST("/jobs/handle/:id/error", s.errorJob)
		api.POST("/jobs/handle/:id/sleep", s.sleep)
		api.POST("/jobs/handle/:id/checkpoint", s.checkpoint)
		api.GET("/jobs/deadlines/:scaler/:start/:end", s.deadlines)
		api.GET("/jobs/bulk/running/:scaler/:start/:end", s.running)
		api.POST("/jobs/bulk/reset", s.bulkReset)
		api.POST("/jobs/handle/:id/logs", s.addLogs)
		api.POST("/reactions", s.createReaction)

		api.POST("/results/:kind/:key", s.submitResult)
		api.GET("/results/:kind/:key", s.getResults)
		api.GET("/results/:kind/:key/:id/files/:name", s.downloadResultFile)
		api.PUT("/results/:kind/:key/:id/files/:name", s.uploadResultFile)
		api.GET("/tags/:kind/:key", s.getTags)
		api.POST("/tags/:kind/:key", s.createTags)
		api.DELETE("/tags/:kind/:group/:key/:tagkey/:tagvalue", s.deleteTag)

		api.GET("/samples/:sha256", s.downloadSample)
		api.POST("/samples", s.uploadSample)
		api.GET("/reactions/:group/:reaction/ephemeral/:name", s.downloadEphemeral)
		api.PUT("/reactions/:group/:reaction/ephemeral/:name", s.uploadEphemeral)
		api.GET("/repos/:url/download", s.downloadRepo)
		api.GET("/images/:group/:name", s.getImage)

		api.GET("/system/backup", s.backupKV)
		api.POST("/system/restore", s.restoreKV)
	}
	return r
}

func (s *Server) health(c *gin.Context) {
	h, err := s.db.Ping(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h)
}

// requestLogger mirrors the teacher's use of structured logging around
// each request rather than gin's default combined-log-format writer.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.log.Info("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
		)
	}
}
