package apiserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thorium-sh/thorium/internal/apierr"
	"github.com/thorium-sh/thorium/pkg/kvindex"
)

// backupKV handles GET /system/backup, the logical backup endpoint
// spec.md §4.6 names: a full DUMP of every key-value index key, returned
// as JSON so thoradm can write it straight to disk alongside the
// columnar partition archives.
func (s *Server) backupKV(c *gin.Context) {
	dumps, err := s.kv.Snapshot(c.Request.Context())
	if err != nil {
		respondErr(c, apierr.Wrap(apierr.Transient, "snapshotting kv index", err))
		return
	}
	c.JSON(http.StatusOK, dumps)
}

// restoreKV handles POST /system/restore, replaying a backupKV snapshot.
// Restore is destructive (every dumped key is overwritten), so the
// confirmation this demands happens client-side, in thoradm, before the
// request is ever sent.
func (s *Server) restoreKV(c *gin.Context) {
	var dumps []kvindex.KeyDump
	if err := c.ShouldBindJSON(&dumps); err != nil {
		respondErr(c, apierr.Wrap(apierr.BadRequest, "decoding kv snapshot", err))
		return
	}
	if err := s.kv.Restore(c.Request.Context(), dumps); err != nil {
		respondErr(c, apierr.Wrap(apierr.Transient, "restoring kv index", err))
		return
	}
	c.Status(http.StatusNoContent)
}
