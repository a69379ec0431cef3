package apiserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/thorium-sh/thorium/internal/apierr"
	"github.com/thorium-sh/thorium/pkg/models"
)

// submitResult handles POST /results/{kind}/{key} — result ingestion
// (spec.md §4.5 steps 1-5), delegating the create/prune/notify sequence
// to pkg/ingestion.
func (s *Server) submitResult(c *gin.Context) {
	var body struct {
		Tool        string             `json:"tool" binding:"required"`
		ToolVersion string             `json:"tool_version"`
		Cmd         []string           `json:"cmd"`
		Result      []byte             `json:"result"`
		ResultFiles []string           `json:"result_files"`
		Display     models.DisplayType `json:"display"`
		Children    map[string]string  `json:"children"`
		Groups      []string           `json:"groups" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErr(c, apierr.New(apierr.BadRequest, "invalid result body"))
		return
	}

	out := models.Output{
		ID:          uuid.NewString(),
		Tool:        body.Tool,
		ToolVersion: body.ToolVersion,
		Cmd:         body.Cmd,
		Uploaded:    time.Now().UTC(),
		Result:      body.Result,
		ResultFiles: body.ResultFiles,
		Display:     body.Display,
		Children:    body.Children,
	}
	if err := s.ingest.SubmitResult(c.Request.Context(), c.Param("kind"), c.Param("key"), out, body.Groups); err != nil {
		respondErr(c, apierr.Wrap(apierr.Transient, "submitting result", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": out.ID})
}

// getResults handles GET /results/{kind}/{key}?groups=a,b&tools=c,d — the
// most-recent-first stream read spec.md §5 ordering guarantee (c) names.
func (s *Server) getResults(c *gin.Context) {
	groups := c.QueryArray("groups")
	tools := c.QueryArray("tools")
	rows, err := s.db.Results().GetIDs(c.Request.Context(), c.Param("kind"), c.Param("key"), groups, tools, false)
	if err != nil {
		respondErr(c, apierr.Wrap(apierr.Transient, "listing results", err))
		return
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.OutputID
	}
	outs, err := s.db.Results().Get(c.Request.Context(), ids)
	if err != nil {
		respondErr(c, apierr.Wrap(apierr.Transient, "loading results", err))
		return
	}
	ordered := make([]models.Output, 0, len(rows))
	for _, r := range rows {
		if o, ok := outs[r.OutputID]; ok {
			ordered = append(ordered, o)
		}
	}
	c.JSON(http.StatusOK, ordered)
}

// getTags handles GET /tags/{kind}/{key}?groups=a,b — the read side a
// job's tag dependency (image.Deps.Tags) uses to see a sample/repo's
// existing tags before running.
func (s *Server) getTags(c *gin.Context) {
	groups := c.QueryArray("groups")
	tags, err := s.db.Tags().Get(c.Request.Context(), c.Param("kind"), c.Param("key"), groups)
	if err != nil {
		respondErr(c, apierr.Wrap(apierr.Transient, "listing tags", err))
		return
	}
	c.JSON(http.StatusOK, tags)
}

// createTags handles POST /tags/{kind}/{key} — tag creation across
// groups, each with its own earliest timestamp (spec.md §4.5 tag create).
func (s *Server) createTags(c *gin.Context) {
	var body struct {
		Tags     map[string][]string `json:"tags" binding:"required"`
		Earliest map[string]string   `json:"earliest" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErr(c, apierr.New(apierr.BadRequest, "invalid tags body"))
		return
	}
	earliest := make(map[string]time.Time, len(body.Earliest))
	for group, ts := range body.Earliest {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			respondErr(c, apierr.New(apierr.BadRequest, "earliest timestamp for "+group+" must be RFC3339"))
			return
		}
		earliest[group] = t
	}
	if err := s.ingest.CreateTags(c.Request.Context(), c.Param("kind"), c.Param("key"), body.Tags, earliest); err != nil {
		respondErr(c, apierr.Wrap(apierr.Transient, "creating tags", err))
		return
	}
	c.Status(http.StatusNoContent)
}

// deleteTag handles DELETE /tags/{kind}/{group}/{key}/{tagkey}/{tagvalue},
// emitting TagSearchEvent::modified exactly once (spec.md §8 "tag delete
// consistency").
func (s *Server) deleteTag(c *gin.Context) {
	err := s.ingest.DeleteTag(c.Request.Context(), c.Param("kind"), c.Param("group"), c.Param("key"),
		c.Param("tagkey"), c.Param("tagvalue"))
	if err != nil {
		respondErr(c, apierr.Wrap(apierr.Transient, "deleting tag", err))
		return
	}
	c.Status(http.StatusNoContent)
}
