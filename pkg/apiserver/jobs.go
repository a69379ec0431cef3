package apiserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thorium-sh/thorium/internal/apierr"
	"github.com/thorium-sh/thorium/pkg/engine"
	"github.com/thorium-sh/thorium/pkg/models"
)

func respondErr(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apierr.Status(err), gin.H{"error": err.Error()})
}

// claim handles PATCH /jobs/claim/{group}/{pipeline}/{stage}/{cluster}/{node}/{worker}/{count}
// (spec.md §6) → [GenericJob].
func (s *Server) claim(c *gin.Context) {
	count, err := strconv.Atoi(c.Param("count"))
	if err != nil {
		respondErr(c, apierr.New(apierr.BadRequest, "count must be an integer"))
		return
	}
	jobs, err := s.engine.Claim(c.Request.Context(),
		c.Param("group"), c.Param("pipeline"), c.Param("stage"),
		c.Param("cluster"), c.Param("node"), c.Param("worker"), count)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

type logsBody struct {
	Logs []string `json:"logs"`
}

// proceed handles POST /jobs/handle/{id}/proceed/{runtime} + JSON logs →
// {status} (spec.md §6).
func (s *Server) proceed(c *gin.Context) {
	runtime, err := strconv.ParseFloat(c.Param("runtime"), 64)
	if err != nil {
		respondErr(c, apierr.New(apierr.BadRequest, "runtime must be numeric seconds"))
		return
	}
	var body logsBody
	if err := c.ShouldBindJSON(&body); err != nil && c.Request.ContentLength != 0 {
		respondErr(c, apierr.New(apierr.BadRequest, "invalid logs body"))
		return
	}
	status, err := s.engine.Proceed(c.Request.Context(), c.Param("id"), body.Logs, runtime)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// errorJob handles POST /jobs/handle/{id}/error + JSON logs → {status}.
func (s *Server) errorJob(c *gin.Context) {
	var body struct {
		Reason string   `json:"reason"`
		Logs   []string `json:"logs"`
	}
	if err := c.ShouldBindJSON(&body); err != nil && c.Request.ContentLength != 0 {
		respondErr(c, apierr.New(apierr.BadRequest, "invalid error body"))
		return
	}
	status, err := s.engine.Error(c.Request.Context(), c.Param("id"), body.Reason, body.Logs)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// sleep handles POST /jobs/handle/{id}/sleep + {data} → {status}.
func (s *Server) sleep(c *gin.Context) {
	var body struct {
		Data            string   `json:"data" binding:"required"`
		ResumeAfterSecs int64    `json:"resume_after_secs"`
		Logs            []string `json:"logs"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErr(c, apierr.New(apierr.BadRequest, "invalid sleep body"))
		return
	}
	status, err := s.engine.Sleep(c.Request.Context(), c.Param("id"), body.Data,
		time.Duration(body.ResumeAfterSecs)*time.Second, body.Logs)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// checkpoint handles POST /jobs/handle/{id}/checkpoint + {data} → {status}.
func (s *Server) checkpoint(c *gin.Context) {
	var body struct {
		Data string `json:"data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErr(c, apierr.New(apierr.BadRequest, "invalid checkpoint body"))
		return
	}
	status, err := s.engine.Checkpoint(c.Request.Context(), c.Param("id"), body.Data)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// addLogs handles POST /jobs/handle/{id}/logs + {logs} → 204, the
// mid-stage log shipment the agent's monitor() cycle uses (spec.md §4.4
// "ship them to the API in batches"), distinct from the final batch
// proceed()/error() append.
func (s *Server) addLogs(c *gin.Context) {
	var body logsBody
	if err := c.ShouldBindJSON(&body); err != nil && c.Request.ContentLength != 0 {
		respondErr(c, apierr.New(apierr.BadRequest, "invalid logs body"))
		return
	}
	if err := s.engine.AddLogs(c.Request.Context(), c.Param("id"), body.Logs); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// deadlines handles GET /jobs/deadlines/{scaler}/{start}/{end}?limit= →
// [Deadline].
func (s *Server) deadlines(c *gin.Context) {
	start, end, limit, err := parseRangeQuery(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	out, err := s.engine.Deadlines(c.Request.Context(), models.ScalerKind(c.Param("scaler")), start, end, limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// running handles GET /jobs/bulk/running/{scaler}/{start}/{end}?limit= →
// [RunningJob].
func (s *Server) running(c *gin.Context) {
	start, end, limit, err := parseRangeQuery(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	out, err := s.engine.Running(c.Request.Context(), models.ScalerKind(c.Param("scaler")), start, end, limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// bulkReset handles POST /jobs/bulk/reset + JobResets → 204.
func (s *Server) bulkReset(c *gin.Context) {
	var req engine.JobResets
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apierr.New(apierr.BadRequest, "invalid reset body"))
		return
	}
	if err := s.engine.ResetByID(c.Request.Context(), req, requestorFrom(c)); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// createReaction handles POST /reactions → {id}, the only non-job-handle
// endpoint of the reaction/job engine's surface (create() isn't part of
// spec.md §6's "stable contract" list but must be reachable somehow).
func (s *Server) createReaction(c *gin.Context) {
	var req engine.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apierr.New(apierr.BadRequest, "invalid reaction body"))
		return
	}
	id, err := s.engine.Create(c.Request.Context(), req)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func parseRangeQuery(c *gin.Context) (start, end time.Time, limit int64, err error) {
	start, err = time.Parse(time.RFC3339Nano, c.Param("start"))
	if err != nil {
		return start, end, limit, apierr.New(apierr.BadRequest, "start must be RFC3339")
	}
	end, err = time.Parse(time.RFC3339Nano, c.Param("end"))
	if err != nil {
		return start, end, limit, apierr.New(apierr.BadRequest, "end must be RFC3339")
	}
	limit = int64(10000)
	if q := c.Query("limit"); q != "" {
		n, parseErr := strconv.ParseInt(q, 10, 64)
		if parseErr != nil {
			return start, end, limit, apierr.New(apierr.BadRequest, "limit must be an integer")
		}
		limit = n
	}
	return start, end, limit, nil
}
