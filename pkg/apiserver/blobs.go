package apiserver

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thorium-sh/thorium/internal/apierr"
	"github.com/thorium-sh/thorium/pkg/blobstore"
)

// downloadSample handles GET /samples/{sha256}, streaming a content-
// addressed sample out of the "samples" blob bucket.
func (s *Server) downloadSample(c *gin.Context) {
	streamBlob(c, s.blob, "samples", c.Param("sha256"))
}

// uploadSample handles POST /samples, content-addressing the body into the
// "samples" bucket and returning its sha256. The full sample-ingestion
// pipeline (thorctl files upload, submission metadata) is out of scope, but
// the agent's Collect stage needs exactly this primitive to turn a child
// file a tool produced into a new content-addressed sample before it can
// reference it by sha256 in Output.Children.
func (s *Server) uploadSample(c *gin.Context) {
	sha256, err := s.blob.Put(c.Request.Context(), "samples", c.Request.Body)
	if err != nil {
		respondErr(c, apierr.Wrap(apierr.Transient, "uploading sample", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"sha256": sha256})
}

// downloadResultFile handles GET /results/{kind}/{key}/{id}/files/{name},
// the counterpart to uploadResultFile: an image's result-dependency
// setup downloads a prior tool's attached files by the same
// "{output_id}/{name}" key convention ingestion uses to delete them.
func (s *Server) downloadResultFile(c *gin.Context) {
	streamBlob(c, s.blob, "results", c.Param("id")+"/"+c.Param("name"))
}

// uploadResultFile handles PUT /results/{kind}/{key}/{id}/files/{name}.
// The agent's Collect stage calls submitResult first to learn the
// server-generated output id, then PUTs each result file here keyed by
// that id, matching pkg/ingestion.deleteResultBlobs's key convention
// exactly so retention pruning can find what to delete later.
func (s *Server) uploadResultFile(c *gin.Context) {
	key := c.Param("id") + "/" + c.Param("name")
	if err := s.blob.PutAt(c.Request.Context(), "results", key, c.Request.Body); err != nil {
		respondErr(c, apierr.Wrap(apierr.Transient, "uploading result file", err))
		return
	}
	c.Status(http.StatusNoContent)
}

// downloadEphemeral handles GET /reactions/{group}/{reaction}/ephemeral/{name}.
// Ephemeral files have no dedicated blob bucket kind (pkg/config.BlobConfig
// only names samples/results/repos), so they share the "samples" bucket
// under an "ephemeral/" key prefix rather than content addressing, since
// they are named rather than hashed (DESIGN.md).
func (s *Server) downloadEphemeral(c *gin.Context) {
	streamBlob(c, s.blob, "samples", ephemeralKey(c.Param("group"), c.Param("reaction"), c.Param("name")))
}

// uploadEphemeral handles PUT /reactions/{group}/{reaction}/ephemeral/{name},
// the write side a reaction submission uses to stage an ephemeral file
// before referencing its name in GenericJob.Ephemeral.
func (s *Server) uploadEphemeral(c *gin.Context) {
	key := ephemeralKey(c.Param("group"), c.Param("reaction"), c.Param("name"))
	if err := s.blob.PutAt(c.Request.Context(), "samples", key, c.Request.Body); err != nil {
		respondErr(c, apierr.Wrap(apierr.Transient, "uploading ephemeral file", err))
		return
	}
	c.Status(http.StatusNoContent)
}

func ephemeralKey(group, reaction, name string) string {
	return "ephemeral/" + group + "/" + reaction + "/" + name
}

// downloadRepo handles GET /repos/{url}/download?commitish=, returning the
// archive bytes for a repo at a resolved commit. Cloning/archiving a git
// repo is explicitly out of scope (spec.md's stated Non-goal "Git
// binary-format handling"); this handler only serves archives some
// out-of-scope ingestion path has already placed in the "repos" bucket,
// keyed by the resolved commit hash.
func (s *Server) downloadRepo(c *gin.Context) {
	commitish := c.Query("commitish")
	if commitish == "" {
		respondErr(c, apierr.New(apierr.BadRequest, "commitish is required"))
		return
	}
	streamBlob(c, s.blob, "repos", c.Param("url")+"@"+commitish)
}

func streamBlob(c *gin.Context, blob *blobstore.Client, kind, key string) {
	r, err := blob.Get(c.Request.Context(), kind, key)
	if err != nil {
		if err == blobstore.ErrNotFound {
			respondErr(c, apierr.New(apierr.NotFound, kind+"/"+key))
			return
		}
		respondErr(c, apierr.Wrap(apierr.Transient, "downloading "+kind, err))
		return
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		respondErr(c, apierr.Wrap(apierr.Transient, "streaming "+kind, err))
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", buf.Bytes())
}
