package apiserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thorium-sh/thorium/internal/apierr"
)

// getImage handles GET /images/{group}/{name}, the read side the agent
// uses to fetch a job's full Image definition (command template,
// dependency settings, output paths, timeout) after claiming a job that
// only names the image, not the image itself.
func (s *Server) getImage(c *gin.Context) {
	img, err := s.db.Catalog().GetImage(c.Request.Context(), c.Param("group"), c.Param("name"))
	if err != nil {
		respondErr(c, apierr.Wrap(apierr.NotFound, "loading image", err))
		return
	}
	c.JSON(http.StatusOK, img)
}
