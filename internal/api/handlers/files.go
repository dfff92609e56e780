package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/schuttebj/linc-print-backend/internal/core"
	"github.com/schuttebj/linc-print-backend/internal/store"
)

// artifactRoutes maps URL path segments to artifact kinds and content types.
var artifactRoutes = map[string]struct {
	kind        store.ArtifactKind
	contentType string
}{
	"front-image":  {store.ArtifactFrontImage, "image/png"},
	"back-image":   {store.ArtifactBackImage, "image/png"},
	"front-pdf":    {store.ArtifactFrontPDF, "application/pdf"},
	"back-pdf":     {store.ArtifactBackPDF, "application/pdf"},
	"combined-pdf": {store.ArtifactCombinedPDF, "application/pdf"},
}

type FileHandler struct {
	engine *core.Engine
}

func NewFileHandler(engine *core.Engine) *FileHandler {
	return &FileHandler{engine: engine}
}

// GetArtifact streams one card artifact. Artifacts of completed jobs are
// destroyed by policy and answer 410, never 404.
func (h *FileHandler) GetArtifact(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	route, ok := artifactRoutes[c.Param("artifact")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown artifact"})
		return
	}

	data, err := h.engine.RetrieveArtifact(c.Request.Context(), id, route.kind)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrJobNotFound), errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})
		case errors.Is(err, core.ErrGone):
			c.JSON(http.StatusGone, gin.H{"error": "card files were destroyed after quality assurance"})
		case errors.Is(err, core.ErrRenderFailed):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "card rendering failed"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve artifact"})
		}
		return
	}

	c.Header("Content-Disposition",
		fmt.Sprintf("inline; filename=%q", route.kind.Filename()))
	c.Data(http.StatusOK, route.contentType, data)
}

// RegenerateFiles re-renders the card artifacts of a live job, for operator
// recovery after a failed render or a damaged file.
func (h *FileHandler) RegenerateFiles(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := h.engine.GetJob(c.Request.Context(), id)
	if err != nil {
		writeJobError(c, err)
		return
	}

	if err := h.engine.EnsureFiles(c.Request.Context(), job); err != nil {
		if errors.Is(err, core.ErrGone) {
			c.JSON(http.StatusGone, gin.H{"error": "card files were destroyed after quality assurance"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "card rendering failed"})
		return
	}

	job, err = h.engine.GetJob(c.Request.Context(), id)
	if err != nil {
		writeJobError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}
