package ingest

import (
	"context"
	"net/http"
	"strings"

	"aerodesk/internal/knowledge"

	"github.com/gin-gonic/gin"
)

// SourceDeleter removes all stored chunks of one uploaded document.
type SourceDeleter interface {
	DeleteBySource(ctx context.Context, domain knowledge.Domain, sourceFile string) error
}

type Handler struct {
	Pipeline *Pipeline
	Deleter  SourceDeleter
}

func RegisterRoutes(router gin.IRoutes, handler *Handler) {
	router.POST("/documents", handler.HandleUpload)
	router.DELETE("/documents", handler.HandleDelete)
}

type uploadRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Domain   string `json:"domain,omitempty"`
}

func (h *Handler) HandleUpload(c *gin.Context) {
	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	var domain knowledge.Domain
	if trimmed := strings.TrimSpace(req.Domain); trimmed != "" {
		parsed, err := knowledge.ParseDomain(trimmed)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		domain = parsed
	}

	result, err := h.Pipeline.Ingest(c.Request.Context(), Request{
		Filename: req.Filename,
		Content:  req.Content,
		Domain:   domain,
	})
	if err != nil {
		status := http.StatusBadRequest
		if !isValidationError(err) {
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) HandleDelete(c *gin.Context) {
	if h.Deleter == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "deletion unavailable"})
		return
	}
	domain, err := knowledge.ParseDomain(c.Query("domain"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sourceFile := strings.TrimSpace(c.Query("source_file"))
	if sourceFile == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_file is required"})
		return
	}
	if err := h.Deleter.DeleteBySource(c.Request.Context(), domain, sourceFile); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete document"})
		return
	}
	c.Status(http.StatusNoContent)
}

func isValidationError(err error) bool {
	switch {
	case err == nil:
		return false
	case strings.Contains(err.Error(), "unsupported file type"),
		strings.Contains(err.Error(), "empty"),
		strings.Contains(err.Error(), "byte limit"),
		strings.Contains(err.Error(), "filename is required"):
		return true
	}
	return false
}
