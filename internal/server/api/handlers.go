package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"mediad/internal/server/auth"
	"mediad/internal/server/database"
	"mediad/internal/server/service"
	"mediad/internal/server/upload"

	"github.com/labstack/echo/v4"
)

// Handler contains the HTTP handlers for the media API.
type Handler struct {
	svc     *service.MediaService
	db      *database.DB
	decoder upload.Decoder
}

// NewHandler creates a new handler with its dependencies.
func NewHandler(svc *service.MediaService, db *database.DB, decoder upload.Decoder) *Handler {
	return &Handler{svc: svc, db: db, decoder: decoder}
}

type attachRequest struct {
	FileID string `json:"fileId"`
}

// coverRequest distinguishes "set cover" from "clear cover": a null or
// absent fileId clears.
type coverRequest struct {
	FileID *string `json:"fileId"`
}

// HandleUpload handles POST /api/admin/uploads.
// Answers 201 for a freshly stored file and 200 when the content digest
// matched an existing one.
func (h *Handler) HandleUpload(c echo.Context) error {
	file, err := h.decoder.Decode(c.Request())
	if err != nil {
		return mapDecodeError(c, err)
	}

	record, created, err := h.svc.Upload(c.Request().Context(), file, "admin")
	if err != nil {
		return mapServiceError(c, err)
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, record)
}

// HandleListFiles handles GET /api/admin/files.
func (h *Handler) HandleListFiles(c echo.Context) error {
	records, err := h.svc.ListFiles(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, records)
}

// HandleAttachBlogPostFile handles POST /api/admin/blog-posts/:id/files.
func (h *Handler) HandleAttachBlogPostFile(c echo.Context) error {
	id, err := parseEntityID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid blog post id"})
	}

	var req attachRequest
	if err := c.Bind(&req); err != nil || req.FileID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "fileId is required"})
	}

	if err := h.svc.AttachToBlogPost(c.Request().Context(), id, req.FileID); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "file attached"})
}

// HandleAttachProjectFile handles POST /api/admin/projects/:id/files.
func (h *Handler) HandleAttachProjectFile(c echo.Context) error {
	id, err := parseEntityID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid project id"})
	}

	var req attachRequest
	if err := c.Bind(&req); err != nil || req.FileID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "fileId is required"})
	}

	if err := h.svc.AttachToProject(c.Request().Context(), id, req.FileID); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "file attached"})
}

// HandleSetBlogPostCover handles PATCH /api/admin/blog-posts/:id/cover.
func (h *Handler) HandleSetBlogPostCover(c echo.Context) error {
	id, err := parseEntityID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid blog post id"})
	}

	var req coverRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	if err := h.svc.SetBlogPostCover(c.Request().Context(), id, req.FileID); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "cover updated"})
}

// HandleSetProjectCover handles PATCH /api/admin/projects/:id/cover.
func (h *Handler) HandleSetProjectCover(c echo.Context) error {
	id, err := parseEntityID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid project id"})
	}

	var req coverRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	if err := h.svc.SetProjectCover(c.Request().Context(), id, req.FileID); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "cover updated"})
}

// HandleListBlogPostFiles handles GET /api/blog-posts/:id/files.
func (h *Handler) HandleListBlogPostFiles(c echo.Context) error {
	id, err := parseEntityID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid blog post id"})
	}

	records, err := h.svc.ListBlogPostFiles(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, records)
}

// HandleListProjectFiles handles GET /api/projects/:id/files.
func (h *Handler) HandleListProjectFiles(c echo.Context) error {
	id, err := parseEntityID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid project id"})
	}

	records, err := h.svc.ListProjectFiles(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, records)
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /api/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.GetStats(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_files":           stats.TotalFiles,
		"storage_bytes":         stats.StorageBytes,
		"blog_post_attachments": stats.BlogPostAttachments,
		"project_attachments":   stats.ProjectAttachments,
	})
}

func parseEntityID(c echo.Context) (int64, error) {
	return strconv.ParseInt(c.Param("id"), 10, 64)
}

// mapDecodeError translates upload decoder errors into HTTP responses.
func mapDecodeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, upload.ErrInvalidContentType):
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "expected a multipart/form-data request",
		})
	case errors.Is(err, upload.ErrNoFile):
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "no file provided (use form field 'file')",
		})
	case errors.Is(err, upload.ErrTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"error": "file exceeds maximum allowed size",
		})
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "malformed multipart body",
		})
	}
}

// mapServiceError translates service-layer errors into HTTP responses.
// Unexpected errors are logged in full; the client sees a generic message.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	case errors.Is(err, service.ErrFileNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "file not found"})
	case errors.Is(err, service.ErrBlogPostNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "blog post not found"})
	case errors.Is(err, service.ErrProjectNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "project not found"})
	case errors.Is(err, service.ErrUnsupportedMediaType):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unsupported media type"})
	default:
		slog.Error("request failed", "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}
