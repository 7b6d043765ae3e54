package file

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shieldmaiden/shieldmaiden/internal/audit"
	"github.com/shieldmaiden/shieldmaiden/internal/auth"
	"github.com/shieldmaiden/shieldmaiden/internal/metrics"
)

// maxUploadBytes caps multipart uploads. Matches the quota ceiling a fresh
// account gets, so one request can never blow past it unnoticed.
const maxUploadBytes = 1 << 30

type httpHandler struct {
	service *Service
	audits  *audit.Service
}

// RegisterRoutes mounts the authenticated file endpoints.
func RegisterRoutes(router *gin.RouterGroup, service *Service, audits *audit.Service) {
	handler := &httpHandler{service: service, audits: audits}
	fileGroup := router.Group("/files")
	{
		fileGroup.POST("", handler.upload)
		fileGroup.GET("", handler.list)
		fileGroup.GET("/:fileID", handler.get)
		fileGroup.GET("/:fileID/download", handler.download)
		fileGroup.DELETE("/:fileID", handler.remove)
	}
}

// RegisterAdminRoutes mounts the admin file surface.
func RegisterAdminRoutes(router *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	router.GET("/files", handler.listAll)
	router.DELETE("/files/:fileID", handler.adminRemove)
}

func (h *httpHandler) upload(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}

	src, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file payload"})
		return
	}
	defer src.Close()

	stored, err := h.service.Upload(c.Request.Context(), userID, UploadInput{
		Name:     header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Size:     header.Size,
		Content:  src,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrQuotaExceeded):
			metrics.UploadsTotal.WithLabelValues("quota_exceeded").Inc()
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "storage quota exceeded"})
		case errors.Is(err, ErrStorageUnavailable):
			metrics.UploadsTotal.WithLabelValues("storage_error").Inc()
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		default:
			metrics.UploadsTotal.WithLabelValues("error").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	metrics.UploadsTotal.WithLabelValues("ok").Inc()
	metrics.BytesUploaded.Add(float64(stored.SizeBytes))
	c.JSON(http.StatusCreated, stored)
}

func (h *httpHandler) list(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	limit, offset := paginationParams(c)
	files, err := h.service.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list files"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"files": files, "count": len(files)})
}

func (h *httpHandler) get(c *gin.Context) {
	userID, user, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	fileID, err := uuid.Parse(c.Param("fileID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file id"})
		return
	}

	f, err := h.service.Get(c.Request.Context(), fileID, userID, user.IsAdmin)
	if err != nil {
		respondFileError(c, err)
		return
	}

	c.JSON(http.StatusOK, f)
}

// download streams the decrypted content back to the owner. Every attempt is
// recorded in the ledger, the same as share-link traffic.
func (h *httpHandler) download(c *gin.Context) {
	start := time.Now()

	userID, user, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	entry := audit.Entry{
		UserID:       &userID,
		IPAddress:    c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
		Referer:      c.Request.Referer(),
		DownloadType: audit.TypeDirect,
	}

	fail := func(err error, code string) {
		msg := err.Error()
		entry.Success = false
		entry.ErrorCode = &code
		entry.ErrorMessage = &msg
		duration := time.Since(start).Milliseconds()
		entry.DurationMS = &duration
		h.audits.Record(c.Request.Context(), entry)
		metrics.ObserveDownload(audit.TypeDirect, code)
		respondFileError(c, err)
	}

	fileID, err := uuid.Parse(c.Param("fileID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file id"})
		return
	}
	entry.FileID = &fileID

	f, err := h.service.Get(c.Request.Context(), fileID, userID, user.IsAdmin)
	if err != nil {
		fail(err, classifyFileError(err))
		return
	}
	entry.FileName = f.OriginalName
	entry.FileSize = f.SizeBytes
	entry.FileMime = f.MimeType

	stored, reader, err := h.service.OpenDecrypted(c.Request.Context(), fileID)
	if err != nil {
		fail(err, classifyFileError(err))
		return
	}
	defer reader.Close()

	entry.Success = true
	duration := time.Since(start).Milliseconds()
	entry.DurationMS = &duration
	h.audits.Record(c.Request.Context(), entry)
	metrics.ObserveDownload(audit.TypeDirect, "ok")

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", stored.OriginalName))
	c.DataFromReader(http.StatusOK, stored.SizeBytes, stored.MimeType, reader, nil)
}

func (h *httpHandler) remove(c *gin.Context) {
	userID, user, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	h.doRemove(c, userID, user.IsAdmin)
}

func (h *httpHandler) adminRemove(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	h.doRemove(c, userID, true)
}

func (h *httpHandler) doRemove(c *gin.Context, userID uuid.UUID, adminOverride bool) {
	fileID, err := uuid.Parse(c.Param("fileID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file id"})
		return
	}

	if err := h.service.SoftDelete(c.Request.Context(), fileID, userID, adminOverride); err != nil {
		respondFileError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "file deleted"})
}

func (h *httpHandler) listAll(c *gin.Context) {
	limit, offset := paginationParams(c)
	files, total, err := h.service.ListAll(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list files"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"files": files, "count": len(files), "total": total})
}

func paginationParams(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func classifyFileError(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrContentMissing):
		return "content_missing"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "internal"
	}
}

func respondFileError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
	case errors.Is(err, ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	case errors.Is(err, ErrContentMissing):
		c.JSON(http.StatusGone, gin.H{"error": "file content no longer available"})
	case errors.Is(err, ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
