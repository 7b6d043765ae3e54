package share

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
	"github.com/shieldmaiden/shieldmaiden/internal/file"
	"github.com/shieldmaiden/shieldmaiden/internal/metrics"
)

// passwordHeader lets clients supply the link secret without putting it in
// the URL.
const passwordHeader = "X-Share-Password"

type httpHandler struct {
	service *Service
	files   *file.Service
	audits  *audit.Service
}

// RegisterPublicRoutes mounts the anonymous share surface. The group is
// expected to carry optional authentication so auth-gated links can see a
// subject when one is present.
func RegisterPublicRoutes(router *gin.RouterGroup, service *Service, files *file.Service, audits *audit.Service) {
	handler := &httpHandler{service: service, files: files, audits: audits}
	shareGroup := router.Group("/share")
	{
		shareGroup.GET("/:token", handler.preview)
		shareGroup.GET("/:token/download", handler.download)
		shareGroup.POST("/:token/download", handler.download)
	}
}

// RegisterRoutes mounts the authenticated link-management endpoints.
func RegisterRoutes(router *gin.RouterGroup, service *Service, files *file.Service) {
	handler := &httpHandler{service: service, files: files}
	router.POST("/files/:fileID/links", handler.create)
	router.GET("/files/:fileID/links", handler.listForFile)

	linkGroup := router.Group("/links")
	{
		linkGroup.GET("", handler.listOwn)
		linkGroup.GET("/stats", handler.ownStats)
		linkGroup.PUT("/:id", handler.update)
		linkGroup.DELETE("/:id", handler.deactivate)
	}
}

// RegisterAdminRoutes mounts the admin override surface.
func RegisterAdminRoutes(router *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	router.GET("/links/stats", handler.globalStats)
	router.DELETE("/links/:id", handler.adminDeactivate)
}

type createLinkRequest struct {
	AccessType        string   `json:"access_type" binding:"omitempty,oneof=single multiple unlimited"`
	DownloadLimit     int      `json:"download_limit" binding:"omitempty,min=1,max=1000"`
	ExpiresAt         int64    `json:"expires_at" binding:"required"`
	Password          *string  `json:"password" binding:"omitempty,min=4,max=72"`
	AllowedIPs        []string `json:"allowed_ips" binding:"omitempty,max=50"`
	AllowedEmails     []string `json:"allowed_emails" binding:"omitempty,max=50,dive,email"`
	RequiresAuth      bool     `json:"requires_auth"`
	CustomMessage     string   `json:"custom_message" binding:"omitempty,max=500"`
	NotifyOnDownload  bool     `json:"notify_on_download"`
	NotificationEmail *string  `json:"notification_email" binding:"omitempty,email"`
}

type updateLinkRequest struct {
	DownloadLimit     *int    `json:"download_limit" binding:"omitempty,min=1,max=1000"`
	ExpiresAt         *int64  `json:"expires_at"`
	CustomMessage     *string `json:"custom_message" binding:"omitempty,max=500"`
	NotifyOnDownload  *bool   `json:"notify_on_download"`
	NotificationEmail *string `json:"notification_email" binding:"omitempty,email"`
	Password          *string `json:"password"`
}

type previewResponse struct {
	FileName           string  `json:"file_name"`
	FileSize           int64   `json:"file_size"`
	FileSizeFormatted  string  `json:"file_size_formatted"`
	MimeType           string  `json:"mime_type"`
	ExpiresIn          string  `json:"expires_in"`
	RemainingDownloads *int    `json:"remaining_downloads,omitempty"`
	PasswordProtected  bool    `json:"password_protected"`
	RequiresAuth       bool    `json:"requires_auth"`
	CustomMessage      string  `json:"custom_message,omitempty"`
	SharedBy           *string `json:"shared_by,omitempty"`
}

func (h *httpHandler) preview(c *gin.Context) {
	link, f, err := h.service.Preview(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondAccessError(c, err)
		return
	}

	c.JSON(http.StatusOK, previewResponse{
		FileName:           f.OriginalName,
		FileSize:           f.SizeBytes,
		FileSizeFormatted:  f.SizeFormatted(),
		MimeType:           f.MimeType,
		ExpiresIn:          link.ExpiresIn(time.Now()),
		RemainingDownloads: link.RemainingDownloads(),
		PasswordProtected:  link.IsPasswordProtected(),
		RequiresAuth:       link.RequiresAuth,
		CustomMessage:      link.CustomMessage,
	})
}

// download walks the full gate chain, spends one unit and streams the
// decrypted content. Every attempt lands in the audit ledger whether it
// succeeded or not.
func (h *httpHandler) download(c *gin.Context) {
	start := time.Now()
	token := c.Param("token")
	ip := c.ClientIP()

	vctx := ValidateContext{IP: &ip, Password: extractPassword(c)}
	if user, ok := auth.CurrentUser(c); ok {
		if id, err := uuid.Parse(user.ID); err == nil {
			email := user.Email
			vctx.SubjectID = &id
			vctx.SubjectEmail = &email
		}
	}

	entry := audit.Entry{
		IPAddress:    ip,
		UserAgent:    c.Request.UserAgent(),
		Referer:      c.Request.Referer(),
		DownloadType: audit.TypeShareLink,
	}
	if vctx.SubjectID != nil {
		entry.UserID = vctx.SubjectID
	}

	fail := func(err error) {
		code := Classify(err)
		msg := err.Error()
		entry.Success = false
		entry.ErrorCode = &code
		entry.ErrorMessage = &msg
		finishEntry(&entry, start)
		h.audits.Record(c.Request.Context(), entry)
		metrics.ObserveDownload(audit.TypeShareLink, code)
		respondAccessError(c, err)
	}

	link, f, err := h.service.Validate(c.Request.Context(), token, vctx)
	if err != nil {
		fail(err)
		return
	}

	entry.FileID = &f.ID
	entry.LinkID = &link.ID
	entry.FileName = f.OriginalName
	entry.FileSize = f.SizeBytes
	entry.FileMime = f.MimeType

	if _, err := h.service.Consume(c.Request.Context(), link.ID, &ip); err != nil {
		fail(err)
		return
	}

	stored, reader, err := h.files.OpenDecrypted(c.Request.Context(), f.ID)
	if err != nil {
		fail(err)
		return
	}
	defer reader.Close()

	entry.Success = true
	finishEntry(&entry, start)
	h.audits.Record(c.Request.Context(), entry)
	metrics.ObserveDownload(audit.TypeShareLink, "ok")

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", stored.OriginalName))
	c.DataFromReader(http.StatusOK, stored.SizeBytes, stored.MimeType, reader, nil)
}

func (h *httpHandler) create(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	fileID, err := uuid.Parse(c.Param("fileID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file id"})
		return
	}

	var req createLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	link, err := h.service.Create(c.Request.Context(), fileID, userID, CreateInput{
		AccessType:        AccessType(req.AccessType),
		DownloadLimit:     req.DownloadLimit,
		ExpiresAt:         time.Unix(req.ExpiresAt, 0),
		Password:          req.Password,
		AllowedIPs:        req.AllowedIPs,
		AllowedEmails:     req.AllowedEmails,
		RequiresAuth:      req.RequiresAuth,
		CustomMessage:     req.CustomMessage,
		NotifyOnDownload:  req.NotifyOnDownload,
		NotificationEmail: req.NotificationEmail,
	})
	if err != nil {
		switch {
		case errors.Is(err, file.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		case errors.Is(err, file.ErrAccessDenied):
			c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	metrics.LinksCreated.Inc()
	c.JSON(http.StatusCreated, link)
}

func (h *httpHandler) listForFile(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	fileID, err := uuid.Parse(c.Param("fileID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file id"})
		return
	}

	links, err := h.service.ListForFile(c.Request.Context(), fileID, userID)
	if err != nil {
		switch {
		case errors.Is(err, file.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		case errors.Is(err, file.ErrAccessDenied):
			c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list share links"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"links": links, "count": len(links)})
}

func (h *httpHandler) listOwn(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	activeOnly, _ := strconv.ParseBool(c.Query("active"))
	links, err := h.service.ListForUser(c.Request.Context(), userID, activeOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list share links"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"links": links, "count": len(links)})
}

func (h *httpHandler) ownStats(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	stats, err := h.service.UserStats(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *httpHandler) globalStats(c *gin.Context) {
	stats, err := h.service.GlobalStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *httpHandler) update(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	linkID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid link id"})
		return
	}

	var req updateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	input := UpdateInput{
		DownloadLimit:     req.DownloadLimit,
		CustomMessage:     req.CustomMessage,
		NotifyOnDownload:  req.NotifyOnDownload,
		NotificationEmail: req.NotificationEmail,
	}
	if req.ExpiresAt != nil {
		expires := time.Unix(*req.ExpiresAt, 0)
		input.ExpiresAt = &expires
	}

	link, err := h.service.Update(c.Request.Context(), linkID, userID, input, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "share link not found"})
		case errors.Is(err, ErrAccessDenied):
			c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, link)
}

func (h *httpHandler) deactivate(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	h.doDeactivate(c, userID, false)
}

func (h *httpHandler) adminDeactivate(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	h.doDeactivate(c, userID, true)
}

func (h *httpHandler) doDeactivate(c *gin.Context, userID uuid.UUID, adminOverride bool) {
	linkID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid link id"})
		return
	}

	if err := h.service.Deactivate(c.Request.Context(), linkID, userID, adminOverride); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "share link not found"})
		case errors.Is(err, ErrAccessDenied):
			c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deactivate share link"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "share link deactivated"})
}

func extractPassword(c *gin.Context) *string {
	if v := c.GetHeader(passwordHeader); v != "" {
		return &v
	}
	if v := c.Query("password"); v != "" {
		return &v
	}
	if c.Request.Method == http.MethodPost {
		var body struct {
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&body); err == nil && body.Password != "" {
			return &body.Password
		}
	}
	return nil
}

func finishEntry(entry *audit.Entry, start time.Time) {
	duration := time.Since(start).Milliseconds()
	entry.DurationMS = &duration
}

// respondAccessError maps classified access failures onto HTTP status codes.
// Dead links answer 410 so clients can stop retrying.
func respondAccessError(c *gin.Context, err error) {
	switch Classify(err) {
	case "not_found":
		c.JSON(http.StatusNotFound, gin.H{"error": "share link not found"})
	case "expired":
		c.JSON(http.StatusGone, gin.H{"error": "share link expired"})
	case "limit_reached":
		c.JSON(http.StatusGone, gin.H{"error": "download limit reached"})
	case "password_required":
		c.JSON(http.StatusUnauthorized, gin.H{"error": "password required"})
	case "invalid_password":
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
	case "access_denied":
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	case "auth_required":
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
	case "content_missing":
		c.JSON(http.StatusGone, gin.H{"error": "file content no longer available"})
	case "storage_unavailable":
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
