package audit

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shieldmaiden/shieldmaiden/internal/auth"
)

type httpHandler struct {
	service   *Service
	authorize func(c *gin.Context, fileID, requesterID uuid.UUID, admin bool) error
}

// RegisterRoutes mounts the authenticated ledger read endpoints. The
// authorize callback resolves file ownership; the ledger itself has no
// notion of it.
func RegisterRoutes(router *gin.RouterGroup, service *Service, authorize func(c *gin.Context, fileID, requesterID uuid.UUID, admin bool) error) {
	handler := &httpHandler{service: service, authorize: authorize}
	router.GET("/files/:fileID/history", handler.fileHistory)
	router.GET("/downloads/history", handler.ownHistory)
}

// RegisterAdminRoutes mounts the admin reporting surface.
func RegisterAdminRoutes(router *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	router.GET("/downloads/stats", handler.stats)
	router.GET("/downloads/daily", handler.daily)
}

func (h *httpHandler) fileHistory(c *gin.Context) {
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

	if h.authorize != nil {
		if err := h.authorize(c, fileID, userID, user.IsAdmin); err != nil {
			return
		}
	}

	limit, offset := paginationParams(c)
	records, err := h.service.FileHistory(c.Request.Context(), fileID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load download history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

func (h *httpHandler) ownHistory(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	limit, offset := paginationParams(c)
	records, err := h.service.UserHistory(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load download history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

func (h *httpHandler) stats(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stats, err := h.service.Stats(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *httpHandler) daily(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	counts, err := h.service.DailyCounts(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute daily counts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"days": counts})
}

func parseFilter(c *gin.Context) (StatsFilter, error) {
	var filter StatsFilter

	if v := c.Query("file_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return StatsFilter{}, errors.New("invalid file_id")
		}
		filter.FileID = &id
	}
	if v := c.Query("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return StatsFilter{}, errors.New("invalid user_id")
		}
		filter.UserID = &id
	}
	if v := c.Query("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return StatsFilter{}, errors.New("invalid since timestamp")
		}
		filter.Since = &ts
	}
	if v := c.Query("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return StatsFilter{}, errors.New("invalid until timestamp")
		}
		filter.Until = &ts
	}
	filter.SuccessOnly, _ = strconv.ParseBool(c.Query("success_only"))

	return filter, nil
}

func paginationParams(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
