package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/shieldmaiden/shieldmaiden/internal/audit"
	"github.com/shieldmaiden/shieldmaiden/internal/auth"
	"github.com/shieldmaiden/shieldmaiden/internal/blob"
	"github.com/shieldmaiden/shieldmaiden/internal/config"
	"github.com/shieldmaiden/shieldmaiden/internal/file"
	"github.com/shieldmaiden/shieldmaiden/internal/logger"
	"github.com/shieldmaiden/shieldmaiden/internal/metrics"
	"github.com/shieldmaiden/shieldmaiden/internal/share"
)

// Dependencies groups the services required by the HTTP router.
type Dependencies struct {
	Config       config.Config
	DB           *pgxpool.Pool
	Blobs        blob.Store
	Logger       *zap.Logger
	AuthService  *auth.Service
	FileService  *file.Service
	ShareService *share.Service
	AuditService *audit.Service
}

// NewRouter builds a Gin engine with foundational middleware and routes.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.Middleware())
	router.Use(requestLogger(deps.Logger))
	router.Use(metrics.Middleware())

	registerHealthRoutes(router, deps)
	metrics.Register(router, deps.Config.Metrics.PrometheusPath)

	api := router.Group("/v1")

	auth.RegisterRoutes(api, deps.AuthService)

	// Share tokens are usable anonymously, but an authenticated subject must
	// still be visible to links that gate on identity.
	public := api.Group("/")
	public.Use(auth.OptionalAuthMiddleware(deps.AuthService))
	share.RegisterPublicRoutes(public, deps.ShareService, deps.FileService, deps.AuditService)

	protected := api.Group("/")
	protected.Use(auth.AuthMiddleware(deps.AuthService))

	auth.RegisterProtectedRoutes(protected, deps.AuthService)
	file.RegisterRoutes(protected, deps.FileService, deps.AuditService)
	share.RegisterRoutes(protected, deps.ShareService, deps.FileService)
	audit.RegisterRoutes(protected, deps.AuditService, fileHistoryAuthorizer(deps.FileService))

	admin := api.Group("/admin")
	admin.Use(auth.AuthMiddleware(deps.AuthService), auth.RequireAdmin())

	file.RegisterAdminRoutes(admin, deps.FileService)
	share.RegisterAdminRoutes(admin, deps.ShareService)
	audit.RegisterAdminRoutes(admin, deps.AuditService)

	return router
}

func requestLogger(logg *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logg.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()),
			zap.String("correlation_id", logger.CorrelationID(c)),
		)
	}
}

// fileHistoryAuthorizer lets the ledger endpoints lean on file ownership
// without importing the file package from audit.
func fileHistoryAuthorizer(files *file.Service) func(c *gin.Context, fileID, requesterID uuid.UUID, admin bool) error {
	return func(c *gin.Context, fileID, requesterID uuid.UUID, admin bool) error {
		if _, err := files.Get(c.Request.Context(), fileID, requesterID, admin); err != nil {
			switch err {
			case file.ErrNotFound:
				c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			case file.ErrAccessDenied:
				c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
			return err
		}
		return nil
	}
}
