package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/shieldmaiden/shieldmaiden/internal/audit"
	"github.com/shieldmaiden/shieldmaiden/internal/auth"
	"github.com/shieldmaiden/shieldmaiden/internal/blob"
	"github.com/shieldmaiden/shieldmaiden/internal/config"
	"github.com/shieldmaiden/shieldmaiden/internal/file"
	"github.com/shieldmaiden/shieldmaiden/internal/logger"
	"github.com/shieldmaiden/shieldmaiden/internal/metrics"
	"github.com/shieldmaiden/shieldmaiden/internal/server"
	"github.com/shieldmaiden/shieldmaiden/internal/share"
	"github.com/shieldmaiden/shieldmaiden/internal/storage"
	"github.com/shieldmaiden/shieldmaiden/internal/sweeper"
)

func main() {
	_ = godotenv.Load()

	logg, err := logger.Init()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logg.Sync()

	cfg, err := config.Load()
	if err != nil {
		logg.Fatal("load config", zap.Error(err))
	}

	metrics.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := storage.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logg.Fatal("connect postgres", zap.Error(err))
	}
	defer dbPool.Close()

	blobStore, err := buildBlobStore(ctx, cfg, logg)
	if err != nil {
		logg.Fatal("init blob store", zap.Error(err))
	}

	authRepo := auth.NewRepository(dbPool)
	authService := auth.NewService(authRepo, cfg.Auth, cfg.Quota.BytesPerUser)

	auditRepo := audit.NewRepository(dbPool)
	auditService := audit.NewService(auditRepo, logg)

	fileRepo := file.NewRepository(dbPool)
	fileService := file.NewService(fileRepo, blobStore)

	shareRepo := share.NewRepository(dbPool)
	shareService := share.NewService(shareRepo, fileService, cfg.Auth.BcryptCost)
	fileService.SetGrantRevoker(shareService)

	sweep := sweeper.New(shareService, fileService, logg, cfg.Sweeper.SweepInterval, cfg.Sweeper.PurgeInterval)
	go sweep.Run(ctx)

	router := server.NewRouter(server.Dependencies{
		Config:       cfg,
		DB:           dbPool,
		Blobs:        blobStore,
		Logger:       logg,
		AuthService:  authService,
		FileService:  fileService,
		ShareService: shareService,
		AuditService: auditService,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logg.Info("shieldmaiden api listening", zap.String("address", cfg.Server.Address()))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logg.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logg.Info("shutting down gracefully")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logg.Error("shutdown", zap.Error(err))
	}
}

func buildBlobStore(ctx context.Context, cfg config.Config, logg *zap.Logger) (blob.Store, error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendMinIO:
		client, err := storage.NewMinIOClient(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		if err := storage.EnsureBucket(ctx, client, cfg.MinIO.Bucket, cfg.MinIO.Region); err != nil {
			return nil, err
		}
		logg.Info("using minio blob store", zap.String("bucket", cfg.MinIO.Bucket))
		return blob.NewMinIO(client, cfg.MinIO.Bucket), nil
	default:
		logg.Info("using local blob store", zap.String("dir", cfg.Storage.EncryptedDir))
		return blob.NewLocal(cfg.Storage.EncryptedDir)
	}
}
