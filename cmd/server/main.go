// Package main runs the identity and organization HTTP server with graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/orgkeep/backend/config"
	"github.com/orgkeep/backend/internal/auth"
	"github.com/orgkeep/backend/internal/middleware"
	"github.com/orgkeep/backend/internal/obs"
	"github.com/orgkeep/backend/internal/organizations"
	"github.com/orgkeep/backend/internal/stores"
	"github.com/orgkeep/backend/internal/worker"
	"github.com/orgkeep/backend/pkg/queue"
	"github.com/orgkeep/backend/pkg/redis"
	"github.com/orgkeep/backend/pkg/response"
	"github.com/orgkeep/backend/pkg/utils"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	st, err := stores.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("stores", zap.Error(err), zap.String("driver", cfg.Store.Driver))
	}
	defer st.Close(context.Background())

	rdb, err := redis.NewClient(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	policy, err := organizations.NewPolicy()
	if err != nil {
		logger.Fatal("policy", zap.Error(err))
	}
	obs.Init()

	// Session manager
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer)
	authService := auth.NewService(
		st.Users,
		auth.NewRedisTokenCache(rdb.Client),
		jwtService,
		utils.NewHasher(cfg.Security.BcryptCost),
		auth.Options{AccessTTL: cfg.JWT.AccessTTL, RefreshTTL: cfg.JWT.RefreshTTL},
		logger,
	)
	authHandler := auth.NewHandler(authService, middleware.UserID, logger)

	// Access control; partial failures go to the reconcile queue
	reconcileQueue := queue.NewQueue(rdb.Client, queue.QueueReconcile, logger)
	orgService := organizations.NewService(st.Organizations, st.Users, policy, worker.NewQueueReporter(reconcileQueue), logger)
	orgHandler := organizations.NewHandler(orgService, middleware.UserID, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Metrics())

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(obs.Handler()))

	limiter := middleware.NewIPLimiter(cfg.Security.AuthRatePerSec, cfg.Security.AuthRateBurst)
	requireAuth := middleware.JWT(authService)
	authHandler.RegisterRoutes(&router.RouterGroup, middleware.RateLimit(limiter), requireAuth)
	orgHandler.RegisterRoutes(&router.RouterGroup, requireAuth)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
