package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "kanbanflow/api/swagger" // swagger docs
	"kanbanflow/internal/cache"
	"kanbanflow/internal/database"
	"kanbanflow/internal/handler"
	"kanbanflow/internal/middleware"
	"kanbanflow/internal/notification"
	"kanbanflow/internal/repository"
	"kanbanflow/internal/service"
	"kanbanflow/internal/tracing"
	"kanbanflow/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, log, db, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := database.Migrate(db); err != nil {
		return err
	}

	if cfg.Tracing.Enabled {
		shutdownTracing, err := tracing.Init(cfg.Tracing.ServiceName, cfg.Tracing.ServiceVersion, cfg.Tracing.OutputFile)
		if err != nil {
			return err
		}
		defer func() { _ = shutdownTracing(context.Background()) }()
	}

	redisClient, err := cache.NewRedisClient(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
	if err != nil {
		// The directory falls back to the database when the cache is unreachable.
		log.Warn("Redis unavailable, directory cache disabled", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	// Set up WebSocket Hub
	wsHub := websocket.NewHub(log)
	go wsHub.Run()

	dispatcher := notification.NewDispatcher(log, cfg.Workflow.NotificationTimeout,
		notification.NewLogSender(log),
		notification.NewWebsocketSender(wsHub),
	)

	// Set up dependencies (Repository -> Service -> Handler)
	txManager := repository.NewTransactionManager(db, cfg.Database.TxRetries)
	userRepo := repository.NewUserRepository(db)
	departmentRepo := repository.NewDepartmentRepository(db)
	kanbanRepo := repository.NewKanbanRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	directory := service.NewDirectory(userRepo, redisClient, cfg.Redis.TTL, log)
	engine := service.NewApprovalEngine(kanbanRepo, approvalRepo, departmentRepo, auditRepo, directory, txManager, cfg.Workflow.ClosureDepartment, log)

	auth := middleware.NewAuth([]byte(cfg.Auth.JWTSecret), cfg.Auth.SecureCookies)
	userService := service.NewUserService(userRepo, departmentRepo, directory, service.TokenConfig{
		Secret:     []byte(cfg.Auth.JWTSecret),
		AccessTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTTL: cfg.Auth.RefreshTokenTTL,
	}, log)
	kanbanService := service.NewKanbanService(kanbanRepo, approvalRepo, departmentRepo, userRepo, auditRepo, directory, txManager, dispatcher, log)
	workflowService := service.NewWorkflowService(engine, userRepo, dispatcher, log)
	auditService := service.NewAuditService(auditRepo)
	statisticsService := service.NewStatisticsService(kanbanRepo)
	departmentService := service.NewDepartmentService(departmentRepo, cfg.Workflow.ClosureDepartment)

	// Initialize Handlers
	userHandler := handler.NewUserHandler(userService, auth)
	kanbanHandler := handler.NewKanbanHandler(kanbanService, workflowService, auth)
	auditHandler := handler.NewAuditHandler(auditService, auth)
	statisticsHandler := handler.NewStatisticsHandler(statisticsService, auth)
	departmentHandler := handler.NewDepartmentHandler(departmentService, auth)

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(log))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORS.AllowOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, auth.Secret())
	})

	userHandler.RegisterRoutes(router.Group(""))
	kanbanHandler.RegisterRoutes(router.Group(""))
	auditHandler.RegisterRoutes(router.Group(""))
	statisticsHandler.RegisterRoutes(router.Group(""))
	departmentHandler.RegisterRoutes(router.Group(""))

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	go purgeExpiredTokens(userRepo, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	dispatcher.Wait()

	log.Info("Server exited successfully")
	return nil
}

// purgeExpiredTokens removes stale refresh tokens once an hour.
func purgeExpiredTokens(users repository.UserRepository, log *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		n, err := users.DeleteExpiredRefreshTokens(context.Background(), time.Now())
		if err != nil {
			log.Warn("Failed to purge refresh tokens", zap.Error(err))
			continue
		}
		if n > 0 {
			log.Info("Purged expired refresh tokens", zap.Int64("count", n))
		}
	}
}
