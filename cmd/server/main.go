package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gemxhub/backend/internal/config"
	"github.com/gemxhub/backend/internal/database"
	"github.com/gemxhub/backend/internal/database/migrations"
	"github.com/gemxhub/backend/internal/handlers"
	"github.com/gemxhub/backend/internal/jobs"
	"github.com/gemxhub/backend/internal/middleware"
	"github.com/gemxhub/backend/internal/routes"
	"github.com/gemxhub/backend/internal/services/auth"
	"github.com/gemxhub/backend/internal/services/email"
	"github.com/gemxhub/backend/internal/services/idempotency"
	"github.com/gemxhub/backend/internal/services/referral"
	"github.com/gemxhub/backend/internal/services/user"
	"github.com/gemxhub/backend/internal/services/wallet"
	"github.com/gemxhub/backend/internal/services/webhook"
	"github.com/gemxhub/backend/internal/utils"
	"github.com/gemxhub/backend/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()

	if err := logger.InitLogger(logger.Config{
		Level:      cfg.Log.Level,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   true,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	utils.SetProductionMode(cfg.IsProduction())
	utils.RegisterValidators()

	db, err := database.InitDB(cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}
	if err := migrations.RunMigrations(db); err != nil {
		logger.Log.Fatal("Failed to run migrations", zap.Error(err))
	}

	ctx := context.Background()
	redisClient, err := database.InitRedis(ctx, cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	tokens, err := utils.NewTokenManager(cfg.JWT)
	if err != nil {
		logger.Log.Fatal("Failed to load JWT keys", zap.Error(err))
	}
	if cfg.JWT.PrivateKeyPEM == "" {
		logger.Log.Warn("JWT_PRIVATE_KEY not set, using an ephemeral signing key")
	}

	// Initialize services
	notifier := webhook.NewNotifier(cfg.Webhook)
	walletService := wallet.NewService(db, cfg.Wallet, notifier)
	referralService := referral.NewService(db, notifier)
	userService := user.NewService(db, walletService, cfg.Wallet, notifier)
	authService := auth.NewService(db, redisClient, tokens, email.NewEmailService(cfg.SMTP), cfg)

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit)
	defer rateLimiter.Stop()

	router := routes.NewRouter(routes.Dependencies{
		Config:      cfg,
		Tokens:      tokens,
		Idempotency: idempotency.NewStore(redisClient, cfg.Idempotency),
		RateLimiter: rateLimiter,
	}, routes.Handlers{
		Auth:           handlers.NewAuthHandler(authService),
		User:           handlers.NewUserHandler(userService),
		Wallet:         handlers.NewWalletHandler(walletService),
		InternalWallet: handlers.NewInternalWalletHandler(walletService),
		Referral:       handlers.NewReferralHandler(referralService, userService),
		Health:         handlers.NewHealthHandler(db, redisClient),
	})

	scheduler, err := jobs.ScheduleRecurringJobs(walletService, cfg.LedgerAuditInterval)
	if err != nil {
		logger.Log.Fatal("Failed to schedule jobs", zap.Error(err))
	}

	srv := startServer(router, cfg.Server)

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := notifier.Wait(shutdownCtx); err != nil {
		logger.Log.Warn("Abandoned in-flight webhooks", zap.Error(err))
	}

	logger.Log.Info("Server exiting")
}

// startServer starts the HTTP server
func startServer(router *gin.Engine, cfg config.ServerConfig) *http.Server {
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Log.Info("Server started", zap.String("port", cfg.Port))
	return srv
}
