package routes

import (
	"net/http"
	"time"

	"github.com/gemxhub/backend/internal/apperror"
	"github.com/gemxhub/backend/internal/config"
	"github.com/gemxhub/backend/internal/handlers"
	"github.com/gemxhub/backend/internal/middleware"
	"github.com/gemxhub/backend/internal/services/idempotency"
	"github.com/gemxhub/backend/internal/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Handlers groups every HTTP handler the router mounts
type Handlers struct {
	Auth           *handlers.AuthHandler
	User           *handlers.UserHandler
	Wallet         *handlers.WalletHandler
	InternalWallet *handlers.InternalWalletHandler
	Referral       *handlers.ReferralHandler
	Health         *handlers.HealthHandler
}

// Dependencies are the shared pieces the middleware chain needs
type Dependencies struct {
	Config      *config.Config
	Tokens      *utils.TokenManager
	Idempotency *idempotency.Store
	RateLimiter *middleware.RateLimiter
}

// NewRouter builds the engine with global middleware and every route
func NewRouter(deps Dependencies, h Handlers) *gin.Engine {
	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecureHeadersMiddleware(middleware.DefaultSecureHeadersConfig(deps.Config.IsProduction())))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{deps.Config.FrontendURL},
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	RegisterRoutes(router, deps, h)

	router.NoRoute(func(c *gin.Context) {
		utils.RespondError(c, apperror.NotFound("route not found"))
	})
	return router
}

// RegisterRoutes configures all API routes
func RegisterRoutes(router *gin.Engine, deps Dependencies, h Handlers) {
	router.GET("/healthz", h.Health.Check)

	auth := middleware.AuthMiddleware(deps.Tokens)

	// Public authentication
	authGroup := router.Group("/api/v1/auth")
	authGroup.Use(deps.RateLimiter.AuthRateLimiterMiddleware())
	{
		authGroup.POST("/register", h.Auth.Register)
		authGroup.POST("/login", h.Auth.Login)
		authGroup.POST("/otp/request", h.Auth.RequestOTP)
		authGroup.POST("/otp/verify", h.Auth.VerifyOTP)
		authGroup.GET("/oauth/:provider/url", h.Auth.OAuthURL)
		authGroup.POST("/oauth/:provider/callback", h.Auth.OAuthCallback)
		authGroup.GET("/siwe/nonce", h.Auth.SIWENonce)
		authGroup.POST("/siwe/verify", h.Auth.SIWEVerify)
	}

	socialGroup := router.Group("/api/v1/auth/social")
	socialGroup.Use(deps.RateLimiter.IPRateLimiterMiddleware(), auth)
	{
		socialGroup.GET("", h.Auth.ListSocial)
		socialGroup.POST("/link", h.Auth.LinkSocial)
		socialGroup.DELETE("/:provider", h.Auth.UnlinkSocial)
	}

	userGroup := router.Group("/api/v1")
	userGroup.Use(deps.RateLimiter.IPRateLimiterMiddleware(), auth)
	{
		userGroup.GET("/users/me", h.User.GetProfile)
		userGroup.PATCH("/users/me", h.User.UpdateProfile)
		userGroup.POST("/users/daily-login", h.User.DailyLogin)

		userGroup.GET("/wallet/balance", h.Wallet.GetBalance)
		userGroup.GET("/wallet/transactions", h.Wallet.GetTransactions)

		userGroup.GET("/referral/referral-code", h.Referral.GetReferralCode)
		userGroup.POST("/referral/referrer", h.Referral.SetReferrer)
		userGroup.GET("/referral/referrals", h.Referral.GetReferrals)
		userGroup.GET("/referral/referrals-count", h.Referral.GetReferralsCount)
	}

	// Service to service
	internal := router.Group("/api/internal")
	internal.Use(middleware.ServiceAuthMiddleware(deps.Config.Services))
	{
		idempotent := middleware.IdempotencyMiddleware(deps.Idempotency)

		internal.POST("/wallet/credit", middleware.RequireServicePermission(config.PermissionCredit), idempotent, h.InternalWallet.Credit)
		internal.POST("/wallet/debit", middleware.RequireServicePermission(config.PermissionDebit), idempotent, h.InternalWallet.Debit)
		internal.GET("/wallet/balance/:userId", middleware.RequireServicePermission(config.PermissionBalance), h.InternalWallet.GetBalance)
		internal.GET("/wallet/transaction", middleware.RequireServicePermission(config.PermissionTransaction), h.InternalWallet.GetTransaction)

		internal.POST("/referral/", middleware.RequireServicePermission(config.PermissionUsers), h.Referral.BatchCreateUsers)
		internal.POST("/referral/referrers", middleware.RequireServicePermission(config.PermissionReferral), h.Referral.BatchSetReferrers)
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": "gemxhub-backend"})
	})
}
