package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/okapigames/farpoint-backend/internal/handlers"
	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/middleware"
	"github.com/okapigames/farpoint-backend/internal/utils"
)

type RouterConfig struct {
	AuthHandler       *handlers.AuthHandler
	GameHandler       *handlers.GameHandler
	TargetHandler     *handlers.TargetHandler
	MessageHandler    *handlers.MessageHandler
	JournalHandler    *handlers.JournalHandler
	ShopHandler       *handlers.ShopHandler
	SocialHandler     *handlers.SocialHandler
	RenderHandler     *handlers.RenderHandler
	HighlightsHandler *handlers.HighlightsHandler

	AuthMiddleware     *middleware.AuthMiddleware
	RendererMiddleware *middleware.RendererMiddleware

	Log *logger.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	origins := strings.Split(utils.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000", cfg.Log), ",")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-Renderer-Token"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)
	router.POST("/register", cfg.AuthHandler.Register)
	router.POST("/login", cfg.AuthHandler.Login)
	router.GET("/validate", cfg.AuthHandler.Validate)
	router.GET("/api/photo_highlights", cfg.HighlightsHandler.List)

	// ===============
	// || Protected ||
	// ===============
	ops := router.Group("/ops/api")
	ops.Use(cfg.AuthMiddleware.RequireAuth())
	ops.POST("/logout", cfg.AuthHandler.Logout)

	// Gamestate
	ops.GET("/gamestate", cfg.GameHandler.GetGamestate)
	ops.GET("/fetch_chips", cfg.GameHandler.FetchChips)

	// Targets
	ops.POST("/rover/:rover_id/target", cfg.TargetHandler.Create)
	ops.POST("/rover/:rover_id/target/:target_id/check_species", cfg.TargetHandler.CheckSpecies)
	ops.POST("/rover/:rover_id/target/:target_id/abort", cfg.TargetHandler.Abort)
	ops.POST("/rover/:rover_id/target/:target_id/mark_viewed", cfg.TargetHandler.MarkViewed)
	ops.GET("/rover/:rover_id/target/:target_id/download_image/:kind", cfg.TargetHandler.DownloadImage)

	// Messages
	ops.GET("/message/:message_id", cfg.MessageHandler.Get)
	ops.POST("/message/:message_id/mark_read", cfg.MessageHandler.MarkRead)
	ops.POST("/message/:message_id/unlock", cfg.MessageHandler.Unlock)
	ops.POST("/message/:message_id/forward", cfg.MessageHandler.Forward)

	// Journal
	ops.POST("/mission/:mission_def/mark_viewed", cfg.JournalHandler.MarkMissionViewed)
	ops.POST("/achievement/:achievement_key/mark_viewed", cfg.JournalHandler.MarkAchievementViewed)
	ops.POST("/species/:species_key/mark_viewed", cfg.JournalHandler.MarkSpeciesViewed)
	ops.POST("/progress", cfg.JournalHandler.AddProgress)
	ops.POST("/progress/:progress_key/reset", cfg.JournalHandler.ResetProgress)

	// Shop
	ops.GET("/shop/products", cfg.ShopHandler.Products)
	ops.POST("/shop/stripe/purchase_products", cfg.ShopHandler.Purchase)
	ops.POST("/shop/gift/redeem", cfg.ShopHandler.RedeemGift)

	// Social & settings
	ops.POST("/invite", cfg.SocialHandler.Invite)
	ops.POST("/user/settings/notifications", cfg.SocialHandler.UpdateNotificationSettings)

	// ===============
	// || Renderer  ||
	// ===============
	renderer := router.Group("/renderer")
	renderer.Use(cfg.RendererMiddleware.RequireToken())
	renderer.POST("/next_target", cfg.RenderHandler.NextTarget)
	renderer.POST("/target_processed", cfg.RenderHandler.TargetProcessed)

	return router
}
