package main

import (
	"context"
	"fmt"
	"os"

	"github.com/okapigames/farpoint-backend/internal/clock"
	"github.com/okapigames/farpoint-backend/internal/content"
	"github.com/okapigames/farpoint-backend/internal/db"
	"github.com/okapigames/farpoint-backend/internal/email"
	"github.com/okapigames/farpoint-backend/internal/events"
	"github.com/okapigames/farpoint-backend/internal/gamelogic"
	"github.com/okapigames/farpoint-backend/internal/gamestate"
	"github.com/okapigames/farpoint-backend/internal/handlers"
	"github.com/okapigames/farpoint-backend/internal/locks"
	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/middleware"
	"github.com/okapigames/farpoint-backend/internal/notify"
	"github.com/okapigames/farpoint-backend/internal/render"
	"github.com/okapigames/farpoint-backend/internal/repos"
	"github.com/okapigames/farpoint-backend/internal/scheduler"
	"github.com/okapigames/farpoint-backend/internal/server"
	"github.com/okapigames/farpoint-backend/internal/services"
	"github.com/okapigames/farpoint-backend/internal/shop"
	"github.com/okapigames/farpoint-backend/internal/storage"
	"github.com/okapigames/farpoint-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	allRepos := repos.New(thePG, log)

	// Content catalog
	catalog, err := content.Load()
	if err != nil {
		log.Error("Could not load content catalog", "error", err)
		os.Exit(1)
	}

	clk := clock.New()
	env := &gamestate.Env{DB: thePG, Repos: allRepos, Clock: clk, Catalog: catalog, Log: log}

	// Redis-backed named locks
	redisClient := locks.NewRedisClientFromEnv(log)
	lockMgr := locks.NewRedisManager(redisClient, log)

	// Event registry
	registry := events.NewRegistry()
	dispatch := events.NewDispatcher(registry, log)
	gamelogic.Register(registry, dispatch)
	if err := registry.Validate(catalog); err != nil {
		log.Error("Event registry validation failed", "error", err)
		os.Exit(1)
	}

	// Email pipeline
	emailMode, err := email.ModeFromEnv(log)
	if err != nil {
		log.Error("Bad email configuration", "error", err)
		os.Exit(1)
	}
	var transport email.Transport
	if emailMode == email.ModeEcho {
		transport = &email.EchoTransport{Log: log}
	} else {
		transport, err = email.NewSendGridTransport(log, email.SendGridConfigFromEnv(log))
		if err != nil {
			log.Error("Could not init SendGrid transport", "error", err)
			os.Exit(1)
		}
	}
	templates, err := email.NewTemplates()
	if err != nil {
		log.Error("Could not compile email templates", "error", err)
		os.Exit(1)
	}
	emailDispatch := email.NewDispatcher(emailMode, transport, templates, allRepos.EmailQueue, lockMgr, log)

	// Scheduler and notifications
	sched := scheduler.New(env, dispatch, lockMgr, log)
	notifyService := notify.New(env, emailDispatch, lockMgr, log)
	sched.SendTemplateEmail = func(s *gamestate.Scope, u *gamestate.User, templateKey string) error {
		return emailDispatch.SendTemplate(s, u, templateKey, nil)
	}
	sched.HandleNotification = notifyService.HandleDeferred

	// S3 asset signer
	signer, err := storage.NewS3Signer(context.Background(), log, storage.S3ConfigFromEnv(log))
	if err != nil {
		log.Error("Could not init S3 signer", "error", err)
		os.Exit(1)
	}

	// Stripe
	gateway, err := shop.NewStripeGateway(log)
	if err != nil {
		log.Error("Could not init Stripe gateway", "error", err)
		os.Exit(1)
	}
	shopService := shop.New(env, dispatch, emailDispatch, gateway, log)
	renderService := render.New(env, dispatch, emailDispatch, lockMgr, log)

	// Services
	log.Info("Setting up Services from main...")
	authService := services.NewAuthService(env, dispatch, emailDispatch, shopService, log)
	gameService := services.NewGameService(env, log)
	targetService := services.NewTargetService(env, dispatch, signer, log)
	messageService := services.NewMessageService(env, dispatch, emailDispatch, log)
	socialService := services.NewSocialService(env, emailDispatch, log)
	highlightsService := services.NewHighlightsService(allRepos, signer, log)

	// Handlers
	responder := handlers.NewResponder(gameService, emailDispatch, log)
	routerCfg := server.RouterConfig{
		AuthHandler:       handlers.NewAuthHandler(log, authService, responder),
		GameHandler:       handlers.NewGameHandler(log, gameService, responder),
		TargetHandler:     handlers.NewTargetHandler(log, targetService, responder),
		MessageHandler:    handlers.NewMessageHandler(log, messageService, responder),
		JournalHandler:    handlers.NewJournalHandler(log, messageService, responder),
		ShopHandler:       handlers.NewShopHandler(log, shopService, responder),
		SocialHandler:     handlers.NewSocialHandler(log, socialService, responder),
		RenderHandler:     handlers.NewRenderHandler(log, renderService, responder),
		HighlightsHandler: handlers.NewHighlightsHandler(log, highlightsService, responder),

		AuthMiddleware:     middleware.NewAuthMiddleware(log, authService),
		RendererMiddleware: middleware.NewRendererMiddleware(log),

		Log: log,
	}

	router := server.NewRouter(routerCfg)
	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Starting server", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server exited", "error", err)
		os.Exit(1)
	}
}
