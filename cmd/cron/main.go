package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/okapigames/farpoint-backend/internal/clock"
	"github.com/okapigames/farpoint-backend/internal/content"
	"github.com/okapigames/farpoint-backend/internal/db"
	"github.com/okapigames/farpoint-backend/internal/email"
	"github.com/okapigames/farpoint-backend/internal/events"
	"github.com/okapigames/farpoint-backend/internal/gamelogic"
	"github.com/okapigames/farpoint-backend/internal/gamestate"
	"github.com/okapigames/farpoint-backend/internal/locks"
	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/maintenance"
	"github.com/okapigames/farpoint-backend/internal/notify"
	"github.com/okapigames/farpoint-backend/internal/render"
	"github.com/okapigames/farpoint-backend/internal/repos"
	"github.com/okapigames/farpoint-backend/internal/scheduler"
	"github.com/okapigames/farpoint-backend/internal/utils"
)

// The scanner runner: every periodic job the game needs lives here, each
// guarded by its own named lock so extra replicas are harmless.
func main() {
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

	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()
	allRepos := repos.New(thePG, log)

	catalog, err := content.Load()
	if err != nil {
		log.Error("Could not load content catalog", "error", err)
		os.Exit(1)
	}

	clk := clock.New()
	env := &gamestate.Env{DB: thePG, Repos: allRepos, Clock: clk, Catalog: catalog, Log: log}

	redisClient := locks.NewRedisClientFromEnv(log)
	lockMgr := locks.NewRedisManager(redisClient, log)

	registry := events.NewRegistry()
	dispatch := events.NewDispatcher(registry, log)
	gamelogic.Register(registry, dispatch)
	if err := registry.Validate(catalog); err != nil {
		log.Error("Event registry validation failed", "error", err)
		os.Exit(1)
	}

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

	notifyService := notify.New(env, emailDispatch, lockMgr, log)
	sched := scheduler.New(env, dispatch, lockMgr, log)
	sched.SendTemplateEmail = func(s *gamestate.Scope, u *gamestate.User, templateKey string) error {
		return emailDispatch.SendTemplate(s, u, templateKey, nil)
	}
	sched.HandleNotification = notifyService.HandleDeferred

	renderService := render.New(env, dispatch, emailDispatch, lockMgr, log)
	maintenanceService := maintenance.New(allRepos, clk, lockMgr, log)

	ctx := context.Background()
	runner := cron.New()
	schedule := func(name, spec string, job func(context.Context) error) {
		if _, err := runner.AddFunc(spec, func() {
			if err := job(ctx); err != nil {
				log.Error("Scheduled job failed", "job", name, "error", err)
			}
		}); err != nil {
			log.Error("Could not schedule job", "job", name, "spec", spec, "error", err)
			os.Exit(1)
		}
	}

	deferredSpec := utils.GetEnv("CRON_DEFERRED", "@every 30s", log)
	schedule("run_deferred_actions", deferredSpec, func(ctx context.Context) error {
		return sched.RunDeferredSince(ctx, clk.Now())
	})
	schedule("process_email_queue", utils.GetEnv("CRON_EMAIL_QUEUE", "@every 1m", log), func(ctx context.Context) error {
		_, err := emailDispatch.DrainQueue(ctx)
		return err
	})
	schedule("send_activity_notifications", utils.GetEnv("CRON_NOTIFY_ACTIVITY", "@every 10m", log), notifyService.ScanActivity)
	schedule("send_lure_notifications", utils.GetEnv("CRON_NOTIFY_LURE", "@every 6h", log), notifyService.ScanLures)
	schedule("alert_delayed_renderer", utils.GetEnv("CRON_RENDER_ALERT", "@every 5m", log), renderService.AlertIfDelayed)
	schedule("vacuum_old_chips", utils.GetEnv("CRON_VACUUM_CHIPS", "@every 1h", log), maintenanceService.VacuumChips)
	schedule("cleanup_target_metadata", utils.GetEnv("CRON_CLEANUP_METADATA", "@every 24h", log), maintenanceService.CleanupTargetMetadata)

	log.Info("Starting cron runner...")
	runner.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down cron runner...")
	<-runner.Stop().Done()
}
