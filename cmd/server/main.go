package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foundermatch/funnel/internal/analytics"
	"github.com/foundermatch/funnel/internal/api"
	"github.com/foundermatch/funnel/internal/config"
	"github.com/foundermatch/funnel/internal/delivery"
	"github.com/foundermatch/funnel/internal/pkg/distlock"
	"github.com/foundermatch/funnel/internal/pkg/logger"
	"github.com/foundermatch/funnel/internal/repository"
	"github.com/foundermatch/funnel/internal/repository/postgres"
	"github.com/foundermatch/funnel/internal/service/applications"
	"github.com/foundermatch/funnel/internal/service/emailqueue"
	"github.com/foundermatch/funnel/internal/service/newsletter"
	"github.com/foundermatch/funnel/internal/templates"
)

func main() {
	log.Println("Starting FounderMatch funnel API...")

	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := repository.OpenPostgres(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	rdb, err := repository.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		log.Printf("[Redis] unavailable, continuing without it: %v", err)
		rdb = nil
	}
	if rdb != nil {
		defer rdb.Close()
		log.Println("Connected to Redis")
	}

	mailer, err := delivery.NewMailerFromConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to configure email delivery: %v", err)
	}
	log.Printf("Email provider: %s", mailer.Provider())

	queue := emailqueue.NewService(postgres.NewEmailQueueRepo(db), mailer, emailqueue.Config{
		BatchSize:   cfg.Queue.BatchSize,
		MaxAttempts: cfg.Queue.MaxAttempts,
		SendDelay:   cfg.Queue.SendDelay(),
	})
	queue.SetLockFactory(distlock.NewFactory(rdb, db, emailqueue.LockKey, cfg.Queue.LockTTL()))

	switch {
	case cfg.Queue.InProcessWorker:
		trigger := emailqueue.NewChannelTrigger()
		queue.SetTrigger(trigger)
		worker := emailqueue.NewWorker(queue, trigger.C(), cfg.Queue.Interval(), cfg.Queue.BatchSize)
		go worker.Run(ctx)
		log.Printf("[EmailQueue] in-process worker started (every %s)", cfg.Queue.Interval())
	case rdb != nil:
		queue.SetTrigger(emailqueue.NewRedisTrigger(rdb, emailqueue.DefaultKickChannel))
		log.Println("[EmailQueue] kicks published to Redis for cmd/worker")
	default:
		log.Println("[EmailQueue] no worker trigger; relying on POST /api/email-queue/process")
	}

	dispatcher := analytics.NewDispatcherFromConfig(cfg.Analytics, rdb, &http.Client{Timeout: 10 * time.Second})
	go func() {
		for _, res := range dispatcher.Initialize(ctx) {
			if !res.Ready {
				log.Printf("[Analytics] %s not ready after %d attempt(s): %s", res.Backend, res.Attempts, res.Error)
				continue
			}
			log.Printf("[Analytics] %s ready", res.Backend)
		}
	}()

	renderer := templates.NewRenderer(cfg.Newsletter.SiteURL)
	appSvc := applications.NewService(postgres.NewApplicationRepo(db), queue, renderer, dispatcher)
	newsSvc := newsletter.NewService(postgres.NewSubscriberRepo(db), queue, renderer, dispatcher, cfg.Newsletter.SiteURL)

	handlers := api.NewHandlers(queue, appSvc, newsSvc, dispatcher)
	health := api.NewHealthChecker(db, rdb, dispatcher)
	server := api.NewServer(handlers, health, api.RouteConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		ConsentCookie:  cfg.Analytics.ConsentCookie,
		AdminToken:     cfg.Security.AdminToken,
		CronSecret:     cfg.Security.CronSecret,
	})

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := cfg.Server.Addr()
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
