package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/foundermatch/funnel/internal/config"
	"github.com/foundermatch/funnel/internal/delivery"
	"github.com/foundermatch/funnel/internal/pkg/distlock"
	"github.com/foundermatch/funnel/internal/pkg/logger"
	"github.com/foundermatch/funnel/internal/repository"
	"github.com/foundermatch/funnel/internal/repository/postgres"
	"github.com/foundermatch/funnel/internal/service/emailqueue"
	"github.com/foundermatch/funnel/internal/service/newsletter"
	"github.com/foundermatch/funnel/internal/templates"
)

func main() {
	log.Println("Starting FounderMatch email worker...")

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
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	if rdb != nil {
		defer rdb.Close()
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

	var kicks <-chan struct{}
	if rdb != nil {
		trigger := emailqueue.NewRedisTrigger(rdb, emailqueue.DefaultKickChannel)
		queue.SetTrigger(trigger)
		kicks, err = trigger.Listen(ctx)
		if err != nil {
			log.Fatalf("Failed to subscribe to queue kicks: %v", err)
		}
		log.Printf("Listening for queue kicks on %s", emailqueue.DefaultKickChannel)
	} else {
		log.Println("Redis not configured; processing on the ticker only")
	}

	worker := emailqueue.NewWorker(queue, kicks, cfg.Queue.Interval(), cfg.Queue.BatchSize)
	go worker.Run(ctx)

	switch {
	case cfg.Newsletter.FeedURL == "":
		log.Println("[DigestPoller] BLOG_FEED_URL not set; digest disabled")
	case rdb == nil:
		log.Println("[DigestPoller] Redis required for the digest cursor; digest disabled")
	default:
		renderer := templates.NewRenderer(cfg.Newsletter.SiteURL)
		newsSvc := newsletter.NewService(postgres.NewSubscriberRepo(db), queue, renderer, nil, cfg.Newsletter.SiteURL)
		poller := newsletter.NewDigestPoller(newsSvc, newsletter.NewGofeedFetcher(cfg.Newsletter.FeedURL),
			newsletter.NewRedisStateStore(rdb), cfg.Newsletter.MaxItems)
		go poller.Run(ctx, cfg.Newsletter.PollInterval())
	}

	log.Println("Worker running...")

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done

	log.Println("Shutting down worker...")
	cancel()
	log.Println("Worker stopped")
}
