package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/foundermatch/funnel/internal/config"
	"github.com/foundermatch/funnel/internal/delivery"
	"github.com/foundermatch/funnel/internal/domain"
	"github.com/foundermatch/funnel/internal/pkg/distlock"
	"github.com/foundermatch/funnel/internal/repository"
	"github.com/foundermatch/funnel/internal/repository/postgres"
	"github.com/foundermatch/funnel/internal/service/emailqueue"
	"github.com/foundermatch/funnel/internal/service/sending"
)

// queueOps is the part of the queue service mailctl drives.
type queueOps interface {
	Enqueue(ctx context.Context, req emailqueue.QueueRequest) (*domain.QueuedEmail, error)
	ProcessEmailQueue(ctx context.Context, maxBatch int) domain.ProcessResult
	Get(ctx context.Context, id string) (*domain.QueuedEmail, error)
	Stats(ctx context.Context) (domain.QueueStats, error)
}

type app struct {
	mailer sending.Mailer
	queue  queueOps
	out    io.Writer
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}
	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage(os.Stdout)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	a, closeFn, err := setup(ctx, cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mailctl: %v\n", err)
		os.Exit(1)
	}
	defer closeFn()

	if err := a.run(ctx, cmd, args); err != nil {
		fmt.Fprintf(os.Stderr, "mailctl %s: %v\n", cmd, err)
		closeFn()
		os.Exit(1)
	}
}

// setup wires only what cmd needs: send talks to the provider directly and
// never opens the database.
func setup(ctx context.Context, cmd string) (*app, func(), error) {
	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	mailer, err := delivery.NewMailerFromConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("configure delivery: %w", err)
	}
	a := &app{mailer: mailer, out: os.Stdout}
	if cmd == "send" {
		return a, func() {}, nil
	}

	db, err := repository.OpenPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	queue := emailqueue.NewService(postgres.NewEmailQueueRepo(db), mailer, emailqueue.Config{
		BatchSize:   cfg.Queue.BatchSize,
		MaxAttempts: cfg.Queue.MaxAttempts,
		SendDelay:   cfg.Queue.SendDelay(),
	})
	// Same lock backend as the worker so a manual pass never overlaps it.
	rdb, err := repository.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	queue.SetLockFactory(distlock.NewFactory(rdb, db, emailqueue.LockKey, cfg.Queue.LockTTL()))
	a.queue = queue
	return a, func() {
		if rdb != nil {
			rdb.Close()
		}
		db.Close()
	}, nil
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "send":
		return a.send(ctx, args)
	case "queue":
		return a.enqueue(ctx, args)
	case "process":
		return a.process(ctx, args)
	case "smoke":
		return a.smoke(ctx, args)
	case "stats":
		return a.stats(ctx)
	default:
		printUsage(a.out)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `mailctl - FounderMatch email queue tool

Usage:
  mailctl <command> [flags]

Commands:
  send    --to <addr> [--subject <s>] [--html <body>]        Send one email directly
  queue   --to <addr> [--subject <s>] [--html <body>]
          [--type welcome|confirmation|newsletter|campaign]
          [--at <RFC3339>]                                   Queue an email
  process [--batch <n>]                                      Run one processing pass
  smoke   --to <addr>                                        Queue, process, report the record
  stats                                                      Show queue counts by status

Configuration comes from CONFIG_PATH, .env and the environment.`)
}

func (a *app) send(ctx context.Context, args []string) error {
	msg, err := messageFromArgs(args)
	if err != nil {
		return err
	}
	res := a.mailer.SendEmail(ctx, domain.EmailMessage{To: msg.To, Subject: msg.Subject, HTML: msg.HTML})
	if !res.Success {
		return fmt.Errorf("send via %s failed: %s", res.Provider, res.Error)
	}
	fmt.Fprintf(a.out, "Sent via %s (message id %s)\n", res.Provider, res.MessageID)
	return nil
}

func (a *app) enqueue(ctx context.Context, args []string) error {
	req, err := messageFromArgs(args)
	if err != nil {
		return err
	}
	if v := flagValue(args, "--type"); v != "" {
		req.Category = domain.EmailCategory(v)
	}
	if v := flagValue(args, "--at"); v != "" {
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fmt.Errorf("--at must be RFC3339: %w", err)
		}
		req.ScheduledAt = at
	}
	e, err := a.queue.Enqueue(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Queued %s for %s at %s\n", e.ID, e.To, e.ScheduledAt.Format(time.RFC3339))
	return nil
}

func (a *app) process(ctx context.Context, args []string) error {
	batch := 0
	if v := flagValue(args, "--batch"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("--batch must be a non-negative integer")
		}
		batch = n
	}
	res := a.queue.ProcessEmailQueue(ctx, batch)
	fmt.Fprintf(a.out, "processed=%d sent=%d failed=%d\n", res.Processed, res.Sent, res.Failed)
	return nil
}

func (a *app) smoke(ctx context.Context, args []string) error {
	req, err := messageFromArgs(args)
	if err != nil {
		return err
	}
	req.Subject = "[smoke] " + req.Subject
	e, err := a.queue.Enqueue(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Queued %s\n", e.ID)

	res := a.queue.ProcessEmailQueue(ctx, 0)
	fmt.Fprintf(a.out, "processed=%d sent=%d failed=%d\n", res.Processed, res.Sent, res.Failed)

	got, err := a.queue.Get(ctx, e.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Record %s: status=%s attempts=%d", got.ID, got.Status, got.Attempts)
	if got.MessageID != "" {
		fmt.Fprintf(a.out, " message_id=%s", got.MessageID)
	}
	if got.LastError != "" {
		fmt.Fprintf(a.out, " last_error=%q", got.LastError)
	}
	fmt.Fprintln(a.out)
	if got.Status != domain.EmailSent {
		return fmt.Errorf("smoke email not sent (status %s)", got.Status)
	}
	return nil
}

func (a *app) stats(ctx context.Context) error {
	st, err := a.queue.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%-8s %d\n%-8s %d\n%-8s %d\n%-8s %d\n",
		"pending", st.Pending, "sent", st.Sent, "failed", st.Failed, "total", st.Total)
	return nil
}

// messageFromArgs reads --to, --subject and --html. Subject and body fall
// back to a canned test message.
func messageFromArgs(args []string) (emailqueue.QueueRequest, error) {
	req := emailqueue.QueueRequest{
		To:       flagValue(args, "--to"),
		Subject:  flagValue(args, "--subject"),
		HTML:     flagValue(args, "--html"),
		Category: domain.CategoryConfirmation,
	}
	if req.To == "" {
		return req, fmt.Errorf("--to is required")
	}
	if req.Subject == "" {
		req.Subject = "FounderMatch test email"
	}
	if req.HTML == "" {
		req.HTML = "<p>This is a test email from mailctl, sent " + time.Now().UTC().Format(time.RFC1123) + ".</p>"
	}
	return req, nil
}

func flagValue(args []string, name string) string {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
