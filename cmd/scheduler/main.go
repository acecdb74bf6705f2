package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ClinicPulse/internal/scheduler"
	"ClinicPulse/pkg/config"
	applogger "ClinicPulse/pkg/logger"
	"ClinicPulse/pkg/queue"

	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	once := flag.Bool("once", false, "enqueue every scheduled entry now and exit")
	redrive := flag.Int("redrive", -1, "move up to N dead-lettered triggers back to the queue and exit (0 = all)")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if !cfg.Redis.Enabled || !cfg.Queue.Enabled {
		log.Fatalf("scheduler needs redis and queue enabled")
	}

	l, err := applogger.New(&applogger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	l = l.With(applogger.String("component", "scheduler"))

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		log.Fatalf("scheduler timezone: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer client.Close()

	q := queue.NewRedisPublisher(client, queue.WithKeyPrefix(cfg.Queue.Prefix))

	if *redrive >= 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := q.RedriveDead(ctx, *redrive)
		if err != nil {
			l.Error("redrive failed", applogger.Int("moved", n), applogger.Error(err))
			os.Exit(1)
		}
		st, _ := q.Stats(ctx)
		l.Info("dead letters redriven", applogger.Int("moved", n), applogger.Int64("queued", st.Queued), applogger.Int64("dead", st.Dead))
		return
	}

	s, err := scheduler.New(q, cfg.Scheduler.Specs,
		scheduler.WithLogger(l),
		scheduler.WithAsOfLag(cfg.Scheduler.AsOfLag),
		scheduler.WithLocation(loc),
	)
	if err != nil {
		log.Fatalf("scheduler: %v", err)
	}

	if *once {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := s.FireAll(ctx); err != nil {
			l.Error("enqueue failed", applogger.Error(err))
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s.Start()
	l.Info("scheduler started", applogger.Int("entries", len(cfg.Scheduler.Specs)))
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.Stop(shutdownCtx); err != nil {
		l.Warn("scheduler stop error", applogger.Error(err))
	}
	l.Info("scheduler stopped")
}
