package server

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ClinicPulse/internal/service/ratelimit"
	"ClinicPulse/pkg/config"
	xhttp "ClinicPulse/pkg/http"
	pkgkafka "ClinicPulse/pkg/kafka"
	applogger "ClinicPulse/pkg/logger"
	"ClinicPulse/pkg/queue"
)

const limiterIdle = 10 * time.Minute

type closer struct {
	name string
	c    io.Closer
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg      *config.Config
	logger   *applogger.Logger
	http     *xhttp.Server
	consumer *pkgkafka.Consumer
	triggers pkgkafka.MessageHandler
	queue    *queue.RedisQueue
	limiter  *ratelimit.Limiter
	closers  []closer
}

// New creates a new App. consumer, triggers, q and limiter may be nil when the
// matching component is disabled.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	srv *xhttp.Server,
	consumer *pkgkafka.Consumer,
	triggers pkgkafka.MessageHandler,
	q *queue.RedisQueue,
	limiter *ratelimit.Limiter,
) *App {
	return &App{
		cfg:      cfg,
		logger:   l,
		http:     srv,
		consumer: consumer,
		triggers: triggers,
		queue:    q,
		limiter:  limiter,
	}
}

// AddCloser registers a resource closed on shutdown, in reverse order.
func (a *App) AddCloser(name string, c io.Closer) {
	if c != nil {
		a.closers = append(a.closers, closer{name: name, c: c})
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts every component and blocks until ctx is done.
func (a *App) RunContext(ctx context.Context) error {
	if a.queue != nil {
		if err := a.queue.Start(); err != nil {
			return err
		}
		a.logger.Info("recompute queue started", applogger.Int("workers", a.cfg.Queue.Workers))
	}

	if a.consumer != nil && a.triggers != nil {
		a.consumer.RegisterHandler(a.triggers)
		if err := a.consumer.Start(); err != nil {
			return err
		}
		a.logger.Info("kafka trigger consumer started", applogger.String("topic", a.triggers.Topic()))
	}

	if err := a.http.Start(); err != nil {
		a.logger.Error("http server start error", applogger.Error(err))
		return err
	}

	if a.limiter != nil {
		go a.sweepLimiter(ctx)
	}

	<-ctx.Done()
	a.logger.Info("shutdown signal received")
	return a.shutdown()
}

func (a *App) sweepLimiter(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := a.limiter.Sweep(limiterIdle); n > 0 {
				a.logger.Debug("rate limiter swept", applogger.Int("evicted", n))
			}
		}
	}
}

// shutdown stops intake first, then drains workers, then closes clients.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.http.Stop(ctx); err != nil {
		a.logger.Error("http shutdown error", applogger.Error(err))
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.logger.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.queue != nil {
		if err := a.queue.Stop(ctx); err != nil {
			a.logger.Warn("queue stop error", applogger.Error(err))
		}
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.c.Close(); err != nil {
			a.logger.Warn("close error", applogger.String("resource", c.name), applogger.Error(err))
		}
	}

	a.logger.Info("shutdown complete")
	a.logger.RemoveCollector()
	return nil
}
