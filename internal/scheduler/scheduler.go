package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ClinicPulse/internal/domain/models"
	"ClinicPulse/internal/usecase"
	applogger "ClinicPulse/pkg/logger"
	"ClinicPulse/pkg/queue"
	"ClinicPulse/pkg/util"

	"github.com/robfig/cron/v3"
)

// Scheduler enqueues recompute triggers for every tenant on cron specs.
type Scheduler struct {
	cron   *cron.Cron
	queue  queue.QueueService
	logger *applogger.Logger
	now    func() time.Time
	lag    time.Duration
	loc    *time.Location
	ids    map[string]cron.EntryID
}

// Option configures Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *applogger.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// WithClock overrides the time source used to derive as-of dates.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// WithAsOfLag shifts the as-of date back from the firing time, e.g. 24h computes yesterday.
func WithAsOfLag(d time.Duration) Option { return func(s *Scheduler) { s.lag = d } }

// WithLocation sets the timezone cron specs are evaluated in.
func WithLocation(loc *time.Location) Option { return func(s *Scheduler) { s.loc = loc } }

// New registers one cron entry per recompute entry in specs. Unknown entries and
// unparsable specs are rejected.
func New(q queue.QueueService, specs map[string]string, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		queue:  q,
		logger: applogger.Nop(),
		now:    time.Now,
		loc:    time.UTC,
		ids:    make(map[string]cron.EntryID, len(specs)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.New(
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cronLogger{s.logger}), cron.SkipIfStillRunning(cronLogger{s.logger})),
		cron.WithLogger(cronLogger{s.logger}),
	)

	known := make(map[string]bool)
	for _, e := range usecase.Entries() {
		known[e] = true
	}
	// stable order keeps registration logs deterministic
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, entry := range names {
		if !known[entry] {
			return nil, fmt.Errorf("scheduler: unknown entry %q", entry)
		}
		spec := specs[entry]
		id, err := s.cron.AddFunc(spec, s.job(entry))
		if err != nil {
			return nil, fmt.Errorf("scheduler: entry %s spec %q: %w", entry, spec, err)
		}
		s.ids[entry] = id
		s.logger.Info("recompute scheduled", applogger.String("entry", entry), applogger.String("spec", spec))
	}
	return s, nil
}

func (s *Scheduler) job(entry string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Fire(ctx, entry); err != nil {
			s.logger.Error("enqueue recompute failed", applogger.String("entry", entry), applogger.Error(err))
		}
	}
}

// Trigger builds the fan-out trigger for entry at the current as-of date.
func (s *Scheduler) Trigger(entry string) models.RecomputeTrigger {
	return models.RecomputeTrigger{
		Entry: entry,
		AsOf:  util.StartOfDay(s.now().Add(-s.lag)),
	}
}

// Fire enqueues entry for every tenant immediately.
func (s *Scheduler) Fire(ctx context.Context, entry string) error {
	t := s.Trigger(entry)
	if err := usecase.ValidateTrigger(t); err != nil {
		return err
	}
	if err := s.queue.PublishMessage(ctx, usecase.RecomputeJobType, t); err != nil {
		return fmt.Errorf("enqueue %s: %w", entry, err)
	}
	s.logger.Info("recompute enqueued",
		applogger.String("entry", entry),
		applogger.String("as_of", t.AsOf.Format(time.DateOnly)),
	)
	return nil
}

// FireAll enqueues every scheduled entry in dependency order.
func (s *Scheduler) FireAll(ctx context.Context) error {
	for _, entry := range usecase.Entries() {
		if _, ok := s.ids[entry]; !ok {
			continue
		}
		if err := s.Fire(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// Next returns when entry fires next, or false when it is not scheduled.
func (s *Scheduler) Next(entry string) (time.Time, bool) {
	id, ok := s.ids[entry]
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop waits for running jobs or ctx, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts the app logger to cron.Logger.
type cronLogger struct{ l *applogger.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(kvFields(keysAndValues), applogger.Error(err))...)
}

func kvFields(kv []interface{}) []applogger.Field {
	fields := make([]applogger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, applogger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
