package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"ClinicPulse/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "clinicpulse:queue"

// Option configures publishers and consumers.
type Option func(*RedisPublisher)

// WithKeyPrefix namespaces the queue keys.
func WithKeyPrefix(prefix string) Option {
	return func(p *RedisPublisher) {
		p.prefix = prefix
	}
}

// WithClock overrides the time source used for retry scheduling.
func WithClock(now func() time.Time) Option {
	return func(p *RedisPublisher) {
		p.now = now
	}
}

// RedisPublisher pushes messages onto a Redis list. It has no background
// work and needs no Start.
type RedisPublisher struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisPublisher(client *redis.Client, opts ...Option) *RedisPublisher {
	p := &RedisPublisher{client: client, prefix: defaultPrefix, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *RedisPublisher) messagesKey() string { return p.prefix + ":messages" }
func (p *RedisPublisher) retryKey() string    { return p.prefix + ":retry" }
func (p *RedisPublisher) deadKey() string     { return p.prefix + ":dlq" }

// PublishMessage implements QueueService.
func (p *RedisPublisher) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	b, err := json.Marshal(Message{
		ID:         uuid.NewString(),
		Type:       msgType,
		Payload:    raw,
		EnqueuedAt: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := p.client.LPush(ctx, p.messagesKey(), b).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

// Stats reports queue depths.
type Stats struct {
	Queued   int64 `json:"queued"`
	Retrying int64 `json:"retrying"`
	Dead     int64 `json:"dead"`
}

func (p *RedisPublisher) Stats(ctx context.Context) (Stats, error) {
	pipe := p.client.Pipeline()
	q := pipe.LLen(ctx, p.messagesKey())
	rt := pipe.ZCard(ctx, p.retryKey())
	d := pipe.LLen(ctx, p.deadKey())
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{Queued: q.Val(), Retrying: rt.Val(), Dead: d.Val()}, nil
}

// RedriveDead moves up to max dead-lettered messages back onto the queue with
// their attempt count reset, oldest first. max <= 0 moves all of them.
func (p *RedisPublisher) RedriveDead(ctx context.Context, max int) (int, error) {
	moved := 0
	for max <= 0 || moved < max {
		s, err := p.client.RPop(ctx, p.deadKey()).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, fmt.Errorf("rpop dlq: %w", err)
		}
		var msg Message
		if err := json.Unmarshal([]byte(s), &msg); err != nil {
			return moved, fmt.Errorf("decode dead message: %w", err)
		}
		msg.Attempts = 0
		msg.LastError = ""
		if err := p.push(ctx, p.messagesKey(), msg); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func (p *RedisPublisher) push(ctx context.Context, key string, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", msg.ID, err)
	}
	if err := p.client.LPush(ctx, key, b).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", key, err)
	}
	return nil
}

// RedisQueue consumes the list with a pool of workers. Failed messages are
// retried with exponential backoff through a sorted set, then dead-lettered.
type RedisQueue struct {
	*RedisPublisher

	logger *logger.Logger
	config QueueConfig

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRedisQueue(l *logger.Logger, cfg *QueueConfig, client *redis.Client, opts ...Option) *RedisQueue {
	if l == nil {
		l = logger.Nop()
	}
	return &RedisQueue{
		RedisPublisher: NewRedisPublisher(client, opts...),
		logger:         l,
		config:         cfg.withDefaults(),
		jobs:           make(map[string]Job),
	}
}

// RegisterJob routes messages of job.Type() to job. A second job for the
// same type is ignored.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.Type()]; ok {
		r.logger.Warn("job already registered", logger.String("type", job.Type()))
		return
	}
	r.jobs[job.Type()] = job
	r.logger.Debug("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
}

// PublishMessage rejects types no job is registered for.
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	if _, ok := r.job(msgType); !ok {
		return fmt.Errorf("no job registered for type %q", msgType)
	}
	return r.RedisPublisher.PublishMessage(ctx, msgType, payload)
}

func (r *RedisQueue) job(msgType string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[msgType]
	return j, ok
}

// Start pings Redis and launches the workers and the retry promoter.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("queue already running")
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.running = true
	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.wg.Add(1)
	go r.promoter()

	r.logger.Info("redis queue started",
		logger.Int("workers", r.config.Workers),
		logger.String("prefix", r.prefix))
	return nil
}

// Stop cancels in-flight jobs and waits for the workers until ctx expires.
// A job cancelled mid-run is pushed back so it is not lost.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("redis queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue stop: %w", ctx.Err())
	}
}

func (r *RedisQueue) worker(id int) {
	defer r.wg.Done()
	for r.ctx.Err() == nil {
		res, err := r.client.BRPop(r.ctx, r.config.PollInterval, r.messagesKey()).Result()
		switch {
		case err == nil:
		case errors.Is(err, redis.Nil), r.ctx.Err() != nil:
			continue
		default:
			r.logger.Error("brpop failed", logger.Int("worker_id", id), logger.Error(err))
			r.sleep(r.config.PollInterval)
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			r.logger.Error("undecodable message dropped", logger.Error(err))
			continue
		}
		r.process(msg)
	}
}

func (r *RedisQueue) process(msg Message) {
	job, ok := r.job(msg.Type)
	if !ok {
		msg.LastError = "no job registered"
		r.deadLetter(msg)
		return
	}

	start := time.Now()
	err := job.Handle(r.ctx, msg.Payload)
	elapsed := time.Since(start)
	if err == nil {
		r.logger.Debug("message processed",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Duration("elapsed_ms", elapsed))
		return
	}

	// Shutdown cancelled the job; the attempt does not count.
	if r.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		if perr := r.push(context.Background(), r.messagesKey(), msg); perr != nil {
			r.logger.Error("requeue on shutdown failed", logger.String("id", msg.ID), logger.Error(perr))
		}
		return
	}

	msg.Attempts++
	msg.LastError = err.Error()
	if msg.Attempts > r.config.RetryLimit {
		r.logger.Error("message failed, dead-lettering",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Int("attempts", msg.Attempts),
			logger.Error(err))
		r.deadLetter(msg)
		return
	}

	at := r.now().Add(r.config.backoff(msg.Attempts))
	r.logger.Warn("message failed, retry scheduled",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts),
		logger.String("retry_at", at.Format(time.RFC3339)),
		logger.Error(err))
	b, merr := json.Marshal(msg)
	if merr != nil {
		r.logger.Error("encode retry", logger.Error(merr))
		return
	}
	if zerr := r.client.ZAdd(context.Background(), r.retryKey(), redis.Z{Score: float64(at.UnixMilli()), Member: b}).Err(); zerr != nil {
		r.logger.Error("schedule retry failed", logger.String("id", msg.ID), logger.Error(zerr))
	}
}

func (r *RedisQueue) deadLetter(msg Message) {
	if err := r.push(context.Background(), r.deadKey(), msg); err != nil {
		r.logger.Error("dead-letter failed", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) promoter() {
	defer r.wg.Done()
	t := time.NewTicker(r.config.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-t.C:
			if n, err := r.promoteDue(r.ctx); err != nil && r.ctx.Err() == nil {
				r.logger.Error("retry promotion failed", logger.Error(err))
			} else if n > 0 {
				r.logger.Debug("retries promoted", logger.Int("count", n))
			}
		}
	}
}

// promoteDue moves retries whose time has come back onto the list. Only the
// consumer whose ZREM wins pushes a message, so several consumers can share
// the queue without duplicating retries.
func (r *RedisQueue) promoteDue(ctx context.Context) (int, error) {
	due, err := r.client.ZRangeByScore(ctx, r.retryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(r.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range due {
		removed, err := r.client.ZRem(ctx, r.retryKey(), m).Result()
		if err != nil {
			return n, err
		}
		if removed == 0 {
			continue
		}
		if err := r.client.LPush(ctx, r.messagesKey(), m).Err(); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (r *RedisQueue) sleep(d time.Duration) {
	select {
	case <-r.ctx.Done():
	case <-time.After(d):
	}
}
