package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	applogger "ClinicPulse/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// ConsumerOption configures Consumer.
type ConsumerOption func(*ConsumerConfig)

type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	Lanes       int // parallel handlers; a partition always maps to the same lane
	BufferSize  int // per-lane backlog
	RetryMax    int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	DLQTopic    string
	MinBytes    int
	MaxBytes    int
	Logger      *applogger.Logger
	CommitRetry int
}

func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Brokers = brokers
	}
}

func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.GroupID = groupID
	}
}

// WithConsumerWorkers sets the number of handler lanes.
func WithConsumerWorkers(count int) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Lanes = count
	}
}

func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.BufferSize = n
		}
	}
}

// WithConsumerRetry sets in-place retries and their backoff range.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax = max
		c.BackoffMin = backoffMin
		c.BackoffMax = backoffMax
	}
}

// WithConsumerDLQ names the topic that receives messages whose retries ran out.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.DLQTopic = topic
	}
}

func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.MinBytes = minBytes
		c.MaxBytes = maxBytes
	}
}

func WithConsumerLogger(l *applogger.Logger) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Logger = l
	}
}

// reader is the part of *kafka.Reader the consumer relies on.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type fetched struct {
	topic   string
	km      kafka.Message
	reader  reader
	handler MessageHandler
}

// Consumer reads registered topics in a consumer group and runs their
// handlers. Offsets are committed explicitly once a message is handled or
// dead-lettered; messages still in flight at shutdown stay uncommitted and are
// redelivered.
type Consumer struct {
	cfg       ConsumerConfig
	log       *applogger.Logger
	hook      ConsumerHook
	handlers  map[string]MessageHandler
	readers   map[string]reader
	newReader func(topic string) reader
	dlq       writer
	lanes     []chan fetched

	ctx      context.Context
	cancel   context.CancelFunc
	fetchWG  sync.WaitGroup
	laneWG   sync.WaitGroup
	stopOnce sync.Once
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := ConsumerConfig{
		GroupID:     "clinicpulse",
		Lanes:       1,
		BufferSize:  16,
		RetryMax:    3,
		BackoffMin:  100 * time.Millisecond,
		BackoffMax:  5 * time.Second,
		MinBytes:    1,
		MaxBytes:    1 << 20,
		CommitRetry: 3,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	if cfg.Lanes <= 0 {
		cfg.Lanes = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = applogger.Nop()
	}

	c := &Consumer{
		cfg:      cfg,
		log:      cfg.Logger,
		hook:     NoopHook{},
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]reader),
	}
	c.newReader = func(topic string) reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    topic,
			GroupID:  cfg.GroupID,
			MinBytes: cfg.MinBytes,
			MaxBytes: cfg.MaxBytes,
		})
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Topic: cfg.DLQTopic, Balancer: &kafka.Hash{}}
	}
	initConsumerMetrics()
	return c, nil
}

// WithConsumerHook replaces the lifecycle hook.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// RegisterHandler must be called before Start. A second handler for the same
// topic is ignored.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	if _, ok := c.handlers[h.Topic()]; ok {
		c.log.Warn("kafka handler already registered", applogger.String("topic", h.Topic()))
		return
	}
	c.handlers[h.Topic()] = h
}

func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.lanes = make([]chan fetched, c.cfg.Lanes)
	for i := range c.lanes {
		c.lanes[i] = make(chan fetched, c.cfg.BufferSize)
		c.laneWG.Add(1)
		go c.runLane(c.lanes[i])
	}
	for topic, h := range c.handlers {
		r := c.newReader(topic)
		c.readers[topic] = r
		c.fetchWG.Add(1)
		go c.fetch(topic, r, h)
	}

	c.log.Info("kafka consumer started",
		applogger.Int("lanes", c.cfg.Lanes),
		applogger.Int("topics", len(c.handlers)),
		applogger.String("group_id", c.cfg.GroupID))
	return nil
}

// Stop cancels fetching and in-flight handlers, then waits for the lanes to
// drain until ctx expires.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		if c.cancel == nil {
			return
		}
		c.cancel()
		c.fetchWG.Wait()
		for _, l := range c.lanes {
			close(l)
		}

		done := make(chan struct{})
		go func() {
			c.laneWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer stop: %w", ctx.Err())
		}

		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Warn("kafka reader close failed", applogger.String("topic", topic), applogger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.log.Warn("kafka dlq writer close failed", applogger.Error(cerr))
			}
		}
		c.log.Info("kafka consumer stopped")
	})
	return err
}

func (c *Consumer) fetch(topic string, r reader, h MessageHandler) {
	defer c.fetchWG.Done()
	for {
		km, err := r.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.log.Warn("kafka fetch failed", applogger.String("topic", topic), applogger.Error(err))
			if !c.sleep(c.cfg.BackoffMin) {
				return
			}
			continue
		}

		lane := c.lanes[km.Partition%len(c.lanes)]
		select {
		case lane <- fetched{topic: topic, km: km, reader: r, handler: h}:
			consumerBacklog.WithLabelValues(topic).Set(float64(len(lane)))
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Consumer) runLane(in <-chan fetched) {
	defer c.laneWG.Done()
	for f := range in {
		if c.ctx.Err() != nil {
			continue
		}
		c.process(f)
	}
}

func (c *Consumer) process(f fetched) {
	start := time.Now()
	attempts, err := c.handleWithRetry(f)
	if err != nil && c.ctx.Err() != nil {
		// Left uncommitted; the group redelivers it.
		return
	}

	outcome := "handled"
	if err != nil {
		outcome = "failed"
		c.hook.OnError(c.ctx, &Delivery{Topic: f.topic, Msg: f.km, Data: f.km.Value}, err)
		c.log.Error("kafka handler failed",
			applogger.String("topic", f.topic),
			applogger.Int("partition", f.km.Partition),
			applogger.Int64("offset", f.km.Offset),
			applogger.Int("attempts", attempts),
			applogger.Error(err))
		if c.dlq != nil {
			if derr := c.deadLetter(f, attempts, err); derr != nil {
				c.log.Error("kafka dlq write failed", applogger.String("dlq_topic", c.cfg.DLQTopic), applogger.Error(derr))
			} else {
				outcome = "dead_lettered"
			}
		}
	}

	// A poison message must not stall its partition, so the offset advances
	// whatever the outcome.
	c.commit(f)
	consumerHandled.WithLabelValues(f.topic, outcome).Inc()
	consumerLatency.WithLabelValues(f.topic).Observe(time.Since(start).Seconds())
}

func (c *Consumer) handleWithRetry(f fetched) (int, error) {
	var err error
	attempt := 0
	for {
		attempt++
		err = c.handleOnce(f)
		if err == nil || IsPermanent(err) || attempt > c.cfg.RetryMax || c.ctx.Err() != nil {
			return attempt, err
		}
		if !c.sleep(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)) {
			return attempt, err
		}
	}
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error as not worth retrying, such as a payload
// that does not decode. The record goes straight to the DLQ.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

func (c *Consumer) handleOnce(f fetched) (err error) {
	d := &Delivery{Topic: f.topic, Msg: f.km, Data: f.km.Value}
	ctx, err := c.hook.Before(c.ctx, d)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		c.hook.After(ctx, d, err)
	}()
	return f.handler.Handle(ctx, d.Data)
}

func (c *Consumer) deadLetter(f fetched, attempts int, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.dlq.WriteMessages(ctx, kafka.Message{
		Key:   f.km.Key,
		Value: f.km.Value,
		Headers: append(f.km.Headers,
			kafka.Header{Key: "source_topic", Value: []byte(f.topic)},
			kafka.Header{Key: "source_offset", Value: []byte(strconv.FormatInt(f.km.Offset, 10))},
			kafka.Header{Key: "attempts", Value: []byte(strconv.Itoa(attempts))},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
		),
	})
}

func (c *Consumer) commit(f fetched) {
	var err error
	for attempt := 1; attempt <= c.cfg.CommitRetry; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = f.reader.CommitMessages(ctx, f.km)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.log.Error("kafka commit failed",
		applogger.String("topic", f.topic),
		applogger.Int64("offset", f.km.Offset),
		applogger.Error(err))
}

// sleep waits d unless the consumer is stopping; it reports whether it slept fully.
func (c *Consumer) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// backoffWithJitter doubles min per attempt up to max and removes up to half
// of it at random.
func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	d := min
	for i := 1; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d - time.Duration(rand.Int64N(int64(d)/2+1))
}

var (
	consumerMetricsOnce sync.Once
	consumerHandled     *prometheus.CounterVec
	consumerLatency     *prometheus.HistogramVec
	consumerBacklog     *prometheus.GaugeVec
)

func initConsumerMetrics() {
	consumerMetricsOnce.Do(func() {
		consumerHandled = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicpulse_kafka_consumer_messages_total",
			Help: "Consumed messages by outcome",
		}, []string{"topic", "outcome"})
		consumerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clinicpulse_kafka_consumer_handle_seconds",
			Help:    "Handling time per message, retries included",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"topic"})
		consumerBacklog = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clinicpulse_kafka_consumer_backlog",
			Help: "Messages waiting in the lane a topic last fed",
		}, []string{"topic"})
	})
}
