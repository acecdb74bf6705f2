package di

import (
	"context"
	"fmt"
	"time"

	"ClinicPulse/internal/domain/models"
	drepo "ClinicPulse/internal/domain/repository"
	"ClinicPulse/internal/domain/service"
	"ClinicPulse/internal/handler/api"
	internalrepo "ClinicPulse/internal/repository"
	"ClinicPulse/internal/service/lock"
	"ClinicPulse/internal/service/ratelimit"
	"ClinicPulse/internal/services/analytics"
	"ClinicPulse/internal/usecase"
	"ClinicPulse/pkg/cache"
	pkgch "ClinicPulse/pkg/clickhouse"
	"ClinicPulse/pkg/config"
	xhttp "ClinicPulse/pkg/http"
	pkgkafka "ClinicPulse/pkg/kafka"
	applogger "ClinicPulse/pkg/logger"
	"ClinicPulse/pkg/metrics"
	pkgpg "ClinicPulse/pkg/postgres"
	"ClinicPulse/pkg/queue"
	"ClinicPulse/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() drepo.Metrics {
	return metrics.New()
}

// ProvidePostgresClient connects to the fact database.
func ProvidePostgresClient(cfg *config.Config) (*pkgpg.Client, error) {
	pg := cfg.Postgres
	client, err := pkgpg.NewClient(
		pkgpg.WithHost(pg.Host),
		pkgpg.WithPort(pg.Port),
		pkgpg.WithDatabase(pg.Database),
		pkgpg.WithCredentials(pg.User, pg.Password),
		pkgpg.WithSSLMode(pg.SSLMode),
		pkgpg.WithPoolSize(pg.MaxConns, pg.MinConns),
		pkgpg.WithConnMaxLifetime(pg.ConnMaxLifetime),
		pkgpg.WithConnectTimeout(pg.ConnectTimeout),
		pkgpg.WithReadOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres client: %w", err)
	}
	return client, nil
}

// ProvideFactStore exposes billing and scheduling facts.
func ProvideFactStore(pg *pkgpg.Client, l *applogger.Logger) drepo.DataAccess {
	return internalrepo.NewPGFactStore(pg, l)
}

// ProvideClickHouseClient connects to the artifact database and creates its
// tables, or returns nil for the memory backend.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Artifacts.Backend == "memory" {
		return nil, nil
	}
	ch := cfg.ClickHouse
	client, err := pkgch.NewClient(
		pkgch.WithHost(ch.Host),
		pkgch.WithPort(ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithAsyncInsert(ch.AsyncInsert, ch.WaitForAsync),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout, ch.WriteTimeout),
		pkgch.WithMaxExecutionTime(ch.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.ArtifactSchema(ch.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideArtifactStore selects the artifact backend.
func ProvideArtifactStore(ch *pkgch.Client, l *applogger.Logger) drepo.ArtifactStore {
	if ch == nil {
		l.Warn("artifact store is in-memory; artifacts are lost on restart")
		return internalrepo.NewMemoryArtifactStore()
	}
	return internalrepo.NewCHArtifactStore(ch, l)
}

// ProvideRedisCache connects to Redis, or returns nil when Redis is disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	r := cfg.Redis
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(r.Host),
		cache.WithRedisPort(r.Port),
		cache.WithRedisPassword(r.Password),
		cache.WithRedisDB(r.DB),
		cache.WithRedisPool(r.PoolSize, r.MinIdle, r.PoolTimeout),
		cache.WithRedisPrefix(r.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideCache layers an in-process cache over Redis, or stays in-process without it.
func ProvideCache(cfg *config.Config, rc *cache.RedisCache) cache.Service {
	if rc == nil {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(10000))
	}
	return cache.NewLayeredCache(rc,
		cache.WithLayeredMemorySize(10000),
		cache.WithLayeredMemoryTTL(cfg.API.CacheL1TTL),
	)
}

// ProvideLocker returns a Redis-backed lock shared across replicas, or a local one.
func ProvideLocker(cfg *config.Config, rc *cache.RedisCache) drepo.Locker {
	if rc == nil {
		return lock.NewKeyedMutex()
	}
	return lock.NewDistributedLocker(rc,
		lock.WithTTL(cfg.Redis.LockTTL),
		lock.WithRetry(cfg.Redis.LockRetry),
	)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	k := cfg.Kafka
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(k.Brokers),
		pkgkafka.WithCompression(k.Compression),
		pkgkafka.WithRequiredAcks(k.RequiredAcks),
		pkgkafka.WithBatchSize(k.Producer.BatchSize),
		pkgkafka.WithBatchBytes(k.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(k.Producer.Linger),
		pkgkafka.WithTimeouts(k.Producer.WriteTimeout, k.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(k.Producer.MaxAttempts),
		pkgkafka.WithAsync(k.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideEventPublisher publishes artifact events to Kafka when it is configured.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer) drepo.EventPublisher {
	if producer == nil {
		return internalrepo.NoopEventPublisher{}
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.EventsTopic)
}

// ProvideSettings overlays configured analytics values on the stock defaults.
func ProvideSettings(cfg *config.Config) usecase.Settings {
	a := cfg.Analytics
	s := usecase.DefaultSettings()

	overList(&s.ObservationMetrics, a.ObservationMetrics)
	overList(&s.ForecastMetrics, a.Forecast.Metrics)
	over(&s.ForecastModel, a.Forecast.Model)
	over(&s.ForecastLookback, a.Forecast.Lookback)
	over(&s.ForecastHorizon, a.Forecast.Horizon)

	overList(&s.AnomalyMetrics, a.Anomaly.Metrics)
	over(&s.AnomalyWindow, a.Anomaly.Window)
	over(&s.AnomalyThreshold, a.Anomaly.Threshold)
	over(&s.AnomalyBaseline, service.BaselineMode(a.Anomaly.Baseline))

	over(&s.CorrelationWindow, a.Correlation.Window)
	if len(a.Correlation.Pairs) > 0 {
		s.CorrelationPairs = make([][2]string, 0, len(a.Correlation.Pairs))
		for _, p := range a.Correlation.Pairs {
			s.CorrelationPairs = append(s.CorrelationPairs, [2]string{p[0], p[1]})
		}
	}
	overList(&s.CorrelationTags, a.Correlation.Tags)
	overList(&s.CorrelationTagPrefixes, a.Correlation.TagPrefixes)

	over(&s.CohortGranularity, models.Granularity(a.Cohort.Granularity))
	over(&s.CohortPeriods, a.Cohort.Periods)
	over(&s.CohortWindows, a.Cohort.Windows)

	overList(&s.RiskModels, a.Risk.Models)
	over(&s.RiskLookbackDays, a.Risk.LookbackDays)
	over(&s.InsightAnomalyDays, a.Insights.AnomalyDays)
	over(&s.Concurrency, a.Concurrency)
	return s
}

// ProvideInsightThresholds overlays configured insight cutoffs on the stock ones.
func ProvideInsightThresholds(cfg *config.Config) analytics.InsightThresholds {
	in := cfg.Analytics.Insights
	th := analytics.DefaultInsightThresholds()
	over(&th.SubscriptionGrowth, in.SubscriptionGrowth)
	over(&th.SubscriptionDecline, in.SubscriptionDecline)
	over(&th.ARPUChange, in.ARPUChange)
	over(&th.ChurnIncrease, in.ChurnIncrease)
	over(&th.ChurnDecrease, in.ChurnDecrease)
	over(&th.ConversionChange, in.ConversionChange)
	over(&th.CriticalRiskShare, in.CriticalRiskShare)
	over(&th.WeakRetention, in.WeakRetention)
	over(&th.ForecastDecline, in.ForecastDecline)
	return th
}

// ProvideAnalytics wires the engines, stores and side channels into the recompute use case.
func ProvideAnalytics(
	cfg *config.Config,
	data drepo.DataAccess,
	store drepo.ArtifactStore,
	events drepo.EventPublisher,
	locker drepo.Locker,
	m drepo.Metrics,
	l *applogger.Logger,
	settings usecase.Settings,
	thresholds analytics.InsightThresholds,
) (*usecase.Analytics, error) {
	var noise analytics.NoiseSource = analytics.NoNoise{}
	if cfg.Analytics.Risk.NoiseAmplitude > 0 {
		noise = analytics.NewSeededNoise(cfg.Analytics.Risk.NoiseSeed)
	}
	conversion, err := analytics.NewConversionScorer(noise, cfg.Analytics.Risk.NoiseAmplitude)
	if err != nil {
		return nil, err
	}
	return usecase.NewAnalytics(data, store,
		usecase.WithLogger(l),
		usecase.WithMetrics(m),
		usecase.WithEvents(events),
		usecase.WithLocker(locker),
		usecase.WithSettings(settings),
		usecase.WithScorer(usecase.RiskTrialConversion, conversion),
		usecase.WithInsightGenerator(analytics.NewRuleInsightGenerator(thresholds)),
	)
}

// ProvideKafkaConsumer creates the trigger consumer, or nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	k := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(k.GroupID),
		pkgkafka.WithConsumerWorkers(k.Workers),
		pkgkafka.WithConsumerBufferSize(k.BufferSize),
		pkgkafka.WithConsumerRetry(k.RetryMax, k.BackoffMin, k.BackoffMax),
		pkgkafka.WithConsumerDLQ(k.DLQTopic),
		pkgkafka.WithConsumerFetch(k.MinBytes, k.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.TraceHook(), pkgkafka.LoggingHook(l)))
	return consumer, nil
}

// ProvideTriggerHandler decodes recompute triggers from the trigger topic.
func ProvideTriggerHandler(cfg *config.Config, d usecase.Dispatcher, m drepo.Metrics, l *applogger.Logger) pkgkafka.MessageHandler {
	return usecase.NewKafkaTriggerHandler(cfg.Kafka.TriggerTopic, d, m, l)
}

// ProvideQueue runs queued recompute jobs, or returns nil without Redis.
func ProvideQueue(cfg *config.Config, rc *cache.RedisCache, d usecase.Dispatcher, l *applogger.Logger) *queue.RedisQueue {
	if rc == nil || !cfg.Queue.Enabled {
		return nil
	}
	q := queue.NewRedisQueue(l, &queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}, rc.Client(), queue.WithKeyPrefix(cfg.Queue.Prefix))
	q.RegisterJob(usecase.NewRecomputeJob(d))
	return q
}

// ProvideRateLimiter bounds recompute requests per tenant and entry.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	if cfg.API.RateLimit <= 0 {
		return nil
	}
	return ratelimit.New(cfg.API.RateLimit, cfg.API.RateBurst)
}

// ProvideAPIHandler creates the HTTP handler.
func ProvideAPIHandler(
	cfg *config.Config,
	l *applogger.Logger,
	d usecase.Dispatcher,
	store drepo.ArtifactStore,
	c cache.Service,
	rl *ratelimit.Limiter,
) *api.AnalyticsHandler {
	opts := []api.HandlerOption{api.WithResponseCache(c, cfg.API.CacheTTL)}
	if rl != nil {
		opts = append(opts, api.WithRateLimiter(rl))
	}
	return api.NewAnalyticsHandler(l, d, store, opts...)
}

// ProvideHTTPServer creates the echo server.
func ProvideHTTPServer(cfg *config.Config, h *api.AnalyticsHandler, l *applogger.Logger) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(h,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
		xhttp.WithCORS(cfg.Server.CORS.Enabled, cfg.Server.CORS.Origins...),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithLogger(l),
	)
}

// ProvideApp assembles the application and registers what it must close.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	srv *xhttp.Server,
	consumer *pkgkafka.Consumer,
	triggers pkgkafka.MessageHandler,
	q *queue.RedisQueue,
	rl *ratelimit.Limiter,
	events drepo.EventPublisher,
	producer *pkgkafka.Producer,
	pg *pkgpg.Client,
	ch *pkgch.Client,
	rc *cache.RedisCache,
) *server.App {
	if producer != nil && cfg.Log.Digest.Enabled {
		d := cfg.Log.Digest
		l.AddCollector(&applogger.CollectionConfig{
			Service:        "clinicpulse",
			TimeInterval:   d.Interval,
			CountThreshold: d.Threshold,
			IncludeWarn:    d.IncludeWarn,
			Topic:          d.Topic,
			Publisher:      producer,
		})
	}

	app := server.New(cfg, l, srv, consumer, triggers, q, rl)
	app.AddCloser("postgres", pg)
	if ch != nil {
		app.AddCloser("clickhouse", ch)
	}
	// closes the producer too
	app.AddCloser("events", events)
	if rc != nil {
		app.AddCloser("redis", rc)
	}
	return app
}

func over[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}

func overList(dst *[]string, v []string) {
	if len(v) > 0 {
		*dst = v
	}
}
