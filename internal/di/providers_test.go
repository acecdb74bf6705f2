package di

import (
	"strconv"
	"strings"
	"testing"

	"ClinicPulse/internal/domain/models"
	"ClinicPulse/internal/domain/service"
	internalrepo "ClinicPulse/internal/repository"
	"ClinicPulse/internal/service/lock"
	"ClinicPulse/internal/usecase"
	"ClinicPulse/pkg/cache"
	"ClinicPulse/pkg/config"
	applogger "ClinicPulse/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestProvideSettingsOverlaysDefaults(t *testing.T) {
	cfg := testConfig(t, `
analytics:
  concurrency: 8
  forecast:
    horizon: 6
  anomaly:
    baseline: exclude_current
  correlation:
    pairs: [[mrr, revenue]]
  cohort:
    granularity: weekly
`)
	s := ProvideSettings(cfg)
	def := usecase.DefaultSettings()

	assert.Equal(t, 8, s.Concurrency)
	assert.Equal(t, 6, s.ForecastHorizon)
	assert.Equal(t, def.ForecastLookback, s.ForecastLookback)
	assert.Equal(t, def.ForecastMetrics, s.ForecastMetrics)
	assert.Equal(t, service.BaselineExcludeCurrent, s.AnomalyBaseline)
	assert.Equal(t, [][2]string{{"mrr", "revenue"}}, s.CorrelationPairs)
	assert.Equal(t, models.GranularityWeekly, s.CohortGranularity)
	assert.Equal(t, def.RiskModels, s.RiskModels)
}

func TestProvideInsightThresholds(t *testing.T) {
	cfg := testConfig(t, "analytics:\n  insights:\n    weak_retention: 0.5\n")
	th := ProvideInsightThresholds(cfg)
	assert.InDelta(t, 0.5, th.WeakRetention, 1e-12)
	assert.InDelta(t, 0.20, th.SubscriptionGrowth, 1e-12)
}

func TestProvidersWithoutRedisOrKafka(t *testing.T) {
	cfg := testConfig(t, "artifacts:\n  backend: memory\nredis:\n  enabled: false\nqueue:\n  enabled: false\napi:\n  rate_limit: 0\n")
	l := applogger.Nop()

	ch, err := ProvideClickHouseClient(cfg)
	require.NoError(t, err)
	assert.Nil(t, ch)
	assert.IsType(t, &internalrepo.MemoryArtifactStore{}, ProvideArtifactStore(ch, l))

	rc, err := ProvideRedisCache(cfg)
	require.NoError(t, err)
	assert.Nil(t, rc)
	assert.IsType(t, &cache.MemoryCache{}, ProvideCache(cfg, rc))
	assert.IsType(t, &lock.KeyedMutex{}, ProvideLocker(cfg, rc))

	producer, err := ProvideKafkaProducer(cfg)
	require.NoError(t, err)
	assert.Nil(t, producer)
	assert.IsType(t, internalrepo.NoopEventPublisher{}, ProvideEventPublisher(cfg, producer))

	consumer, err := ProvideKafkaConsumer(cfg, l)
	require.NoError(t, err)
	assert.Nil(t, consumer)

	assert.Nil(t, ProvideRateLimiter(cfg))
	assert.Nil(t, ProvideQueue(cfg, rc, nil, l))
}

func TestProvidersWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port, _ := strings.Cut(mr.Addr(), ":")
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	cfg := testConfig(t, "redis:\n  host: "+host+"\n  port: "+strconv.Itoa(p)+"\n")
	rc, err := ProvideRedisCache(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	assert.IsType(t, &cache.LayeredCache{}, ProvideCache(cfg, rc))
	assert.IsType(t, &lock.DistributedLocker{}, ProvideLocker(cfg, rc))
	assert.NotNil(t, ProvideQueue(cfg, rc, nil, applogger.Nop()))
	assert.NotNil(t, ProvideRateLimiter(cfg))
}

func TestProvideAnalyticsAppliesSettings(t *testing.T) {
	cfg := testConfig(t, "analytics:\n  forecast:\n    horizon: 5\n  risk:\n    noise_seed: 7\n")
	a, err := ProvideAnalytics(cfg,
		internalrepo.NewMemoryFactStore(),
		internalrepo.NewMemoryArtifactStore(),
		internalrepo.NoopEventPublisher{},
		lock.NewKeyedMutex(),
		ProvideMetrics(),
		applogger.Nop(),
		ProvideSettings(cfg),
		ProvideInsightThresholds(cfg),
	)
	require.NoError(t, err)
	assert.Equal(t, 5, a.Settings().ForecastHorizon)
}
