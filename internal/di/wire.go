//go:build wireinject
// +build wireinject

package di

import (
	"ClinicPulse/internal/usecase"
	"ClinicPulse/pkg/config"
	"ClinicPulse/pkg/server"

	"github.com/google/wire"
)

var infraSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvidePostgresClient,
	ProvideClickHouseClient,
	ProvideRedisCache,
	ProvideCache,
	ProvideLocker,
	ProvideKafkaProducer,
)

var analyticsSet = wire.NewSet(
	ProvideFactStore,
	ProvideArtifactStore,
	ProvideEventPublisher,
	ProvideSettings,
	ProvideInsightThresholds,
	ProvideAnalytics,
	wire.Bind(new(usecase.Dispatcher), new(*usecase.Analytics)),
)

var transportSet = wire.NewSet(
	ProvideKafkaConsumer,
	ProvideTriggerHandler,
	ProvideQueue,
	ProvideRateLimiter,
	ProvideAPIHandler,
	ProvideHTTPServer,
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		infraSet,
		analyticsSet,
		transportSet,
		ProvideApp,
	)
	return &server.App{}, nil
}
