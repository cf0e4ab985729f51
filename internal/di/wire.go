//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"MergeWatch/internal/repository"
	"MergeWatch/pkg/config"
	"MergeWatch/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideCache,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		repository.NewCacheIDSequence,
		ProvideAnomalyStore,
		ProvideStatusStore,
		ProvideKafkaAnomalyPublisher,
		ProvideHub,

		// Use cases
		ProvideMergerDefaults,
		ProvideReconcileUseCase,
		ProvideEvaluateUseCase,
		ProvideAnomalyQueryUseCase,
		ProvideDetectionResultHandler,

		// Transport and lifecycle
		ProvideAnomaliesHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}
