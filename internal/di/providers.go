package di

import (
	"context"
	"fmt"
	"time"

	domrepo "MergeWatch/internal/domain/repository"
	"MergeWatch/internal/handler/api"
	"MergeWatch/internal/handler/ws"
	"MergeWatch/internal/repository"
	"MergeWatch/internal/usecase"
	"MergeWatch/pkg/cache"
	pkgch "MergeWatch/pkg/clickhouse"
	"MergeWatch/pkg/config"
	xhttp "MergeWatch/pkg/http"
	pkgkafka "MergeWatch/pkg/kafka"
	"MergeWatch/pkg/logger"
	"MergeWatch/pkg/metrics"
	"MergeWatch/pkg/server"
)

const startupTimeout = 10 * time.Second

// ProvideLogger builds the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New()
}

// ProvideClickHouseClient connects to ClickHouse and creates the anomaly table
// when migrations are enabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if !cfg.ClickHouse.MigrateOnStart {
		return client, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	stmts := append([]string{"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database},
		repository.AnomalySchema(anomalyTable(cfg))...)
	if err := client.InitSchema(ctx, stmts); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

func anomalyTable(cfg *config.Config) string {
	return cfg.ClickHouse.Database + ".anomalies"
}

// ProvideCache returns Redis when enabled, otherwise a process-local cache.
// The local cache only serializes reconciliations inside one replica.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(), nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.PoolSize/4, 5*time.Second),
		cache.WithRedisDialTimeout(startupTimeout),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideAnomalyStore builds the ClickHouse store and lifts the id sequence
// above every id already stored.
func ProvideAnomalyStore(ch *pkgch.Client, cfg *config.Config, ids *repository.CacheIDSequence, l *logger.Logger) (*repository.CHAnomalyStore, error) {
	store := repository.NewCHAnomalyStore(ch, anomalyTable(cfg), ids)
	store.SetLogger(l)

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	maxID, err := store.MaxID(ctx)
	if err != nil {
		return nil, fmt.Errorf("anomaly max id: %w", err)
	}
	if err := ids.Seed(ctx, maxID); err != nil {
		return nil, fmt.Errorf("seed anomaly ids: %w", err)
	}
	l.Info("anomaly id sequence seeded", logger.Int64("max_id", maxID))
	return store, nil
}

// ProvideStatusStore keeps reconcile summaries in the cache.
func ProvideStatusStore(c cache.Service, cfg *config.Config) *repository.CacheStatusStore {
	return repository.NewCacheStatusStore(c, cfg.Merger.StatusTTL)
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.Producer.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(false),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaAnomalyPublisher publishes reconciled batches to the merged topic.
func ProvideKafkaAnomalyPublisher(producer *pkgkafka.Producer, cfg *config.Config) *repository.KafkaAnomalyPublisher {
	return repository.NewKafkaAnomalyPublisher(producer, cfg.Kafka.Topics.Merged)
}

// ProvideHub creates the WebSocket hub for live reconciled events.
func ProvideHub(cfg *config.Config, l *logger.Logger) *ws.Hub {
	return ws.NewHub(
		ws.WithSendBuffer(cfg.Stream.SendBuffer),
		ws.WithPing(cfg.Stream.PingInterval, cfg.Stream.WriteTimeout),
		ws.WithLogger(l),
	)
}

// ProvideMergerDefaults maps the merger config onto engine defaults.
func ProvideMergerDefaults(cfg *config.Config) usecase.MergerDefaults {
	return usecase.MergerDefaults{
		MergeMaxGap:                 cfg.Merger.MergeMaxGap,
		MergeMaxDuration:            cfg.Merger.MergeMaxDuration,
		ReNotifyPercentageThreshold: cfg.Merger.PercentageThreshold(),
		ReNotifyAbsoluteThreshold:   cfg.Merger.AbsoluteThreshold(),
		LockTTL:                     cfg.Merger.LockTTL,
	}
}

// ProvideReconcileUseCase wires the store, the series lock and every sink.
func ProvideReconcileUseCase(
	cfg *config.Config,
	store *repository.CHAnomalyStore,
	c cache.Service,
	status *repository.CacheStatusStore,
	rec *metrics.Recorder,
	defaults usecase.MergerDefaults,
	kafkaPub *repository.KafkaAnomalyPublisher,
	hub *ws.Hub,
	l *logger.Logger,
) *usecase.ReconcileUseCase {
	pubs := []domrepo.AnomalyPublisher{repository.NewCountingPublisher("kafka", kafkaPub, rec)}
	if cfg.Stream.Enabled {
		pubs = append(pubs, repository.NewCountingPublisher("websocket", hub, rec))
	}
	uc := usecase.NewReconcileUseCase(store, c, status, rec, defaults, pubs...)
	uc.SetLogger(l)
	return uc
}

// ProvideEvaluateUseCase builds the dry-run use case.
func ProvideEvaluateUseCase(defaults usecase.MergerDefaults, rec *metrics.Recorder, l *logger.Logger) *usecase.EvaluateUseCase {
	uc := usecase.NewEvaluateUseCase(defaults, rec)
	uc.SetLogger(l)
	return uc
}

// ProvideAnomalyQueryUseCase builds the read side.
func ProvideAnomalyQueryUseCase(store *repository.CHAnomalyStore, status *repository.CacheStatusStore, rec *metrics.Recorder) *usecase.AnomalyQueryUseCase {
	return usecase.NewAnomalyQueryUseCase(store, status, rec)
}

// ProvideDetectionResultHandler builds the Kafka handler of the detection topic.
func ProvideDetectionResultHandler(cfg *config.Config, uc *usecase.ReconcileUseCase, rec *metrics.Recorder, l *logger.Logger) *usecase.DetectionResultHandler {
	h := usecase.NewDetectionResultHandler(cfg.Kafka.Topics.DetectionResults, uc, rec, cfg.Merger.DefaultTimezone)
	h.SetLogger(l)
	return h
}

// ProvideKafkaConsumer returns nil when consumption is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *logger.Logger) (*pkgkafka.Consumer, error) {
	cc := cfg.Kafka.Consumer
	if !cc.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cc.GroupID),
		pkgkafka.WithConsumerWorkers(cc.Workers),
		pkgkafka.WithConsumerBufferSize(cc.BufferSize),
		pkgkafka.WithConsumerRetry(cc.RetryMax, cc.BackoffMin, cc.BackoffMax),
		pkgkafka.WithConsumerDLQ(cc.DLQTopic),
		pkgkafka.WithConsumerFetch(cc.MinBytes, cc.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.LoggingHook(l, 2*time.Second))
	return consumer, nil
}

// ProvideAnomaliesHandler builds the HTTP handler.
func ProvideAnomaliesHandler(
	cfg *config.Config,
	l *logger.Logger,
	reconcile *usecase.ReconcileUseCase,
	evaluate *usecase.EvaluateUseCase,
	query *usecase.AnomalyQueryUseCase,
) *api.AnomaliesEchoHandler {
	return api.NewAnomaliesEchoHandler(l, reconcile, evaluate, query, cfg.Merger.DefaultTimezone)
}

// ProvideHTTPServer registers the API and, when enabled, the event stream.
func ProvideHTTPServer(cfg *config.Config, l *logger.Logger, anomalies *api.AnomaliesEchoHandler, hub *ws.Hub) *xhttp.Server {
	handlers := []xhttp.Handler{anomalies}
	if cfg.Stream.Enabled {
		handlers = append(handlers, hub)
	}
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(handlers,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithRateLimit(cfg.Server.RateBurst, cfg.Server.RatePerSecond),
		xhttp.WithLogger(l),
	)
}

// ProvideApp assembles the lifecycle. Error and warning lines are shipped to
// Kafka when a log topic is configured.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	handler *usecase.DetectionResultHandler,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
	c cache.Service,
	hub *ws.Hub,
) *server.App {
	if cfg.Logging.Topic != "" {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval: cfg.Logging.FlushInterval,
			Topic:        cfg.Logging.Topic,
			Publisher:    producer,
		})
	}

	return server.New(l, httpServer, consumer,
		[]pkgkafka.MessageHandler{handler},
		cfg.Server.ShutdownTimeout,
		server.Closer{Name: "clickhouse", Close: ch.Close},
		server.Closer{Name: "cache", Close: c.Close},
		server.Closer{Name: "kafka producer", Close: producer.Close},
		server.Closer{Name: "log collector", Close: func() error {
			l.RemoveCollector()
			return nil
		}},
		server.Closer{Name: "websocket hub", Close: hub.Close},
	)
}
