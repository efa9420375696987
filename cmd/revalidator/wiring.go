package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/IBM/sarama"
	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/hub-revalidator/internal/app/revalidation"
	"github.com/ahrav/hub-revalidator/internal/app/revalidation/validator"
	"github.com/ahrav/hub-revalidator/internal/config"
	domain "github.com/ahrav/hub-revalidator/internal/domain/revalidation"
	"github.com/ahrav/hub-revalidator/internal/infra/codec"
	"github.com/ahrav/hub-revalidator/internal/infra/eventbus/kafka"
	"github.com/ahrav/hub-revalidator/internal/infra/hub"
	"github.com/ahrav/hub-revalidator/internal/infra/metrics"
	"github.com/ahrav/hub-revalidator/internal/infra/storage"
	"github.com/ahrav/hub-revalidator/internal/infra/storage/memory"
	"github.com/ahrav/hub-revalidator/internal/infra/storage/postgres"
	"github.com/ahrav/hub-revalidator/pkg/common/logger"
	"github.com/ahrav/hub-revalidator/pkg/common/otel"
	"github.com/ahrav/hub-revalidator/pkg/common/timeutil"
)

// stores groups the persistence adapters selected by config.Store.
type stores struct {
	checkpoints domain.CheckpointRepository
	entities    domain.EntitySource
	records     domain.RecordStore
	close       func()
}

func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger, tracer trace.Tracer) (*stores, error) {
	if cfg.Store == config.StoreMemory {
		log.Warn(ctx, "Using in-memory stores; progress is lost on exit")
		return &stores{
			checkpoints: memory.NewCheckpointStore(),
			entities:    memory.NewEntitySource(),
			records:     memory.NewRecordStore(),
			close:       func() {},
		}, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse db config: %w", err)
	}
	poolCfg.MinConns = cfg.Database.MinConns
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := storage.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info(ctx, "Migrations applied successfully")

	return &stores{
		checkpoints: postgres.NewCheckpointStore(pool, log, tracer),
		entities:    postgres.NewFIDStore(pool, tracer),
		records:     postgres.NewRecordStore(pool, tracer),
		close:       pool.Close,
	}, nil
}

// service is the fully wired job runner and its resources.
type service struct {
	telemetry *otel.Telemetry
	stores    *stores
	runner    *revalidation.JobRunner
	publisher *kafka.RevocationPublisher
	tracer    trace.Tracer
}

func (s *service) Close(ctx context.Context, log *logger.Logger) {
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			log.Error(ctx, "Failed to close revocation publisher", "error", err)
		}
	}
	s.stores.close()
	s.telemetry.Shutdown(ctx)
}

func buildService(ctx context.Context, cfg *config.Config, log *logger.Logger) (*service, error) {
	hostname, _ := os.Hostname()
	tel, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.Otel.ServiceName,
		ExporterEndpoint: cfg.Otel.ExporterEndpoint,
		Probability:      cfg.Otel.SamplingRatio,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
			"k8s.container.id": hostname,
		},
		InsecureExporter: cfg.Otel.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	tracer := tel.TracerProvider.Tracer(cfg.Otel.ServiceName)

	st, err := openStores(ctx, cfg, log, tracer)
	if err != nil {
		tel.Shutdown(ctx)
		return nil, err
	}
	svc := &service{telemetry: tel, stores: st, tracer: tracer}

	infraMetrics := metrics.New(prometheus.DefaultRegisterer)

	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   cfg.Hub.RequestTimeout,
	}
	hubClient, err := hub.NewClient(hub.Config{
		BaseURL:        cfg.Hub.URL,
		RPS:            cfg.Hub.RPS,
		Burst:          cfg.Hub.Burst,
		MaxRetries:     cfg.Hub.MaxRetries,
		InitialBackoff: cfg.Hub.InitialBackoff,
	}, httpClient, infraMetrics, log, tracer)
	if err != nil {
		svc.Close(ctx, log)
		return nil, err
	}

	opts := []validator.Option{validator.WithNameRegistry(hubClient)}
	if cfg.Kafka.Enabled() {
		var producer sarama.SyncProducer
		producer, err = kafka.ConnectProducer(ctx, &kafka.ClientConfig{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: cfg.Kafka.ClientID,
		}, log)
		if err != nil {
			svc.Close(ctx, log)
			return nil, fmt.Errorf("failed to connect kafka producer: %w", err)
		}
		svc.publisher = kafka.NewRevocationPublisher(producer, cfg.Kafka.RevocationTopic, infraMetrics, tracer)
		opts = append(opts, validator.WithPublisher(svc.publisher))
	}

	signerValidator := validator.NewSignerValidator(hubClient, st.records, log, tracer, opts...)
	scanner := revalidation.NewEntityScanner(
		hubClient,
		st.records,
		codec.NewMessageDecoder(),
		signerValidator,
		cfg.EntityTimeout,
		log,
		tracer,
	)

	jobMetrics, err := revalidation.NewJobMetrics(tel.MeterProvider)
	if err != nil {
		svc.Close(ctx, log)
		return nil, fmt.Errorf("failed to create job metrics: %w", err)
	}

	svc.runner = revalidation.NewJobRunner(
		revalidation.RunnerConfig{
			PageSize:        cfg.EntityPageSize,
			CheckpointEvery: cfg.CheckpointEvery,
		},
		st.checkpoints,
		st.entities,
		scanner,
		jobMetrics,
		timeutil.Default(),
		log,
		tracer,
	)
	return svc, nil
}
