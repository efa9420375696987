// Package kafka publishes revocation events to Kafka.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"

	"github.com/ahrav/hub-revalidator/pkg/common/logger"
)

// ClientConfig contains all configuration needed for Kafka producer setup.
type ClientConfig struct {
	Brokers  []string
	ClientID string
	// ConnectTimeout bounds the total time spent retrying the initial
	// connection.
	ConnectTimeout time.Duration
}

// NewSaramaConfig returns the producer configuration shared by every
// revalidator client.
func NewSaramaConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.Idempotent = true
	config.Producer.Retry.Max = 5
	config.Net.MaxOpenRequests = 1

	config.Version = sarama.V3_6_0_0
	return config
}

// ConnectProducer establishes a synchronous producer with exponential backoff.
// It helps ride out brokers that are still starting when the service boots.
func ConnectProducer(ctx context.Context, cfg *ClientConfig, log *logger.Logger) (sarama.SyncProducer, error) {
	var producer sarama.SyncProducer

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 2 * time.Second
	expBackoff.MaxElapsedTime = cfg.ConnectTimeout
	if expBackoff.MaxElapsedTime <= 0 {
		expBackoff.MaxElapsedTime = 2 * time.Minute
	}

	sarama.Logger = logger.NewStdLogger(log.With("component", "sarama"), logger.LevelDebug)

	operation := func() error {
		var err error
		producer, err = sarama.NewSyncProducer(cfg.Brokers, NewSaramaConfig(cfg.ClientID))
		if err != nil {
			log.Warn(ctx, "Failed to connect to Kafka, will retry", "error", err)
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka after retries: %w", err)
	}
	return producer, nil
}
