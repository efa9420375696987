package kafka

import (
	"context"
	"fmt"
	"strconv"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/hub-revalidator/internal/domain/revalidation"
	"github.com/ahrav/hub-revalidator/internal/infra/codec"
	"github.com/ahrav/hub-revalidator/internal/infra/eventbus/kafka/tracing"
)

var _ revalidation.RevocationPublisher = (*RevocationPublisher)(nil)

// EventTypeMessageRevoked is the value of the event_type header on revocation
// messages.
const EventTypeMessageRevoked = "MessageRevoked"

const (
	headerEventType   = "event_type"
	headerContentType = "content-type"
)

// PublisherMetrics counts publish attempts per topic.
type PublisherMetrics interface {
	IncMessagePublished(topic string)
	IncPublishError(topic string)
}

type noopPublisherMetrics struct{}

func (noopPublisherMetrics) IncMessagePublished(string) {}
func (noopPublisherMetrics) IncPublishError(string)     {}

// RevocationPublisher writes revocation events to a Kafka topic, keyed by FID
// so all revocations for an account land on one partition in order.
type RevocationPublisher struct {
	producer sarama.SyncProducer
	topic    string
	metrics  PublisherMetrics
	tracer   trace.Tracer
}

// NewRevocationPublisher creates a publisher writing to topic. metrics may be
// nil.
func NewRevocationPublisher(
	producer sarama.SyncProducer,
	topic string,
	metrics PublisherMetrics,
	tracer trace.Tracer,
) *RevocationPublisher {
	if metrics == nil {
		metrics = noopPublisherMetrics{}
	}
	return &RevocationPublisher{producer: producer, topic: topic, metrics: metrics, tracer: tracer}
}

// PublishRevocation sends evt and waits for the broker acknowledgement.
func (p *RevocationPublisher) PublishRevocation(ctx context.Context, evt revalidation.RevocationEvent) error {
	ctx, span := tracing.StartProducerSpan(ctx, p.topic, p.tracer)
	defer span.End()
	span.SetAttributes(attribute.Int64("fid", int64(evt.FID)))

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatUint(evt.FID, 10)),
		Value: sarama.ByteEncoder(codec.EncodeRevocation(evt)),
		Headers: []sarama.RecordHeader{
			{Key: []byte(headerEventType), Value: []byte(EventTypeMessageRevoked)},
			{Key: []byte(headerContentType), Value: []byte(codec.ContentTypeProtobuf)},
		},
	}
	tracing.InjectTraceContext(ctx, msg)

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.metrics.IncPublishError(p.topic)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish revocation")
		return fmt.Errorf("failed to publish revocation for fid %d: %w", evt.FID, err)
	}

	p.metrics.IncMessagePublished(p.topic)

	span.SetAttributes(
		attribute.Int("partition", int(partition)),
		attribute.Int64("offset", offset),
	)
	span.SetStatus(codes.Ok, "revocation published")
	return nil
}

// Close shuts down the underlying producer.
func (p *RevocationPublisher) Close() error { return p.producer.Close() }
