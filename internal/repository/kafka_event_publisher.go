package repository

import (
	"context"
	"sync"

	"ClinicPulse/internal/domain/models"
	domrepo "ClinicPulse/internal/domain/repository"
	pkgkafka "ClinicPulse/pkg/kafka"
)

// KafkaEventPublisher implements EventPublisher on a single artifact topic.
// Messages are keyed by tenant so one tenant's events stay ordered, and carry
// kind and severity headers for routing without decoding the body.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

var _ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)

func (p *KafkaEventPublisher) Publish(ctx context.Context, ev models.ArtifactEvent) error {
	return p.producer.PublishBatch(ctx, p.topic, []pkgkafka.Message{eventMessage(ev)})
}

func eventMessage(ev models.ArtifactEvent) pkgkafka.Message {
	return pkgkafka.Message{
		Key:   []byte(ev.TenantID),
		Value: ev,
		Headers: map[string]string{
			"event_kind": ev.Kind,
			"severity":   ev.Severity,
			"run_id":     ev.RunID,
		},
	}
}

func (p *KafkaEventPublisher) PublishBatch(ctx context.Context, evs []models.ArtifactEvent) error {
	if len(evs) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(evs))
	for i, ev := range evs {
		msgs[i] = eventMessage(ev)
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NoopEventPublisher drops events. It is used when no broker is configured.
type NoopEventPublisher struct{}

func (NoopEventPublisher) Publish(context.Context, models.ArtifactEvent) error        { return nil }
func (NoopEventPublisher) PublishBatch(context.Context, []models.ArtifactEvent) error { return nil }
func (NoopEventPublisher) Close() error                                               { return nil }

// MemoryEventPublisher records events in order; tests read Events.
type MemoryEventPublisher struct {
	mu     sync.Mutex
	events []models.ArtifactEvent
}

func (m *MemoryEventPublisher) Publish(_ context.Context, ev models.ArtifactEvent) error {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return nil
}

func (m *MemoryEventPublisher) PublishBatch(_ context.Context, evs []models.ArtifactEvent) error {
	m.mu.Lock()
	m.events = append(m.events, evs...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryEventPublisher) Events() []models.ArtifactEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ArtifactEvent(nil), m.events...)
}

func (m *MemoryEventPublisher) Close() error { return nil }
