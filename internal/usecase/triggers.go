package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"ClinicPulse/internal/domain/models"
	drepo "ClinicPulse/internal/domain/repository"
	pkgkafka "ClinicPulse/pkg/kafka"
	applogger "ClinicPulse/pkg/logger"
	"ClinicPulse/pkg/queue"
)

// Dispatcher runs recompute triggers.
type Dispatcher interface {
	Dispatch(ctx context.Context, t models.RecomputeTrigger) (models.RecomputeResponse, error)
}

// KafkaTriggerHandler consumes recompute triggers from a Kafka topic.
type KafkaTriggerHandler struct {
	topic      string
	dispatcher Dispatcher
	metrics    drepo.Metrics
	logger     *applogger.Logger
}

func NewKafkaTriggerHandler(topic string, d Dispatcher, metrics drepo.Metrics, l *applogger.Logger) *KafkaTriggerHandler {
	return &KafkaTriggerHandler{topic: topic, dispatcher: d, metrics: metrics, logger: l}
}

func (h *KafkaTriggerHandler) Topic() string { return h.topic }

// Handle decodes a JSON RecomputeTrigger. Undecodable or invalid triggers
// are permanent failures and skip the consumer's retries.
func (h *KafkaTriggerHandler) Handle(ctx context.Context, b []byte) error {
	var t models.RecomputeTrigger
	if err := json.Unmarshal(b, &t); err != nil {
		h.metrics.RecordError("trigger_unmarshal")
		return pkgkafka.Permanent(fmt.Errorf("decode trigger: %w", err))
	}
	if err := ValidateTrigger(t); err != nil {
		h.metrics.RecordError("trigger_invalid")
		return pkgkafka.Permanent(err)
	}
	resp, err := h.dispatcher.Dispatch(ctx, t)
	if err != nil {
		return err
	}
	if resp.Failed > 0 {
		h.logger.Warn("trigger finished with failures",
			applogger.String("run_id", resp.RunID),
			applogger.String("trace_id", pkgkafka.TraceIDFrom(ctx)),
			applogger.String("entry", resp.Entry),
			applogger.Int("failed", resp.Failed),
		)
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaTriggerHandler)(nil)

// RecomputeJobType is the queue message type carrying a RecomputeTrigger.
const RecomputeJobType = "analytics.recompute"

// RecomputeJob runs queued recompute triggers.
type RecomputeJob struct {
	dispatcher Dispatcher
}

func NewRecomputeJob(d Dispatcher) *RecomputeJob {
	return &RecomputeJob{dispatcher: d}
}

func (j *RecomputeJob) Name() string { return "recompute" }
func (j *RecomputeJob) Type() string { return RecomputeJobType }

func (j *RecomputeJob) Handle(ctx context.Context, payload interface{}) error {
	t, err := queue.ParsePayload[models.RecomputeTrigger](payload)
	if err != nil {
		return err
	}
	if err := ValidateTrigger(*t); err != nil {
		return err
	}
	_, err = j.dispatcher.Dispatch(ctx, *t)
	return err
}

var _ queue.Job = (*RecomputeJob)(nil)
