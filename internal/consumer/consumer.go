// Package consumer reads clinical events from Kafka and drives the
// reassignment cascade. Events are deduplicated through the inbox before
// any handler runs.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/clinicops/appointments/internal/identity"
	"github.com/clinicops/appointments/internal/inbox"
	"github.com/clinicops/appointments/internal/reassign"
	"github.com/clinicops/appointments/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TopicDoctorStatusChanged carries doctor activation changes published by
// the security service.
const TopicDoctorStatusChanged = "doctor.status.changed"

type Handler func(ctx context.Context, msg kafka.Message) error

type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	inbox   *inbox.Repository
	handler Handler
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
}

func New(logger *slog.Logger, inboxRepo *inbox.Repository, cfg Config, handler Handler) *Consumer {
	brokers := kafkax.SplitBrokers(cfg.Brokers)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{
		reader:  reader,
		logger:  logger,
		inbox:   inboxRepo,
		handler: handler,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
		ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)

		meta := kafkax.ExtractEventMeta(msg)

		ok, err := c.inbox.Record(ctxSpan, meta.EventID, meta.EventType)
		if err != nil {
			c.logger.Error("inbox record failed", "err", err)
			span.RecordError(err)
			span.End()
			continue
		}
		if !ok {
			c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
			span.End()
			continue
		}

		if err := c.handler(ctxSpan, msg); err != nil {
			c.logger.Error("handler error", "err", err, "event_id", meta.EventID)
			span.RecordError(err)
			span.End()
			continue
		}
		span.End()
	}
}

type doctorStatusEvent struct {
	DoctorID  string `json:"doctor_id"`
	NewStatus string `json:"new_status"`
}

// DoctorStatusHandler triggers reassignment when a doctor goes INACTIVE.
// Other status changes are acknowledged and ignored.
func DoctorStatusHandler(coordinator *reassign.Coordinator, credential string, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt doctorStatusEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return fmt.Errorf("decode doctor status event: %w", err)
		}
		if evt.DoctorID == "" {
			return fmt.Errorf("doctor status event missing doctor_id")
		}
		if evt.NewStatus != identity.StatusInactive {
			logger.Info("doctor status change ignored", "doctor_id", evt.DoctorID, "new_status", evt.NewStatus)
			return nil
		}

		outcomes, err := coordinator.HandleDoctorInactive(ctx, evt.DoctorID, credential)
		if err != nil {
			return fmt.Errorf("reassign after doctor inactivation: %w", err)
		}
		reassigned := 0
		for _, o := range outcomes {
			if o.Reassigned {
				reassigned++
			}
		}
		logger.Info("doctor inactivation processed",
			"doctor_id", evt.DoctorID,
			"appointments", len(outcomes),
			"reassigned", reassigned,
		)
		return nil
	}
}
