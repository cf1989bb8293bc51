package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrWriteFailed marks a durable-store append failure. Losing an audit
// trace is worse than failing the record, so callers must treat it as
// a hard failure of whatever they were auditing.
var ErrWriteFailed = errors.New("audit write failed")

// Recorder appends lifecycle events to the durable audit trail.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// Publisher is the slice of the Kafka producer the recorder needs.
type Publisher interface {
	Publish(ctx context.Context, key []byte, value []byte, headers map[string]string) error
}

// KafkaRecorder appends events to an append-only Kafka topic. Messages
// are keyed by the event's partition key, so one organization's trail
// lands on one partition in append order and concurrent appends need
// no coordination.
type KafkaRecorder struct {
	publisher Publisher
	logger    *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewKafkaRecorder constructs a KafkaRecorder on top of a producer
// bound to the audit topic.
func NewKafkaRecorder(publisher Publisher, logger *zap.Logger) *KafkaRecorder {
	return &KafkaRecorder{
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

type record struct {
	PK string `json:"pk"`
	SK string `json:"sk"`
	Event
}

// Record fills in the event id and timestamp when absent, then appends
// the event. A write failure is logged for operational visibility and
// propagated, never swallowed.
func (r *KafkaRecorder) Record(ctx context.Context, event Event) error {
	if event.Timestamp == "" {
		event.Timestamp = r.now().UTC().Format(time.RFC3339Nano)
	}
	if event.EventID == "" {
		event.EventID = r.newID()
	}
	if event.Status == "" {
		event.Status = StatusSuccess
	}

	rec := record{
		PK:    event.PartitionKey(),
		SK:    event.SortKey(),
		Event: event,
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: marshal event: %v", ErrWriteFailed, err)
	}

	headers := map[string]string{
		"event_type": string(event.Type),
		"event_id":   event.EventID,
	}

	if err := r.publisher.Publish(ctx, []byte(rec.PK), payload, headers); err != nil {
		r.logger.Error("audit append failed",
			zap.String("event_type", string(event.Type)),
			zap.String("file_key", event.FileKey),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	r.logger.Info("recorded audit event",
		zap.String("event_type", string(event.Type)),
		zap.String("file_key", event.FileKey),
		zap.String("status", string(event.Status)),
	)
	return nil
}
