package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrDispatchFailed marks a task runner that rejected the request:
// capacity, configuration, or network.
var ErrDispatchFailed = errors.New("dispatch failed")

// Request carries the downstream task's only inputs. No side-channel
// configuration is assumed reachable by the task; everything it needs
// beyond these four fields comes from its own environment.
type Request struct {
	Bucket         string `json:"bucket"`
	Key            string `json:"key"`
	OrganizationID string `json:"organization_id"`
	FileSizeBytes  int64  `json:"file_size_bytes"`
}

// Dispatcher launches one asynchronous processing task per validated
// archive and returns an opaque handle for the audit trail.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (string, error)
}

// Publisher is the slice of the Kafka producer the dispatcher needs.
type Publisher interface {
	Publish(ctx context.Context, key []byte, value []byte, headers map[string]string) error
}

// KafkaDispatcher hands tasks to the processor fleet through the tasks
// topic. Messages are keyed by organization id so one organization's
// archives are processed in upload order by a single consumer.
type KafkaDispatcher struct {
	publisher Publisher
	logger    *zap.Logger

	newID func() string
}

// NewKafkaDispatcher constructs a KafkaDispatcher on top of a producer
// bound to the tasks topic.
func NewKafkaDispatcher(publisher Publisher, logger *zap.Logger) *KafkaDispatcher {
	return &KafkaDispatcher{
		publisher: publisher,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

// HandleHeader carries the task handle on the dispatched message.
const HandleHeader = "task_handle"

// Dispatch publishes the request and returns the assigned task handle.
func (d *KafkaDispatcher) Dispatch(ctx context.Context, req Request) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", ErrDispatchFailed, err)
	}

	handle := d.newID()
	headers := map[string]string{
		HandleHeader:      handle,
		"organization_id": req.OrganizationID,
		"source_file":     req.Key,
	}

	if err := d.publisher.Publish(ctx, []byte(req.OrganizationID), payload, headers); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	d.logger.Info("dispatched processing task",
		zap.String("task_handle", handle),
		zap.String("file_key", req.Key),
		zap.String("organization_id", req.OrganizationID),
	)
	return handle, nil
}
