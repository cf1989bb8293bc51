package gateway

import (
	"context"
	"errors"
	"net/url"

	"go.uber.org/zap"

	"github.com/your-org/packageflow/internal/validation"
	"github.com/your-org/packageflow/pkg/audit"
	"github.com/your-org/packageflow/pkg/dispatch"
	"github.com/your-org/packageflow/pkg/storage/objectstore"
)

// Machine-readable reasons surfaced for infrastructure failures.
const (
	reasonObjectNotAccessible = "ObjectNotAccessible"
	reasonAuditWriteError     = "AuditWriteError"
	reasonDispatchFailed      = "DispatchFailed"
	reasonInternalError       = "InternalError"
)

// Pipeline runs each notified upload through validation, auditing, and
// dispatch. It holds no mutable state, so one instance serves
// concurrent requests.
type Pipeline struct {
	store      objectstore.Client
	recorder   audit.Recorder
	dispatcher dispatch.Dispatcher
	policy     validation.Policy
	logger     *zap.Logger
}

type Params struct {
	Store      objectstore.Client
	Recorder   audit.Recorder
	Dispatcher dispatch.Dispatcher
	Policy     validation.Policy
	Logger     *zap.Logger
}

// NewPipeline constructs a Pipeline.
func NewPipeline(p Params) *Pipeline {
	return &Pipeline{
		store:      p.Store,
		recorder:   p.Recorder,
		dispatcher: p.Dispatcher,
		policy:     p.Policy,
		logger:     p.Logger,
	}
}

// Run processes every record in the notification independently and
// returns one result per processed record. A failing record never
// aborts its siblings; Run itself never fails.
func (p *Pipeline) Run(ctx context.Context, n Notification) []RecordResult {
	results := make([]RecordResult, 0, len(n.Records))
	for _, rec := range n.Records {
		bucket := rec.S3.Bucket.Name
		rawKey := rec.S3.Object.Key
		if bucket == "" || rawKey == "" {
			p.logger.Warn("notification record missing bucket or key")
			continue
		}
		results = append(results, p.processRecord(ctx, bucket, rawKey))
	}
	return results
}

func (p *Pipeline) processRecord(ctx context.Context, bucket, rawKey string) RecordResult {
	key := decodeKey(rawKey)

	p.logger.Info("processing upload",
		zap.String("bucket", bucket),
		zap.String("file_key", key),
	)

	// Every received object gets at least one audit trace, even when
	// no organization can be resolved later. Recorded before the
	// metadata fetch, so size and tags are not yet known; the
	// as-delivered key pins the exact delivery instead.
	if err := p.recorder.Record(ctx, audit.Event{
		OrganizationID: audit.OrgPending,
		Type:           audit.EventUpload,
		FileKey:        key,
		Details: map[string]any{
			"bucket":        bucket,
			"delivered_key": rawKey,
		},
	}); err != nil {
		return p.errorResult(ctx, bucket, key, audit.OrgUnknown, err)
	}

	meta, err := p.store.Stat(ctx, bucket, key)
	if err != nil {
		return p.errorResult(ctx, bucket, key, audit.OrgUnknown, err)
	}
	tags, err := p.store.Tags(ctx, bucket, key)
	if err != nil {
		return p.errorResult(ctx, bucket, key, audit.OrgUnknown, err)
	}

	outcome := validation.Validate(key, meta, tags, p.policy)

	orgID := outcome.OrganizationID
	if orgID == "" {
		orgID = audit.OrgUnknown
	}

	if !outcome.Passed {
		p.logger.Warn("validation failed",
			zap.String("file_key", key),
			zap.String("reason", outcome.FailureReason),
		)
		if err := p.recorder.Record(ctx, audit.Event{
			OrganizationID: orgID,
			Type:           audit.EventValidation,
			FileKey:        key,
			Status:         audit.StatusFailure,
			Details: map[string]any{
				"bucket":     bucket,
				"error":      outcome.FailureReason,
				"validation": "FAILED",
			},
		}); err != nil {
			return p.errorResult(ctx, bucket, key, orgID, err)
		}
		return RecordResult{
			File:           key,
			OrganizationID: outcome.OrganizationID,
			Status:         StatusValidationFailed,
			Error:          outcome.FailureReason,
		}
	}

	if err := p.recorder.Record(ctx, audit.Event{
		OrganizationID: orgID,
		Type:           audit.EventValidation,
		FileKey:        key,
		Details: map[string]any{
			"bucket":        bucket,
			"file_metadata": outcome.FileMetadata,
			"validation":    "PASSED",
		},
	}); err != nil {
		return p.errorResult(ctx, bucket, key, orgID, err)
	}

	handle, err := p.dispatcher.Dispatch(ctx, dispatch.Request{
		Bucket:         bucket,
		Key:            key,
		OrganizationID: orgID,
		FileSizeBytes:  outcome.FileMetadata.SizeBytes,
	})
	if err != nil {
		return p.errorResult(ctx, bucket, key, orgID, err)
	}

	if err := p.recorder.Record(ctx, audit.Event{
		OrganizationID: orgID,
		Type:           audit.EventProcessingStart,
		FileKey:        key,
		Details:        map[string]any{"task_handle": handle},
	}); err != nil {
		return p.errorResult(ctx, bucket, key, orgID, err)
	}

	return RecordResult{
		File:           key,
		OrganizationID: orgID,
		Status:         StatusProcessingStarted,
		TaskHandle:     handle,
	}
}

// errorResult records the infrastructure failure in the audit trail
// where possible and turns it into a terminal ERROR result for the
// record. The batch carries on.
func (p *Pipeline) errorResult(ctx context.Context, bucket, key, orgID string, err error) RecordResult {
	reason := failureReason(err)
	p.logger.Error("record processing failed",
		zap.String("file_key", key),
		zap.String("reason", reason),
		zap.Error(err),
	)

	if recErr := p.recorder.Record(ctx, audit.Event{
		OrganizationID: orgID,
		Type:           audit.EventError,
		FileKey:        key,
		Status:         audit.StatusFailure,
		Details: map[string]any{
			"bucket": bucket,
			"error":  reason,
		},
	}); recErr != nil {
		p.logger.Error("audit append for failed record also failed",
			zap.String("file_key", key),
			zap.Error(recErr),
		)
	}

	return RecordResult{
		File:   key,
		Status: StatusError,
		Error:  reason,
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, objectstore.ErrNotAccessible):
		return reasonObjectNotAccessible
	case errors.Is(err, audit.ErrWriteFailed):
		return reasonAuditWriteError
	case errors.Is(err, dispatch.ErrDispatchFailed):
		return reasonDispatchFailed
	default:
		return reasonInternalError
	}
}

// decodeKey undoes the percent-encoding bucket notifications apply to
// object keys, including '+' for space. A key that does not decode is
// used as delivered.
func decodeKey(raw string) string {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}
