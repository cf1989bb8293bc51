package processor

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/your-org/packageflow/pkg/audit"
	"github.com/your-org/packageflow/pkg/dispatch"
	"github.com/your-org/packageflow/pkg/storage/objectstore"
)

// Processor executes one dispatched archive-processing task. It owns
// exactly one record at a time: a failure is recorded in the audit
// trail and then propagated, and the caller decides whether to exit.
type Processor struct {
	store    objectstore.Client
	recorder audit.Recorder
	logger   *zap.Logger
}

type Params struct {
	Store    objectstore.Client
	Recorder audit.Recorder
	Logger   *zap.Logger
}

// New constructs a Processor.
func New(p Params) *Processor {
	return &Processor{
		store:    p.Store,
		recorder: p.Recorder,
		logger:   p.Logger,
	}
}

// Run processes one task end to end: records PROCESSING_IN_PROGRESS,
// performs the processing step, and records PROCESSING_COMPLETE, or
// PROCESSING_ERROR on failure. An audit write failure propagates
// unwrapped so the caller can tell it apart from a processing failure.
func (p *Processor) Run(ctx context.Context, handle string, req dispatch.Request) error {
	if req.Bucket == "" || req.Key == "" || req.OrganizationID == "" {
		err := errors.New("dispatch request missing required fields")
		p.recordError(ctx, handle, req, err)
		return err
	}

	p.logger.Info("processing archive",
		zap.String("task_handle", handle),
		zap.String("bucket", req.Bucket),
		zap.String("file_key", req.Key),
		zap.String("organization_id", req.OrganizationID),
		zap.Int64("file_size_bytes", req.FileSizeBytes),
	)

	if err := p.recorder.Record(ctx, audit.Event{
		OrganizationID: req.OrganizationID,
		Type:           audit.EventProcessingInProgress,
		FileKey:        req.Key,
		Details: map[string]any{
			"bucket":      req.Bucket,
			"file_size":   req.FileSizeBytes,
			"task_handle": handle,
		},
	}); err != nil {
		return err
	}

	if err := p.process(ctx, req); err != nil {
		p.recordError(ctx, handle, req, err)
		return err
	}

	if err := p.recorder.Record(ctx, audit.Event{
		OrganizationID: req.OrganizationID,
		Type:           audit.EventProcessingComplete,
		FileKey:        req.Key,
		Details: map[string]any{
			"bucket":      req.Bucket,
			"file_size":   req.FileSizeBytes,
			"task_handle": handle,
			"result":      "SUCCESS",
		},
	}); err != nil {
		return err
	}

	p.logger.Info("archive processed",
		zap.String("task_handle", handle),
		zap.String("file_key", req.Key),
	)
	return nil
}

// process is the processing step itself. It re-checks the object
// against the live store and streams it once end to end to prove
// readability; content inspection is out of scope.
func (p *Processor) process(ctx context.Context, req dispatch.Request) error {
	meta, err := p.store.Stat(ctx, req.Bucket, req.Key)
	if err != nil {
		return fmt.Errorf("verify archive access: %w", err)
	}
	if meta.SizeBytes != req.FileSizeBytes {
		p.logger.Warn("archive size changed since dispatch",
			zap.Int64("dispatched", req.FileSizeBytes),
			zap.Int64("actual", meta.SizeBytes),
		)
	}

	rc, err := p.store.Get(ctx, req.Bucket, req.Key)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer rc.Close()

	n, err := io.Copy(io.Discard, rc)
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}

	p.logger.Info("archive readable",
		zap.String("file_key", req.Key),
		zap.Int64("bytes_read", n),
	)
	return nil
}

// recordError appends a PROCESSING_ERROR event on a best-effort basis.
// The trail write failing too is logged but not allowed to mask the
// original failure.
func (p *Processor) recordError(ctx context.Context, handle string, req dispatch.Request, cause error) {
	orgID := req.OrganizationID
	if orgID == "" {
		orgID = audit.OrgUnknown
	}
	fileKey := req.Key
	if fileKey == "" {
		fileKey = audit.FileUnknown
	}

	p.logger.Error("processing failed",
		zap.String("task_handle", handle),
		zap.String("file_key", fileKey),
		zap.Error(cause),
	)

	if err := p.recorder.Record(ctx, audit.Event{
		OrganizationID: orgID,
		Type:           audit.EventProcessingError,
		FileKey:        fileKey,
		Status:         audit.StatusFailure,
		Details: map[string]any{
			"bucket":      req.Bucket,
			"task_handle": handle,
			"error":       cause.Error(),
		},
	}); err != nil {
		p.logger.Error("audit append for failed task also failed", zap.Error(err))
	}
}
