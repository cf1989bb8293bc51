package gateway

import "time"

// Notification is the S3-compatible bucket-event batch the object
// store posts when archives land in the ingress bucket. Only the
// fields the pipeline consumes are mapped.
type Notification struct {
	Records []NotificationRecord `json:"Records"`
}

type NotificationRecord struct {
	EventName string    `json:"eventName,omitempty"`
	EventTime time.Time `json:"eventTime,omitempty"`
	S3        S3Entity  `json:"s3"`
}

type S3Entity struct {
	Bucket S3Bucket `json:"bucket"`
	Object S3Object `json:"object"`
}

type S3Bucket struct {
	Name string `json:"name"`
}

type S3Object struct {
	Key  string `json:"key"`
	Size int64  `json:"size,omitempty"`
}

// Terminal statuses for one record's trip through the pipeline.
const (
	StatusProcessingStarted = "PROCESSING_STARTED"
	StatusValidationFailed  = "VALIDATION_FAILED"
	StatusError             = "ERROR"
)

// RecordResult is the per-record outcome returned to the notifier.
// Error carries a short machine-readable reason, never an internal
// error type.
type RecordResult struct {
	File           string `json:"file"`
	OrganizationID string `json:"organization_id,omitempty"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
	TaskHandle     string `json:"task_handle,omitempty"`
}
