package audit

import "fmt"

// EventType enumerates the lifecycle events recorded for an uploaded
// archive, from first sight through asynchronous processing.
type EventType string

const (
	EventUpload               EventType = "UPLOAD"
	EventValidation           EventType = "VALIDATION"
	EventProcessingStart      EventType = "PROCESSING_START"
	EventProcessingInProgress EventType = "PROCESSING_IN_PROGRESS"
	EventProcessingComplete   EventType = "PROCESSING_COMPLETE"
	EventProcessingError      EventType = "PROCESSING_ERROR"
	EventError                EventType = "ERROR"
)

// Status of the step an event records.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Placeholder organization ids for events recorded before an
// organization has been resolved.
const (
	OrgPending = "PENDING"
	OrgUnknown = "UNKNOWN"
)

// FileUnknown is the file-key placeholder for events recorded when the
// failing operation could not name its file.
const FileUnknown = "UNKNOWN"

// Event is one append-only audit record. Immutable after creation: the
// trail is write-only from the pipeline's perspective.
type Event struct {
	OrganizationID string         `json:"organization_id"`
	Type           EventType      `json:"event_type"`
	FileKey        string         `json:"file_key"`
	Timestamp      string         `json:"timestamp"`
	Status         Status         `json:"status"`
	EventID        string         `json:"event_id"`
	Details        map[string]any `json:"details,omitempty"`
}

// PartitionKey groups all events of one organization so they are
// retrievable together, in append order.
func (e Event) PartitionKey() string {
	return fmt.Sprintf("ORG#%s", e.OrganizationID)
}

// SortKey orders an organization's events chronologically per event
// type namespace.
func (e Event) SortKey() string {
	return fmt.Sprintf("EVENT#%s#%s", e.Timestamp, e.Type)
}
