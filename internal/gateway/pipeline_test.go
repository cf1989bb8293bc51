package gateway

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/your-org/packageflow/internal/validation"
	"github.com/your-org/packageflow/pkg/audit"
	"github.com/your-org/packageflow/pkg/dispatch"
	"github.com/your-org/packageflow/pkg/storage/objectstore"
)

type fakeObject struct {
	meta objectstore.ObjectMetadata
	tags map[string]string
}

type fakeStore struct {
	objects map[string]fakeObject
	statErr error
	tagsErr error
}

func objectKey(bucket, key string) string {
	return bucket + "/" + key
}

func (f *fakeStore) Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, metadata map[string]string) error {
	if f.objects == nil {
		f.objects = map[string]fakeObject{}
	}
	f.objects[objectKey(bucket, key)] = fakeObject{
		meta: objectstore.ObjectMetadata{SizeBytes: size, UserMetadata: metadata},
	}
	return nil
}

func (f *fakeStore) Stat(ctx context.Context, bucket, key string) (objectstore.ObjectMetadata, error) {
	if f.statErr != nil {
		return objectstore.ObjectMetadata{}, f.statErr
	}
	obj, ok := f.objects[objectKey(bucket, key)]
	if !ok {
		return objectstore.ObjectMetadata{}, fmt.Errorf("%w: stat %s/%s", objectstore.ErrNotAccessible, bucket, key)
	}
	return obj.meta, nil
}

func (f *fakeStore) Tags(ctx context.Context, bucket, key string) (map[string]string, error) {
	if f.tagsErr != nil {
		return nil, f.tagsErr
	}
	obj, ok := f.objects[objectKey(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("%w: tags %s/%s", objectstore.ErrNotAccessible, bucket, key)
	}
	return obj.tags, nil
}

func (f *fakeStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *fakeStore) Close() error { return nil }

type fakeRecorder struct {
	events  []audit.Event
	failOn  audit.EventType
	failAll bool
}

func (f *fakeRecorder) Record(ctx context.Context, event audit.Event) error {
	if f.failAll || (f.failOn != "" && event.Type == f.failOn) {
		return fmt.Errorf("%w: broker down", audit.ErrWriteFailed)
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeRecorder) eventTypes() []audit.EventType {
	types := make([]audit.EventType, 0, len(f.events))
	for _, e := range f.events {
		types = append(types, e.Type)
	}
	return types
}

type fakeDispatcher struct {
	requests []dispatch.Request
	handle   string
	err      error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req dispatch.Request) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.requests = append(f.requests, req)
	return f.handle, nil
}

func newTestPipeline(store *fakeStore, rec *fakeRecorder, disp *fakeDispatcher) *Pipeline {
	return NewPipeline(Params{
		Store:      store,
		Recorder:   rec,
		Dispatcher: disp,
		Policy:     validation.NewPolicy([]string{"acme"}, 0, ""),
		Logger:     zap.NewNop(),
	})
}

func notificationFor(bucket string, keys ...string) Notification {
	n := Notification{}
	for _, key := range keys {
		n.Records = append(n.Records, NotificationRecord{
			S3: S3Entity{
				Bucket: S3Bucket{Name: bucket},
				Object: S3Object{Key: key},
			},
		})
	}
	return n
}

func TestPipelineValidArchiveDispatched(t *testing.T) {
	store := &fakeStore{objects: map[string]fakeObject{
		"ingress/reports/q1.zip": {
			meta: objectstore.ObjectMetadata{SizeBytes: 500, ContentType: "application/zip"},
			tags: map[string]string{"organization-id": "acme"},
		},
	}}
	rec := &fakeRecorder{}
	disp := &fakeDispatcher{handle: "task-123"}

	results := newTestPipeline(store, rec, disp).Run(context.Background(), notificationFor("ingress", "reports/q1.zip"))

	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if r.Status != StatusProcessingStarted {
		t.Errorf("Status = %q, want %q (error %q)", r.Status, StatusProcessingStarted, r.Error)
	}
	if r.OrganizationID != "acme" {
		t.Errorf("OrganizationID = %q, want acme", r.OrganizationID)
	}
	if r.TaskHandle != "task-123" {
		t.Errorf("TaskHandle = %q, want task-123", r.TaskHandle)
	}

	if len(disp.requests) != 1 {
		t.Fatalf("got %d dispatch requests, want 1", len(disp.requests))
	}
	want := dispatch.Request{Bucket: "ingress", Key: "reports/q1.zip", OrganizationID: "acme", FileSizeBytes: 500}
	if disp.requests[0] != want {
		t.Errorf("dispatch request = %+v, want %+v", disp.requests[0], want)
	}

	got := rec.eventTypes()
	wantTypes := []audit.EventType{audit.EventUpload, audit.EventValidation, audit.EventProcessingStart}
	if len(got) != len(wantTypes) {
		t.Fatalf("audit events = %v, want %v", got, wantTypes)
	}
	for i := range wantTypes {
		if got[i] != wantTypes[i] {
			t.Errorf("audit event %d = %q, want %q", i, got[i], wantTypes[i])
		}
	}

	if rec.events[0].OrganizationID != audit.OrgPending {
		t.Errorf("UPLOAD organization = %q, want %q", rec.events[0].OrganizationID, audit.OrgPending)
	}
	if rec.events[1].Status != audit.StatusSuccess && rec.events[1].Status != "" {
		t.Errorf("VALIDATION status = %q, want success", rec.events[1].Status)
	}
	if handle := rec.events[2].Details["task_handle"]; handle != "task-123" {
		t.Errorf("PROCESSING_START task_handle = %v, want task-123", handle)
	}
}

func TestPipelineValidationFailure(t *testing.T) {
	store := &fakeStore{objects: map[string]fakeObject{
		"ingress/reports/q1.txt": {
			meta: objectstore.ObjectMetadata{SizeBytes: 500},
			tags: map[string]string{"organization-id": "acme"},
		},
	}}
	rec := &fakeRecorder{}
	disp := &fakeDispatcher{handle: "task-123"}

	results := newTestPipeline(store, rec, disp).Run(context.Background(), notificationFor("ingress", "reports/q1.txt"))

	r := results[0]
	if r.Status != StatusValidationFailed {
		t.Errorf("Status = %q, want %q", r.Status, StatusValidationFailed)
	}
	if r.Error != validation.ReasonInvalidExtension {
		t.Errorf("Error = %q, want %q", r.Error, validation.ReasonInvalidExtension)
	}
	if len(disp.requests) != 0 {
		t.Errorf("dispatcher invoked for a failed validation")
	}

	got := rec.eventTypes()
	wantTypes := []audit.EventType{audit.EventUpload, audit.EventValidation}
	if len(got) != 2 || got[0] != wantTypes[0] || got[1] != wantTypes[1] {
		t.Fatalf("audit events = %v, want %v", got, wantTypes)
	}
	if rec.events[1].Status != audit.StatusFailure {
		t.Errorf("VALIDATION status = %q, want %q", rec.events[1].Status, audit.StatusFailure)
	}
	if reason := rec.events[1].Details["error"]; reason != validation.ReasonInvalidExtension {
		t.Errorf("VALIDATION error detail = %v, want %q", reason, validation.ReasonInvalidExtension)
	}
}

func TestPipelineFileTooLarge(t *testing.T) {
	store := &fakeStore{objects: map[string]fakeObject{
		"ingress/x.zip": {
			meta: objectstore.ObjectMetadata{SizeBytes: 2_000_000_000},
			tags: map[string]string{"organization-id": "acme"},
		},
	}}
	rec := &fakeRecorder{}
	disp := &fakeDispatcher{}

	results := newTestPipeline(store, rec, disp).Run(context.Background(), notificationFor("ingress", "x.zip"))

	if results[0].Status != StatusValidationFailed {
		t.Errorf("Status = %q, want %q", results[0].Status, StatusValidationFailed)
	}
	if results[0].Error != validation.ReasonFileTooLarge {
		t.Errorf("Error = %q, want %q", results[0].Error, validation.ReasonFileTooLarge)
	}
}

func TestPipelineObjectNotAccessible(t *testing.T) {
	store := &fakeStore{}
	rec := &fakeRecorder{}
	disp := &fakeDispatcher{}

	results := newTestPipeline(store, rec, disp).Run(context.Background(), notificationFor("ingress", "missing.zip"))

	r := results[0]
	if r.Status != StatusError {
		t.Errorf("Status = %q, want %q", r.Status, StatusError)
	}
	if r.Error != "ObjectNotAccessible" {
		t.Errorf("Error = %q, want ObjectNotAccessible", r.Error)
	}

	for _, e := range rec.events {
		if e.Type == audit.EventValidation {
			t.Error("VALIDATION event recorded despite metadata fetch failure")
		}
	}
	last := rec.events[len(rec.events)-1]
	if last.Type != audit.EventError {
		t.Errorf("last audit event = %q, want %q", last.Type, audit.EventError)
	}
	if last.OrganizationID != audit.OrgUnknown {
		t.Errorf("ERROR organization = %q, want %q", last.OrganizationID, audit.OrgUnknown)
	}
}

func TestPipelineBatchIndependence(t *testing.T) {
	store := &fakeStore{objects: map[string]fakeObject{
		"ingress/bad.txt": {
			meta: objectstore.ObjectMetadata{SizeBytes: 100},
			tags: map[string]string{"organization-id": "acme"},
		},
		"ingress/good.zip": {
			meta: objectstore.ObjectMetadata{SizeBytes: 100},
			tags: map[string]string{"organization-id": "acme"},
		},
	}}
	rec := &fakeRecorder{}
	disp := &fakeDispatcher{handle: "task-9"}

	results := newTestPipeline(store, rec, disp).Run(context.Background(),
		notificationFor("ingress", "bad.txt", "missing.zip", "good.zip"))

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Status != StatusValidationFailed {
		t.Errorf("record 0 status = %q, want %q", results[0].Status, StatusValidationFailed)
	}
	if results[1].Status != StatusError {
		t.Errorf("record 1 status = %q, want %q", results[1].Status, StatusError)
	}
	if results[2].Status != StatusProcessingStarted {
		t.Errorf("record 2 status = %q, want %q", results[2].Status, StatusProcessingStarted)
	}
}

func TestPipelineDispatchFailure(t *testing.T) {
	store := &fakeStore{objects: map[string]fakeObject{
		"ingress/good.zip": {
			meta: objectstore.ObjectMetadata{SizeBytes: 100},
			tags: map[string]string{"organization-id": "acme"},
		},
	}}
	rec := &fakeRecorder{}
	disp := &fakeDispatcher{err: fmt.Errorf("%w: no capacity", dispatch.ErrDispatchFailed)}

	results := newTestPipeline(store, rec, disp).Run(context.Background(), notificationFor("ingress", "good.zip"))

	r := results[0]
	if r.Status != StatusError {
		t.Errorf("Status = %q, want %q", r.Status, StatusError)
	}
	if r.Error != "DispatchFailed" {
		t.Errorf("Error = %q, want DispatchFailed", r.Error)
	}

	last := rec.events[len(rec.events)-1]
	if last.Type != audit.EventError {
		t.Errorf("last audit event = %q, want %q", last.Type, audit.EventError)
	}
	if last.OrganizationID != "acme" {
		t.Errorf("ERROR organization = %q, want acme", last.OrganizationID)
	}
}

func TestPipelineAuditWriteFailure(t *testing.T) {
	store := &fakeStore{objects: map[string]fakeObject{
		"ingress/good.zip": {
			meta: objectstore.ObjectMetadata{SizeBytes: 100},
			tags: map[string]string{"organization-id": "acme"},
		},
	}}
	rec := &fakeRecorder{failOn: audit.EventValidation}
	disp := &fakeDispatcher{handle: "task-1"}

	results := newTestPipeline(store, rec, disp).Run(context.Background(), notificationFor("ingress", "good.zip"))

	r := results[0]
	if r.Status != StatusError {
		t.Errorf("Status = %q, want %q", r.Status, StatusError)
	}
	if r.Error != "AuditWriteError" {
		t.Errorf("Error = %q, want AuditWriteError", r.Error)
	}
	if len(disp.requests) != 0 {
		t.Error("dispatcher invoked after audit write failure")
	}
}

func TestPipelineDecodesKeys(t *testing.T) {
	store := &fakeStore{objects: map[string]fakeObject{
		"ingress/reports/q1 final.zip": {
			meta: objectstore.ObjectMetadata{SizeBytes: 100},
			tags: map[string]string{"organization-id": "acme"},
		},
	}}
	rec := &fakeRecorder{}
	disp := &fakeDispatcher{handle: "task-1"}

	results := newTestPipeline(store, rec, disp).Run(context.Background(),
		notificationFor("ingress", "reports%2Fq1+final.zip"))

	r := results[0]
	if r.Status != StatusProcessingStarted {
		t.Fatalf("Status = %q, want %q (error %q)", r.Status, StatusProcessingStarted, r.Error)
	}
	if r.File != "reports/q1 final.zip" {
		t.Errorf("File = %q, want decoded key", r.File)
	}
	if disp.requests[0].Key != "reports/q1 final.zip" {
		t.Errorf("dispatched key = %q, want decoded key", disp.requests[0].Key)
	}

	upload := rec.events[0]
	if upload.FileKey != "reports/q1 final.zip" {
		t.Errorf("UPLOAD file key = %q, want decoded key", upload.FileKey)
	}
	if delivered := upload.Details["delivered_key"]; delivered != "reports%2Fq1+final.zip" {
		t.Errorf("UPLOAD delivered_key = %v, want the key as delivered", delivered)
	}
}

func TestPipelineSkipsMalformedRecords(t *testing.T) {
	store := &fakeStore{}
	rec := &fakeRecorder{}
	disp := &fakeDispatcher{}

	n := Notification{Records: []NotificationRecord{
		{S3: S3Entity{Bucket: S3Bucket{Name: "ingress"}}},
		{S3: S3Entity{Object: S3Object{Key: "orphan.zip"}}},
	}}

	results := newTestPipeline(store, rec, disp).Run(context.Background(), n)

	if len(results) != 0 {
		t.Errorf("got %d results for malformed records, want 0", len(results))
	}
	if len(rec.events) != 0 {
		t.Errorf("audit events recorded for malformed records: %v", rec.eventTypes())
	}
}

func TestPipelineTotalAuditOutage(t *testing.T) {
	store := &fakeStore{objects: map[string]fakeObject{
		"ingress/good.zip": {
			meta: objectstore.ObjectMetadata{SizeBytes: 100},
			tags: map[string]string{"organization-id": "acme"},
		},
	}}
	rec := &fakeRecorder{failAll: true}
	disp := &fakeDispatcher{}

	results := newTestPipeline(store, rec, disp).Run(context.Background(), notificationFor("ingress", "good.zip"))

	r := results[0]
	if r.Status != StatusError {
		t.Errorf("Status = %q, want %q", r.Status, StatusError)
	}
	if r.Error != "AuditWriteError" {
		t.Errorf("Error = %q, want AuditWriteError", r.Error)
	}
}
