package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type stubPublisher struct {
	key     string
	value   []byte
	headers map[string]string
	err     error
}

func (s *stubPublisher) Publish(ctx context.Context, key []byte, value []byte, headers map[string]string) error {
	if s.err != nil {
		return s.err
	}
	s.key = string(key)
	s.value = value
	s.headers = headers
	return nil
}

func TestDispatchPublishesRequestVerbatim(t *testing.T) {
	pub := &stubPublisher{}
	d := NewKafkaDispatcher(pub, zap.NewNop())
	d.newID = func() string { return "task-42" }

	req := Request{
		Bucket:         "ingress",
		Key:            "reports/q1.zip",
		OrganizationID: "acme",
		FileSizeBytes:  500,
	}

	handle, err := d.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if handle != "task-42" {
		t.Errorf("handle = %q, want task-42", handle)
	}

	var got Request
	if err := json.Unmarshal(pub.value, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got != req {
		t.Errorf("published request = %+v, want %+v", got, req)
	}

	if pub.key != "acme" {
		t.Errorf("message key = %q, want acme", pub.key)
	}
	if pub.headers[HandleHeader] != "task-42" {
		t.Errorf("%s header = %q, want task-42", HandleHeader, pub.headers[HandleHeader])
	}
}

func TestDispatchPropagatesBrokerFailure(t *testing.T) {
	pub := &stubPublisher{err: errors.New("no capacity")}
	d := NewKafkaDispatcher(pub, zap.NewNop())

	_, err := d.Dispatch(context.Background(), Request{Bucket: "ingress", Key: "a.zip", OrganizationID: "acme"})
	if !errors.Is(err, ErrDispatchFailed) {
		t.Errorf("err = %v, want ErrDispatchFailed", err)
	}
}
