package progress

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSink struct {
	mu      sync.Mutex
	updates []int64
	err     error
}

func (f *fakeSink) UpdateZipDownloadProgress(_ context.Context, _ int64, bytesReceived int64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, bytesReceived)
	return f.err
}

func TestMeterPushesOnBoundaryCrossing(t *testing.T) {
	sink := &fakeSink{}
	var buf bytes.Buffer
	m := NewMeter(context.Background(), &buf, sink, 1, 3*boundary, nil)

	chunk := make([]byte, boundary-1)
	if _, err := m.Write(chunk); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if len(sink.updates) != 0 {
		t.Fatalf("must not push before crossing a boundary, got %v", sink.updates)
	}

	if _, err := m.Write([]byte{0x01, 0x02}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if len(sink.updates) != 1 {
		t.Fatalf("expected exactly one push after crossing the first boundary, got %v", sink.updates)
	}
}

func TestMeterPushesOnReachingTotal(t *testing.T) {
	sink := &fakeSink{}
	var buf bytes.Buffer
	total := int64(100)
	m := NewMeter(context.Background(), &buf, sink, 1, total, nil)

	if _, err := m.Write(make([]byte, 100)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if len(sink.updates) != 1 || sink.updates[0] != total {
		t.Fatalf("expected a push at total size, got %v", sink.updates)
	}
	if m.PercentComplete() != 100 {
		t.Fatalf("expected 100%% complete, got %v", m.PercentComplete())
	}
}

func TestMeterSwallowsSinkErrors(t *testing.T) {
	sink := &fakeSink{err: errors.New("tracker unavailable")}
	var buf bytes.Buffer
	m := NewMeter(context.Background(), &buf, sink, 1, boundary, nil)

	n, err := m.Write(make([]byte, boundary))
	if err != nil {
		t.Fatalf("a sink error must never fail the write, got %v", err)
	}
	if n != boundary {
		t.Fatalf("expected %d bytes written, got %d", boundary, n)
	}
}
