package metrics

import (
	"sync"
	"testing"
	"time"
)

type sample struct {
	kind   string
	name   string
	value  float64
	labels Labels
}

type recordingBackend struct {
	mu      sync.Mutex
	samples []sample
	flushes int
}

func (r *recordingBackend) IncCounter(name string, delta float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, sample{"counter", name, delta, labels})
}

func (r *recordingBackend) ObserveHistogram(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, sample{"histogram", name, value, labels})
}

func (r *recordingBackend) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
	return nil
}

func TestRecordPage(t *testing.T) {
	rb := &recordingBackend{}
	SetBackend(rb)
	t.Cleanup(func() { SetBackend(nil) })

	RecordPage("sof", "ok", 42, 1500*time.Millisecond)
	RecordPage("sof", "error", 0, time.Second)

	if len(rb.samples) != 5 {
		t.Fatalf("samples=%d, want 5 (rows counted only when > 0)", len(rb.samples))
	}
	if s := rb.samples[1]; s.name != FetchPageDurationSeconds || s.value != 1.5 || s.labels["status"] != "ok" {
		t.Fatalf("unexpected duration sample: %+v", s)
	}
	if s := rb.samples[2]; s.name != FetchRowsTotal || s.value != 42 {
		t.Fatalf("unexpected rows sample: %+v", s)
	}

	if err := Flush(); err != nil || rb.flushes != 1 {
		t.Fatalf("Flush err=%v flushes=%d", err, rb.flushes)
	}
}

func TestSetBackend_NilRestoresNop(t *testing.T) {
	SetBackend(nil)
	RecordRetry("sof", "timeout")
	RecordDegrade("sof")
	RecordSkip("sof")
	RecordStep("fetch", "ok", time.Second)
	if err := Flush(); err != nil {
		t.Fatalf("nop Flush err=%v", err)
	}
}
