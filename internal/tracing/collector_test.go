package tracing

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type captureExporter struct {
	mu    sync.Mutex
	spans []Span
	down  bool
}

func (c *captureExporter) ExportSpans(ctx context.Context, spans []Span) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spans = append(c.spans, spans...)
}

func (c *captureExporter) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = true
	return nil
}

func (c *captureExporter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.spans)
}

func TestCollectorFlushesOnStop(t *testing.T) {
	exp := &captureExporter{}
	c := NewCollector(nil)
	c.SetExporter(exp)
	c.Start()

	for i := 0; i < 5; i++ {
		c.EmitSpan(Span{Name: "span", TraceID: uuid.New()})
	}
	c.Stop()

	if exp.count() != 5 {
		t.Fatalf("exported %d spans, want 5", exp.count())
	}
	if !exp.down {
		t.Fatal("exporter was not shut down")
	}
}

func TestCollectorFillsDefaults(t *testing.T) {
	exp := &captureExporter{}
	c := NewCollector(nil)
	c.SetExporter(exp)
	c.Start()
	c.EmitSpan(Span{Name: "bare"})
	c.Stop()

	if exp.count() != 1 {
		t.Fatalf("exported %d spans, want 1", exp.count())
	}
	span := exp.spans[0]
	if span.ID == uuid.Nil {
		t.Error("span ID not assigned")
	}
	if span.StartTime.IsZero() || span.EndTime.IsZero() {
		t.Error("timestamps not assigned")
	}
}

func TestCollectorTruncatesPreviews(t *testing.T) {
	exp := &captureExporter{}
	c := NewCollector(nil)
	c.SetExporter(exp)
	c.Start()
	c.EmitSpan(Span{
		Name:         "long",
		InputPreview: strings.Repeat("x", 2000),
	})
	c.Stop()

	if got := len(exp.spans[0].InputPreview); got > previewMaxLen+3 {
		t.Fatalf("preview length = %d, want <= %d", got, previewMaxLen+3)
	}
}

func TestCollectorEmitNeverBlocks(t *testing.T) {
	// No flush loop running; fill past the buffer and make sure Emit
	// returns anyway.
	c := NewCollector(nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < defaultBufferSize+10; i++ {
			c.EmitSpan(Span{Name: "overflow"})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("EmitSpan blocked on full buffer")
	}
}

func TestNilCollectorEmitIsNoop(t *testing.T) {
	var c *Collector
	c.EmitSpan(Span{Name: "ignored"})
}
