package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultFlushInterval = 5 * time.Second
	defaultBufferSize    = 1000
	previewMaxLen        = 500
)

// Span is one traced operation: an agent run, a model call or a tool call.
type Span struct {
	ID           uuid.UUID
	TraceID      uuid.UUID
	ParentSpanID *uuid.UUID
	Name         string
	Type         string // "agent_run", "llm_call" or "tool_call"
	StartTime    time.Time
	EndTime      time.Time
	Status       string // "ok" or "error"
	Error        string

	Model         string
	ToolName      string
	ToolCallID    string
	InputTokens   int
	OutputTokens  int
	InputPreview  string
	OutputPreview string
}

// Duration is the span's wall time.
func (s Span) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// SpanExporter receives flushed span batches. Keeping this as an interface
// confines the OTel dependency to a sub-package.
type SpanExporter interface {
	ExportSpans(ctx context.Context, spans []Span)
	Shutdown(ctx context.Context) error
}

// Collector buffers spans in memory and flushes them to the exporter in
// batches on a timer. Emission never blocks a request; when the buffer is
// full the span is dropped.
type Collector struct {
	spanCh chan Span
	stopCh chan struct{}
	wg     sync.WaitGroup

	exporter SpanExporter
	logger   *slog.Logger
}

func NewCollector(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		spanCh: make(chan Span, defaultBufferSize),
		stopCh: make(chan struct{}),
		logger: logger,
	}
}

// SetExporter attaches an external span exporter. Call before Start.
func (c *Collector) SetExporter(exp SpanExporter) {
	c.exporter = exp
}

// Start begins the background flush loop.
func (c *Collector) Start() {
	c.wg.Add(1)
	go c.flushLoop()
}

// Stop flushes remaining spans and shuts down the exporter.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
	if c.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.exporter.Shutdown(ctx); err != nil {
			c.logger.Warn("span exporter shutdown failed", "error", err)
		}
	}
}

// EmitSpan enqueues a span for batched export. Non-blocking: drops the span
// when the buffer is full.
func (c *Collector) EmitSpan(span Span) {
	if c == nil {
		return
	}
	if span.ID == uuid.Nil {
		span.ID = uuid.New()
	}
	if span.StartTime.IsZero() {
		span.StartTime = time.Now().UTC()
	}
	if span.EndTime.IsZero() {
		span.EndTime = span.StartTime
	}
	span.InputPreview = truncatePreview(span.InputPreview)
	span.OutputPreview = truncatePreview(span.OutputPreview)

	select {
	case c.spanCh <- span:
	default:
		c.logger.Warn("span buffer full, dropping span", "span", span.Name)
	}
}

func (c *Collector) flushLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()

	var batch []Span
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if c.exporter != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			c.exporter.ExportSpans(ctx, batch)
			cancel()
		}
		batch = nil
	}

	for {
		select {
		case span := <-c.spanCh:
			batch = append(batch, span)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-c.stopCh:
			for {
				select {
				case span := <-c.spanCh:
					batch = append(batch, span)
				default:
					flush()
					return
				}
			}
		}
	}
}

func truncatePreview(s string) string {
	if len(s) > previewMaxLen {
		return s[:previewMaxLen] + "..."
	}
	return s
}
