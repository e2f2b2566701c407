// Package audit correlates everything that happens while handling one
// inbound request into a single coherent record. Events are fanned out to
// independent sinks (document store, JSON log file, console) and buffered
// per request; at request end the buffer is synthesized into one summary.
//
// Auditing is best-effort by contract: a failing sink is reported and
// skipped, and never interrupts the request being observed.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one immutable fact: a category, an event name plus freeform
// fields, and a timestamp. RequestID is attached automatically when the
// event is emitted inside a request scope.
type Event struct {
	Category  string
	RequestID string
	Fields    map[string]any
	Timestamp time.Time
}

// Categories group events by concern, mirroring the audit collections.
const (
	CategoryAPI   = "logs_api"
	CategoryAuth  = "logs_auth"
	CategoryUsage = "logs_usage"
)

// RequestContext buffers the events emitted while handling one request. It
// is carried in the request's context.Context, so concurrent requests never
// see each other's buffers.
type RequestContext struct {
	ID string

	mu     sync.Mutex
	events []Event
}

type ctxKey struct{}

// FromContext returns the active request scope, or nil outside one.
func FromContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(ctxKey{}).(*RequestContext)
	return rc
}

func (rc *RequestContext) append(e Event) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.events = append(rc.events, e)
}

// snapshot returns the buffered events in emission order.
func (rc *RequestContext) snapshot() []Event {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]Event, len(rc.events))
	copy(out, rc.events)
	return out
}

// Sink receives every logical event. Implementations must be safe for
// concurrent use.
type Sink interface {
	Name() string
	Write(ctx context.Context, e Event) error
}

// Pipeline is the multi-sink audit fan-out.
type Pipeline struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewPipeline creates a Pipeline. The logger receives sink failure reports
// and the end-of-request summaries.
func NewPipeline(logger *slog.Logger, sinks ...Sink) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{sinks: sinks, logger: logger}
}

// StartRequest allocates a fresh request scope and binds it to the returned
// context. The caller must invoke EndRequest with that context when the
// request finishes.
func (p *Pipeline) StartRequest(ctx context.Context) (context.Context, string) {
	rc := &RequestContext{ID: uuid.NewString()}
	return context.WithValue(ctx, ctxKey{}, rc), rc.ID
}

// Log emits one event. The active request ID (if any) is attached, the
// event is buffered into the request scope, and every sink receives it.
// Sink failures are reported to the pipeline logger and swallowed.
func (p *Pipeline) Log(ctx context.Context, category string, fields map[string]any) {
	e := Event{
		Category:  category,
		Fields:    make(map[string]any, len(fields)+1),
		Timestamp: time.Now(),
	}
	for k, v := range fields {
		e.Fields[k] = v
	}

	rc := FromContext(ctx)
	if rc != nil {
		e.RequestID = rc.ID
		e.Fields["request_id"] = rc.ID
	}

	for _, sink := range p.sinks {
		p.writeSink(ctx, sink, e)
	}

	if rc != nil {
		rc.append(e)
	}
}

// writeSink isolates one sink behind its own failure boundary, so a failing
// or panicking sink cannot abort later sinks or the request itself.
func (p *Pipeline) writeSink(ctx context.Context, sink Sink, e Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("audit sink panicked", "sink", sink.Name(), "panic", r)
		}
	}()
	if err := sink.Write(ctx, e); err != nil {
		p.logger.Warn("audit sink failed", "sink", sink.Name(), "error", err)
	}
}

// EndRequest synthesizes the request's buffered events into one summary and
// emits it to the pipeline logger. A request that logged nothing is a no-op.
func (p *Pipeline) EndRequest(ctx context.Context) {
	rc := FromContext(ctx)
	if rc == nil {
		return
	}
	events := rc.snapshot()
	if len(events) == 0 {
		return
	}

	s := Summarize(events)
	attrs := []any{
		"request_id", s.RequestID,
		"method", s.Method,
		"path", s.Path,
		"status", s.Status,
		"duration_ms", s.DurationMs,
		"ip", s.IP,
		"events", len(events),
	}
	if s.UserID != "" {
		attrs = append(attrs, "user_id", s.UserID)
	}
	if s.Username != "" {
		attrs = append(attrs, "username", s.Username)
	}
	if s.SessionID != "" {
		attrs = append(attrs, "session_id", s.SessionID)
	}
	if s.APIKeyMasked != "" {
		attrs = append(attrs, "api_key", s.APIKeyMasked)
	}
	if s.Filename != "" {
		attrs = append(attrs, "file", s.Filename, "mode", s.Mode)
	}
	if s.QuotaLimit > 0 {
		attrs = append(attrs, "quota", s.QuotaSummary())
	}
	if s.BlockReason != "" {
		attrs = append(attrs, "blocked", s.BlockReason)
	}
	p.logger.Info("request summary", attrs...)
}
