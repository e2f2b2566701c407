package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/audiogate/audiogate/internal/model"
	"github.com/audiogate/audiogate/internal/store"
)

// StoreSink persists every event individually to the document store.
type StoreSink struct {
	store *store.Store
}

// NewStoreSink creates a sink writing to the given store.
func NewStoreSink(s *store.Store) *StoreSink {
	return &StoreSink{store: s}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Write(ctx context.Context, e Event) error {
	data, err := json.Marshal(e.Fields)
	if err != nil {
		return fmt.Errorf("marshal event fields: %w", err)
	}
	rec := &model.AuditRecord{
		Category:  e.Category,
		RequestID: e.RequestID,
		Data:      string(data),
	}
	return s.store.AppendAuditRecord(ctx, rec)
}

// FileSink appends events to a structured log file, one JSON object per
// line.
type FileSink struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileSink opens (or creates) the log file in append mode.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open audit log file: %w", err)
	}
	return &FileSink{f: f}, nil
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Write(ctx context.Context, e Event) error {
	line, err := json.Marshal(map[string]any{
		"category":  e.Category,
		"data":      e.Fields,
		"timestamp": e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	return s.f.Close()
}

// ConsoleSink renders each event through a structured logger for operators
// tailing the process output.
type ConsoleSink struct {
	logger *slog.Logger
}

// NewConsoleSink creates a sink logging at info level.
func NewConsoleSink(logger *slog.Logger) *ConsoleSink {
	return &ConsoleSink{logger: logger}
}

func (s *ConsoleSink) Name() string { return "console" }

func (s *ConsoleSink) Write(ctx context.Context, e Event) error {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]any, 0, 2+len(keys)*2)
	attrs = append(attrs, "category", e.Category)
	for _, k := range keys {
		attrs = append(attrs, k, e.Fields[k])
	}
	s.logger.Info("audit", attrs...)
	return nil
}
