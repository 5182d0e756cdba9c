package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nguyentantai21042004/voicebrief/internal/logger"
)

// Event kinds written to the audit log.
const (
	KindSummarySent   = "summary_sent"
	KindSummaryFailed = "summary_failed"
	KindRateLimited   = "rate_limited"
	KindOptOut        = "opt_out"
	KindOptIn         = "opt_in"
	KindEscalation    = "escalation"
	KindHelp          = "help"
)

// Event is one immutable audit record. Written once, never read back
// by the process.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	UserID    string    `json:"user_id"`
	MediaID   string    `json:"media_id,omitempty"`
	Success   *bool     `json:"success,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Recorder appends audit events somewhere durable.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

type implRecorder struct {
	mu     sync.Mutex
	path   string
	logger logger.Logger
}

// New creates a Recorder that appends newline-delimited JSON to path.
func New(path string, log logger.Logger) Recorder {
	return &implRecorder{
		path:   path,
		logger: log,
	}
}

// Record appends one event as a single JSON line. Audit writes are
// best-effort: a failure is logged and never fails the pipeline that
// produced the event.
func (r *implRecorder) Record(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error(ctx, "Failed to marshal usage event: %v", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.append(line); err != nil {
		r.logger.Error(ctx, "Failed to record usage event %s/%s: %v", ev.Kind, ev.UserID, err)
	}
}

func (r *implRecorder) append(line []byte) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open usage log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append usage event: %w", err)
	}
	return nil
}

// Bool is a convenience for the Success field.
func Bool(v bool) *bool { return &v }
