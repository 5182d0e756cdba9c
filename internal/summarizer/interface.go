package summarizer

import (
	"context"
	"errors"
)

// ErrNoSummary means the model responded but produced no usable text.
// Callers send the fallback reply instead of treating this as a crash.
var ErrNoSummary = errors.New("no summary text in response")

// Summarizer turns an audio file into a short text summary.
type Summarizer interface {
	Summarize(ctx context.Context, path, mimeType string, size int64) (string, error)
}
