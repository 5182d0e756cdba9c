package transcoder

import "context"

// Transcoder normalizes arbitrary audio into the canonical encoding
// the summarization service handles best (mono, 16kHz, MP3).
type Transcoder interface {
	NeedsTranscode(mimeType string) bool
	Transcode(ctx context.Context, src, dst string) error
}
