package transcoder

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nguyentantai21042004/voicebrief/internal/logger"
	"github.com/nguyentantai21042004/voicebrief/pkg/executor"
)

type implTranscoder struct {
	binary   string
	bitrate  string
	executor executor.Executor
	logger   logger.Logger
}

// New creates a Transcoder that shells out to ffmpeg.
func New(binary, bitrate string, exec executor.Executor, log logger.Logger) Transcoder {
	return &implTranscoder{
		binary:   binary,
		bitrate:  bitrate,
		executor: exec,
		logger:   log,
	}
}

// NeedsTranscode reports whether the mime type needs normalization.
// WhatsApp voice notes arrive as audio/ogg (opus); anything that is
// not already MP3 goes through ffmpeg.
func (t *implTranscoder) NeedsTranscode(mimeType string) bool {
	// Strip parameters like "; codecs=opus"
	base := mimeType
	if i := strings.Index(base, ";"); i >= 0 {
		base = base[:i]
	}
	base = strings.ToLower(strings.TrimSpace(base))

	switch base {
	case "audio/mpeg", "audio/mp3":
		return false
	default:
		return true
	}
}

// Transcode converts src to mono 16kHz MP3 at dst.
// -vn: audio only
// -ar 16000: 16kHz sample rate
// -ac 1: mono
// -c:a libmp3lame: MP3 encode
// -y: overwrite output if it exists
func (t *implTranscoder) Transcode(ctx context.Context, src, dst string) error {
	t.logger.Info(ctx, "Transcoding to mono/16kHz MP3: %s", src)

	args := buildArgs(src, dst, t.bitrate)

	// Run inside the scratch directory so ffmpeg's own temp files land there too
	if _, err := t.executor.ExecuteInDir(ctx, filepath.Dir(dst), t.binary, args...); err != nil {
		return fmt.Errorf("ffmpeg transcode: %w", err)
	}

	t.logger.Debug(ctx, "Transcode complete: %s", dst)
	return nil
}

func buildArgs(src, dst, bitrate string) []string {
	return []string{
		"-i", src,
		"-vn",
		"-ar", "16000",
		"-ac", "1",
		"-c:a", "libmp3lame",
		"-b:a", bitrate,
		"-y",
		dst,
	}
}
