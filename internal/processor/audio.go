package processor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nguyentantai21042004/voicebrief/internal/summarizer"
	"github.com/nguyentantai21042004/voicebrief/internal/usage"
	"github.com/nguyentantai21042004/voicebrief/internal/whatsapp"
)

// handleAudio runs the full voice-note pipeline for one message:
// opt-out gate, admission gate, fetch, download, transcode, summarize,
// reply, audit. Every failure converges on fail().
func (p *implProcessor) handleAudio(ctx context.Context, msg whatsapp.Message) {
	from := msg.From
	mediaID := msg.Audio.ID

	// Opted-out users are dropped before any external call
	if p.registry.IsOptedOut(ctx, from) {
		p.logger.Debug(ctx, "Dropping audio from opted-out user %s", from)
		return
	}

	decision := p.admission.TryAdmit(from, time.Now())
	if !decision.Admitted {
		p.logger.Info(ctx, "Rate limited %s, retry in %v", from, decision.RetryAfter)
		p.sendBestEffort(ctx, from, replyWait(int(math.Ceil(decision.RetryAfter.Seconds()))))
		p.usage.Record(ctx, usage.Event{Kind: usage.KindRateLimited, UserID: from, MediaID: mediaID})
		return
	}
	defer func() { p.admission.Complete(from, time.Now()) }()

	scratch, err := os.MkdirTemp(p.tempRoot, "note-*")
	if err != nil {
		p.fail(ctx, from, mediaID, fmt.Errorf("create scratch dir: %w", err))
		return
	}
	defer os.RemoveAll(scratch)

	summary, err := p.produceSummary(ctx, scratch, mediaID)
	if errors.Is(err, summarizer.ErrNoSummary) {
		p.sendBestEffort(ctx, from, replyNoSpeech)
		p.usage.Record(ctx, usage.Event{
			Kind:    usage.KindSummaryFailed,
			UserID:  from,
			MediaID: mediaID,
			Success: usage.Bool(false),
			Error:   "no summary text",
		})
		return
	}
	if err != nil {
		p.fail(ctx, from, mediaID, err)
		return
	}

	if err := p.gateway.SendText(ctx, from, summaryReply(summary)); err != nil {
		p.fail(ctx, from, mediaID, fmt.Errorf("send summary: %w", err))
		return
	}

	p.usage.Record(ctx, usage.Event{
		Kind:    usage.KindSummarySent,
		UserID:  from,
		MediaID: mediaID,
		Success: usage.Bool(true),
	})
	p.logger.Info(ctx, "Summarized voice note %s for %s", mediaID, from)
}

// produceSummary covers the external stages: metadata, download,
// transcode, summarize.
func (p *implProcessor) produceSummary(ctx context.Context, scratch, mediaID string) (string, error) {
	media, err := p.gateway.GetMedia(ctx, mediaID)
	if err != nil {
		return "", fmt.Errorf("fetch media metadata: %w", err)
	}

	srcPath := filepath.Join(scratch, "source"+extForMime(media.MimeType))
	written, err := p.gateway.Download(ctx, media.URL, srcPath)
	if err != nil {
		return "", fmt.Errorf("download media: %w", err)
	}

	size := media.FileSize
	if size == 0 {
		size = written
	}
	path, mime := srcPath, media.MimeType

	if p.transcoder.NeedsTranscode(mime) {
		dst := filepath.Join(scratch, "normalized.mp3")
		if err := p.transcoder.Transcode(ctx, srcPath, dst); err != nil {
			return "", fmt.Errorf("transcode: %w", err)
		}
		info, err := os.Stat(dst)
		if err != nil {
			return "", fmt.Errorf("stat transcoded file: %w", err)
		}
		path, mime, size = dst, "audio/mpeg", info.Size()
	}

	return p.summarizer.Summarize(ctx, path, mime, size)
}

// fail is the single convergence point for pipeline errors: log, tell
// the user (best effort), audit.
func (p *implProcessor) fail(ctx context.Context, from, mediaID string, err error) {
	p.logger.Error(ctx, "Pipeline failed for %s (media %s): %v", from, mediaID, err)
	p.sendBestEffort(ctx, from, replyFailure)
	p.usage.Record(ctx, usage.Event{
		Kind:    usage.KindSummaryFailed,
		UserID:  from,
		MediaID: mediaID,
		Success: usage.Bool(false),
		Error:   err.Error(),
	})
}

func extForMime(mimeType string) string {
	base := mimeType
	if i := strings.Index(base, ";"); i >= 0 {
		base = base[:i]
	}
	switch strings.ToLower(strings.TrimSpace(base)) {
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4":
		return ".m4a"
	case "audio/aac":
		return ".aac"
	case "audio/amr":
		return ".amr"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	default:
		return ".bin"
	}
}
