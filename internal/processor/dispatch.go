package processor

import (
	"context"
	"strings"

	"github.com/nguyentantai21042004/voicebrief/internal/usage"
	"github.com/nguyentantai21042004/voicebrief/internal/whatsapp"
)

// Dispatch walks the nested batch shape and schedules each well-formed
// message. Malformed entries (no sender, empty arrays) are skipped
// without failing the batch.
func (p *implProcessor) Dispatch(ctx context.Context, payload whatsapp.WebhookPayload) {
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.From == "" {
					p.logger.Debug(ctx, "Skipping message without sender")
					continue
				}
				p.spawn(ctx, msg)
			}
		}
	}
}

// spawn runs one message in its own goroutine under the concurrency
// gate and a per-message timeout.
func (p *implProcessor) spawn(ctx context.Context, msg whatsapp.Message) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		if err := p.sem.acquire(ctx); err != nil {
			p.logger.Warn(ctx, "Dropping message from %s: %v", msg.From, err)
			return
		}
		defer p.sem.release()

		msgCtx, cancel := context.WithTimeout(ctx, p.processTimeout)
		defer cancel()

		p.handleMessage(msgCtx, msg)
	}()
}

// Wait blocks until every in-flight message has finished.
func (p *implProcessor) Wait() {
	p.wg.Wait()
}

func (p *implProcessor) handleMessage(ctx context.Context, msg whatsapp.Message) {
	switch msg.Type {
	case "audio":
		if msg.Audio == nil || msg.Audio.ID == "" {
			p.logger.Debug(ctx, "Skipping audio message without media id from %s", msg.From)
			return
		}
		p.handleAudio(ctx, msg)
	case "text":
		body := ""
		if msg.Text != nil {
			body = msg.Text.Body
		}
		p.handleText(ctx, msg.From, body)
	default:
		p.logger.Debug(ctx, "Ignoring message type %q from %s", msg.Type, msg.From)
	}
}

// handleText matches the fixed command vocabulary, case-insensitive,
// with an optional leading slash.
func (p *implProcessor) handleText(ctx context.Context, from, body string) {
	cmd := strings.ToLower(strings.TrimSpace(body))
	cmd = strings.TrimPrefix(cmd, "/")

	switch cmd {
	case "stop":
		if err := p.registry.OptOut(ctx, from); err != nil {
			p.logger.Error(ctx, "Opt-out for %s failed: %v", from, err)
			p.sendBestEffort(ctx, from, replyFailure)
			return
		}
		p.usage.Record(ctx, usage.Event{Kind: usage.KindOptOut, UserID: from})
		p.sendBestEffort(ctx, from, replyOptOutDone)

	case "start":
		if err := p.registry.OptIn(ctx, from); err != nil {
			p.logger.Error(ctx, "Opt-in for %s failed: %v", from, err)
			p.sendBestEffort(ctx, from, replyFailure)
			return
		}
		p.usage.Record(ctx, usage.Event{Kind: usage.KindOptIn, UserID: from})
		p.sendBestEffort(ctx, from, replyOptInDone)

	case "human":
		p.usage.Record(ctx, usage.Event{Kind: usage.KindEscalation, UserID: from})
		p.sendBestEffort(ctx, from, replyEscalation)

	default:
		p.usage.Record(ctx, usage.Event{Kind: usage.KindHelp, UserID: from})
		p.sendBestEffort(ctx, from, replyHelp)
	}
}

// sendBestEffort logs a send failure and moves on. Replies are never
// retried: the user can always resend.
func (p *implProcessor) sendBestEffort(ctx context.Context, to, body string) {
	if err := p.gateway.SendText(ctx, to, body); err != nil {
		p.logger.Error(ctx, "Failed to send reply to %s: %v", to, err)
	}
}
