package processor

import (
	"context"

	"github.com/nguyentantai21042004/voicebrief/internal/whatsapp"
)

// Processor fans inbound webhook batches out into independent
// per-message tasks.
type Processor interface {
	// Dispatch schedules every well-formed message in the payload for
	// background processing and returns immediately. One message's
	// failure never affects another.
	Dispatch(ctx context.Context, payload whatsapp.WebhookPayload)
	// Wait blocks until all in-flight messages finish. Used on shutdown.
	Wait()
}
