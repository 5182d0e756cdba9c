package whatsapp

import "context"

// Media is the metadata the platform returns for an uploaded media id.
type Media struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

// Gateway wraps the WhatsApp Cloud API operations the relay needs:
// sending text and fetching user-uploaded media.
type Gateway interface {
	SendText(ctx context.Context, to, body string) error
	GetMedia(ctx context.Context, mediaID string) (Media, error)
	Download(ctx context.Context, url, dst string) (int64, error)
}
