package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// maxErrorBody bounds how much of an upstream error response we keep.
const maxErrorBody = 512

// SendText sends a plain text message to a recipient.
func (g *implGateway) SendText(ctx context.Context, to, body string) error {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": body},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal send-text payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", g.apiBase, g.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build send-text request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send text to %s: %w", to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("send text to %s: status %d: %s", to, resp.StatusCode, readErrorBody(resp.Body))
	}

	g.logger.Debug(ctx, "Sent text to %s (%d chars)", to, len(body))
	return nil
}

// GetMedia fetches download URL, mime type and size for a media id.
func (g *implGateway) GetMedia(ctx context.Context, mediaID string) (Media, error) {
	url := fmt.Sprintf("%s/%s", g.apiBase, mediaID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Media{}, fmt.Errorf("build media request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.accessToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return Media{}, fmt.Errorf("fetch media %s: %w", mediaID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Media{}, fmt.Errorf("fetch media %s: status %d: %s", mediaID, resp.StatusCode, readErrorBody(resp.Body))
	}

	var media Media
	if err := json.NewDecoder(resp.Body).Decode(&media); err != nil {
		return Media{}, fmt.Errorf("decode media %s: %w", mediaID, err)
	}
	if media.URL == "" {
		return Media{}, fmt.Errorf("media %s has no download url", mediaID)
	}

	return media, nil
}

// Download streams the media URL to dst with bearer auth. The URL the
// platform hands out only works with the same token.
func (g *implGateway) Download(ctx context.Context, url, dst string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.accessToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("download media: status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	f, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create download file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return n, fmt.Errorf("write download file: %w", err)
	}
	return n, nil
}

func readErrorBody(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(body))
}
