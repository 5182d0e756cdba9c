package summarizer

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"
)

const summaryPrompt = `You are summarizing a voice message for the person who received it. Listen to the audio and write a concise summary of what the sender says.

Requirements:
- Lead with the main point in one sentence
- Keep any names, dates, amounts, and phone numbers exactly as spoken
- Use short bullet points for additional details, only if there are several
- Reply in the same language the message is spoken in
- Plain text only, no markdown
- If the audio contains no intelligible speech, reply with exactly: NO_SPEECH`

// inlineLimitBytes is the Gemini inline-request ceiling. At or below
// it the audio goes base64-inline in a single call; above it the file
// must go through the resumable Files API first. Hard external
// constraint, not tunable.
const inlineLimitBytes = 20 << 20

// filePollInterval paces the wait for an uploaded file to become ACTIVE.
const filePollInterval = 2 * time.Second

// useInline decides the submission path for a payload of the given size.
func useInline(size int64) bool {
	return size <= inlineLimitBytes
}

// Summarize submits the audio at path and returns the summary text.
// Rotates API keys on 429 / quota errors.
func (s *implSummarizer) Summarize(ctx context.Context, path, mimeType string, size int64) (string, error) {
	if len(s.apiKeys) == 0 {
		return "", fmt.Errorf("no Gemini API keys configured")
	}

	attempts := len(s.apiKeys)
	var lastErr error

	for range attempts {
		keyIdx, key := s.activeKey()

		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  key,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			lastErr = fmt.Errorf("create client: %w", err)
			s.rotateKey()
			continue
		}

		text, err := s.generate(ctx, client, path, mimeType, size)
		if err != nil {
			if isQuotaError(err) {
				s.logger.Warn(ctx, "Key %d rate limited, rotating...", keyIdx+1)
				s.rotateKey()
				lastErr = err
				continue
			}
			return "", err
		}

		return text, nil
	}

	return "", fmt.Errorf("all API keys exhausted: %w", lastErr)
}

// generate performs one submission attempt with one client.
func (s *implSummarizer) generate(ctx context.Context, client *genai.Client, path, mimeType string, size int64) (string, error) {
	var audioPart *genai.Part

	if useInline(size) {
		s.logger.Debug(ctx, "Submitting inline (%d bytes)", size)
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read audio file: %w", err)
		}
		audioPart = genai.NewPartFromBytes(data, mimeType)
	} else {
		s.logger.Info(ctx, "Payload %d bytes exceeds inline limit, using resumable upload", size)
		uploaded, err := s.upload(ctx, client, path, mimeType)
		if err != nil {
			return "", err
		}
		audioPart = genai.NewPartFromURI(uploaded.URI, uploaded.MIMEType)
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			audioPart,
			genai.NewPartFromText(summaryPrompt),
		}, genai.RoleUser),
	}

	result, err := client.Models.GenerateContent(ctx, s.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	return extractText(result)
}

// upload pushes the file through the Files API (initiate + upload +
// finalize happen inside the SDK) and waits until it is ACTIVE.
func (s *implSummarizer) upload(ctx context.Context, client *genai.Client, path, mimeType string) (*genai.File, error) {
	file, err := client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{
		MIMEType: mimeType,
	})
	if err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}

	for file.State == genai.FileStateProcessing {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(filePollInterval):
		}

		file, err = client.Files.Get(ctx, file.Name, nil)
		if err != nil {
			return nil, fmt.Errorf("poll uploaded file: %w", err)
		}
	}

	if file.State != genai.FileStateActive {
		return nil, fmt.Errorf("uploaded file in state %s", file.State)
	}

	return file, nil
}

// extractText walks the first candidate's parts. An empty result is
// ErrNoSummary, not a failure.
func extractText(result *genai.GenerateContentResponse) (string, error) {
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", ErrNoSummary
	}

	var text string
	for _, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
	}

	text = strings.TrimSpace(text)
	if text == "" || text == "NO_SPEECH" {
		return "", ErrNoSummary
	}
	return text, nil
}

func isQuotaError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED")
}

// activeKey reads the current key under the lock.
func (s *implSummarizer) activeKey() (int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentKey, s.apiKeys[s.currentKey]
}

func (s *implSummarizer) rotateKey() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentKey = (s.currentKey + 1) % len(s.apiKeys)
}
