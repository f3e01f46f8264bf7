// Package remote talks to the upload/transcription server.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"

	"upload-ai/internal/domain"
)

const errorBodyLimit = 4096

// UploadError is returned when the audio upload fails or its response
// carries no video id.
type UploadError struct {
	StatusCode int
	Body       string
	Err        error
}

// Error formats upload failures for logs and UI.
func (e *UploadError) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("upload audio: server returned %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("upload audio: %v", e.Err)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *UploadError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TranscriptionRequestError is returned when the server rejects or cannot
// be reached for a transcription request.
type TranscriptionRequestError struct {
	VideoID    string
	StatusCode int
	Body       string
	Err        error
}

// Error formats transcription request failures for logs and UI.
func (e *TranscriptionRequestError) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("request transcription for %s: server returned %d: %s", e.VideoID, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("request transcription for %s: %v", e.VideoID, e.Err)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *TranscriptionRequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Client is an HTTP client for the upload-ai server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client rooted at baseURL. A zero timeout means no limit.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the server root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type uploadResponse struct {
	Video struct {
		ID string `json:"id"`
	} `json:"video"`
}

// UploadAudio posts the artifact as multipart field "file" and returns the
// server-assigned video id.
func (c *Client) UploadAudio(ctx context.Context, audio domain.AudioArtifact) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	name := audio.Name
	if name == "" {
		name = "audio.mp3"
	}
	mediaType := audio.MediaType
	if mediaType == "" {
		mediaType = domain.AudioMediaType
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(name)))
	header.Set("Content-Type", mediaType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", &UploadError{Err: fmt.Errorf("create form file: %w", err)}
	}
	if _, err := part.Write(audio.Data); err != nil {
		return "", &UploadError{Err: fmt.Errorf("copy audio data: %w", err)}
	}
	if err := writer.Close(); err != nil {
		return "", &UploadError{Err: fmt.Errorf("close multipart body: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/videos", &buf)
	if err != nil {
		return "", &UploadError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	log.Printf("[remote] uploading %s (%d bytes) to %s", name, len(audio.Data), req.URL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &UploadError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &UploadError{Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &UploadError{StatusCode: resp.StatusCode, Body: truncate(body)}
	}

	var decoded uploadResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", &UploadError{Err: fmt.Errorf("decode response: %w", err)}
	}
	id := strings.TrimSpace(decoded.Video.ID)
	if id == "" {
		return "", &UploadError{Err: fmt.Errorf("response has no video id")}
	}

	log.Printf("[remote] upload accepted, video id=%s", id)
	return id, nil
}

// RequestTranscription asks the server to transcribe videoID with prompt.
// The response body is ignored.
func (c *Client) RequestTranscription(ctx context.Context, videoID, prompt string) error {
	payload, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return &TranscriptionRequestError{VideoID: videoID, Err: err}
	}

	endpoint := c.baseURL + "/videos/" + url.PathEscape(videoID) + "/transcription"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return &TranscriptionRequestError{VideoID: videoID, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	log.Printf("[remote] requesting transcription for %s", videoID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TranscriptionRequestError{VideoID: videoID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return &TranscriptionRequestError{VideoID: videoID, StatusCode: resp.StatusCode, Body: string(body)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// ListPrompts fetches the server's prompt suggestions.
func (c *Client) ListPrompts(ctx context.Context) ([]domain.Prompt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/prompts", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, fmt.Errorf("list prompts: server returned %d: %s", resp.StatusCode, string(body))
	}

	var prompts []domain.Prompt
	if err := json.NewDecoder(resp.Body).Decode(&prompts); err != nil {
		return nil, fmt.Errorf("decode prompts: %w", err)
	}
	return prompts, nil
}

// FindPrompt returns the prompt with id from prompts.
func FindPrompt(prompts []domain.Prompt, id string) (domain.Prompt, bool) {
	return lo.Find(prompts, func(p domain.Prompt) bool {
		return p.ID == id
	})
}

func truncate(body []byte) string {
	if len(body) > errorBodyLimit {
		body = body[:errorBodyLimit]
	}
	return string(body)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
