package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/alxdofficial/openclaw-memoriesai/internal/config"
)

// chatPath distinguishes the three HTTP-shaped backend variants; each talks
// an OpenAI-compatible chat-completions wire format (an ordinary multimodal
// chat request with base64 image parts); local and openai share the
// chat-completions path, while hosted uses its own endpoint.
type chatPath string

const (
	localChatPath  chatPath = "/v1/chat/completions"
	openaiChatPath chatPath = "/v1/chat/completions"
	hostedChatPath chatPath = "/v1/vision/evaluate"
)

// httpBackend implements Backend against an OpenAI-compatible chat
// completions endpoint, using the standard library's net/http (see
// DESIGN.md for why no ecosystem HTTP client was adopted instead).
type httpBackend struct {
	cfg    config.VisionConfig
	path   chatPath
	client *http.Client
}

func newHTTPBackend(cfg config.VisionConfig, path chatPath) *httpBackend {
	return &httpBackend{
		cfg:    cfg,
		path:   path,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *chatImageInURL `json:"image_url,omitempty"`
}

type chatImageInURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string             `json:"role"`
	Content []chatContentPart `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

func (b *httpBackend) Evaluate(ctx context.Context, prompt string, images [][]byte) (string, error) {
	parts := []chatContentPart{{Type: "text", Text: prompt}}
	for _, img := range images {
		parts = append(parts, chatContentPart{
			Type: "image_url",
			ImageURL: &chatImageInURL{
				URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img),
			},
		})
	}

	reqBody := chatRequest{
		Model:    b.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: parts}},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling vision request: %w", err)
	}

	url := b.cfg.Endpoint + string(b.path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building vision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := os.Getenv(b.cfg.APIKeyEnv); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("vision request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("reading vision response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vision backend returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decoding vision response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("vision backend returned no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}

func (b *httpBackend) Health(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.Endpoint+"/health", nil)
	if err != nil {
		return Health{OK: false, Details: map[string]string{"error": err.Error()}}
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return Health{OK: false, Details: map[string]string{"error": err.Error()}}
	}
	defer resp.Body.Close()

	return Health{
		OK:      resp.StatusCode == http.StatusOK,
		Details: map[string]string{"status": resp.Status},
	}
}
