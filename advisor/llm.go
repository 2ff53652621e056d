package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const defaultAdviceTimeout = 30 * time.Second

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// AdviceClient talks to an OpenAI-compatible chat-completions endpoint to
// produce the short daily focus note attached to morning announcements.
// It is fully optional: without an API key every call degrades to the
// fallback text and never blocks task generation.
type AdviceClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewAdviceClient() *AdviceClient {
	model := os.Getenv("ADVICE_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}
	baseURL := os.Getenv("ADVICE_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &AdviceClient{
		apiKey:  os.Getenv("ADVICE_API_KEY"),
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultAdviceTimeout},
	}
}

func (a *AdviceClient) Enabled() bool {
	return a != nil && a.apiKey != ""
}

func (a *AdviceClient) complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	if !a.Enabled() {
		return "", fmt.Errorf("advice client disabled: ADVICE_API_KEY not set")
	}
	reqBody := chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.4,
		MaxTokens:   maxTokens,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("advice API error: status %d, body: %s", resp.StatusCode, string(body))
	}
	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return parsed.Choices[0].Message.Content, nil
}

// DailyFocus asks for a 1-2 line priority suggestion for today's chores.
func (a *AdviceClient) DailyFocus(ctx context.Context, summary string) (string, error) {
	return a.complete(ctx,
		"You are a household assistant. Name one or two chore priorities for today, briefly.",
		summary, 200)
}

// Healthcheck pings the endpoint with a minimal request and maps failures to
// short status strings for the admin surface.
func (a *AdviceClient) Healthcheck(ctx context.Context) string {
	if a == nil || a.apiKey == "" {
		return "error: MissingAPIKey"
	}
	out, err := a.complete(ctx, "You are a healthcheck.", "echo ok", 4)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	if out == "" {
		return "error: EmptyResponse"
	}
	return "ok"
}
