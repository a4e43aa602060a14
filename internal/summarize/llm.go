package summarize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	defaultEndpoint = "https://api.openai.com/v1/chat/completions"
	DefaultModel    = "gpt-3.5-turbo"
	httpTimeout     = 30 * time.Second
	systemPrompt    = "You are a helpful assistant that summarizes text."
	temperature     = 0.3
	maxTokens       = 100
)

// LLM sends post text to an OpenAI-compatible API for summarization.
// Falls back to the provided summarizer on any error.
type LLM struct {
	apiKey   string
	model    string
	endpoint string
	maxWords int
	fallback Summarizer
	client   *http.Client
}

// NewLLM creates an LLM summarizer. Empty model and endpoint select the
// OpenAI defaults.
func NewLLM(apiKey, model, endpoint string, fallback Summarizer) *LLM {
	if model == "" {
		model = DefaultModel
	}
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &LLM{
		apiKey:   apiKey,
		model:    model,
		endpoint: endpoint,
		maxWords: DefaultMaxWords,
		fallback: fallback,
		client:   &http.Client{Timeout: httpTimeout},
	}
}

// Summarize calls the API and returns its reply. Links are extracted from
// the source text since the model returns prose only.
func (l *LLM) Summarize(ctx context.Context, text string) Summary {
	out, err := l.callAPI(ctx, text)
	if err == nil && out == "" {
		err = errors.New("empty summary")
	}
	if err != nil {
		logger().Warn().Err(err).Msg("llm summarize failed, using fallback")
		return l.fallback.Summarize(ctx, text)
	}
	return Summary{
		Text:   out,
		Links:  urlRe.FindAllString(text, -1),
		Method: MethodLLM,
	}
}

func (l *LLM) callAPI(ctx context.Context, text string) (string, error) {
	if l.apiKey == "" {
		return "", errors.New("api key not set")
	}

	reqBody := chatRequest{
		Model: l.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Summarize the following text in %d words or less:\n\n%s", l.maxWords, text)},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("api returned status %d", resp.StatusCode)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return "", errors.New("empty choices in response")
	}

	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}
