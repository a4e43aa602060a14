package classify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/ppiankov/surfwatch/internal/logging"
	"github.com/ppiankov/surfwatch/internal/source"
)

const (
	defaultEndpoint = "https://api.openai.com/v1/chat/completions"
	DefaultModel    = "gpt-4"
	httpTimeout     = 30 * time.Second
	systemPrompt    = "You are a helpful assistant that analyzes and classifies community posts."
	temperature     = 0.1
	maxTokens       = 100
)

// LLM sends posts to an OpenAI-compatible chat API for classification.
// Falls back to the provided classifier on any error.
type LLM struct {
	apiKey   string
	model    string
	endpoint string
	fallback Classifier
	client   *http.Client
	now      func() time.Time
}

// NewLLM creates an LLM classifier. An empty endpoint selects the OpenAI API.
func NewLLM(apiKey, model, endpoint string, fallback Classifier) *LLM {
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
		fallback: fallback,
		client:   &http.Client{Timeout: httpTimeout},
		now:      time.Now,
	}
}

func (l *LLM) Classify(ctx context.Context, p source.Post) Result {
	labels, err := l.callAPI(ctx, p)
	if err != nil {
		logger().Warn().Err(err).Str("post", p.Key()).Msg("llm classify failed, using fallback")
		return l.fallback.Classify(ctx, p)
	}
	return record(Result{
		Labels:     labels,
		Method:     MethodLLM,
		Classified: l.now().UTC(),
	})
}

func (l *LLM) callAPI(ctx context.Context, p source.Post) ([]string, error) {
	if l.apiKey == "" {
		return nil, errors.New("api key not set")
	}

	reqBody := chatRequest{
		Model: l.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(p.Title, p.Content)},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api returned status %d", resp.StatusCode)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, errors.New("empty choices in response")
	}

	return parseLabels(chatResp.Choices[0].Message.Content), nil
}

func buildPrompt(title, content string) string {
	var b strings.Builder
	b.WriteString("Classify the following post into one or more of these categories:\n\n")
	b.WriteString("- positive_feedback: positive feedback about the product\n")
	b.WriteString("- frustration: frustration or negative sentiment\n")
	b.WriteString("- bug_report: describes a bug or technical issue\n")
	b.WriteString("- feature_suggestion: suggests a new feature or improvement\n")
	b.WriteString("- trending_topic: discusses a trending topic in the community\n")
	b.WriteString("- question: asks for help or information\n")
	b.WriteString("- neutral: none of the above\n\n")
	fmt.Fprintf(&b, "Post title: %s\n\nPost content: %s\n\n", title, content)
	b.WriteString(`Respond with a JSON array of category strings, most relevant first. Example: ["bug_report", "frustration"]`)
	return b.String()
}

// parseLabels extracts the outermost JSON array from an LLM reply.
// Unparseable replies yield neutral.
func parseLabels(content string) []string {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return []string{Neutral}
	}
	var labels []string
	if err := json.Unmarshal([]byte(content[start:end+1]), &labels); err != nil {
		return []string{Neutral}
	}
	return filterKnown(labels)
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

func logger() *zerolog.Logger { return logging.Component("classify") }
