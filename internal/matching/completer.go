package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"jobmate/pipeline/internal/model"
)

// ErrCompletion wraps every failure of the completion service: transport,
// auth, timeout or an unusable response. Callers fall back to the heuristic.
var ErrCompletion = errors.New("completion service failure")

// Summary is the compact view of a posting sent for scoring.
type Summary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Company     string `json:"company"`
	Description string `json:"description"`
	Location    string `json:"location,omitempty"`
	Salary      string `json:"salary,omitempty"`
}

// Score is the service's verdict on one posting.
type Score struct {
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

// Completer scores a batch of postings against preferences in one call.
// The result is keyed by Summary.ID; missing ids are allowed.
type Completer interface {
	Complete(ctx context.Context, prefs model.Preferences, batch []Summary) (map[string]Score, error)
}

const summaryDescriptionRunes = 500

func summarize(p model.Posting) Summary {
	s := Summary{
		ID:          p.ID,
		Title:       p.Title,
		Company:     p.Company,
		Description: p.Description,
		Location:    p.Location,
	}
	if r := []rune(s.Description); len(r) > summaryDescriptionRunes {
		s.Description = string(r[:summaryDescriptionRunes])
	}
	if p.Salary != nil {
		s.Salary = *p.Salary
	}
	return s
}

// chatClient is the part of *openai.Client the completer calls.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAICompleter scores batches with a JSON-mode chat completion.
type OpenAICompleter struct {
	client  chatClient
	model   string
	timeout time.Duration
}

// OpenAIConfig configures the completion client.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string // optional, for OpenAI-compatible gateways
	Timeout time.Duration
}

func NewOpenAICompleter(cfg OpenAIConfig) *OpenAICompleter {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return newOpenAICompleter(openai.NewClientWithConfig(oc), cfg.Model, cfg.Timeout)
}

func newOpenAICompleter(c chatClient, model string, timeout time.Duration) *OpenAICompleter {
	if model == "" {
		model = openai.GPT4oMini
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAICompleter{client: c, model: model, timeout: timeout}
}

const systemPrompt = `You are a recruiting assistant. Score how well each job posting fits the candidate's preferences.
Answer with a single JSON object keyed by posting id:
{"<id>": {"score": <number between 0 and 1>, "reasons": ["<short reason>", ...]}}
Include every posting id you were given. Reasons are at most three short phrases.`

// Complete implements Completer.
func (c *OpenAICompleter) Complete(ctx context.Context, prefs model.Preferences, batch []Summary) (map[string]Score, error) {
	payload, err := json.Marshal(struct {
		Preferences model.Preferences `json:"preferences"`
		Postings    []Summary         `json:"postings"`
	}{prefs, batch})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrCompletion, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(payload)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompletion, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrCompletion)
	}
	return parseScores(resp.Choices[0].Message.Content)
}

func parseScores(content string) (map[string]Score, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimSuffix(strings.TrimPrefix(content, "```"), "```")

	var raw map[string]Score
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrCompletion, err)
	}
	for id, s := range raw {
		s.Score = clamp01(s.Score)
		if s.Reasons == nil {
			s.Reasons = []string{}
		}
		raw[id] = s
	}
	return raw, nil
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// Unavailable is the Completer used when no completion service is
// configured. Every call fails, so matching runs on the heuristic alone.
type Unavailable struct{}

func (Unavailable) Complete(context.Context, model.Preferences, []Summary) (map[string]Score, error) {
	return nil, fmt.Errorf("%w: not configured", ErrCompletion)
}
