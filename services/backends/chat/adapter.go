package chat

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/models"
	"github.com/taskpilot/taskpilot/services/backends"
)

const defaultTimeout = 2 * time.Minute

// Config holds the connection settings for one OpenAI-compatible endpoint.
// Both the premium reasoning backend and the fast inference backend are
// instances of this adapter pointed at different base URLs.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Adapter executes tasks against an OpenAI-compatible chat completion API
type Adapter struct {
	spec   models.BackendSpec
	config Config
	client *openai.Client
	logger *zap.Logger
}

// NewAdapter creates a chat adapter for the given backend spec
func NewAdapter(spec models.BackendSpec, config Config, logger *zap.Logger) *Adapter {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	clientCfg := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientCfg.BaseURL = config.BaseURL
	}

	return &Adapter{
		spec:   spec,
		config: config,
		client: openai.NewClientWithConfig(clientCfg),
		logger: logger,
	}
}

// ID returns the registry identifier this adapter serves
func (a *Adapter) ID() string {
	return a.spec.ID
}

// IsAvailable reports whether the adapter is configured to take work. The
// endpoint itself is only probed by actual execution; a missing API key is
// the one local condition that makes the backend unusable.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	return a.config.APIKey != ""
}

// Execute runs one task as a chat completion
func (a *Adapter) Execute(ctx context.Context, req *backends.ExecuteRequest) (*backends.ExecuteResult, error) {
	if a.config.APIKey == "" {
		return nil, backends.NewBackendError(a.spec.ID, "not_configured", "API key not configured", 0, false, nil)
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = a.config.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.config.Model,
		Messages:    buildMessages(req),
		Temperature: a.config.Temperature,
		MaxTokens:   a.config.MaxTokens,
	})
	if err != nil {
		return nil, a.mapError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, backends.NewBackendError(a.spec.ID, "empty_response", "no completion choices returned", 0, true, nil)
	}

	latency := time.Since(start)
	result := &backends.ExecuteResult{
		Backend:          a.spec.ID,
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		CostUSD:          a.cost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		Latency:          latency,
	}

	a.logger.Debug("chat completion finished",
		zap.String("backend", a.spec.ID),
		zap.String("task_id", req.TaskID),
		zap.Int("total_tokens", result.TotalTokens()),
		zap.Duration("latency", latency))

	return result, nil
}

// cost converts token usage into USD using the spec's per-1K rates
func (a *Adapter) cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1000*a.spec.InputCostPer1K +
		float64(completionTokens)/1000*a.spec.OutputCostPer1K
}

func (a *Adapter) mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return backends.NewRateLimitError(a.spec.ID, apiErr.Message, apiErr.HTTPStatusCode, err)
		}
		retryable := apiErr.HTTPStatusCode >= 500
		return backends.NewBackendError(a.spec.ID, "api_error", apiErr.Message, apiErr.HTTPStatusCode, retryable, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return backends.NewBackendError(a.spec.ID, "timeout", "chat completion timed out", 0, true, err)
	}
	if errors.Is(err, context.Canceled) {
		return backends.NewBackendError(a.spec.ID, "canceled", "chat completion canceled", 0, false, err)
	}

	return backends.NewBackendError(a.spec.ID, "http_error", "chat completion failed", 0, true, err)
}

// buildMessages assembles the system and user messages for a task
func buildMessages(req *backends.ExecuteRequest) []openai.ChatCompletionMessage {
	msgs := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt(req.Mode),
		},
	}

	content := req.Description
	if req.WorkingContext != "" {
		var sb strings.Builder
		sb.WriteString(req.Description)
		sb.WriteString("\n\nContext:\n")
		sb.WriteString(req.WorkingContext)
		content = sb.String()
	}

	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: content,
	})
	return msgs
}

func systemPrompt(mode models.TaskMode) string {
	switch mode {
	case models.ModeCode:
		return "You are a senior software engineer. Produce complete, working code with no placeholders. Explain only what the code does not make obvious."
	case models.ModeAgent:
		return "You are an autonomous task agent. Work through the task step by step and return the finished artifacts, not a plan."
	default:
		return "You are a precise assistant. Answer the task directly and concisely."
	}
}
