// Package genai provides language-model replies using the OpenAI chat completion API.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/PortfolioChat/internal/models"
)

// DefaultModel is used when no model is configured.
const DefaultModel = openai.ChatModelGPT4oMini

var (
	// ErrNoAPIKey is returned when the client is created without an API key.
	ErrNoAPIKey = errors.New("OpenAI API key not provided")
	// ErrNoChoicesReturned is returned when the API answers without choices.
	ErrNoChoicesReturned = errors.New("no choices returned")
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter adapts the SDK completion service to chatService.
type completionsAdapter struct {
	svc openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int64
	DebugMode   bool
	StateDir    string
}

// Option defines a configuration option for NewClient.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = url
	}
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) {
		o.Temperature = t
	}
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) {
		o.MaxTokens = n
	}
}

// WithDebugMode writes every request and response to <stateDir>/debug.
func WithDebugMode(enabled bool, stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
		o.StateDir = stateDir
	}
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int64
	debugMode   bool
	stateDir    string
}

// NewClient initializes a new GenAI client.
func NewClient(opts ...Option) (*Client, error) {
	o := Opts{Model: DefaultModel, Temperature: 0.7, MaxTokens: 300}
	for _, opt := range opts {
		opt(&o)
	}
	if o.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(o.APIKey)}
	if o.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)

	slog.Debug("GenAI.NewClient: client initialized", "model", o.Model, "debugMode", o.DebugMode)
	return &Client{
		chat:        completionsAdapter{svc: cli.Chat.Completions},
		model:       o.Model,
		temperature: o.Temperature,
		maxTokens:   o.MaxTokens,
		debugMode:   o.DebugMode,
		stateDir:    o.StateDir,
	}, nil
}

// GeneratePrompt generates a response based on the provided system and user prompts.
func (c *Client) GeneratePrompt(systemPrompt, userPrompt string) (string, error) {
	return c.GeneratePromptWithContext(context.Background(), systemPrompt, userPrompt)
}

// GeneratePromptWithContext is GeneratePrompt with cancellation.
func (c *Client) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(userPrompt))
	return c.complete(ctx, "GeneratePromptWithContext", messages)
}

// GenerateWithHistory answers userPrompt with earlier conversation turns as
// context. Placeholders in history are skipped.
func (c *Client) GenerateWithHistory(ctx context.Context, systemPrompt string, history []models.Message, userPrompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	for _, m := range history {
		if m.IsPlaceholder {
			continue
		}
		switch m.Sender {
		case models.SenderUser:
			messages = append(messages, openai.UserMessage(m.Text))
		case models.SenderCounterpart:
			messages = append(messages, openai.AssistantMessage(m.Text))
		}
	}
	messages = append(messages, openai.UserMessage(userPrompt))
	return c.complete(ctx, "GenerateWithHistory", messages)
}

func (c *Client) complete(ctx context.Context, method string, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(c.maxTokens)
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("GenAI.complete: chat completion failed", "method", method, "model", c.model, "error", err)
		c.writeDebugLog(method, params, "", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("GenAI.complete: no choices returned", "method", method, "model", c.model)
		c.writeDebugLog(method, params, "", ErrNoChoicesReturned)
		return "", ErrNoChoicesReturned
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	c.writeDebugLog(method, params, content, nil)
	slog.Debug("GenAI.complete: completion received", "method", method, "model", c.model, "chars", len(content), "elapsed", time.Since(start))
	return content, nil
}

// writeDebugLog persists one request/response pair as JSON when debug mode is on.
func (c *Client) writeDebugLog(method string, params openai.ChatCompletionNewParams, response string, callErr error) {
	if !c.debugMode || c.stateDir == "" {
		return
	}

	debugDir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(debugDir, 0o755); err != nil {
		slog.Warn("GenAI.writeDebugLog: failed to create debug directory", "dir", debugDir, "error", err)
		return
	}

	entry := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"method":    method,
		"model":     c.model,
		"params":    params,
		"response":  response,
	}
	if callErr != nil {
		entry["error"] = callErr.Error()
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("GenAI.writeDebugLog: failed to marshal debug entry", "error", err)
		return
	}

	name := fmt.Sprintf("%s_%d.json", method, time.Now().UnixNano())
	if err := os.WriteFile(filepath.Join(debugDir, name), data, 0o644); err != nil {
		slog.Warn("GenAI.writeDebugLog: failed to write debug file", "file", name, "error", err)
	}
}
