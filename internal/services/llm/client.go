package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultTimeout = 60 * time.Second
)

// Config captures the runtime settings required to talk to the LLM.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// Client issues chat completions against an OpenAI-compatible endpoint.
// Every method makes exactly one provider request; retries belong to the
// gateway so each attempt is charged against the budget.
type Client struct {
	api    openai.Client
	model  string
	hasKey bool
	extra  []option.RequestOption
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient routes requests through client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.extra = append(c.extra, option.WithHTTPClient(client))
		}
	}
}

// NewClient constructs a client. A BaseURL ending in /chat/completions is
// accepted and trimmed to the API root.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		model:  strings.TrimSpace(cfg.Model),
		hasKey: strings.TrimSpace(cfg.APIKey) != "",
	}
	for _, opt := range opts {
		opt(c)
	}

	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	base = strings.TrimSuffix(base, "/chat/completions")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	requestOpts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithBaseURL(base + "/"),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}
	if ref := strings.TrimSpace(cfg.Referer); ref != "" {
		requestOpts = append(requestOpts, option.WithHeader("HTTP-Referer", ref))
	}
	if title := strings.TrimSpace(cfg.Title); title != "" {
		requestOpts = append(requestOpts, option.WithHeader("X-Title", title))
	}
	c.api = openai.NewClient(append(requestOpts, c.extra...)...)
	return c
}

// Model reports the configured model name.
func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

// Complete returns a free-text reply.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params, err := c.params("llm complete", systemPrompt, userPrompt)
	if err != nil {
		return "", err
	}
	params.Temperature = openai.Float(0.2)
	return c.complete(ctx, params, "llm complete")
}

// CompleteJSON asks for a JSON object reply and returns it unparsed.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params, err := c.params("llm complete json", systemPrompt, userPrompt)
	if err != nil {
		return "", err
	}
	params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
	}
	return c.complete(ctx, params, "llm complete json")
}

// CompleteJSONInto runs CompleteJSON and decodes the reply into target.
func (c *Client) CompleteJSONInto(ctx context.Context, systemPrompt, userPrompt string, target any) error {
	raw, err := c.CompleteJSON(ctx, systemPrompt, userPrompt)
	if err != nil {
		return err
	}
	if err := DecodeLLMJSON(raw, target); err != nil {
		return fmt.Errorf("llm complete json: parse payload: %w", err)
	}
	return nil
}

// HealthCheck lists the provider's models and confirms the configured one is
// offered. It runs no inference, so it costs no budget.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.hasKey {
		return errors.New("llm health: api key required")
	}
	page, err := c.api.Models.List(ctx)
	if err != nil {
		return fmt.Errorf("llm health: %w", classifyError(err))
	}
	if c.model == "" {
		return nil
	}
	for _, model := range page.Data {
		if model.ID == c.model {
			return nil
		}
	}
	return fmt.Errorf("llm health: model %q not listed by provider", c.model)
}

func (c *Client) complete(ctx context.Context, params openai.ChatCompletionNewParams, op string) (string, error) {
	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classifyError(err)
	}
	empty := &emptyReplyError{op: op}
	for _, choice := range resp.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content, nil
		}
		if empty.finishReason == "" {
			empty.finishReason = string(choice.FinishReason)
		}
		if empty.refusal == "" {
			empty.refusal = strings.TrimSpace(choice.Message.Refusal)
		}
	}
	return "", empty
}

func (c *Client) params(op, systemPrompt, userPrompt string) (openai.ChatCompletionNewParams, error) {
	systemPrompt = strings.TrimSpace(systemPrompt)
	userPrompt = strings.TrimSpace(userPrompt)
	switch {
	case !c.hasKey:
		return openai.ChatCompletionNewParams{}, errors.New(op + ": api key required")
	case systemPrompt == "":
		return openai.ChatCompletionNewParams{}, errors.New(op + ": system prompt required")
	case userPrompt == "":
		return openai.ChatCompletionNewParams{}, errors.New(op + ": user prompt required")
	}
	return openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	}, nil
}
