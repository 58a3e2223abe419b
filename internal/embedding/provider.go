package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	lcopenai "github.com/tmc/langchaingo/llms/openai"

	"scribe/internal/gateway"
)

// Provider produces one vector per input text, in input order.
type Provider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// OpenAIProvider calls the OpenAI embeddings endpoint.
type OpenAIProvider struct {
	client     openai.Client
	model      string
	dimensions int
}

// NewOpenAI builds an OpenAI provider. baseURL may be empty. The SDK's own
// retries are disabled; throttling is handled by the gateway.
func NewOpenAI(apiKey, baseURL, model string, dimensions int, extra ...option.RequestOption) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)
	return &OpenAIProvider{
		client:     openai.NewClient(opts...),
		model:      model,
		dimensions: dimensions,
	}
}

// Model returns the model name.
func (p *OpenAIProvider) Model() string { return p.model }

// EmbedDocuments requests embeddings for texts.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided")
	}
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(p.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	if len(texts) == 1 {
		params.Input = openai.EmbeddingNewParamsInputUnion{OfString: openai.String(texts[0])}
	}
	if p.dimensions > 0 {
		params.Dimensions = openai.Int(int64(p.dimensions))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d texts", len(resp.Data), len(texts))
	}
	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		idx := int(data.Index)
		if idx < 0 || idx >= len(vectors) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", idx)
		}
		vector := make([]float32, len(data.Embedding))
		for i, v := range data.Embedding {
			vector[i] = float32(v)
		}
		vectors[idx] = vector
	}
	return vectors, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		var after time.Duration
		if apiErr.Response != nil {
			if secs, convErr := strconv.Atoi(strings.TrimSpace(apiErr.Response.Header.Get("Retry-After"))); convErr == nil {
				after = time.Duration(secs) * time.Second
			}
		}
		return &gateway.ThrottleError{Service: "openai embeddings", After: after, Err: err}
	}
	return fmt.Errorf("openai embeddings: %w", err)
}

// LangChainProvider adapts a langchaingo embedder.
type LangChainProvider struct {
	embedder embeddings.Embedder
	model    string
}

// NewOllama builds a provider backed by a local Ollama server.
func NewOllama(serverURL, model string) (*LangChainProvider, error) {
	opts := []ollama.Option{ollama.WithModel(model)}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}
	client, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("ollama client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: %w", err)
	}
	return &LangChainProvider{embedder: embedder, model: model}, nil
}

// NewCompatible builds a provider for an OpenAI-compatible server such as
// a local inference gateway. token may be empty.
func NewCompatible(baseURL, token, model string) (*LangChainProvider, error) {
	if token == "" {
		token = "none"
	}
	client, err := lcopenai.New(
		lcopenai.WithBaseURL(baseURL),
		lcopenai.WithToken(token),
		lcopenai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("compatible client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("compatible embedder: %w", err)
	}
	return &LangChainProvider{embedder: embedder, model: model}, nil
}

// Model returns the model name.
func (p *LangChainProvider) Model() string { return p.model }

// EmbedDocuments requests embeddings for texts.
func (p *LangChainProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		lower := strings.ToLower(err.Error())
		if strings.Contains(lower, "429") || strings.Contains(lower, "rate limit") {
			return nil, &gateway.ThrottleError{Service: "embeddings", Err: err}
		}
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	return vectors, nil
}
