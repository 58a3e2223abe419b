package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"scribe/internal/config"
	"scribe/internal/gateway"
	"scribe/internal/services"
)

// ErrDimensionMismatch is returned when a provider returns a vector of the
// wrong width.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Metered routes every embedding call through the gateway.
type Metered struct {
	provider   Provider
	gateway    *gateway.Gateway
	dimensions int
}

// NewMetered wraps provider. dimensions is the expected vector width.
func NewMetered(provider Provider, gw *gateway.Gateway, dimensions int) *Metered {
	return &Metered{provider: provider, gateway: gw, dimensions: dimensions}
}

// Dimensions returns the expected vector width.
func (m *Metered) Dimensions() int { return m.dimensions }

// Model returns the provider model name.
func (m *Metered) Model() string { return m.provider.Model() }

// Embed returns the vector for one text. The call is admitted by the gateway
// with the text's token count as its cost.
func (m *Metered) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, services.Wrap(services.ErrValidation, "embedding", "embed", "text is empty", nil)
	}
	units := m.gateway.CountTokens(text)
	vectors, err := gateway.Call(ctx, m.gateway, "embed", units, func(ctx context.Context) ([][]float32, error) {
		return m.provider.EmbedDocuments(ctx, []string{text})
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if errors.Is(err, services.ErrTransient) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrExternalTool, "embedding", "embed", m.provider.Model(), err)
	}
	if len(vectors) != 1 {
		return nil, services.Wrap(services.ErrExternalTool, "embedding", "embed",
			fmt.Sprintf("expected 1 vector, got %d", len(vectors)), nil)
	}
	if m.dimensions > 0 && len(vectors[0]) != m.dimensions {
		return nil, services.Wrap(services.ErrValidation, "embedding", "embed",
			fmt.Sprintf("got %d dimensions, want %d", len(vectors[0]), m.dimensions), ErrDimensionMismatch)
	}
	return vectors[0], nil
}

// FromConfig builds the configured provider behind the gateway.
func FromConfig(cfg *config.Config, gw *gateway.Gateway) (*Metered, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "embedding", "init", "configuration unavailable", nil)
	}
	e := cfg.Embedding
	var (
		provider Provider
		err      error
	)
	switch e.Provider {
	case "openai":
		if e.APIKey == "" {
			return nil, services.Wrap(services.ErrConfiguration, "embedding", "init",
				"embedding.api_key (or OPENAI_API_KEY) is required for the openai provider", nil)
		}
		provider = NewOpenAI(e.APIKey, e.BaseURL, e.Model, e.Dimensions)
	case "ollama":
		provider, err = NewOllama(e.BaseURL, e.Model)
	case "compatible":
		provider, err = NewCompatible(e.BaseURL, e.APIKey, e.Model)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "embedding", "init",
			fmt.Sprintf("unsupported provider %q", e.Provider), nil)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "embedding", "init", e.Provider, err)
	}
	return NewMetered(provider, gw, e.Dimensions), nil
}
