package embed

import (
	"context"
	"strings"

	"github.com/Aman-CERP/careindex/internal/config"
	cerrors "github.com/Aman-CERP/careindex/internal/errors"
)

// Provider names accepted in embeddings.provider.
const (
	ProviderStatic = "static"
	ProviderOllama = "ollama"
)

// ValidProviders lists the accepted provider names.
func ValidProviders() []string {
	return []string{ProviderStatic, ProviderOllama}
}

// NewEmbedder builds the configured provider wrapped in a cache.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, error) {
	var inner Embedder
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderStatic:
		inner = NewStaticEmbedder()
	case ProviderOllama:
		o, err := NewOllamaEmbedder(ctx, OllamaConfig{
			Host:       cfg.OllamaHost,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		inner = o
	default:
		return nil, cerrors.ConfigError("unknown embeddings provider "+cfg.Provider, nil).
			WithSuggestion("use one of: " + strings.Join(ValidProviders(), ", "))
	}

	if cfg.CacheSize < 0 {
		return inner, nil
	}
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
