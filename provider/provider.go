package provider

import (
	"context"
	"errors"

	"github.com/mohammad-safakhou/curator/config"
	"github.com/mohammad-safakhou/curator/models"
	perplexity_provider "github.com/mohammad-safakhou/curator/provider/perplexity"
)

// CategorizationItem is one entry of a categorization request.
type CategorizationItem = perplexity_provider.CategorizationItem

// RankingOracle ranks a bounded shortlist of candidates. Implementations may
// call external services; the engine treats every failure as recoverable via
// its deterministic fallback.
type RankingOracle interface {
	Rank(ctx context.Context, shortlist []models.ShortlistItem, coverage map[string]int, target int) ([]models.OracleSelection, error)
}

// Categorizer proposes category relabelings against a closed enum.
type Categorizer interface {
	Categorize(ctx context.Context, items []CategorizationItem) ([]models.CategorySuggestion, error)
}

// EmbeddingProvider produces semantic vectors for similarity comparison.
type EmbeddingProvider interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Provider bundles every oracle surface the engine can consume.
type Provider interface {
	RankingOracle
	Categorizer
	EmbeddingProvider
}

// New creates an oracle client from configuration.
func New(cfg config.OracleConfig) (Provider, error) {
	switch cfg.Provider {
	case "perplexity", "openai":
		if cfg.APIKey == "" {
			return nil, errors.New("oracle api key not set")
		}
		return perplexity_provider.NewClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.EmbeddingModel, cfg.Timeout), nil
	default:
		return nil, errors.New("unsupported oracle provider: " + cfg.Provider)
	}
}
