package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Retriever augments user queries with context retrieved from the vector
// store. Retrieval is best effort: any failure is logged and the query goes
// through unmodified, since a missing context is better than a failed chat.
type Retriever struct {
	client         *Client
	collection     string
	limit          int
	scoreThreshold float64
	cache          *lru.Cache[string, []Snippet]
	logger         *slog.Logger
}

type Config struct {
	Collection     string
	Limit          int
	ScoreThreshold float64
	CacheSize      int
}

func New(client *Client, cfg Config, logger *slog.Logger) (*Retriever, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 3
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	cache, err := lru.New[string, []Snippet](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create retrieval cache: %w", err)
	}
	return &Retriever{
		client:         client,
		collection:     cfg.Collection,
		limit:          cfg.Limit,
		scoreThreshold: cfg.ScoreThreshold,
		cache:          cache,
		logger:         logger,
	}, nil
}

// Augment returns the query prefixed with retrieved context, or the query
// unchanged when nothing relevant is found or retrieval fails.
func (r *Retriever) Augment(ctx context.Context, query string) string {
	snippets, err := r.retrieve(ctx, query)
	if err != nil {
		r.logger.Warn("retrieval failed, continuing without context", "error", err)
		return query
	}
	if len(snippets) == 0 {
		return query
	}
	texts := make([]string, len(snippets))
	for i, s := range snippets {
		texts[i] = s.Text
	}
	return fmt.Sprintf("Context: %s\n\nQuery: %s", strings.Join(texts, "\n"), query)
}

func (r *Retriever) retrieve(ctx context.Context, query string) ([]Snippet, error) {
	if cached, ok := r.cache.Get(query); ok {
		return cached, nil
	}
	vector, err := r.client.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	snippets, err := r.client.Search(ctx, r.collection, vector, r.limit, r.scoreThreshold)
	if err != nil {
		return nil, err
	}
	r.cache.Add(query, snippets)
	return snippets, nil
}

// HealthCheck reports whether the vector store is reachable.
func (r *Retriever) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}
