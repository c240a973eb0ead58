// Package retrieval finds historical incidents similar to a query,
// applying a diversity filter to avoid near-duplicate results and falling
// back to a relational search when the vector path is unavailable.
package retrieval

import (
	"context"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/beacon/internal/incident"
)

const (
	// DefaultThreshold is the minimum cosine similarity for vector matches.
	DefaultThreshold = 0.7

	// DefaultMaxPerKey caps matches sharing one diversity key.
	DefaultMaxPerKey = 1

	// candidateFactor oversamples the vector query so the diversity
	// filter has enough candidates to choose from.
	candidateFactor = 3

	// fallbackSimilarity is assigned to relational-fallback matches,
	// which carry no real distance.
	fallbackSimilarity = 0.6
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the slice of the store the engine needs.
type Searcher interface {
	SearchMemoryVectors(ctx context.Context, vec []float32, threshold float64, limit int) ([]incident.Match, error)
	SearchMemoryFallback(ctx context.Context, service string, labels []string, limit int) ([]incident.MemoryItem, error)
}

// Query describes the incident being searched for.
type Query struct {
	Text    string
	Service string
	Labels  []string
}

// Result is a retrieval outcome. Items may be empty; QueryVec carries the
// query embedding when one was generated, for reuse by the caller.
// Fallback is set when the vector store failed and the items came from
// the relational search instead.
type Result struct {
	Items    []incident.Match
	QueryVec []float32
	Fallback bool
}

// Engine retrieves diversity-filtered similar incidents.
type Engine struct {
	embedder  Embedder
	store     Searcher
	threshold float64
	maxPerKey int
	logger    log.Logger
}

// NewEngine creates a retrieval engine. Zero threshold and maxPerKey get
// the defaults.
func NewEngine(embedder Embedder, store Searcher, threshold float64, maxPerKey int, logger log.Logger) *Engine {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if maxPerKey == 0 {
		maxPerKey = DefaultMaxPerKey
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		embedder:  embedder,
		store:     store,
		threshold: threshold,
		maxPerKey: maxPerKey,
		logger:    logger,
	}
}

// Search returns up to topK similar incidents. Retrieval failure degrades
// to an empty result rather than failing the caller's pipeline: an
// embedding failure yields nothing, a vector-store failure falls back to
// the relational search over solved items.
func (e *Engine) Search(ctx context.Context, q Query, topK int) Result {
	return e.SearchWithThreshold(ctx, q, topK, e.threshold)
}

// SearchWithThreshold is Search with a caller-supplied similarity
// threshold. A non-positive threshold uses the engine default.
func (e *Engine) SearchWithThreshold(ctx context.Context, q Query, topK int, threshold float64) Result {
	if topK <= 0 || q.Text == "" {
		return Result{}
	}
	if threshold <= 0 {
		threshold = e.threshold
	}

	vec, err := e.embedder.Embed(ctx, q.Text)
	if err != nil {
		e.logger.Warn(ctx, "embedding failed, skipping retrieval", "error", err)
		return Result{}
	}
	if allZero(vec) {
		e.logger.Warn(ctx, "degenerate query embedding, skipping retrieval", "dim", len(vec))
		return Result{}
	}

	candidates, err := e.store.SearchMemoryVectors(ctx, vec, threshold, candidateFactor*topK)
	if err != nil {
		e.logger.Warn(ctx, "vector search unavailable, using relational fallback", "error", err)
		return Result{Items: e.fallback(ctx, q, topK), QueryVec: vec, Fallback: true}
	}

	return Result{Items: filterDiverse(candidates, topK, e.maxPerKey), QueryVec: vec}
}

// fallback queries solved memory items by service or label overlap and
// assigns them a fixed similarity score.
func (e *Engine) fallback(ctx context.Context, q Query, topK int) []incident.Match {
	items, err := e.store.SearchMemoryFallback(ctx, q.Service, q.Labels, topK)
	if err != nil {
		e.logger.Error(ctx, err, "relational fallback failed")
		return nil
	}

	out := make([]incident.Match, 0, len(items))
	for _, m := range items {
		out = append(out, incident.Match{
			ID:           m.ID,
			Summary:      m.Summary,
			Labels:       m.Labels,
			Service:      m.Service,
			IncidentType: m.IncidentType,
			Solution:     m.Solution,
			Similarity:   fallbackSimilarity,
		})
	}
	return out
}

func allZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
