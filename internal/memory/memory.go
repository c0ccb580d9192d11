// Package memory provides retrieval of stored memory snippets by semantic
// similarity. Ranking is a brute-force cosine pass over the user's rows,
// which is plenty for the per-user volumes a check-in service sees.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/luminacare/checkincall/internal/models"
	"github.com/luminacare/checkincall/internal/topic"
)

// Embedder produces embedding vectors for text snippets.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Source is the slice of the store the retriever needs.
type Source interface {
	AddMemory(m models.Memory) error
	ListMemories(userID string) ([]models.Memory, error)
}

// Retriever ranks stored memories against a query vector.
type Retriever struct {
	source   Source
	embedder Embedder
}

// NewRetriever creates a retriever over a memory source and embedder.
func NewRetriever(source Source, embedder Embedder) *Retriever {
	return &Retriever{source: source, embedder: embedder}
}

// Retrieve returns up to k memory highlights ranked by cosine similarity to
// the query vector. Rows without embeddings are skipped.
func (r *Retriever) Retrieve(ctx context.Context, userID string, queryVector []float64, k int) ([]string, error) {
	if k <= 0 || len(queryVector) == 0 {
		return nil, nil
	}

	memories, err := r.source.ListMemories(userID)
	if err != nil {
		slog.Error("Retriever.Retrieve: listing memories failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to list memories for %s: %w", userID, err)
	}

	type scored struct {
		highlight string
		score     float64
	}
	ranked := make([]scored, 0, len(memories))
	for _, m := range memories {
		if len(m.Embedding) == 0 {
			continue
		}
		ranked = append(ranked, scored{highlight: m.Highlight, score: topic.Cosine(queryVector, m.Embedding)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	highlights := make([]string, len(ranked))
	for i, s := range ranked {
		highlights[i] = s.highlight
	}
	slog.Debug("Retriever.Retrieve: ranked memories", "userID", userID, "candidates", len(memories), "returned", len(highlights))
	return highlights, nil
}

// Ingest embeds a snippet and stores it as a memory row.
func (r *Retriever) Ingest(ctx context.Context, userID, text string) error {
	embedding, err := r.embedder.Embed(ctx, text)
	if err != nil {
		slog.Error("Retriever.Ingest: embedding failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to embed memory: %w", err)
	}
	if err := r.source.AddMemory(models.Memory{UserID: userID, Highlight: text, Embedding: embedding}); err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}
	return nil
}
