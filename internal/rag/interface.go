// Package rag defines the interfaces for retrieval-augmented generation
// components: vector storage and embedding. Concrete implementations
// (Qdrant, etc.) satisfy these interfaces so the knowledge and retrieval
// layers never depend on a specific backend.
package rag

import (
	"context"
)

// Record represents a unit of stored or retrieved knowledge.
type Record struct {
	// ID is the unique identifier for this record's vector point.
	ID string

	// Content is the raw text content of the chunk.
	Content string

	// Metadata holds the scope and locator fields (owner id, course id,
	// source id, slide number / window bounds).
	Metadata map[string]string

	// Score is the similarity score assigned during search (0.0–1.0).
	// Zero value means the score was not computed.
	Score float32
}

// VectorStore is the interface for persisting and searching record embeddings.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// EnsureReady creates the backing collection if it does not exist.
	// Called once at startup; never implicitly from the data path.
	EnsureReady(ctx context.Context) error

	// Upsert stores or updates a batch of records with their pre-computed
	// embeddings. The embeddings slice must be parallel to recs —
	// embeddings[i] is the vector for recs[i].
	Upsert(ctx context.Context, recs []Record, embeddings [][]float32) error

	// Exists reports whether a point with the given id is already stored.
	Exists(ctx context.Context, id string) (bool, error)

	// Search returns up to limit records whose metadata satisfies an
	// exact-match AND over all keys in filter, ranked by similarity to
	// queryEmbedding. An empty filter matches everything.
	Search(ctx context.Context, queryEmbedding []float32, filter map[string]string, limit int) ([]Record, error)

	// DeleteByMetadata removes all records whose metadata satisfies an
	// exact-match AND over all keys in filter. Deleting when nothing
	// matches is a success, not an error.
	DeleteByMetadata(ctx context.Context, filter map[string]string) error

	// Close releases any resources held by the store.
	Close() error
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
