// Package knowledge implements the vector knowledge index: content-hash
// deduplicated, metadata-scoped add/search/delete over a rag.VectorStore and
// a rag.Embedder. Each index owns exactly one collection (one for slide
// chunks, one for lecture chunks).
package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/studybuddy/studybuddy-go/internal/logging"
	"github.com/studybuddy/studybuddy-go/internal/rag"
)

// ErrNoEmbedder is returned when an operation requires an embedding provider
// and none is configured.
var ErrNoEmbedder = errors.New("knowledge: no embedding provider configured")

// EmbeddingPolicy controls what Add does when no embedding can be produced
// (missing provider or provider failure).
type EmbeddingPolicy string

const (
	// PolicySkip logs the failure and records nothing in the vector store;
	// the surrounding chunk's ingestion still succeeds. A slow or
	// misconfigured embedding provider never blocks uploads.
	PolicySkip EmbeddingPolicy = "skip"

	// PolicyFail propagates the failure to the caller.
	PolicyFail EmbeddingPolicy = "fail"
)

// ParsePolicy converts a config string into an EmbeddingPolicy.
// An empty string resolves to PolicySkip.
func ParsePolicy(s string) (EmbeddingPolicy, error) {
	switch strings.ToLower(s) {
	case "", "skip":
		return PolicySkip, nil
	case "fail":
		return PolicyFail, nil
	default:
		return "", fmt.Errorf("knowledge: unknown embedding policy %q — valid values: skip, fail", s)
	}
}

// idNamespace is the fixed UUIDv5 namespace for deterministic point ids.
var idNamespace = uuid.MustParse("9b1de764-5b8a-4f61-9c44-1f0a7c62b30e")

// scopeIDKeys are the metadata keys that define a record's scope for
// deduplication. Two adds with the same text and the same values for these
// keys converge on the same point id.
var scopeIDKeys = []string{"owner_id", "course_id", "document_id", "lecture_id"}

// Index is a single-collection vector knowledge index.
type Index struct {
	// store is the backing vector store for this index's collection.
	store rag.VectorStore

	// embedder produces vectors for added and queried text. May be nil when
	// no provider is configured; Add then follows the embedding policy and
	// Search returns ErrNoEmbedder.
	embedder rag.Embedder

	// collection names the backing collection; part of the point id input so
	// ids never collide across indexes.
	collection string

	// policy controls behaviour on embedding failure.
	policy EmbeddingPolicy
}

// NewIndex constructs an Index over the given store and embedder.
// embedder may be nil.
func NewIndex(store rag.VectorStore, embedder rag.Embedder, collection string, policy EmbeddingPolicy) *Index {
	if policy == "" {
		policy = PolicySkip
	}
	return &Index{
		store:      store,
		embedder:   embedder,
		collection: collection,
		policy:     policy,
	}
}

// EnsureReady creates the backing collection if needed. Invoked once at
// startup, never implicitly from the data path.
func (ix *Index) EnsureReady(ctx context.Context) error {
	return ix.store.EnsureReady(ctx)
}

// PointID returns the deterministic point id for (scope, content hash).
// The id is a UUIDv5 over the collection name, the scope-defining metadata
// keys in fixed order, and the SHA-256 of the text.
func (ix *Index) PointID(text string, metadata map[string]string) string {
	sum := sha256.Sum256([]byte(text))

	var b strings.Builder
	b.WriteString(ix.collection)
	for _, k := range scopeIDKeys {
		if v, ok := metadata[k]; ok && v != "" {
			b.WriteByte(0)
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v)
		}
	}
	b.WriteByte(0)
	b.WriteString(hex.EncodeToString(sum[:]))

	return uuid.NewSHA1(idNamespace, []byte(b.String())).String()
}

// Add upserts one text chunk with its metadata. Re-adding identical text
// into the same scope is a silent no-op that makes zero embedding calls.
// Embedding failures follow the configured policy.
func (ix *Index) Add(ctx context.Context, text string, metadata map[string]string) error {
	log := logging.FromContext(ctx)

	id := ix.PointID(text, metadata)
	exists, err := ix.store.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("knowledge: existence check failed: %w", err)
	}
	if exists {
		log.Debug("knowledge: duplicate content in scope, skipping",
			slog.String("collection", ix.collection),
			slog.String("point_id", id),
		)
		return nil
	}

	if ix.embedder == nil {
		return ix.handleEmbedFailure(log, ErrNoEmbedder)
	}

	embeddings, err := ix.embedder.Embed(ctx, []string{text})
	if err != nil {
		return ix.handleEmbedFailure(log, err)
	}
	if len(embeddings) != 1 {
		return ix.handleEmbedFailure(log, fmt.Errorf("knowledge: expected 1 embedding, got %d", len(embeddings)))
	}

	rec := rag.Record{ID: id, Content: text, Metadata: metadata}
	if err := ix.store.Upsert(ctx, []rag.Record{rec}, embeddings); err != nil {
		return fmt.Errorf("knowledge: upsert failed: %w", err)
	}

	return nil
}

// handleEmbedFailure applies the embedding policy to a failed embed attempt.
func (ix *Index) handleEmbedFailure(log *slog.Logger, err error) error {
	if ix.policy == PolicyFail {
		return fmt.Errorf("knowledge: embedding failed: %w", err)
	}
	log.Warn("knowledge: embedding unavailable, chunk recorded without vector",
		slog.String("collection", ix.collection),
		slog.String("error", err.Error()),
	)
	return nil
}

// Search returns up to limit records whose metadata exactly matches every
// key in scope, ranked by similarity to query.
func (ix *Index) Search(ctx context.Context, query string, scope map[string]string, limit int) ([]rag.Record, error) {
	if ix.embedder == nil {
		return nil, ErrNoEmbedder
	}

	embeddings, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("knowledge: embedding query failed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("knowledge: embedder returned empty result for query")
	}

	recs, err := ix.store.Search(ctx, embeddings[0], scope, limit)
	if err != nil {
		return nil, fmt.Errorf("knowledge: search failed: %w", err)
	}

	return recs, nil
}

// DeleteByMetadata removes every record matching the scope filter.
// Deleting a scope that matches nothing is a success.
func (ix *Index) DeleteByMetadata(ctx context.Context, scope map[string]string) error {
	if err := ix.store.DeleteByMetadata(ctx, scope); err != nil {
		return fmt.Errorf("knowledge: delete by metadata failed: %w", err)
	}
	logging.FromContext(ctx).Debug("knowledge: deleted records by scope",
		slog.String("collection", ix.collection),
		slog.String("scope", scopeString(scope)),
	)
	return nil
}

// scopeString renders a scope filter for log messages, keys sorted.
func scopeString(scope map[string]string) string {
	keys := make([]string, 0, len(scope))
	for k := range scope {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+scope[k])
	}
	return strings.Join(parts, ",")
}
