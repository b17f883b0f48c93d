package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/studybuddy/studybuddy-go/internal/artifact"
	"github.com/studybuddy/studybuddy-go/internal/embedder"
	"github.com/studybuddy/studybuddy-go/internal/knowledge"
	"github.com/studybuddy/studybuddy-go/internal/rag"
	"github.com/studybuddy/studybuddy-go/internal/storage"
	"github.com/studybuddy/studybuddy-go/internal/store"
)

// getEnvOrDefault returns the env var value or fallback when unset.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the env var parsed as int, or fallback when unset or
// malformed.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// stack bundles the data-plane collaborators shared by the serve and ingest
// commands: metadata store, blob storage, artifact snapshots, and the two
// knowledge indexes.
type stack struct {
	db           *store.Store
	blobs        *storage.Disk
	artifacts    *artifact.Store
	slideIndex   *knowledge.Index
	lectureIndex *knowledge.Index
	slideStore   *rag.QdrantStore
	lectureStore *rag.QdrantStore
}

// close releases the stack's connections.
func (s *stack) close() {
	_ = s.slideStore.Close()
	_ = s.lectureStore.Close()
	_ = s.db.Close()
}

// buildStack wires the shared data plane from the environment and runs the
// one-time collection initialisation for both indexes.
func buildStack(ctx context.Context, log *slog.Logger) (*stack, error) {
	embedder.Validate(log)

	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	if emb == nil {
		log.Warn("no embedding provider configured, behaviour follows EMBEDDING_POLICY")
	}

	policy, err := knowledge.ParsePolicy(os.Getenv("EMBEDDING_POLICY"))
	if err != nil {
		return nil, err
	}

	embBackend := embedder.Backend()
	vectorSize := uint64(getEnvInt("EMBEDDING_DIMENSIONS", embedder.DefaultDimensions(embBackend))) //nolint:gosec // dimensions are bounded

	qdrantHost := getEnvOrDefault("QDRANT_HOST", "localhost")
	qdrantPort := getEnvInt("QDRANT_PORT", 6334)
	qdrantAPIKey := os.Getenv("QDRANT_API_KEY")
	qdrantTLS := os.Getenv("QDRANT_TLS") == "true"

	slideCollection := getEnvOrDefault("QDRANT_SLIDE_COLLECTION", "studybuddy-slides")
	slideStore, err := rag.NewQdrantStore(&rag.QdrantConfig{
		Host:       qdrantHost,
		Port:       qdrantPort,
		Collection: slideCollection,
		VectorSize: vectorSize,
		APIKey:     qdrantAPIKey,
		UseTLS:     qdrantTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", qdrantHost, qdrantPort, err)
	}

	lectureCollection := getEnvOrDefault("QDRANT_LECTURE_COLLECTION", "studybuddy-lectures")
	lectureStore, err := rag.NewQdrantStore(&rag.QdrantConfig{
		Host:       qdrantHost,
		Port:       qdrantPort,
		Collection: lectureCollection,
		VectorSize: vectorSize,
		APIKey:     qdrantAPIKey,
		UseTLS:     qdrantTLS,
	})
	if err != nil {
		_ = slideStore.Close()
		return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", qdrantHost, qdrantPort, err)
	}

	slideIndex := knowledge.NewIndex(slideStore, emb, slideCollection, policy)
	lectureIndex := knowledge.NewIndex(lectureStore, emb, lectureCollection, policy)

	// Collection creation happens exactly once, here — never on the data path.
	if err := slideIndex.EnsureReady(ctx); err != nil {
		_ = slideStore.Close()
		_ = lectureStore.Close()
		return nil, fmt.Errorf("slide index init: %w", err)
	}
	if err := lectureIndex.EnsureReady(ctx); err != nil {
		_ = slideStore.Close()
		_ = lectureStore.Close()
		return nil, fmt.Errorf("lecture index init: %w", err)
	}
	log.Info("knowledge indexes ready",
		slog.String("slide_collection", slideCollection),
		slog.String("lecture_collection", lectureCollection),
	)

	dbPath := os.Getenv("STUDYBUDDY_DB")
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			_ = slideStore.Close()
			_ = lectureStore.Close()
			return nil, err
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		_ = slideStore.Close()
		_ = lectureStore.Close()
		return nil, err
	}
	log.Info("metadata store opened", slog.String("path", dbPath))

	blobDir := os.Getenv("STUDYBUDDY_BLOB_DIR")
	if blobDir == "" {
		blobDir, err = storage.DefaultDir()
		if err != nil {
			_ = db.Close()
			_ = slideStore.Close()
			_ = lectureStore.Close()
			return nil, err
		}
	}
	blobs, err := storage.NewDisk(blobDir)
	if err != nil {
		_ = db.Close()
		_ = slideStore.Close()
		_ = lectureStore.Close()
		return nil, err
	}

	return &stack{
		db:           db,
		blobs:        blobs,
		artifacts:    artifact.NewStore(blobs),
		slideIndex:   slideIndex,
		lectureIndex: lectureIndex,
		slideStore:   slideStore,
		lectureStore: lectureStore,
	}, nil
}
