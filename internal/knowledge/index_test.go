package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/studybuddy/studybuddy-go/internal/rag"
)

// ── fakes ──

// fakeStore is an in-memory rag.VectorStore for tests.
type fakeStore struct {
	records     map[string]rag.Record
	upserts     int
	deleted     []map[string]string
	searchRecs  []rag.Record
	searchScope map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]rag.Record)}
}

func (s *fakeStore) EnsureReady(ctx context.Context) error { return nil }

func (s *fakeStore) Upsert(ctx context.Context, recs []rag.Record, embeddings [][]float32) error {
	s.upserts++
	for _, r := range recs {
		s.records[r.ID] = r
	}
	return nil
}

func (s *fakeStore) Exists(ctx context.Context, id string) (bool, error) {
	_, ok := s.records[id]
	return ok, nil
}

func (s *fakeStore) Search(ctx context.Context, queryEmbedding []float32, filter map[string]string, limit int) ([]rag.Record, error) {
	s.searchScope = filter
	if limit < len(s.searchRecs) {
		return s.searchRecs[:limit], nil
	}
	return s.searchRecs, nil
}

func (s *fakeStore) DeleteByMetadata(ctx context.Context, filter map[string]string) error {
	s.deleted = append(s.deleted, filter)
	for id, rec := range s.records {
		match := true
		for k, v := range filter {
			if rec.Metadata[k] != v {
				match = false
				break
			}
		}
		if match {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *fakeStore) Close() error { return nil }

// fakeEmbedder counts Embed calls and optionally fails.
type fakeEmbedder struct {
	calls int
	fail  bool
}

func (e *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.fail {
		return nil, errors.New("provider unavailable")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

// ── Add ──

func TestAdd_IdenticalTextSameScope_IsIdempotent(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	emb := &fakeEmbedder{}
	ix := NewIndex(store, emb, "slides", PolicySkip)

	meta := map[string]string{"owner_id": "u1", "course_id": "c1", "document_id": "d1"}
	if err := ix.Add(context.Background(), "slide text", meta); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := ix.Add(context.Background(), "slide text", meta); err != nil {
		t.Fatalf("second add: %v", err)
	}

	if len(store.records) != 1 {
		t.Errorf("expected 1 record, got %d", len(store.records))
	}
	if emb.calls != 1 {
		t.Errorf("expected 1 embedding call, got %d (duplicate must not re-embed)", emb.calls)
	}
}

func TestAdd_SameTextDifferentScope_CreatesDistinctRecords(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	ix := NewIndex(store, &fakeEmbedder{}, "slides", PolicySkip)

	metaA := map[string]string{"owner_id": "u1", "course_id": "c1", "document_id": "d1"}
	metaB := map[string]string{"owner_id": "u1", "course_id": "c1", "document_id": "d2"}
	if err := ix.Add(context.Background(), "same text", metaA); err != nil {
		t.Fatal(err)
	}
	if err := ix.Add(context.Background(), "same text", metaB); err != nil {
		t.Fatal(err)
	}

	if len(store.records) != 2 {
		t.Errorf("expected 2 records across scopes, got %d", len(store.records))
	}
}

func TestAdd_EmbeddingFailure_PolicySkip(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	ix := NewIndex(store, &fakeEmbedder{fail: true}, "slides", PolicySkip)

	err := ix.Add(context.Background(), "text", map[string]string{"owner_id": "u1"})
	if err != nil {
		t.Fatalf("skip policy must not surface embed failure, got %v", err)
	}
	if len(store.records) != 0 {
		t.Errorf("expected no records after skipped embed, got %d", len(store.records))
	}
}

func TestAdd_EmbeddingFailure_PolicyFail(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	ix := NewIndex(store, &fakeEmbedder{fail: true}, "slides", PolicyFail)

	err := ix.Add(context.Background(), "text", map[string]string{"owner_id": "u1"})
	if err == nil {
		t.Fatal("fail policy must surface embed failure")
	}
}

func TestAdd_NilEmbedder(t *testing.T) {
	t.Parallel()

	store := newFakeStore()

	skip := NewIndex(store, nil, "slides", PolicySkip)
	if err := skip.Add(context.Background(), "text", nil); err != nil {
		t.Fatalf("skip policy with nil embedder: %v", err)
	}

	fail := NewIndex(store, nil, "slides", PolicyFail)
	if err := fail.Add(context.Background(), "text", nil); !errors.Is(err, ErrNoEmbedder) {
		t.Fatalf("fail policy with nil embedder: expected ErrNoEmbedder, got %v", err)
	}
}

// ── Search / Delete ──

func TestSearch_PassesScopeFilter(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.searchRecs = []rag.Record{{ID: "a"}, {ID: "b"}}
	ix := NewIndex(store, &fakeEmbedder{}, "slides", PolicySkip)

	scope := map[string]string{"owner_id": "u1", "course_id": "c1"}
	recs, err := ix.Search(context.Background(), "query", scope, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Errorf("expected 2 records, got %d", len(recs))
	}
	if store.searchScope["owner_id"] != "u1" || store.searchScope["course_id"] != "c1" {
		t.Errorf("scope filter not passed through: %v", store.searchScope)
	}
}

func TestSearch_NilEmbedder(t *testing.T) {
	t.Parallel()

	ix := NewIndex(newFakeStore(), nil, "slides", PolicySkip)
	if _, err := ix.Search(context.Background(), "q", nil, 5); !errors.Is(err, ErrNoEmbedder) {
		t.Fatalf("expected ErrNoEmbedder, got %v", err)
	}
}

func TestDeleteByMetadata_IsIdempotent(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	ix := NewIndex(store, &fakeEmbedder{}, "slides", PolicySkip)

	meta := map[string]string{"owner_id": "u1", "course_id": "c1", "document_id": "d1"}
	if err := ix.Add(context.Background(), "text", meta); err != nil {
		t.Fatal(err)
	}

	scope := map[string]string{"document_id": "d1"}
	if err := ix.DeleteByMetadata(context.Background(), scope); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if len(store.records) != 0 {
		t.Errorf("expected all matching records removed, got %d", len(store.records))
	}
	// Nothing matches now; the second delete must still succeed.
	if err := ix.DeleteByMetadata(context.Background(), scope); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

// ── point ids ──

func TestPointID_Deterministic(t *testing.T) {
	t.Parallel()

	ix := NewIndex(newFakeStore(), nil, "slides", PolicySkip)
	meta := map[string]string{"owner_id": "u1", "course_id": "c1"}

	a := ix.PointID("text", meta)
	b := ix.PointID("text", meta)
	if a != b {
		t.Errorf("same input produced different ids: %s vs %s", a, b)
	}

	other := NewIndex(newFakeStore(), nil, "lectures", PolicySkip)
	if a == other.PointID("text", meta) {
		t.Error("ids must differ across collections")
	}
	if a == ix.PointID("other text", meta) {
		t.Error("ids must differ across content")
	}
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    EmbeddingPolicy
		wantErr bool
	}{
		{"", PolicySkip, false},
		{"skip", PolicySkip, false},
		{"fail", PolicyFail, false},
		{"FAIL", PolicyFail, false},
		{"explode", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParsePolicy(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePolicy(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePolicy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
