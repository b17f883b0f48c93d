// Package artifact persists the full ordered chunk list for each ingested
// source as one overwritable JSON snapshot, for audit and reprocessing.
// Snapshots are never read on the query path.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/studybuddy/studybuddy-go/internal/storage"
)

// ErrNotFound is returned when no snapshot exists for the source.
var ErrNotFound = errors.New("artifact: snapshot not found")

// DocumentChunk is one slide chunk in a document snapshot.
type DocumentChunk struct {
	// SlideNumber is the original 1-based page number.
	SlideNumber int `json:"slide_number"`
	// SlideType classifies the slide: "title" or "content".
	SlideType string `json:"slide_type"`
	// PHash is the slide's perceptual-hash fingerprint in hex.
	PHash string `json:"phash"`
	// ChunkText is the canonical chunk string that was indexed.
	ChunkText string `json:"chunk_text"`
}

// DocumentSnapshot is the audit record for one ingested slide deck.
type DocumentSnapshot struct {
	// DocumentID is the source document id.
	DocumentID string `json:"document_id"`
	// CourseID scopes the document to a course.
	CourseID string `json:"course_id"`
	// OwnerID is the uploading actor.
	OwnerID string `json:"owner_id"`
	// DedupThreshold is the hamming-distance threshold used during dedup.
	DedupThreshold int `json:"dedup_threshold"`
	// ChunkCount is len(Chunks), recorded for quick inspection.
	ChunkCount int `json:"chunk_count"`
	// Chunks is the ordered chunk list.
	Chunks []DocumentChunk `json:"chunks"`
}

// LectureChunk is one transcript window in a lecture snapshot.
type LectureChunk struct {
	// ChunkIndex is the 0-based window ordinal.
	ChunkIndex int `json:"chunk_index"`
	// Start is the window start offset in seconds.
	Start float64 `json:"start"`
	// End is the window end offset in seconds.
	End float64 `json:"end"`
	// Duration is End minus Start.
	Duration float64 `json:"duration"`
	// SegmentCount is the number of transcript segments in the window.
	SegmentCount int `json:"segment_count"`
	// Text is the window's concatenated transcript text.
	Text string `json:"text"`
}

// LectureSnapshot is the audit record for one ingested lecture.
type LectureSnapshot struct {
	// LectureID is the source lecture id.
	LectureID string `json:"lecture_id"`
	// CourseID scopes the lecture to a course.
	CourseID string `json:"course_id"`
	// ChunkDurationSeconds is the target window duration used for chunking.
	ChunkDurationSeconds float64 `json:"chunk_duration_seconds"`
	// ChunkCount is len(Chunks), recorded for quick inspection.
	ChunkCount int `json:"chunk_count"`
	// Chunks is the ordered window list.
	Chunks []LectureChunk `json:"chunks"`
}

// Store reads and writes snapshots through blob storage. Writes are
// last-writer-wins; concurrent ingestion of the same source id is assumed
// not to occur (enforced by the caller).
type Store struct {
	// blob is the backing blob store.
	blob storage.Blob
}

// NewStore constructs a Store over the given blob backend.
func NewStore(blob storage.Blob) *Store {
	return &Store{blob: blob}
}

// documentKey returns the blob key for a document snapshot.
func documentKey(documentID string) string {
	return "document_chunks/" + documentID + ".json"
}

// lectureKey returns the blob key for a lecture snapshot.
func lectureKey(lectureID string) string {
	return "lecture_chunks/" + lectureID + ".json"
}

// SaveDocument overwrites the snapshot for the document.
func (s *Store) SaveDocument(ctx context.Context, snap *DocumentSnapshot) error {
	snap.ChunkCount = len(snap.Chunks)
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: marshal document snapshot: %w", err)
	}
	if err := s.blob.Put(ctx, documentKey(snap.DocumentID), data); err != nil {
		return fmt.Errorf("artifact: save document snapshot: %w", err)
	}
	return nil
}

// LoadDocument returns the snapshot for the document, or ErrNotFound.
func (s *Store) LoadDocument(ctx context.Context, documentID string) (*DocumentSnapshot, error) {
	data, err := s.blob.Get(ctx, documentKey(documentID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: load document snapshot: %w", err)
	}
	var snap DocumentSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("artifact: decode document snapshot: %w", err)
	}
	return &snap, nil
}

// DeleteDocument removes the document snapshot. Missing snapshots are a no-op.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	if err := s.blob.Delete(ctx, documentKey(documentID)); err != nil {
		return fmt.Errorf("artifact: delete document snapshot: %w", err)
	}
	return nil
}

// SaveLecture overwrites the snapshot for the lecture.
func (s *Store) SaveLecture(ctx context.Context, snap *LectureSnapshot) error {
	snap.ChunkCount = len(snap.Chunks)
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: marshal lecture snapshot: %w", err)
	}
	if err := s.blob.Put(ctx, lectureKey(snap.LectureID), data); err != nil {
		return fmt.Errorf("artifact: save lecture snapshot: %w", err)
	}
	return nil
}

// LoadLecture returns the snapshot for the lecture, or ErrNotFound.
func (s *Store) LoadLecture(ctx context.Context, lectureID string) (*LectureSnapshot, error) {
	data, err := s.blob.Get(ctx, lectureKey(lectureID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: load lecture snapshot: %w", err)
	}
	var snap LectureSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("artifact: decode lecture snapshot: %w", err)
	}
	return &snap, nil
}

// DeleteLecture removes the lecture snapshot. Missing snapshots are a no-op.
func (s *Store) DeleteLecture(ctx context.Context, lectureID string) error {
	if err := s.blob.Delete(ctx, lectureKey(lectureID)); err != nil {
		return fmt.Errorf("artifact: delete lecture snapshot: %w", err)
	}
	return nil
}
