// Package retrieval implements the two-phase scoped retriever over the
// slide and lecture knowledge indexes, and the citation formatter that
// turns retrieved chunks into numbered sources.
package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/studybuddy/studybuddy-go/internal/logging"
	"github.com/studybuddy/studybuddy-go/internal/rag"
)

// ErrMissingScope is returned when a request arrives without an owner or
// course id. Scoping is never defaulted to a fixed identity.
var ErrMissingScope = errors.New("retrieval: request scope is missing owner or course id")

// DefaultLimit is the per-phase result cap.
const DefaultLimit = 5

// SourceType distinguishes the two retrievable content kinds.
type SourceType string

const (
	// SourceSlide is a slide-deck chunk.
	SourceSlide SourceType = "slide"
	// SourceLecture is a lecture transcript window.
	SourceLecture SourceType = "lecture"
)

// Scope carries the identity constraints for one retrieval. OwnerID and
// CourseID are mandatory; DocumentID and LectureID optionally narrow each
// phase to a single source.
type Scope struct {
	// OwnerID is the requesting actor. Constrains the slide phase only:
	// slide content is personal to the uploader.
	OwnerID string
	// CourseID constrains both phases.
	CourseID string
	// DocumentID optionally narrows the slide phase to one document.
	DocumentID string
	// LectureID optionally narrows the lecture phase to one lecture.
	LectureID string
}

// Validate returns ErrMissingScope when a mandatory field is empty.
func (s Scope) Validate() error {
	if s.OwnerID == "" || s.CourseID == "" {
		return ErrMissingScope
	}
	return nil
}

// Result is the internal representation of one retrieved chunk. It is
// mapped to the wire citation type by ToRAGSources, never sent directly.
type Result struct {
	// SourceID uniquely identifies this citation within the response.
	SourceID string
	// SourceType is slide or lecture.
	SourceType SourceType
	// Content is the full retrieved chunk text.
	Content string
	// Score is the similarity score from the vector search.
	Score float32
	// ChunkNumber is the response-local 1-indexed citation number,
	// assigned by the formatter.
	ChunkNumber int

	// DocumentID and SlideNumber locate slide sources.
	DocumentID  string
	SlideNumber int

	// LectureID, StartSeconds and EndSeconds locate lecture sources.
	LectureID    string
	StartSeconds float64
	EndSeconds   float64

	// CourseID, OwnerID and Title carry shared locator metadata.
	CourseID string
	OwnerID  string
	Title    string
}

// Searcher is the slice of the knowledge index the retriever needs.
type Searcher interface {
	Search(ctx context.Context, query string, scope map[string]string, limit int) ([]rag.Record, error)
}

// DualRetriever performs the two-phase slide-then-lecture retrieval.
type DualRetriever struct {
	// slides is the slide-chunk index.
	slides Searcher
	// lectures is the lecture-window index.
	lectures Searcher
	// slideLimit caps the slide phase.
	slideLimit int
	// lectureLimit caps the lecture phase.
	lectureLimit int
}

// NewDualRetriever constructs a DualRetriever. Non-positive limits fall back
// to DefaultLimit.
func NewDualRetriever(slides, lectures Searcher, slideLimit, lectureLimit int) *DualRetriever {
	if slideLimit <= 0 {
		slideLimit = DefaultLimit
	}
	if lectureLimit <= 0 {
		lectureLimit = DefaultLimit
	}
	return &DualRetriever{
		slides:       slides,
		lectures:     lectures,
		slideLimit:   slideLimit,
		lectureLimit: lectureLimit,
	}
}

// Retrieve runs both phases and concatenates the results, slides first.
// This is a two-phase ordered concatenation, not a merged similarity
// ranking: each phase is capped independently and a failure or empty result
// in one phase never affects the other.
func (r *DualRetriever) Retrieve(ctx context.Context, query string, scope Scope) ([]Result, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx)

	// Phase 1: slides, scoped to the requesting owner.
	slideFilter := map[string]string{
		"owner_id":  scope.OwnerID,
		"course_id": scope.CourseID,
	}
	if scope.DocumentID != "" {
		slideFilter["document_id"] = scope.DocumentID
	}
	slideRecs, err := r.slides.Search(ctx, query, slideFilter, r.slideLimit)
	if err != nil {
		log.Warn("retrieval: slide phase failed, continuing with empty results",
			slog.String("error", err.Error()),
		)
		slideRecs = nil
	}

	// Phase 2: lectures, shared within the course — owner intentionally
	// absent from the filter.
	lectureFilter := map[string]string{
		"course_id": scope.CourseID,
	}
	if scope.LectureID != "" {
		lectureFilter["lecture_id"] = scope.LectureID
	}
	lectureRecs, err := r.lectures.Search(ctx, query, lectureFilter, r.lectureLimit)
	if err != nil {
		log.Warn("retrieval: lecture phase failed, continuing with empty results",
			slog.String("error", err.Error()),
		)
		lectureRecs = nil
	}

	results := make([]Result, 0, len(slideRecs)+len(lectureRecs))
	for _, rec := range slideRecs {
		results = append(results, slideResult(rec))
	}
	for _, rec := range lectureRecs {
		results = append(results, lectureResult(rec))
	}

	return results, nil
}

// slideResult maps a slide-index record to a Result.
func slideResult(rec rag.Record) Result {
	return Result{
		SourceID:    uuid.NewString(),
		SourceType:  SourceSlide,
		Content:     rec.Content,
		Score:       rec.Score,
		DocumentID:  rec.Metadata["document_id"],
		SlideNumber: atoiOrZero(rec.Metadata["slide_number"]),
		CourseID:    rec.Metadata["course_id"],
		OwnerID:     rec.Metadata["owner_id"],
		Title:       rec.Metadata["title"],
	}
}

// lectureResult maps a lecture-index record to a Result.
func lectureResult(rec rag.Record) Result {
	return Result{
		SourceID:     uuid.NewString(),
		SourceType:   SourceLecture,
		Content:      rec.Content,
		Score:        rec.Score,
		LectureID:    rec.Metadata["lecture_id"],
		StartSeconds: atofOrZero(rec.Metadata["start_seconds"]),
		EndSeconds:   atofOrZero(rec.Metadata["end_seconds"]),
		CourseID:     rec.Metadata["course_id"],
		Title:        rec.Metadata["title"],
	}
}

// atoiOrZero parses an int metadata value, treating malformed values as 0.
func atoiOrZero(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// atofOrZero parses a float metadata value, treating malformed values as 0.
func atofOrZero(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
