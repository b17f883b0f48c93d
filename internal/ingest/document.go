// Package ingest wires the processing pipelines that turn uploaded sources
// into searchable knowledge: slide decks through render → dedup → describe →
// index, lecture transcripts through window → index. Each pipeline writes an
// audit snapshot before touching the vector store and is all-or-nothing: a
// failure partway leaves no artifacts and no vectors behind.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/studybuddy/studybuddy-go/internal/artifact"
	"github.com/studybuddy/studybuddy-go/internal/logging"
	"github.com/studybuddy/studybuddy-go/internal/slides"
)

// PageRenderer renders an uploaded document into ordered page images.
// Implementations shell out to an external converter; the pipeline only
// sees the resulting PNGs.
type PageRenderer interface {
	Render(ctx context.Context, data []byte) ([]slides.Slide, error)
}

// Indexer is the slice of the knowledge index the pipelines need.
type Indexer interface {
	Add(ctx context.Context, text string, metadata map[string]string) error
	DeleteByMetadata(ctx context.Context, scope map[string]string) error
}

// DocumentJob describes one slide-deck ingestion.
type DocumentJob struct {
	// DocumentID is the metadata-store document id.
	DocumentID string
	// CourseID scopes the document to a course.
	CourseID string
	// OwnerID is the uploading actor.
	OwnerID string
	// Title is the display title carried into chunk metadata.
	Title string
	// Data is the raw uploaded file.
	Data []byte
}

// DocumentPipeline processes slide decks.
type DocumentPipeline struct {
	renderer  PageRenderer
	describer slides.DescriptionProvider
	artifacts *artifact.Store
	index     Indexer
	// threshold is the dedup hamming-distance threshold. 0 drops only
	// slides with identical fingerprints.
	threshold int
}

// NewDocumentPipeline constructs a DocumentPipeline. The threshold is the
// hamming distance at which two slide fingerprints count as duplicates; the
// default 0 means exact match only. Negative values clamp to 0.
func NewDocumentPipeline(renderer PageRenderer, describer slides.DescriptionProvider, artifacts *artifact.Store, index Indexer, threshold int) *DocumentPipeline {
	if threshold < 0 {
		threshold = 0
	}
	return &DocumentPipeline{
		renderer:  renderer,
		describer: describer,
		artifacts: artifacts,
		index:     index,
		threshold: threshold,
	}
}

// Process runs the full document pipeline. Description failures abort the
// whole job before anything is persisted: a deck is either fully searchable
// or not present at all.
func (p *DocumentPipeline) Process(ctx context.Context, job DocumentJob) error {
	log := logging.FromContext(ctx).With(slog.String("document_id", job.DocumentID))

	pages, err := p.renderer.Render(ctx, job.Data)
	if err != nil {
		return fmt.Errorf("ingest: render document %s: %w", job.DocumentID, err)
	}
	if len(pages) == 0 {
		return fmt.Errorf("ingest: document %s rendered zero pages", job.DocumentID)
	}

	survivors := slides.Dedup(ctx, pages, p.threshold)
	log.Info("ingest: deduplicated slides",
		slog.Int("pages", len(pages)),
		slog.Int("survivors", len(survivors)),
	)

	// Describe every surviving slide before persisting anything.
	chunks := make([]slides.Chunk, 0, len(survivors))
	for _, s := range survivors {
		content, err := p.describer.Describe(ctx, s.PNG, s.Number)
		if err != nil {
			return fmt.Errorf("ingest: describe slide %d of document %s: %w", s.Number, job.DocumentID, err)
		}
		chunks = append(chunks, slides.NewChunk(s, content))
	}

	snap := &artifact.DocumentSnapshot{
		DocumentID:     job.DocumentID,
		CourseID:       job.CourseID,
		OwnerID:        job.OwnerID,
		DedupThreshold: p.threshold,
	}
	for _, c := range chunks {
		snap.Chunks = append(snap.Chunks, artifact.DocumentChunk{
			SlideNumber: c.SlideNumber,
			SlideType:   c.Content.SlideType,
			PHash:       c.HashHex,
			ChunkText:   c.ChunkText(),
		})
	}
	if err := p.artifacts.SaveDocument(ctx, snap); err != nil {
		return fmt.Errorf("ingest: document %s: %w", job.DocumentID, err)
	}

	for _, c := range chunks {
		meta := map[string]string{
			"document_id":  job.DocumentID,
			"course_id":    job.CourseID,
			"owner_id":     job.OwnerID,
			"slide_number": strconv.Itoa(c.SlideNumber),
			"slide_type":   c.Content.SlideType,
			"title":        job.Title,
		}
		if err := p.index.Add(ctx, c.ChunkText(), meta); err != nil {
			// Roll back so a retry starts clean.
			if cerr := p.Cleanup(ctx, job.DocumentID); cerr != nil {
				log.Warn("ingest: cleanup after failed indexing also failed",
					slog.String("error", cerr.Error()),
				)
			}
			return fmt.Errorf("ingest: index slide %d of document %s: %w", c.SlideNumber, job.DocumentID, err)
		}
	}

	log.Info("ingest: document indexed", slog.Int("chunks", len(chunks)))
	return nil
}

// Cleanup removes everything the pipeline produced for the document: its
// vectors and its snapshot. Safe to call for documents that never finished
// processing.
func (p *DocumentPipeline) Cleanup(ctx context.Context, documentID string) error {
	var errs []error
	if err := p.index.DeleteByMetadata(ctx, map[string]string{"document_id": documentID}); err != nil {
		errs = append(errs, err)
	}
	if err := p.artifacts.DeleteDocument(ctx, documentID); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("ingest: cleanup document %s: %w", documentID, errors.Join(errs...))
	}
	return nil
}
