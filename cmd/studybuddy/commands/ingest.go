package commands

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/studybuddy/studybuddy-go/internal/ingest"
	"github.com/studybuddy/studybuddy-go/internal/logging"
	"github.com/studybuddy/studybuddy-go/internal/render"
	"github.com/studybuddy/studybuddy-go/internal/slides"
	"github.com/studybuddy/studybuddy-go/internal/store"
	"github.com/studybuddy/studybuddy-go/internal/transcript"
)

// NewIngestCmd constructs the `studybuddy ingest` command group, which
// indexes local course material without going through the HTTP API.
func NewIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Index course material from local files",
		Long: `Index course material directly from local files.

This runs the same pipelines as the HTTP upload endpoints, synchronously:
slide decks are rendered, described, and indexed; lecture transcripts are
windowed and indexed. Progress and failures are reported on the console.

Required environment variables:
  QDRANT_HOST                 Qdrant server hostname (default: localhost)
  QDRANT_PORT                 Qdrant gRPC port (default: 6334)
  QDRANT_SLIDE_COLLECTION     Slide collection (default: studybuddy-slides)
  QDRANT_LECTURE_COLLECTION   Lecture collection (default: studybuddy-lectures)
  GOOGLE_API_KEY              Gemini key for slide descriptions (document only)
  EMBEDDING_*                 Embedding backend overrides (see README)`,
	}

	cmd.AddCommand(newIngestDocumentCmd(), newIngestLectureCmd())

	return cmd
}

// newIngestDocumentCmd builds `studybuddy ingest document`.
func newIngestDocumentCmd() *cobra.Command {
	var file string
	var ownerID string
	var courseID string
	var title string

	cmd := &cobra.Command{
		Use:   "document",
		Short: "Index a slide-deck PDF",
		Long: `Render, describe, and index a slide-deck PDF.

Requires poppler-utils (pdftoppm) on PATH and GOOGLE_API_KEY for the
vision model that describes each slide.

Examples:
  studybuddy ingest document --file week3.pdf --owner alice --course cs101
  studybuddy ingest document --file deck.pdf --owner alice --course cs101 --title "Week 3: Sorting"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("ingest: read %s: %w", file, err)
			}

			renderer, err := render.NewPDFRenderer(getEnvInt("RENDER_DPI", render.DefaultDPI))
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			describer, err := slides.NewGeminiDescriber(ctx, os.Getenv("GOOGLE_API_KEY"), getEnvOrDefault("DESCRIBER_MODEL", "gemini-2.0-flash"))
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			st, err := buildStack(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer st.close()

			sum := sha256.Sum256(data)
			checksum := hex.EncodeToString(sum[:])
			if existing, err := st.db.FindDocumentByChecksum(ctx, ownerID, courseID, checksum); err == nil && existing != nil {
				log.Info("document already indexed",
					slog.String("document_id", existing.ID),
					slog.String("status", string(existing.Status)),
				)
				return nil
			}

			if title == "" {
				base := filepath.Base(file)
				title = strings.TrimSuffix(base, filepath.Ext(base))
			}

			doc := &store.Document{
				ID:         uuid.NewString(),
				OwnerID:    ownerID,
				CourseID:   courseID,
				Filename:   filepath.Base(file),
				Title:      title,
				StorageKey: "documents/" + uuid.NewString() + "/" + filepath.Base(file),
				Checksum:   checksum,
				Status:     store.StatusProcessing,
			}
			if err := st.blobs.Put(ctx, doc.StorageKey, data); err != nil {
				return fmt.Errorf("ingest: store upload: %w", err)
			}
			if err := st.db.CreateDocument(ctx, doc); err != nil {
				return fmt.Errorf("ingest: record document: %w", err)
			}

			pipeline := ingest.NewDocumentPipeline(renderer, describer, st.artifacts, st.slideIndex, getEnvInt("INGEST_DEDUP_THRESHOLD", 0))
			log.Info("indexing document", slog.String("document_id", doc.ID), slog.String("file", file))

			if err := pipeline.Process(ctx, ingest.DocumentJob{
				DocumentID: doc.ID,
				CourseID:   doc.CourseID,
				OwnerID:    doc.OwnerID,
				Title:      doc.Title,
				Data:       data,
			}); err != nil {
				// No half-complete document stays behind.
				_ = pipeline.Cleanup(ctx, doc.ID)
				_ = st.blobs.Delete(ctx, doc.StorageKey)
				_ = st.db.DeleteDocument(ctx, doc.ID)
				return fmt.Errorf("ingest: pipeline failed: %w", err)
			}
			if err := st.db.UpdateDocumentStatus(ctx, doc.ID, store.StatusCompleted); err != nil {
				return fmt.Errorf("ingest: update status: %w", err)
			}

			log.Info("document indexed", slog.String("document_id", doc.ID))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the slide-deck PDF (required)")
	cmd.Flags().StringVar(&ownerID, "owner", "", "Owner id the slides belong to (required)")
	cmd.Flags().StringVar(&courseID, "course", "", "Course id to scope the slides to (required)")
	cmd.Flags().StringVar(&title, "title", "", "Display title (default: filename stem)")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("course")

	return cmd
}

// newIngestLectureCmd builds `studybuddy ingest lecture`.
func newIngestLectureCmd() *cobra.Command {
	var file string
	var courseID string
	var title string

	cmd := &cobra.Command{
		Use:   "lecture",
		Short: "Index a lecture transcript",
		Long: `Window and index a lecture transcript.

The transcript file is a JSON array of segments:
  [{"text": "...", "start": 0, "end": 12.4}, ...]

Examples:
  studybuddy ingest lecture --file lecture04.json --course cs101 --title "Lecture 4"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("ingest: read %s: %w", file, err)
			}
			var segments []transcript.Segment
			if err := json.Unmarshal(data, &segments); err != nil {
				return fmt.Errorf("ingest: parse transcript %s: %w", file, err)
			}
			if len(segments) == 0 {
				return fmt.Errorf("ingest: transcript %s has no segments", file)
			}

			st, err := buildStack(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer st.close()

			lec := &store.Lecture{
				ID:         uuid.NewString(),
				CourseID:   courseID,
				Title:      title,
				StorageKey: "lectures/" + uuid.NewString() + "/transcript.json",
				Status:     store.StatusProcessing,
			}
			if err := st.blobs.Put(ctx, lec.StorageKey, data); err != nil {
				return fmt.Errorf("ingest: store transcript: %w", err)
			}
			if err := st.db.CreateLecture(ctx, lec); err != nil {
				return fmt.Errorf("ingest: record lecture: %w", err)
			}

			pipeline := ingest.NewLecturePipeline(st.artifacts, st.lectureIndex, float64(getEnvInt("INGEST_WINDOW_SECONDS", 0)))
			log.Info("indexing lecture", slog.String("lecture_id", lec.ID), slog.String("file", file))

			if err := pipeline.Process(ctx, ingest.LectureJob{
				LectureID: lec.ID,
				CourseID:  lec.CourseID,
				Title:     lec.Title,
				Segments:  segments,
			}); err != nil {
				_ = pipeline.Cleanup(ctx, lec.ID)
				_ = st.blobs.Delete(ctx, lec.StorageKey)
				_ = st.db.DeleteLecture(ctx, lec.ID)
				return fmt.Errorf("ingest: pipeline failed: %w", err)
			}
			if err := st.db.UpdateLectureStatus(ctx, lec.ID, store.StatusCompleted); err != nil {
				return fmt.Errorf("ingest: update status: %w", err)
			}

			log.Info("lecture indexed", slog.String("lecture_id", lec.ID))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the transcript JSON file (required)")
	cmd.Flags().StringVar(&courseID, "course", "", "Course id to scope the lecture to (required)")
	cmd.Flags().StringVar(&title, "title", "", "Display title (required)")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("course")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}
