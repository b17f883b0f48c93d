package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/studybuddy/studybuddy-go/internal/artifact"
	"github.com/studybuddy/studybuddy-go/internal/logging"
	"github.com/studybuddy/studybuddy-go/internal/transcript"
)

// LectureJob describes one lecture-transcript ingestion.
type LectureJob struct {
	// LectureID is the metadata-store lecture id.
	LectureID string
	// CourseID scopes the lecture to a course.
	CourseID string
	// Title is the display title carried into chunk metadata.
	Title string
	// Segments is the timestamped transcript.
	Segments []transcript.Segment
}

// LecturePipeline processes lecture transcripts into fixed-duration windows.
type LecturePipeline struct {
	artifacts *artifact.Store
	index     Indexer
	// windowSeconds is the target window duration.
	windowSeconds float64
}

// NewLecturePipeline constructs a LecturePipeline. A non-positive window
// falls back to transcript.DefaultWindowSeconds.
func NewLecturePipeline(artifacts *artifact.Store, index Indexer, windowSeconds float64) *LecturePipeline {
	if windowSeconds <= 0 {
		windowSeconds = transcript.DefaultWindowSeconds
	}
	return &LecturePipeline{
		artifacts:     artifacts,
		index:         index,
		windowSeconds: windowSeconds,
	}
}

// Process windows the transcript, writes the audit snapshot, and indexes
// every window. A transcript with no valid segments is an error: the lecture
// would be invisible to retrieval with no signal to the uploader.
func (p *LecturePipeline) Process(ctx context.Context, job LectureJob) error {
	log := logging.FromContext(ctx).With(slog.String("lecture_id", job.LectureID))

	chunks := transcript.Window(job.Segments, p.windowSeconds)
	if len(chunks) == 0 {
		return fmt.Errorf("ingest: lecture %s has no usable transcript segments", job.LectureID)
	}

	snap := &artifact.LectureSnapshot{
		LectureID:            job.LectureID,
		CourseID:             job.CourseID,
		ChunkDurationSeconds: p.windowSeconds,
	}
	for _, c := range chunks {
		snap.Chunks = append(snap.Chunks, artifact.LectureChunk{
			ChunkIndex:   c.Index,
			Start:        c.Start,
			End:          c.End,
			Duration:     c.End - c.Start,
			SegmentCount: c.SegmentCount,
			Text:         c.Text,
		})
	}
	if err := p.artifacts.SaveLecture(ctx, snap); err != nil {
		return fmt.Errorf("ingest: lecture %s: %w", job.LectureID, err)
	}

	for _, c := range chunks {
		meta := map[string]string{
			"lecture_id":    job.LectureID,
			"course_id":     job.CourseID,
			"chunk_index":   strconv.Itoa(c.Index),
			"start_seconds": strconv.FormatFloat(c.Start, 'f', -1, 64),
			"end_seconds":   strconv.FormatFloat(c.End, 'f', -1, 64),
			"title":         job.Title,
		}
		if err := p.index.Add(ctx, c.Text, meta); err != nil {
			if cerr := p.Cleanup(ctx, job.LectureID); cerr != nil {
				log.Warn("ingest: cleanup after failed indexing also failed",
					slog.String("error", cerr.Error()),
				)
			}
			return fmt.Errorf("ingest: index window %d of lecture %s: %w", c.Index, job.LectureID, err)
		}
	}

	log.Info("ingest: lecture indexed", slog.Int("windows", len(chunks)))
	return nil
}

// Cleanup removes the lecture's vectors and snapshot. Safe for lectures that
// never finished processing.
func (p *LecturePipeline) Cleanup(ctx context.Context, lectureID string) error {
	var errs []error
	if err := p.index.DeleteByMetadata(ctx, map[string]string{"lecture_id": lectureID}); err != nil {
		errs = append(errs, err)
	}
	if err := p.artifacts.DeleteLecture(ctx, lectureID); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("ingest: cleanup lecture %s: %w", lectureID, errors.Join(errs...))
	}
	return nil
}
