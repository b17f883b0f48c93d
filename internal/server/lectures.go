package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/studybuddy/studybuddy-go/internal/ingest"
	"github.com/studybuddy/studybuddy-go/internal/logging"
	"github.com/studybuddy/studybuddy-go/internal/store"
	"github.com/studybuddy/studybuddy-go/internal/transcript"
)

// lectureCreateRequest is the JSON body for POST /api/lectures.
type lectureCreateRequest struct {
	// CourseID scopes the lecture to a course. Required.
	CourseID string `json:"course_id"`
	// Title is the display title. Required.
	Title string `json:"title"`
	// Segments is the timestamped transcript from the transcription service.
	Segments []transcript.Segment `json:"segments"`
}

// handleLectureCreate handles POST /api/lectures: store the raw transcript
// and ingest it in the background. Lecture content is shared within the
// course, so no owner is recorded.
func (s *Server) handleLectureCreate(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req lectureCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CourseID == "" || req.Title == "" {
		writeError(w, http.StatusBadRequest, "course_id and title are required")
		return
	}
	if len(req.Segments) == 0 {
		writeError(w, http.StatusBadRequest, "segments are required")
		return
	}

	lec := &store.Lecture{
		ID:         uuid.NewString(),
		CourseID:   req.CourseID,
		Title:      req.Title,
		StorageKey: "lectures/" + uuid.NewString() + "/transcript.json",
		Status:     store.StatusUploaded,
	}

	raw, err := json.Marshal(req.Segments)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid segments")
		return
	}
	if err := s.deps.Blobs.Put(r.Context(), lec.StorageKey, raw); err != nil {
		log.Error("lectures: blob write failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not store transcript")
		return
	}
	if err := s.deps.Store.CreateLecture(r.Context(), lec); err != nil {
		writeError(w, http.StatusInternalServerError, "could not record lecture")
		return
	}

	go s.processLecture(s.backgroundContext(r), lec, req.Segments)

	writeJSON(w, http.StatusAccepted, lecResponse(lec))
}

// processLecture runs the ingestion pipeline for one lecture transcript,
// tracking lifecycle status in the metadata store. A failed ingestion
// removes the lecture end to end so no half-complete source stays visible.
func (s *Server) processLecture(ctx context.Context, lec *store.Lecture, segments []transcript.Segment) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.IngestTimeout)
	defer cancel()
	log := logging.FromContext(ctx).With(slog.String("lecture_id", lec.ID))

	if err := s.deps.Store.UpdateLectureStatus(ctx, lec.ID, store.StatusProcessing); err != nil {
		log.Error("lectures: status update failed", slog.String("error", err.Error()))
		return
	}

	job := ingest.LectureJob{
		LectureID: lec.ID,
		CourseID:  lec.CourseID,
		Title:     lec.Title,
		Segments:  segments,
	}
	if err := s.deps.Lectures.Process(ctx, job); err != nil {
		log.Error("lectures: ingestion failed", slog.String("error", err.Error()))
		s.metrics.ingestJobsTotal.WithLabelValues("lecture", "error").Inc()
		s.discardLecture(ctx, lec)
		return
	}

	if err := s.deps.Store.UpdateLectureStatus(ctx, lec.ID, store.StatusCompleted); err != nil {
		log.Error("lectures: status update failed", slog.String("error", err.Error()))
		return
	}
	s.metrics.ingestJobsTotal.WithLabelValues("lecture", "ok").Inc()
	log.Info("lectures: ingestion completed")
}

// discardLecture removes a failed lecture completely: pipeline leftovers,
// the raw transcript blob, and the metadata row.
func (s *Server) discardLecture(ctx context.Context, lec *store.Lecture) {
	ctx, cancel := s.cleanupContext(ctx)
	defer cancel()
	log := logging.FromContext(ctx).With(slog.String("lecture_id", lec.ID))

	if err := s.deps.Lectures.Cleanup(ctx, lec.ID); err != nil {
		log.Warn("lectures: cleanup after failure also failed", slog.String("error", err.Error()))
	}
	if err := s.deps.Blobs.Delete(ctx, lec.StorageKey); err != nil {
		log.Warn("lectures: blob delete failed", slog.String("error", err.Error()))
	}
	if err := s.deps.Store.DeleteLecture(ctx, lec.ID); err != nil {
		log.Error("lectures: record delete failed", slog.String("error", err.Error()))
	}
}

// handleLectureGet handles GET /api/lectures/{id}.
func (s *Server) handleLectureGet(w http.ResponseWriter, r *http.Request) {
	lec, err := s.deps.Store.GetLecture(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "lecture not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, lecResponse(lec))
}

// handleLectureDelete handles DELETE /api/lectures/{id}, removing vectors,
// snapshot, raw transcript, and the metadata row.
func (s *Server) handleLectureDelete(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	id := r.PathValue("id")

	lec, err := s.deps.Store.GetLecture(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	if err := s.deps.Lectures.Cleanup(r.Context(), id); err != nil {
		log.Error("lectures: cleanup failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not delete lecture data")
		return
	}
	if err := s.deps.Blobs.Delete(r.Context(), lec.StorageKey); err != nil {
		log.Warn("lectures: blob delete failed", slog.String("error", err.Error()))
	}
	if err := s.deps.Store.DeleteLecture(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "could not delete lecture record")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// lecResponse maps a lecture row to its JSON representation.
func lecResponse(l *store.Lecture) lectureResponse {
	return lectureResponse{
		ID:       l.ID,
		CourseID: l.CourseID,
		Title:    l.Title,
		Status:   string(l.Status),
	}
}
