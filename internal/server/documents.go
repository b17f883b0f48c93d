package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/studybuddy/studybuddy-go/internal/ingest"
	"github.com/studybuddy/studybuddy-go/internal/logging"
	"github.com/studybuddy/studybuddy-go/internal/store"
)

// maxUploadBytes caps document uploads at 50 MiB.
const maxUploadBytes = 50 << 20

// handleDocumentUpload handles POST /api/documents: a multipart upload with
// a "file" part and owner_id / course_id / title fields. A file whose
// checksum matches an existing document in the same (owner, course) scope is
// not re-ingested; the existing row is returned instead.
func (s *Server) handleDocumentUpload(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	ownerID := r.FormValue("owner_id")
	courseID := r.FormValue("course_id")
	if ownerID == "" || courseID == "" {
		writeError(w, http.StatusBadRequest, "owner_id and course_id are required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file part is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read upload")
		return
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		writeError(w, http.StatusBadRequest, "only PDF uploads are supported")
		return
	}

	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	existing, err := s.deps.Store.FindDocumentByChecksum(r.Context(), ownerID, courseID, checksum)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if existing != nil {
		log.Info("documents: duplicate upload", slog.String("document_id", existing.ID))
		writeJSON(w, http.StatusOK, docResponse(existing, true))
		return
	}

	title := r.FormValue("title")
	if title == "" {
		title = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}

	doc := &store.Document{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		CourseID:   courseID,
		Filename:   header.Filename,
		Title:      title,
		StorageKey: "documents/" + uuid.NewString() + "/" + filepath.Base(header.Filename),
		Checksum:   checksum,
		Status:     store.StatusUploaded,
	}

	if err := s.deps.Blobs.Put(r.Context(), doc.StorageKey, data); err != nil {
		log.Error("documents: blob write failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}
	if err := s.deps.Store.CreateDocument(r.Context(), doc); err != nil {
		writeError(w, http.StatusInternalServerError, "could not record upload")
		return
	}

	go s.processDocument(s.backgroundContext(r), doc, data)

	writeJSON(w, http.StatusAccepted, docResponse(doc, false))
}

// processDocument runs the ingestion pipeline for one uploaded document,
// tracking lifecycle status in the metadata store. A failed ingestion
// removes the document end to end — row, blob, vectors — so no
// half-complete source is ever visible or searchable.
func (s *Server) processDocument(ctx context.Context, doc *store.Document, data []byte) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.IngestTimeout)
	defer cancel()
	log := logging.FromContext(ctx).With(slog.String("document_id", doc.ID))

	if err := s.deps.Store.UpdateDocumentStatus(ctx, doc.ID, store.StatusProcessing); err != nil {
		log.Error("documents: status update failed", slog.String("error", err.Error()))
		return
	}

	job := ingest.DocumentJob{
		DocumentID: doc.ID,
		CourseID:   doc.CourseID,
		OwnerID:    doc.OwnerID,
		Title:      doc.Title,
		Data:       data,
	}
	if err := s.deps.Documents.Process(ctx, job); err != nil {
		log.Error("documents: ingestion failed", slog.String("error", err.Error()))
		s.metrics.ingestJobsTotal.WithLabelValues("document", "error").Inc()
		s.discardDocument(ctx, doc)
		return
	}

	if err := s.deps.Store.UpdateDocumentStatus(ctx, doc.ID, store.StatusCompleted); err != nil {
		log.Error("documents: status update failed", slog.String("error", err.Error()))
		return
	}
	s.metrics.ingestJobsTotal.WithLabelValues("document", "ok").Inc()
	log.Info("documents: ingestion completed")
}

// discardDocument removes a failed upload completely: pipeline leftovers,
// the raw blob, and the metadata row. The upload can then be retried from
// scratch without tripping the checksum dedup.
func (s *Server) discardDocument(ctx context.Context, doc *store.Document) {
	ctx, cancel := s.cleanupContext(ctx)
	defer cancel()
	log := logging.FromContext(ctx).With(slog.String("document_id", doc.ID))

	if err := s.deps.Documents.Cleanup(ctx, doc.ID); err != nil {
		log.Warn("documents: cleanup after failure also failed", slog.String("error", err.Error()))
	}
	if err := s.deps.Blobs.Delete(ctx, doc.StorageKey); err != nil {
		log.Warn("documents: blob delete failed", slog.String("error", err.Error()))
	}
	if err := s.deps.Store.DeleteDocument(ctx, doc.ID); err != nil {
		log.Error("documents: record delete failed", slog.String("error", err.Error()))
	}
}

// handleDocumentGet handles GET /api/documents/{id}.
func (s *Server) handleDocumentGet(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Store.GetDocument(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, docResponse(doc, false))
}

// handleDocumentDelete handles DELETE /api/documents/{id}: vectors, audit
// snapshot, raw blob, and metadata row, in that order. Deleting an unknown
// document succeeds — the end state is the same.
func (s *Server) handleDocumentDelete(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	id := r.PathValue("id")

	doc, err := s.deps.Store.GetDocument(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	if err := s.deps.Documents.Cleanup(r.Context(), id); err != nil {
		log.Error("documents: cleanup failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not delete document data")
		return
	}
	if err := s.deps.Blobs.Delete(r.Context(), doc.StorageKey); err != nil {
		log.Warn("documents: blob delete failed", slog.String("error", err.Error()))
	}
	if err := s.deps.Store.DeleteDocument(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "could not delete document record")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// docResponse maps a document row to its JSON representation.
func docResponse(d *store.Document, duplicate bool) documentResponse {
	return documentResponse{
		ID:        d.ID,
		OwnerID:   d.OwnerID,
		CourseID:  d.CourseID,
		Filename:  d.Filename,
		Title:     d.Title,
		Checksum:  d.Checksum,
		Status:    string(d.Status),
		Duplicate: duplicate,
	}
}
