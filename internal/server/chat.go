package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/studybuddy/studybuddy-go/internal/logging"
	"github.com/studybuddy/studybuddy-go/internal/retrieval"
	"github.com/studybuddy/studybuddy-go/internal/runtime"
	"github.com/studybuddy/studybuddy-go/internal/stream"
)

// handleChat handles POST /api/chat: retrieve scoped course material, run
// the model, and stream the response as protocol events over SSE. Citation
// records are persisted after the run completes, keyed by the runtime's
// message id.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	scope := retrieval.Scope{
		OwnerID:    req.OwnerID,
		CourseID:   req.CourseID,
		DocumentID: req.DocumentID,
		LectureID:  req.LectureID,
	}
	results, err := s.deps.Retriever.Retrieve(r.Context(), req.Message, scope)
	if err != nil {
		if errors.Is(err, retrieval.ErrMissingScope) {
			writeError(w, http.StatusBadRequest, "owner_id and course_id are required")
			return
		}
		writeError(w, http.StatusBadGateway, "retrieval failed")
		return
	}

	ordering := retrieval.OrderRelevance
	if req.Ordering == string(retrieval.OrderChronological) {
		ordering = retrieval.OrderChronological
	}
	ordered, leanContext := retrieval.Format(results, ordering)
	sources := retrieval.ToRAGSources(ordered)

	history := make([]runtime.HistoryMessage, 0, len(req.History))
	for _, m := range req.History {
		role := runtime.RoleUser
		if m.Role == string(runtime.RoleAssistant) {
			role = runtime.RoleAssistant
		}
		history = append(history, runtime.HistoryMessage{Role: role, Content: m.Content})
	}

	events, err := s.deps.Runner.Run(r.Context(), runtime.RunInput{
		Query:   req.Message,
		Context: leanContext,
		History: history,
	})
	if err != nil {
		log.Error("chat: model run failed to start", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "model unavailable")
		return
	}

	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()
	start := time.Now()

	outcome, err := stream.NewAdapter(w, sources).Run(r.Context(), events)

	elapsed := time.Since(start).Seconds()
	switch {
	case err == nil:
		s.metrics.chatRequestsTotal.WithLabelValues("ok").Inc()
		s.metrics.chatDurationSeconds.WithLabelValues("ok").Observe(elapsed)
	case r.Context().Err() != nil:
		s.metrics.chatRequestsTotal.WithLabelValues("cancelled").Inc()
		s.metrics.chatDurationSeconds.WithLabelValues("cancelled").Observe(elapsed)
	default:
		s.metrics.chatRequestsTotal.WithLabelValues("error").Inc()
		s.metrics.chatDurationSeconds.WithLabelValues("error").Observe(elapsed)
		log.Warn("chat: stream ended with error", slog.String("error", err.Error()))
	}

	s.persistSources(r, outcome)
}

// persistSources stores the emitted citations under the runtime message id.
// Only fully finished streams are persisted; failures are logged, never
// surfaced — the response is already on the wire.
func (s *Server) persistSources(r *http.Request, outcome stream.Outcome) {
	if !outcome.Finished || outcome.MessageID == "" || len(outcome.Sources) == 0 {
		return
	}
	log := logging.FromContext(r.Context())

	payloads := make([]json.RawMessage, 0, len(outcome.Sources))
	for _, src := range outcome.Sources {
		b, err := json.Marshal(src)
		if err != nil {
			log.Warn("chat: could not marshal source for persistence", slog.String("error", err.Error()))
			return
		}
		payloads = append(payloads, b)
	}
	if err := s.deps.Store.SaveMessageSources(r.Context(), outcome.MessageID, payloads); err != nil {
		log.Warn("chat: could not persist message sources",
			slog.String("message_id", outcome.MessageID),
			slog.String("error", err.Error()),
		)
	}
}

// handleMessageSources handles GET /api/messages/{id}/sources, returning the
// citation records persisted for one assistant message. Unknown ids return
// an empty list, not 404: the message may simply have had no sources.
func (s *Server) handleMessageSources(w http.ResponseWriter, r *http.Request) {
	messageID := r.PathValue("id")
	payloads, err := s.deps.Store.MessageSources(r.Context(), messageID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load sources")
		return
	}
	if payloads == nil {
		payloads = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, payloads)
}
