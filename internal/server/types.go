package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/studybuddy/studybuddy-go/internal/ingest"
	"github.com/studybuddy/studybuddy-go/internal/retrieval"
	"github.com/studybuddy/studybuddy-go/internal/runtime"
	"github.com/studybuddy/studybuddy-go/internal/storage"
	"github.com/studybuddy/studybuddy-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// IngestTimeout bounds one background ingestion job, including every
	// provider call it makes. Defaults to 15 minutes — generous for large
	// decks, but no job runs forever.
	IngestTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default() is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Registry receives the server's Prometheus metrics. If nil, a private
	// registry is created; /metrics always serves whichever is in use.
	Registry *prometheus.Registry
}

// Retriever runs the two-phase scoped retrieval for one chat turn.
// *retrieval.DualRetriever satisfies it; tests inject a fake.
type Retriever interface {
	Retrieve(ctx context.Context, query string, scope retrieval.Scope) ([]retrieval.Result, error)
}

// DocumentProcessor ingests and cleans up slide decks.
// *ingest.DocumentPipeline satisfies it; tests inject a fake.
type DocumentProcessor interface {
	Process(ctx context.Context, job ingest.DocumentJob) error
	Cleanup(ctx context.Context, documentID string) error
}

// LectureProcessor ingests and cleans up lecture transcripts.
// *ingest.LecturePipeline satisfies it; tests inject a fake.
type LectureProcessor interface {
	Process(ctx context.Context, job ingest.LectureJob) error
	Cleanup(ctx context.Context, lectureID string) error
}

// Deps are the collaborators the server dispatches requests to.
type Deps struct {
	// Store is the SQLite metadata store.
	Store *store.Store
	// Blobs stores raw uploads.
	Blobs storage.Blob
	// Documents is the slide-deck ingestion pipeline.
	Documents DocumentProcessor
	// Lectures is the lecture-transcript ingestion pipeline.
	Lectures LectureProcessor
	// Retriever answers chat-scope retrievals.
	Retriever Retriever
	// Runner executes chat model runs.
	Runner runtime.Runner
}

// Server is the HTTP server for the study assistant API.
type Server struct {
	// cfg holds the resolved server configuration.
	cfg *Config
	// deps holds the request collaborators.
	deps Deps
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// metrics holds this instance's Prometheus metrics.
	metrics *serverMetrics
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// Message is the student's question.
	Message string `json:"message"`
	// OwnerID identifies the requesting student. Required.
	OwnerID string `json:"owner_id"`
	// CourseID scopes retrieval to one course. Required.
	CourseID string `json:"course_id"`
	// DocumentID optionally narrows slide retrieval to one document.
	DocumentID string `json:"document_id,omitempty"`
	// LectureID optionally narrows lecture retrieval to one lecture.
	LectureID string `json:"lecture_id,omitempty"`
	// Ordering selects citation ordering: "relevance" (default) or
	// "chronological".
	Ordering string `json:"ordering,omitempty"`
	// History is the prior conversation, oldest first.
	History []chatHistoryMessage `json:"history,omitempty"`
}

// chatHistoryMessage is one prior turn in the chat request.
type chatHistoryMessage struct {
	// Role is "user" or "assistant".
	Role string `json:"role"`
	// Content is the message text.
	Content string `json:"content"`
}

// documentResponse is the JSON representation of a document row.
type documentResponse struct {
	ID       string `json:"id"`
	OwnerID  string `json:"owner_id"`
	CourseID string `json:"course_id"`
	Filename string `json:"filename"`
	Title    string `json:"title"`
	Checksum string `json:"checksum"`
	Status   string `json:"status"`
	// Duplicate is true when the upload matched an existing document by
	// checksum and no new ingestion was started.
	Duplicate bool `json:"duplicate,omitempty"`
}

// lectureResponse is the JSON representation of a lecture row.
type lectureResponse struct {
	ID       string `json:"id"`
	CourseID string `json:"course_id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
}

// errorResponse is the JSON error body for non-streaming failures.
type errorResponse struct {
	Error string `json:"error"`
}
