// Package stream translates the internal model-run event stream into the
// client-facing wire protocol: typed JSON events over SSE framing, with a
// strict emission order for citation metadata and generated text.
package stream

// ProtocolHeader is the response header declaring the wire protocol version,
// so clients can select a compatible parser.
const (
	ProtocolHeader  = "x-studybuddy-stream"
	ProtocolVersion = "v1"
)

// RAGSource is the wire-format citation record sent to the client and
// persisted per message. It mirrors the internal retrieval result but is a
// distinct type: the two are joined only by an explicit mapping.
type RAGSource struct {
	// SourceID uniquely identifies this citation within the response.
	SourceID string `json:"source_id"`
	// SourceType is "slide" or "lecture".
	SourceType string `json:"source_type"`
	// ContentPreview is a short excerpt of the retrieved chunk.
	ContentPreview string `json:"content_preview"`
	// ChunkNumber is the response-local 1-indexed citation number.
	ChunkNumber int `json:"chunk_number"`
	// DocumentID locates slide sources.
	DocumentID string `json:"document_id,omitempty"`
	// SlideNumber is the original slide number for slide sources.
	SlideNumber int `json:"slide_number,omitempty"`
	// LectureID locates lecture sources.
	LectureID string `json:"lecture_id,omitempty"`
	// StartSeconds is the window start for lecture sources.
	StartSeconds float64 `json:"start_seconds,omitempty"`
	// EndSeconds is the window end for lecture sources.
	EndSeconds float64 `json:"end_seconds,omitempty"`
	// CourseID scopes the source to a course.
	CourseID string `json:"course_id,omitempty"`
	// OwnerID is the uploading actor for slide sources.
	OwnerID string `json:"owner_id,omitempty"`
	// Title is the source document or lecture title.
	Title string `json:"title,omitempty"`
}

// Wire event payloads. Every event carries a "type" discriminator; field
// names follow the protocol the web client already parses.

type startEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

type sourceDocumentEvent struct {
	Type      string `json:"type"`
	SourceID  string `json:"sourceId"`
	MediaType string `json:"mediaType"`
	Title     string `json:"title,omitempty"`
}

type dataRAGSourceEvent struct {
	Type string    `json:"type"`
	Data RAGSource `json:"data"`
}

type textStartEvent struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type textDeltaEvent struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Delta string `json:"delta"`
}

type textEndEvent struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type toolInputStartEvent struct {
	Type       string `json:"type"`
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
}

type toolInputAvailableEvent struct {
	Type       string `json:"type"`
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
	Input      string `json:"input"`
}

type toolOutputAvailableEvent struct {
	Type       string `json:"type"`
	ToolCallID string `json:"toolCallId"`
	Output     string `json:"output"`
}

type finishEvent struct {
	Type string `json:"type"`
}

type errorEvent struct {
	Type      string `json:"type"`
	ErrorText string `json:"errorText"`
}
