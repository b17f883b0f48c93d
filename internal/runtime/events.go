// Package runtime runs the chat model and exposes the run as a sequential
// stream of typed events. The stream package translates these events into
// the client wire protocol; nothing here knows about SSE.
package runtime

import (
	"context"
)

// EventType discriminates internal model-run events.
type EventType string

const (
	// EventRunStarted is emitted once, before any generated content.
	EventRunStarted EventType = "run-started"
	// EventContentDelta carries one generated text token batch.
	EventContentDelta EventType = "content-delta"
	// EventReasoningDelta carries one reasoning token batch.
	EventReasoningDelta EventType = "reasoning-delta"
	// EventToolCall announces a tool invocation requested by the model.
	EventToolCall EventType = "tool-call"
	// EventToolResult carries a tool invocation's output.
	EventToolResult EventType = "tool-result"
	// EventRunCompleted is emitted once, after all content. It carries the
	// runtime's message id under which the turn is persisted.
	EventRunCompleted EventType = "run-completed"
)

// Event is one element of the model-run stream. Only the fields relevant to
// the Type are populated.
type Event struct {
	// Type discriminates the event.
	Type EventType
	// RunID is the upstream run identifier (run-started, run-completed).
	RunID string
	// MessageID is the runtime's persisted message id (run-completed only).
	// It differs from any streaming id a downstream protocol assigns.
	MessageID string
	// Delta is the token batch (content-delta, reasoning-delta).
	Delta string
	// ToolCallID identifies a tool invocation (tool-call, tool-result).
	ToolCallID string
	// ToolName is the invoked tool's name (tool-call).
	ToolName string
	// ToolInput is the JSON-encoded tool arguments (tool-call).
	ToolInput string
	// ToolOutput is the tool's result (tool-result).
	ToolOutput string
}

// EventStream is a sequential, single-consumer event source. Recv blocks
// until the next event, returns io.EOF after the final event, or any other
// error on upstream failure. Close releases the upstream model stream and
// must be safe to call at any point, including mid-stream on cancellation.
type EventStream interface {
	Recv() (Event, error)
	Close()
}

// Runner starts a model run for one chat turn. Implementations must bound
// the run by the supplied context.
type Runner interface {
	Run(ctx context.Context, in RunInput) (EventStream, error)
}

// RunInput is everything a single chat turn needs.
type RunInput struct {
	// Query is the user's message.
	Query string
	// Context is the lean retrieval context injected ahead of the query.
	// Empty when retrieval found nothing.
	Context string
	// History is the prior conversation, oldest first, as (role, content)
	// pairs already trimmed by the caller or trimmed here by token budget.
	History []HistoryMessage
}

// HistoryRole identifies the author of a history message.
type HistoryRole string

const (
	// RoleUser is a message sent by the student.
	RoleUser HistoryRole = "user"
	// RoleAssistant is a prior model response.
	RoleAssistant HistoryRole = "assistant"
)

// HistoryMessage is one prior conversation turn.
type HistoryMessage struct {
	// Role is the author of the message.
	Role HistoryRole
	// Content is the text of the message.
	Content string
}
