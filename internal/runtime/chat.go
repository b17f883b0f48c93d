package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/studybuddy/studybuddy-go/internal/budget"
)

// systemPrompt is the fixed instruction for the study assistant. Citation
// numbers refer to the numbered context block injected per turn.
const systemPrompt = `You are StudyBuddy, a study assistant for university courses.
Answer the student's question using the numbered course material provided in the context block.
Cite material inline with its bracketed number, e.g. [2], whenever you rely on it.
When the context does not cover the question, say so and answer from general knowledge without fabricating citations.
Be concise and precise; prefer the terminology used in the course material.`

// Config tunes the chat runtime.
type Config struct {
	// Model is the streaming chat model. Required.
	Model model.ToolCallingChatModel
	// MaxContextTokens is the estimated token budget for the full input
	// context. History is trimmed oldest-first to fit. Defaults to
	// budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int
}

// ChatRuntime adapts an eino chat model to the EventStream contract.
type ChatRuntime struct {
	model            model.ToolCallingChatModel
	maxContextTokens int
}

// New constructs a ChatRuntime from the provided Config.
func New(cfg Config) (*ChatRuntime, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("runtime: Model must not be nil")
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}
	return &ChatRuntime{model: cfg.Model, maxContextTokens: maxCtx}, nil
}

// Run starts one model turn and returns its event stream. The stream emits
// run-started first, then content and tool events as the model produces
// them, then run-completed carrying the runtime message id, then io.EOF.
func (r *ChatRuntime) Run(ctx context.Context, in RunInput) (EventStream, error) {
	messages := r.buildMessages(in)

	sr, err := r.model.Stream(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("runtime: stream failed: %w", err)
	}

	return &modelStream{
		sr:        sr,
		runID:     uuid.NewString(),
		messageID: uuid.NewString(),
	}, nil
}

// buildMessages assembles the prompt: system instruction, budget-trimmed
// history, the retrieval context as a second system message, and the query.
func (r *ChatRuntime) buildMessages(in RunInput) []*schema.Message {
	fixed := []*schema.Message{schema.SystemMessage(systemPrompt)}
	if in.Context != "" {
		fixed = append(fixed, schema.SystemMessage("Course material context:\n"+in.Context))
	}
	userMsg := schema.UserMessage(in.Query)

	history := make([]*schema.Message, 0, len(in.History))
	for _, m := range in.History {
		switch m.Role {
		case RoleAssistant:
			history = append(history, schema.AssistantMessage(m.Content, nil))
		default:
			history = append(history, schema.UserMessage(m.Content))
		}
	}
	history = budget.TrimHistory(append(fixed, userMsg), history, r.maxContextTokens)

	messages := make([]*schema.Message, 0, len(fixed)+len(history)+1)
	messages = append(messages, fixed...)
	messages = append(messages, history...)
	messages = append(messages, userMsg)
	return messages
}

// modelStream translates the eino message stream into runtime events.
type modelStream struct {
	sr        *schema.StreamReader[*schema.Message]
	runID     string
	messageID string

	started   bool
	completed bool
	// pending holds events decoded from a single model message that carried
	// more than one payload (e.g. reasoning plus content).
	pending []Event
}

// Recv returns the next event, io.EOF after run-completed, or the upstream
// error.
func (s *modelStream) Recv() (Event, error) {
	if !s.started {
		s.started = true
		return Event{Type: EventRunStarted, RunID: s.runID}, nil
	}
	if len(s.pending) > 0 {
		ev := s.pending[0]
		s.pending = s.pending[1:]
		return ev, nil
	}
	if s.completed {
		return Event{}, io.EOF
	}

	for {
		msg, err := s.sr.Recv()
		if errors.Is(err, io.EOF) {
			s.completed = true
			return Event{Type: EventRunCompleted, RunID: s.runID, MessageID: s.messageID}, nil
		}
		if err != nil {
			return Event{}, fmt.Errorf("runtime: stream receive error: %w", err)
		}
		if msg == nil {
			continue
		}

		events := messageEvents(msg)
		if len(events) == 0 {
			continue
		}
		s.pending = events[1:]
		return events[0], nil
	}
}

// Close releases the underlying model stream.
func (s *modelStream) Close() {
	s.sr.Close()
}

// messageEvents decodes one streamed model message into zero or more events.
func messageEvents(msg *schema.Message) []Event {
	var events []Event
	if msg.ReasoningContent != "" {
		events = append(events, Event{Type: EventReasoningDelta, Delta: msg.ReasoningContent})
	}
	for _, tc := range msg.ToolCalls {
		events = append(events, Event{
			Type:       EventToolCall,
			ToolCallID: tc.ID,
			ToolName:   tc.Function.Name,
			ToolInput:  tc.Function.Arguments,
		})
	}
	if msg.Content != "" {
		switch msg.Role {
		case schema.Tool:
			events = append(events, Event{
				Type:       EventToolResult,
				ToolCallID: msg.ToolCallID,
				ToolOutput: msg.Content,
			})
		default:
			events = append(events, Event{Type: EventContentDelta, Delta: msg.Content})
		}
	}
	return events
}
