package runtime

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// fakeModel streams a fixed message sequence and records the prompt it saw.
type fakeModel struct {
	msgs      []*schema.Message
	streamErr error
	lastInput []*schema.Message
}

func (f *fakeModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return nil, errors.New("not used")
}

func (f *fakeModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.lastInput = in
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return schema.StreamReaderFromArray(f.msgs), nil
}

func (f *fakeModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return f, nil
}

// drain collects all events until io.EOF.
func drain(t *testing.T, es EventStream) []Event {
	t.Helper()
	defer es.Close()

	var events []Event
	for {
		ev, err := es.Recv()
		if errors.Is(err, io.EOF) {
			return events
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		events = append(events, ev)
	}
}

func Test_Run_EventSequence(t *testing.T) {
	t.Parallel()

	fm := &fakeModel{msgs: []*schema.Message{
		schema.AssistantMessage("Hel", nil),
		schema.AssistantMessage("lo", nil),
		schema.AssistantMessage("!", nil),
	}}
	rt, err := New(Config{Model: fm})
	if err != nil {
		t.Fatal(err)
	}

	es, err := rt.Run(context.Background(), RunInput{Query: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	events := drain(t, es)

	wantTypes := []EventType{
		EventRunStarted,
		EventContentDelta, EventContentDelta, EventContentDelta,
		EventRunCompleted,
	}
	if len(events) != len(wantTypes) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(wantTypes), events)
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Errorf("event %d: got %s, want %s", i, events[i].Type, want)
		}
	}

	var text strings.Builder
	for _, ev := range events {
		text.WriteString(ev.Delta)
	}
	if text.String() != "Hello!" {
		t.Errorf("assembled text: %q", text.String())
	}

	last := events[len(events)-1]
	if last.MessageID == "" {
		t.Error("run-completed must carry a message id")
	}
	if events[0].RunID == "" || events[0].RunID != last.RunID {
		t.Error("run id must be stable across the run")
	}
}

func Test_Run_ReasoningAndToolEvents(t *testing.T) {
	t.Parallel()

	thinking := &schema.Message{Role: schema.Assistant, ReasoningContent: "let me check"}
	call := &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID:       "tc-1",
			Function: schema.FunctionCall{Name: "lookup", Arguments: `{"q":"x"}`},
		}},
	}
	result := &schema.Message{Role: schema.Tool, ToolCallID: "tc-1", Content: "42"}

	fm := &fakeModel{msgs: []*schema.Message{thinking, call, result, schema.AssistantMessage("done", nil)}}
	rt, err := New(Config{Model: fm})
	if err != nil {
		t.Fatal(err)
	}

	es, err := rt.Run(context.Background(), RunInput{Query: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	events := drain(t, es)

	wantTypes := []EventType{
		EventRunStarted,
		EventReasoningDelta,
		EventToolCall,
		EventToolResult,
		EventContentDelta,
		EventRunCompleted,
	}
	if len(events) != len(wantTypes) {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Errorf("event %d: got %s, want %s", i, events[i].Type, want)
		}
	}
	if events[2].ToolName != "lookup" || events[2].ToolCallID != "tc-1" {
		t.Errorf("tool call event: %+v", events[2])
	}
	if events[3].ToolOutput != "42" || events[3].ToolCallID != "tc-1" {
		t.Errorf("tool result event: %+v", events[3])
	}
}

func Test_BuildMessages_ContextAndHistoryPlacement(t *testing.T) {
	t.Parallel()

	fm := &fakeModel{}
	rt, err := New(Config{Model: fm})
	if err != nil {
		t.Fatal(err)
	}

	es, err := rt.Run(context.Background(), RunInput{
		Query:   "what is a monad",
		Context: "[1] (Slide 3) monads",
		History: []HistoryMessage{
			{Role: RoleUser, Content: "earlier question"},
			{Role: RoleAssistant, Content: "earlier answer"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	es.Close()

	in := fm.lastInput
	if len(in) != 5 {
		t.Fatalf("got %d messages: %+v", len(in), in)
	}
	if in[0].Role != schema.System || in[1].Role != schema.System {
		t.Error("system prompt and context must lead the prompt")
	}
	if !strings.Contains(in[1].Content, "(Slide 3)") {
		t.Errorf("context message: %q", in[1].Content)
	}
	if in[2].Role != schema.User || in[2].Content != "earlier question" {
		t.Errorf("history[0]: %+v", in[2])
	}
	if in[3].Role != schema.Assistant {
		t.Errorf("history[1]: %+v", in[3])
	}
	if in[4].Role != schema.User || in[4].Content != "what is a monad" {
		t.Errorf("final user message: %+v", in[4])
	}
}

func Test_BuildMessages_TrimsOldestHistory(t *testing.T) {
	t.Parallel()

	fm := &fakeModel{}
	rt, err := New(Config{Model: fm, MaxContextTokens: 200})
	if err != nil {
		t.Fatal(err)
	}

	long := strings.Repeat("w ", 200)
	_, err = rt.Run(context.Background(), RunInput{
		Query: "q",
		History: []HistoryMessage{
			{Role: RoleUser, Content: long},
			{Role: RoleAssistant, Content: long},
			{Role: RoleUser, Content: "recent"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, m := range fm.lastInput {
		if m.Role == schema.User && m.Content == long {
			t.Fatal("oldest oversized history message should have been trimmed")
		}
	}
	found := false
	for _, m := range fm.lastInput {
		if m.Content == "recent" {
			found = true
		}
	}
	if !found {
		t.Error("most recent history message should survive trimming")
	}
}

func Test_Run_StreamError(t *testing.T) {
	t.Parallel()

	fm := &fakeModel{streamErr: errors.New("model down")}
	rt, err := New(Config{Model: fm})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rt.Run(context.Background(), RunInput{Query: "hi"}); err == nil {
		t.Fatal("want error when the model stream cannot start")
	}
}
