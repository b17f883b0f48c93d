package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/studybuddy/studybuddy-go/internal/logging"
	"github.com/studybuddy/studybuddy-go/internal/runtime"
)

// state tracks the adapter's position in the protocol. Transitions are
// strictly forward; an upstream event that would require going backwards is
// a ProtocolError.
type state int

const (
	stateInit state = iota
	stateStarted
	stateSourcesEmitted
	stateStreaming
	stateFinished
	stateTerminated
	stateErrored
)

// ProtocolError reports an upstream event arriving out of order, e.g. a
// content token before the run started.
type ProtocolError struct {
	// Event is the offending upstream event type.
	Event runtime.EventType
	// State names the adapter state the event arrived in.
	State string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("stream: protocol violation: %s event in state %s", e.Event, e.State)
}

func (s state) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateStarted:
		return "started"
	case stateSourcesEmitted:
		return "sources-emitted"
	case stateStreaming:
		return "streaming"
	case stateFinished:
		return "finished"
	case stateTerminated:
		return "terminated"
	case stateErrored:
		return "errored"
	}
	return "unknown"
}

// Outcome summarizes a completed stream for post-completion persistence.
type Outcome struct {
	// MessageID is the runtime's persisted message id from run-completed.
	// Empty when the run never completed.
	MessageID string
	// Sources are the citation records emitted before the text.
	Sources []RAGSource
	// Finished reports whether the protocol reached finish and [DONE].
	// Cancelled or errored streams leave it false.
	Finished bool
}

// blockKind distinguishes the open streaming block, if any.
type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockReasoning
)

// Adapter translates one model run into the wire protocol. It is single-use:
// construct, Run, discard.
type Adapter struct {
	w       *sseWriter
	sources []RAGSource

	state   state
	block   blockKind
	blockID string
	outcome Outcome
}

// NewAdapter builds an adapter writing to w. sources are the citations to
// emit between start and the first text block; the slice is sent verbatim,
// already ordered and numbered by the formatter.
func NewAdapter(w http.ResponseWriter, sources []RAGSource) *Adapter {
	return &Adapter{w: newSSEWriter(w), sources: sources}
}

// Run consumes events until the upstream stream ends, translating each into
// its wire counterpart. On upstream or write error it emits a terminal error
// event (when the client is still writable) and returns the error. When ctx
// is cancelled the upstream stream is closed and the protocol is abandoned
// without finish or [DONE], so the client can detect the truncation.
func (a *Adapter) Run(ctx context.Context, events runtime.EventStream) (Outcome, error) {
	defer events.Close()
	log := logging.FromContext(ctx)

	for {
		if err := ctx.Err(); err != nil {
			a.state = stateTerminated
			log.Debug("stream: cancelled", slog.String("reason", err.Error()))
			return a.outcome, err
		}

		ev, err := events.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if a.state != stateFinished {
					// The model stream died without completing the run; the
					// client gets told why instead of a silent hangup.
					return a.fail(log, &ProtocolError{Event: "upstream-eof", State: a.state.String()})
				}
				return a.finishProtocol()
			}
			if ctx.Err() != nil {
				a.state = stateTerminated
				return a.outcome, ctx.Err()
			}
			return a.fail(log, err)
		}

		if err := a.handle(ev); err != nil {
			return a.fail(log, err)
		}
	}
}

// handle translates one upstream event, enforcing protocol order.
func (a *Adapter) handle(ev runtime.Event) error {
	switch ev.Type {
	case runtime.EventRunStarted:
		if a.state != stateInit {
			return &ProtocolError{Event: ev.Type, State: a.state.String()}
		}
		if err := a.w.writeEvent(startEvent{Type: "start", MessageID: uuid.NewString()}); err != nil {
			return err
		}
		a.state = stateStarted
		return a.emitSources()

	case runtime.EventContentDelta:
		return a.delta(ev, blockText)

	case runtime.EventReasoningDelta:
		return a.delta(ev, blockReasoning)

	case runtime.EventToolCall:
		if a.state != stateSourcesEmitted && a.state != stateStreaming {
			return &ProtocolError{Event: ev.Type, State: a.state.String()}
		}
		if err := a.closeBlock(); err != nil {
			return err
		}
		if err := a.w.writeEvent(toolInputStartEvent{Type: "tool-input-start", ToolCallID: ev.ToolCallID, ToolName: ev.ToolName}); err != nil {
			return err
		}
		return a.w.writeEvent(toolInputAvailableEvent{Type: "tool-input-available", ToolCallID: ev.ToolCallID, ToolName: ev.ToolName, Input: ev.ToolInput})

	case runtime.EventToolResult:
		if a.state != stateSourcesEmitted && a.state != stateStreaming {
			return &ProtocolError{Event: ev.Type, State: a.state.String()}
		}
		return a.w.writeEvent(toolOutputAvailableEvent{Type: "tool-output-available", ToolCallID: ev.ToolCallID, Output: ev.ToolOutput})

	case runtime.EventRunCompleted:
		if a.state != stateSourcesEmitted && a.state != stateStreaming {
			return &ProtocolError{Event: ev.Type, State: a.state.String()}
		}
		if err := a.closeBlock(); err != nil {
			return err
		}
		if err := a.w.writeEvent(finishEvent{Type: "finish"}); err != nil {
			return err
		}
		a.outcome.MessageID = ev.MessageID
		a.state = stateFinished
		return nil

	default:
		return &ProtocolError{Event: ev.Type, State: a.state.String()}
	}
}

// emitSources sends the source-document / data-rag-source pair for every
// citation, all before any text block opens.
func (a *Adapter) emitSources() error {
	for _, src := range a.sources {
		if err := a.w.writeEvent(sourceDocumentEvent{
			Type:      "source-document",
			SourceID:  src.SourceID,
			MediaType: src.SourceType,
			Title:     src.Title,
		}); err != nil {
			return err
		}
		if err := a.w.writeEvent(dataRAGSourceEvent{Type: "data-rag-source", Data: src}); err != nil {
			return err
		}
	}
	a.outcome.Sources = a.sources
	a.state = stateSourcesEmitted
	return nil
}

// delta emits one token batch, opening or switching the streaming block as
// needed. Text and reasoning blocks never interleave within one block id.
func (a *Adapter) delta(ev runtime.Event, kind blockKind) error {
	if a.state != stateSourcesEmitted && a.state != stateStreaming {
		return &ProtocolError{Event: ev.Type, State: a.state.String()}
	}
	if a.block != kind {
		if err := a.closeBlock(); err != nil {
			return err
		}
		a.block = kind
		a.blockID = uuid.NewString()
		if err := a.w.writeEvent(textStartEvent{Type: startType(kind), ID: a.blockID}); err != nil {
			return err
		}
	}
	a.state = stateStreaming
	return a.w.writeEvent(textDeltaEvent{Type: deltaType(kind), ID: a.blockID, Delta: ev.Delta})
}

// closeBlock ends the open text or reasoning block, if any.
func (a *Adapter) closeBlock() error {
	if a.block == blockNone {
		return nil
	}
	kind := a.block
	a.block = blockNone
	return a.w.writeEvent(textEndEvent{Type: endType(kind), ID: a.blockID})
}

// finishProtocol terminates a completed stream with [DONE].
func (a *Adapter) finishProtocol() (Outcome, error) {
	if err := a.w.writeDone(); err != nil {
		return a.outcome, err
	}
	a.state = stateTerminated
	a.outcome.Finished = true
	return a.outcome, nil
}

// fail emits the terminal error event and [DONE]. Write failures while
// reporting are ignored: the client is already gone.
func (a *Adapter) fail(log *slog.Logger, cause error) (Outcome, error) {
	log.Warn("stream: terminating with error", slog.String("error", cause.Error()))
	a.state = stateErrored
	_ = a.closeBlock()
	_ = a.w.writeEvent(errorEvent{Type: "error", ErrorText: cause.Error()})
	_ = a.w.writeDone()
	a.state = stateTerminated
	return a.outcome, cause
}

func startType(k blockKind) string {
	if k == blockReasoning {
		return "reasoning-start"
	}
	return "text-start"
}

func deltaType(k blockKind) string {
	if k == blockReasoning {
		return "reasoning-delta"
	}
	return "text-delta"
}

func endType(k blockKind) string {
	if k == blockReasoning {
		return "reasoning-end"
	}
	return "text-end"
}
