package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"toolbridge/internal/conversation"
	"toolbridge/internal/extract"
	"toolbridge/internal/logging"
	"toolbridge/internal/tools"
)

// State is the phase of a turn.
type State string

const (
	StateAwaitingModel     State = "awaiting_model"
	StateEmittingText      State = "emitting_text"
	StateToolCallsDetected State = "tool_calls_detected"
	StateExecutingTools    State = "executing_tools"
	StateDone              State = "done"
)

// EventKind discriminates Event.
type EventKind int

const (
	EventState EventKind = iota
	EventText
	EventToolCall
	EventToolResult
)

// Event reports progress of a turn to the caller.
type Event struct {
	Kind  EventKind
	Round int

	State  State                    // EventState
	Text   string                   // EventText
	Call   *conversation.ToolCall   // EventToolCall
	Result *conversation.ToolResult // EventToolResult
}

// Handler receives events synchronously, in order.
type Handler func(Event)

// Outcome summarizes a finished turn.
type Outcome struct {
	// Messages are the entries appended to the log during the turn.
	Messages []conversation.Message
	// Content is the caller-visible text of the final model response.
	Content      string
	Rounds       int
	LimitReached bool
}

// response is one model response with its tool calls picked out.
type response struct {
	raw   string
	text  string
	calls []conversation.ToolCall
}

type turn struct {
	o       *Orchestrator
	log     *conversation.Log
	handler Handler
	round   int
	out     *Outcome
}

func (t *turn) emit(ev Event) {
	if t.handler == nil {
		return
	}
	ev.Round = t.round
	t.handler(ev)
}

func (t *turn) state(s State) {
	t.emit(Event{Kind: EventState, State: s})
}

func (t *turn) append(m conversation.Message) conversation.Message {
	stored := t.log.Append(m)
	t.out.Messages = append(t.out.Messages, stored)
	return stored
}

// Run drives one turn over log: the model is streamed, its tool calls are
// executed in declaration order and their results appended, until the
// model responds without tool calls or the round limit is hit. Text is
// forwarded to handler as it arrives, with tool-call JSON removed.
//
// Hitting the round limit appends a failed result for every pending call
// and returns the outcome with an error wrapping tools.ErrToolLoopLimit.
func (o *Orchestrator) Run(ctx context.Context, log *conversation.Log, handler Handler) (*Outcome, error) {
	t := &turn{o: o, log: log, handler: handler, out: &Outcome{}}
	defs := o.Definitions(ctx)

	for {
		t.state(StateAwaitingModel)
		resp, err := t.stream(ctx, defs)
		if err != nil {
			return t.out, err
		}
		t.out.Content = resp.text

		msg := conversation.NewMessage(conversation.RoleAssistant, resp.raw)
		if len(resp.calls) == 0 {
			t.append(msg)
			t.state(StateDone)
			return t.out, nil
		}

		t.state(StateToolCallsDetected)
		msg.ToolCalls = resp.calls
		stored := t.append(msg)

		if t.round >= o.maxRounds {
			return t.out, t.abandon(stored.ToolCalls)
		}

		t.state(StateExecutingTools)
		for i := range stored.ToolCalls {
			if err := ctx.Err(); err != nil {
				return t.out, err
			}
			call := stored.ToolCalls[i]
			t.emit(Event{Kind: EventToolCall, Call: &call})
			res := o.executeCall(ctx, call)
			t.append(conversation.NewToolResultMessage(res))
			t.emit(Event{Kind: EventToolResult, Result: &res})
		}
		t.round++
		t.out.Rounds = t.round
	}
}

// abandon answers calls with loop-limit failures so the log stays
// consistent.
func (t *turn) abandon(calls []conversation.ToolCall) error {
	limit := fmt.Errorf("%w: %d rounds", tools.ErrToolLoopLimit, t.o.maxRounds)
	logging.Get(logging.CategoryOrchestrator).Warn("Turn stopped with %d pending calls: %v", len(calls), limit)
	for _, call := range calls {
		res := conversation.Failure(call, limit)
		t.append(conversation.NewToolResultMessage(res))
		t.emit(Event{Kind: EventToolResult, Result: &res})
	}
	t.out.LimitReached = true
	t.state(StateDone)
	return limit
}

// stream reads one model response. Structured tool calls take precedence
// over calls written into the text.
func (t *turn) stream(ctx context.Context, defs []tools.ToolDefinition) (response, error) {
	log := logging.Get(logging.CategoryOrchestrator)

	s, err := t.o.model.Stream(ctx, t.log.Messages(), defs)
	if err != nil {
		return response{}, fmt.Errorf("model stream failed: %w", err)
	}
	defer s.Close()

	var (
		raw, text  strings.Builder
		textCalls  []conversation.ToolCall
		structured []extract.RawToolCall
		emitting   bool
	)
	scanner := extract.NewScanner()
	scanner.SetMaxPending(t.o.maxPending)
	forward := func(chunk string, calls []conversation.ToolCall) {
		textCalls = append(textCalls, calls...)
		if chunk == "" {
			return
		}
		if !emitting {
			emitting = true
			t.state(StateEmittingText)
		}
		text.WriteString(chunk)
		t.emit(Event{Kind: EventText, Text: chunk})
	}

	for {
		d, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return response{}, err
		}
		structured = append(structured, d.ToolCalls...)
		if d.Content == "" {
			continue
		}
		raw.WriteString(d.Content)
		forward(scanner.Feed(d.Content))
		if t.o.interrupt && len(textCalls) > 0 {
			log.Debug("Tool call complete in text, interrupting the model")
			break
		}
	}
	forward(scanner.Flush())

	resp := response{raw: raw.String(), text: text.String(), calls: textCalls}
	if len(structured) > 0 {
		resp.calls = extract.Structured(structured)
	}
	log.Debug("Model response: %d chars, %d tool calls", raw.Len(), len(resp.calls))
	return resp, nil
}
