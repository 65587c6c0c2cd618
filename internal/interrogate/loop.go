package interrogate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/avlecchia/lectern/internal/jsonstream"
	"github.com/avlecchia/lectern/internal/llm"
	"github.com/avlecchia/lectern/internal/progress"
	"github.com/avlecchia/lectern/internal/reader"
	"github.com/avlecchia/lectern/internal/tools"
)

const (
	defaultWindowSize = 16384
	defaultMaxTokens  = 4096
	maxTurnCap        = 50
)

// Streamer opens streaming completions; satisfied by *llm.Client.
type Streamer interface {
	StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamEvent, error)
}

// Loop is the multi-turn interrogator driver.
type Loop struct {
	llm        Streamer
	registry   *tools.Registry
	ids        reader.IDGenerator
	hub        *progress.Hub
	clock      reader.Clock
	logger     *zap.Logger
	windowSize int
}

// NewLoop wires the loop's collaborators. registry may be nil to disable
// tool dispatch entirely.
func NewLoop(streamer Streamer, registry *tools.Registry, ids reader.IDGenerator, hub *progress.Hub, clock reader.Clock, windowSize int, logger *zap.Logger) *Loop {
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		llm:        streamer,
		registry:   registry,
		ids:        ids,
		hub:        hub,
		clock:      clock,
		logger:     logger,
		windowSize: windowSize,
	}
}

// Chat validates the request and starts the turn loop. Events arrive on the
// returned channel strictly ordered; the channel closes after the terminal
// history or error event.
func (l *Loop) Chat(ctx context.Context, req ChatRequest) (<-chan Event, error) {
	if req.Model == "" {
		return nil, reader.NewError(reader.KindInvalidArgument, "model is required")
	}
	if req.MaxAdditionalTurns < 0 || req.MaxAdditionalTurns > maxTurnCap {
		return nil, reader.NewError(reader.KindInvalidArgument,
			fmt.Sprintf("maxAdditionalTurns must be within 0..%d", maxTurnCap))
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultMaxTokens
	}

	events := make(chan Event)
	go l.run(ctx, req, events)
	return events, nil
}

// turnState carries per-conversation mutable state across turns.
type turnState struct {
	base      []reader.LLMMessage
	tail      []reader.LLMMessage
	turnsLeft int
}

func (l *Loop) run(ctx context.Context, req ChatRequest, events chan<- Event) {
	defer close(events)

	send := func(evt Event) bool {
		select {
		case events <- evt:
			return true
		case <-ctx.Done():
			return false
		}
	}

	state := &turnState{turnsLeft: req.MaxAdditionalTurns}
	if req.System != "" {
		state.base = append(state.base, reader.LLMMessage{Role: reader.RoleSystem, Content: req.System})
	}
	state.base = append(state.base, req.Messages...)

	for {
		done, err := l.turn(ctx, req, state, send)
		if err != nil {
			send(Event{Kind: EventError, Err: err})
			return
		}
		if done {
			return
		}
	}
}

// turn executes one streaming completion plus any tool dispatches. It
// returns done=true when the conversation terminated normally.
func (l *Loop) turn(ctx context.Context, req ChatRequest, state *turnState, send func(Event) bool) (bool, error) {
	toolsAttached := l.registry != nil && !req.DisableTools &&
		len(l.registry.Names()) > 0 && state.turnsLeft > 0
	softwareFC := toolsAttached && !llm.SupportsNativeTools(req.Model)

	messages := trimMessages(state.base, l.windowSize-req.MaxTokens)
	if softwareFC {
		prompt, err := l.registry.SystemPrompt(req.PinnedTool)
		if err != nil {
			return false, err
		}
		messages = append([]reader.LLMMessage{{Role: reader.RoleSystem, Content: prompt}}, messages...)
	}
	messages = append(messages, state.tail...)

	llmReq := llm.ChatRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Seed:        req.Seed,
	}
	if toolsAttached && !softwareFC {
		for _, desc := range l.registry.Descriptors() {
			llmReq.Tools = append(llmReq.Tools, reader.ToolDescriptor{
				Name:        desc.Name,
				Description: desc.Description,
				Parameters:  desc.Parameters,
			})
		}
		llmReq.ForcedTool = req.PinnedTool
	}

	l.emitProgress(progress.Event{Stage: progress.StageTurnStart, Model: req.Model})

	stream, err := l.llm.StreamChat(ctx, llmReq)
	if err != nil {
		return false, err
	}

	// Fan the model stream into the outbound events and the incremental
	// JSON parser. The parser's callback runs synchronously inside this
	// goroutine, so event ordering is preserved.
	var finalValue any
	var sawFinal bool
	aborted := false
	parser := jsonstream.New(jsonstream.Options{AllowControlCharacters: true, SwallowErrors: true}, func(evt jsonstream.Event) {
		if aborted {
			return
		}
		switch evt.Kind {
		case jsonstream.EventN1:
			aborted = !send(Event{Kind: EventN1, Text: evt.Prefix})
		case jsonstream.EventN2:
			aborted = !send(Event{Kind: EventN2, Text: evt.Prefix})
		case jsonstream.EventSnapshot:
			aborted = !send(Event{Kind: EventSnapshot, Value: evt.Value})
		case jsonstream.EventFinal:
			finalValue = evt.Value
			sawFinal = true
		}
	})

	var assistantText string
	native := newNativeCallAssembler()
	for evt := range stream {
		if evt.Err != nil {
			parser.Close() //nolint:errcheck // flush before reporting
			return false, evt.Err
		}
		if evt.Content != "" {
			assistantText += evt.Content
			if !send(Event{Kind: EventChunk, Text: evt.Content}) {
				return true, nil
			}
			parser.WriteString(evt.Content)
		}
		for _, delta := range evt.ToolCalls {
			native.add(delta)
		}
	}
	parser.Close() //nolint:errcheck // swallow-errors mode
	if aborted {
		return true, nil
	}

	var calls []reader.ToolCall
	switch {
	case native.len() > 0:
		// Native function-call channel: the assistant message with the
		// calls is recorded so the next turn's request replays them.
		calls = native.finish(l.ids)
		state.tail = append(state.tail, reader.LLMMessage{
			Role:      reader.RoleAssistant,
			Content:   assistantText,
			ToolCalls: calls,
		})
	case softwareFC && sawFinal:
		if parsed, ok := parseEnvelope(finalValue, l.ids); ok {
			encoded, err := json.Marshal(finalValue)
			if err == nil {
				state.tail = append(state.tail, reader.LLMMessage{
					Role:    reader.RoleAssistant,
					Content: string(encoded),
				})
			}
			calls = parsed
		}
	}

	if sawFinal && state.turnsLeft > 0 {
		if !send(Event{Kind: EventStructured, Value: finalValue}) {
			return true, nil
		}
	}

	for _, call := range calls {
		if !l.dispatch(ctx, call, state, send) {
			return true, nil
		}
	}

	l.emitProgress(progress.Event{Stage: progress.StageTurnDone, Model: req.Model})

	if len(calls) > 0 {
		state.turnsLeft--
		if state.turnsLeft > 0 {
			return false, nil
		}
	} else if assistantText != "" {
		state.tail = append(state.tail, reader.LLMMessage{Role: reader.RoleAssistant, Content: assistantText})
	}

	history := append(append([]reader.LLMMessage(nil), state.base...), state.tail...)
	send(Event{Kind: EventHistory, History: history})
	return true, nil
}

// dispatch runs one tool call, feeding its result (or error text) back into
// the running history.
func (l *Loop) dispatch(ctx context.Context, call reader.ToolCall, state *turnState, send func(Event) bool) bool {
	if !send(Event{Kind: EventCall, Call: &call}) {
		return false
	}
	l.emitProgress(progress.Event{Stage: progress.StageToolCall, Tool: call.Name})

	result := l.execute(ctx, call)
	if !send(Event{Kind: EventReturn, CallID: call.ID, Result: result}) {
		return false
	}

	msg := reader.LLMMessage{Content: result}
	if call.ID != "" {
		msg.Role = reader.RoleTool
		msg.ToolCallID = call.ID
	} else {
		msg.Role = reader.RoleFunction
		msg.Name = call.Name
	}
	state.tail = append(state.tail, msg)
	return send(Event{Kind: EventInjectHistory, Message: &msg})
}

// execute never returns an error: tool failures become string results the
// model can react to.
func (l *Loop) execute(ctx context.Context, call reader.ToolCall) (result string) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("tool panicked", zap.String("tool", call.Name), zap.Any("recover", r))
			result = fmt.Sprintf("tool %s crashed: %v", call.Name, r)
		}
	}()

	tool, ok := l.registry.Get(call.Name)
	if !ok {
		return fmt.Sprintf("unknown tool %q", call.Name)
	}
	out, err := tool.Handler(ctx, call.Arguments)
	if err != nil {
		return fmt.Sprintf("tool %s failed: %v", call.Name, err)
	}
	return out
}

func (l *Loop) emitProgress(evt progress.Event) {
	if l.hub == nil {
		return
	}
	if l.clock != nil {
		evt.At = l.clock.Now()
	} else {
		evt.At = time.Now().UTC()
	}
	l.hub.Emit(evt)
}

// parseEnvelope extracts tool calls from a USE_TOOLS software-FC envelope.
func parseEnvelope(value any, ids reader.IDGenerator) ([]reader.ToolCall, bool) {
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, false
	}
	if intention, _ := obj["intention"].(string); intention != "USE_TOOLS" {
		return nil, false
	}
	entries, ok := obj["tools"].([]any)
	if !ok {
		return nil, false
	}
	var calls []reader.ToolCall
	for _, entry := range entries {
		item, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		name, _ := item["name"].(string)
		if name == "" {
			continue
		}
		call := reader.ToolCall{Name: name}
		if id, _ := item["id"].(string); id != "" {
			call.ID = id
		} else if ids != nil {
			call.ID, _ = ids.NewID()
		}
		switch args := item["arguments"].(type) {
		case map[string]any:
			call.Arguments = args
		case string:
			if parsed, ok := jsonstream.ParseLenient(args); ok {
				if m, isMap := parsed.(map[string]any); isMap {
					call.Arguments = m
				}
			}
		}
		if call.Arguments == nil {
			call.Arguments = map[string]any{}
		}
		calls = append(calls, call)
	}
	return calls, len(calls) > 0
}

// nativeCallAssembler stitches streamed function-call fragments together.
type nativeCallAssembler struct {
	byIndex map[int]*nativePartial
}

type nativePartial struct {
	id   string
	name string
	args string
}

func newNativeCallAssembler() *nativeCallAssembler {
	return &nativeCallAssembler{byIndex: make(map[int]*nativePartial)}
}

func (a *nativeCallAssembler) add(delta llm.ToolCallDelta) {
	partial, ok := a.byIndex[delta.Index]
	if !ok {
		partial = &nativePartial{}
		a.byIndex[delta.Index] = partial
	}
	if delta.ID != "" {
		partial.id = delta.ID
	}
	if delta.Name != "" {
		partial.name = delta.Name
	}
	partial.args += delta.Arguments
}

func (a *nativeCallAssembler) len() int {
	return len(a.byIndex)
}

func (a *nativeCallAssembler) finish(ids reader.IDGenerator) []reader.ToolCall {
	indexes := make([]int, 0, len(a.byIndex))
	for idx := range a.byIndex {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	calls := make([]reader.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		partial := a.byIndex[idx]
		if partial.name == "" {
			continue
		}
		call := reader.ToolCall{ID: partial.id, Name: partial.name, Arguments: map[string]any{}}
		if call.ID == "" && ids != nil {
			call.ID, _ = ids.NewID()
		}
		if parsed, ok := jsonstream.ParseLenient(partial.args); ok {
			if m, isMap := parsed.(map[string]any); isMap {
				call.Arguments = m
			}
		}
		calls = append(calls, call)
	}
	return calls
}

// trimMessages drops the oldest non-system messages until the estimated
// token count fits the window budget.
func trimMessages(messages []reader.LLMMessage, budget int) []reader.LLMMessage {
	if budget <= 0 {
		return messages
	}
	total := 0
	for _, msg := range messages {
		total += llm.EstimateTokens(msg.Content) + 4
	}
	if total <= budget {
		return messages
	}
	out := append([]reader.LLMMessage(nil), messages...)
	for total > budget {
		dropped := false
		for i, msg := range out {
			if msg.Role == reader.RoleSystem {
				continue
			}
			total -= llm.EstimateTokens(msg.Content) + 4
			out = append(out[:i], out[i+1:]...)
			dropped = true
			break
		}
		if !dropped {
			break
		}
	}
	return out
}
