// Package interrogate drives multi-turn streaming LLM conversations over
// extracted pages, dispatching tool calls between turns.
package interrogate

import (
	"github.com/avlecchia/lectern/internal/reader"
)

// EventKind identifies one outbound loop event.
type EventKind string

// Event kinds, in their per-turn emission order.
const (
	EventChunk         EventKind = "chunk"
	EventN1            EventKind = "n1"
	EventN2            EventKind = "n2"
	EventSnapshot      EventKind = "snapshot"
	EventStructured    EventKind = "structured"
	EventCall          EventKind = "call"
	EventReturn        EventKind = "return"
	EventInjectHistory EventKind = "injectHistory"
	EventHistory       EventKind = "history"
	EventError         EventKind = "error"
)

// Event is one item on the loop's outbound stream.
type Event struct {
	Kind    EventKind
	Text    string              // chunk delta or n1/n2 prefix
	Value   any                 // snapshot / structured payload
	Call    *reader.ToolCall    // call events
	CallID  string              // return events
	Result  string              // return events
	Message *reader.LLMMessage  // injectHistory events
	History []reader.LLMMessage // history events
	Err     error               // error events
}

// ChatRequest describes one interrogation conversation.
type ChatRequest struct {
	Model              string
	System             string
	Messages           []reader.LLMMessage
	MaxTokens          int
	Temperature        *float64
	TopP               *float64
	Stop               []string
	Seed               *int
	MaxAdditionalTurns int
	PinnedTool         string
	DisableTools       bool
}
