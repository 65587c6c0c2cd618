package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/avlecchia/lectern/internal/interrogate"
	"github.com/avlecchia/lectern/internal/reader"
)

// chatRequestBody is the chat-completions-shaped request accepted by
// chatWithReader. Streaming is forced regardless of the stream field.
type chatRequestBody struct {
	Model              string              `json:"model"`
	Messages           []reader.LLMMessage `json:"messages"`
	System             string              `json:"system"`
	MaxTokens          int                 `json:"max_tokens"`
	Temperature        *float64            `json:"temperature"`
	TopP               *float64            `json:"top_p"`
	TopK               *int                `json:"top_k"`
	Stop               []string            `json:"stop"`
	Seed               *int                `json:"seed"`
	Stream             bool                `json:"stream"`
	MaxAdditionalTurns *int                `json:"maxAdditionalTurns"`
	FunctionCall       json.RawMessage     `json:"function_call"`
}

// chatWithReader runs the interrogator loop over a caller-supplied
// conversation, exposing the reader's tools to the model.
func (s *Server) chatWithReader(w http.ResponseWriter, r *http.Request) {
	var body chatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, reader.NewError(reader.KindInvalidArgument, "invalid JSON body"))
		return
	}
	if len(body.Messages) == 0 {
		writeError(w, reader.NewError(reader.KindInvalidArgument, "messages are required"))
		return
	}
	model := body.Model
	if model == "" {
		model = s.cfg.LLM.DefaultModel
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = 4096
	}

	maxTurns := s.cfg.LLM.MaxTurns
	if raw := param(r, "maxAdditionalTurns"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, reader.NewError(reader.KindInvalidArgument, "maxAdditionalTurns must be an integer"))
			return
		}
		maxTurns = parsed
	} else if body.MaxAdditionalTurns != nil {
		maxTurns = *body.MaxAdditionalTurns
	}

	req := interrogate.ChatRequest{
		Model:              model,
		System:             body.System,
		Messages:           body.Messages,
		MaxTokens:          body.MaxTokens,
		Temperature:        body.Temperature,
		TopP:               body.TopP,
		Stop:               body.Stop,
		Seed:               body.Seed,
		MaxAdditionalTurns: maxTurns,
		PinnedTool:         pinnedTool(body.FunctionCall),
	}

	events, err := s.loop.Chat(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	s.streamChatCompletion(w, model, events)
}

// pinnedTool extracts a forced tool name from a function_call field, which
// may be the legacy {"name": "..."} object or a bare string.
func pinnedTool(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Name != "" {
		return obj.Name
	}
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		switch name {
		case "", "auto", "none":
			return ""
		default:
			return name
		}
	}
	return ""
}

// completionChunk is one OpenAI-compatible stream frame.
type completionChunk struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
}

type completionChoice struct {
	Index        int             `json:"index"`
	Delta        completionDelta `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

type completionDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// streamChatCompletion renders loop events as an OpenAI-compatible SSE
// stream augmented with the loop's event vocabulary.
func (s *Server) streamChatCompletion(w http.ResponseWriter, model string, events <-chan interrogate.Event) {
	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, reader.NewError(reader.KindInternal, "response does not support streaming"))
		return
	}

	id, _ := s.ids.NewID()
	created := s.clock.Now().Unix()
	chunkOf := func(delta completionDelta, finish *string) completionChunk {
		return completionChunk{
			ID:      "chatcmpl-" + id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []completionChoice{{Delta: delta, FinishReason: finish}},
		}
	}

	sendChunk := func(c completionChunk) bool {
		data, err := json.Marshal(c)
		if err != nil {
			return false
		}
		return sse.Data(string(data)) == nil
	}

	if !sendChunk(chunkOf(completionDelta{Role: reader.RoleAssistant}, nil)) {
		return
	}

	for evt := range events {
		switch evt.Kind {
		case interrogate.EventChunk:
			if !sendChunk(chunkOf(completionDelta{Content: evt.Text}, nil)) {
				return
			}
		case interrogate.EventError:
			_ = sse.Event("error", reader.ToEnvelope(evt.Err))
			return
		case interrogate.EventHistory:
			stop := "stop"
			if !sendChunk(chunkOf(completionDelta{}, &stop)) {
				return
			}
			_ = sse.Event("history", evt.History)
		default:
			var err error
			switch evt.Kind {
			case interrogate.EventN1, interrogate.EventN2:
				err = sse.Event(string(evt.Kind), map[string]string{"prefix": evt.Text})
			case interrogate.EventSnapshot, interrogate.EventStructured:
				err = sse.Event(string(evt.Kind), evt.Value)
			case interrogate.EventCall:
				err = sse.Event("call", evt.Call)
			case interrogate.EventReturn:
				err = sse.Event("return", map[string]string{"id": evt.CallID, "result": evt.Result})
			case interrogate.EventInjectHistory:
				err = sse.Event("injectHistory", evt.Message)
			}
			if err != nil {
				return
			}
		}
	}
	_ = sse.Data("[DONE]")
}
