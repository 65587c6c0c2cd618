// Package llm talks to an OpenAI-compatible chat-completion endpoint.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/avlecchia/lectern/internal/reader"
)

// Config captures the upstream provider connection parameters.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client issues streaming chat-completion requests.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a Client for the configured provider.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// ChatRequest is one streaming completion request.
type ChatRequest struct {
	Model       string
	Messages    []reader.LLMMessage
	MaxTokens   int
	Temperature *float64
	TopP        *float64
	Stop        []string
	Seed        *int
	Tools       []reader.ToolDescriptor
	ForcedTool  string
}

// StreamEvent is one delta from the model stream. Exactly one of Content or
// ToolCalls is usually populated; Err terminates the stream.
type StreamEvent struct {
	Content      string
	ToolCalls    []ToolCallDelta
	FinishReason string
	Err          error
}

// ToolCallDelta is an incremental native function-call fragment.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string                `json:"type"`
	Function reader.ToolDescriptor `json:"function"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Seed        *int          `json:"seed,omitempty"`
	Stream      bool          `json:"stream"`
	Tools       []wireTool    `json:"tools,omitempty"`
	ToolChoice  any           `json:"tool_choice,omitempty"`
}

type wireChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// StreamChat opens a streaming completion and fans deltas out on the
// returned channel. The channel closes after the final event; a terminal
// failure arrives as an event with Err set.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error) {
	body, err := json.Marshal(c.toWire(req))
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, reader.WrapError(reader.KindUpstreamModelFailure, "open model stream", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		kind := reader.KindUpstreamModelFailure
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			kind = reader.KindUnauthenticated
		case http.StatusTooManyRequests:
			kind = reader.KindRateLimited
		}
		return nil, reader.NewError(kind, fmt.Sprintf("model request failed: %s - %s", resp.Status, string(detail)))
	}

	events := make(chan StreamEvent)
	go c.readStream(ctx, resp.Body, events)
	return events, nil
}

func (c *Client) toWire(req ChatRequest) wireRequest {
	out := wireRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Seed:        req.Seed,
		Stream:      true,
	}
	for _, msg := range req.Messages {
		wm := wireMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		}
		for _, call := range msg.ToolCalls {
			args, err := json.Marshal(call.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   call.ID,
				Type: "function",
				Function: wireFunction{
					Name:      call.Name,
					Arguments: string(args),
				},
			})
		}
		out.Messages = append(out.Messages, wm)
	}
	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, wireTool{Type: "function", Function: tool})
	}
	if req.ForcedTool != "" {
		out.ToolChoice = map[string]any{
			"type":     "function",
			"function": map[string]string{"name": req.ForcedTool},
		}
	}
	return out
}

func (c *Client) readStream(ctx context.Context, body io.ReadCloser, events chan<- StreamEvent) {
	defer func() {
		close(events)
		body.Close()
	}()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return
		}

		var chunk wireChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Warn("model stream chunk parse failed", zap.Error(err), zap.String("raw", data))
			continue
		}
		for _, choice := range chunk.Choices {
			evt := StreamEvent{
				Content:      choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}
			for _, tc := range choice.Delta.ToolCalls {
				evt.ToolCalls = append(evt.ToolCalls, ToolCallDelta{
					Index:     tc.Index,
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
			if evt.Content == "" && evt.ToolCalls == nil && evt.FinishReason == "" {
				continue
			}
			select {
			case events <- evt:
			case <-ctx.Done():
				return
			}
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case events <- StreamEvent{Err: reader.WrapError(reader.KindUpstreamModelFailure, "model stream aborted", err)}:
		case <-ctx.Done():
		}
	}
}
