package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avlecchia/lectern/internal/reader"
)

func streamBody(lines ...string) string {
	out := ""
	for _, l := range lines {
		out += "data: " + l + "\n\n"
	}
	return out + "data: [DONE]\n\n"
}

func TestStreamChatContentDeltas(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.True(t, req.Stream)
		require.Equal(t, "gpt-3.5-turbo", req.Model)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, streamBody(
			`{"choices":[{"delta":{"content":"Example"}}]}`,
			`{"choices":[{"delta":{"content":" Domain"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key"}, nil)
	events, err := client.StreamChat(context.Background(), ChatRequest{
		Model:    "gpt-3.5-turbo",
		Messages: []reader.LLMMessage{{Role: reader.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	var text string
	var finished bool
	for evt := range events {
		require.NoError(t, evt.Err)
		text += evt.Content
		if evt.FinishReason == "stop" {
			finished = true
		}
	}
	require.Equal(t, "Example Domain", text)
	require.True(t, finished)
}

func TestStreamChatNativeToolCallDeltas(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, streamBody(
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"T1","function":{"name":"browse","arguments":""}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"url\":\"https://a.test\"}"}}]}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, nil)
	events, err := client.StreamChat(context.Background(), ChatRequest{Model: "gpt-4"})
	require.NoError(t, err)

	var name, args, id string
	for evt := range events {
		for _, tc := range evt.ToolCalls {
			if tc.ID != "" {
				id = tc.ID
			}
			name += tc.Name
			args += tc.Arguments
		}
	}
	require.Equal(t, "T1", id)
	require.Equal(t, "browse", name)
	require.JSONEq(t, `{"url":"https://a.test"}`, args)
}

func TestStreamChatErrorStatusMapsKinds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		kind   reader.ErrorKind
	}{
		{http.StatusUnauthorized, reader.KindUnauthenticated},
		{http.StatusTooManyRequests, reader.KindRateLimited},
		{http.StatusInternalServerError, reader.KindUpstreamModelFailure},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", tc.status)
		}))
		client := NewClient(Config{BaseURL: srv.URL}, nil)
		_, err := client.StreamChat(context.Background(), ChatRequest{Model: "gpt-4"})
		require.Error(t, err)
		require.Equal(t, tc.kind, reader.KindOf(err))
		srv.Close()
	}
}

func TestSupportsNativeTools(t *testing.T) {
	t.Parallel()

	require.True(t, SupportsNativeTools("gpt-3.5-turbo"))
	require.True(t, SupportsNativeTools("gpt-4o-mini"))
	require.False(t, SupportsNativeTools("llama3:8b"))
	require.False(t, SupportsNativeTools("mistral-7b"))
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, EstimateTokens(""))
	require.Equal(t, 1, EstimateTokens("abc"))
	require.Equal(t, 3, EstimateTokens("twelve chars"))
}
