package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codeframe/internal/config"
	sharederrors "codeframe/internal/shared/errors"
	"codeframe/internal/shared/logging"
)

func TestClassifyHTTPError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
		ctxWindow bool
	}{
		{"rate limited", 429, "slow down", true, false},
		{"server error", 500, "internal", true, false},
		{"timeout", 408, "timeout", true, false},
		{"bad request", 400, "invalid model", false, false},
		{"auth", 401, "bad key", false, false},
		{"context window", 400, "prompt is too long: 210000 tokens", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyHTTPError(tt.status, tt.body)
			require.Equal(t, tt.transient, sharederrors.IsTransient(err))
			require.Equal(t, tt.ctxWindow, IsContextWindowExceeded(err))
		})
	}
}

func TestOpenAIClientParsesToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "test-model", payload["model"])
		require.NotEmpty(t, payload["tools"])

		resp := map[string]any{
			"choices": []any{map[string]any{
				"finish_reason": "tool_calls",
				"message": map[string]any{
					"content": "",
					"tool_calls": []any{map[string]any{
						"id": "call_1",
						"function": map[string]any{
							"name":      "read_file",
							"arguments": `{"path":"main.py"}`,
						},
					}},
				},
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 7},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewOpenAIClient(ClientConfig{
		Model:   "test-model",
		APIKey:  "test-key",
		BaseURL: server.URL + "/v1",
	})
	resp, err := client.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "read main.py"}},
		Tools:    []ToolDefinition{{Name: "read_file", Parameters: map[string]any{"type": "object"}}},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	require.Equal(t, "read_file", resp.ToolCalls[0].Name)
	require.Equal(t, "tool_calls", resp.StopReason)
	require.Equal(t, 19, resp.Usage.TotalTokens)
}

func TestRetryClientRetriesTransientOnly(t *testing.T) {
	fastRetry := sharederrors.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	transient := &sharederrors.TransientError{Err: context.DeadlineExceeded, StatusCode: 500}
	scripted := NewScriptedProvider("m",
		ErrTurn(transient),
		TextTurn("recovered"),
	)
	client := &retryClient{inner: scripted, config: fastRetry, logger: logging.Nop()}

	resp, err := client.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	require.Equal(t, "recovered", resp.Content)
	require.Equal(t, 2, scripted.Calls())

	permanent := &sharederrors.PermanentError{Err: context.Canceled, StatusCode: 400}
	scripted2 := NewScriptedProvider("m", ErrTurn(permanent), TextTurn("unreachable"))
	client2 := &retryClient{inner: scripted2, config: fastRetry, logger: logging.Nop()}
	_, err = client2.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	require.Equal(t, 1, scripted2.Calls())
}

func TestRouterRoutesByPurposeAndTracksUsage(t *testing.T) {
	cfg := &config.RuntimeConfig{
		LLMModel:        "default-model",
		ModelsByPurpose: map[string]string{config.PurposePlanning: "big-model"},
		Temperature:     0.2,
		MaxTokens:       1024,
	}

	built := map[string]*ScriptedProvider{}
	router := NewRouter(cfg, nil, func(model string) Provider {
		p := NewScriptedProvider(model, TextTurn("ok"), TextTurn("ok"))
		built[model] = p
		return p
	})

	_, err := router.Complete(context.Background(), config.PurposePlanning, CompletionRequest{})
	require.NoError(t, err)
	_, err = router.Complete(context.Background(), config.PurposeExecution, CompletionRequest{})
	require.NoError(t, err)

	require.Contains(t, built, "big-model")
	require.Contains(t, built, "default-model")

	// Defaults are applied to the outgoing request.
	require.Equal(t, 1024, built["big-model"].Requests[0].MaxTokens)
	require.InDelta(t, 0.2, built["big-model"].Requests[0].Temperature, 1e-9)

	usage := router.Usage()
	require.Equal(t, 240, usage.Total().TotalTokens)
	require.Equal(t, 120, usage.ByPurpose()[config.PurposePlanning].TotalTokens)
}
