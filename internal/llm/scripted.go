package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedProvider replays a fixed sequence of responses. Tests script the
// conversation ahead of time and inspect the requests afterwards.
type ScriptedProvider struct {
	mu        sync.Mutex
	model     string
	responses []ScriptedResponse
	next      int

	// Requests records every request received, in order.
	Requests []CompletionRequest
}

// ScriptedResponse is one scripted turn: either a response or an error.
type ScriptedResponse struct {
	Response *CompletionResponse
	Err      error
}

// NewScriptedProvider builds a provider that replays responses in order.
// Running past the script returns an error, which surfaces missing turns in
// tests immediately.
func NewScriptedProvider(model string, responses ...ScriptedResponse) *ScriptedProvider {
	return &ScriptedProvider{model: model, responses: responses}
}

// TextTurn scripts a plain assistant message.
func TextTurn(content string) ScriptedResponse {
	return ScriptedResponse{Response: &CompletionResponse{
		Content:    content,
		StopReason: "stop",
		Usage:      TokenUsage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
	}}
}

// ToolTurn scripts an assistant turn that calls tools.
func ToolTurn(calls ...ToolCall) ScriptedResponse {
	return ScriptedResponse{Response: &CompletionResponse{
		ToolCalls:  calls,
		StopReason: "tool_calls",
		Usage:      TokenUsage{PromptTokens: 100, CompletionTokens: 30, TotalTokens: 130},
	}}
}

// ErrTurn scripts a provider failure.
func ErrTurn(err error) ScriptedResponse {
	return ScriptedResponse{Err: err}
}

func (p *ScriptedProvider) Model() string { return p.model }

// Append adds more turns to the script.
func (p *ScriptedProvider) Append(responses ...ScriptedResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, responses...)
}

// Calls returns how many requests the provider has served.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}

func (p *ScriptedProvider) Complete(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, req)
	if p.next >= len(p.responses) {
		return nil, fmt.Errorf("scripted provider exhausted after %d turns", len(p.responses))
	}
	turn := p.responses[p.next]
	p.next++
	if turn.Err != nil {
		return nil, turn.Err
	}
	return turn.Response, nil
}
