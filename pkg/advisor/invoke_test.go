package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedAdvisor is a minimal advisor whose tool handler is a func.
type scriptedAdvisor struct {
	name    string
	handler func(name string, input json.RawMessage) (string, error)
	activations, deactivations int
}

func (a *scriptedAdvisor) Name() string         { return a.name }
func (a *scriptedAdvisor) SystemPrompt() string { return "system directive" }
func (a *scriptedAdvisor) Tools() []ToolSchema {
	return []ToolSchema{{Name: "probe", InputSchema: json.RawMessage(`{}`)}}
}
func (a *scriptedAdvisor) OnActivate(context.Context) error { a.activations++; return nil }
func (a *scriptedAdvisor) OnDeactivate()                    { a.deactivations++ }
func (a *scriptedAdvisor) HandleTool(_ context.Context, name string, input json.RawMessage) (string, error) {
	if a.handler == nil {
		return "ok", nil
	}
	return a.handler(name, input)
}

func TestInvoker_PureTextResponse(t *testing.T) {
	inv := NewInvoker(func(_ context.Context, req *LLMRequest) (*LLMResponse, error) {
		require.Equal(t, "system directive", req.System)
		require.Len(t, req.Messages, 1)
		assert.Contains(t, req.Messages[0].Content, "[draft_phase]")
		return &LLMResponse{Text: "pick the scaling option"}, nil
	})

	res := inv.Invoke(context.Background(), &scriptedAdvisor{name: "a"}, "ctx", "draft_phase")
	require.NotNil(t, res)
	require.NoError(t, res.Err)
	assert.Equal(t, "pick the scaling option", res.Text)
	assert.Equal(t, 1, res.Rounds)
}

func TestInvoker_ToolLoop(t *testing.T) {
	var rounds int
	inv := NewInvoker(func(_ context.Context, req *LLMRequest) (*LLMResponse, error) {
		rounds++
		if rounds == 1 {
			return &LLMResponse{
				Text:      "let me check",
				ToolCalls: []ToolCall{{ID: "t1", Name: "probe", Input: json.RawMessage(`{}`)}},
			}, nil
		}
		// The tool result must be in the conversation.
		last := req.Messages[len(req.Messages)-1]
		require.Equal(t, RoleTool, last.Role)
		require.Equal(t, "t1", last.ToolCallID)
		assert.Equal(t, "probe-result", last.Content)
		return &LLMResponse{Text: "final answer"}, nil
	})

	adv := &scriptedAdvisor{name: "a", handler: func(string, json.RawMessage) (string, error) {
		return "probe-result", nil
	}}
	res := inv.Invoke(context.Background(), adv, "ctx", "")
	require.NoError(t, res.Err)
	assert.Equal(t, "final answer", res.Text)
	assert.Equal(t, 2, res.Rounds)
}

func TestInvoker_ToolErrorReturnsToLoop(t *testing.T) {
	var sawError string
	var rounds int
	inv := NewInvoker(func(_ context.Context, req *LLMRequest) (*LLMResponse, error) {
		rounds++
		if rounds == 1 {
			return &LLMResponse{ToolCalls: []ToolCall{{ID: "t1", Name: "probe"}}}, nil
		}
		sawError = req.Messages[len(req.Messages)-1].Content
		return &LLMResponse{Text: "recovered"}, nil
	})

	adv := &scriptedAdvisor{name: "a", handler: func(string, json.RawMessage) (string, error) {
		return "", errors.New("backend unavailable")
	}}
	res := inv.Invoke(context.Background(), adv, "ctx", "")
	require.NoError(t, res.Err)
	assert.Equal(t, "recovered", res.Text)
	assert.JSONEq(t, `{"error":"backend unavailable"}`, sawError)
}

func TestInvoker_ToolPanicCaptured(t *testing.T) {
	var rounds int
	inv := NewInvoker(func(_ context.Context, req *LLMRequest) (*LLMResponse, error) {
		rounds++
		if rounds == 1 {
			return &LLMResponse{ToolCalls: []ToolCall{{ID: "t1", Name: "probe"}}}, nil
		}
		assert.Contains(t, req.Messages[len(req.Messages)-1].Content, "panicked")
		return &LLMResponse{Text: "done"}, nil
	})

	adv := &scriptedAdvisor{name: "a", handler: func(string, json.RawMessage) (string, error) {
		panic("boom")
	}}
	res := inv.Invoke(context.Background(), adv, "ctx", "")
	require.NoError(t, res.Err)
	assert.Equal(t, "done", res.Text)
}

func TestInvoker_MaxRoundsBound(t *testing.T) {
	inv := NewInvoker(func(context.Context, *LLMRequest) (*LLMResponse, error) {
		return &LLMResponse{
			Text:      "still thinking",
			ToolCalls: []ToolCall{{ID: "t", Name: "probe"}},
		}, nil
	})

	res := inv.Invoke(context.Background(), &scriptedAdvisor{name: "a"}, "ctx", "")
	require.Error(t, res.Err)
	assert.Equal(t, maxRounds, res.Rounds)
	assert.Equal(t, "still thinking", res.Text, "partial result survives")
}

func TestInvoker_RetriesThenFails(t *testing.T) {
	var calls int
	inv := NewInvoker(func(context.Context, *LLMRequest) (*LLMResponse, error) {
		calls++
		return nil, fmt.Errorf("transient %d", calls)
	})

	res := inv.Invoke(context.Background(), &scriptedAdvisor{name: "a"}, "ctx", "")
	require.Error(t, res.Err)
	assert.Equal(t, 1+llmRetries, calls)
}

func TestInvoker_OverlappingInvocationDropped(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	inv := NewInvoker(func(ctx context.Context, _ *LLMRequest) (*LLMResponse, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
		case <-ctx.Done():
		}
		return &LLMResponse{Text: "slow"}, nil
	})
	adv := &scriptedAdvisor{name: "a"}

	var wg sync.WaitGroup
	wg.Add(1)
	var first *InvokeResult
	go func() {
		defer wg.Done()
		first = inv.Invoke(context.Background(), adv, "ctx", "")
	}()
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first invocation never started")
	}

	// Second invocation for the same advisor drops immediately.
	assert.Nil(t, inv.Invoke(context.Background(), adv, "ctx", ""))

	close(release)
	wg.Wait()
	require.NotNil(t, first)
	assert.Equal(t, "slow", first.Text)
}
