package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Tool-loop bounds.
const (
	maxRounds      = 10
	requestTimeout = 30 * time.Second
	llmRetries     = 2
)

// InvokeResult is always returned, never panicked: failures come back
// as partial results with Err set.
type InvokeResult struct {
	Text   string
	Rounds int
	Err    error
}

// Invoker runs the bounded LLM tool loop on an advisor's behalf. One
// invocation is in flight per advisor at a time; overlapping requests
// are dropped.
type Invoker struct {
	llm LLMFunc

	mu       sync.Mutex
	inFlight map[string]*sync.Mutex
}

// NewInvoker wraps the caller-supplied LLM transport.
func NewInvoker(llm LLMFunc) *Invoker {
	return &Invoker{
		llm:      llm,
		inFlight: make(map[string]*sync.Mutex),
	}
}

// Invoke runs the tool loop: send {system, tools, messages}; while the
// response contains tool calls, run them and append results; stop on a
// pure-text response or after maxRounds. Returns nil when another
// invocation for the same advisor is already in flight.
func (inv *Invoker) Invoke(ctx context.Context, adv Advisor, contextText, phaseTag string) *InvokeResult {
	lock := inv.lockFor(adv.Name())
	if !lock.TryLock() {
		slog.Debug("Dropping overlapping invocation", "advisor", adv.Name())
		return nil
	}
	defer lock.Unlock()

	if inv.llm == nil {
		return &InvokeResult{Err: fmt.Errorf("no LLM transport configured")}
	}

	content := contextText
	if phaseTag != "" {
		content = fmt.Sprintf("[%s] %s", phaseTag, contextText)
	}
	messages := []Message{{Role: RoleUser, Content: content}}
	tools := adv.Tools()

	var lastText string
	for round := 1; round <= maxRounds; round++ {
		resp, err := inv.callWithRetry(ctx, &LLMRequest{
			System:   adv.SystemPrompt(),
			Tools:    tools,
			Messages: messages,
		})
		if err != nil {
			return &InvokeResult{Text: lastText, Rounds: round, Err: err}
		}
		lastText = resp.Text

		if len(resp.ToolCalls) == 0 {
			return &InvokeResult{Text: resp.Text, Rounds: round}
		}

		messages = append(messages, Message{
			Role:      RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			messages = append(messages, Message{
				Role:       RoleTool,
				Content:    runTool(ctx, adv, tc),
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
		}
	}
	return &InvokeResult{
		Text:   lastText,
		Rounds: maxRounds,
		Err:    fmt.Errorf("tool loop exceeded %d rounds", maxRounds),
	}
}

func (inv *Invoker) lockFor(name string) *sync.Mutex {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.inFlight[name] == nil {
		inv.inFlight[name] = &sync.Mutex{}
	}
	return inv.inFlight[name]
}

func (inv *Invoker) callWithRetry(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= llmRetries; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		resp, err := inv.llm(reqCtx, req)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		slog.Warn("LLM call failed", "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("llm call: %w", lastErr)
}

// runTool executes one tool call. Handler errors and panics become
// {"error": ...} results so the loop can continue.
func runTool(ctx context.Context, adv Advisor, tc ToolCall) (result string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Tool handler panicked", "advisor", adv.Name(), "tool", tc.Name, "panic", r)
			result = errorResult(fmt.Sprintf("tool %s panicked: %v", tc.Name, r))
		}
	}()
	out, err := adv.HandleTool(ctx, tc.Name, tc.Input)
	if err != nil {
		return errorResult(err.Error())
	}
	return out
}

func errorResult(msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}
