package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/termwright/opsagent/internal/domain/entity"
	domaintool "github.com/termwright/opsagent/internal/domain/tool"
	"go.uber.org/zap"
)

// scriptedLLM replays a fixed sequence of responses, one per call.
// After the script is exhausted it returns a plain final answer so a
// misbehaving test can't loop forever.
type scriptedLLM struct {
	mu        sync.Mutex
	script    []*LLMResponse
	callCount int
}

func (s *scriptedLLM) next() *LLMResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callCount < len(s.script) {
		resp := s.script[s.callCount]
		s.callCount++
		return resp
	}
	s.callCount++
	return &LLMResponse{Content: "done", ModelUsed: "scripted", TokensUsed: 1}
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func (s *scriptedLLM) Generate(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	return s.next(), nil
}

// GenerateStream emits the scripted content as one delta. The loop owns
// deltaCh and closes it after this returns.
func (s *scriptedLLM) GenerateStream(ctx context.Context, req *LLMRequest, deltaCh chan<- StreamChunk) (*LLMResponse, error) {
	resp := s.next()
	if resp.Content != "" {
		deltaCh <- StreamChunk{DeltaText: resp.Content}
	}
	return resp, nil
}

// recordingExecutor records every dispatched call and returns canned results.
type recordingExecutor struct {
	mu       sync.Mutex
	executed []string // tool names in dispatch order
	results  map[string]*domaintool.Result
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{results: map[string]*domaintool.Result{}}
}

func (e *recordingExecutor) Execute(ctx context.Context, name string, args map[string]interface{}) (*domaintool.Result, error) {
	e.mu.Lock()
	e.executed = append(e.executed, name)
	e.mu.Unlock()
	if r, ok := e.results[name]; ok {
		return r, nil
	}
	return &domaintool.Result{Output: "ok", Success: true}, nil
}

func (e *recordingExecutor) GetDefinitions() []domaintool.Definition { return nil }

func (e *recordingExecutor) GetToolKind(name string) domaintool.Kind {
	if name == "check_terminal_status" || name == "get_terminal_context" {
		return domaintool.KindRead
	}
	return domaintool.KindExecute
}

func (e *recordingExecutor) executedNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.executed))
	copy(out, e.executed)
	return out
}

func drainEvents(ch <-chan entity.AgentEvent) []entity.AgentEvent {
	var events []entity.AgentEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func testLoopConfig() AgentLoopConfig {
	cfg := DefaultAgentLoopConfig()
	cfg.Model = "scripted"
	cfg.RetryBaseWait = time.Millisecond
	cfg.MaxParallelTools = 1
	return cfg
}

func toolCall(id, name string, args map[string]interface{}) entity.ToolCallInfo {
	return entity.ToolCallInfo{ID: id, Name: name, Arguments: args}
}

// A read-only command runs once and the model's paraphrase becomes the
// final answer.
func TestAgentLoop_SingleCommandThenAnswer(t *testing.T) {
	llm := &scriptedLLM{script: []*LLMResponse{
		{ToolCalls: []entity.ToolCallInfo{
			toolCall("c1", "execute_command", map[string]interface{}{"command": "df -h"}),
		}, TokensUsed: 10},
		{Content: "Filesystem usage is healthy.", TokensUsed: 5},
	}}
	exec := newRecordingExecutor()
	exec.results["execute_command"] = &domaintool.Result{
		Output: "Filesystem      Size  Used Avail\n/dev/sda1       100G   20G   80G", Success: true,
	}

	loop := NewAgentLoop(llm, exec, testLoopConfig(), zap.NewNop())
	result, eventCh := loop.Run(context.Background(), "system", "show disk usage", nil, "")
	events := drainEvents(eventCh)

	if got := exec.executedNames(); len(got) != 1 || got[0] != "execute_command" {
		t.Fatalf("expected exactly one execute_command dispatch, got %v", got)
	}
	if result.FinalContent != "Filesystem usage is healthy." {
		t.Errorf("unexpected final content: %q", result.FinalContent)
	}

	var done bool
	for _, ev := range events {
		if ev.Type == entity.EventDone {
			done = true
		}
	}
	if !done {
		t.Error("expected an EventDone event")
	}
}

// A vetoing hook blocks the dispatch: no executor call happens and the
// model sees the rejection in the tool observation, so it can pick an
// alternative on the next turn.
func TestAgentLoop_HookVetoBlocksDispatch(t *testing.T) {
	llm := &scriptedLLM{script: []*LLMResponse{
		{ToolCalls: []entity.ToolCallInfo{
			toolCall("c1", "execute_command", map[string]interface{}{"command": "mkfs.ext4 /dev/sda1"}),
		}, TokensUsed: 10},
		{Content: "That command is not allowed; nothing was run.", TokensUsed: 5},
	}}
	exec := newRecordingExecutor()

	loop := NewAgentLoop(llm, exec, testLoopConfig(), zap.NewNop())
	loop.SetHooks(&vetoAllHook{})

	result, eventCh := loop.Run(context.Background(), "system", "format the disk quickly", nil, "")
	events := drainEvents(eventCh)

	if got := exec.executedNames(); len(got) != 0 {
		t.Fatalf("vetoed tool must not reach the executor, got %v", got)
	}
	var sawBlockedResult bool
	for _, ev := range events {
		if ev.Type == entity.EventToolResult && ev.ToolCall != nil && !ev.ToolCall.Success {
			if strings.Contains(ev.ToolCall.Output, "blocked") {
				sawBlockedResult = true
			}
		}
	}
	if !sawBlockedResult {
		t.Error("expected a failed tool result carrying the block reason")
	}
	if result.FinalContent == "" {
		t.Error("run should still complete with a final answer")
	}
}

type vetoAllHook struct{ NoOpHook }

func (h *vetoAllHook) BeforeToolCall(ctx context.Context, name string, args map[string]interface{}) bool {
	return false
}

// Observations keep submission order: when one assistant turn carries
// several tool calls (run one at a time here, MaxParallelTools = 1),
// tool-result events (and therefore tool messages) come back in the order
// the model sent the calls, ids paired one-to-one.
func TestAgentLoop_ObservationsKeepSubmissionOrder(t *testing.T) {
	llm := &scriptedLLM{script: []*LLMResponse{
		{ToolCalls: []entity.ToolCallInfo{
			toolCall("c1", "check_terminal_status", nil),
			toolCall("c2", "get_terminal_context", nil),
			toolCall("c3", "execute_command", map[string]interface{}{"command": "uptime"}),
		}, TokensUsed: 10},
		{Content: "All checks done.", TokensUsed: 5},
	}}
	exec := newRecordingExecutor()

	loop := NewAgentLoop(llm, exec, testLoopConfig(), zap.NewNop())
	_, eventCh := loop.Run(context.Background(), "", "inspect", nil, "")
	events := drainEvents(eventCh)

	var resultIDs []string
	for _, ev := range events {
		if ev.Type == entity.EventToolResult && ev.ToolCall != nil {
			resultIDs = append(resultIDs, ev.ToolCall.ID)
		}
	}
	want := []string{"c1", "c2", "c3"}
	if len(resultIDs) != len(want) {
		t.Fatalf("expected %d tool results, got %v", len(want), resultIDs)
	}
	for i := range want {
		if resultIDs[i] != want[i] {
			t.Errorf("result %d: want id %s, got %s", i, want[i], resultIDs[i])
		}
	}
	if got := exec.executedNames(); len(got) != 3 {
		t.Errorf("expected 3 dispatches, got %v", got)
	}
}

// The hard tool-call cap ends the run with a localized stop message
// instead of letting a runaway model burn the budget.
func TestAgentLoop_MaxToolCallsStopsRun(t *testing.T) {
	// Model that always asks for one more command.
	endless := make([]*LLMResponse, 30)
	for i := range endless {
		endless[i] = &LLMResponse{ToolCalls: []entity.ToolCallInfo{
			toolCall("c", "execute_command", map[string]interface{}{"command": "ps aux"}),
		}, TokensUsed: 1}
	}
	llm := &scriptedLLM{script: endless}
	exec := newRecordingExecutor()

	cfg := testLoopConfig()
	cfg.MaxToolCalls = 5
	// Loop-detection reflection would fire first on identical calls;
	// widen its thresholds so this test isolates the hard cap.
	cfg.LoopDetectThreshold = 100
	cfg.LoopNameThreshold = 100
	cfg.MaxReflections = 100

	loop := NewAgentLoop(llm, exec, cfg, zap.NewNop())
	result, eventCh := loop.Run(context.Background(), "", "loop forever", nil, "")
	drainEvents(eventCh)

	if n := len(exec.executedNames()); n > 5 {
		t.Errorf("executed %d tools, cap is 5", n)
	}
	if !strings.Contains(result.FinalContent, "maximum number of tool calls") {
		t.Errorf("expected max-tool-calls stop message, got %q", result.FinalContent)
	}
}

// zh-CN runs get the zh-CN catalog for engine-authored stop messages.
func TestAgentLoop_MaxToolCallsStopMessageLocalized(t *testing.T) {
	endless := make([]*LLMResponse, 30)
	for i := range endless {
		endless[i] = &LLMResponse{ToolCalls: []entity.ToolCallInfo{
			toolCall("c", "execute_command", map[string]interface{}{"command": "ps aux"}),
		}, TokensUsed: 1}
	}
	llm := &scriptedLLM{script: endless}
	exec := newRecordingExecutor()

	cfg := testLoopConfig()
	cfg.MaxToolCalls = 3
	cfg.LoopDetectThreshold = 100
	cfg.LoopNameThreshold = 100
	cfg.MaxReflections = 100
	cfg.Language = LanguageZhCN

	loop := NewAgentLoop(llm, exec, cfg, zap.NewNop())
	result, eventCh := loop.Run(context.Background(), "", "loop forever", nil, "")
	drainEvents(eventCh)

	if result.FinalContent != tr(LanguageZhCN, "max_tool_calls_stop") {
		t.Errorf("expected zh-CN stop message, got %q", result.FinalContent)
	}
}

// blockingLLM never answers; it returns only when the context is
// cancelled, standing in for an in-flight stream.
type blockingLLM struct{}

func (b *blockingLLM) Generate(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingLLM) GenerateStream(ctx context.Context, req *LLMRequest, deltaCh chan<- StreamChunk) (*LLMResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// Cancelling the context aborts the run at the next suspension point.
func TestAgentLoop_ContextCancelAborts(t *testing.T) {
	exec := newRecordingExecutor()
	cfg := testLoopConfig()

	ctx, cancel := context.WithCancel(context.Background())
	loop := NewAgentLoop(&blockingLLM{}, exec, cfg, zap.NewNop())
	_, eventCh := loop.Run(ctx, "", "long task", nil, "")

	time.Sleep(10 * time.Millisecond) // let the loop reach the LLM suspension point
	cancel()

	events := drainEvents(eventCh)

	var sawCancel bool
	for _, ev := range events {
		if ev.Type == entity.EventError && strings.Contains(ev.Error, "cancel") {
			sawCancel = true
		}
	}
	if !sawCancel {
		t.Error("expected a cancellation error event after ctx.cancel")
	}
	if got := exec.executedNames(); len(got) != 0 {
		t.Errorf("no tool should have run, got %v", got)
	}
}

// Repeated identical commands trigger a reflection prompt; when the model
// keeps repeating, the reflection cap force-stops the run with a
// user-visible message.
func TestAgentLoop_RepeatedCommandsForceStop(t *testing.T) {
	endless := make([]*LLMResponse, 60)
	for i := range endless {
		endless[i] = &LLMResponse{ToolCalls: []entity.ToolCallInfo{
			toolCall("c", "execute_command", map[string]interface{}{"command": "ps aux"}),
		}, TokensUsed: 1}
	}
	llm := &scriptedLLM{script: endless}
	exec := newRecordingExecutor()

	cfg := testLoopConfig()
	cfg.MaxReflections = 2
	cfg.MaxToolCalls = 0 // isolate the reflection cap
	// Keep the legacy loop-detector quiet; the reflection tracker's own
	// command-loop detector should drive the stop.
	cfg.LoopDetectThreshold = 1000
	cfg.LoopNameThreshold = 1000

	loop := NewAgentLoop(llm, exec, cfg, zap.NewNop())
	result, eventCh := loop.Run(context.Background(), "", "watch processes", nil, "")
	drainEvents(eventCh)

	if !strings.Contains(result.FinalContent, tr(LanguageEnUS, "max_reflections_stop")) {
		t.Errorf("expected reflection-cap stop message, got %q", result.FinalContent)
	}
}
