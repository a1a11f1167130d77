package tool

import (
	"context"
	"testing"
	"time"

	"github.com/termwright/opsagent/internal/domain/terminal"
	"go.uber.org/zap"
)

// fakeSession is a minimal in-memory terminal.Session for tool tests —
// Write appends to a canned line buffer instead of driving a real PTY/SSH.
type fakeSession struct {
	id       string
	kind     terminal.PTYKind
	lines    []string
	age      time.Duration
	writes   [][]byte
	writeErr error
}

func (f *fakeSession) ID() string             { return f.id }
func (f *fakeSession) Kind() terminal.PTYKind { return f.kind }
func (f *fakeSession) Write(ctx context.Context, data []byte) error {
	f.writes = append(f.writes, append([]byte(nil), data...))
	return f.writeErr
}
func (f *fakeSession) ReadBuffer(lastN int) []string {
	if len(f.lines) <= lastN {
		return f.lines
	}
	return f.lines[len(f.lines)-lastN:]
}
func (f *fakeSession) LastOutputAge() time.Duration { return f.age }
func (f *fakeSession) Resize(cols, rows int) error  { return nil }
func (f *fakeSession) ShellKind() string            { return "bash" }
func (f *fakeSession) Close() error                 { return nil }

func newTestRegistryWithSession(sess terminal.Session) *terminal.Registry {
	reg := terminal.NewRegistry()
	reg.Add(sess)
	return reg
}

func toolTestLogger() *zap.Logger {
	l, _ := zap.NewDevelopment()
	return l
}

func TestExecuteCommandToolWritesAndReportsIdle(t *testing.T) {
	sess := &fakeSession{id: defaultSessionID, kind: terminal.PTYKindLocal, lines: []string{"$ "}, age: time.Second}
	reg := newTestRegistryWithSession(sess)
	tool := NewExecuteCommandTool(reg, 0, toolTestLogger())
	tool.PollDeadline = 2 * time.Second

	res, err := tool.Execute(context.Background(), map[string]interface{}{"command": "ls"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(sess.writes) != 1 || string(sess.writes[0]) != "ls\n" {
		t.Fatalf("expected 'ls\\n' written, got %q", sess.writes)
	}
	if res.Metadata["activity"] != "idle" {
		t.Fatalf("expected idle activity, got %v", res.Metadata["activity"])
	}
}

func TestExecuteCommandToolRequiresCommand(t *testing.T) {
	reg := terminal.NewRegistry()
	tool := NewExecuteCommandTool(reg, 0, toolTestLogger())
	res, _ := tool.Execute(context.Background(), map[string]interface{}{})
	if res.Success {
		t.Fatalf("expected failure for missing command")
	}
}

func TestExecuteCommandToolMissingSession(t *testing.T) {
	reg := terminal.NewRegistry()
	tool := NewExecuteCommandTool(reg, 0, toolTestLogger())
	res, _ := tool.Execute(context.Background(), map[string]interface{}{"command": "ls"})
	if res.Success {
		t.Fatalf("expected failure when no session is registered")
	}
}

func TestCheckTerminalStatusToolReadOnly(t *testing.T) {
	sess := &fakeSession{id: defaultSessionID, kind: terminal.PTYKindLocal, lines: []string{"$ "}, age: time.Second}
	reg := newTestRegistryWithSession(sess)
	tool := NewCheckTerminalStatusTool(reg, toolTestLogger())

	res, err := tool.Execute(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(sess.writes) != 0 {
		t.Fatalf("check_terminal_status must not write to the session")
	}
}

func TestSendControlKeyToolUnknownKey(t *testing.T) {
	sess := &fakeSession{id: defaultSessionID, kind: terminal.PTYKindLocal}
	reg := newTestRegistryWithSession(sess)
	tool := NewSendControlKeyTool(reg, toolTestLogger())

	res, _ := tool.Execute(context.Background(), map[string]interface{}{"key": "nope"})
	if res.Success {
		t.Fatalf("expected failure for unknown control key")
	}
}

func TestSendControlKeyToolCtrlC(t *testing.T) {
	sess := &fakeSession{id: defaultSessionID, kind: terminal.PTYKindLocal, lines: []string{"$ "}}
	reg := newTestRegistryWithSession(sess)
	tool := NewSendControlKeyTool(reg, toolTestLogger())

	res, err := tool.Execute(context.Background(), map[string]interface{}{"key": "ctrl_c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(sess.writes) != 1 || sess.writes[0][0] != 0x03 {
		t.Fatalf("expected ctrl_c byte 0x03 written, got %v", sess.writes)
	}
}

func TestSendInputToolAppendsNewline(t *testing.T) {
	sess := &fakeSession{id: defaultSessionID, kind: terminal.PTYKindLocal, lines: []string{"$ "}}
	reg := newTestRegistryWithSession(sess)
	tool := NewSendInputTool(reg, toolTestLogger())

	_, err := tool.Execute(context.Background(), map[string]interface{}{"text": "yes"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(sess.writes[0]) != "yes\n" {
		t.Fatalf("expected 'yes\\n', got %q", sess.writes[0])
	}
}

func TestSendInputToolRejectsOverlongText(t *testing.T) {
	sess := &fakeSession{id: defaultSessionID, kind: terminal.PTYKindLocal, lines: []string{"$ "}}
	reg := newTestRegistryWithSession(sess)
	tool := NewSendInputTool(reg, toolTestLogger())

	long := make([]byte, maxSendInputChars+1)
	for i := range long {
		long[i] = 'a'
	}
	res, err := tool.Execute(context.Background(), map[string]interface{}{"text": string(long)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatalf("expected failure for %d-char input", len(long))
	}
	if len(sess.writes) != 0 {
		t.Fatalf("over-long input must not reach the terminal, got %d writes", len(sess.writes))
	}
}

func TestExecuteCommandToolTimeoutSecOverride(t *testing.T) {
	// No prompt in the buffer and fresh output: the classifier keeps
	// reporting running, so the poll loop runs until the deadline.
	sess := &fakeSession{id: defaultSessionID, kind: terminal.PTYKindLocal, lines: []string{"building..."}, age: 0}
	reg := newTestRegistryWithSession(sess)
	tool := NewExecuteCommandTool(reg, 30*time.Second, toolTestLogger())

	start := time.Now()
	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"command":     "make",
		"timeout_sec": float64(1),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout_sec=1 should bound the poll, took %v", elapsed)
	}
	if res.Metadata["activity"] != "running" {
		t.Fatalf("expected running activity at deadline, got %v", res.Metadata["activity"])
	}
}

func TestExecuteCommandToolRejectsBadTimeout(t *testing.T) {
	sess := &fakeSession{id: defaultSessionID, kind: terminal.PTYKindLocal, lines: []string{"$ "}}
	reg := newTestRegistryWithSession(sess)
	tool := NewExecuteCommandTool(reg, 0, toolTestLogger())

	res, _ := tool.Execute(context.Background(), map[string]interface{}{
		"command":     "ls",
		"timeout_sec": float64(0),
	})
	if res.Success {
		t.Fatalf("expected failure for timeout_sec < 1")
	}
	if len(sess.writes) != 0 {
		t.Fatalf("invalid timeout must not reach the terminal, got %d writes", len(sess.writes))
	}
}

func TestWaitToolHonoursContextCancellation(t *testing.T) {
	tool := NewWaitTool(toolTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := tool.Execute(ctx, map[string]interface{}{"seconds": float64(30)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatalf("expected failure on cancelled context")
	}
}

func TestWaitToolClampsToMax(t *testing.T) {
	tool := NewWaitTool(toolTestLogger())
	tool.MaxSeconds = 1
	start := time.Now()
	res, err := tool.Execute(context.Background(), map[string]interface{}{"seconds": float64(120)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("expected wait to be clamped to ~1s, took %v", time.Since(start))
	}
}

func TestAskUserToolRequiresQuestion(t *testing.T) {
	tool := NewAskUserTool(nil, toolTestLogger())
	res, _ := tool.Execute(context.Background(), map[string]interface{}{})
	if res.Success {
		t.Fatalf("expected failure for missing question")
	}
}

func TestAskUserToolNoChannelConfigured(t *testing.T) {
	tool := NewAskUserTool(nil, toolTestLogger())
	res, _ := tool.Execute(context.Background(), map[string]interface{}{"question": "proceed?"})
	if res.Success {
		t.Fatalf("expected failure when no ask channel is configured")
	}
}

func TestAskUserToolRelaysAnswer(t *testing.T) {
	ask := func(ctx context.Context, question string) (string, error) {
		return "go ahead", nil
	}
	tool := NewAskUserTool(ask, toolTestLogger())
	res, err := tool.Execute(context.Background(), map[string]interface{}{"question": "proceed?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.Output != "go ahead" {
		t.Fatalf("expected relayed answer, got %+v", res)
	}
}
