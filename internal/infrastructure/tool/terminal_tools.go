package tool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/termwright/opsagent/internal/domain/terminal"
	domaintool "github.com/termwright/opsagent/internal/domain/tool"
	"go.uber.org/zap"
)

// defaultSessionID is used when the caller omits session_id, which covers
// the common single-host case where exactly one terminal is attached.
const defaultSessionID = "default"

func sessionArg(args map[string]interface{}) string {
	if id, ok := args["session_id"].(string); ok && id != "" {
		return id
	}
	return defaultSessionID
}

func resolveSession(reg *terminal.Registry, args map[string]interface{}) (terminal.Session, string, error) {
	id := sessionArg(args)
	s, ok := reg.Get(id)
	if !ok {
		return nil, id, fmt.Errorf("no terminal session %q; call connect_terminal (or start a local session) first", id)
	}
	return s, id, nil
}

// contextSnapshot renders the shared terminal-context payload (buffer tail +
// classified activity) that several tools return.
func contextSnapshot(s terminal.Session, tailLines int) (string, terminal.State) {
	lines := s.ReadBuffer(tailLines)
	state := terminal.Classify(lines, s.Kind(), s.LastOutputAge())
	var sb strings.Builder
	fmt.Fprintf(&sb, "[activity=%s input=%s output=%s last_output_age=%s]\n",
		state.Activity, state.InputKind, state.OutputKind, state.LastOutputAge.Round(time.Millisecond))
	sb.WriteString(strings.Join(lines, "\n"))
	return sb.String(), state
}

// ---- execute_command ----

// ExecuteCommandTool writes a command to a terminal session and polls with
// an adaptive interval until the terminal settles (idle/waiting-input/may
// be stuck) or a per-call deadline elapses.
type ExecuteCommandTool struct {
	registry *terminal.Registry
	logger   *zap.Logger
	// PollDeadline bounds how long execute_command waits for the terminal to
	// settle before returning control to the model with a "running" verdict.
	PollDeadline time.Duration
}

// NewExecuteCommandTool creates the execute_command tool. defaultTimeout
// bounds the polling wait when a call carries no timeout_sec of its own;
// zero falls back to 30s (agent.ops.command_timeout_sec's default).
func NewExecuteCommandTool(registry *terminal.Registry, defaultTimeout time.Duration, logger *zap.Logger) *ExecuteCommandTool {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &ExecuteCommandTool{registry: registry, logger: logger, PollDeadline: defaultTimeout}
}

func (t *ExecuteCommandTool) Name() string          { return "execute_command" }
func (t *ExecuteCommandTool) Kind() domaintool.Kind { return domaintool.KindExecute }
func (t *ExecuteCommandTool) Description() string {
	return `Type a command into the active terminal and press Enter.
Polls the terminal until the configured timeout (override per call with
timeout_sec), backing off as output settles. If the terminal is still
running when the deadline is reached, returns the current buffer tail with
activity=running so you can check back later with check_terminal_status.
Never assume the previous command finished just because this call
returned — read the activity field.`
}

func (t *ExecuteCommandTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The command line to type, without the trailing newline",
			},
			"timeout_sec": map[string]interface{}{
				"type":        "integer",
				"minimum":     1,
				"description": "How long to wait for the command to settle before returning a 'still running' hint (default: configured command timeout)",
			},
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Terminal session to target (default: the single attached session)",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ExecuteCommandTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return &Result{Success: false, Error: "command is required"}, fmt.Errorf("command is required")
	}

	sess, id, err := resolveSession(t.registry, args)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	t.logger.Info("Typing command into terminal", zap.String("session", id), zap.String("command", command))

	// Validate before any bytes reach the terminal.
	pollDeadline := t.PollDeadline
	if sec, ok := intArg(args, "timeout_sec"); ok {
		if sec < 1 {
			return &Result{Success: false, Error: "timeout_sec must be >= 1"}, nil
		}
		pollDeadline = time.Duration(sec) * time.Second
	}

	if err := sess.Write(ctx, []byte(command+"\n")); err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("write failed: %v", err)}, nil
	}

	deadline := time.Now().Add(pollDeadline)
	interval := 300 * time.Millisecond
	const maxInterval = 3 * time.Second

	var snapshot string
	var state terminal.State
	for {
		select {
		case <-ctx.Done():
			snapshot, state = contextSnapshot(sess, 60)
			return &Result{Output: snapshot, Success: false, Error: "context cancelled while waiting", Metadata: map[string]interface{}{"activity": string(state.Activity)}}, nil
		case <-time.After(interval):
		}

		snapshot, state = contextSnapshot(sess, 60)
		if state.Activity != terminal.ActivityRunning {
			break
		}
		if time.Now().After(deadline) {
			break
		}
		interval *= 2
		if interval > maxInterval {
			interval = maxInterval
		}
	}

	return &Result{
		Output:  snapshot,
		Success: state.Activity != terminal.ActivityMayBeStuck,
		Metadata: map[string]interface{}{
			"activity":    string(state.Activity),
			"input_kind":  string(state.InputKind),
			"output_kind": string(state.OutputKind),
			"session_id":  id,
		},
	}, nil
}

// ---- check_terminal_status ----

// CheckTerminalStatusTool reports the terminal's current classified state
// without sending any input — a read-only poll for long-running commands.
type CheckTerminalStatusTool struct {
	registry *terminal.Registry
	logger   *zap.Logger
}

func NewCheckTerminalStatusTool(registry *terminal.Registry, logger *zap.Logger) *CheckTerminalStatusTool {
	return &CheckTerminalStatusTool{registry: registry, logger: logger}
}

func (t *CheckTerminalStatusTool) Name() string          { return "check_terminal_status" }
func (t *CheckTerminalStatusTool) Kind() domaintool.Kind { return domaintool.KindRead }
func (t *CheckTerminalStatusTool) Description() string {
	return "Check whether the terminal is idle, still running, waiting for input, or possibly stuck — without sending any keystrokes."
}

func (t *CheckTerminalStatusTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Terminal session to check (default: the single attached session)",
			},
		},
	}
}

func (t *CheckTerminalStatusTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	sess, id, err := resolveSession(t.registry, args)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	snapshot, state := contextSnapshot(sess, 30)
	return &Result{
		Output:  snapshot,
		Success: true,
		Metadata: map[string]interface{}{
			"activity":   string(state.Activity),
			"session_id": id,
		},
	}, nil
}

// ---- get_terminal_context ----

// GetTerminalContextTool returns a larger tail of scrollback than
// check_terminal_status, for when the model needs more history to reason
// about what happened (e.g. after a long build log).
type GetTerminalContextTool struct {
	registry *terminal.Registry
	logger   *zap.Logger
}

func NewGetTerminalContextTool(registry *terminal.Registry, logger *zap.Logger) *GetTerminalContextTool {
	return &GetTerminalContextTool{registry: registry, logger: logger}
}

func (t *GetTerminalContextTool) Name() string          { return "get_terminal_context" }
func (t *GetTerminalContextTool) Kind() domaintool.Kind { return domaintool.KindRead }
func (t *GetTerminalContextTool) Description() string {
	return "Fetch a larger window of terminal scrollback (default 200 lines) plus the classified activity/input/output state."
}

func (t *GetTerminalContextTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{"type": "string"},
			"lines": map[string]interface{}{
				"type":        "integer",
				"description": "Number of trailing lines to return (default 200)",
			},
		},
	}
}

func (t *GetTerminalContextTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	sess, id, err := resolveSession(t.registry, args)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	n := 200
	if f, ok := args["lines"].(float64); ok && f > 0 {
		n = int(f)
	}
	snapshot, state := contextSnapshot(sess, n)
	return &Result{
		Output:  snapshot,
		Success: true,
		Metadata: map[string]interface{}{
			"activity":   string(state.Activity),
			"session_id": id,
		},
	}, nil
}

// ---- send_control_key ----

var controlKeys = map[string][]byte{
	"ctrl_c": {0x03},
	"ctrl_d": {0x04},
	"ctrl_z": {0x1a},
	"enter":  {'\r'},
	"tab":    {'\t'},
	"escape": {0x1b},
	"up":     {0x1b, '[', 'A'},
	"down":   {0x1b, '[', 'B'},
}

// SendControlKeyTool writes a named control sequence (Ctrl+C, Ctrl+D, arrow
// keys, ...) to the terminal — used to interrupt a stuck command or
// navigate a pager/editor, neither of which is expressible as a plain
// command line.
type SendControlKeyTool struct {
	registry *terminal.Registry
	logger   *zap.Logger
}

func NewSendControlKeyTool(registry *terminal.Registry, logger *zap.Logger) *SendControlKeyTool {
	return &SendControlKeyTool{registry: registry, logger: logger}
}

func (t *SendControlKeyTool) Name() string          { return "send_control_key" }
func (t *SendControlKeyTool) Kind() domaintool.Kind { return domaintool.KindExecute }
func (t *SendControlKeyTool) Description() string {
	return "Send a control key (ctrl_c, ctrl_d, ctrl_z, enter, tab, escape, up, down) to the terminal, e.g. to interrupt a stuck process or navigate a pager."
}

func (t *SendControlKeyTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"key":        map[string]interface{}{"type": "string", "enum": []string{"ctrl_c", "ctrl_d", "ctrl_z", "enter", "tab", "escape", "up", "down"}},
			"session_id": map[string]interface{}{"type": "string"},
		},
		"required": []string{"key"},
	}
}

func (t *SendControlKeyTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	key, _ := args["key"].(string)
	seq, ok := controlKeys[key]
	if !ok {
		return &Result{Success: false, Error: fmt.Sprintf("unknown control key %q", key)}, nil
	}
	sess, id, err := resolveSession(t.registry, args)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	if err := sess.Write(ctx, seq); err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("write failed: %v", err)}, nil
	}
	time.Sleep(200 * time.Millisecond) // let the terminal react before we report back
	snapshot, state := contextSnapshot(sess, 30)
	return &Result{
		Output:  snapshot,
		Success: true,
		Metadata: map[string]interface{}{
			"activity":   string(state.Activity),
			"session_id": id,
			"key_sent":   key,
		},
	}, nil
}

// ---- send_input ----

// SendInputTool writes a raw line to the terminal without the semantics
// execute_command applies (risk assessment / auto-correction target). It
// exists for answering prompts a running command raised mid-flight
// (confirmation y/n, a selection menu, a password).
type SendInputTool struct {
	registry *terminal.Registry
	logger   *zap.Logger
}

func NewSendInputTool(registry *terminal.Registry, logger *zap.Logger) *SendInputTool {
	return &SendInputTool{registry: registry, logger: logger}
}

func (t *SendInputTool) Name() string          { return "send_input" }
func (t *SendInputTool) Kind() domaintool.Kind { return domaintool.KindExecute }
func (t *SendInputTool) Description() string {
	return "Send raw text followed by Enter to the terminal — use this to answer an interactive prompt (confirmation, selection, password) raised by a running command, not to start a new one."
}

// maxSendInputChars bounds one send_input payload; an interactive prompt
// answer never legitimately needs more.
const maxSendInputChars = 1000

func (t *SendInputTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{
				"type":        "string",
				"maxLength":   maxSendInputChars,
				"description": fmt.Sprintf("The text to send (max %d characters)", maxSendInputChars),
			},
			"session_id": map[string]interface{}{"type": "string"},
		},
		"required": []string{"text"},
	}
}

func (t *SendInputTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	text, _ := args["text"].(string)
	if len(text) > maxSendInputChars {
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("text is %d characters, send_input accepts at most %d; use write_file for bulk content", len(text), maxSendInputChars),
		}, nil
	}
	sess, id, err := resolveSession(t.registry, args)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	if err := sess.Write(ctx, []byte(text+"\n")); err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("write failed: %v", err)}, nil
	}
	time.Sleep(300 * time.Millisecond)
	snapshot, state := contextSnapshot(sess, 30)
	return &Result{
		Output:  snapshot,
		Success: true,
		Metadata: map[string]interface{}{
			"activity":   string(state.Activity),
			"session_id": id,
		},
	}, nil
}

// ---- wait ----

// WaitTool cooperatively sleeps for a bounded duration, honoring ctx
// cancellation, so the model can give a long-running command time to
// progress without burning tool-call budget on rapid polling.
type WaitTool struct {
	logger *zap.Logger
	// MaxSeconds bounds the duration argument to avoid a stuck run blocking
	// a goroutine indefinitely behind the per-tool timeout.
	MaxSeconds int
}

func NewWaitTool(logger *zap.Logger) *WaitTool {
	return &WaitTool{logger: logger, MaxSeconds: 60}
}

func (t *WaitTool) Name() string          { return "wait" }
func (t *WaitTool) Kind() domaintool.Kind { return domaintool.KindThink }
func (t *WaitTool) Description() string {
	return "Pause for a number of seconds before checking the terminal again. Use this instead of repeatedly calling check_terminal_status in a tight loop."
}

func (t *WaitTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"seconds": map[string]interface{}{"type": "integer", "description": "How long to pause, in seconds (max 60)"},
		},
		"required": []string{"seconds"},
	}
}

func (t *WaitTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	secs := 5
	if f, ok := args["seconds"].(float64); ok && f > 0 {
		secs = int(f)
	}
	if secs > t.MaxSeconds {
		secs = t.MaxSeconds
	}
	select {
	case <-ctx.Done():
		return &Result{Success: false, Error: "context cancelled during wait"}, nil
	case <-time.After(time.Duration(secs) * time.Second):
	}
	return &Result{Output: fmt.Sprintf("waited %ds", secs), Success: true}, nil
}

// ---- ask_user ----

// AskFunc requests free-text input from the human operator (via Telegram,
// the HTTP control surface, or the local TUI prompt). It blocks until the
// user responds or ctx is cancelled.
type AskFunc func(ctx context.Context, question string) (string, error)

// AskUserTool suspends the run and asks the human operator a question,
// e.g. to disambiguate an instruction or obtain a credential the agent
// should not guess at.
type AskUserTool struct {
	mu     sync.RWMutex
	ask    AskFunc
	logger *zap.Logger
}

func NewAskUserTool(ask AskFunc, logger *zap.Logger) *AskUserTool {
	return &AskUserTool{ask: ask, logger: logger}
}

// SetAsk wires the operator channel after construction — the same
// deferred-injection pattern as SecurityHook.SetApprovalFunc, needed
// because the Telegram/HTTP front end that can actually ask a human
// doesn't exist yet when tools are registered.
func (t *AskUserTool) SetAsk(ask AskFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ask = ask
}

func (t *AskUserTool) Name() string          { return "ask_user" }
func (t *AskUserTool) Kind() domaintool.Kind { return domaintool.KindCommunicate }
func (t *AskUserTool) Description() string {
	return "Ask the human operator a direct question and wait for their reply. Use sparingly — only when the task genuinely cannot proceed without human input."
}

func (t *AskUserTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"question": map[string]interface{}{"type": "string"},
		},
		"required": []string{"question"},
	}
}

func (t *AskUserTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	question, _ := args["question"].(string)
	if strings.TrimSpace(question) == "" {
		return &Result{Success: false, Error: "question is required"}, nil
	}
	t.mu.RLock()
	ask := t.ask
	t.mu.RUnlock()
	if ask == nil {
		return &Result{Success: false, Error: "no operator channel is configured to relay this question"}, nil
	}
	answer, err := ask(ctx, question)
	if err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("ask_user failed: %v", err)}, nil
	}
	return &Result{Output: answer, Success: true}, nil
}
