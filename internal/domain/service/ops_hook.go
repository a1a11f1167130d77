package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/termwright/opsagent/internal/domain/risk"
)

// ConfirmFunc requests user confirmation for a risky command (e.g. via Telegram
// inline keyboard or the HTTP control surface). It blocks until the user
// responds or ctx is cancelled. Returns true if approved.
type ConfirmFunc func(ctx context.Context, command string, level risk.Level) (bool, error)

// RunningProbe reports whether the terminal targeted by a tool call (its
// args carry the optional session_id) currently has a command running.
// Used to decide whether ctrl+c is a dangerous interrupt or a no-op.
type RunningProbe func(args map[string]interface{}) bool

// OpsHook implements AgentHook to enforce command-risk gating for the
// terminal-driving tools. Unlike SecurityHook, which gates by tool
// name/trust list, OpsHook gates by the risk level of the actual command
// string (or control key), per the configured ExecutionMode.
type OpsHook struct {
	mu           sync.RWMutex
	mode         risk.ExecutionMode
	autoCorrect  bool
	confirmFunc  ConfirmFunc
	runningProbe RunningProbe
	sm           *StateMachine
	logger       *zap.Logger
}

// NewOpsHook creates an OpsHook. sm may be nil if the caller does not want
// StateAwaitingConfirmation transitions reflected on a state machine.
func NewOpsHook(mode risk.ExecutionMode, autoCorrect bool, confirmFunc ConfirmFunc, sm *StateMachine, logger *zap.Logger) *OpsHook {
	return &OpsHook{
		mode:        mode,
		autoCorrect: autoCorrect,
		confirmFunc: confirmFunc,
		sm:          sm,
		logger:      logger,
	}
}

func (h *OpsHook) BeforeToolCall(ctx context.Context, toolName string, args map[string]interface{}) bool {
	h.mu.RLock()
	mode := h.mode
	autoCorrect := h.autoCorrect
	runningProbe := h.runningProbe
	h.mu.RUnlock()

	switch toolName {
	case "execute_command":
		// fall through to command-risk assessment below
	case "send_control_key":
		key, _ := args["key"].(string)
		if key != "ctrl_c" {
			return true // other keys just answer prompts / move cursors
		}
		// ctrl+c is dangerous only while a command is running; with no
		// probe wired we can't tell, so assume it is.
		running := true
		if runningProbe != nil {
			running = runningProbe(args)
		}
		if !running {
			return true
		}
		if !risk.RequiresConfirmation(mode, risk.Dangerous) {
			return true
		}
		return h.confirm(ctx, "ctrl+c (interrupt the running command)", risk.Dangerous)
	default:
		return true
	}

	cmd, _ := args["command"].(string)
	if cmd == "" {
		return true
	}

	level, err := risk.Assess(cmd)
	if err != nil {
		// Empty command already filtered above; any other error is unexpected —
		// fail safe by letting the tool itself reject the empty/malformed input.
		return true
	}

	if level == risk.Blocked {
		h.logger.Warn("Command blocked by risk policy",
			zap.String("tool", toolName),
			zap.String("command", cmd),
		)
		return false
	}

	if autoCorrect {
		if corr, err := risk.AutoCorrect(cmd); err == nil && corr != nil {
			h.logger.Info("Command auto-corrected",
				zap.String("original", corr.Original),
				zap.String("rewritten", corr.Rewritten),
				zap.String("reason", corr.Reason),
			)
			args["command"] = corr.Rewritten
			args["auto_corrected"] = true
			args["original_command"] = corr.Original
			cmd = corr.Rewritten
			level, _ = risk.Assess(cmd)
			if level == risk.Blocked {
				return false
			}
		} else if err != nil {
			h.logger.Warn("Command rejected by auto-correct",
				zap.String("command", cmd),
				zap.Error(err),
			)
			return false
		}
	}

	if !risk.RequiresConfirmation(mode, level) {
		return true
	}

	return h.confirm(ctx, cmd, level)
}

// confirm runs the blocking confirmation round-trip for one gated action.
// No confirm channel configured means deny, not allow.
func (h *OpsHook) confirm(ctx context.Context, action string, level risk.Level) bool {
	h.mu.RLock()
	confirmFunc := h.confirmFunc
	sm := h.sm
	h.mu.RUnlock()

	if confirmFunc == nil {
		h.logger.Warn("No confirm function set, denying risky action by default",
			zap.String("action", action),
			zap.String("level", level.String()),
		)
		return false
	}

	if sm != nil {
		_ = sm.Transition(StateAwaitingConfirmation)
	}

	approved, err := confirmFunc(ctx, action, level)

	if sm != nil {
		_ = sm.Transition(StateToolExec)
	}

	if err != nil {
		h.logger.Error("Confirmation request failed",
			zap.String("action", action),
			zap.Error(err),
		)
		return false
	}
	if !approved {
		h.logger.Info("Action denied by user", zap.String("action", action))
	}
	return approved
}

func (h *OpsHook) AfterToolCall(_ context.Context, _ string, _ string, _ bool) {}
func (h *OpsHook) BeforeLLMCall(_ context.Context, _ *LLMRequest, _ int)       {}
func (h *OpsHook) AfterLLMCall(_ context.Context, _ *LLMResponse, _ int)       {}
func (h *OpsHook) OnStateChange(_ AgentState, _ AgentState, _ StateSnapshot)   {}
func (h *OpsHook) OnError(_ context.Context, _ error, _ int)                   {}
func (h *OpsHook) OnComplete(_ context.Context, _ *AgentResult)                {}

// SetConfirmFunc sets the confirmation callback (deferred injection after the
// Telegram/HTTP control surface is wired up).
func (h *OpsHook) SetConfirmFunc(fn ConfirmFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.confirmFunc = fn
}

// SetRunningProbe sets the terminal-activity probe used to decide whether
// ctrl+c interrupts a running command (deferred injection, like
// SetConfirmFunc, since the terminal registry is wired up later).
func (h *OpsHook) SetRunningProbe(p RunningProbe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runningProbe = p
}

// SetMode changes the execution mode at runtime (e.g. via a control-surface call).
func (h *OpsHook) SetMode(mode risk.ExecutionMode) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mode = mode
}

// Mode returns the current execution mode.
func (h *OpsHook) Mode() risk.ExecutionMode {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.mode
}
