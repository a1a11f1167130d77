package service

import (
	"context"
	"testing"

	"github.com/termwright/opsagent/internal/domain/risk"
)

func TestOpsHookBlocksBlockedCommand(t *testing.T) {
	h := NewOpsHook(risk.ModeFree, false, nil, nil, testLogger())
	ok := h.BeforeToolCall(context.Background(), "execute_command", map[string]interface{}{
		"command": "rm -rf /",
	})
	if ok {
		t.Fatalf("blocked command must never be allowed, even in free mode")
	}
}

func TestOpsHookIgnoresUngatedTools(t *testing.T) {
	h := NewOpsHook(risk.ModeStrict, false, nil, nil, testLogger())
	ok := h.BeforeToolCall(context.Background(), "read_file", map[string]interface{}{
		"command": "rm -rf /",
	})
	if !ok {
		t.Fatalf("non-gated tools should never be risk-assessed")
	}
}

func TestOpsHookStrictRequiresConfirmation(t *testing.T) {
	var asked bool
	confirm := func(ctx context.Context, command string, level risk.Level) (bool, error) {
		asked = true
		return true, nil
	}
	h := NewOpsHook(risk.ModeStrict, false, confirm, nil, testLogger())
	ok := h.BeforeToolCall(context.Background(), "execute_command", map[string]interface{}{
		"command": "sudo systemctl restart nginx",
	})
	if !asked {
		t.Fatalf("strict mode should have requested confirmation for a dangerous command")
	}
	if !ok {
		t.Fatalf("approved confirmation should allow the call")
	}
}

func TestOpsHookDeniedConfirmationBlocksCall(t *testing.T) {
	confirm := func(ctx context.Context, command string, level risk.Level) (bool, error) {
		return false, nil
	}
	h := NewOpsHook(risk.ModeStrict, false, confirm, nil, testLogger())
	ok := h.BeforeToolCall(context.Background(), "execute_command", map[string]interface{}{
		"command": "git push --force",
	})
	if ok {
		t.Fatalf("denied confirmation must block the call")
	}
}

func TestOpsHookNoConfirmFuncDeniesByDefault(t *testing.T) {
	h := NewOpsHook(risk.ModeStrict, false, nil, nil, testLogger())
	ok := h.BeforeToolCall(context.Background(), "execute_command", map[string]interface{}{
		"command": "chmod -R 755 .",
	})
	if ok {
		t.Fatalf("missing confirm func should fail safe (deny), not auto-approve")
	}
}

func TestOpsHookFreeModeSkipsConfirmation(t *testing.T) {
	h := NewOpsHook(risk.ModeFree, false, nil, nil, testLogger())
	ok := h.BeforeToolCall(context.Background(), "execute_command", map[string]interface{}{
		"command": "sudo systemctl restart nginx",
	})
	if !ok {
		t.Fatalf("free mode should never require confirmation for non-blocked commands")
	}
}

func TestOpsHookAutoCorrectRewritesArgsInPlace(t *testing.T) {
	h := NewOpsHook(risk.ModeFree, true, nil, nil, testLogger())
	args := map[string]interface{}{"command": "top"}
	ok := h.BeforeToolCall(context.Background(), "execute_command", args)
	if !ok {
		t.Fatalf("corrected safe command should be allowed")
	}
	if args["command"] != "top -bn1" {
		t.Fatalf("expected auto-corrected command, got %v", args["command"])
	}
	if args["auto_corrected"] != true {
		t.Fatalf("expected auto_corrected metadata flag set")
	}
	if args["original_command"] != "top" {
		t.Fatalf("expected original_command preserved, got %v", args["original_command"])
	}
}

func TestOpsHookAutoCorrectRejectsHtop(t *testing.T) {
	h := NewOpsHook(risk.ModeFree, true, nil, nil, testLogger())
	ok := h.BeforeToolCall(context.Background(), "execute_command", map[string]interface{}{
		"command": "htop",
	})
	if ok {
		t.Fatalf("interactive commands rejected by AutoCorrect must block the call")
	}
}

func TestOpsHookCtrlCRequiresConfirmationWhileRunning(t *testing.T) {
	for _, mode := range []risk.ExecutionMode{risk.ModeStrict, risk.ModeRelaxed} {
		var asked bool
		var askedLevel risk.Level
		confirm := func(ctx context.Context, action string, level risk.Level) (bool, error) {
			asked = true
			askedLevel = level
			return true, nil
		}
		h := NewOpsHook(mode, false, confirm, nil, testLogger())
		h.SetRunningProbe(func(args map[string]interface{}) bool { return true })

		ok := h.BeforeToolCall(context.Background(), "send_control_key", map[string]interface{}{
			"key": "ctrl_c",
		})
		if !asked {
			t.Fatalf("mode %s: ctrl+c with a command running must request confirmation", mode)
		}
		if askedLevel != risk.Dangerous {
			t.Fatalf("mode %s: ctrl+c should be classified dangerous, got %s", mode, askedLevel)
		}
		if !ok {
			t.Fatalf("mode %s: approved confirmation should allow the call", mode)
		}
	}
}

func TestOpsHookCtrlCDeniedBlocksCall(t *testing.T) {
	confirm := func(ctx context.Context, action string, level risk.Level) (bool, error) {
		return false, nil
	}
	h := NewOpsHook(risk.ModeStrict, false, confirm, nil, testLogger())
	h.SetRunningProbe(func(args map[string]interface{}) bool { return true })

	ok := h.BeforeToolCall(context.Background(), "send_control_key", map[string]interface{}{
		"key": "ctrl_c",
	})
	if ok {
		t.Fatalf("denied ctrl+c confirmation must block the call")
	}
}

func TestOpsHookCtrlCAllowedWhenIdle(t *testing.T) {
	confirm := func(ctx context.Context, action string, level risk.Level) (bool, error) {
		t.Fatalf("idle terminal: ctrl+c must not request confirmation")
		return false, nil
	}
	h := NewOpsHook(risk.ModeStrict, false, confirm, nil, testLogger())
	h.SetRunningProbe(func(args map[string]interface{}) bool { return false })

	ok := h.BeforeToolCall(context.Background(), "send_control_key", map[string]interface{}{
		"key": "ctrl_c",
	})
	if !ok {
		t.Fatalf("ctrl+c on an idle terminal should pass without confirmation")
	}
}

func TestOpsHookOtherControlKeysUngated(t *testing.T) {
	h := NewOpsHook(risk.ModeStrict, false, nil, nil, testLogger())
	h.SetRunningProbe(func(args map[string]interface{}) bool { return true })

	for _, key := range []string{"enter", "tab", "up", "down"} {
		ok := h.BeforeToolCall(context.Background(), "send_control_key", map[string]interface{}{
			"key": key,
		})
		if !ok {
			t.Fatalf("key %s should never be gated", key)
		}
	}
}

func TestOpsHookSetModeChangesBehaviourAtRuntime(t *testing.T) {
	h := NewOpsHook(risk.ModeFree, false, nil, nil, testLogger())
	h.SetMode(risk.ModeStrict)
	if h.Mode() != risk.ModeStrict {
		t.Fatalf("expected mode to update to strict")
	}
	ok := h.BeforeToolCall(context.Background(), "execute_command", map[string]interface{}{
		"command": "mv a b",
	})
	if ok {
		t.Fatalf("strict mode with no confirm func should deny a moderate-risk command")
	}
}

func TestOpsHookAwaitingConfirmationStateTransitions(t *testing.T) {
	sm := NewStateMachine(0, testLogger())
	_ = sm.Transition(StatePlanning)
	_ = sm.Transition(StateStreaming)
	_ = sm.Transition(StateToolExec)

	confirm := func(ctx context.Context, command string, level risk.Level) (bool, error) {
		if sm.State() != StateAwaitingConfirmation {
			t.Fatalf("expected state machine to be in awaiting_confirmation during the confirm callback, got %s", sm.State())
		}
		return true, nil
	}
	h := NewOpsHook(risk.ModeStrict, false, confirm, sm, testLogger())
	ok := h.BeforeToolCall(context.Background(), "execute_command", map[string]interface{}{
		"command": "sudo systemctl restart nginx",
	})
	if !ok {
		t.Fatalf("approved confirmation should allow the call")
	}
	if sm.State() != StateToolExec {
		t.Fatalf("expected state to resume to tool_exec, got %s", sm.State())
	}
}
