// Package reflection maintains per-run ReflectionState, detects
// pathological tool-call patterns (command loops, consecutive failures,
// runaway step counts, stalled progress), and recommends strategy
// switches.
package reflection

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/termwright/opsagent/internal/domain/planner"
)

const ringCap = 8

// Issue names detectIssues can report.
const (
	IssueCommandLoop       = "detected_command_loop"
	IssueConsecutiveFail   = "consecutive_failures"
	IssueTooManySteps      = "too_many_steps"
	IssueTooManyReflections = "too_many_reflections"
	IssueProgressStalled   = "progress_stalled"
)

const (
	consecutiveFailureThreshold = 3
	tooManyStepsThreshold       = 40
	tooManyReflectionsThreshold = 3
	progressStalledWindow       = 5
	minStepsSinceReflection     = 3
)

// State tracks the reflection bookkeeping for one AgentRun.
type State struct {
	ToolCallCount          int
	ConsecutiveFailureCount int
	TotalFailures          int
	SuccessCount           int
	LastCommands           []string // ring, cap 8 (execute_command only)
	LastToolCallSignatures []string // ring, cap 8 ("name+hash(args)")
	LastReflectionStep     int
	ReflectionCount        int
	CurrentStrategy        planner.Strategy
	StrategySwitches       []string
	DetectedIssues         map[string]bool
}

// New returns a zeroed reflection State for a fresh run.
func New() *State {
	return &State{
		CurrentStrategy: planner.StrategyDefault,
		DetectedIssues:  make(map[string]bool),
	}
}

func pushRing(ring []string, item string) []string {
	ring = append(ring, item)
	if len(ring) > ringCap {
		ring = ring[len(ring)-ringCap:]
	}
	return ring
}

func hashArgs(args string) string {
	sum := sha1.Sum([]byte(args))
	return hex.EncodeToString(sum[:])[:12]
}

// Observe records one executed tool call's outcome.
func (s *State) Observe(toolName, argsJSON string, success bool) {
	s.ToolCallCount++
	if toolName == "execute_command" {
		s.LastCommands = pushRing(s.LastCommands, argsJSON)
	}
	s.LastToolCallSignatures = pushRing(s.LastToolCallSignatures, toolName+"+"+hashArgs(argsJSON))

	if success {
		s.SuccessCount++
		s.ConsecutiveFailureCount = 0
	} else {
		s.TotalFailures++
		s.ConsecutiveFailureCount++
	}
}

// DetectIssues evaluates the current state against the five detectors
// and returns the set of triggered issue names.
func (s *State) DetectIssues() map[string]bool {
	issues := make(map[string]bool)

	if hasCommandLoop(s.LastCommands) {
		issues[IssueCommandLoop] = true
	}
	if s.ConsecutiveFailureCount >= consecutiveFailureThreshold {
		issues[IssueConsecutiveFail] = true
	}
	if s.ToolCallCount >= tooManyStepsThreshold {
		issues[IssueTooManySteps] = true
	}
	if s.ReflectionCount >= tooManyReflectionsThreshold {
		issues[IssueTooManyReflections] = true
	}
	if hasProgressStalled(s.LastToolCallSignatures) {
		issues[IssueProgressStalled] = true
	}

	s.DetectedIssues = issues
	return issues
}

// hasCommandLoop matches either three identical trailing commands, or
// the AB-AB pattern over the last four (TESTABLE PROPERTIES #7: an
// AB-AB loop must be detected by the fourth occurrence).
func hasCommandLoop(cmds []string) bool {
	n := len(cmds)
	if n >= 3 {
		a, b, c := cmds[n-3], cmds[n-2], cmds[n-1]
		if a == b && b == c {
			return true
		}
	}
	if n >= 4 {
		a, b, c, d := cmds[n-4], cmds[n-3], cmds[n-2], cmds[n-1]
		if a == c && b == d && a != b {
			return true
		}
	}
	return false
}

// hasProgressStalled reports true when the last progressStalledWindow
// tool-call signatures are all identical (nothing changed across the
// whole window).
func hasProgressStalled(sigs []string) bool {
	if len(sigs) < progressStalledWindow {
		return false
	}
	tail := sigs[len(sigs)-progressStalledWindow:]
	first := tail[0]
	for _, sig := range tail[1:] {
		if sig != first {
			return false
		}
	}
	return true
}

// ShouldTriggerReflection is true once the issue set is non-empty and
// enough tool calls have elapsed since the last reflection.
func (s *State) ShouldTriggerReflection(issues map[string]bool) bool {
	if len(issues) == 0 {
		return false
	}
	return s.ToolCallCount-s.LastReflectionStep >= minStepsSinceReflection
}

// SwitchRecommendation is the result of ShouldSwitchStrategy.
type SwitchRecommendation struct {
	NewStrategy planner.Strategy
	Reason      string
}

// ShouldSwitchStrategy recommends a strategy change, or returns ok=false.
func (s *State) ShouldSwitchStrategy(issues map[string]bool) (rec SwitchRecommendation, ok bool) {
	if issues[IssueCommandLoop] || issues[IssueConsecutiveFail] {
		if s.CurrentStrategy != planner.StrategyConservative {
			return SwitchRecommendation{planner.StrategyConservative, "loop or consecutive failures detected"}, true
		}
		return rec, false
	}
	if s.SuccessCount >= 3 && s.ConsecutiveFailureCount == 0 && len(issues) == 0 {
		if s.CurrentStrategy != planner.StrategyDefault {
			return SwitchRecommendation{planner.StrategyDefault, "sustained success, reverting to default strategy"}, true
		}
	}
	return rec, false
}

// ApplySwitch records a strategy switch in history and updates CurrentStrategy.
func (s *State) ApplySwitch(rec SwitchRecommendation) {
	s.CurrentStrategy = rec.NewStrategy
	s.StrategySwitches = append(s.StrategySwitches, fmt.Sprintf("%s: %s", rec.NewStrategy, rec.Reason))
}

// GenerateReflectionPrompt composes a corrective user-role message for
// the given issue set. Returning ("", false) means force-stop the run
// (too_many_reflections fired).
func (s *State) GenerateReflectionPrompt(issues map[string]bool) (string, bool) {
	if issues[IssueTooManyReflections] {
		return "", false
	}

	names := make([]string, 0, len(issues))
	for name := range issues {
		names = append(names, name)
	}
	sort.Strings(names)

	switch {
	case issues[IssueCommandLoop]:
		return "You are repeating the same operation. State the problem plainly, stop retrying, and either try a different approach or report the blocker to the user.", true
	case issues[IssueConsecutiveFail]:
		return "The last several tool calls failed consecutively. Stop and reconsider your approach before trying again.", true
	case issues[IssueProgressStalled]:
		return "No progress has been made across the last several tool calls. Try a different tool or command, or report what is blocking you.", true
	case issues[IssueTooManySteps]:
		return "This task has taken an unusually large number of steps. Summarize what has been accomplished and what remains, or conclude if the goal is met.", true
	default:
		return fmt.Sprintf("Reflection triggered by: %v. Reconsider the current approach.", names), true
	}
}

// RecordReflection advances reflection bookkeeping after a prompt is
// injected (or a forced stop decided).
func (s *State) RecordReflection() {
	s.ReflectionCount++
	s.LastReflectionStep = s.ToolCallCount
}
