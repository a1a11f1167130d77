package reflection

import "testing"

func TestDetectCommandLoopTripleRepeat(t *testing.T) {
	s := New()
	for i := 0; i < 3; i++ {
		s.Observe("execute_command", `{"command":"ps aux"}`, true)
	}
	issues := s.DetectIssues()
	if !issues[IssueCommandLoop] {
		t.Fatalf("expected command loop detected, got %v", issues)
	}
}

func TestDetectCommandLoopABABByFourth(t *testing.T) {
	s := New()
	cmds := []string{"cmd_a", "cmd_b", "cmd_a", "cmd_b"}
	for _, c := range cmds {
		s.Observe("execute_command", `{"command":"`+c+`"}`, true)
	}
	issues := s.DetectIssues()
	if !issues[IssueCommandLoop] {
		t.Fatalf("expected AB-AB loop detected by the fourth occurrence, got %v", issues)
	}
}

func TestConsecutiveFailures(t *testing.T) {
	s := New()
	for i := 0; i < 3; i++ {
		s.Observe("execute_command", `{"command":"false"}`, false)
	}
	issues := s.DetectIssues()
	if !issues[IssueConsecutiveFail] {
		t.Fatalf("expected consecutive_failures, got %v", issues)
	}
}

func TestConsecutiveFailuresResetsOnSuccess(t *testing.T) {
	s := New()
	s.Observe("execute_command", `{"command":"false"}`, false)
	s.Observe("execute_command", `{"command":"false"}`, false)
	s.Observe("execute_command", `{"command":"true"}`, true)
	if s.ConsecutiveFailureCount != 0 {
		t.Fatalf("expected reset, got %d", s.ConsecutiveFailureCount)
	}
}

func TestTooManySteps(t *testing.T) {
	s := New()
	for i := 0; i < 40; i++ {
		s.Observe("noop", "{}", true)
	}
	issues := s.DetectIssues()
	if !issues[IssueTooManySteps] {
		t.Fatalf("expected too_many_steps, got %v", issues)
	}
}

func TestTooManyReflectionsForcesStop(t *testing.T) {
	s := New()
	s.ReflectionCount = 3
	issues := s.DetectIssues()
	if !issues[IssueTooManyReflections] {
		t.Fatalf("expected too_many_reflections")
	}
	_, ok := s.GenerateReflectionPrompt(issues)
	if ok {
		t.Fatalf("expected force-stop (ok=false) for too_many_reflections")
	}
}

func TestShouldTriggerReflectionRequiresGap(t *testing.T) {
	s := New()
	for i := 0; i < 3; i++ {
		s.Observe("execute_command", `{"command":"ps aux"}`, true)
	}
	issues := s.DetectIssues()
	if !s.ShouldTriggerReflection(issues) {
		t.Fatalf("expected trigger with fresh reflection step")
	}
	s.RecordReflection()
	// Right after recording, the gap is zero, so triggering should be suppressed
	// even if issues are still present.
	if s.ShouldTriggerReflection(issues) {
		t.Fatalf("expected no trigger immediately after a reflection")
	}
}

func TestShouldSwitchStrategyToConservativeOnLoop(t *testing.T) {
	s := New()
	for i := 0; i < 3; i++ {
		s.Observe("execute_command", `{"command":"ps aux"}`, true)
	}
	issues := s.DetectIssues()
	rec, ok := s.ShouldSwitchStrategy(issues)
	if !ok || rec.NewStrategy != "conservative" {
		t.Fatalf("expected switch to conservative, got %+v ok=%v", rec, ok)
	}
}

func TestShouldSwitchStrategyBackToDefaultOnSustainedSuccess(t *testing.T) {
	s := New()
	s.CurrentStrategy = "conservative"
	s.Observe("a", "{}", true)
	s.Observe("b", "{}", true)
	s.Observe("c", "{}", true)
	issues := s.DetectIssues()
	rec, ok := s.ShouldSwitchStrategy(issues)
	if !ok || rec.NewStrategy != "default" {
		t.Fatalf("expected switch back to default, got %+v ok=%v", rec, ok)
	}
}

func TestReflectionCountBoundAtRunEnd(t *testing.T) {
	s := New()
	maxReflections := 3
	for i := 0; i < 10; i++ {
		s.Observe("execute_command", `{"command":"ps aux"}`, true)
		issues := s.DetectIssues()
		if s.ShouldTriggerReflection(issues) {
			if _, ok := s.GenerateReflectionPrompt(issues); !ok {
				break
			}
			s.RecordReflection()
		}
	}
	if s.ReflectionCount > maxReflections+1 {
		t.Fatalf("reflectionCount exceeded maxReflections+1: %d", s.ReflectionCount)
	}
}
