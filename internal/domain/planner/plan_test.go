package planner

import "testing"

func TestAnalyseTaskComplexity(t *testing.T) {
	cases := map[string]Complexity{
		"diagnose the failing service":               Complex,
		"deploy the new release":                      Complex,
		"configure nginx":                              Moderate,
		"check and analyze the logs":                   Moderate,
		"ls":                                            Simple,
	}
	for task, want := range cases {
		if got := AnalyseTaskComplexity(task); got != want {
			t.Errorf("%q: want %v got %v", task, want, got)
		}
	}
}

func TestAnalyseTaskComplexityLengthFloor(t *testing.T) {
	long := "please go check on the web server and tell me if everything looks fine over there today, thanks a lot"
	if len(long) <= 100 {
		t.Fatalf("fixture too short: %d", len(long))
	}
	if got := AnalyseTaskComplexity(long); got == Simple {
		t.Fatalf("long task should default to at least moderate, got %v", got)
	}
}

func TestAnalyseTaskComplexityDeterministic(t *testing.T) {
	for _, task := range []string{"df -h", "diagnose memory leak", "configure the firewall"} {
		a := AnalyseTaskComplexity(task)
		b := AnalyseTaskComplexity(task)
		if a != b {
			t.Fatalf("not deterministic for %q", task)
		}
	}
}

func TestRecommendStrategy(t *testing.T) {
	r := RecommendStrategy("diagnose why the service crashed", RecommendContext{})
	if r.Strategy != StrategyDiagnostic {
		t.Errorf("expected diagnostic, got %v", r.Strategy)
	}

	r = RecommendStrategy("restart the app", RecommendContext{IsProduction: true})
	if r.Strategy != StrategyConservative {
		t.Errorf("expected conservative for production, got %v", r.Strategy)
	}

	r = RecommendStrategy("restart the app", RecommendContext{PriorFailures: 2})
	if r.Strategy != StrategyConservative {
		t.Errorf("expected conservative after failures, got %v", r.Strategy)
	}

	r = RecommendStrategy("urgent: restart the app now", RecommendContext{})
	if r.Strategy != StrategyAggressive {
		t.Errorf("expected aggressive for urgent, got %v", r.Strategy)
	}

	r = RecommendStrategy("restart the app", RecommendContext{})
	if r.Strategy != StrategyDefault {
		t.Errorf("expected default, got %v", r.Strategy)
	}
}

func TestCreatePlanUniqueIDsAndDefaults(t *testing.T) {
	steps := []TaskStep{{Description: "step one"}, {Description: "step two"}}
	plan, err := CreatePlan("p1", "do things", Simple, steps, CreatePlanOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Steps[0].ID == plan.Steps[1].ID {
		t.Fatalf("step ids must be unique")
	}
	if plan.Steps[0].MaxRetries != defaultMaxRetries {
		t.Fatalf("expected default max retries")
	}
	if len(plan.Adjustments) != 1 || plan.Adjustments[0].Kind != "create" {
		t.Fatalf("expected a create adjustment, got %+v", plan.Adjustments)
	}
	if plan.CurrentStepIndex < 0 || plan.CurrentStepIndex >= len(plan.Steps) {
		t.Fatalf("currentStepIndex out of range: %d", plan.CurrentStepIndex)
	}
}

func TestCreatePlanDuplicateIDsRejected(t *testing.T) {
	steps := []TaskStep{{ID: "a", Description: "x"}, {ID: "a", Description: "y"}}
	_, err := CreatePlan("p1", "t", Simple, steps, CreatePlanOptions{})
	if err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestAdjustmentsAppendOnlyMonotone(t *testing.T) {
	plan, _ := CreatePlan("p1", "t", Simple, []TaskStep{{Description: "a"}, {Description: "b"}}, CreatePlanOptions{})
	prevLen := len(plan.Adjustments)
	_ = plan.UpdateStep(plan.Steps[0].ID, StepCompleted)
	if len(plan.Adjustments) <= prevLen {
		t.Fatalf("adjustments log did not grow")
	}
	prevLen = len(plan.Adjustments)
	plan.ChangeStrategy(StrategyConservative, "test")
	if len(plan.Adjustments) <= prevLen {
		t.Fatalf("adjustments log did not grow after strategy change")
	}
}

func TestRemoveStepThenAddStepRestoresCount(t *testing.T) {
	plan, _ := CreatePlan("p1", "t", Simple, []TaskStep{{ID: "a", Description: "A"}, {ID: "b", Description: "B"}}, CreatePlanOptions{})
	orig := len(plan.Steps)
	removed := plan.Steps[0]
	if err := plan.RemoveStep("a"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := plan.AddStep(0, TaskStep{ID: "a", Description: removed.Description}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if len(plan.Steps) != orig {
		t.Fatalf("expected step count restored to %d, got %d", orig, len(plan.Steps))
	}
}

func TestCurrentStepIndexInRangeAfterMutations(t *testing.T) {
	plan, _ := CreatePlan("p1", "t", Simple, []TaskStep{{ID: "a"}, {ID: "b"}, {ID: "c"}}, CreatePlanOptions{})
	_ = plan.UpdateStep("a", StepCompleted)
	_ = plan.RemoveStep("c")
	if plan.CurrentStepIndex < 0 || plan.CurrentStepIndex >= len(plan.Steps) {
		t.Fatalf("currentStepIndex out of range: %d (len=%d)", plan.CurrentStepIndex, len(plan.Steps))
	}
}

func TestCanRetryStepAndRetryStep(t *testing.T) {
	plan, _ := CreatePlan("p1", "t", Simple, []TaskStep{{ID: "a", MaxRetries: 1}}, CreatePlanOptions{})
	_ = plan.UpdateStep("a", StepFailed)
	if !plan.CanRetryStep("a") {
		t.Fatalf("expected retryable")
	}
	if err := plan.RetryStep("a"); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	_ = plan.UpdateStep("a", StepFailed)
	if plan.CanRetryStep("a") {
		t.Fatalf("expected retries exhausted")
	}
	if err := plan.RetryStep("a"); err != ErrCannotRetry {
		t.Fatalf("expected ErrCannotRetry, got %v", err)
	}
}

func TestEvaluatePlanStatus(t *testing.T) {
	plan, _ := CreatePlan("p1", "t", Simple, []TaskStep{{ID: "a"}, {ID: "b"}}, CreatePlanOptions{})
	if plan.EvaluatePlanStatus() != OnTrack {
		t.Fatalf("expected on_track initially")
	}
	_ = plan.UpdateStep("a", StepCompleted)
	_ = plan.UpdateStep("b", StepCompleted)
	if plan.EvaluatePlanStatus() != Completed {
		t.Fatalf("expected completed")
	}

	plan2, _ := CreatePlan("p2", "t", Simple, []TaskStep{{ID: "a"}}, CreatePlanOptions{})
	_ = plan2.UpdateStep("a", StepBlocked)
	if plan2.EvaluatePlanStatus() != BlockedOverall {
		t.Fatalf("expected blocked, got %v", plan2.EvaluatePlanStatus())
	}
}
