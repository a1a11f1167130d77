// Copyright 2026 opsagent Authors. All rights reserved.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/termwright/opsagent/internal/domain/planner"
	domaintool "github.com/termwright/opsagent/internal/domain/tool"
	"go.uber.org/zap"
)

// planStore keeps the single active TaskPlan for a run in memory, guarded
// by a mutex — plans are per-process, not per-session-file, since a run's
// plan never needs to outlive the process driving it.
type planStore struct {
	mu   sync.Mutex
	plan *planner.TaskPlan
}

var activePlan = &planStore{}

// CreatePlanTool lets the agent break a task into a TaskPlan.
// Source: Deer-Flow TodoList pattern, built on the planner.TaskPlan
// model (internal/domain/planner).
type CreatePlanTool struct {
	logger *zap.Logger
}

func NewCreatePlanTool(logger *zap.Logger) *CreatePlanTool {
	return &CreatePlanTool{logger: logger}
}

func (t *CreatePlanTool) Name() string         { return "create_plan" }
func (t *CreatePlanTool) Kind() domaintool.Kind { return domaintool.KindThink }
func (t *CreatePlanTool) Description() string {
	return "Create a new execution plan from a task description and an ordered list of steps. " +
		"Replaces any existing plan for this run."
}

func (t *CreatePlanTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task": map[string]interface{}{
				"type":        "string",
				"description": "The original task this plan accomplishes.",
			},
			"steps": map[string]interface{}{
				"type":        "array",
				"description": "Ordered list of step descriptions.",
				"items":       map[string]interface{}{"type": "string"},
			},
			"success_criteria": map[string]interface{}{
				"type":        "string",
				"description": "How to know the task is done.",
			},
			"risk_assessment": map[string]interface{}{
				"type":        "string",
				"description": "Brief note on what could go wrong.",
			},
		},
		"required": []string{"task", "steps"},
	}
}

func (t *CreatePlanTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	task, _ := args["task"].(string)
	if task == "" {
		return &Result{Output: "Error: 'task' is required", Success: false}, nil
	}

	rawSteps, ok := args["steps"].([]interface{})
	if !ok || len(rawSteps) == 0 {
		return &Result{Output: "Error: 'steps' array is required", Success: false}, nil
	}

	steps := make([]planner.TaskStep, len(rawSteps))
	for i, s := range rawSteps {
		steps[i] = planner.TaskStep{Description: fmt.Sprintf("%v", s)}
	}

	analysis := planner.AnalyseTaskComplexity(task)
	successCriteria, _ := args["success_criteria"].(string)
	riskAssessment, _ := args["risk_assessment"].(string)

	plan, err := planner.CreatePlan(fmt.Sprintf("plan-%d", len(steps)), task, analysis, steps, planner.CreatePlanOptions{
		SuccessCriteria: successCriteria,
		RiskAssessment:  riskAssessment,
	})
	if err != nil {
		return &Result{Output: fmt.Sprintf("Failed to create plan: %v", err), Success: false}, nil
	}

	activePlan.mu.Lock()
	activePlan.plan = plan
	activePlan.mu.Unlock()

	if err := savePlanFile(plan); err != nil {
		t.logger.Warn("Failed to persist plan file", zap.Error(err))
	}

	t.logger.Info("Plan created",
		zap.String("task", task),
		zap.Int("steps", len(plan.Steps)),
		zap.String("complexity", string(analysis)),
	)

	return &Result{
		Output:  fmt.Sprintf("Plan created: %q with %d steps (complexity: %s)", task, len(plan.Steps), analysis),
		Display: renderPlan(plan),
		Success: true,
	}, nil
}

// UpdatePlanTool lets the agent mutate the active TaskPlan's steps and
// strategy as execution proceeds.
type UpdatePlanTool struct {
	logger *zap.Logger
}

func NewUpdatePlanTool(logger *zap.Logger) *UpdatePlanTool {
	return &UpdatePlanTool{logger: logger}
}

func (t *UpdatePlanTool) Name() string         { return "update_plan" }
func (t *UpdatePlanTool) Kind() domaintool.Kind { return domaintool.KindThink }
func (t *UpdatePlanTool) Description() string {
	return "Update the active execution plan: mark a step's status, insert/remove/modify a " +
		"step, retry a failed step, or switch strategy. Use create_plan first if no plan exists."
}

func (t *UpdatePlanTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"description": "What to do to the plan.",
				"enum":        []string{"update_step", "add_step", "remove_step", "modify_step", "retry_step", "change_strategy"},
			},
			"step_id": map[string]interface{}{
				"type":        "string",
				"description": "Target step id (required for update_step/remove_step/modify_step/retry_step).",
			},
			"status": map[string]interface{}{
				"type":        "string",
				"description": "New status (required for update_step).",
				"enum":        []string{"pending", "in_progress", "completed", "failed", "skipped", "blocked"},
			},
			"description": map[string]interface{}{
				"type":        "string",
				"description": "Step description (required for add_step/modify_step).",
			},
			"purpose": map[string]interface{}{
				"type":        "string",
				"description": "Why this step exists (optional for add_step/modify_step).",
			},
			"position": map[string]interface{}{
				"type":        "number",
				"description": "0-based insertion index (required for add_step).",
			},
			"strategy": map[string]interface{}{
				"type":        "string",
				"description": "New strategy (required for change_strategy).",
				"enum":        []string{"default", "conservative", "aggressive", "diagnostic"},
			},
			"reason": map[string]interface{}{
				"type":        "string",
				"description": "Why the strategy is changing (required for change_strategy).",
			},
		},
		"required": []string{"action"},
	}
}

func (t *UpdatePlanTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	activePlan.mu.Lock()
	defer activePlan.mu.Unlock()

	plan := activePlan.plan
	if plan == nil {
		return &Result{Output: "Error: no active plan. Use create_plan first.", Success: false}, nil
	}

	action, _ := args["action"].(string)
	stepID, _ := args["step_id"].(string)

	var err error
	var summary string

	switch action {
	case "update_step":
		status, _ := args["status"].(string)
		err = plan.UpdateStep(stepID, planner.StepStatus(status))
		summary = fmt.Sprintf("%s -> %s", stepID, status)
	case "add_step":
		desc, _ := args["description"].(string)
		purpose, _ := args["purpose"].(string)
		pos, _ := args["position"].(float64)
		err = plan.AddStep(int(pos), planner.TaskStep{Description: desc, Purpose: purpose})
		summary = fmt.Sprintf("inserted %q at %d", desc, int(pos))
	case "remove_step":
		err = plan.RemoveStep(stepID)
		summary = fmt.Sprintf("removed %s", stepID)
	case "modify_step":
		desc, _ := args["description"].(string)
		purpose, _ := args["purpose"].(string)
		err = plan.ModifyStep(stepID, desc, purpose)
		summary = fmt.Sprintf("modified %s", stepID)
	case "retry_step":
		err = plan.RetryStep(stepID)
		summary = fmt.Sprintf("retrying %s", stepID)
	case "change_strategy":
		strategy, _ := args["strategy"].(string)
		reason, _ := args["reason"].(string)
		plan.ChangeStrategy(planner.Strategy(strategy), reason)
		summary = fmt.Sprintf("strategy -> %s (%s)", strategy, reason)
	default:
		return &Result{Output: "Error: unknown action " + action, Success: false}, nil
	}

	if err != nil {
		return &Result{Output: fmt.Sprintf("Plan update failed: %v", err), Success: false}, nil
	}

	if saveErr := savePlanFile(plan); saveErr != nil {
		t.logger.Warn("Failed to persist plan file", zap.Error(saveErr))
	}

	t.logger.Info("Plan updated", zap.String("action", action), zap.String("summary", summary))

	return &Result{
		Output:  summary,
		Display: renderPlan(plan),
		Success: true,
	}, nil
}

// --- rendering + prompt injection ---

// CurrentPlanSummary renders the active plan's current step and overall
// status for injection into the system prompt (see
// internal/infrastructure/prompt.PromptContext.PlanSummary). Returns "" if
// no plan is active.
func CurrentPlanSummary() string {
	activePlan.mu.Lock()
	plan := activePlan.plan
	activePlan.mu.Unlock()

	if plan == nil {
		return ""
	}

	status := plan.EvaluatePlanStatus()
	if plan.CurrentStepIndex < 0 || plan.CurrentStepIndex >= len(plan.Steps) {
		return fmt.Sprintf("%q — %s (%d steps, overall: %s)", plan.OriginalTask, status, len(plan.Steps), status)
	}
	cur := plan.Steps[plan.CurrentStepIndex]
	return fmt.Sprintf("%q — step %d/%d: %s (%s), overall: %s, strategy: %s",
		plan.OriginalTask, plan.CurrentStepIndex+1, len(plan.Steps), cur.Description, cur.Status, status, plan.Strategy)
}

func renderPlan(plan *planner.TaskPlan) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📋 **%s** (%s)\n", plan.OriginalTask, plan.Strategy))

	for i, s := range plan.Steps {
		var icon string
		switch s.Status {
		case planner.StepCompleted:
			icon = "✅"
		case planner.StepInProgress:
			icon = "🔄"
		case planner.StepFailed:
			icon = "❌"
		case planner.StepSkipped:
			icon = "⏭️"
		case planner.StepBlocked:
			icon = "🚫"
		default:
			icon = "⬜"
		}
		marker := ""
		if i == plan.CurrentStepIndex {
			marker = " <- current"
		}
		line := fmt.Sprintf("%s %s%s", icon, s.Description, marker)
		sb.WriteString(line + "\n")
	}

	sb.WriteString(fmt.Sprintf("\n📊 Status: %s", plan.EvaluatePlanStatus()))
	return sb.String()
}

// savePlanFile persists a JSON snapshot for post-run inspection; the live
// source of truth during a run is activePlan, not this file.
func savePlanFile(plan *planner.TaskPlan) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	dir := filepath.Join(home, ".opsagent", "plans")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "current_plan.json"), data, 0644)
}
