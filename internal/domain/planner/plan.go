// Package planner analyses task complexity, builds TaskPlans, and
// offers step mutations that append to an append-only adjustments log.
// The mutations modify the TaskPlan in place through its pointer; they
// are not pure and return no copy. TaskPlan fields are exported, so
// callers holding the pointer can also change a plan directly.
package planner

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Complexity is the output of AnalyseTaskComplexity.
type Complexity string

const (
	Simple   Complexity = "simple"
	Moderate Complexity = "moderate"
	Complex  Complexity = "complex"
)

// Strategy governs how cautiously the engine proceeds.
type Strategy string

const (
	StrategyDefault      Strategy = "default"
	StrategyConservative Strategy = "conservative"
	StrategyAggressive   Strategy = "aggressive"
	StrategyDiagnostic   Strategy = "diagnostic"
)

// StepStatus is the lifecycle of a single TaskStep.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
	StepBlocked    StepStatus = "blocked"
)

// PlanStatus is the aggregate health of a TaskPlan.
type PlanStatus string

const (
	OnTrack   PlanStatus = "on_track"
	AtRisk    PlanStatus = "at_risk"
	BlockedOverall PlanStatus = "blocked"
	Completed PlanStatus = "completed"
)

const defaultMaxRetries = 2

// TaskStep is one unit of work in a plan.
type TaskStep struct {
	ID                 string
	Description        string
	Purpose            string
	Status             StepStatus
	RetryCount         int
	MaxRetries         int
	Checkpoint         bool
	AlternativeApproach string
	Dependencies       []string
	StartTime          *time.Time
	ActualDuration     time.Duration
}

// Adjustment is one entry in a plan's append-only log.
type Adjustment struct {
	At     time.Time
	Kind   string // create|update_step|add_step|remove_step|modify_step|change_strategy|retry_step
	Detail string
}

// TaskPlan is the mutable, ordered plan for one task.
type TaskPlan struct {
	ID               string
	OriginalTask     string
	Analysis         Complexity
	Steps            []TaskStep
	CurrentStepIndex int
	Strategy         Strategy
	Adjustments      []Adjustment
	CreatedAt        time.Time
	UpdatedAt        time.Time
	SuccessCriteria  string
	RiskAssessment   string
}

var (
	ErrNoSuchStep       = errors.New("planner: no such step")
	ErrDuplicateStepID  = errors.New("planner: duplicate step id")
	ErrIndexOutOfRange  = errors.New("planner: index out of range")
	ErrCannotRetry      = errors.New("planner: step is not retryable")
)

var complexKeywords = []string{"diagnose", "deploy", "migrate", "monitor"}
var moderateKeywords = []string{"configure", "create", "check and analyze", "check-and-analyse", "check and analyse"}

// AnalyseTaskComplexity is total and deterministic: keyword heuristics
// plus a length floor.
func AnalyseTaskComplexity(task string) Complexity {
	lower := strings.ToLower(task)

	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			return Complex
		}
	}
	if countServiceMentions(lower) >= 2 {
		return Complex
	}

	for _, kw := range moderateKeywords {
		if strings.Contains(lower, kw) {
			return Moderate
		}
	}

	if len(task) > 100 {
		return Moderate
	}
	return Simple
}

func countServiceMentions(lower string) int {
	// crude "batch of multiple services" heuristic: count every comma
	// and every " and " in the task, wherever it appears.
	count := strings.Count(lower, ",")
	count += strings.Count(lower, " and ")
	return count
}

// StrategyRecommendation is the output of RecommendStrategy.
type StrategyRecommendation struct {
	Strategy   Strategy
	Reason     string
	Confidence float64
}

// RecommendContext carries signals RecommendStrategy needs beyond the
// task text itself.
type RecommendContext struct {
	IsProduction   bool
	PriorFailures  int
}

var diagnosticVerbs = []string{"diagnose", "investigate", "analyze", "analyse", "troubleshoot", "check why", "debug"}

// RecommendStrategy picks a strategy by ordered rules: diagnostic for
// analysis verbs, conservative for production context or prior failures,
// aggressive for urgent tasks, default otherwise.
func RecommendStrategy(task string, ctx RecommendContext) StrategyRecommendation {
	lower := strings.ToLower(task)

	for _, v := range diagnosticVerbs {
		if strings.Contains(lower, v) {
			return StrategyRecommendation{StrategyDiagnostic, "task asks for analysis/diagnosis", 0.8}
		}
	}
	if ctx.IsProduction || ctx.PriorFailures >= 2 {
		reason := "production-tagged context"
		if ctx.PriorFailures >= 2 {
			reason = fmt.Sprintf("%d prior failures observed", ctx.PriorFailures)
		}
		return StrategyRecommendation{StrategyConservative, reason, 0.75}
	}
	if strings.Contains(lower, "urgent") {
		return StrategyRecommendation{StrategyAggressive, "task marked urgent", 0.7}
	}
	return StrategyRecommendation{StrategyDefault, "no special signal detected", 0.5}
}

// CreatePlanOptions customizes CreatePlan.
type CreatePlanOptions struct {
	Strategy        Strategy
	SuccessCriteria string
	RiskAssessment  string
}

// CreatePlan builds a TaskPlan with unique step ids and default retry
// caps, logging a "create" adjustment.
func CreatePlan(id, task string, analysis Complexity, steps []TaskStep, opts CreatePlanOptions) (*TaskPlan, error) {
	seen := make(map[string]bool, len(steps))
	normalized := make([]TaskStep, len(steps))
	for i, s := range steps {
		if s.ID == "" {
			s.ID = fmt.Sprintf("step-%d", i+1)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStepID, s.ID)
		}
		seen[s.ID] = true
		if s.MaxRetries == 0 {
			s.MaxRetries = defaultMaxRetries
		}
		if s.Status == "" {
			s.Status = StepPending
		}
		normalized[i] = s
	}

	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyDefault
	}

	now := time.Now()
	plan := &TaskPlan{
		ID:               id,
		OriginalTask:     task,
		Analysis:         analysis,
		Steps:            normalized,
		CurrentStepIndex: 0,
		Strategy:         strategy,
		CreatedAt:        now,
		UpdatedAt:        now,
		SuccessCriteria:  opts.SuccessCriteria,
		RiskAssessment:   opts.RiskAssessment,
	}
	plan.Adjustments = append(plan.Adjustments, Adjustment{At: now, Kind: "create", Detail: fmt.Sprintf("created plan with %d steps", len(normalized))})
	return plan, nil
}

func (p *TaskPlan) indexOf(stepID string) int {
	for i := range p.Steps {
		if p.Steps[i].ID == stepID {
			return i
		}
	}
	return -1
}

func (p *TaskPlan) log(kind, detail string) {
	p.Adjustments = append(p.Adjustments, Adjustment{At: time.Now(), Kind: kind, Detail: detail})
	p.UpdatedAt = time.Now()
}

// UpdateStep transitions a step's status and, for the step at
// CurrentStepIndex completing, advances the index.
func (p *TaskPlan) UpdateStep(stepID string, status StepStatus) error {
	i := p.indexOf(stepID)
	if i < 0 {
		return ErrNoSuchStep
	}
	p.Steps[i].Status = status
	if status == StepCompleted && i == p.CurrentStepIndex && p.CurrentStepIndex < len(p.Steps)-1 {
		p.CurrentStepIndex++
	}
	p.log("update_step", fmt.Sprintf("%s -> %s", stepID, status))
	return nil
}

// AddStep inserts a new step at position pos (0-based), shifting
// subsequent steps and CurrentStepIndex as needed.
func (p *TaskPlan) AddStep(pos int, step TaskStep) error {
	if pos < 0 || pos > len(p.Steps) {
		return ErrIndexOutOfRange
	}
	if step.ID == "" {
		step.ID = fmt.Sprintf("step-%d", len(p.Steps)+1)
	}
	if p.indexOf(step.ID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateStepID, step.ID)
	}
	if step.MaxRetries == 0 {
		step.MaxRetries = defaultMaxRetries
	}
	if step.Status == "" {
		step.Status = StepPending
	}

	p.Steps = append(p.Steps, TaskStep{})
	copy(p.Steps[pos+1:], p.Steps[pos:])
	p.Steps[pos] = step

	if pos <= p.CurrentStepIndex {
		p.CurrentStepIndex++
	}
	p.log("add_step", fmt.Sprintf("inserted %s at %d", step.ID, pos))
	return nil
}

// RemoveStep removes a step by id, shifting CurrentStepIndex back if
// the removed step preceded it.
func (p *TaskPlan) RemoveStep(stepID string) error {
	i := p.indexOf(stepID)
	if i < 0 {
		return ErrNoSuchStep
	}
	p.Steps = append(p.Steps[:i], p.Steps[i+1:]...)
	if i < p.CurrentStepIndex {
		p.CurrentStepIndex--
	} else if p.CurrentStepIndex >= len(p.Steps) && len(p.Steps) > 0 {
		p.CurrentStepIndex = len(p.Steps) - 1
	}
	p.log("remove_step", fmt.Sprintf("removed %s", stepID))
	return nil
}

// ModifyStep rewrites a step's description/purpose without touching
// status or retry counters.
func (p *TaskPlan) ModifyStep(stepID, description, purpose string) error {
	i := p.indexOf(stepID)
	if i < 0 {
		return ErrNoSuchStep
	}
	p.Steps[i].Description = description
	p.Steps[i].Purpose = purpose
	p.log("modify_step", fmt.Sprintf("modified %s", stepID))
	return nil
}

// ChangeStrategy records a strategy switch.
func (p *TaskPlan) ChangeStrategy(strategy Strategy, reason string) {
	p.Strategy = strategy
	p.log("change_strategy", fmt.Sprintf("%s: %s", strategy, reason))
}

// CanRetryStep reports whether a failed step has retries remaining.
func (p *TaskPlan) CanRetryStep(stepID string) bool {
	i := p.indexOf(stepID)
	if i < 0 {
		return false
	}
	s := p.Steps[i]
	return s.Status == StepFailed && s.RetryCount < s.MaxRetries
}

// RetryStep increments the retry counter and resets status to pending.
func (p *TaskPlan) RetryStep(stepID string) error {
	i := p.indexOf(stepID)
	if i < 0 {
		return ErrNoSuchStep
	}
	if !p.CanRetryStep(stepID) {
		return ErrCannotRetry
	}
	p.Steps[i].RetryCount++
	p.Steps[i].Status = StepPending
	p.log("retry_step", fmt.Sprintf("retry %d/%d for %s", p.Steps[i].RetryCount, p.Steps[i].MaxRetries, stepID))
	return nil
}

// EvaluatePlanStatus reports the plan's aggregate health.
func (p *TaskPlan) EvaluatePlanStatus() PlanStatus {
	allCompleted := true
	anyBlocked := false
	anyUnretriableFailure := false

	for _, s := range p.Steps {
		if s.Status != StepCompleted && s.Status != StepSkipped {
			allCompleted = false
		}
		if s.Status == StepBlocked {
			anyBlocked = true
		}
		if s.Status == StepFailed && s.RetryCount >= s.MaxRetries {
			anyUnretriableFailure = true
		}
	}

	if allCompleted {
		return Completed
	}
	if anyBlocked || anyUnretriableFailure {
		return BlockedOverall
	}

	failed := 0
	for _, s := range p.Steps {
		if s.Status == StepFailed {
			failed++
		}
	}
	if failed > 0 {
		return AtRisk
	}
	return OnTrack
}
