package prompt

import (
	"strings"
	"testing"

	"go.uber.org/zap"
)

func setupTestEngine(t *testing.T) *PromptEngine {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	e := NewPromptEngine("", zap.NewNop())
	if err := e.Discover(); err != nil {
		t.Fatalf("discover: %v", err)
	}
	return e
}

func TestAssembleIncludesOpsSections(t *testing.T) {
	e := setupTestEngine(t)

	ctx := PromptContext{
		ModelName:       "bailian/qwen3-max",
		TerminalContext: "activity: idle\n$ ",
		HostMemory:      "host runs Ubuntu 22.04, apt-based",
		PlanSummary:     "Step 1/3: check disk usage (in_progress)",
	}

	result := e.Assemble(ctx)

	if !strings.Contains(result, "## Terminal State") {
		t.Error("expected terminal state section")
	}
	if !strings.Contains(result, "## Host Memory") {
		t.Error("expected host memory section")
	}
	if !strings.Contains(result, "## Active Plan") {
		t.Error("expected active plan section")
	}
}

func TestAssembleTrimsHostMemoryBeforeHardTruncating(t *testing.T) {
	e := setupTestEngine(t)

	ctx := PromptContext{
		ModelName:      "bailian/qwen3-max",
		HostMemory:     strings.Repeat("host fact. ", 200),
		PlanSummary:    "Step 1/1: finish the task",
		MaxTokenBudget: 400, // ~1200 chars — below runtime block + plan + ~2.2k of host memory, above the same without host memory
	}

	result := e.Assemble(ctx)

	if strings.Contains(result, "## Host Memory") {
		t.Error("expected host memory to be dropped under a tight token budget")
	}
	if !strings.Contains(result, "## Active Plan") {
		t.Error("active plan summary should survive the host-memory trim pass")
	}
}

func TestAssembleHardTruncatesWhenStillOverBudgetAfterTrim(t *testing.T) {
	e := setupTestEngine(t)

	ctx := PromptContext{
		ModelName:      "bailian/qwen3-max",
		HostMemory:     "short host fact",
		MaxTokenBudget: 1, // ~3 chars — nothing fits even after dropping host memory
	}

	result := e.Assemble(ctx)

	if !strings.Contains(result, "[System prompt truncated due to token budget]") {
		t.Error("expected hard-truncation marker once trimming alone cannot fit the budget")
	}
}

func TestAssembleOmitsOpsSectionsWhenEmpty(t *testing.T) {
	e := setupTestEngine(t)

	result := e.Assemble(PromptContext{ModelName: "bailian/qwen3-max"})

	if strings.Contains(result, "## Terminal State") {
		t.Error("terminal section should be omitted when there is no bound session")
	}
	if strings.Contains(result, "## Host Memory") {
		t.Error("host memory section should be omitted when empty")
	}
	if strings.Contains(result, "## Active Plan") {
		t.Error("plan section should be omitted when there is no active plan")
	}
}
