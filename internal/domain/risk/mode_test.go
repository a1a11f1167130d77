package risk

import "testing"

func TestRequiresConfirmationStrict(t *testing.T) {
	if !RequiresConfirmation(ModeStrict, Moderate) {
		t.Fatalf("strict should require confirmation for moderate")
	}
	if !RequiresConfirmation(ModeStrict, Dangerous) {
		t.Fatalf("strict should require confirmation for dangerous")
	}
	if RequiresConfirmation(ModeStrict, Safe) {
		t.Fatalf("strict should not require confirmation for safe")
	}
}

func TestRequiresConfirmationRelaxed(t *testing.T) {
	if RequiresConfirmation(ModeRelaxed, Moderate) {
		t.Fatalf("relaxed should not require confirmation for moderate")
	}
	if !RequiresConfirmation(ModeRelaxed, Dangerous) {
		t.Fatalf("relaxed should require confirmation for dangerous")
	}
}

func TestRequiresConfirmationFree(t *testing.T) {
	if RequiresConfirmation(ModeFree, Dangerous) {
		t.Fatalf("free should never require confirmation (blocked is handled separately)")
	}
}
