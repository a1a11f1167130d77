package risk

// ExecutionMode governs which risk levels require user confirmation
// before a command is written to the terminal.
type ExecutionMode string

const (
	ModeStrict  ExecutionMode = "strict"
	ModeRelaxed ExecutionMode = "relaxed"
	ModeFree    ExecutionMode = "free"
)

// ModeFromString parses a config.yaml execution_mode string, defaulting to
// ModeStrict for anything unrecognized (fail-safe: when in doubt, confirm).
func ModeFromString(s string) ExecutionMode {
	switch ExecutionMode(s) {
	case ModeRelaxed:
		return ModeRelaxed
	case ModeFree:
		return ModeFree
	default:
		return ModeStrict
	}
}

// RequiresConfirmation reports whether, under mode, a command at the
// given risk level must raise a PendingConfirmation before execution.
// Blocked commands never execute regardless of mode, so this function is
// never consulted for them by the executor; for Blocked it answers as for
// any level at or above Dangerous (true, except in ModeFree).
func RequiresConfirmation(mode ExecutionMode, level Level) bool {
	switch mode {
	case ModeStrict:
		return level >= Moderate
	case ModeRelaxed:
		return level >= Dangerous
	case ModeFree:
		return false
	default:
		return level >= Moderate
	}
}
