// Package terminal classifies terminal output into a TerminalState and
// drives local PTY / remote SSH sessions that the agent engine reads
// from and writes to.
package terminal

import (
	"regexp"
	"strings"
	"time"
)

// Activity is the coarse state of a terminal at a point in time.
type Activity string

const (
	ActivityIdle          Activity = "idle"
	ActivityRunning       Activity = "running"
	ActivityWaitingInput  Activity = "waiting-input"
	ActivityMayBeStuck    Activity = "may-stuck"
)

// InputKind further classifies ActivityWaitingInput.
type InputKind string

const (
	InputKindPassword     InputKind = "password"
	InputKindConfirmation InputKind = "confirmation"
	InputKindSelection    InputKind = "selection"
	InputKindPager        InputKind = "pager"
	InputKindEditor       InputKind = "editor"
	InputKindPrompt       InputKind = "prompt"
)

// OutputKind classifies ActivityRunning when recognisable.
type OutputKind string

const (
	OutputKindProgress    OutputKind = "progress"
	OutputKindCompilation OutputKind = "compilation"
	OutputKindTest        OutputKind = "test"
	OutputKindLogStream   OutputKind = "log-stream"
	OutputKindError       OutputKind = "error"
	OutputKindTable       OutputKind = "table"
)

// State is the classification of a terminal's recent output buffer.
// Invariant: Activity == ActivityWaitingInput implies InputKind != "".
type State struct {
	Activity       Activity
	InputKind      InputKind
	OutputKind     OutputKind
	LastOutputAge  time.Duration
	LineCount      int
}

// PTYKind identifies the shell/terminal flavour driving the session,
// used to pick which prompt heuristics are trustworthy.
type PTYKind string

const (
	PTYKindLocal  PTYKind = "local"
	PTYKindSSH    PTYKind = "ssh"
	PTYKindUnknown PTYKind = "unknown"
)

// MayStuckThreshold is the default "no activity, no recognised pattern"
// cutoff before a running terminal is reported as possibly stuck.
// It is a fixed constant: Classify always uses it, and the
// agent.ops.may_stuck_threshold_sec config key is not read here.
const MayStuckThreshold = 20 * time.Second

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*\x07|\x1b[()][A-Za-z0-9]|\r`)

// StripANSI removes escape sequences and carriage returns so pattern
// matching operates on plain text.
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

var (
	shellPromptRe = regexp.MustCompile(`(?m)(\$\s*$|#\s*$|>\s*$|\][\$#]\s*$)`)
	hostPromptRe  = regexp.MustCompile(`\[[^\]]+@[^\]]+\s+[^\]]*\]\s*[\$#]\s*$`)

	passwordRe     = regexp.MustCompile(`(?i)(password\s*for\s+\S+\s*:|password:)\s*$`)
	confirmYNRe    = regexp.MustCompile(`\[y/N\]|\[Y/n\]|\(yes/no\)`)
	selectionRe    = regexp.MustCompile(`(?m)^\s*\d+\)\s+\S+`)
	pagerRe        = regexp.MustCompile(`--More--|^:\s*$`)
	editorStatusRe = regexp.MustCompile(`-- INSERT --|^\s*\d+,\d+\s+(Top|Bot|All)\s*$`)
	barePromptRe   = regexp.MustCompile(`(?m)^>\s*$`)

	progressBarRe = regexp.MustCompile(`\[=*>?\s*\]\s*\d{1,3}%|ETA\s+\d`)
	compileRe     = regexp.MustCompile(`(?i)\bwarning:|(?i)\berror:|Compiling\s+`)
	testRunRe     = regexp.MustCompile(`\bPASS\b|\bFAIL\b|\bok\s+\d+\s+tests?\b`)
	logLineRe     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}|^\[\d{2}:\d{2}:\d{2}\]`)
	tableRowRe    = regexp.MustCompile(`^(\S+\s{2,}){2,}\S+`)
)

// Classify inspects the trailing lines of a terminal snapshot and
// derives its current State. lastOutputAge is the time elapsed since
// the buffer last grew.
func Classify(lines []string, ptyKind PTYKind, lastOutputAge time.Duration) State {
	st := State{LineCount: len(lines), LastOutputAge: lastOutputAge}

	clean := make([]string, len(lines))
	for i, l := range lines {
		clean[i] = StripANSI(l)
	}

	lastNonEmpty := lastNonEmptyLine(clean)

	// Remote shells vary too much for prompt-pattern trust; let the
	// engine fall back to check_terminal_status instead of assuming idle.
	if ptyKind != PTYKindSSH {
		if lastNonEmpty != "" && (shellPromptRe.MatchString(lastNonEmpty) || hostPromptRe.MatchString(lastNonEmpty)) {
			st.Activity = ActivityIdle
			return st
		}
	}

	tail := strings.Join(lastN(clean, 10), "\n")

	switch {
	case passwordRe.MatchString(lastNonEmpty):
		st.Activity = ActivityWaitingInput
		st.InputKind = InputKindPassword
		return st
	case confirmYNRe.MatchString(lastNonEmpty):
		st.Activity = ActivityWaitingInput
		st.InputKind = InputKindConfirmation
		return st
	case selectionRe.MatchString(tail):
		st.Activity = ActivityWaitingInput
		st.InputKind = InputKindSelection
		return st
	case pagerRe.MatchString(lastNonEmpty):
		st.Activity = ActivityWaitingInput
		st.InputKind = InputKindPager
		return st
	case editorStatusRe.MatchString(tail):
		st.Activity = ActivityWaitingInput
		st.InputKind = InputKindEditor
		return st
	case barePromptRe.MatchString(lastNonEmpty):
		st.Activity = ActivityWaitingInput
		st.InputKind = InputKindPrompt
		return st
	}

	switch {
	case progressBarRe.MatchString(tail):
		st.Activity = ActivityRunning
		st.OutputKind = OutputKindProgress
		return st
	case compileRe.MatchString(tail):
		st.Activity = ActivityRunning
		st.OutputKind = OutputKindCompilation
		return st
	case testRunRe.MatchString(tail):
		st.Activity = ActivityRunning
		st.OutputKind = OutputKindTest
		return st
	case countMatches(logLineRe, lastN(clean, 10)) >= 3:
		st.Activity = ActivityRunning
		st.OutputKind = OutputKindLogStream
		return st
	case countMatches(tableRowRe, lastN(clean, 10)) >= 2:
		st.Activity = ActivityRunning
		st.OutputKind = OutputKindTable
		return st
	}

	if lastOutputAge > MayStuckThreshold {
		st.Activity = ActivityMayBeStuck
		return st
	}

	st.Activity = ActivityRunning
	return st
}

// IsIdle reports whether a state permits a new command to be written.
func IsIdle(s State) bool {
	return s.Activity == ActivityIdle
}

// CanExecute reports whether the terminal is in a condition where
// issuing a new command is meaningful; waiting-input and may-stuck
// terminals cannot safely accept a fresh command line.
func CanExecute(s State) bool {
	return s.Activity == ActivityIdle
}

func lastNonEmptyLine(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i]
		}
	}
	return ""
}

func lastN(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

func countMatches(re *regexp.Regexp, lines []string) int {
	count := 0
	for _, l := range lines {
		if re.MatchString(l) {
			count++
		}
	}
	return count
}
