package terminal

import (
	"testing"
	"time"
)

func TestClassifyIdleOnShellPrompt(t *testing.T) {
	lines := []string{"total 12", "-rw-r--r-- 1 root root 220 a.txt", "user@host:~$ "}
	st := Classify(lines, PTYKindLocal, 0)
	if st.Activity != ActivityIdle {
		t.Fatalf("expected idle, got %v", st.Activity)
	}
}

func TestClassifySSHNeverIdleOnPromptAlone(t *testing.T) {
	lines := []string{"user@host:~$ "}
	st := Classify(lines, PTYKindSSH, 0)
	if st.Activity == ActivityIdle {
		t.Fatalf("ssh prompt detection should not claim idle")
	}
}

func TestClassifyPasswordPrompt(t *testing.T) {
	lines := []string{"Password for root@host: "}
	st := Classify(lines, PTYKindLocal, 0)
	if st.Activity != ActivityWaitingInput || st.InputKind != InputKindPassword {
		t.Fatalf("expected waiting-input/password, got %v/%v", st.Activity, st.InputKind)
	}
}

func TestClassifyConfirmation(t *testing.T) {
	lines := []string{"Do you want to continue? [y/N] "}
	st := Classify(lines, PTYKindLocal, 0)
	if st.Activity != ActivityWaitingInput || st.InputKind != InputKindConfirmation {
		t.Fatalf("expected waiting-input/confirmation, got %v/%v", st.Activity, st.InputKind)
	}
}

func TestClassifyCompilationOutput(t *testing.T) {
	lines := []string{"Compiling module foo", "warning: unused variable `x`"}
	st := Classify(lines, PTYKindLocal, time.Second)
	if st.Activity != ActivityRunning || st.OutputKind != OutputKindCompilation {
		t.Fatalf("expected running/compilation, got %v/%v", st.Activity, st.OutputKind)
	}
}

func TestClassifyMayBeStuck(t *testing.T) {
	lines := []string{"some unrecognised output"}
	st := Classify(lines, PTYKindLocal, 30*time.Second)
	if st.Activity != ActivityMayBeStuck {
		t.Fatalf("expected may-stuck, got %v", st.Activity)
	}
}

func TestClassifyRunningBeforeThreshold(t *testing.T) {
	lines := []string{"some unrecognised output"}
	st := Classify(lines, PTYKindLocal, 5*time.Second)
	if st.Activity != ActivityRunning {
		t.Fatalf("expected running, got %v", st.Activity)
	}
}

func TestStripANSI(t *testing.T) {
	in := "\x1b[32mhello\x1b[0m world\r\n"
	out := StripANSI(in)
	if out != "hello world\n" {
		t.Fatalf("unexpected strip result: %q", out)
	}
}

func TestClassifyDeterministicOnRepeatedBuffer(t *testing.T) {
	// terminal package doesn't own loop detection, but verifies prompt
	// detection is stable across repeated identical buffers (used by
	// reflection's command-loop tests indirectly).
	lines := []string{"$ ps aux", "$ "}
	st1 := Classify(lines, PTYKindLocal, 0)
	st2 := Classify(lines, PTYKindLocal, 0)
	if st1.Activity != st2.Activity {
		t.Fatalf("classification should be deterministic")
	}
}
