package orchestrator

import "testing"

func TestParseSeverity(t *testing.T) {
	cases := []struct {
		in      string
		want    Severity
		wantErr bool
	}{
		{"info", SeverityInfo, false},
		{"warning", SeverityWarning, false},
		{"critical", SeverityCritical, false},
		{"CRITICAL", "", true},
		{"", "", true},
		{"urgent", "", true},
	}

	for _, c := range cases {
		got, err := ParseSeverity(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseSeverity(%q) expected error, got nil", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSeverity(%q) unexpected error: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("ParseSeverity(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
