package risk

import "testing"

func TestAssessEmptyCommand(t *testing.T) {
	_, err := Assess("   ")
	if err != ErrEmptyCommand {
		t.Fatalf("expected ErrEmptyCommand, got %v", err)
	}
}

func TestAssessBlocked(t *testing.T) {
	cases := []string{
		"rm -rf /",
		"mkfs.ext4 /dev/sda1",
		"dd if=/dev/zero of=/dev/sda",
		"chmod -R 777 /",
	}
	for _, c := range cases {
		lvl, err := Assess(c)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", c, err)
		}
		if lvl != Blocked {
			t.Errorf("%q: expected blocked, got %v", c, lvl)
		}
	}
}

func TestAssessDangerous(t *testing.T) {
	cases := []string{
		"rm -rf /var/log/*",
		"systemctl restart nginx",
		"kill -9 1234",
		"cat /etc/passwd",
	}
	for _, c := range cases {
		lvl, _ := Assess(c)
		if lvl != Dangerous {
			t.Errorf("%q: expected dangerous, got %v", c, lvl)
		}
	}
}

func TestAssessModerate(t *testing.T) {
	cases := []string{
		"apt install -y nginx",
		"mv a.txt b.txt",
		"chmod 644 file.txt",
		"git push origin main",
	}
	for _, c := range cases {
		lvl, _ := Assess(c)
		if lvl != Moderate {
			t.Errorf("%q: expected moderate, got %v", c, lvl)
		}
	}
}

func TestAssessSafe(t *testing.T) {
	lvl, err := Assess("df -h")
	if err != nil || lvl != Safe {
		t.Fatalf("expected safe, got %v / %v", lvl, err)
	}
}

func TestAssessTotalAndDeterministic(t *testing.T) {
	cmds := []string{"df -h", "rm -rf /", "apt install foo", "ls -la"}
	for _, c := range cmds {
		a, errA := Assess(c)
		b, errB := Assess(c)
		if a != b || (errA == nil) != (errB == nil) {
			t.Fatalf("assess not deterministic for %q", c)
		}
	}
}

func TestAutoCorrectTop(t *testing.T) {
	c, err := AutoCorrect("top")
	if err != nil || c == nil || c.Rewritten != "top -bn1" {
		t.Fatalf("expected top rewrite, got %+v / %v", c, err)
	}
}

func TestAutoCorrectHtopRejected(t *testing.T) {
	_, err := AutoCorrect("htop")
	if err == nil {
		t.Fatalf("expected htop to be rejected")
	}
}

func TestAutoCorrectAptInstall(t *testing.T) {
	c, err := AutoCorrect("apt install nginx")
	if err != nil || c == nil {
		t.Fatalf("expected correction, got %v / %v", c, err)
	}
	if c.Rewritten != "apt install -y nginx" {
		t.Fatalf("unexpected rewrite: %q", c.Rewritten)
	}
}

func TestAutoCorrectBarePing(t *testing.T) {
	c, err := AutoCorrect("ping example.com")
	if err != nil || c == nil || c.Rewritten != "ping -c 4 example.com" {
		t.Fatalf("expected bounded ping, got %+v / %v", c, err)
	}
}

func TestAutoCorrectNoOpForSafeCommand(t *testing.T) {
	c, err := AutoCorrect("df -h")
	if err != nil || c != nil {
		t.Fatalf("expected no correction, got %+v / %v", c, err)
	}
}
