package tool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "target.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	return path
}

func readBack(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	return string(data)
}

func TestWriteFileCreateFailsOnExistingTarget(t *testing.T) {
	path := writeTestFile(t, "original")
	tool := NewWriteFileTool(nil, toolTestLogger())

	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"path": path, "content": "new", "mode": "create",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatalf("create on an existing file must fail")
	}
	if readBack(t, path) != "original" {
		t.Fatalf("failed create must not touch the file")
	}
}

func TestWriteFileCreateWritesNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.txt")
	tool := NewWriteFileTool(nil, toolTestLogger())

	res, _ := tool.Execute(context.Background(), map[string]interface{}{
		"path": path, "content": "hello", "mode": "create",
	})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if readBack(t, path) != "hello" {
		t.Fatalf("unexpected content %q", readBack(t, path))
	}
}

func TestWriteFileAppend(t *testing.T) {
	path := writeTestFile(t, "one\n")
	tool := NewWriteFileTool(nil, toolTestLogger())

	res, _ := tool.Execute(context.Background(), map[string]interface{}{
		"path": path, "content": "two\n", "mode": "append",
	})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if readBack(t, path) != "one\ntwo\n" {
		t.Fatalf("unexpected content %q", readBack(t, path))
	}
}

func TestWriteFileInsertValidatesLineBounds(t *testing.T) {
	path := writeTestFile(t, "a\nb\nc")
	tool := NewWriteFileTool(nil, toolTestLogger())

	res, _ := tool.Execute(context.Background(), map[string]interface{}{
		"path": path, "content": "x", "mode": "insert", "line": float64(99),
	})
	if res.Success {
		t.Fatalf("out-of-bounds insert must fail")
	}
	if readBack(t, path) != "a\nb\nc" {
		t.Fatalf("failed insert must not touch the file")
	}

	res, _ = tool.Execute(context.Background(), map[string]interface{}{
		"path": path, "content": "x", "mode": "insert", "line": float64(2),
	})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if readBack(t, path) != "a\nx\nb\nc" {
		t.Fatalf("unexpected content %q", readBack(t, path))
	}
}

func TestWriteFileReplaceLines(t *testing.T) {
	path := writeTestFile(t, "a\nb\nc\nd")
	tool := NewWriteFileTool(nil, toolTestLogger())

	res, _ := tool.Execute(context.Background(), map[string]interface{}{
		"path": path, "content": "X", "mode": "replace_lines",
		"start_line": float64(2), "end_line": float64(3),
	})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if readBack(t, path) != "a\nX\nd" {
		t.Fatalf("unexpected content %q", readBack(t, path))
	}
}

func TestWriteFileRegexReplaceFailsOnNoMatch(t *testing.T) {
	path := writeTestFile(t, "port = 8080")
	tool := NewWriteFileTool(nil, toolTestLogger())

	res, _ := tool.Execute(context.Background(), map[string]interface{}{
		"path": path, "content": "9090", "mode": "regex_replace", "pattern": "nomatch",
	})
	if res.Success {
		t.Fatalf("regex_replace with zero matches must fail, never silently succeed")
	}
	if !strings.Contains(res.Error, "matched nothing") {
		t.Fatalf("expected a no-match error, got %q", res.Error)
	}

	res, _ = tool.Execute(context.Background(), map[string]interface{}{
		"path": path, "content": "9090", "mode": "regex_replace", "pattern": `\d+`,
	})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if readBack(t, path) != "port = 9090" {
		t.Fatalf("unexpected content %q", readBack(t, path))
	}
}

func TestWriteFileUnknownModeRejected(t *testing.T) {
	path := writeTestFile(t, "x")
	tool := NewWriteFileTool(nil, toolTestLogger())

	res, _ := tool.Execute(context.Background(), map[string]interface{}{
		"path": path, "content": "y", "mode": "merge",
	})
	if res.Success {
		t.Fatalf("unknown mode must be rejected")
	}
}

func TestReadFileLineRange(t *testing.T) {
	path := writeTestFile(t, "1\n2\n3\n4\n5")
	tool := NewReadFileTool(nil, toolTestLogger())

	res, _ := tool.Execute(context.Background(), map[string]interface{}{
		"path": path, "start_line": float64(2), "end_line": float64(4),
	})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Output != "2\n3\n4" {
		t.Fatalf("unexpected range output %q", res.Output)
	}
}

func TestReadFileUnknownSessionRejected(t *testing.T) {
	tool := NewReadFileTool(nil, toolTestLogger())
	res, _ := tool.Execute(context.Background(), map[string]interface{}{
		"path": "/etc/hostname", "session_id": "web-1",
	})
	if res.Success {
		t.Fatalf("session_id with no registry must fail")
	}
}
