package tool

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/termwright/opsagent/internal/domain/terminal"
	domaintool "github.com/termwright/opsagent/internal/domain/tool"
	"github.com/termwright/opsagent/internal/infrastructure/sandbox"
	"go.uber.org/zap"
)

// Result aliases the domain result type for this package's tools.
type Result = domaintool.Result

// Kind aliases the domain kind type.
type Kind = domaintool.Kind

// BashTool runs a one-shot shell command in the process sandbox. Unlike
// execute_command it does not touch the interactive terminal session.
type BashTool struct {
	sandbox *sandbox.ProcessSandbox
	logger  *zap.Logger
}

func NewBashTool(sandbox *sandbox.ProcessSandbox, logger *zap.Logger) *BashTool {
	return &BashTool{
		sandbox: sandbox,
		logger:  logger,
	}
}

func (t *BashTool) Name() string { return "bash" }

func (t *BashTool) Kind() domaintool.Kind { return domaintool.KindExecute }

func (t *BashTool) Description() string {
	return `Execute bash commands in a sandboxed environment.
IMPORTANT constraints:
- Commands have a 60-second timeout. Exit code 124 means TIMEOUT (command killed).
- For SSH/network commands: ALWAYS use 'timeout 10' and '-o ConnectTimeout=5'.
- If a command fails twice with the same error, STOP retrying and report the issue to the user.
- Avoid interactive or long-running commands (e.g. top, watch, tail -f).
- Working directory defaults to /tmp/opsagent-sandbox unless work_dir is specified.
- Prefer simple, targeted commands over complex pipelines.`
}

func (t *BashTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The bash command to execute",
			},
			"work_dir": map[string]interface{}{
				"type":        "string",
				"description": "Optional working directory for the command",
			},
		},
		"required": []string{"command"},
	}
}

func (t *BashTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	command, ok := args["command"].(string)
	if !ok || command == "" {
		return &Result{
			Success: false,
			Error:   "command is required",
		}, fmt.Errorf("command is required")
	}

	if workDir, ok := args["work_dir"].(string); ok && workDir != "" {
		if err := t.sandbox.SetWorkDir(workDir); err != nil {
			return &Result{
				Success: false,
				Error:   err.Error(),
			}, err
		}
	}

	t.logger.Info("Executing bash command",
		zap.String("command", command),
	)

	result, err := t.sandbox.ExecuteShell(ctx, command)
	if err != nil {
		res := &Result{Success: false, Error: err.Error()}
		if result != nil {
			res.Output = result.Stderr
			res.Metadata = map[string]interface{}{
				"exit_code": result.ExitCode,
				"duration":  result.Duration.String(),
				"killed":    result.Killed,
			}
		}
		return res, nil
	}

	output := result.Stdout
	if result.Stderr != "" {
		output += "\n[stderr]\n" + result.Stderr
	}

	// Concise Display for long output: head + tail around an omission marker.
	var display string
	if len(output) > 2000 {
		lines := strings.Split(output, "\n")
		lineCount := len(lines)
		charCount := len(output)

		headLines := 5
		tailLines := 5
		if headLines+tailLines >= lineCount {
			headLines = lineCount / 2
			tailLines = lineCount - headLines
		}

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("📋 `%s`\n", truncateCmd(command, 60)))
		if result.ExitCode == 0 {
			sb.WriteString(fmt.Sprintf("✅ exit=0 | %d lines | %d chars | %s\n", lineCount, charCount, result.Duration))
		} else {
			sb.WriteString(fmt.Sprintf("❌ exit=%d | %d lines | %s\n", result.ExitCode, lineCount, result.Duration))
		}
		sb.WriteString("```\n")
		for i := 0; i < headLines && i < lineCount; i++ {
			sb.WriteString(truncateLine(lines[i], 120) + "\n")
		}
		if headLines+tailLines < lineCount {
			sb.WriteString(fmt.Sprintf("... (%d lines omitted) ...\n", lineCount-headLines-tailLines))
		}
		for i := lineCount - tailLines; i < lineCount; i++ {
			if i >= headLines {
				sb.WriteString(truncateLine(lines[i], 120) + "\n")
			}
		}
		sb.WriteString("```")
		display = sb.String()
	}

	return &Result{
		Output:  output,
		Display: display,
		Success: result.ExitCode == 0,
		Metadata: map[string]interface{}{
			"exit_code": result.ExitCode,
			"duration":  result.Duration.String(),
		},
	}, nil
}

// truncateCmd shortens a command string for display
func truncateCmd(cmd string, maxLen int) string {
	cmd = strings.TrimSpace(cmd)
	if len(cmd) <= maxLen {
		return cmd
	}
	return cmd[:maxLen-3] + "..."
}

// truncateLine shortens a single line for display
func truncateLine(line string, maxLen int) string {
	if len(line) <= maxLen {
		return line
	}
	return line[:maxLen-3] + "..."
}

// resolveFileSession maps an optional session_id argument to a session
// capable of out-of-band file I/O. Returns (nil, "") when the call is
// local; a non-empty reason means the requested session can't do file
// transfer.
func resolveFileSession(sessions *terminal.Registry, args map[string]interface{}) (terminal.FileTransferer, string) {
	sid, _ := args["session_id"].(string)
	if sid == "" {
		return nil, ""
	}
	if sessions == nil {
		return nil, "no terminal sessions are configured"
	}
	sess, ok := sessions.Get(sid)
	if !ok {
		return nil, fmt.Sprintf("no terminal session %q", sid)
	}
	ft, ok := sess.(terminal.FileTransferer)
	if !ok {
		return nil, fmt.Sprintf("terminal session %q does not support file transfer; use execute_command instead", sid)
	}
	return ft, ""
}

// ReadFileTool reads a file on the local machine, or on a remote host
// when session_id names an SSH terminal session.
type ReadFileTool struct {
	sessions *terminal.Registry
	logger   *zap.Logger
}

func NewReadFileTool(sessions *terminal.Registry, logger *zap.Logger) *ReadFileTool {
	return &ReadFileTool{
		sessions: sessions,
		logger:   logger,
	}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Kind() domaintool.Kind { return domaintool.KindRead }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file. Local by default; pass session_id to read from the host behind an SSH terminal session. Use this to examine configs, service files, and logs."
}

func (t *ReadFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "The path to the file to read",
			},
			"start_line": map[string]interface{}{
				"type":        "integer",
				"description": "Optional starting line number (1-indexed)",
			},
			"end_line": map[string]interface{}{
				"type":        "integer",
				"description": "Optional ending line number (1-indexed, inclusive)",
			},
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Optional terminal session id; reads from that host instead of locally (SSH sessions only)",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return &Result{
			Success: false,
			Error:   "path is required",
		}, fmt.Errorf("path is required")
	}

	var data []byte
	var err error
	if ft, reason := resolveFileSession(t.sessions, args); reason != "" {
		return &Result{Success: false, Error: reason}, nil
	} else if ft != nil {
		data, err = ft.ReadFile(ctx, path)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	content := string(data)
	if start, hasStart := intArg(args, "start_line"); hasStart {
		lines := strings.Split(content, "\n")
		end, hasEnd := intArg(args, "end_line")
		if !hasEnd || end > len(lines) {
			end = len(lines)
		}
		if start < 1 || start > len(lines) {
			return &Result{
				Success: false,
				Error:   fmt.Sprintf("start_line %d out of range (file has %d lines)", start, len(lines)),
			}, nil
		}
		content = strings.Join(lines[start-1:end], "\n")
	}

	return &Result{
		Output:  content,
		Success: true,
		Metadata: map[string]interface{}{
			"path": path,
		},
	}, nil
}

// intArg reads an integer argument that JSON decoding delivers as float64.
func intArg(args map[string]interface{}, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

// Write modes. Remote (SSH) sessions support only the first three; the
// line- and pattern-based modes need local read-modify-write.
const (
	writeModeCreate       = "create"
	writeModeOverwrite    = "overwrite"
	writeModeAppend       = "append"
	writeModeInsert       = "insert"
	writeModeReplaceLines = "replace_lines"
	writeModeRegexReplace = "regex_replace"
)

// WriteFileTool writes a file under one of six modes. create fails on an
// existing target, insert validates its 1-based line index, and
// regex_replace fails when the pattern matches nothing — a zero-change
// write never reports success.
type WriteFileTool struct {
	sessions *terminal.Registry
	logger   *zap.Logger
}

func NewWriteFileTool(sessions *terminal.Registry, logger *zap.Logger) *WriteFileTool {
	return &WriteFileTool{
		sessions: sessions,
		logger:   logger,
	}
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Kind() domaintool.Kind { return domaintool.KindEdit }

func (t *WriteFileTool) Description() string {
	return `Write content to a file. Modes:
- create: write a new file, fails if the target already exists
- overwrite (default): replace the file's contents
- append: add content at the end
- insert: insert content before the 1-based line given by 'line'
- replace_lines: replace lines start_line..end_line (1-based, inclusive) with content
- regex_replace: replace every match of 'pattern' with content; fails if nothing matches
Pass session_id to write on the host behind an SSH terminal session (create/overwrite/append only).`
}

func (t *WriteFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "The path to the file to write",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The content to write (the replacement text for regex_replace)",
			},
			"mode": map[string]interface{}{
				"type":        "string",
				"enum":        []string{writeModeCreate, writeModeOverwrite, writeModeAppend, writeModeInsert, writeModeReplaceLines, writeModeRegexReplace},
				"description": "Write mode, default overwrite",
			},
			"line": map[string]interface{}{
				"type":        "integer",
				"description": "mode=insert: 1-based line number to insert before",
			},
			"start_line": map[string]interface{}{
				"type":        "integer",
				"description": "mode=replace_lines: first line to replace (1-based)",
			},
			"end_line": map[string]interface{}{
				"type":        "integer",
				"description": "mode=replace_lines: last line to replace (1-based, inclusive)",
			},
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "mode=regex_replace: Go regular expression to replace",
			},
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Optional terminal session id; writes on that host instead of locally (SSH sessions only, modes create/overwrite/append)",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return &Result{
			Success: false,
			Error:   "path is required",
		}, fmt.Errorf("path is required")
	}

	content, ok := args["content"].(string)
	if !ok {
		return &Result{
			Success: false,
			Error:   "content is required",
		}, fmt.Errorf("content is required")
	}

	mode, _ := args["mode"].(string)
	if mode == "" {
		mode = writeModeOverwrite
	}

	ft, reason := resolveFileSession(t.sessions, args)
	if reason != "" {
		return &Result{Success: false, Error: reason}, nil
	}
	if ft != nil {
		return t.executeRemote(ctx, ft, path, content, mode)
	}

	switch mode {
	case writeModeCreate:
		if _, err := os.Stat(path); err == nil {
			return &Result{
				Success: false,
				Error:   fmt.Sprintf("%s already exists; use mode=overwrite to replace it", path),
			}, nil
		}
		return t.writeWhole(path, content, mode)

	case writeModeOverwrite:
		return t.writeWhole(path, content, mode)

	case writeModeAppend:
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return &Result{Success: false, Error: err.Error()}, nil
		}
		defer f.Close()
		if _, err := f.WriteString(content); err != nil {
			return &Result{Success: false, Error: err.Error()}, nil
		}
		return writeOK(path, mode, len(content)), nil

	case writeModeInsert:
		line, hasLine := intArg(args, "line")
		if !hasLine {
			return &Result{Success: false, Error: "mode=insert requires 'line'"}, nil
		}
		return t.editLines(path, mode, func(lines []string) ([]string, error) {
			// Insert before line N; N may be len+1 to append at the end.
			if line < 1 || line > len(lines)+1 {
				return nil, fmt.Errorf("line %d out of range (file has %d lines)", line, len(lines))
			}
			out := make([]string, 0, len(lines)+1)
			out = append(out, lines[:line-1]...)
			out = append(out, strings.Split(content, "\n")...)
			out = append(out, lines[line-1:]...)
			return out, nil
		})

	case writeModeReplaceLines:
		start, hasStart := intArg(args, "start_line")
		end, hasEnd := intArg(args, "end_line")
		if !hasStart || !hasEnd {
			return &Result{Success: false, Error: "mode=replace_lines requires 'start_line' and 'end_line'"}, nil
		}
		return t.editLines(path, mode, func(lines []string) ([]string, error) {
			if start < 1 || end < start || end > len(lines) {
				return nil, fmt.Errorf("line range %d..%d out of range (file has %d lines)", start, end, len(lines))
			}
			out := make([]string, 0, len(lines))
			out = append(out, lines[:start-1]...)
			out = append(out, strings.Split(content, "\n")...)
			out = append(out, lines[end:]...)
			return out, nil
		})

	case writeModeRegexReplace:
		pattern, _ := args["pattern"].(string)
		if pattern == "" {
			return &Result{Success: false, Error: "mode=regex_replace requires 'pattern'"}, nil
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return &Result{Success: false, Error: fmt.Sprintf("invalid pattern: %v", err)}, nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return &Result{Success: false, Error: err.Error()}, nil
		}
		if !re.Match(data) {
			return &Result{
				Success: false,
				Error:   fmt.Sprintf("pattern %q matched nothing in %s; no changes made", pattern, path),
			}, nil
		}
		replaced := re.ReplaceAllString(string(data), content)
		return t.writeWhole(path, replaced, mode)

	default:
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("unknown mode %q", mode),
		}, nil
	}
}

// executeRemote handles the SSH path: stream-based create/overwrite/append
// only, since line- and pattern-edits need a local read-modify-write.
func (t *WriteFileTool) executeRemote(ctx context.Context, ft terminal.FileTransferer, path, content, mode string) (*Result, error) {
	switch mode {
	case writeModeCreate:
		if _, err := ft.ReadFile(ctx, path); err == nil {
			return &Result{
				Success: false,
				Error:   fmt.Sprintf("%s already exists on the remote host; use mode=overwrite to replace it", path),
			}, nil
		}
		if err := ft.WriteFile(ctx, path, []byte(content), false); err != nil {
			return &Result{Success: false, Error: err.Error()}, nil
		}
	case writeModeOverwrite:
		if err := ft.WriteFile(ctx, path, []byte(content), false); err != nil {
			return &Result{Success: false, Error: err.Error()}, nil
		}
	case writeModeAppend:
		if err := ft.WriteFile(ctx, path, []byte(content), true); err != nil {
			return &Result{Success: false, Error: err.Error()}, nil
		}
	default:
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("mode %q is not supported on remote sessions; only create, overwrite, and append are", mode),
		}, nil
	}
	return writeOK(path, mode, len(content)), nil
}

func (t *WriteFileTool) writeWhole(path, content, mode string) (*Result, error) {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	return writeOK(path, mode, len(content)), nil
}

// editLines applies a line-level transformation under a read-modify-write.
func (t *WriteFileTool) editLines(path, mode string, edit func([]string) ([]string, error)) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	lines := strings.Split(string(data), "\n")
	edited, err := edit(lines)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	out := strings.Join(edited, "\n")
	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	return writeOK(path, mode, len(out)), nil
}

func writeOK(path, mode string, n int) *Result {
	return &Result{
		Output:  fmt.Sprintf("Successfully wrote to %s (mode=%s)", path, mode),
		Success: true,
		Metadata: map[string]interface{}{
			"path":          path,
			"mode":          mode,
			"bytes_written": n,
		},
	}
}

// ListDirTool lists a directory through the sandbox shell.
type ListDirTool struct {
	sandbox *sandbox.ProcessSandbox
	logger  *zap.Logger
}

func NewListDirTool(sandbox *sandbox.ProcessSandbox, logger *zap.Logger) *ListDirTool {
	return &ListDirTool{
		sandbox: sandbox,
		logger:  logger,
	}
}

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Kind() domaintool.Kind { return domaintool.KindRead }

func (t *ListDirTool) Description() string {
	return "List contents of a directory. Shows files and subdirectories with their sizes and types."
}

func (t *ListDirTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "The directory path to list",
			},
			"recursive": map[string]interface{}{
				"type":        "boolean",
				"description": "Whether to list recursively",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ListDirTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		path = "."
	}

	recursive, _ := args["recursive"].(bool)

	var cmd string
	if recursive {
		cmd = fmt.Sprintf("find '%s' -maxdepth 3 -type f -o -type d | head -100", path)
	} else {
		cmd = fmt.Sprintf("ls -la '%s'", path)
	}

	result, err := t.sandbox.ExecuteShell(ctx, cmd)
	if err != nil {
		errMsg := err.Error()
		if result != nil {
			errMsg = result.Stderr
		}
		return &Result{
			Success: false,
			Error:   errMsg,
		}, nil
	}

	return &Result{
		Output:  result.Stdout,
		Success: true,
		Metadata: map[string]interface{}{
			"path": path,
		},
	}, nil
}

// SearchTool greps for a pattern through the sandbox shell.
type SearchTool struct {
	sandbox *sandbox.ProcessSandbox
	logger  *zap.Logger
}

func NewSearchTool(sandbox *sandbox.ProcessSandbox, logger *zap.Logger) *SearchTool {
	return &SearchTool{
		sandbox: sandbox,
		logger:  logger,
	}
}

func (t *SearchTool) Name() string { return "grep_search" }

func (t *SearchTool) Kind() domaintool.Kind { return domaintool.KindSearch }

func (t *SearchTool) Description() string {
	return "Search for patterns in files using grep. Supports regular expressions."
}

func (t *SearchTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "The pattern to search for",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "The file or directory to search in",
			},
			"recursive": map[string]interface{}{
				"type":        "boolean",
				"description": "Search recursively in directories",
			},
		},
		"required": []string{"pattern", "path"},
	}
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	pattern, ok := args["pattern"].(string)
	if !ok || pattern == "" {
		return &Result{
			Success: false,
			Error:   "pattern is required",
		}, fmt.Errorf("pattern is required")
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		path = "."
	}

	recursive, _ := args["recursive"].(bool)

	var cmd string
	if recursive {
		cmd = fmt.Sprintf("grep -rn '%s' '%s' | head -50", pattern, path)
	} else {
		cmd = fmt.Sprintf("grep -n '%s' '%s' | head -50", pattern, path)
	}

	result, err := t.sandbox.ExecuteShell(ctx, cmd)
	if err != nil && (result == nil || result.ExitCode != 1) {
		errMsg := err.Error()
		if result != nil {
			errMsg = result.Stderr
		}
		return &Result{Success: false, Error: errMsg}, nil
	}
	if result == nil {
		return &Result{Success: false, Error: "no result from sandbox"}, nil
	}

	output := result.Stdout
	if output == "" {
		output = "No matches found"
	}

	return &Result{
		Output:  output,
		Success: true,
		Metadata: map[string]interface{}{
			"pattern": pattern,
			"path":    path,
		},
	}, nil
}
