package service

import "fmt"

// Language selects the catalog used for every user-visible string the agent
// itself authors (reflection prompts, stop messages, exit-code hints),
// chosen by the `agent.ops.language` config option. It does not affect log
// lines (zap) or LLM prompts the model itself generates. The periodic
// progress reminders from ModelPolicy.BuildProgressMessage do not use the
// catalog and are always zh-CN.
type Language string

const (
	LanguageEnUS Language = "en-US"
	LanguageZhCN Language = "zh-CN"
)

// NormalizeLanguage defaults to en-US for any unrecognized value, mirroring
// the same fail-safe-default habit ModeFromString uses for ExecutionMode.
func NormalizeLanguage(s string) Language {
	switch Language(s) {
	case LanguageZhCN:
		return LanguageZhCN
	default:
		return LanguageEnUS
	}
}

var catalog = map[string]map[Language]string{
	"tool_ack": {
		LanguageEnUS: "OK, tool call complete.",
		LanguageZhCN: "好的，已完成工具调用。",
	},
	"request_summary": {
		LanguageEnUS: "Summarize, in plain language, what you just did and the final result. Do not repeat the plan, just the outcome.",
		LanguageZhCN: "请用简洁的文字总结你刚才执行的操作和最终结果。不要重复方案，只说结果。",
	},
	"tool_failed_hint": {
		LanguageEnUS: "[TOOL_FAILED] %s\n[ERROR] %v\n[HINT] The tool raised an error. If this keeps happening, stop retrying and tell the user.",
		LanguageZhCN: "[TOOL_FAILED] %s\n[ERROR] %v\n[HINT] 工具执行出错。如果问题持续，请停止重试并告知用户。",
	},
	"command_failed": {
		LanguageEnUS: "command failed",
		LanguageZhCN: "命令执行失败",
	},
	"consecutive_failures": {
		LanguageEnUS: "[SYSTEM] The tool has failed 3 rounds in a row. Stop retrying and tell the user plainly: what went wrong, what you tried, and what you suggest.",
		LanguageZhCN: "[SYSTEM] 工具已连续失败 3 轮。请停止重试，用中文告诉用户：遇到了什么问题、尝试了什么、建议的解决方案。",
	},
	"exit_0": {LanguageEnUS: "success", LanguageZhCN: "成功"},
	"exit_1": {LanguageEnUS: "general error — check command arguments or file paths", LanguageZhCN: "一般错误 — 检查命令参数或文件路径"},
	"exit_2": {LanguageEnUS: "argument error — incorrect command syntax", LanguageZhCN: "参数错误 — 命令语法不正确"},
	"exit_124": {LanguageEnUS: "killed on timeout — the command did not finish in time, possibly a network or unresponsive service", LanguageZhCN: "超时被杀 (TIMEOUT) — 命令未在时限内完成，可能网络不通或服务无响应"},
	"exit_126": {LanguageEnUS: "permission denied — file is not executable", LanguageZhCN: "权限不足 — 文件不可执行"},
	"exit_127": {LanguageEnUS: "command not found — check the command name or PATH", LanguageZhCN: "命令未找到 — 检查命令名称或 PATH"},
	"exit_128": {LanguageEnUS: "exited on signal — the process was abnormally terminated", LanguageZhCN: "信号退出 — 进程被异常终止"},
	"exit_130": {LanguageEnUS: "interrupted by Ctrl+C", LanguageZhCN: "Ctrl+C 中断"},
	"exit_137": {LanguageEnUS: "killed by SIGKILL — possibly out of memory (OOM)", LanguageZhCN: "被 SIGKILL 杀死 — 可能内存不足 (OOM)"},
	"exit_139": {LanguageEnUS: "segmentation fault (SIGSEGV)", LanguageZhCN: "段错误 (SIGSEGV)"},
	"exit_143": {LanguageEnUS: "terminated by SIGTERM", LanguageZhCN: "被 SIGTERM 终止"},
	"exit_255": {LanguageEnUS: "SSH connection failed — check host reachability, port, and authentication", LanguageZhCN: "SSH 连接失败 — 检查主机可达性、端口、认证"},
	"exit_signal": {LanguageEnUS: "terminated by signal %d", LanguageZhCN: "被信号 %d 终止"},
	"exit_unknown": {LanguageEnUS: "unknown error", LanguageZhCN: "未知错误"},
	"loop_warning": {
		LanguageEnUS: "[SYSTEM] Serious warning: tool %[1]s has been called %[3]d times in the last %[2]d calls. " +
			"You are very likely stuck in a retry loop. You must stop calling tools immediately and " +
			"reply to the user directly: (1) what you were trying to do (2) what went wrong (3) what you suggest. " +
			"Do not call any more tools.",
		LanguageZhCN: "[SYSTEM] ⚠️ 严重警告：工具 %s 在最近 %d 次调用中出现了 %d 次。" +
			"你很可能陷入了重试循环。你必须立即停止调用工具，" +
			"直接用中文回复用户：(1) 你在尝试做什么 (2) 遇到了什么困难 (3) 建议用户如何解决。" +
			"不要再调用任何工具。",
	},
	"progress_check_in": {
		LanguageEnUS: "[SYSTEM] %d steps executed. Briefly report current progress and the next step.",
		LanguageZhCN: "[SYSTEM] 已执行 %d 步。请简要汇报当前进展和下一步计划。",
	},
	"progress_check_in_brief": {
		LanguageEnUS: "[SYSTEM] %d steps executed. Briefly report current progress.",
		LanguageZhCN: "[SYSTEM] 已执行 %d 步。请简要汇报当前进展。",
	},
	"progress_warning": {
		LanguageEnUS: "[SYSTEM] ⚠️ %d steps executed. Check whether the task can be completed and reply to the user. If you hit a problem you cannot resolve, tell the user immediately.",
		LanguageZhCN: "[SYSTEM] ⚠️ 已执行 %d 步。请检查任务是否可以完成并回复用户。如果遇到无法解决的问题，请立即告知用户。",
	},
	"progress_urgent": {
		LanguageEnUS: "[SYSTEM] 🚨 %d steps executed. You must finish the current task and reply to the user as soon as possible. If you cannot finish, tell the user the current progress and what's blocking it.",
		LanguageZhCN: "[SYSTEM] 🚨 已执行 %d 步。你必须尽快完成当前任务并回复用户。如果无法完成，请告知用户当前进展和遇到的问题。",
	},
	"max_tool_calls_stop": {
		LanguageEnUS: "Stopped: reached the maximum number of tool calls for this run.",
		LanguageZhCN: "已停止：本次运行的工具调用次数已达上限。",
	},
	"max_reflections_stop": {
		LanguageEnUS: "Stopped: repeated reflection did not resolve the problem. Please review the run manually.",
		LanguageZhCN: "已停止：多次反思仍未解决问题，请人工检查本次运行。",
	},
	"repeated_call_warning": {
		LanguageEnUS: "[SYSTEM] Tool %s was called %d times with the exact same arguments; the result will not change. " +
			"Stop repeating the call — try another approach or tell the user the result directly.",
		LanguageZhCN: "[SYSTEM] 工具 %s 以完全相同的参数被调用了 %d 次，结果不会改变。" +
			"请停止重复调用，改用其他方法或直接告知用户结果。",
	},
}

// tr looks up key in the catalog for lang, falling back to en-US and finally
// the raw key if neither entry exists, then formats it (fmt.Sprintf with no
// args is a no-op passthrough).
func tr(lang Language, key string, args ...interface{}) string {
	entries, ok := catalog[key]
	if !ok {
		return key
	}
	tmpl, ok := entries[lang]
	if !ok {
		tmpl = entries[LanguageEnUS]
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}
