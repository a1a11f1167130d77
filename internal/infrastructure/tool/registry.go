package tool

import (
	"time"

	domainagent "github.com/termwright/opsagent/internal/domain/agent"
	domainmemory "github.com/termwright/opsagent/internal/domain/memory"
	"github.com/termwright/opsagent/internal/domain/service"
	"github.com/termwright/opsagent/internal/domain/terminal"
	domaintool "github.com/termwright/opsagent/internal/domain/tool"
	"github.com/termwright/opsagent/internal/infrastructure/sandbox"
	"go.uber.org/zap"
)

// ToolLayerDeps aggregates all external dependencies needed by the tool layer.
// This is the single configuration point for the entire tool subsystem.
type ToolLayerDeps struct {
	// Required
	Registry domaintool.Registry
	Logger   *zap.Logger

	// Infrastructure
	Sandbox *sandbox.ProcessSandbox // nil = tools run unsandboxed

	// MCP
	MCPManager *MCPManager // nil = no MCP support

	// Media (nil = media tools not registered, e.g. CLI mode)
	MediaSender MediaSender

	// Sub-Agent (nil = sub_agent tool not registered)
	SubAgent *SubAgentDeps

	// Terminal (nil = terminal-driving tools not registered, e.g. pure chat mode)
	TerminalRegistry *terminal.Registry
	CommandTimeout   time.Duration // execute_command default poll deadline (agent.ops.command_timeout_sec)
	AskUser          AskFunc       // nil = ask_user tool reports "no channel configured"

	// Orchestrator (nil = list_available_hosts/dispatch_task/... not registered)
	Orchestrator *OrchestratorDeps

	// Knowledge (nil = remember_info/search_knowledge not registered)
	Memory *domainmemory.MemoryManager
}

// SubAgentDeps holds dependencies for the sub_agent tool.
type SubAgentDeps struct {
	LLMClient    service.LLMClient
	ToolExecutor service.ToolExecutor
	DefaultModel string
	MaxSteps     int
	Timeout      time.Duration
}

// RegisterAllTools registers all tools in one place. This is the ONLY
// tool registration entry point. Adding a new tool? Add it here.
//
// Registration order:
//  1. Core file operations (bash, read, write, edit, list, grep, glob)
//  2. Advanced (apply_patch, web_fetch)
//  6. Agent capabilities (save_memory, create_plan, update_plan, sub_agent,
//     remember_info/search_knowledge when a knowledge store is configured)
//     6a. Terminal driving (execute_command, check_terminal_status,
//     get_terminal_context, send_control_key, send_input, wait, ask_user)
//  7. MCP management (mcp_manage + dynamic MCP server tools)
//  8. Orchestrator (list_available_hosts, connect_terminal, dispatch_task,
//     parallel_dispatch, collect_results, analyze_and_report)
func RegisterAllTools(deps ToolLayerDeps) int {
	var tools []domaintool.Tool

	// ── 1. Core File Operations ──
	tools = append(tools,
		NewBashTool(deps.Sandbox, deps.Logger),
		NewReadFileTool(deps.TerminalRegistry, deps.Logger),
		NewWriteFileTool(deps.TerminalRegistry, deps.Logger),
		NewEditFileTool(deps.Sandbox, deps.Logger),
		NewListDirTool(deps.Sandbox, deps.Logger),
		NewSearchTool(deps.Sandbox, deps.Logger),
		NewGlobTool(deps.Sandbox, deps.Logger),
	)

	// ── 2. Advanced ──
	tools = append(tools,
		NewApplyPatchTool(deps.Sandbox, deps.Logger),
		NewWebFetchTool(deps.Sandbox, deps.Logger),
	)

	// ── 6. Agent Capabilities ──
	tools = append(tools,
		NewSaveMemoryTool(deps.Logger),
		NewCreatePlanTool(deps.Logger),
		NewUpdatePlanTool(deps.Logger),
	)
	if deps.Memory != nil {
		tools = append(tools,
			NewRememberInfoTool(deps.Memory, deps.Logger),
			NewSearchKnowledgeTool(deps.Memory, deps.Logger),
		)
	}

	// ── 6a. Terminal driving ──
	if deps.TerminalRegistry != nil {
		tools = append(tools,
			NewExecuteCommandTool(deps.TerminalRegistry, deps.CommandTimeout, deps.Logger),
			NewCheckTerminalStatusTool(deps.TerminalRegistry, deps.Logger),
			NewGetTerminalContextTool(deps.TerminalRegistry, deps.Logger),
			NewSendControlKeyTool(deps.TerminalRegistry, deps.Logger),
			NewSendInputTool(deps.TerminalRegistry, deps.Logger),
		)
	}
	tools = append(tools,
		NewWaitTool(deps.Logger),
		NewAskUserTool(deps.AskUser, deps.Logger),
	)

	// ── 6b. Media (TG only) ──
	if deps.MediaSender != nil {
		tools = append(tools,
			NewSendPhotoTool(deps.MediaSender, deps.Logger),
			NewSendDocumentTool(deps.MediaSender, deps.Logger),
		)
	}

	if deps.SubAgent != nil {
		sa := deps.SubAgent
		tools = append(tools, NewSubAgentTool(
			sa.LLMClient,
			sa.ToolExecutor,
			sa.DefaultModel,
			sa.MaxSteps,
			sa.Timeout,
			deps.Logger,
		))
	}

	// ── 7. MCP Management ──
	if deps.MCPManager != nil {
		tools = append(tools, NewMCPManageTool(deps.MCPManager, deps.Logger))
	}

	// ── 8. Orchestrator (list_available_hosts, connect_terminal,
	// dispatch_task, parallel_dispatch, collect_results, analyze_and_report) ──
	if deps.Orchestrator != nil {
		od := deps.Orchestrator
		spawner := domainagent.NewInMemorySpawner(deps.Logger, 2)
		tools = append(tools,
			NewListAvailableHostsTool(od),
			NewConnectTerminalTool(od),
			NewDispatchTaskTool(od, spawner),
			NewParallelDispatchTool(od, spawner),
			NewCollectResultsTool(),
			NewAnalyzeAndReportTool(deps.Logger),
		)
	}

	// ── Register everything ──
	registered := 0
	for _, t := range tools {
		if err := deps.Registry.Register(t); err != nil {
			deps.Logger.Warn("Failed to register tool",
				zap.String("tool", t.Name()),
				zap.Error(err),
			)
		} else {
			deps.Logger.Info("Registered tool", zap.String("tool", t.Name()))
			registered++
		}
	}

	// ── MCP servers (hot-plugged from mcp.json) ──
	if deps.MCPManager != nil {
		deps.MCPManager.InitFromConfig()
	}

	deps.Logger.Info("Tool layer initialized",
		zap.Int("total_registered", registered),
	)

	return registered
}
