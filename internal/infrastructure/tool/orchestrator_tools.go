package tool

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	domainagent "github.com/termwright/opsagent/internal/domain/agent"
	"github.com/termwright/opsagent/internal/domain/orchestrator"
	"github.com/termwright/opsagent/internal/domain/service"
	"github.com/termwright/opsagent/internal/domain/terminal"
	domaintool "github.com/termwright/opsagent/internal/domain/tool"
)

// OrchestratorDeps wires the master agent's tool catalog:
// list_available_hosts, connect_terminal, dispatch_task, parallel_dispatch,
// collect_results, analyze_and_report.
type OrchestratorDeps struct {
	Catalog          *orchestrator.Catalog
	TerminalRegistry *terminal.Registry // shared registry new connect_terminal sessions land in
	LLMClient        service.LLMClient
	DefaultModel     string
	WorkerTimeout    time.Duration          // per-worker AgentRun budget
	CommandTimeout   time.Duration          // worker execute_command default poll deadline
	MaxParallel      int                    // concurrent worker cap for parallel_dispatch
	LoopConfig       *service.ConfigWatcher // optional live loop-config source for new workers
	Logger           *zap.Logger
}

// resultStore holds the most recent WorkerResult per terminal id, so
// collect_results can be called independently of dispatch_task/
// parallel_dispatch — the same package-level-store-behind-a-mutex idiom as
// plan_tool.go's activePlan, since a patrol's results don't need to
// outlive the process driving it either.
type resultStore struct {
	mu      sync.Mutex
	results map[string]*orchestrator.WorkerResult
}

var orchestratorResults = &resultStore{results: make(map[string]*orchestrator.WorkerResult)}

func (s *resultStore) put(r *orchestrator.WorkerResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.TerminalID] = r
}

func (s *resultStore) get(terminalID string) (*orchestrator.WorkerResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[terminalID]
	return r, ok
}

func (s *resultStore) all() []*orchestrator.WorkerResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*orchestrator.WorkerResult, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, r)
	}
	return out
}

// runWorker binds terminalID exclusively (terminals are owned by
// at most one AgentRun at a time), builds a terminal-scoped tool catalog
// for it, and drives a full inner AgentLoop to completion.
func (d *OrchestratorDeps) runWorker(ctx context.Context, terminalID, task string) (*orchestrator.WorkerResult, error) {
	sess, ok := d.TerminalRegistry.Get(terminalID)
	if !ok {
		return nil, fmt.Errorf("no terminal session %q; call connect_terminal first", terminalID)
	}

	runID := uuid.New().String()
	if err := d.TerminalRegistry.Bind(terminalID, runID); err != nil {
		return nil, err
	}
	defer d.TerminalRegistry.Unbind(terminalID, runID)

	// A private registry aliases this one session to "default" so the
	// worker's terminal-driving tools never need session_id in their args.
	workerSessions := terminal.NewRegistry()
	workerSessions.AddAs(defaultSessionID, sess)

	workerTools := domaintool.NewInMemoryRegistry()
	for _, t := range []domaintool.Tool{
		NewExecuteCommandTool(workerSessions, d.CommandTimeout, d.Logger),
		NewCheckTerminalStatusTool(workerSessions, d.Logger),
		NewGetTerminalContextTool(workerSessions, d.Logger),
		NewSendControlKeyTool(workerSessions, d.Logger),
		NewSendInputTool(workerSessions, d.Logger),
		NewWaitTool(d.Logger),
	} {
		if err := workerTools.Register(t); err != nil {
			return nil, fmt.Errorf("register worker tool %s: %w", t.Name(), err)
		}
	}

	executor := service.NewToolExecutorAdapter(workerTools, nil, d.Logger)

	// Each worker is a fresh loop, so it picks up live config edits made
	// since the last dispatch.
	cfg := service.DefaultAgentLoopConfig()
	if d.LoopConfig != nil {
		cfg = d.LoopConfig.Config()
	}
	cfg.Model = d.DefaultModel
	if d.WorkerTimeout > 0 {
		cfg.RunTimeout = d.WorkerTimeout
	}

	worker := service.NewAgentLoop(d.LLMClient, executor, cfg, d.Logger.Named("orchestrator-worker"))

	systemPrompt := fmt.Sprintf(
		"You are a worker agent operating terminal %q on behalf of an orchestrator. "+
			"Complete the assigned task using the terminal tools available to you, then "+
			"report your findings concisely in plain text.", terminalID,
	)

	workerCtx := ctx
	if d.WorkerTimeout > 0 {
		var cancel context.CancelFunc
		workerCtx, cancel = context.WithTimeout(ctx, d.WorkerTimeout)
		defer cancel()
	}

	result, eventCh := worker.Run(workerCtx, systemPrompt, task, nil, "")

	var toolsUsed []string
	for ev := range eventCh {
		if ev.ToolCall != nil {
			toolsUsed = append(toolsUsed, ev.ToolCall.Name)
		}
	}

	wr := &orchestrator.WorkerResult{
		TerminalID: terminalID,
		Task:       task,
		Output:     result.FinalContent,
		Success:    !strings.HasPrefix(result.FinalContent, "Internal error") && !strings.HasPrefix(result.FinalContent, "Error:"),
		Steps:      result.TotalSteps,
		ToolCalls:  toolsUsed,
	}
	if !wr.Success {
		wr.Error = result.FinalContent
	}
	orchestratorResults.put(wr)
	return wr, nil
}

// ---- list_available_hosts ----

type ListAvailableHostsTool struct {
	deps *OrchestratorDeps
}

func NewListAvailableHostsTool(deps *OrchestratorDeps) *ListAvailableHostsTool {
	return &ListAvailableHostsTool{deps: deps}
}

func (t *ListAvailableHostsTool) Name() string          { return "list_available_hosts" }
func (t *ListAvailableHostsTool) Kind() domaintool.Kind { return domaintool.KindRead }
func (t *ListAvailableHostsTool) Description() string {
	return "List hosts configured for this orchestrator, plus any terminals already connected this run."
}
func (t *ListAvailableHostsTool) Schema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *ListAvailableHostsTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	var sb strings.Builder
	sb.WriteString("Configured hosts:\n")
	hosts := t.deps.Catalog.List()
	if len(hosts) == 0 {
		sb.WriteString("  (none configured)\n")
	}
	for _, h := range hosts {
		fmt.Fprintf(&sb, "  - id=%s alias=%s kind=%s address=%s\n", h.ID, h.Alias, h.Kind, h.Address)
	}
	sb.WriteString("Connected terminals:\n")
	for _, id := range t.deps.TerminalRegistry.List() {
		fmt.Fprintf(&sb, "  - %s\n", id)
	}
	return &Result{Output: sb.String(), Success: true}, nil
}

// ---- connect_terminal ----

type ConnectTerminalTool struct {
	deps    *OrchestratorDeps
	counter int
	mu      sync.Mutex
}

func NewConnectTerminalTool(deps *OrchestratorDeps) *ConnectTerminalTool {
	return &ConnectTerminalTool{deps: deps}
}

func (t *ConnectTerminalTool) Name() string          { return "connect_terminal" }
func (t *ConnectTerminalTool) Kind() domaintool.Kind { return domaintool.KindExecute }
func (t *ConnectTerminalTool) Description() string {
	return "Open a new terminal session — a local shell, or an SSH session against a configured host — and return its terminal_id for use with dispatch_task/parallel_dispatch."
}
func (t *ConnectTerminalTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"type":    map[string]interface{}{"type": "string", "enum": []string{"local", "ssh"}},
			"host_id": map[string]interface{}{"type": "string", "description": "Required for type=ssh: the id or alias from list_available_hosts"},
		},
		"required": []string{"type"},
	}
}

func (t *ConnectTerminalTool) nextID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counter++
	return fmt.Sprintf("term-%d", t.counter)
}

func (t *ConnectTerminalTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	kind, _ := args["type"].(string)
	id := t.nextID()

	switch kind {
	case "local":
		sess, err := terminal.NewPTYSession(ctx, id, os.Getenv("SHELL"), 120, 40, t.deps.Logger)
		if err != nil {
			return &Result{Success: false, Error: fmt.Sprintf("open local terminal: %v", err)}, nil
		}
		t.deps.TerminalRegistry.Add(sess)
		return &Result{Output: fmt.Sprintf("connected local terminal %s", id), Success: true, Metadata: map[string]interface{}{"terminal_id": id}}, nil

	case "ssh":
		hostID, _ := args["host_id"].(string)
		if hostID == "" {
			return &Result{Success: false, Error: "host_id is required for type=ssh"}, nil
		}
		host, err := t.deps.Catalog.Resolve(hostID)
		if err != nil {
			return &Result{Success: false, Error: err.Error()}, nil
		}
		sshCfg := terminal.SSHConfig{
			Addr:           host.Address,
			User:           host.User,
			Password:       host.Password,
			HostKeyCheck:   ssh.InsecureIgnoreHostKey(), // operator-managed inventory; see DESIGN.md
			ConnectTimeout: 10 * time.Second,
		}
		if host.KeyPath != "" {
			if pem, err := os.ReadFile(host.KeyPath); err == nil {
				sshCfg.PrivateKeyPEM = pem
			} else {
				t.deps.Logger.Warn("Failed to read SSH private key, falling back to password", zap.String("key_path", host.KeyPath), zap.Error(err))
			}
		}
		sess, err := terminal.NewSSHSession(id, sshCfg, 120, 40, t.deps.Logger)
		if err != nil {
			return &Result{Success: false, Error: fmt.Sprintf("open ssh terminal to %s: %v", host.Address, err)}, nil
		}
		t.deps.TerminalRegistry.Add(sess)
		return &Result{Output: fmt.Sprintf("connected ssh terminal %s to host %s (%s)", id, host.ID, host.Address), Success: true, Metadata: map[string]interface{}{"terminal_id": id, "host_id": host.ID}}, nil

	default:
		return &Result{Success: false, Error: fmt.Sprintf("unknown terminal type %q (want local|ssh)", kind)}, nil
	}
}

// ---- dispatch_task ----

type DispatchTaskTool struct {
	deps    *OrchestratorDeps
	spawner domainagent.Spawner
}

func NewDispatchTaskTool(deps *OrchestratorDeps, spawner domainagent.Spawner) *DispatchTaskTool {
	return &DispatchTaskTool{deps: deps, spawner: spawner}
}

func (t *DispatchTaskTool) Name() string          { return "dispatch_task" }
func (t *DispatchTaskTool) Kind() domaintool.Kind { return domaintool.KindExecute }
func (t *DispatchTaskTool) Description() string {
	return "Dispatch a task to a single connected terminal. Spawns a full inner agent run bound to that terminal and blocks until it completes."
}
func (t *DispatchTaskTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"terminal_id": map[string]interface{}{"type": "string"},
			"task":        map[string]interface{}{"type": "string"},
		},
		"required": []string{"terminal_id", "task"},
	}
}

func (t *DispatchTaskTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	terminalID, _ := args["terminal_id"].(string)
	task, _ := args["task"].(string)
	if terminalID == "" || strings.TrimSpace(task) == "" {
		return &Result{Success: false, Error: "terminal_id and task are required"}, nil
	}

	worker, err := t.spawner.Spawn(ctx, "", domainagent.DefaultSpawnConfig(terminalID))
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	worker.SetStatus(domainagent.AgentStatusRunning)

	wr, err := t.deps.runWorker(ctx, terminalID, task)
	if err != nil {
		worker.SetStatus(domainagent.AgentStatusError)
		return &Result{Success: false, Error: err.Error()}, nil
	}
	if wr.Success {
		worker.SetStatus(domainagent.AgentStatusCompleted)
	} else {
		worker.SetStatus(domainagent.AgentStatusError)
	}

	return &Result{
		Output:  wr.Output,
		Success: wr.Success,
		Error:   wr.Error,
		Metadata: map[string]interface{}{
			"terminal_id": terminalID,
			"steps":       wr.Steps,
			"tools_used":  wr.ToolCalls,
		},
	}, nil
}

// ---- parallel_dispatch ----

type ParallelDispatchTool struct {
	deps    *OrchestratorDeps
	spawner domainagent.Spawner
}

func NewParallelDispatchTool(deps *OrchestratorDeps, spawner domainagent.Spawner) *ParallelDispatchTool {
	return &ParallelDispatchTool{deps: deps, spawner: spawner}
}

func (t *ParallelDispatchTool) Name() string          { return "parallel_dispatch" }
func (t *ParallelDispatchTool) Kind() domaintool.Kind { return domaintool.KindExecute }
func (t *ParallelDispatchTool) Description() string {
	return "Dispatch the same task to several connected terminals concurrently. Blocks until every worker completes or fails; one worker's failure never cancels the others."
}
func (t *ParallelDispatchTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"terminal_ids": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"task":         map[string]interface{}{"type": "string"},
		},
		"required": []string{"terminal_ids", "task"},
	}
}

func (t *ParallelDispatchTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	raw, _ := args["terminal_ids"].([]interface{})
	task, _ := args["task"].(string)
	if len(raw) == 0 || strings.TrimSpace(task) == "" {
		return &Result{Success: false, Error: "terminal_ids (non-empty) and task are required"}, nil
	}

	nodes := make([]*domainagent.DAGNode, 0, len(raw))
	for _, v := range raw {
		terminalID, _ := v.(string)
		if terminalID == "" {
			continue
		}
		nodes = append(nodes, &domainagent.DAGNode{
			ID:          terminalID,
			AgentConfig: domainagent.DefaultSpawnConfig(terminalID),
			Metadata:    map[string]string{"input": task},
		})
	}

	runFn := func(ctx context.Context, worker *domainagent.SpawnedAgent, input string) (string, error) {
		wr, err := t.deps.runWorker(ctx, worker.Name, input)
		if err != nil {
			return "", err
		}
		if !wr.Success {
			return wr.Output, fmt.Errorf("%s", wr.Error)
		}
		return wr.Output, nil
	}

	maxParallel := t.deps.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 4
	}
	dag := domainagent.NewDAGExecutor(t.spawner, runFn, domainagent.DAGConfig{MaxParallel: maxParallel}, t.deps.Logger)

	results, err := dag.Execute(ctx, nodes)
	if err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("parallel dispatch aborted: %v", err)}, nil
	}

	var sb strings.Builder
	for _, n := range nodes {
		fmt.Fprintf(&sb, "=== %s ===\n%s\n\n", n.ID, results[n.ID])
	}

	return &Result{
		Output:   sb.String(),
		Success:  true,
		Metadata: map[string]interface{}{"results": results},
	}, nil
}

// ---- collect_results ----

type CollectResultsTool struct{}

func NewCollectResultsTool() *CollectResultsTool { return &CollectResultsTool{} }

func (t *CollectResultsTool) Name() string          { return "collect_results" }
func (t *CollectResultsTool) Kind() domaintool.Kind { return domaintool.KindRead }
func (t *CollectResultsTool) Description() string {
	return "Read back the results already collected from dispatch_task/parallel_dispatch, optionally filtered to specific terminal ids."
}
func (t *CollectResultsTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"terminal_ids": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		},
	}
}

func (t *CollectResultsTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	var results []*orchestrator.WorkerResult
	if raw, ok := args["terminal_ids"].([]interface{}); ok && len(raw) > 0 {
		for _, v := range raw {
			id, _ := v.(string)
			if r, found := orchestratorResults.get(id); found {
				results = append(results, r)
			}
		}
	} else {
		results = orchestratorResults.all()
	}

	if len(results) == 0 {
		return &Result{Output: "no results collected yet", Success: true}, nil
	}

	var sb strings.Builder
	for _, r := range results {
		status := "ok"
		if !r.Success {
			status = "failed: " + r.Error
		}
		fmt.Fprintf(&sb, "[%s] (%s) %s\n", r.TerminalID, status, r.Output)
	}
	return &Result{Output: sb.String(), Success: true}, nil
}

// ---- analyze_and_report ----

type AnalyzeAndReportTool struct {
	logger *zap.Logger
}

func NewAnalyzeAndReportTool(logger *zap.Logger) *AnalyzeAndReportTool {
	return &AnalyzeAndReportTool{logger: logger}
}

func (t *AnalyzeAndReportTool) Name() string          { return "analyze_and_report" }
func (t *AnalyzeAndReportTool) Kind() domaintool.Kind { return domaintool.KindThink }
func (t *AnalyzeAndReportTool) Description() string {
	return "Synthesize the final patrol report from collected worker results: a severity (info|warning|critical), a findings list, and recommendations."
}
func (t *AnalyzeAndReportTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"severity": map[string]interface{}{"type": "string", "enum": []string{"info", "warning", "critical"}},
			"findings": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"host":    map[string]interface{}{"type": "string"},
						"message": map[string]interface{}{"type": "string"},
					},
					"required": []string{"host", "message"},
				},
			},
			"recommendations": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		},
		"required": []string{"severity", "findings"},
	}
}

func (t *AnalyzeAndReportTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	severityStr, _ := args["severity"].(string)
	severity, err := orchestrator.ParseSeverity(severityStr)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	var findings []orchestrator.Finding
	if raw, ok := args["findings"].([]interface{}); ok {
		for _, v := range raw {
			m, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			host, _ := m["host"].(string)
			msg, _ := m["message"].(string)
			findings = append(findings, orchestrator.Finding{Host: host, Message: msg})
		}
	}

	var recommendations []string
	if raw, ok := args["recommendations"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				recommendations = append(recommendations, s)
			}
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Severity: %s\n\nFindings:\n", severity)
	for _, f := range findings {
		fmt.Fprintf(&sb, "  - [%s] %s\n", f.Host, f.Message)
	}
	if len(recommendations) > 0 {
		sb.WriteString("\nRecommendations:\n")
		for _, r := range recommendations {
			fmt.Fprintf(&sb, "  - %s\n", r)
		}
	}

	metadata := map[string]interface{}{
		"severity": string(severity),
		"findings": len(findings),
	}

	if arrowBytes, err := encodeFindingsArrow(severity, findings); err != nil {
		t.logger.Warn("Arrow export of findings failed (non-fatal)", zap.Error(err))
	} else {
		metadata["arrow_bytes"] = len(arrowBytes)
		metadata["arrow_ipc"] = arrowBytes
	}

	return &Result{Output: sb.String(), Success: true, Metadata: metadata}, nil
}
