package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SpawnConfig configures a spawned worker agent — either a nested
// sub-agent (internal/infrastructure/tool/subagent_tool.go's spawn_agent)
// or, as the orchestrator uses it, one per-terminal worker dispatched by
// dispatch_task / parallel_dispatch.
type SpawnConfig struct {
	Name           string            // Agent identity; the orchestrator sets this to the terminal id it is bound to
	SystemPrompt   string            // System prompt override
	AllowedTools   []string          // Tool allow-list
	DeniedTools    []string          // Tool deny-list
	InheritContext bool              // Whether to inherit the parent's conversation context
	InheritTools   bool              // Whether to inherit the parent's tool permissions
	MaxDepth       int               // Max nesting depth (guards against runaway recursion)
	Timeout        time.Duration     // Per-worker wall-clock budget
	Metadata       map[string]string // Extra bookkeeping (e.g. host id, task description)
}

// DefaultSpawnConfig returns a SpawnConfig with the common defaults.
func DefaultSpawnConfig(name string) *SpawnConfig {
	return &SpawnConfig{
		Name:           name,
		AllowedTools:   []string{},
		DeniedTools:    []string{},
		InheritContext: true,
		InheritTools:   true,
		MaxDepth:       3,
		Timeout:        5 * time.Minute,
		Metadata:       make(map[string]string),
	}
}

// Permission is the tool-access envelope granted to a spawned agent.
type Permission struct {
	Tools       []string // Allowed tool names
	DeniedTools []string // Denied tool names
	CanSpawn    bool      // Whether this agent may itself spawn children
	MaxSpawns   int       // Max number of direct children
	MaxDepth    int       // Max nesting depth from this agent
}

// CanUseTool reports whether toolName is permitted under this grant.
func (p *Permission) CanUseTool(toolName string) bool {
	for _, denied := range p.DeniedTools {
		if denied == toolName {
			return false
		}
	}

	// An empty allow-list means "allow anything not explicitly denied".
	if len(p.Tools) == 0 {
		return true
	}

	for _, allowed := range p.Tools {
		if allowed == toolName {
			return true
		}
	}

	return false
}

// SpawnedAgent is a worker agent created by a Spawner — bookkeeping only;
// the actual ReAct loop that runs under this identity is a separate
// service.AgentLoop instance the caller owns and drives.
type SpawnedAgent struct {
	ID           string
	ParentID     string
	Name         string
	SystemPrompt string
	Permission   *Permission
	Depth        int
	CreatedAt    time.Time
	Status       AgentStatus
	mu           sync.RWMutex
}

// AgentStatus is the lifecycle state of a spawned agent.
type AgentStatus int

const (
	AgentStatusIdle AgentStatus = iota
	AgentStatusRunning
	AgentStatusCompleted
	AgentStatusError
	AgentStatusTerminated
)

// String returns the lowercase status name.
func (s AgentStatus) String() string {
	switch s {
	case AgentStatusIdle:
		return "idle"
	case AgentStatusRunning:
		return "running"
	case AgentStatusCompleted:
		return "completed"
	case AgentStatusError:
		return "error"
	case AgentStatusTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Spawner creates and supervises worker agents. The orchestrator
// (internal/infrastructure/tool/orchestrator_tools.go) uses one Spawner to
// track every per-terminal worker it dispatches, independent of whatever
// spawns plain sub-agents via spawn_agent.
type Spawner interface {
	// Spawn registers a new worker under parentID ("" for a root worker).
	Spawn(ctx context.Context, parentID string, config *SpawnConfig) (*SpawnedAgent, error)
	// Get looks a worker up by id.
	Get(agentID string) (*SpawnedAgent, bool)
	// ListChildren lists the direct children of parentID.
	ListChildren(parentID string) []*SpawnedAgent
	// Terminate marks an agent (and its direct children) as terminated.
	Terminate(agentID string) error
	// TerminateAll terminates every child of parentID.
	TerminateAll(parentID string) error
	// GetDepth reports an agent's nesting depth.
	GetDepth(agentID string) int
}

// InMemorySpawner is the in-process Spawner implementation; worker
// bookkeeping does not need to outlive the run that created it.
type InMemorySpawner struct {
	mu       sync.RWMutex
	agents   map[string]*SpawnedAgent
	children map[string][]string // parentID -> []childID
	logger   *zap.Logger
	maxDepth int
}

// NewInMemorySpawner creates an empty in-memory spawner.
func NewInMemorySpawner(logger *zap.Logger, maxDepth int) *InMemorySpawner {
	if maxDepth <= 0 {
		maxDepth = 5
	}
	return &InMemorySpawner{
		agents:   make(map[string]*SpawnedAgent),
		children: make(map[string][]string),
		logger:   logger,
		maxDepth: maxDepth,
	}
}

// Spawn registers a new worker agent, enforcing depth and spawn-permission
// limits inherited from its parent (if any).
func (s *InMemorySpawner) Spawn(ctx context.Context, parentID string, config *SpawnConfig) (*SpawnedAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var parentDepth int
	if parentID != "" {
		parent, exists := s.agents[parentID]
		if !exists {
			return nil, fmt.Errorf("parent agent %s not found", parentID)
		}
		parentDepth = parent.Depth

		if parentDepth >= s.maxDepth {
			return nil, fmt.Errorf("max spawn depth (%d) exceeded", s.maxDepth)
		}

		if parent.Permission != nil && !parent.Permission.CanSpawn {
			return nil, fmt.Errorf("parent agent %s cannot spawn sub-agents", parentID)
		}
	}

	agentID := uuid.New().String()
	permission := s.buildPermission(parentID, config)

	agent := &SpawnedAgent{
		ID:           agentID,
		ParentID:     parentID,
		Name:         config.Name,
		SystemPrompt: config.SystemPrompt,
		Permission:   permission,
		Depth:        parentDepth + 1,
		CreatedAt:    time.Now(),
		Status:       AgentStatusIdle,
	}

	s.agents[agentID] = agent
	if parentID != "" {
		s.children[parentID] = append(s.children[parentID], agentID)
	}

	if s.logger != nil {
		s.logger.Info("Worker agent spawned",
			zap.String("agent_id", agentID),
			zap.String("parent_id", parentID),
			zap.String("name", config.Name),
			zap.Int("depth", agent.Depth),
		)
	}

	return agent, nil
}

// buildPermission computes the effective Permission for a new worker,
// inheriting from its parent when requested.
func (s *InMemorySpawner) buildPermission(parentID string, config *SpawnConfig) *Permission {
	perm := &Permission{
		Tools:       make([]string, 0),
		DeniedTools: make([]string, 0),
		CanSpawn:    config.MaxDepth > 1,
		MaxSpawns:   5,
		MaxDepth:    config.MaxDepth,
	}

	if config.InheritTools && parentID != "" {
		if parent, exists := s.agents[parentID]; exists && parent.Permission != nil {
			perm.Tools = append(perm.Tools, parent.Permission.Tools...)
			perm.DeniedTools = append(perm.DeniedTools, parent.Permission.DeniedTools...)
		}
	}

	perm.Tools = append(perm.Tools, config.AllowedTools...)
	perm.DeniedTools = append(perm.DeniedTools, config.DeniedTools...)

	return perm
}

// Get returns a registered agent by id.
func (s *InMemorySpawner) Get(agentID string) (*SpawnedAgent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, exists := s.agents[agentID]
	return agent, exists
}

// ListChildren returns the direct children of parentID.
func (s *InMemorySpawner) ListChildren(parentID string) []*SpawnedAgent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	childIDs, exists := s.children[parentID]
	if !exists {
		return []*SpawnedAgent{}
	}

	children := make([]*SpawnedAgent, 0, len(childIDs))
	for _, childID := range childIDs {
		if agent, exists := s.agents[childID]; exists {
			children = append(children, agent)
		}
	}

	return children
}

// Terminate marks agentID and its direct children as terminated;
// grandchildren are not visited.
func (s *InMemorySpawner) Terminate(agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, exists := s.agents[agentID]
	if !exists {
		return fmt.Errorf("agent %s not found", agentID)
	}

	if childIDs, hasChildren := s.children[agentID]; hasChildren {
		for _, childID := range childIDs {
			if child, exists := s.agents[childID]; exists {
				child.mu.Lock()
				child.Status = AgentStatusTerminated
				child.mu.Unlock()
			}
		}
		delete(s.children, agentID)
	}

	agent.mu.Lock()
	agent.Status = AgentStatusTerminated
	agent.mu.Unlock()

	if agent.ParentID != "" {
		if siblings, exists := s.children[agent.ParentID]; exists {
			newSiblings := make([]string, 0, len(siblings)-1)
			for _, siblingID := range siblings {
				if siblingID != agentID {
					newSiblings = append(newSiblings, siblingID)
				}
			}
			s.children[agent.ParentID] = newSiblings
		}
	}

	if s.logger != nil {
		s.logger.Info("Agent terminated",
			zap.String("agent_id", agentID),
		)
	}

	return nil
}

// TerminateAll terminates every child of parentID, logging (but not
// failing on) individual errors so sibling termination is never blocked
// by one stuck child.
func (s *InMemorySpawner) TerminateAll(parentID string) error {
	children := s.ListChildren(parentID)
	for _, child := range children {
		if err := s.Terminate(child.ID); err != nil {
			if s.logger != nil {
				s.logger.Warn("Failed to terminate child agent",
					zap.String("child_id", child.ID),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}

// GetDepth reports agentID's nesting depth, or 0 if unknown.
func (s *InMemorySpawner) GetDepth(agentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if agent, exists := s.agents[agentID]; exists {
		return agent.Depth
	}
	return 0
}

// SetStatus updates an agent's lifecycle status.
func (a *SpawnedAgent) SetStatus(status AgentStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Status = status
}

// GetStatus returns an agent's current lifecycle status.
func (a *SpawnedAgent) GetStatus() AgentStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.Status
}

// IsActive reports whether the agent is idle or running (not finished).
func (a *SpawnedAgent) IsActive() bool {
	status := a.GetStatus()
	return status == AgentStatusIdle || status == AgentStatusRunning
}
