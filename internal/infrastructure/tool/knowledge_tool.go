package tool

import (
	"context"
	"fmt"
	"strings"

	domainmemory "github.com/termwright/opsagent/internal/domain/memory"
	domaintool "github.com/termwright/opsagent/internal/domain/tool"
	"go.uber.org/zap"
)

// RememberInfoTool persists a fact into the vector-backed knowledge store
// that also serves search_knowledge.
type RememberInfoTool struct {
	memory *domainmemory.MemoryManager
	logger *zap.Logger
}

// NewRememberInfoTool creates the remember_info tool.
func NewRememberInfoTool(memory *domainmemory.MemoryManager, logger *zap.Logger) *RememberInfoTool {
	return &RememberInfoTool{memory: memory, logger: logger}
}

func (t *RememberInfoTool) Name() string         { return "remember_info" }
func (t *RememberInfoTool) Kind() domaintool.Kind { return domaintool.KindThink }
func (t *RememberInfoTool) Description() string {
	return "Embed and store a piece of information in the vector knowledge base so it can be " +
		"recalled later via search_knowledge, across sessions and hosts."
}

func (t *RememberInfoTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The information to embed and store.",
			},
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Session to scope this memory to (optional).",
			},
		},
		"required": []string{"content"},
	}
}

func (t *RememberInfoTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	content, ok := args["content"].(string)
	if !ok || strings.TrimSpace(content) == "" {
		return &Result{Output: "Error: 'content' parameter is required", Success: false}, nil
	}

	meta := map[string]interface{}{}
	if sessionID, ok := args["session_id"].(string); ok && sessionID != "" {
		meta["session_id"] = sessionID
	}

	entry, err := t.memory.Remember(ctx, content, meta)
	if err != nil {
		t.logger.Warn("remember_info failed", zap.Error(err))
		return &Result{Output: fmt.Sprintf("Failed to store memory: %v", err), Success: false}, nil
	}

	return &Result{
		Output:  fmt.Sprintf("Stored memory %s", entry.ID),
		Display: fmt.Sprintf("🧠 Remembered: %s", content),
		Success: true,
	}, nil
}

// SearchKnowledgeTool performs semantic recall over the vector knowledge base.
type SearchKnowledgeTool struct {
	memory *domainmemory.MemoryManager
	logger *zap.Logger
}

// NewSearchKnowledgeTool creates the search_knowledge tool.
func NewSearchKnowledgeTool(memory *domainmemory.MemoryManager, logger *zap.Logger) *SearchKnowledgeTool {
	return &SearchKnowledgeTool{memory: memory, logger: logger}
}

func (t *SearchKnowledgeTool) Name() string         { return "search_knowledge" }
func (t *SearchKnowledgeTool) Kind() domaintool.Kind { return domaintool.KindThink }
func (t *SearchKnowledgeTool) Description() string {
	return "Semantic search over previously remembered information. Returns the most similar entries."
}

func (t *SearchKnowledgeTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Natural-language query to search for.",
			},
			"top_k": map[string]interface{}{
				"type":        "number",
				"description": "Maximum number of results to return. Default 5.",
			},
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Restrict the search to a single session (optional).",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchKnowledgeTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return &Result{Output: "Error: 'query' parameter is required", Success: false}, nil
	}

	topK := 5
	if v, ok := args["top_k"].(float64); ok && v > 0 {
		topK = int(v)
	}

	var filter *domainmemory.SearchFilter
	if sessionID, ok := args["session_id"].(string); ok && sessionID != "" {
		filter = &domainmemory.SearchFilter{SessionID: sessionID}
	}

	entries, err := t.memory.Recall(ctx, query, topK, filter)
	if err != nil {
		t.logger.Warn("search_knowledge failed", zap.Error(err))
		return &Result{Output: fmt.Sprintf("Search failed: %v", err), Success: false}, nil
	}

	if len(entries) == 0 {
		return &Result{Output: "No matching memories found.", Success: true}, nil
	}

	var sb strings.Builder
	for i, e := range entries {
		fmt.Fprintf(&sb, "%d. [score %.2f] %s\n", i+1, e.Score, e.Content)
	}

	return &Result{
		Output:  sb.String(),
		Display: fmt.Sprintf("🔎 %d memories found for %q", len(entries), query),
		Success: true,
	}, nil
}
