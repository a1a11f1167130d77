package application

import (
	"context"
	"fmt"

	"github.com/termwright/opsagent/internal/application/usecase"
	"github.com/termwright/opsagent/internal/domain/service"
	domaintool "github.com/termwright/opsagent/internal/domain/tool"
)

// aiBridge adapts service.LLMClient (the in-process llm router) →
// usecase.AIServiceClient, so the Compactor can summarize history without
// requiring the external gRPC sidecar.
type aiBridge struct {
	llm service.LLMClient
}

// GenerateResponse implements usecase.AIServiceClient.GenerateResponse
func (b *aiBridge) GenerateResponse(ctx context.Context, req *usecase.AIRequest) (*usecase.AIResponse, error) {
	resp, err := b.llm.Generate(ctx, &service.LLMRequest{
		Messages: []service.LLMMessage{
			{Role: "user", Content: req.Prompt},
		},
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, err
	}
	return &usecase.AIResponse{
		Content:    resp.Content,
		ModelUsed:  resp.ModelUsed,
		TokensUsed: resp.TokensUsed,
	}, nil
}

// GenerateStream implements usecase.AIServiceClient.GenerateStream.
// The router path is used for one-shot summaries only, so the stream is
// a single final chunk.
func (b *aiBridge) GenerateStream(ctx context.Context, req *usecase.AIRequest) (<-chan *usecase.AIStreamChunk, <-chan error) {
	chunkCh := make(chan *usecase.AIStreamChunk, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(chunkCh)
		defer close(errCh)
		resp, err := b.GenerateResponse(ctx, req)
		if err != nil {
			errCh <- err
			return
		}
		chunkCh <- &usecase.AIStreamChunk{Content: resp.Content, IsFinal: true}
	}()
	return chunkCh, errCh
}

// ExecuteSkill implements usecase.AIServiceClient.ExecuteSkill. Skills
// only exist on the gRPC sidecar.
func (b *aiBridge) ExecuteSkill(ctx context.Context, req *usecase.SkillRequest) (*usecase.SkillResponse, error) {
	return nil, fmt.Errorf("skill %q requires the ai_service sidecar", req.SkillID)
}

// toolBridge adapts domaintool.Registry → service.ToolExecutor.
// This allows the AgentLoop to discover and execute tools through the shared registry.
type toolBridge struct {
	registry domaintool.Registry
}

// Execute implements service.ToolExecutor.Execute
func (b *toolBridge) Execute(ctx context.Context, name string, args map[string]interface{}) (*domaintool.Result, error) {
	tool, ok := b.registry.Get(name)
	if !ok {
		return &domaintool.Result{
			Output:  fmt.Sprintf("Tool '%s' not found", name),
			Success: false,
			Error:   fmt.Sprintf("tool '%s' not registered", name),
		}, nil
	}
	return tool.Execute(ctx, args)
}

// GetDefinitions implements service.ToolExecutor.GetDefinitions
func (b *toolBridge) GetDefinitions() []domaintool.Definition {
	return b.registry.List()
}

// GetToolKind implements service.ToolExecutor.GetToolKind
func (b *toolBridge) GetToolKind(name string) domaintool.Kind {
	tool, ok := b.registry.Get(name)
	if !ok {
		return domaintool.KindExecute
	}
	return tool.Kind()
}
