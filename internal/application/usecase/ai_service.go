package usecase

import (
	"context"

	"github.com/termwright/opsagent/internal/domain/entity"
)

// AIRequest is a transport-neutral generation request sent to a model
// serving backend (in-process router or the gRPC sidecar).
type AIRequest struct {
	Prompt      string
	Model       string // "provider/model" or bare model name
	MaxTokens   int
	Temperature float64
	History     []*entity.Message
}

// AIResponse is the non-streaming generation result.
type AIResponse struct {
	Content    string
	ModelUsed  string
	TokensUsed int
}

// AIStreamChunk is one delta of a streaming generation.
type AIStreamChunk struct {
	Content string
	IsFinal bool
}

// SkillRequest invokes a named server-side skill with opaque input.
type SkillRequest struct {
	SkillID string
	Input   string
	Config  map[string]string
}

// SkillResponse is the result of a skill execution.
type SkillResponse struct {
	Output       string
	Success      bool
	ErrorMessage string
}

// AIServiceClient is the application-layer port to a model serving
// backend. The gRPC sidecar client (infrastructure/grpc.AIClient) is the
// production implementation; tests substitute in-memory fakes.
type AIServiceClient interface {
	GenerateResponse(ctx context.Context, req *AIRequest) (*AIResponse, error)
	GenerateStream(ctx context.Context, req *AIRequest) (<-chan *AIStreamChunk, <-chan error)
	ExecuteSkill(ctx context.Context, req *SkillRequest) (*SkillResponse, error)
}
