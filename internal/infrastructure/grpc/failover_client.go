package grpc

import (
	"context"

	"github.com/termwright/opsagent/internal/application/usecase"
	"go.uber.org/zap"
)

// FailoverClient decorates an AIServiceClient with per-model failover on
// the non-streaming path. Streaming and skill calls pass through: a
// half-delivered stream cannot be replayed against another model.
type FailoverClient struct {
	inner    usecase.AIServiceClient
	failover *ModelFailover
}

// NewFailoverClient wraps inner with a fallback chain.
func NewFailoverClient(inner usecase.AIServiceClient, fallbackChain []string, logger *zap.Logger) *FailoverClient {
	return &FailoverClient{
		inner:    inner,
		failover: NewModelFailover(fallbackChain, logger),
	}
}

// GenerateResponse implements usecase.AIServiceClient.GenerateResponse
func (c *FailoverClient) GenerateResponse(ctx context.Context, req *usecase.AIRequest) (*usecase.AIResponse, error) {
	return c.failover.ExecuteWithFailover(ctx, req, c.inner)
}

// GenerateStream implements usecase.AIServiceClient.GenerateStream
func (c *FailoverClient) GenerateStream(ctx context.Context, req *usecase.AIRequest) (<-chan *usecase.AIStreamChunk, <-chan error) {
	return c.inner.GenerateStream(ctx, req)
}

// ExecuteSkill implements usecase.AIServiceClient.ExecuteSkill
func (c *FailoverClient) ExecuteSkill(ctx context.Context, req *usecase.SkillRequest) (*usecase.SkillResponse, error) {
	return c.inner.ExecuteSkill(ctx, req)
}
