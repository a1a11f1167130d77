// Package pb binds the AIService sidecar RPCs (aiservice.proto) without
// generated stubs. Every RPC carries a google.protobuf.Struct payload, so
// the plain structs below are mapped to/from structpb at the call boundary
// and the sidecar can add fields without a stub regeneration on this side.
package pb

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "opsagent.ai.v1.AIService"

var (
	methodGenerate       = fmt.Sprintf("/%s/Generate", serviceName)
	methodGenerateStream = fmt.Sprintf("/%s/GenerateStream", serviceName)
	methodExecuteSkill   = fmt.Sprintf("/%s/ExecuteSkill", serviceName)
)

var streamDesc = &grpc.StreamDesc{
	StreamName:    "GenerateStream",
	ServerStreams: true,
}

// ChatMessage is one prior turn in a generation request.
type ChatMessage struct {
	Role    string
	Content string
	Name    string
}

// GenerateRequest asks the sidecar for a completion.
type GenerateRequest struct {
	Prompt      string
	Model       string
	Provider    string
	MaxTokens   int32
	Temperature float64
	History     []*ChatMessage
}

// GenerateResponse is the sidecar's non-streaming completion.
type GenerateResponse struct {
	Content    string
	ModelUsed  string
	TokensUsed int32
}

// GenerateChunk is one delta of a streamed completion.
type GenerateChunk struct {
	Content string
	IsFinal bool
}

// SkillRequest invokes a server-side skill.
type SkillRequest struct {
	SkillId string
	Input   string
	Config  map[string]string
}

// SkillResponse is the result of a skill invocation.
type SkillResponse struct {
	Output       string
	Success      bool
	ErrorMessage string
}

// AIService_GenerateStreamClient receives streamed completion chunks.
type AIService_GenerateStreamClient interface {
	Recv() (*GenerateChunk, error)
}

// AIServiceClient is the client surface of the AIService sidecar.
type AIServiceClient interface {
	Generate(ctx context.Context, req *GenerateRequest, opts ...grpc.CallOption) (*GenerateResponse, error)
	GenerateStream(ctx context.Context, req *GenerateRequest, opts ...grpc.CallOption) (AIService_GenerateStreamClient, error)
	ExecuteSkill(ctx context.Context, req *SkillRequest, opts ...grpc.CallOption) (*SkillResponse, error)
}

// NewAIServiceClient returns an AIServiceClient bound to conn.
func NewAIServiceClient(conn grpc.ClientConnInterface) AIServiceClient {
	return &aiServiceClient{cc: conn}
}

type aiServiceClient struct {
	cc grpc.ClientConnInterface
}

func (c *aiServiceClient) Generate(ctx context.Context, req *GenerateRequest, opts ...grpc.CallOption) (*GenerateResponse, error) {
	in, err := generateRequestStruct(req)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, methodGenerate, in, out, opts...); err != nil {
		return nil, err
	}
	return &GenerateResponse{
		Content:    stringField(out, "content"),
		ModelUsed:  stringField(out, "model_used"),
		TokensUsed: int32(numberField(out, "tokens_used")),
	}, nil
}

func (c *aiServiceClient) GenerateStream(ctx context.Context, req *GenerateRequest, opts ...grpc.CallOption) (AIService_GenerateStreamClient, error) {
	in, err := generateRequestStruct(req)
	if err != nil {
		return nil, err
	}
	stream, err := c.cc.NewStream(ctx, streamDesc, methodGenerateStream, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &generateStreamClient{stream: stream}, nil
}

func (c *aiServiceClient) ExecuteSkill(ctx context.Context, req *SkillRequest, opts ...grpc.CallOption) (*SkillResponse, error) {
	cfg := map[string]interface{}{}
	for k, v := range req.Config {
		cfg[k] = v
	}
	in, err := structpb.NewStruct(map[string]interface{}{
		"skill_id": req.SkillId,
		"input":    req.Input,
		"config":   cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("encode skill request: %w", err)
	}
	out := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, methodExecuteSkill, in, out, opts...); err != nil {
		return nil, err
	}
	return &SkillResponse{
		Output:       stringField(out, "output"),
		Success:      boolField(out, "success"),
		ErrorMessage: stringField(out, "error_message"),
	}, nil
}

type generateStreamClient struct {
	stream grpc.ClientStream
}

func (s *generateStreamClient) Recv() (*GenerateChunk, error) {
	msg := &structpb.Struct{}
	if err := s.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return &GenerateChunk{
		Content: stringField(msg, "content"),
		IsFinal: boolField(msg, "is_final"),
	}, nil
}

func generateRequestStruct(req *GenerateRequest) (*structpb.Struct, error) {
	history := make([]interface{}, 0, len(req.History))
	for _, m := range req.History {
		history = append(history, map[string]interface{}{
			"role":    m.Role,
			"content": m.Content,
			"name":    m.Name,
		})
	}
	s, err := structpb.NewStruct(map[string]interface{}{
		"prompt":      req.Prompt,
		"model":       req.Model,
		"provider":    req.Provider,
		"max_tokens":  float64(req.MaxTokens),
		"temperature": req.Temperature,
		"history":     history,
	})
	if err != nil {
		return nil, fmt.Errorf("encode generate request: %w", err)
	}
	return s, nil
}

func stringField(s *structpb.Struct, key string) string {
	if s == nil || s.Fields == nil {
		return ""
	}
	return s.Fields[key].GetStringValue()
}

func numberField(s *structpb.Struct, key string) float64 {
	if s == nil || s.Fields == nil {
		return 0
	}
	return s.Fields[key].GetNumberValue()
}

func boolField(s *structpb.Struct, key string) bool {
	if s == nil || s.Fields == nil {
		return false
	}
	return s.Fields[key].GetBoolValue()
}
