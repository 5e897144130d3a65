package intel

import (
	"context"
	"errors"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/model"
)

// MockClient 用于测试的智能协作方。
type MockClient struct {
	// Result 是 Analyze 返回的固定结果，nil 时返回一个通用结果。
	Result *model.IntelResult
	// ShouldTimeout 为 true 时模拟超时（返回 context.DeadlineExceeded）。
	ShouldTimeout bool
	// ShouldFail 为 true 时模拟网络故障。
	ShouldFail bool

	CallCount   int
	LastRequest Request
}

// NewMockClient 创建 Mock 智能客户端。
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Analyze 模拟分析调用。
func (m *MockClient) Analyze(ctx context.Context, req Request) (*model.IntelResult, error) {
	m.CallCount++
	m.LastRequest = req

	if m.ShouldTimeout {
		return nil, context.DeadlineExceeded
	}
	if m.ShouldFail {
		return nil, errors.New("intel collaborator unavailable")
	}

	if m.Result != nil {
		r := *m.Result
		return &r, nil
	}
	return &model.IntelResult{
		Intent:         "describe_problem",
		Confidence:     0.8,
		SuggestedReply: "mock suggestion",
	}, nil
}
