package llm

import (
	"context"
	"sync"
)

// MockClient 用于测试的 Mock LLM 客户端
type MockClient struct {
	mu sync.Mutex
	// Responses 按调用顺序返回；用完后重复最后一个。
	Responses []string
	// Err 非空时每次调用都失败。
	Err   error
	calls [][]Message
}

// NewMockClient 创建返回固定内容的 Mock 客户端
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{Responses: responses}
}

// Complete 记录调用并返回预设响应
func (m *MockClient) Complete(_ context.Context, messages []Message, _ *JSONSchema) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, append([]Message(nil), messages...))
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) == 0 {
		return "", ErrEmptyResponse
	}
	idx := min(len(m.calls)-1, len(m.Responses)-1)
	return m.Responses[idx], nil
}

// CallCount 已调用次数
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastMessages 最近一次调用的消息
func (m *MockClient) LastMessages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}
