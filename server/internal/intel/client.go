package intel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/model"
)

// Client 智能协作方客户端接口。
// 只允许非确定性阶段的处理器调用，输出一律按不可信建议对待，
// 最终出站内容必须再过一遍选项执法器。
type Client interface {
	// Analyze 对一段用户文本做意图分析，返回建议回复与抽取到的实体。
	Analyze(ctx context.Context, req Request) (*model.IntelResult, error)
}

// Request 分析请求。
type Request struct {
	// SessionText 是本轮用户原文。
	SessionText string `json:"sessionText"`
	// SessionContext 是会话上下文的文本化摘要（阶段、已知实体、近期对话）。
	SessionContext string `json:"sessionContext"`
}

// HTTPClient 通过 HTTP 调用外部智能服务。
type HTTPClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient 创建 HTTP 智能客户端。
// hardTimeout 是整个请求的硬上限，逐轮的软超时由调用方通过 ctx 控制。
func NewHTTPClient(endpoint, apiKey string, hardTimeout time.Duration) *HTTPClient {
	if hardTimeout <= 0 {
		hardTimeout = 30 * time.Second
	}
	return &HTTPClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: hardTimeout,
		},
	}
}

// Analyze 调用分析接口。
func (c *HTTPClient) Analyze(ctx context.Context, req Request) (*model.IntelResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("intel API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result model.IntelResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	// 置信度按不可信输入处理，越界直接钳到 [0,1]。
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}

	return &result, nil
}
