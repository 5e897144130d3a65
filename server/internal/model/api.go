package model

// TurnRequest 是 POST /api/chat 的请求体。
// text 与 buttonId 恰好填一个，两个都填或都不填会在进入编排器前被拒绝。
type TurnRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	Text      string `json:"text,omitempty"`
	ButtonID  string `json:"buttonId,omitempty"`
	// ButtonLabel 仅用于审计展示，客户端可不传。
	ButtonLabel string `json:"buttonLabel,omitempty"`
}

// ViewModel 告诉前端当前阶段允许的输入形态，由阶段契约直接导出。
type ViewModel struct {
	StageIsDeterministic bool `json:"stageIsDeterministic"`
	AllowsText           bool `json:"allowsText"`
	AllowsOptions        bool `json:"allowsOptions"`
	MaxOptions           int  `json:"maxOptions"`
}

// DebugPayload 仅在诊断模式开启时随响应返回。
type DebugPayload struct {
	StageBefore      Stage       `json:"stageBefore"`
	StageAfter       Stage       `json:"stageAfter"`
	TransitionReason string      `json:"transitionReason,omitempty"`
	Violations       []Violation `json:"violations,omitempty"`
}

// TurnResponse 是一次对话轮次的出站响应。
// 不论内部发生什么（拒绝、降级、处理器失败），它都对当前阶段契约合法。
type TurnResponse struct {
	OK        bool          `json:"ok"`
	SessionID string        `json:"sessionId"`
	Stage     Stage         `json:"stage"`
	Reply     string        `json:"reply"`
	Options   []Option      `json:"options"`
	ViewModel ViewModel     `json:"viewModel"`
	Debug     *DebugPayload `json:"debug,omitempty"`
}
