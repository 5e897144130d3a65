package model

import "time"

// Severity 划分违规记录的严重程度。
// warning 表示已纠正的偏差，critical 表示靠替补才守住契约，
// fatal 表示处理器失败、本轮走了安全兜底路径。
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityFatal    Severity = "fatal"
)

// 违规代码。违规只会出现在三种场合：事件被拒绝、输出被纠正、处理器致命失败。
const (
	ViolationInvalidToken     = "INVALID_TOKEN_FOR_STAGE"
	ViolationTextNotAllowed   = "TEXT_NOT_ALLOWED"
	ViolationEmptyEvent       = "EMPTY_EVENT"
	ViolationOptionDropped    = "OPTION_DROPPED"
	ViolationOptionsTruncated = "OPTIONS_TRUNCATED"
	ViolationEmptySubstituted = "EMPTY_OPTIONS_SUBSTITUTED"
	ViolationEntityOverwrite  = "ENTITY_OVERWRITE_BLOCKED"
	ViolationHandlerPanic     = "HANDLER_PANIC"
)

// 阶段迁移原因。写入轮次日志的 transitionReason 字段，
// 其中几个会被配置标记为持久化关键（见 config.Persistence.CriticalReasons）。
const (
	ReasonSessionStarted       = "SESSION_STARTED"
	ReasonLanguageSelected     = "LANGUAGE_SELECTED"
	ReasonNameCaptured         = "NAME_CAPTURED"
	ReasonNameSkipped          = "NAME_SKIPPED"
	ReasonConsentCaptured      = "CONSENT_CAPTURED"
	ReasonNeedSelected         = "NEED_SELECTED"
	ReasonProblemCaptured      = "PROBLEM_CAPTURED"
	ReasonDeviceCaptured       = "DEVICE_CAPTURED"
	ReasonAssistContinued      = "ASSIST_CONTINUED"
	ReasonTestsDone            = "TESTS_DONE"
	ReasonTestsFailed          = "TESTS_FAILED"
	ReasonResolvedConfirmed    = "RESOLVED_CONFIRMED"
	ReasonNotResolved          = "NOT_RESOLVED"
	ReasonTicketAccepted       = "TICKET_ACCEPTED"
	ReasonTicketDeclined       = "TICKET_DECLINED"
	ReasonEmailCaptured        = "EMAIL_CAPTURED"
	ReasonTicketCreated        = "TICKET_CREATED"
	ReasonHandedOff            = "HANDED_OFF"
	ReasonEscalatedMaxAttempts = "ESCALATED_MAX_ATTEMPTS"
	ReasonSessionReopened      = "SESSION_REOPENED"
	ReasonPreconditionFailed   = "PRECONDITION_FAILED"
	ReasonEventRejected        = "EVENT_REJECTED"
	ReasonHandlerFailed        = "HANDLER_FAILED"
)

// Violation 记录一次被拦截或被纠正的契约违规。
type Violation struct {
	Code     string   `json:"code"`
	Detail   string   `json:"detail"`
	Severity Severity `json:"severity"`
}

// IntelResult 是智能协作方对一段诊断文本的分析结果。
type IntelResult struct {
	Intent         string            `json:"intent"`
	Confidence     float64           `json:"confidence"`
	Entities       map[string]string `json:"entities,omitempty"`
	SuggestedReply string            `json:"suggestedReply,omitempty"`
}

// TurnLog 是一次编排调用的不可变审计记录。
// 每次调用恰好产生一条，事件被拒绝时也不例外；写入后任何层都不得修改。
type TurnLog struct {
	// TurnID 是 ULID，同一进程内按生成时间单调有序。
	TurnID    string    `json:"turnId"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"sessionId"`

	StageBefore Stage     `json:"stageBefore"`
	Event       UserEvent `json:"event"`
	// Intelligence 仅当本轮确实咨询了协作方且拿到结果时非空。
	Intelligence *IntelResult `json:"intelligence,omitempty"`

	BotReply     string      `json:"botReply"`
	StageAfter   Stage       `json:"stageAfter"`
	OptionsShown []Option    `json:"optionsShown"`
	Violations   []Violation `json:"violations,omitempty"`

	TransitionReason string `json:"transitionReason,omitempty"`
	Rejected         bool   `json:"rejected,omitempty"`
	RejectReason     string `json:"rejectReason,omitempty"`
}

// Clone 返回轮次日志的深拷贝。
func (t *TurnLog) Clone() *TurnLog {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Intelligence != nil {
		ir := *t.Intelligence
		if t.Intelligence.Entities != nil {
			ir.Entities = make(map[string]string, len(t.Intelligence.Entities))
			for k, v := range t.Intelligence.Entities {
				ir.Entities[k] = v
			}
		}
		cp.Intelligence = &ir
	}
	cp.OptionsShown = make([]Option, len(t.OptionsShown))
	copy(cp.OptionsShown, t.OptionsShown)
	if t.Violations != nil {
		cp.Violations = make([]Violation, len(t.Violations))
		copy(cp.Violations, t.Violations)
	}
	return &cp
}
