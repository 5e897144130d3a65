package model

import "time"

// Stage 标识会话所处的对话阶段。合法取值由 contract 包的阶段契约表给出，
// 会话的 Stage 字段必须始终落在契约表内。
type Stage string

// 全部对话阶段。StageNew 是只在会话创建瞬间存在的哨兵阶段，
// 首条轮次日志把它记录为 stageBefore，之后不会再出现。
const (
	StageNew             Stage = "NEW"
	StageAskLanguage     Stage = "ASK_LANGUAGE"
	StageAskName         Stage = "ASK_NAME"
	StageAskConsent      Stage = "ASK_CONSENT"
	StageAskNeed         Stage = "ASK_NEED"
	StageDescribeProblem Stage = "DESCRIBE_PROBLEM"
	StageAskDevice       Stage = "ASK_DEVICE"
	StageAssist          Stage = "ASSIST"
	StageAskResolved     Stage = "ASK_RESOLVED"
	StageOfferTicket     Stage = "OFFER_TICKET"
	StageAskContactEmail Stage = "ASK_CONTACT_EMAIL"
	StageAskContactPhone Stage = "ASK_CONTACT_PHONE"
	StageHumanHandoff    Stage = "HUMAN_HANDOFF"
	StageClosed          Stage = "CLOSED"
)

// EventType 区分用户事件的两个变体。
type EventType string

const (
	EventText   EventType = "text"
	EventOption EventType = "option"
)

// UserEvent 是规范化后的入站用户事件。两个变体互斥：
// 文本事件只填 RawText，选项事件只填 Token（Label 可选，仅供审计展示）。
// 规范化由编排器完成，下游各层可以假定恰好一个变体被填充。
type UserEvent struct {
	Type    EventType `json:"type"`
	RawText string    `json:"rawText,omitempty"`
	Token   string    `json:"token,omitempty"`
	Label   string    `json:"label,omitempty"`
}

// Option 是展示给用户的一个可点选按钮。
type Option struct {
	Token string `json:"token"`
	Label string `json:"label"`
}

// Entities 保存诊断过程累计的结构化事实。
// 已填字段不允许被静默覆盖，覆盖尝试会被编排器拦截并记录违规。
type Entities struct {
	Device  string `json:"device,omitempty"`
	Problem string `json:"problem,omitempty"`
	Urgency string `json:"urgency,omitempty"`
}

// Contact 是建单流程采集的联系方式。
type Contact struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// TranscriptEntry 是面向人读的对话记录中的一条。
type TranscriptEntry struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	TS   time.Time `json:"ts"`
}

// Session 保存一个支持会话的全部持久状态。
type Session struct {
	// SessionID 创建后不可变。
	SessionID string `json:"sessionId"`
	// Stage 必须始终是契约表中的合法阶段。
	Stage Stage `json:"stage"`
	// Locale 是回复语言（es-AR / es-ES / en），选语言前为默认值。
	Locale string `json:"locale"`

	UserName string `json:"userName,omitempty"`
	// ConsentGiven 一经写入不再改变。
	ConsentGiven *bool    `json:"consentGiven,omitempty"`
	Entities     Entities `json:"entities"`
	Contact      Contact  `json:"contact"`
	TicketID     string   `json:"ticketId,omitempty"`

	// FailedAttempts 统计当前阶段连续的前置条件失败次数，
	// 阶段变更或一次成功处理后归零。
	FailedAttempts int `json:"failedAttempts,omitempty"`

	// Transcript 与 TurnLogs 只允许追加。
	Transcript []TranscriptEntry `json:"transcript"`
	TurnLogs   []TurnLog         `json:"turnLogs"`

	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`

	// Dirty 表示内存副本尚未写回存储，仅进程内有意义，不参与序列化。
	Dirty bool `json:"-"`
}

// Clone 返回会话的深拷贝，切片与指针字段均不与原值共享。
// 存储层对外返回拷贝，防止调用方越过锁直接改动缓存内的会话。
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.ConsentGiven != nil {
		v := *s.ConsentGiven
		cp.ConsentGiven = &v
	}
	cp.Transcript = make([]TranscriptEntry, len(s.Transcript))
	copy(cp.Transcript, s.Transcript)
	cp.TurnLogs = make([]TurnLog, len(s.TurnLogs))
	for i := range s.TurnLogs {
		cp.TurnLogs[i] = *s.TurnLogs[i].Clone()
	}
	return &cp
}
