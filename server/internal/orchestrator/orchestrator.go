package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/audit"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/contract"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/enforce"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/log"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/metrics"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/model"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/session"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/stage"
)

// ErrBadEvent 表示入站事件没有恰好携带文本或按钮之一。
// 这是调用方错误，发生在进入编排管道之前，不产生轮次日志。
var ErrBadEvent = errors.New("exactly one of text or buttonId required")

// 转录中的角色名。
const (
	roleUser = "user"
	roleBot  = "bot"
)

// Config 编排器的行为配置。
type Config struct {
	// CriticalReasons 里的迁移原因触发立即落库而不是标脏等扫。
	// 为空时使用内置默认集。
	CriticalReasons []string
	// Now 用于测试注入固定时钟，为 nil 时用 time.Now。
	Now func() time.Time
}

// defaultCriticalReasons 内置的持久化关键迁移集：同意留痕、结案确认、
// 建单和人工交接丢了代价最高，必须即时可见。
func defaultCriticalReasons() []string {
	return []string{
		model.ReasonConsentCaptured,
		model.ReasonResolvedConfirmed,
		model.ReasonTicketCreated,
		model.ReasonHandedOff,
		model.ReasonEscalatedMaxAttempts,
	}
}

// Orchestrator 负责处理对话轮次的编排逻辑。
//
// 职责与契约：
//   - 每次调用恰好产生一条轮次日志，拒绝与失败也不例外（可回放、可审计）。
//   - 决策集中：执法、字段守卫、阶段迁移、持久化选择都只在这里发生，
//     处理器与传输层不得各自为政。
//   - 输出永远契约合法：任何内部失败都收敛到当前阶段的安全回复与规范选项。
//   - 同一会话的轮次串行：处理全程持有该会话的互斥锁。
type Orchestrator struct {
	store    *session.WriteBack
	contract *contract.Table
	registry *stage.Registry
	catalog  *stage.Catalog
	audit    audit.Sink
	logger   zerolog.Logger
	now      func() time.Time

	critical map[string]struct{}

	// entropyMu 串行化 ULID 生成，单调熵源不是并发安全的。
	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// New 组装编排器。
func New(store *session.WriteBack, table *contract.Table, registry *stage.Registry, catalog *stage.Catalog, sink audit.Sink, cfg Config) *Orchestrator {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	reasons := cfg.CriticalReasons
	if len(reasons) == 0 {
		reasons = defaultCriticalReasons()
	}
	critical := make(map[string]struct{}, len(reasons))
	for _, r := range reasons {
		critical[r] = struct{}{}
	}

	return &Orchestrator{
		store:    store,
		contract: table,
		registry: registry,
		catalog:  catalog,
		audit:    sink,
		logger:   log.WithComponent("orchestrator"),
		now:      now,
		critical: critical,
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// StartSession 创建新会话并执行开场转换 NEW → ASK_LANGUAGE。
// 问候轮作为会话的第一条轮次日志；新会话立即落库，
// 下一个请求可能打到别的进程，延迟扫不满足可见性要求。
func (o *Orchestrator) StartSession(ctx context.Context) (*model.TurnResponse, error) {
	now := o.now()
	s := &model.Session{
		SessionID:      uuid.NewString(),
		Stage:          model.StageNew,
		Locale:         o.catalog.DefaultLocale(),
		CreatedAt:      now,
		LastActivityAt: now,
	}

	entry, ok := o.contract.Entry(model.StageAskLanguage)
	if !ok {
		return nil, fmt.Errorf("stage table missing %s", model.StageAskLanguage)
	}

	greeting := o.catalog.Greeting(s.Locale)
	tl := model.TurnLog{
		TurnID:           o.newTurnID(now),
		Timestamp:        now,
		SessionID:        s.SessionID,
		StageBefore:      model.StageNew,
		BotReply:         greeting,
		StageAfter:       model.StageAskLanguage,
		OptionsShown:     o.canonicalOptions(entry, s.Locale),
		TransitionReason: model.ReasonSessionStarted,
	}

	s.Stage = model.StageAskLanguage
	s.TurnLogs = append(s.TurnLogs, tl)
	s.Transcript = append(s.Transcript, model.TranscriptEntry{Role: roleBot, Text: greeting, TS: now})

	if err := o.store.PutCritical(ctx, s); err != nil {
		return nil, fmt.Errorf("persist new session: %w", err)
	}

	metrics.IncSessionStarted()
	o.audit.Record(tl)
	o.logger.Info().Str("session_id", s.SessionID).Msg("session started")

	return o.respond(s, &tl, entry), nil
}

// ProcessTurn 处理一个用户轮次，管道各步的顺序是行为契约的一部分：
// 加载并锁定 → 规范化 → 阶段执法 → 处理器 → 选项执法 → 字段落账 →
// 迁移阶段 → 记日志 → 持久化 → 响应。
func (o *Orchestrator) ProcessTurn(ctx context.Context, req model.TurnRequest) (*model.TurnResponse, error) {
	start := time.Now()

	ev, err := normalizeEvent(req)
	if err != nil {
		return nil, err
	}

	o.store.Lock(req.SessionID)
	defer o.store.Unlock(req.SessionID)

	s, err := o.store.Get(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	entry, ok := o.contract.Entry(s.Stage)
	if !ok {
		return nil, fmt.Errorf("session %s in unknown stage %q", s.SessionID, s.Stage)
	}

	now := o.now()

	// 第一道闸门：阶段执法。拒绝也是完整的一轮，
	// 照常记日志、照常返回当前阶段的规范选项。
	if rej := enforce.Event(entry, ev); rej != nil {
		return o.finishRejected(ctx, s, entry, ev, rej, now, start), nil
	}

	res, handlerErr := o.callHandler(ctx, s, ev)
	if handlerErr == nil {
		if res.NextStage == "" {
			handlerErr = fmt.Errorf("handler for %s returned empty next stage", s.Stage)
		} else if _, known := o.contract.Entry(res.NextStage); !known {
			handlerErr = fmt.Errorf("handler for %s returned unknown stage %q", s.Stage, res.NextStage)
		}
	}
	if handlerErr != nil {
		return o.finishFailed(ctx, s, entry, ev, handlerErr, now, start), nil
	}

	return o.finishAccepted(ctx, s, ev, res, now, start), nil
}

// TurnLogs 返回会话的全部轮次日志，审计读接口。
func (o *Orchestrator) TurnLogs(ctx context.Context, sessionID string) ([]model.TurnLog, error) {
	s, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return s.TurnLogs, nil
}

// Transcript 返回会话的人读对话记录。
func (o *Orchestrator) Transcript(ctx context.Context, sessionID string) ([]model.TranscriptEntry, error) {
	s, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return s.Transcript, nil
}

// DeleteSession 删除会话（管理端显式删除，用户数据诉求）。
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID string) error {
	o.store.Lock(sessionID)
	defer o.store.Unlock(sessionID)
	return o.store.Delete(ctx, sessionID)
}

// normalizeEvent 把请求体规范化成恰好一个变体的用户事件。
// 纯空白文本不在这里拦：它要走执法器的 EMPTY_EVENT 拒绝路径并留下日志。
func normalizeEvent(req model.TurnRequest) (model.UserEvent, error) {
	hasText := req.Text != ""
	hasButton := req.ButtonID != ""
	if hasText == hasButton {
		return model.UserEvent{}, ErrBadEvent
	}

	if hasText {
		return model.UserEvent{Type: model.EventText, RawText: req.Text}, nil
	}
	return model.UserEvent{Type: model.EventOption, Token: req.ButtonID, Label: req.ButtonLabel}, nil
}

// callHandler 在恢复屏障内调用阶段处理器。传入会话副本，
// 处理器即使违规直接写也改不到权威状态。
func (o *Orchestrator) callHandler(ctx context.Context, s *model.Session, ev model.UserEvent) (res stage.Result, err error) {
	h, ok := o.registry.Get(s.Stage)
	if !ok {
		return stage.Result{}, fmt.Errorf("no handler registered for stage %s", s.Stage)
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Interface("panic", r).
				Str("session_id", s.SessionID).
				Str("stage", string(s.Stage)).
				Msg("stage handler panicked")
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return h.Handle(ctx, s.Clone(), ev)
}

// finishRejected 收尾一个被执法器拒绝的轮次：阶段不动，回复纠正提示，
// 重发当前阶段的规范选项。
func (o *Orchestrator) finishRejected(ctx context.Context, s *model.Session, entry *contract.Entry, ev model.UserEvent, rej *enforce.Rejection, now time.Time, start time.Time) *model.TurnResponse {
	tl := model.TurnLog{
		TurnID:           o.newTurnID(now),
		Timestamp:        now,
		SessionID:        s.SessionID,
		StageBefore:      s.Stage,
		Event:            ev,
		BotReply:         o.catalog.RejectedReply(s.Locale),
		StageAfter:       s.Stage,
		OptionsShown:     o.canonicalOptions(entry, s.Locale),
		Violations:       []model.Violation{rej.Violation()},
		TransitionReason: model.ReasonEventRejected,
		Rejected:         true,
		RejectReason:     rej.Reason,
	}

	o.logger.Warn().
		Str("session_id", s.SessionID).
		Str("stage", string(s.Stage)).
		Str("code", rej.Code).
		Msg("event rejected by stage contract")

	o.commit(ctx, s, &tl, o.userLine(s.Locale, ev), now)
	metrics.ObserveTurn(metrics.OutcomeRejected, time.Since(start))
	return o.respond(s, &tl, entry)
}

// finishFailed 收尾一个处理器失败的轮次：致命违规入日志，阶段不动，
// 用户拿到安全重试回复，会话数据毫发无损。
func (o *Orchestrator) finishFailed(ctx context.Context, s *model.Session, entry *contract.Entry, ev model.UserEvent, handlerErr error, now time.Time, start time.Time) *model.TurnResponse {
	tl := model.TurnLog{
		TurnID:       o.newTurnID(now),
		Timestamp:    now,
		SessionID:    s.SessionID,
		StageBefore:  s.Stage,
		Event:        ev,
		BotReply:     o.catalog.SafeReply(s.Locale),
		StageAfter:   s.Stage,
		OptionsShown: o.canonicalOptions(entry, s.Locale),
		Violations: []model.Violation{{
			Code:     model.ViolationHandlerPanic,
			Detail:   handlerErr.Error(),
			Severity: model.SeverityFatal,
		}},
		TransitionReason: model.ReasonHandlerFailed,
	}

	o.logger.Error().
		Err(handlerErr).
		Str("session_id", s.SessionID).
		Str("stage", string(s.Stage)).
		Msg("stage handler failed, turn degraded to safe reply")

	o.commit(ctx, s, &tl, o.userLine(s.Locale, ev), now)
	metrics.ObserveTurn(metrics.OutcomeFallback, time.Since(start))
	return o.respond(s, &tl, entry)
}

// finishAccepted 收尾一个正常处理的轮次：落字段、迁阶段、执法选项。
func (o *Orchestrator) finishAccepted(ctx context.Context, s *model.Session, ev model.UserEvent, res stage.Result, now time.Time, start time.Time) *model.TurnResponse {
	prev := s.Stage
	violations := applyUpdates(s, res.Updates, res.TransitionReason)

	s.Stage = res.NextStage
	switch {
	case s.Stage != prev:
		s.FailedAttempts = 0
	case res.Updates.IncrementAttempts:
		s.FailedAttempts++
	default:
		s.FailedAttempts = 0
	}

	// NextStage 已由 ProcessTurn 验证在表内。
	nextEntry, _ := o.contract.Entry(s.Stage)

	// 第二道闸门：选项执法，锚点是迁移后阶段的规范选项集。
	finalOpts, optViolations := enforce.Options(nextEntry, res.ProposedOptions, o.canonicalOptions(nextEntry, s.Locale))
	violations = append(violations, optViolations...)

	tl := model.TurnLog{
		TurnID:           o.newTurnID(now),
		Timestamp:        now,
		SessionID:        s.SessionID,
		StageBefore:      prev,
		Event:            ev,
		Intelligence:     res.Intelligence,
		BotReply:         res.ReplyText,
		StageAfter:       s.Stage,
		OptionsShown:     finalOpts,
		Violations:       violations,
		TransitionReason: res.TransitionReason,
	}

	if prev != s.Stage {
		o.logger.Info().
			Str("session_id", s.SessionID).
			Str("from", string(prev)).
			Str("to", string(s.Stage)).
			Str("reason", res.TransitionReason).
			Msg("stage transition")
	}

	o.commit(ctx, s, &tl, o.userLine(s.Locale, ev), now)
	metrics.ObserveTurn(metrics.OutcomeAccepted, time.Since(start))
	return o.respond(s, &tl, nextEntry)
}

// commit 把一轮的结果落到会话并持久化：追加日志与转录、更新活动时间，
// 关键迁移立即落库，其余标脏等下一次扫。
// 关键落库失败只面向运维：会话保持脏，清扫会重试，用户照常拿到响应。
func (o *Orchestrator) commit(ctx context.Context, s *model.Session, tl *model.TurnLog, userLine string, now time.Time) {
	s.LastActivityAt = now
	s.TurnLogs = append(s.TurnLogs, *tl)
	if userLine != "" {
		s.Transcript = append(s.Transcript, model.TranscriptEntry{Role: roleUser, Text: userLine, TS: now})
	}
	s.Transcript = append(s.Transcript, model.TranscriptEntry{Role: roleBot, Text: tl.BotReply, TS: now})

	for _, v := range tl.Violations {
		metrics.IncViolation(v.Code, string(v.Severity))
	}

	if _, critical := o.critical[tl.TransitionReason]; critical {
		if err := o.store.PutCritical(ctx, s); err != nil {
			o.logger.Error().
				Err(err).
				Str("session_id", s.SessionID).
				Str("reason", tl.TransitionReason).
				Msg("critical flush failed, session kept dirty")
		}
	} else {
		o.store.PutDeferred(s)
	}

	o.audit.Record(*tl)
}

// respond 按迁移后阶段的契约条目构造出站响应。
// Debug 负载始终填充，是否透给客户端由 API 层按诊断开关裁决。
func (o *Orchestrator) respond(s *model.Session, tl *model.TurnLog, entry *contract.Entry) *model.TurnResponse {
	return &model.TurnResponse{
		OK:        true,
		SessionID: s.SessionID,
		Stage:     s.Stage,
		Reply:     tl.BotReply,
		Options:   tl.OptionsShown,
		ViewModel: entry.ViewModel(),
		Debug: &model.DebugPayload{
			StageBefore:      tl.StageBefore,
			StageAfter:       tl.StageAfter,
			TransitionReason: tl.TransitionReason,
			Violations:       tl.Violations,
		},
	}
}

// canonicalOptions 取某阶段的规范默认选项（本地化标签）。
func (o *Orchestrator) canonicalOptions(entry *contract.Entry, locale string) []model.Option {
	if len(entry.DefaultTokens) == 0 {
		return nil
	}
	return o.catalog.Options(locale, entry.DefaultTokens)
}

// userLine 生成转录里的用户行：文本原样，按钮取本地化标签。
func (o *Orchestrator) userLine(locale string, ev model.UserEvent) string {
	switch ev.Type {
	case model.EventText:
		return ev.RawText
	case model.EventOption:
		if ev.Label != "" {
			return ev.Label
		}
		return o.catalog.Label(locale, ev.Token)
	default:
		return ""
	}
}

// newTurnID 生成时间有序的轮次 ID。
func (o *Orchestrator) newTurnID(now time.Time) string {
	o.entropyMu.Lock()
	defer o.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), o.entropy).String()
}
