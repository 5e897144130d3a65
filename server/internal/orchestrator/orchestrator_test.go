package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/contract"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/intel"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/model"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/session"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/stage"
)

// captureSink 收集编排器发布的轮次日志。
type captureSink struct {
	mu   sync.Mutex
	logs []model.TurnLog
}

func (c *captureSink) Record(tl model.TurnLog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, tl)
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.logs)
}

type testHarness struct {
	orch    *Orchestrator
	backend *session.InMemoryStore
	wb      *session.WriteBack
	mock    *intel.MockClient
	sink    *captureSink
}

// newHarness 组装编排器测试环境：内存后端 + 写回层 + 内置契约表 +
// 全套处理器（Mock 智能协作方）+ 固定时钟。
func newHarness(t *testing.T) *testHarness {
	t.Helper()

	backend := session.NewInMemoryStore(30 * time.Minute)
	wb := session.NewWriteBack(backend, time.Second)
	table := contract.Default()
	mock := intel.NewMockClient()
	cat := stage.NewCatalog(stage.LocaleESAR)

	reg := stage.DefaultRegistry(stage.Deps{
		Contract:        table,
		Catalog:         cat,
		Intel:           mock,
		IntelTimeout:    50 * time.Millisecond,
		Tickets:         stage.NewLocalTicketIssuer(),
		Links:           stage.NewWaMeLinker("5493415550000"),
		MaxAttempts:     3,
		MaxContextTurns: 6,
		Logger:          zerolog.Nop(),
	})

	sink := &captureSink{}
	clock := time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)
	orch := New(wb, table, reg, cat, sink, Config{
		Now: func() time.Time { return clock },
	})

	return &testHarness{orch: orch, backend: backend, wb: wb, mock: mock, sink: sink}
}

func textTurn(t *testing.T, h *testHarness, sessionID, text string) *model.TurnResponse {
	t.Helper()
	resp, err := h.orch.ProcessTurn(context.Background(), model.TurnRequest{SessionID: sessionID, Text: text})
	if err != nil {
		t.Fatalf("text turn %q failed: %v", text, err)
	}
	return resp
}

func buttonTurn(t *testing.T, h *testHarness, sessionID, token string) *model.TurnResponse {
	t.Helper()
	resp, err := h.orch.ProcessTurn(context.Background(), model.TurnRequest{SessionID: sessionID, ButtonID: token})
	if err != nil {
		t.Fatalf("button turn %q failed: %v", token, err)
	}
	return resp
}

// 场景：开场即问候。新会话立即可见，首条日志记录 NEW → ASK_LANGUAGE。
func TestStartSessionCreatesGreetingTurn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp, err := h.orch.StartSession(ctx)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	if !resp.OK || resp.SessionID == "" {
		t.Fatalf("bad response: %+v", resp)
	}
	if resp.Stage != model.StageAskLanguage {
		t.Errorf("stage = %s, want %s", resp.Stage, model.StageAskLanguage)
	}
	if len(resp.Options) != 3 {
		t.Errorf("greeting options = %d, want 3 language buttons", len(resp.Options))
	}

	// 新会话必须立即落到后端，不等清扫。
	s, err := h.backend.Get(ctx, resp.SessionID)
	if err != nil {
		t.Fatalf("session not visible in backend: %v", err)
	}
	if len(s.TurnLogs) != 1 {
		t.Fatalf("turn logs = %d, want 1", len(s.TurnLogs))
	}
	tl := s.TurnLogs[0]
	if tl.StageBefore != model.StageNew || tl.StageAfter != model.StageAskLanguage {
		t.Errorf("greeting log stages = %s → %s", tl.StageBefore, tl.StageAfter)
	}
	if tl.TransitionReason != model.ReasonSessionStarted {
		t.Errorf("reason = %s, want %s", tl.TransitionReason, model.ReasonSessionStarted)
	}
	if h.sink.count() != 1 {
		t.Errorf("audit records = %d, want 1", h.sink.count())
	}
}

// 场景：完整的建单流程走通。验证回放一致性（上一轮的 stageAfter
// 等于下一轮的 stageBefore）、每次调用恰好一条日志、实体与联系人落账。
func TestFullFlowThroughTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	start, err := h.orch.StartSession(ctx)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	id := start.SessionID

	steps := []struct {
		text  string
		token string
		want  model.Stage
	}{
		{token: contract.TokenLangESAR, want: model.StageAskName},
		{text: "Marta", want: model.StageAskConsent},
		{token: contract.TokenConsentYes, want: model.StageAskNeed},
		{token: contract.TokenHelp, want: model.StageDescribeProblem},
		{text: "no me anda internet", want: model.StageAskDevice},
		{text: "modem motorola", want: model.StageAssist},
		{token: contract.TokenTestsFail, want: model.StageOfferTicket},
		{token: contract.TokenYes, want: model.StageAskContactEmail},
		{text: "marta@example.com", want: model.StageAskContactPhone},
		{text: "341 555 1234", want: model.StageClosed},
	}

	for i, step := range steps {
		var resp *model.TurnResponse
		if step.token != "" {
			resp = buttonTurn(t, h, id, step.token)
		} else {
			resp = textTurn(t, h, id, step.text)
		}
		if resp.Stage != step.want {
			t.Fatalf("step %d: stage = %s, want %s", i, resp.Stage, step.want)
		}
		if !resp.OK {
			t.Fatalf("step %d: response not ok", i)
		}
	}

	s, err := h.wb.Get(ctx, id)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}

	// 每次编排调用恰好一条日志：问候 + 10 轮。
	if len(s.TurnLogs) != len(steps)+1 {
		t.Fatalf("turn logs = %d, want %d", len(s.TurnLogs), len(steps)+1)
	}

	// 回放一致性与轮次 ID 单调性。
	for i := 1; i < len(s.TurnLogs); i++ {
		if s.TurnLogs[i].StageBefore != s.TurnLogs[i-1].StageAfter {
			t.Errorf("log %d: stageBefore %s != previous stageAfter %s",
				i, s.TurnLogs[i].StageBefore, s.TurnLogs[i-1].StageAfter)
		}
		if s.TurnLogs[i].TurnID <= s.TurnLogs[i-1].TurnID {
			t.Errorf("turn ids not increasing: %s then %s", s.TurnLogs[i-1].TurnID, s.TurnLogs[i].TurnID)
		}
	}

	if s.UserName != "Marta" {
		t.Errorf("userName = %q", s.UserName)
	}
	if s.ConsentGiven == nil || !*s.ConsentGiven {
		t.Errorf("consent not recorded")
	}
	if s.Entities.Problem == "" || s.Entities.Device == "" {
		t.Errorf("entities not captured: %+v", s.Entities)
	}
	if s.Contact.Email != "marta@example.com" || s.Contact.Phone != "3415551234" {
		t.Errorf("contact = %+v", s.Contact)
	}
	if s.TicketID == "" {
		t.Errorf("ticket not issued")
	}

	// TICKET_CREATED 是关键迁移，后端必须已经是 CLOSED，不等清扫。
	persisted, err := h.backend.Get(ctx, id)
	if err != nil {
		t.Fatalf("backend get: %v", err)
	}
	if persisted.Stage != model.StageClosed {
		t.Errorf("backend stage = %s, want %s", persisted.Stage, model.StageClosed)
	}

	if h.sink.count() != len(steps)+1 {
		t.Errorf("audit records = %d, want %d", h.sink.count(), len(steps)+1)
	}
}

// 场景：阶段不收文本时发文本，事件被拒绝。阶段不动、重发规范选项、
// 留下 rejected 日志；重复发送行为完全一致。
func TestRejectedEventKeepsStage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	start, err := h.orch.StartSession(ctx)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	id := start.SessionID

	for attempt := 0; attempt < 2; attempt++ {
		resp := textTurn(t, h, id, "hola quiero ayuda")
		if resp.Stage != model.StageAskLanguage {
			t.Fatalf("attempt %d: stage = %s, want unchanged", attempt, resp.Stage)
		}
		if len(resp.Options) != 3 {
			t.Errorf("attempt %d: options = %d, want canonical 3", attempt, len(resp.Options))
		}
	}

	s, _ := h.wb.Get(ctx, id)
	if len(s.TurnLogs) != 3 {
		t.Fatalf("turn logs = %d, want greeting + 2 rejections", len(s.TurnLogs))
	}
	for _, tl := range s.TurnLogs[1:] {
		if !tl.Rejected {
			t.Errorf("turn %s should be rejected", tl.TurnID)
		}
		if tl.TransitionReason != model.ReasonEventRejected {
			t.Errorf("reason = %s, want %s", tl.TransitionReason, model.ReasonEventRejected)
		}
		if len(tl.Violations) != 1 || tl.Violations[0].Code != model.ViolationTextNotAllowed {
			t.Errorf("violations = %+v", tl.Violations)
		}
		if tl.StageBefore != tl.StageAfter {
			t.Errorf("rejected turn must not move the stage")
		}
	}
}

// 场景：跨阶段令牌被拒绝（CLOSED 会话只认重开按钮）。
func TestClosedSessionRejectsForeignTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s := seedSession(t, h, model.StageClosed)

	resp := buttonTurn(t, h, s.SessionID, contract.TokenHelp)
	if resp.Stage != model.StageClosed {
		t.Errorf("stage = %s, want %s", resp.Stage, model.StageClosed)
	}

	got, _ := h.wb.Get(ctx, s.SessionID)
	last := got.TurnLogs[len(got.TurnLogs)-1]
	if !last.Rejected || last.Violations[0].Code != model.ViolationInvalidToken {
		t.Errorf("want INVALID_TOKEN_FOR_STAGE rejection, got %+v", last)
	}

	reopen := buttonTurn(t, h, s.SessionID, contract.TokenReopen)
	if reopen.Stage != model.StageAskNeed {
		t.Errorf("reopen stage = %s, want %s", reopen.Stage, model.StageAskNeed)
	}
}

// panicHandler 用于验证处理器崩溃的降级路径。
type panicHandler struct{}

func (panicHandler) Stage() model.Stage { return model.StageAskNeed }
func (panicHandler) Handle(context.Context, *model.Session, model.UserEvent) (stage.Result, error) {
	panic("boom")
}

// 场景：处理器 panic。本轮降级为安全空转：阶段不动、致命违规入日志、
// 用户拿到重试提示，会话数据毫发无损。
func TestHandlerPanicDegradesToSafeTurn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reg := stage.NewRegistry()
	if err := reg.Register(panicHandler{}); err != nil {
		t.Fatalf("register panic handler: %v", err)
	}
	h.orch.registry = reg

	s := seedSession(t, h, model.StageAskNeed)

	resp := buttonTurn(t, h, s.SessionID, contract.TokenHelp)
	if resp.Stage != model.StageAskNeed {
		t.Errorf("stage = %s, want unchanged %s", resp.Stage, model.StageAskNeed)
	}
	if !resp.OK {
		t.Errorf("degraded turn must still be a valid response")
	}

	got, err := h.wb.Get(ctx, s.SessionID)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	last := got.TurnLogs[len(got.TurnLogs)-1]
	if last.TransitionReason != model.ReasonHandlerFailed {
		t.Errorf("reason = %s, want %s", last.TransitionReason, model.ReasonHandlerFailed)
	}
	if len(last.Violations) != 1 || last.Violations[0].Code != model.ViolationHandlerPanic {
		t.Fatalf("violations = %+v", last.Violations)
	}
	if last.Violations[0].Severity != model.SeverityFatal {
		t.Errorf("severity = %s, want fatal", last.Violations[0].Severity)
	}
	if !strings.Contains(last.Violations[0].Detail, "boom") {
		t.Errorf("detail should carry the panic value, got %q", last.Violations[0].Detail)
	}
}

// 场景：text 和 buttonId 同时出现或都缺席是调用方错误，不进管道、不留日志。
func TestBadEventFailsBeforePipeline(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.ProcessTurn(context.Background(), model.TurnRequest{
		SessionID: "does-not-matter",
		Text:      "hola",
		ButtonID:  contract.TokenHelp,
	})
	if !errors.Is(err, ErrBadEvent) {
		t.Fatalf("err = %v, want ErrBadEvent", err)
	}

	_, err = h.orch.ProcessTurn(context.Background(), model.TurnRequest{SessionID: "x"})
	if !errors.Is(err, ErrBadEvent) {
		t.Fatalf("err = %v, want ErrBadEvent", err)
	}
}

// 场景：普通迁移走延迟写，关键迁移立即落库。
func TestDeferredAndCriticalPersistence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	start, err := h.orch.StartSession(ctx)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	id := start.SessionID

	// LANGUAGE_SELECTED 不在关键集内：后端还停在开场状态。
	buttonTurn(t, h, id, contract.TokenLangESAR)
	persisted, _ := h.backend.Get(ctx, id)
	if persisted.Stage != model.StageAskLanguage {
		t.Errorf("backend stage = %s, deferred write should not have landed", persisted.Stage)
	}
	if h.wb.DirtyCount() != 1 {
		t.Errorf("dirty count = %d, want 1", h.wb.DirtyCount())
	}

	// 清扫后落账。
	if err := h.wb.FlushDirty(ctx); err != nil {
		t.Fatalf("FlushDirty failed: %v", err)
	}
	persisted, _ = h.backend.Get(ctx, id)
	if persisted.Stage != model.StageAskName {
		t.Errorf("backend stage after flush = %s, want %s", persisted.Stage, model.StageAskName)
	}

	// CONSENT_CAPTURED 在关键集内：立即可见。
	textTurn(t, h, id, "Marta")
	buttonTurn(t, h, id, contract.TokenConsentYes)
	persisted, _ = h.backend.Get(ctx, id)
	if persisted.Stage != model.StageAskNeed {
		t.Errorf("backend stage = %s, critical write should have landed", persisted.Stage)
	}
	if persisted.ConsentGiven == nil || !*persisted.ConsentGiven {
		t.Errorf("consent must be durable after the critical turn")
	}
}

// 场景：名字连续不合格三次，第三次升级人工，计数随阶段变更归零。
func TestPreconditionEscalation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s := seedSession(t, h, model.StageAskName)

	for i := 0; i < 2; i++ {
		resp := textTurn(t, h, s.SessionID, "123")
		if resp.Stage != model.StageAskName {
			t.Fatalf("attempt %d: stage = %s, want retry in place", i+1, resp.Stage)
		}
	}

	got, _ := h.wb.Get(ctx, s.SessionID)
	if got.FailedAttempts != 2 {
		t.Fatalf("failedAttempts = %d, want 2", got.FailedAttempts)
	}

	resp := textTurn(t, h, s.SessionID, "456")
	if resp.Stage != model.StageHumanHandoff {
		t.Fatalf("stage = %s, want escalation to %s", resp.Stage, model.StageHumanHandoff)
	}

	got, _ = h.wb.Get(ctx, s.SessionID)
	if got.FailedAttempts != 0 {
		t.Errorf("failedAttempts = %d, want reset on stage change", got.FailedAttempts)
	}
	last := got.TurnLogs[len(got.TurnLogs)-1]
	if last.TransitionReason != model.ReasonEscalatedMaxAttempts {
		t.Errorf("reason = %s, want %s", last.TransitionReason, model.ReasonEscalatedMaxAttempts)
	}
}

// 场景：协助阶段协作方想改写已知设备实体，写入被拦截并记 warning 违规。
func TestEntityOverwriteBlocked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s := seedSession(t, h, model.StageAssist)
	s.Entities.Device = "notebook hp"
	if err := h.wb.PutCritical(ctx, s); err != nil {
		t.Fatalf("seed update: %v", err)
	}

	h.mock.Result = &model.IntelResult{
		Intent:     "describe_problem",
		Confidence: 0.9,
		Entities:   map[string]string{"device": "impresora epson"},
	}

	resp := textTurn(t, h, s.SessionID, "ahora tampoco imprime")
	if resp.Stage != model.StageAssist {
		t.Fatalf("stage = %s", resp.Stage)
	}

	got, _ := h.wb.Get(ctx, s.SessionID)
	if got.Entities.Device != "notebook hp" {
		t.Errorf("device overwritten to %q", got.Entities.Device)
	}
	last := got.TurnLogs[len(got.TurnLogs)-1]
	found := false
	for _, v := range last.Violations {
		if v.Code == model.ViolationEntityOverwrite && v.Severity == model.SeverityWarning {
			found = true
		}
	}
	if !found {
		t.Errorf("want ENTITY_OVERWRITE_BLOCKED warning, got %+v", last.Violations)
	}
}

// 场景：不存在的会话返回 ErrNotFound，传输层据此回 404。
func TestUnknownSessionNotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.ProcessTurn(context.Background(), model.TurnRequest{
		SessionID: "missing",
		Text:      "hola",
	})
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("err = %v, want session.ErrNotFound", err)
	}

	_, err = h.orch.TurnLogs(context.Background(), "missing")
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("TurnLogs err = %v, want session.ErrNotFound", err)
	}
}

// 场景：审计读接口返回全量日志；删除后会话不可见。
func TestAuditReadAndDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	start, err := h.orch.StartSession(ctx)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	buttonTurn(t, h, start.SessionID, contract.TokenLangEN)

	logs, err := h.orch.TurnLogs(ctx, start.SessionID)
	if err != nil {
		t.Fatalf("TurnLogs failed: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("logs = %d, want 2", len(logs))
	}

	if err := h.orch.DeleteSession(ctx, start.SessionID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, err := h.orch.TurnLogs(ctx, start.SessionID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("err after delete = %v, want ErrNotFound", err)
	}
}

// seedSession 直接向存储播种一个停在指定阶段的会话。
func seedSession(t *testing.T, h *testHarness, st model.Stage) *model.Session {
	t.Helper()
	now := time.Date(2026, 2, 15, 9, 0, 0, 0, time.UTC)
	s := &model.Session{
		SessionID:      "22222222-3333-4444-5555-666666666666",
		Stage:          st,
		Locale:         stage.LocaleESAR,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := h.wb.PutCritical(context.Background(), s); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return s
}
