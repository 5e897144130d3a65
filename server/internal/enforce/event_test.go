package enforce

import (
	"testing"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/contract"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/model"
)

func entryFor(t *testing.T, stage model.Stage) *contract.Entry {
	t.Helper()
	e, ok := contract.Default().Entry(stage)
	if !ok {
		t.Fatalf("no contract entry for stage %s", stage)
	}
	return e
}

// TestEventAcceptsAllowedToken 验证许可集内的令牌被接受。
func TestEventAcceptsAllowedToken(t *testing.T) {
	e := entryFor(t, model.StageAskLanguage)

	ev := model.UserEvent{Type: model.EventOption, Token: contract.TokenLangESAR}
	if rej := Event(e, ev); rej != nil {
		t.Fatalf("expected accept, got rejection %q", rej.Reason)
	}
}

// TestEventRejectsForeignToken 验证非本阶段令牌被拒绝。
// 场景：解决期令牌被过期 UI 回显到开场阶段，必须以 INVALID_TOKEN_FOR_STAGE 拒绝。
func TestEventRejectsForeignToken(t *testing.T) {
	e := entryFor(t, model.StageAskLanguage)

	ev := model.UserEvent{Type: model.EventOption, Token: contract.TokenSolved}
	rej := Event(e, ev)
	if rej == nil {
		t.Fatalf("expected rejection for foreign token")
	}
	if rej.Code != model.ViolationInvalidToken {
		t.Fatalf("expected code %s, got %s", model.ViolationInvalidToken, rej.Code)
	}
}

// TestEventRejectionIsIdempotent 验证重复提交同一非法事件得到相同拒绝。
func TestEventRejectionIsIdempotent(t *testing.T) {
	e := entryFor(t, model.StageAskLanguage)
	ev := model.UserEvent{Type: model.EventOption, Token: "BTN_RESOLVED"}

	first := Event(e, ev)
	second := Event(e, ev)
	if first == nil || second == nil {
		t.Fatalf("expected both submissions rejected")
	}
	if first.Code != second.Code || first.Reason != second.Reason {
		t.Fatalf("expected identical rejections, got %+v and %+v", first, second)
	}
}

// TestEventRejectsTextWhereForbidden 验证不收自由文本的阶段拒绝文本事件。
func TestEventRejectsTextWhereForbidden(t *testing.T) {
	e := entryFor(t, model.StageAskConsent)

	ev := model.UserEvent{Type: model.EventText, RawText: "si, dale"}
	rej := Event(e, ev)
	if rej == nil {
		t.Fatalf("expected rejection for free text in ASK_CONSENT")
	}
	if rej.Code != model.ViolationTextNotAllowed {
		t.Fatalf("expected code %s, got %s", model.ViolationTextNotAllowed, rej.Code)
	}
}

// TestEventAcceptsTextWhereAllowed 验证收自由文本的阶段接受文本事件。
func TestEventAcceptsTextWhereAllowed(t *testing.T) {
	e := entryFor(t, model.StageDescribeProblem)

	ev := model.UserEvent{Type: model.EventText, RawText: "no tengo internet en casa"}
	if rej := Event(e, ev); rej != nil {
		t.Fatalf("expected accept, got rejection %q", rej.Reason)
	}
}

// TestEventRejectsBlankText 验证空白文本被拒绝。
func TestEventRejectsBlankText(t *testing.T) {
	e := entryFor(t, model.StageAskName)

	ev := model.UserEvent{Type: model.EventText, RawText: "   "}
	rej := Event(e, ev)
	if rej == nil || rej.Code != model.ViolationEmptyEvent {
		t.Fatalf("expected EMPTY_EVENT rejection, got %+v", rej)
	}
}

// TestEventRejectsUnknownType 验证未知事件类型被拒绝。
func TestEventRejectsUnknownType(t *testing.T) {
	e := entryFor(t, model.StageAssist)

	rej := Event(e, model.UserEvent{Type: "voice"})
	if rej == nil || rej.Code != model.ViolationEmptyEvent {
		t.Fatalf("expected EMPTY_EVENT rejection for unknown type, got %+v", rej)
	}
}
