package stage

import (
	"context"
	"testing"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/contract"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/model"
)

// 场景：问题陈述里协作方抽到了设备实体，跳过问设备直接进入协助。
func TestProblemWithDeviceEntityGoesToAssist(t *testing.T) {
	deps, mock, _ := newTestDeps(t)
	mock.Result = &model.IntelResult{
		Intent:         "technical_problem",
		Confidence:     0.9,
		Entities:       map[string]string{"device": "notebook hp pavilion"},
		SuggestedReply: "Probá reiniciar en modo seguro.",
	}
	h := &problemHandler{deps: deps}
	s := newStageSession(model.StageDescribeProblem)

	res, err := h.Handle(context.Background(), s, textEvent("la notebook no prende"))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if res.Updates.Problem != "la notebook no prende" {
		t.Errorf("problem = %q", res.Updates.Problem)
	}
	if res.Updates.Device != "notebook hp pavilion" {
		t.Errorf("device = %q, want extracted entity", res.Updates.Device)
	}
	if res.NextStage != model.StageAssist {
		t.Errorf("next stage = %s, want %s", res.NextStage, model.StageAssist)
	}
	if res.Intelligence == nil {
		t.Fatalf("intelligence result should be recorded")
	}
	if res.ReplyText != "Probá reiniciar en modo seguro." {
		t.Errorf("reply = %q, want suggested reply", res.ReplyText)
	}
	if mock.CallCount != 1 {
		t.Errorf("intel calls = %d, want 1", mock.CallCount)
	}
}

// 场景：协作方没抽到设备，先去问设备。
func TestProblemWithoutDeviceAsksDevice(t *testing.T) {
	deps, mock, _ := newTestDeps(t)
	mock.Result = &model.IntelResult{Intent: "technical_problem", Confidence: 0.7}
	h := &problemHandler{deps: deps}
	s := newStageSession(model.StageDescribeProblem)

	res, err := h.Handle(context.Background(), s, textEvent("no tengo internet"))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if res.NextStage != model.StageAskDevice {
		t.Errorf("next stage = %s, want %s", res.NextStage, model.StageAskDevice)
	}
	if !sameTokens(tokensOf(res.ProposedOptions), []string{contract.TokenDeviceUnknown}) {
		t.Errorf("options = %v, want [%s]", tokensOf(res.ProposedOptions), contract.TokenDeviceUnknown)
	}
	if want := deps.Catalog.Reply(LocaleESAR, msgAskDevice); res.ReplyText != want {
		t.Errorf("reply = %q, want %q", res.ReplyText, want)
	}
}

// 场景：协作方超时，回退到确定性路径，本轮不带智能结果。
func TestProblemIntelTimeoutFallsBack(t *testing.T) {
	deps, mock, _ := newTestDeps(t)
	mock.ShouldTimeout = true
	h := &problemHandler{deps: deps}
	s := newStageSession(model.StageDescribeProblem)

	res, err := h.Handle(context.Background(), s, textEvent("se corta el wifi"))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if res.Intelligence != nil {
		t.Errorf("intelligence should be nil on timeout")
	}
	if res.Updates.Problem != "se corta el wifi" {
		t.Errorf("problem must be captured even without intel, got %q", res.Updates.Problem)
	}
	if res.NextStage != model.StageAskDevice {
		t.Errorf("next stage = %s, want %s", res.NextStage, model.StageAskDevice)
	}
	if res.TransitionReason != model.ReasonProblemCaptured {
		t.Errorf("reason = %s, want %s", res.TransitionReason, model.ReasonProblemCaptured)
	}
}

// 场景：会话里已有设备（重开的会话），新问题陈述直接进入协助。
func TestProblemKeepsKnownDevice(t *testing.T) {
	deps, mock, _ := newTestDeps(t)
	mock.Result = &model.IntelResult{Intent: "technical_problem", Confidence: 0.6}
	h := &problemHandler{deps: deps}
	s := newStageSession(model.StageDescribeProblem)
	s.Entities.Device = "impresora epson l3150"

	res, err := h.Handle(context.Background(), s, textEvent("ahora no imprime en color"))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if res.NextStage != model.StageAssist {
		t.Errorf("next stage = %s, want %s", res.NextStage, model.StageAssist)
	}
}

// 场景：用户在问题陈述阶段直接要人工。
func TestProblemAgentButtonHandsOff(t *testing.T) {
	deps, mock, _ := newTestDeps(t)
	h := &problemHandler{deps: deps}
	s := newStageSession(model.StageDescribeProblem)

	res, err := h.Handle(context.Background(), s, optionEvent(contract.TokenAgent))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if res.NextStage != model.StageHumanHandoff {
		t.Errorf("next stage = %s, want %s", res.NextStage, model.StageHumanHandoff)
	}
	if res.TransitionReason != model.ReasonHandedOff {
		t.Errorf("reason = %s, want %s", res.TransitionReason, model.ReasonHandedOff)
	}
	if mock.CallCount != 0 {
		t.Errorf("agent button should not consult intel, calls = %d", mock.CallCount)
	}
}

// 场景：用户不知道设备型号，占位实体入库并进入协助。
func TestDeviceUnknownButton(t *testing.T) {
	deps, mock, _ := newTestDeps(t)
	h := &deviceHandler{deps: deps}
	s := newStageSession(model.StageAskDevice)

	res, err := h.Handle(context.Background(), s, optionEvent(contract.TokenDeviceUnknown))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if res.Updates.Device != deviceUnknownValue {
		t.Errorf("device = %q, want %q", res.Updates.Device, deviceUnknownValue)
	}
	if res.NextStage != model.StageAssist {
		t.Errorf("next stage = %s, want %s", res.NextStage, model.StageAssist)
	}
	if mock.CallCount != 0 {
		t.Errorf("unknown-device button should not consult intel, calls = %d", mock.CallCount)
	}
}

// 场景：协作方不可用时设备名原文入库。
func TestDeviceRawTextFallback(t *testing.T) {
	deps, mock, _ := newTestDeps(t)
	mock.ShouldFail = true
	h := &deviceHandler{deps: deps}
	s := newStageSession(model.StageAskDevice)

	res, err := h.Handle(context.Background(), s, textEvent("router tp-link archer"))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if res.Updates.Device != "router tp-link archer" {
		t.Errorf("device = %q, want raw text", res.Updates.Device)
	}
	if res.Intelligence != nil {
		t.Errorf("intelligence should be nil on failure")
	}
	if res.TransitionReason != model.ReasonDeviceCaptured {
		t.Errorf("reason = %s, want %s", res.TransitionReason, model.ReasonDeviceCaptured)
	}
}

// 场景：协助阶段自由文本不换阶段，回复用协作方的建议。
func TestAssistFreeTextStays(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	h := &assistHandler{deps: deps}
	s := newStageSession(model.StageAssist)

	res, err := h.Handle(context.Background(), s, textEvent("ya reinicié y sigue igual"))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if res.NextStage != model.StageAssist {
		t.Errorf("next stage = %s, want %s", res.NextStage, model.StageAssist)
	}
	if res.TransitionReason != model.ReasonAssistContinued {
		t.Errorf("reason = %s, want %s", res.TransitionReason, model.ReasonAssistContinued)
	}
	if res.ReplyText != "mock suggestion" {
		t.Errorf("reply = %q, want mock suggestion", res.ReplyText)
	}
	if len(res.ProposedOptions) != 4 {
		t.Errorf("assist should re-offer its 4 options, got %d", len(res.ProposedOptions))
	}
}

// 场景：协助阶段四个按钮各自的确定性去向。
func TestAssistButtons(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	h := &assistHandler{deps: deps}

	cases := []struct {
		token  string
		next   model.Stage
		reason string
	}{
		{contract.TokenTestsDone, model.StageAskResolved, model.ReasonTestsDone},
		{contract.TokenTestsFail, model.StageOfferTicket, model.ReasonTestsFailed},
		{contract.TokenSolved, model.StageClosed, model.ReasonResolvedConfirmed},
		{contract.TokenAgent, model.StageHumanHandoff, model.ReasonHandedOff},
	}
	for _, tc := range cases {
		s := newStageSession(model.StageAssist)
		res, err := h.Handle(context.Background(), s, optionEvent(tc.token))
		if err != nil {
			t.Fatalf("Handle(%s) failed: %v", tc.token, err)
		}
		if res.NextStage != tc.next {
			t.Errorf("next stage for %s = %s, want %s", tc.token, res.NextStage, tc.next)
		}
		if res.TransitionReason != tc.reason {
			t.Errorf("reason for %s = %s, want %s", tc.token, res.TransitionReason, tc.reason)
		}
	}
}
