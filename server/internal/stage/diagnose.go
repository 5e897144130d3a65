package stage

import (
	"context"
	"strings"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/contract"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/model"
)

// deviceUnknownValue 用户明确表示不知道设备型号时的占位实体值。
const deviceUnknownValue = "unknown"

// entityUpdates 把智能协作方抽取的实体折叠进字段更新。
// 是否允许覆盖已有实体由编排器的字段守卫裁决，这里只负责转述。
func entityUpdates(u *FieldUpdates, ir *model.IntelResult) {
	if ir == nil {
		return
	}
	if v := strings.TrimSpace(ir.Entities["device"]); v != "" {
		u.Device = v
	}
	if v := strings.TrimSpace(ir.Entities["urgency"]); v != "" {
		u.Urgency = v
	}
}

// assistReply 进入或停留在协助阶段的回复：优先用协作方的建议，
// 否则用确定性兜底文案。
func assistReply(deps Deps, locale string, ir *model.IntelResult, fallback string) string {
	if ir != nil && strings.TrimSpace(ir.SuggestedReply) != "" {
		return ir.SuggestedReply
	}
	return deps.Catalog.Reply(locale, fallback)
}

// problemHandler DESCRIBE_PROBLEM：记录问题陈述，咨询协作方抽取实体。
// 设备已知则直接进入协助，否则先问设备。
type problemHandler struct {
	deps Deps
}

func (h *problemHandler) Stage() model.Stage { return model.StageDescribeProblem }

func (h *problemHandler) Handle(ctx context.Context, s *model.Session, ev model.UserEvent) (Result, error) {
	locale := s.Locale

	if ev.Type == model.EventOption {
		return h.deps.handoff(locale), nil
	}

	problem := strings.TrimSpace(ev.RawText)
	res := Result{
		Updates:          FieldUpdates{Problem: problem},
		TransitionReason: model.ReasonProblemCaptured,
	}

	ir := h.deps.analyze(ctx, s, problem)
	res.Intelligence = ir
	entityUpdates(&res.Updates, ir)

	if s.Entities.Device != "" || res.Updates.Device != "" {
		res.NextStage = model.StageAssist
		res.ReplyText = assistReply(h.deps, locale, ir, msgAssistIntro)
		res.ProposedOptions = h.deps.defaultOptions(model.StageAssist, locale)
		return res, nil
	}

	res.NextStage = model.StageAskDevice
	res.ReplyText = h.deps.Catalog.Reply(locale, msgAskDevice)
	res.ProposedOptions = h.deps.defaultOptions(model.StageAskDevice, locale)
	return res, nil
}

// deviceHandler ASK_DEVICE：捕获设备实体后进入协助。
// 优先用协作方抽取的规范值，协作方不可用时原文入库。
type deviceHandler struct {
	deps Deps
}

func (h *deviceHandler) Stage() model.Stage { return model.StageAskDevice }

func (h *deviceHandler) Handle(ctx context.Context, s *model.Session, ev model.UserEvent) (Result, error) {
	locale := s.Locale

	res := Result{
		NextStage:        model.StageAssist,
		ProposedOptions:  h.deps.defaultOptions(model.StageAssist, locale),
		TransitionReason: model.ReasonDeviceCaptured,
	}

	if ev.Type == model.EventOption {
		res.Updates.Device = deviceUnknownValue
		res.ReplyText = h.deps.Catalog.Reply(locale, msgAssistIntro)
		return res, nil
	}

	raw := strings.TrimSpace(ev.RawText)
	ir := h.deps.analyze(ctx, s, raw)
	res.Intelligence = ir
	entityUpdates(&res.Updates, ir)
	if res.Updates.Device == "" {
		res.Updates.Device = raw
	}

	res.ReplyText = assistReply(h.deps, locale, ir, msgAssistIntro)
	return res, nil
}

// assistHandler ASSIST:自由文本停留在本阶段继续协助，
// 四个按钮分别走测试完成、测试失败、已解决和人工交接。
type assistHandler struct {
	deps Deps
}

func (h *assistHandler) Stage() model.Stage { return model.StageAssist }

func (h *assistHandler) Handle(ctx context.Context, s *model.Session, ev model.UserEvent) (Result, error) {
	locale := s.Locale

	if ev.Type == model.EventOption {
		switch ev.Token {
		case contract.TokenTestsDone:
			return Result{
				ReplyText:        h.deps.Catalog.Reply(locale, msgAskResolved),
				NextStage:        model.StageAskResolved,
				ProposedOptions:  h.deps.defaultOptions(model.StageAskResolved, locale),
				TransitionReason: model.ReasonTestsDone,
			}, nil
		case contract.TokenTestsFail:
			return Result{
				ReplyText:        h.deps.Catalog.Reply(locale, msgOfferTicket),
				NextStage:        model.StageOfferTicket,
				ProposedOptions:  h.deps.defaultOptions(model.StageOfferTicket, locale),
				TransitionReason: model.ReasonTestsFailed,
			}, nil
		case contract.TokenSolved:
			return Result{
				ReplyText:        h.deps.Catalog.Reply(locale, msgClosedSolved),
				NextStage:        model.StageClosed,
				ProposedOptions:  h.deps.defaultOptions(model.StageClosed, locale),
				TransitionReason: model.ReasonResolvedConfirmed,
			}, nil
		default:
			return h.deps.handoff(locale), nil
		}
	}

	res := Result{
		NextStage:        model.StageAssist,
		ProposedOptions:  h.deps.defaultOptions(model.StageAssist, locale),
		TransitionReason: model.ReasonAssistContinued,
	}

	ir := h.deps.analyze(ctx, s, strings.TrimSpace(ev.RawText))
	res.Intelligence = ir
	entityUpdates(&res.Updates, ir)
	res.ReplyText = assistReply(h.deps, locale, ir, msgAssistContinue)
	return res, nil
}
