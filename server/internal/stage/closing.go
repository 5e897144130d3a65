package stage

import (
	"context"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/model"
)

// reopenHandler 服务 HUMAN_HANDOFF 和 CLOSED 两个终态阶段。
// 契约只放行 BTN_REOPEN，重开回到需求分流，已采集的实体保留。
type reopenHandler struct {
	deps  Deps
	stage model.Stage
}

func (h *reopenHandler) Stage() model.Stage { return h.stage }

func (h *reopenHandler) Handle(_ context.Context, s *model.Session, _ model.UserEvent) (Result, error) {
	locale := s.Locale

	return Result{
		ReplyText:        h.deps.Catalog.Reply(locale, msgAskNeed),
		NextStage:        model.StageAskNeed,
		ProposedOptions:  h.deps.defaultOptions(model.StageAskNeed, locale),
		TransitionReason: model.ReasonSessionReopened,
	}, nil
}
