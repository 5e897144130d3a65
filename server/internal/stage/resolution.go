package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/contract"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/model"
)

// resolvedHandler ASK_RESOLVED：确认问题是否解决。
type resolvedHandler struct {
	deps Deps
}

func (h *resolvedHandler) Stage() model.Stage { return model.StageAskResolved }

func (h *resolvedHandler) Handle(_ context.Context, s *model.Session, ev model.UserEvent) (Result, error) {
	locale := s.Locale

	if ev.Token == contract.TokenSolved {
		return Result{
			ReplyText:        h.deps.Catalog.Reply(locale, msgClosedSolved),
			NextStage:        model.StageClosed,
			ProposedOptions:  h.deps.defaultOptions(model.StageClosed, locale),
			TransitionReason: model.ReasonResolvedConfirmed,
		}, nil
	}

	return Result{
		ReplyText:        h.deps.Catalog.Reply(locale, msgOfferTicket),
		NextStage:        model.StageOfferTicket,
		ProposedOptions:  h.deps.defaultOptions(model.StageOfferTicket, locale),
		TransitionReason: model.ReasonNotResolved,
	}, nil
}

// ticketOfferHandler OFFER_TICKET：用户决定是否开工单。
type ticketOfferHandler struct {
	deps Deps
}

func (h *ticketOfferHandler) Stage() model.Stage { return model.StageOfferTicket }

func (h *ticketOfferHandler) Handle(_ context.Context, s *model.Session, ev model.UserEvent) (Result, error) {
	locale := s.Locale

	if ev.Token == contract.TokenYes {
		return Result{
			ReplyText:        h.deps.Catalog.Reply(locale, msgAskEmail),
			NextStage:        model.StageAskContactEmail,
			TransitionReason: model.ReasonTicketAccepted,
		}, nil
	}

	return Result{
		ReplyText:        h.deps.Catalog.Reply(locale, msgClosedNoTicket),
		NextStage:        model.StageClosed,
		ProposedOptions:  h.deps.defaultOptions(model.StageClosed, locale),
		TransitionReason: model.ReasonTicketDeclined,
	}, nil
}

// emailHandler ASK_CONTACT_EMAIL：采集联系邮箱，格式不对则留在本阶段重试。
type emailHandler struct {
	deps Deps
}

func (h *emailHandler) Stage() model.Stage { return model.StageAskContactEmail }

func (h *emailHandler) Handle(_ context.Context, s *model.Session, ev model.UserEvent) (Result, error) {
	locale := s.Locale

	email := strings.TrimSpace(ev.RawText)
	if !ValidEmail(email) {
		if s.FailedAttempts+1 >= h.deps.MaxAttempts {
			return h.deps.escalate(locale), nil
		}
		return Result{
			Updates:          FieldUpdates{IncrementAttempts: true},
			ReplyText:        h.deps.Catalog.Reply(locale, msgAskEmailRetry),
			NextStage:        model.StageAskContactEmail,
			TransitionReason: model.ReasonPreconditionFailed,
		}, nil
	}

	return Result{
		Updates:          FieldUpdates{Email: email},
		ReplyText:        h.deps.Catalog.Reply(locale, msgAskPhone),
		NextStage:        model.StageAskContactPhone,
		TransitionReason: model.ReasonEmailCaptured,
	}, nil
}

// phoneHandler ASK_CONTACT_PHONE：采集联系电话后签发工单并关闭会话。
// 工单签发或链接生成失败按处理器失败处理，由编排器安全兜底。
type phoneHandler struct {
	deps Deps
}

func (h *phoneHandler) Stage() model.Stage { return model.StageAskContactPhone }

func (h *phoneHandler) Handle(ctx context.Context, s *model.Session, ev model.UserEvent) (Result, error) {
	locale := s.Locale

	if !ValidPhone(ev.RawText) {
		if s.FailedAttempts+1 >= h.deps.MaxAttempts {
			return h.deps.escalate(locale), nil
		}
		return Result{
			Updates:          FieldUpdates{IncrementAttempts: true},
			ReplyText:        h.deps.Catalog.Reply(locale, msgAskPhoneRetry),
			NextStage:        model.StageAskContactPhone,
			TransitionReason: model.ReasonPreconditionFailed,
		}, nil
	}

	ticketID, err := h.deps.Tickets.Issue(ctx, s)
	if err != nil {
		return Result{}, fmt.Errorf("issue ticket: %w", err)
	}
	link := h.deps.Links.Link(ticketID, s)

	return Result{
		Updates: FieldUpdates{
			Phone:    NormalizePhone(ev.RawText),
			TicketID: ticketID,
		},
		ReplyText:        h.deps.Catalog.Reply(locale, msgTicketCreated, ticketID, link),
		NextStage:        model.StageClosed,
		ProposedOptions:  h.deps.defaultOptions(model.StageClosed, locale),
		TransitionReason: model.ReasonTicketCreated,
	}, nil
}
