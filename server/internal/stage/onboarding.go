package stage

import (
	"context"
	"strings"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/contract"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/model"
)

// localeForToken 把语言令牌映射到语言区域。
func localeForToken(token string) string {
	switch token {
	case contract.TokenLangESES:
		return LocaleESES
	case contract.TokenLangEN:
		return LocaleEN
	default:
		return LocaleESAR
	}
}

// languageHandler ASK_LANGUAGE：记录界面语言，进入问名字。
// 契约保证事件只能是三个语言令牌之一。
type languageHandler struct {
	deps Deps
}

func (h *languageHandler) Stage() model.Stage { return model.StageAskLanguage }

func (h *languageHandler) Handle(_ context.Context, _ *model.Session, ev model.UserEvent) (Result, error) {
	locale := localeForToken(ev.Token)
	return Result{
		Updates:          FieldUpdates{Locale: locale},
		ReplyText:        h.deps.Catalog.Reply(locale, msgAskName),
		NextStage:        model.StageAskName,
		ProposedOptions:  h.deps.defaultOptions(model.StageAskName, locale),
		TransitionReason: model.ReasonLanguageSelected,
	}, nil
}

// nameHandler ASK_NAME：接受自由文本名字或"不想说"按钮。
// 名字前置条件：2..40 个字符且不能全是数字；连续失败触顶则升级人工。
type nameHandler struct {
	deps Deps
}

func (h *nameHandler) Stage() model.Stage { return model.StageAskName }

func (h *nameHandler) Handle(_ context.Context, s *model.Session, ev model.UserEvent) (Result, error) {
	locale := s.Locale

	if ev.Type == model.EventOption {
		return Result{
			ReplyText:        h.deps.Catalog.Reply(locale, msgAskConsentAnon),
			NextStage:        model.StageAskConsent,
			ProposedOptions:  h.deps.defaultOptions(model.StageAskConsent, locale),
			TransitionReason: model.ReasonNameSkipped,
		}, nil
	}

	name := strings.TrimSpace(ev.RawText)
	if !ValidName(name) {
		if s.FailedAttempts+1 >= h.deps.MaxAttempts {
			return h.deps.escalate(locale), nil
		}
		return Result{
			Updates:          FieldUpdates{IncrementAttempts: true},
			ReplyText:        h.deps.Catalog.Reply(locale, msgAskNameRetry),
			NextStage:        model.StageAskName,
			ProposedOptions:  h.deps.defaultOptions(model.StageAskName, locale),
			TransitionReason: model.ReasonPreconditionFailed,
		}, nil
	}

	return Result{
		Updates:          FieldUpdates{UserName: name},
		ReplyText:        h.deps.Catalog.Reply(locale, msgAskConsent, name),
		NextStage:        model.StageAskConsent,
		ProposedOptions:  h.deps.defaultOptions(model.StageAskConsent, locale),
		TransitionReason: model.ReasonNameCaptured,
	}, nil
}

// consentHandler ASK_CONSENT：记录数据留存同意（仅一次），两种回答都继续。
type consentHandler struct {
	deps Deps
}

func (h *consentHandler) Stage() model.Stage { return model.StageAskConsent }

func (h *consentHandler) Handle(_ context.Context, s *model.Session, ev model.UserEvent) (Result, error) {
	locale := s.Locale
	given := ev.Token == contract.TokenConsentYes

	return Result{
		Updates:          FieldUpdates{ConsentGiven: &given},
		ReplyText:        h.deps.Catalog.Reply(locale, msgAskNeed),
		NextStage:        model.StageAskNeed,
		ProposedOptions:  h.deps.defaultOptions(model.StageAskNeed, locale),
		TransitionReason: model.ReasonConsentCaptured,
	}, nil
}

// needHandler ASK_NEED：分流到问题陈述。帮助和任务走同一条诊断管道，
// 只是开场提示不同。
type needHandler struct {
	deps Deps
}

func (h *needHandler) Stage() model.Stage { return model.StageAskNeed }

func (h *needHandler) Handle(_ context.Context, s *model.Session, ev model.UserEvent) (Result, error) {
	locale := s.Locale

	msg := msgDescribeProblem
	if ev.Token == contract.TokenTask {
		msg = msgDescribeTask
	}

	return Result{
		ReplyText:        h.deps.Catalog.Reply(locale, msg),
		NextStage:        model.StageDescribeProblem,
		ProposedOptions:  h.deps.defaultOptions(model.StageDescribeProblem, locale),
		TransitionReason: model.ReasonNeedSelected,
	}, nil
}
