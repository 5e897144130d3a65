package orchestrator

import (
	"fmt"
	"strconv"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/model"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/stage"
)

// applyUpdates 只做"字段落账"，不触发外部调用。
// 约定：处理器经由 FieldUpdates 声明写入意图，这里是唯一落笔的地方。
// 守卫规则：
//   - 空值不写，等值重写静默通过；
//   - 已填字段携带不同值时，只有本轮迁移原因在该字段的捕获原因集内才放行；
//   - ConsentGiven 和 TicketID 是写一次字段，不同值一律拦截；
//   - 被拦截的写入丢弃新值并记一条 warning 违规，轮次照常完成。
func applyUpdates(s *model.Session, u stage.FieldUpdates, reason string) []model.Violation {
	var violations []model.Violation

	blocked := func(field, oldVal, newVal string) {
		violations = append(violations, model.Violation{
			Code:     model.ViolationEntityOverwrite,
			Detail:   fmt.Sprintf("%s: %q would overwrite %q (reason %s)", field, newVal, oldVal, reason),
			Severity: model.SeverityWarning,
		})
	}

	set := func(field string, dst *string, val string, captureReasons ...string) {
		if val == "" || val == *dst {
			return
		}
		if *dst == "" {
			*dst = val
			return
		}
		for _, r := range captureReasons {
			if r == reason {
				*dst = val
				return
			}
		}
		blocked(field, *dst, val)
	}

	set("locale", &s.Locale, u.Locale, model.ReasonLanguageSelected)
	set("userName", &s.UserName, u.UserName, model.ReasonNameCaptured)
	set("entities.problem", &s.Entities.Problem, u.Problem, model.ReasonProblemCaptured)
	set("entities.device", &s.Entities.Device, u.Device, model.ReasonProblemCaptured, model.ReasonDeviceCaptured)
	set("entities.urgency", &s.Entities.Urgency, u.Urgency, model.ReasonProblemCaptured, model.ReasonDeviceCaptured, model.ReasonAssistContinued)
	set("contact.email", &s.Contact.Email, u.Email, model.ReasonEmailCaptured)
	set("contact.phone", &s.Contact.Phone, u.Phone, model.ReasonTicketCreated)

	if u.ConsentGiven != nil {
		if s.ConsentGiven == nil {
			v := *u.ConsentGiven
			s.ConsentGiven = &v
		} else if *s.ConsentGiven != *u.ConsentGiven {
			blocked("consentGiven", strconv.FormatBool(*s.ConsentGiven), strconv.FormatBool(*u.ConsentGiven))
		}
	}

	if u.TicketID != "" && u.TicketID != s.TicketID {
		if s.TicketID == "" {
			s.TicketID = u.TicketID
		} else {
			blocked("ticketId", s.TicketID, u.TicketID)
		}
	}

	return violations
}
