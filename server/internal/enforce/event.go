package enforce

import (
	"fmt"
	"strings"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/contract"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/model"
)

// Rejection 描述一次被拒绝的入站事件。
// 拒绝是无破坏的：不迁移阶段、不跑处理器，只会多一条轮次日志。
type Rejection struct {
	Code   string
	Reason string
}

// Violation 把拒绝转成轮次日志里的违规记录。
func (r *Rejection) Violation() model.Violation {
	return model.Violation{Code: r.Code, Detail: r.Reason, Severity: model.SeverityWarning}
}

// Event 按阶段契约校验入站事件，接受返回 nil。
// 这里是纵深防御的最后一道：即使上游 UI 或智能层回显了过期令牌，
// 不在当前许可集内的选项也必须在此被拒。纯函数，重复提交同一非法事件结果相同。
func Event(entry *contract.Entry, ev model.UserEvent) *Rejection {
	switch ev.Type {
	case model.EventText:
		if !entry.AllowsFreeText {
			return &Rejection{
				Code:   model.ViolationTextNotAllowed,
				Reason: fmt.Sprintf("stage %s does not accept free text", entry.Stage),
			}
		}
		if strings.TrimSpace(ev.RawText) == "" {
			return &Rejection{Code: model.ViolationEmptyEvent, Reason: "empty text event"}
		}
	case model.EventOption:
		if ev.Token == "" {
			return &Rejection{Code: model.ViolationEmptyEvent, Reason: "option event without token"}
		}
		if !entry.Allows(ev.Token) {
			return &Rejection{
				Code:   model.ViolationInvalidToken,
				Reason: fmt.Sprintf("token %s is not allowed in stage %s", ev.Token, entry.Stage),
			}
		}
	default:
		return &Rejection{
			Code:   model.ViolationEmptyEvent,
			Reason: fmt.Sprintf("unknown event type %q", ev.Type),
		}
	}
	return nil
}
