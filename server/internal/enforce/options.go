package enforce

import (
	"fmt"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/contract"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/model"
)

// Options 把处理器提出的选项整形成对阶段契约合法的最终选项集。
// 处理器（尤其是转述智能层建议的那些）的输出一律按不可信对待：
//   - 丢弃许可集之外的令牌与重复令牌，逐个记违规；
//   - 截断到 maxOptions，先丢非法再截断，避免合法选项被挤掉；
//   - 全部被丢而阶段要求有选项时，换上兜底集并记 critical 违规。
//
// 永不报错：违规只进轮次日志，返回值始终契约合法。
func Options(entry *contract.Entry, proposed, defaults []model.Option) ([]model.Option, []model.Violation) {
	var violations []model.Violation

	final := make([]model.Option, 0, len(proposed))
	seen := make(map[string]struct{}, len(proposed))
	for _, opt := range proposed {
		if !entry.Allows(opt.Token) {
			violations = append(violations, model.Violation{
				Code:     model.ViolationOptionDropped,
				Detail:   fmt.Sprintf("token %s is not allowed in stage %s", opt.Token, entry.Stage),
				Severity: model.SeverityWarning,
			})
			continue
		}
		if _, dup := seen[opt.Token]; dup {
			violations = append(violations, model.Violation{
				Code:     model.ViolationOptionDropped,
				Detail:   fmt.Sprintf("duplicate token %s", opt.Token),
				Severity: model.SeverityWarning,
			})
			continue
		}
		seen[opt.Token] = struct{}{}
		final = append(final, opt)
	}

	if len(final) > entry.MaxOptions {
		violations = append(violations, model.Violation{
			Code:     model.ViolationOptionsTruncated,
			Detail:   fmt.Sprintf("%d options proposed, stage %s allows %d", len(final), entry.Stage, entry.MaxOptions),
			Severity: model.SeverityWarning,
		})
		final = final[:entry.MaxOptions]
	}

	// 期望有选项的阶段绝不返回空集。处理器一个都没提时静默补全兜底集，
	// 提了但全被丢掉则属于被纠正的契约违规，升为 critical。
	if len(final) == 0 && entry.AllowsOptions {
		if len(proposed) > 0 {
			violations = append(violations, model.Violation{
				Code:     model.ViolationEmptySubstituted,
				Detail:   fmt.Sprintf("all proposed options dropped, substituting defaults for stage %s", entry.Stage),
				Severity: model.SeverityCritical,
			})
		}
		final = append(final, defaults...)
	}

	return final, violations
}
