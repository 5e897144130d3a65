package contract

import (
	"fmt"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/model"
)

// Phase 是阶段所属的对话时期。确定性阶段的令牌不得跨时期复用，
// 这样过期 UI 重放的旧按钮一定会被当前阶段的执法器拒绝。
type Phase string

const (
	PhaseOnboarding Phase = "onboarding"
	PhaseTriage     Phase = "triage"
	PhaseDiagnosis  Phase = "diagnosis"
	PhaseResolution Phase = "resolution"
	PhaseClosing    Phase = "closing"
	// PhaseAny 只用于令牌注册，标记跨时期可用的令牌（如 BTN_AGENT）。
	PhaseAny Phase = "any"
)

// 全部选项令牌。令牌是跨前后端的稳定标识，改名等同于协议变更。
const (
	TokenLangESAR      = "BTN_LANG_ES_AR"
	TokenLangESES      = "BTN_LANG_ES_ES"
	TokenLangEN        = "BTN_LANG_EN"
	TokenNoName        = "BTN_NO_NAME"
	TokenConsentYes    = "BTN_CONSENT_YES"
	TokenConsentNo     = "BTN_CONSENT_NO"
	TokenHelp          = "BTN_HELP"
	TokenTask          = "BTN_TASK"
	TokenAgent         = "BTN_AGENT"
	TokenDeviceUnknown = "BTN_DEVICE_UNKNOWN"
	TokenTestsDone     = "BTN_TESTS_DONE"
	TokenTestsFail     = "BTN_TESTS_FAIL"
	TokenSolved        = "BTN_SOLVED"
	TokenNotSolved     = "BTN_NOT_SOLVED"
	TokenYes           = "BTN_YES"
	TokenNo            = "BTN_NO"
	TokenReopen        = "BTN_REOPEN"
)

// Entry 是一个阶段的契约条目，构造完成后只读。
// 编排器、执法器、处理器共享同一份注入的条目，任何地方都不得就地重建。
type Entry struct {
	Stage model.Stage
	Phase Phase
	// IsDeterministic 为 true 的阶段禁止咨询智能协作方。
	IsDeterministic bool
	AllowsFreeText  bool
	AllowsOptions   bool
	// MaxOptions 是返回给用户的选项数上限。
	MaxOptions int
	// AllowedTokens 有序，顺序即规范展示顺序。
	AllowedTokens []string
	// DefaultTokens 是兜底选项集，必须是 AllowedTokens 的子集。
	DefaultTokens []string

	allowed map[string]struct{}
}

// Allows 报告令牌是否在本阶段的许可集内。
func (e *Entry) Allows(token string) bool {
	_, ok := e.allowed[token]
	return ok
}

// ViewModel 由契约条目直接导出前端需要的输入形态描述。
func (e *Entry) ViewModel() model.ViewModel {
	return model.ViewModel{
		StageIsDeterministic: e.IsDeterministic,
		AllowsText:           e.AllowsFreeText,
		AllowsOptions:        e.AllowsOptions,
		MaxOptions:           e.MaxOptions,
	}
}

// Table 是完整的阶段契约表：每个已知阶段一个条目，外加令牌时期注册表。
// 运行期不可变，可被所有 worker 只读共享；换表属于部署动作。
type Table struct {
	version string
	order   []model.Stage
	entries map[model.Stage]*Entry
	tokens  map[string]Phase
}

// New 用给定条目构造契约表并立即校验，校验失败返回首个问题。
func New(version string, entries []*Entry, tokens map[string]Phase) (*Table, error) {
	t := &Table{
		version: version,
		entries: make(map[model.Stage]*Entry, len(entries)),
		tokens:  tokens,
	}
	for _, e := range entries {
		if _, dup := t.entries[e.Stage]; dup {
			return nil, fmt.Errorf("stage table: duplicate entry for stage %q", e.Stage)
		}
		e.allowed = make(map[string]struct{}, len(e.AllowedTokens))
		for _, tok := range e.AllowedTokens {
			e.allowed[tok] = struct{}{}
		}
		t.entries[e.Stage] = e
		t.order = append(t.order, e.Stage)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Default 返回内置契约表。内置表必须始终通过校验，失败说明代码被改坏了。
func Default() *Table {
	t, err := New(defaultVersion, defaultEntries(), defaultTokenPhases())
	if err != nil {
		panic(fmt.Sprintf("builtin stage table invalid: %v", err))
	}
	return t
}

// Version 返回表版本，写进启动日志便于核对线上生效的是哪份表。
func (t *Table) Version() string { return t.version }

// Entry 返回阶段对应的契约条目。
func (t *Table) Entry(stage model.Stage) (*Entry, bool) {
	e, ok := t.entries[stage]
	return e, ok
}

// Stages 按表内顺序返回全部阶段。
func (t *Table) Stages() []model.Stage {
	out := make([]model.Stage, len(t.order))
	copy(out, t.order)
	return out
}

// TokenPhase 返回令牌注册的时期。
func (t *Table) TokenPhase(token string) (Phase, bool) {
	p, ok := t.tokens[token]
	return p, ok
}

var knownStages = []model.Stage{
	model.StageNew,
	model.StageAskLanguage,
	model.StageAskName,
	model.StageAskConsent,
	model.StageAskNeed,
	model.StageDescribeProblem,
	model.StageAskDevice,
	model.StageAssist,
	model.StageAskResolved,
	model.StageOfferTicket,
	model.StageAskContactEmail,
	model.StageAskContactPhone,
	model.StageHumanHandoff,
	model.StageClosed,
}

var knownPhases = map[Phase]struct{}{
	PhaseOnboarding: {},
	PhaseTriage:     {},
	PhaseDiagnosis:  {},
	PhaseResolution: {},
	PhaseClosing:    {},
}

// validate 做整表一致性检查：
//   - 每个已知阶段恰好一个条目，没有未知阶段；
//   - 选项开关与令牌集、上限、兜底集互相一致；
//   - 所有令牌都已注册时期；
//   - 确定性阶段只许使用本时期或跨时期令牌（时期互斥不变量）。
func (t *Table) validate() error {
	if t.version == "" {
		return fmt.Errorf("stage table: empty version")
	}
	known := make(map[model.Stage]struct{}, len(knownStages))
	for _, s := range knownStages {
		known[s] = struct{}{}
		if _, ok := t.entries[s]; !ok {
			return fmt.Errorf("stage table: missing entry for stage %q", s)
		}
	}
	for tok, p := range t.tokens {
		if _, ok := knownPhases[p]; !ok && p != PhaseAny {
			return fmt.Errorf("stage table: token %q registered with unknown phase %q", tok, p)
		}
	}
	for _, e := range t.entries {
		if _, ok := known[e.Stage]; !ok {
			return fmt.Errorf("stage table: unknown stage %q", e.Stage)
		}
		if _, ok := knownPhases[e.Phase]; !ok {
			return fmt.Errorf("stage %q: unknown phase %q", e.Stage, e.Phase)
		}
		if e.AllowsOptions {
			if len(e.AllowedTokens) == 0 {
				return fmt.Errorf("stage %q: allows options but has no allowed tokens", e.Stage)
			}
			if e.MaxOptions < 1 {
				return fmt.Errorf("stage %q: allows options but maxOptions = %d", e.Stage, e.MaxOptions)
			}
			if len(e.DefaultTokens) == 0 {
				return fmt.Errorf("stage %q: allows options but has no default tokens", e.Stage)
			}
			if len(e.DefaultTokens) > e.MaxOptions {
				return fmt.Errorf("stage %q: %d default tokens exceed maxOptions %d", e.Stage, len(e.DefaultTokens), e.MaxOptions)
			}
		} else {
			if len(e.AllowedTokens) != 0 || len(e.DefaultTokens) != 0 || e.MaxOptions != 0 {
				return fmt.Errorf("stage %q: forbids options but declares tokens or maxOptions", e.Stage)
			}
		}
		for _, tok := range e.DefaultTokens {
			if !e.Allows(tok) {
				return fmt.Errorf("stage %q: default token %q not in allowed set", e.Stage, tok)
			}
		}
		if e.Stage != model.StageNew && !e.AllowsFreeText && !e.AllowsOptions {
			return fmt.Errorf("stage %q: accepts neither text nor options", e.Stage)
		}
		for _, tok := range e.AllowedTokens {
			p, ok := t.tokens[tok]
			if !ok {
				return fmt.Errorf("stage %q: token %q not registered", e.Stage, tok)
			}
			if e.IsDeterministic && p != PhaseAny && p != e.Phase {
				return fmt.Errorf("stage %q (phase %s): deterministic stage may not use token %q of phase %s", e.Stage, e.Phase, tok, p)
			}
		}
	}
	return nil
}

const defaultVersion = "v1"

// defaultTokenPhases 初始化令牌时期注册表。
func defaultTokenPhases() map[string]Phase {
	return map[string]Phase{
		TokenLangESAR:      PhaseOnboarding,
		TokenLangESES:      PhaseOnboarding,
		TokenLangEN:        PhaseOnboarding,
		TokenNoName:        PhaseOnboarding,
		TokenConsentYes:    PhaseOnboarding,
		TokenConsentNo:     PhaseOnboarding,
		TokenHelp:          PhaseTriage,
		TokenTask:          PhaseTriage,
		TokenAgent:         PhaseAny,
		TokenDeviceUnknown: PhaseDiagnosis,
		TokenTestsDone:     PhaseDiagnosis,
		TokenTestsFail:     PhaseDiagnosis,
		TokenSolved:        PhaseResolution,
		TokenNotSolved:     PhaseResolution,
		TokenYes:           PhaseResolution,
		TokenNo:            PhaseResolution,
		TokenReopen:        PhaseClosing,
	}
}

// defaultEntries 初始化内置阶段条目。
func defaultEntries() []*Entry {
	return []*Entry{
		{
			Stage:           model.StageNew,
			Phase:           PhaseOnboarding,
			IsDeterministic: true,
		},
		{
			Stage:           model.StageAskLanguage,
			Phase:           PhaseOnboarding,
			IsDeterministic: true,
			AllowsOptions:   true,
			MaxOptions:      3,
			AllowedTokens:   []string{TokenLangESAR, TokenLangESES, TokenLangEN},
			DefaultTokens:   []string{TokenLangESAR, TokenLangESES, TokenLangEN},
		},
		{
			Stage:           model.StageAskName,
			Phase:           PhaseOnboarding,
			IsDeterministic: true,
			AllowsFreeText:  true,
			AllowsOptions:   true,
			MaxOptions:      1,
			AllowedTokens:   []string{TokenNoName},
			DefaultTokens:   []string{TokenNoName},
		},
		{
			Stage:           model.StageAskConsent,
			Phase:           PhaseOnboarding,
			IsDeterministic: true,
			AllowsOptions:   true,
			MaxOptions:      2,
			AllowedTokens:   []string{TokenConsentYes, TokenConsentNo},
			DefaultTokens:   []string{TokenConsentYes, TokenConsentNo},
		},
		{
			Stage:           model.StageAskNeed,
			Phase:           PhaseTriage,
			IsDeterministic: true,
			AllowsOptions:   true,
			MaxOptions:      2,
			AllowedTokens:   []string{TokenHelp, TokenTask},
			DefaultTokens:   []string{TokenHelp, TokenTask},
		},
		{
			Stage:          model.StageDescribeProblem,
			Phase:          PhaseDiagnosis,
			AllowsFreeText: true,
			AllowsOptions:  true,
			MaxOptions:     1,
			AllowedTokens:  []string{TokenAgent},
			DefaultTokens:  []string{TokenAgent},
		},
		{
			Stage:          model.StageAskDevice,
			Phase:          PhaseDiagnosis,
			AllowsFreeText: true,
			AllowsOptions:  true,
			MaxOptions:     1,
			AllowedTokens:  []string{TokenDeviceUnknown},
			DefaultTokens:  []string{TokenDeviceUnknown},
		},
		{
			Stage:          model.StageAssist,
			Phase:          PhaseDiagnosis,
			AllowsFreeText: true,
			AllowsOptions:  true,
			MaxOptions:     4,
			AllowedTokens:  []string{TokenTestsDone, TokenTestsFail, TokenSolved, TokenAgent},
			DefaultTokens:  []string{TokenTestsDone, TokenTestsFail, TokenSolved, TokenAgent},
		},
		{
			Stage:           model.StageAskResolved,
			Phase:           PhaseResolution,
			IsDeterministic: true,
			AllowsOptions:   true,
			MaxOptions:      2,
			AllowedTokens:   []string{TokenSolved, TokenNotSolved},
			DefaultTokens:   []string{TokenSolved, TokenNotSolved},
		},
		{
			Stage:           model.StageOfferTicket,
			Phase:           PhaseResolution,
			IsDeterministic: true,
			AllowsOptions:   true,
			MaxOptions:      2,
			AllowedTokens:   []string{TokenYes, TokenNo},
			DefaultTokens:   []string{TokenYes, TokenNo},
		},
		{
			Stage:           model.StageAskContactEmail,
			Phase:           PhaseResolution,
			IsDeterministic: true,
			AllowsFreeText:  true,
		},
		{
			Stage:           model.StageAskContactPhone,
			Phase:           PhaseResolution,
			IsDeterministic: true,
			AllowsFreeText:  true,
		},
		{
			Stage:           model.StageHumanHandoff,
			Phase:           PhaseClosing,
			IsDeterministic: true,
			AllowsOptions:   true,
			MaxOptions:      1,
			AllowedTokens:   []string{TokenReopen},
			DefaultTokens:   []string{TokenReopen},
		},
		{
			Stage:           model.StageClosed,
			Phase:           PhaseClosing,
			IsDeterministic: true,
			AllowsOptions:   true,
			MaxOptions:      1,
			AllowedTokens:   []string{TokenReopen},
			DefaultTokens:   []string{TokenReopen},
		},
	}
}
