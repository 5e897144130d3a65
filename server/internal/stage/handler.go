package stage

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/contract"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/intel"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/metrics"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/model"
)

// FieldUpdates 是处理器请求的会话字段更新。
// 处理器只声明"想写什么"，真正落笔的永远是编排器，
// 这样字段级守卫（实体不可覆盖、同意仅一次）有唯一的执行点。
// 零值字段表示"本轮不更新"。
type FieldUpdates struct {
	Locale       string
	UserName     string
	ConsentGiven *bool
	Device       string
	Problem      string
	Urgency      string
	Email        string
	Phone        string
	TicketID     string

	// IncrementAttempts 表示本轮前置条件校验失败，
	// 编排器应累加失败计数；否则计数在阶段变更时清零。
	IncrementAttempts bool
}

// Result 是处理器的完整输出。回复文本、候选选项、去向阶段
// 全部以值的形式交还，处理器自身不触碰会话、阶段或日志。
type Result struct {
	Updates         FieldUpdates
	ReplyText       string
	NextStage       model.Stage
	ProposedOptions []model.Option

	// TransitionReason 记录在本轮的 TurnLog 中，取值见 model 包的 Reason 常量。
	TransitionReason string

	// Intelligence 是本轮咨询智能协作方得到的结构化结果，未咨询或失败时为 nil。
	Intelligence *model.IntelResult
}

// Handler 处理一个阶段上已通过契约执法的用户事件。
// 传入的会话是编排器制作的独立副本，处理器可以读但写入不会生效。
type Handler interface {
	Stage() model.Stage
	Handle(ctx context.Context, s *model.Session, ev model.UserEvent) (Result, error)
}

// Deps 是所有处理器共享的依赖集合。
type Deps struct {
	Contract *contract.Table
	Catalog  *Catalog

	// Intel 为 nil 时委托阶段直接走确定性回退。
	Intel        intel.Client
	IntelTimeout time.Duration

	Tickets TicketIssuer
	Links   WhatsAppLinker

	// MaxAttempts 是前置条件连续失败的升级阈值。
	MaxAttempts int

	// MaxContextTurns 限制喂给智能协作方的转录条数。
	MaxContextTurns int

	Logger zerolog.Logger
}

// defaultOptions 按契约表取目标阶段的默认令牌并本地化成选项。
// 处理器一律经由这里拿选项，令牌集只在契约表里维护一份。
func (d Deps) defaultOptions(st model.Stage, locale string) []model.Option {
	entry, ok := d.Contract.Entry(st)
	if !ok || len(entry.DefaultTokens) == 0 {
		return nil
	}
	return d.Catalog.Options(locale, entry.DefaultTokens)
}

// analyze 在配置的时限内咨询智能协作方。任何失败（超时、网络、协议）
// 都只记日志和指标并返回 nil，调用方继续走确定性路径。
func (d Deps) analyze(ctx context.Context, s *model.Session, text string) *model.IntelResult {
	if d.Intel == nil {
		return nil
	}

	actx, cancel := context.WithTimeout(ctx, d.IntelTimeout)
	defer cancel()

	res, err := d.Intel.Analyze(actx, intel.Request{
		SessionText:    text,
		SessionContext: intel.BuildContext(s, d.MaxContextTurns),
	})
	if err != nil {
		outcome := metrics.IntelError
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = metrics.IntelTimeout
		}
		metrics.IncIntelRequest(outcome)
		d.Logger.Warn().
			Err(err).
			Str("session_id", s.SessionID).
			Str("stage", string(s.Stage)).
			Msg("intel analyze failed, falling back to deterministic reply")
		return nil
	}

	metrics.IncIntelRequest(metrics.IntelSuccess)
	return res
}

// escalate 构造升级到人工通道的结果，用于前置条件连续失败触顶。
func (d Deps) escalate(locale string) Result {
	return Result{
		ReplyText:        d.Catalog.Reply(locale, msgHandoff),
		NextStage:        model.StageHumanHandoff,
		ProposedOptions:  d.defaultOptions(model.StageHumanHandoff, locale),
		TransitionReason: model.ReasonEscalatedMaxAttempts,
	}
}

// handoff 构造用户主动请求人工的结果。
func (d Deps) handoff(locale string) Result {
	return Result{
		ReplyText:        d.Catalog.Reply(locale, msgHandoff),
		NextStage:        model.StageHumanHandoff,
		ProposedOptions:  d.defaultOptions(model.StageHumanHandoff, locale),
		TransitionReason: model.ReasonHandedOff,
	}
}

// Registry 阶段 → 处理器。
type Registry struct {
	handlers map[model.Stage]Handler
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[model.Stage]Handler)}
}

// Register 注册处理器，同一阶段重复注册报错。
func (r *Registry) Register(h Handler) error {
	st := h.Stage()
	if _, exists := r.handlers[st]; exists {
		return errors.New("handler already registered for stage " + string(st))
	}
	r.handlers[st] = h
	return nil
}

// Get 获取阶段的处理器。
func (r *Registry) Get(st model.Stage) (Handler, bool) {
	h, ok := r.handlers[st]
	return h, ok
}

// DefaultRegistry 组装全部内置处理器。
// NEW 阶段没有处理器：它不接收用户事件，开场转换由编排器完成。
func DefaultRegistry(deps Deps) *Registry {
	r := NewRegistry()
	for _, h := range []Handler{
		&languageHandler{deps: deps},
		&nameHandler{deps: deps},
		&consentHandler{deps: deps},
		&needHandler{deps: deps},
		&problemHandler{deps: deps},
		&deviceHandler{deps: deps},
		&assistHandler{deps: deps},
		&resolvedHandler{deps: deps},
		&ticketOfferHandler{deps: deps},
		&emailHandler{deps: deps},
		&phoneHandler{deps: deps},
		&reopenHandler{deps: deps, stage: model.StageHumanHandoff},
		&reopenHandler{deps: deps, stage: model.StageClosed},
	} {
		if err := r.Register(h); err != nil {
			panic("stage: " + err.Error())
		}
	}
	return r
}
