package stage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/model"
)

// TicketIssuer 签发工单号并负责工单在外部系统的留存。
type TicketIssuer interface {
	Issue(ctx context.Context, s *model.Session) (string, error)
}

// LocalTicketIssuer 进程内签发工单号：日期 + 随机短后缀，不依赖外部系统。
type LocalTicketIssuer struct {
	now func() time.Time
}

// NewLocalTicketIssuer 创建本地工单签发器。
func NewLocalTicketIssuer() *LocalTicketIssuer {
	return &LocalTicketIssuer{now: time.Now}
}

// Issue 生成形如 STI-20260215-A1B2C3 的工单号。
func (i *LocalTicketIssuer) Issue(_ context.Context, _ *model.Session) (string, error) {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("STI-%s-%s", i.now().Format("20060102"), suffix), nil
}

// WhatsAppLinker 生成交接到人工 WhatsApp 通道的跳转链接。
type WhatsAppLinker interface {
	Link(ticketID string, s *model.Session) string
}

// WaMeLinker 用 wa.me 短链加预填消息实现跳转。
type WaMeLinker struct {
	phone string
}

// NewWaMeLinker 创建 wa.me 链接生成器，phone 是店家的完整国际号码（不带加号）。
func NewWaMeLinker(phone string) *WaMeLinker {
	return &WaMeLinker{phone: phone}
}

// Link 生成带工单号和用户名的预填消息链接。
func (l *WaMeLinker) Link(ticketID string, s *model.Session) string {
	msg := "Hola! Tengo el ticket " + ticketID
	if s != nil && s.UserName != "" {
		msg += " (" + s.UserName + ")"
	}
	return "https://wa.me/" + l.phone + "?text=" + url.QueryEscape(msg)
}
