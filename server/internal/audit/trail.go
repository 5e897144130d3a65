package audit

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/log"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/model"
)

// replyHeadRunes CSV 里回复文本列保留的最大字符数。
const replyHeadRunes = 80

var trailHeader = []string{
	"timestamp", "turnId", "sessionId", "stageBefore", "stageAfter",
	"transitionReason", "rejected", "violations", "replyHead",
}

// CSVTrail 把每轮的关键字段追加到流程审计 CSV（flow-audit.csv）。
// 尽力而为：写失败只记日志，绝不影响回合处理。
type CSVTrail struct {
	mu     sync.Mutex
	f      *os.File
	w      *csv.Writer
	logger zerolog.Logger
}

// NewCSVTrail 以追加模式打开审计文件，空文件先写表头。
func NewCSVTrail(path string) (*CSVTrail, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit trail: %w", err)
	}

	t := &CSVTrail{
		f:      f,
		w:      csv.NewWriter(f),
		logger: log.WithComponent("audit"),
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat audit trail: %w", err)
	}
	if info.Size() == 0 {
		if err := t.w.Write(trailHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("write audit header: %w", err)
		}
		t.w.Flush()
	}

	return t, nil
}

// Write 追加一行回合记录并立即刷盘。
func (t *CSVTrail) Write(tl model.TurnLog) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record := []string{
		tl.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		tl.TurnID,
		tl.SessionID,
		string(tl.StageBefore),
		string(tl.StageAfter),
		tl.TransitionReason,
		strconv.FormatBool(tl.Rejected),
		violationCodes(tl.Violations),
		replyHead(tl.BotReply),
	}
	if err := t.w.Write(record); err != nil {
		t.logger.Warn().Err(err).Str("turn_id", tl.TurnID).Msg("audit trail write failed")
		return
	}
	t.w.Flush()
	if err := t.w.Error(); err != nil {
		t.logger.Warn().Err(err).Str("turn_id", tl.TurnID).Msg("audit trail flush failed")
	}
}

// Close 关闭审计文件。
func (t *CSVTrail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.w.Flush()
	if err := t.f.Close(); err != nil {
		return fmt.Errorf("close audit trail: %w", err)
	}
	return nil
}

func violationCodes(vs []model.Violation) string {
	if len(vs) == 0 {
		return ""
	}
	codes := make([]string, 0, len(vs))
	for _, v := range vs {
		codes = append(codes, v.Code)
	}
	return strings.Join(codes, "|")
}

func replyHead(reply string) string {
	head := strings.ReplaceAll(reply, "\n", " ")
	runes := []rune(head)
	if len(runes) > replyHeadRunes {
		return string(runes[:replyHeadRunes])
	}
	return head
}

// Recorder 把回合日志同时送给实时订阅者和 CSV 审计文件。
type Recorder struct {
	hub   *Hub
	trail *CSVTrail
}

// NewRecorder 组装审计出口。trail 为 nil 表示未启用文件审计。
func NewRecorder(hub *Hub, trail *CSVTrail) *Recorder {
	return &Recorder{hub: hub, trail: trail}
}

// Record 分发一条回合日志。
func (r *Recorder) Record(tl model.TurnLog) {
	r.hub.Publish(tl)
	if r.trail != nil {
		r.trail.Write(tl)
	}
}
