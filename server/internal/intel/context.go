package intel

import (
	"fmt"
	"strings"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/model"
)

// BuildContext 把会话压成协作方可读的文本上下文。
// 只取最近 maxTurns 条对话记录，避免上下文随会话无限膨胀。
func BuildContext(s *model.Session, maxTurns int) string {
	var sb strings.Builder

	sb.WriteString("[Session]\n")
	sb.WriteString(fmt.Sprintf("Stage: %s\n", s.Stage))
	sb.WriteString(fmt.Sprintf("Locale: %s\n", s.Locale))
	if s.UserName != "" {
		sb.WriteString(fmt.Sprintf("User: %s\n", s.UserName))
	}

	if s.Entities.Device != "" || s.Entities.Problem != "" || s.Entities.Urgency != "" {
		sb.WriteString("\n[Known Facts]\n")
		if s.Entities.Problem != "" {
			sb.WriteString(fmt.Sprintf("Problem: %s\n", s.Entities.Problem))
		}
		if s.Entities.Device != "" {
			sb.WriteString(fmt.Sprintf("Device: %s\n", s.Entities.Device))
		}
		if s.Entities.Urgency != "" {
			sb.WriteString(fmt.Sprintf("Urgency: %s\n", s.Entities.Urgency))
		}
	}

	if len(s.Transcript) > 0 {
		sb.WriteString("\n[Recent Turns]\n")
		start := 0
		if maxTurns > 0 && len(s.Transcript) > maxTurns {
			start = len(s.Transcript) - maxTurns
		}
		for _, entry := range s.Transcript[start:] {
			sb.WriteString(fmt.Sprintf("%s: %s\n", entry.Role, entry.Text))
		}
	}

	return sb.String()
}
