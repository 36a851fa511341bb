package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/beaconworks/agentrelay/internal/platform"
)

// buildThreadContext fetches prior messages of the thread the message belongs
// to and renders them as "<sender>: <text>" lines. Messages outside a thread
// get no context. Fetch failures degrade to empty context; partial context
// loss is acceptable, pipeline failure is not.
func (e *Engine) buildThreadContext(ctx context.Context, adapter platform.Adapter, msg *platform.IncomingMessage) []string {
	if msg.ThreadID == "" {
		return nil
	}

	history, err := adapter.ThreadHistory(ctx, platform.ThreadHistoryRequest{
		ChannelID:        msg.ChannelID,
		WorkspaceID:      msg.WorkspaceID,
		ThreadID:         msg.ThreadID,
		ExcludeMessageID: msg.MessageID,
	})
	if err != nil {
		slog.Warn("thread history fetch failed, continuing without context",
			"platform", adapter.Name(), "channel", msg.ChannelID, "thread", msg.ThreadID, "error", err)
		return nil
	}

	lines := make([]string, 0, len(history))
	for _, entry := range history {
		text := entry.Text
		sender := entry.SenderName
		if entry.FromAssistant {
			text = platform.StripAssistantFooter(text)
			sender = "Assistant"
		}
		if sender == "" {
			sender = "User"
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", sender, text))
	}
	return lines
}

// assembleMessage prefixes the current text with thread context when present.
func assembleMessage(contextLines []string, text string) string {
	if len(contextLines) == 0 {
		return text
	}
	var sb strings.Builder
	sb.WriteString("Earlier messages in this thread:\n")
	for _, line := range contextLines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	sb.WriteString("\nCurrent message:\n")
	sb.WriteString(text)
	return sb.String()
}

// BuildFooter renders the attribution footer for a reply: the responding
// agent plus the mention-fallback notice, if any.
func BuildFooter(agentName, fallbackNotice string) string {
	if fallbackNotice != "" {
		return fmt.Sprintf("Via %s (%s)", agentName, fallbackNotice)
	}
	return "Via " + agentName
}
