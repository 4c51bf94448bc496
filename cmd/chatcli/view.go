package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"carelink/pkg/chatclient"
)

// view prints each entry once, and again whenever its status changes.
type view struct {
	out            io.Writer
	engine         *chatclient.Engine
	conversationID string
	printed        map[string]chatclient.Status
	typing         string
	unread         int
}

func entryKey(entry chatclient.Entry) string {
	if entry.Message.ClientTempID != "" {
		return "t:" + entry.Message.ClientTempID
	}
	return "m:" + entry.Message.ID
}

func (v *view) render(ctx context.Context) {
	entries, err := v.engine.Snapshot(ctx, v.conversationID)
	if err != nil {
		return
	}

	for _, entry := range entries {
		key := entryKey(entry)
		if status, ok := v.printed[key]; ok && status == entry.Status {
			continue
		}
		v.printed[key] = entry.Status
		fmt.Fprintln(v.out, formatEntry(entry))
	}

	if unread, err := v.engine.UnreadTotal(ctx); err == nil && unread != v.unread {
		v.unread = unread
		fmt.Fprintf(v.out, "-- %d unread\n", unread)
	}
	v.renderTyping(ctx)
}

func (v *view) renderTyping(ctx context.Context) {
	typing, err := v.engine.Typing(ctx, v.conversationID)
	if err != nil {
		return
	}
	current := strings.Join(typing, ", ")
	if current == v.typing {
		return
	}
	v.typing = current
	if current != "" {
		fmt.Fprintf(v.out, "-- %s typing...\n", current)
	}
}

func formatEntry(entry chatclient.Entry) string {
	msg := entry.Message
	stamp := entry.LocalAt.Local().Format("15:04:05")
	if !msg.CreatedAt.IsZero() {
		stamp = msg.CreatedAt.Local().Format("15:04:05")
	}

	body := msg.Body
	if msg.Attachment != nil {
		body = fmt.Sprintf("[file] %s (%d bytes)", msg.Attachment.Name, msg.Attachment.Size)
	}

	line := fmt.Sprintf("%s %-12s %s", stamp, msg.SenderID, body)
	switch entry.Status {
	case chatclient.StatusPending:
		line += "  (sending)"
	case chatclient.StatusFailed:
		line += fmt.Sprintf("  (failed: %s, /retry %s)", entry.FailureCode, msg.ClientTempID)
	}
	return line
}

// handleInput reports done when the user asked to quit.
func (v *view) handleInput(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false, nil
	case line == "/quit":
		return true, nil
	case line == "/read":
		return false, v.engine.MarkRead(ctx, v.conversationID)
	case strings.HasPrefix(line, "/retry "):
		tempID := strings.TrimSpace(strings.TrimPrefix(line, "/retry "))
		if err := v.engine.Retry(ctx, v.conversationID, tempID); err != nil {
			fmt.Fprintf(v.out, "-- %v\n", err)
		}
		return false, nil
	}

	if _, err := v.engine.Send(ctx, v.conversationID, line); err != nil {
		return false, err
	}
	v.engine.StopTyping(ctx, v.conversationID)
	return false, nil
}
