package transcript

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Placeholder and synthetic texts inserted by Repair.
const (
	ContinuedPlaceholder  = "(continued)"
	NoResponsePlaceholder = "(no response)"
	MissingToolResult     = "tool result missing"
)

// ExtractSystem joins the content of every system message.
func ExtractSystem(messages []models.Message) string {
	var parts []string
	for _, msg := range messages {
		if msg.Role != models.RoleSystem {
			continue
		}
		if text := strings.TrimSpace(msg.Content); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Repair returns a copy of messages rewritten for profile p. Tool calls are
// paired with their results, orphaned results become plain notes, and
// placeholders are inserted where the profile's ordering rules demand a
// turn that does not exist. Repair is idempotent.
func Repair(messages []models.Message, p Profile) []models.Message {
	msgs := models.CloneMessages(messages)

	system, rest := splitSystem(msgs)
	rest = pairToolCalls(rest)
	if p.StrictAlternation {
		rest = mergeAdjacent(rest, p)
	}
	rest = fillEmpty(rest)
	if p.FirstMustBeUser && (len(rest) == 0 || rest[0].Role != models.RoleUser) {
		rest = append([]models.Message{{Role: models.RoleUser, Content: ContinuedPlaceholder}}, rest...)
	}

	if !p.SystemInline || system == nil {
		return rest
	}
	return append([]models.Message{*system}, rest...)
}

// splitSystem folds all system messages into one and returns the remainder.
func splitSystem(msgs []models.Message) (*models.Message, []models.Message) {
	var system *models.Message
	rest := make([]models.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role != models.RoleSystem {
			rest = append(rest, msg)
			continue
		}
		if system == nil {
			m := msg
			m.Content = strings.TrimSpace(m.Content)
			system = &m
			continue
		}
		system.Content = joinText(system.Content, msg.Content)
	}
	if system != nil && system.Content == "" {
		system = nil
	}
	return system, rest
}

// pairToolCalls places one tool message holding every result directly after
// each assistant turn that requested tools, in call order.
func pairToolCalls(msgs []models.Message) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for i := 0; i < len(msgs); i++ {
		msg := msgs[i]
		switch {
		case msg.Role == models.RoleTool:
			// A tool message not claimed by a preceding assistant turn.
			out = append(out, orphanNotes(msg, msg.ToolResults)...)
			continue
		case msg.Role != models.RoleAssistant || len(msg.ToolCalls) == 0:
			out = append(out, msg)
			continue
		}

		for idx := range msg.ToolCalls {
			if msg.ToolCalls[idx].ID == "" {
				msg.ToolCalls[idx].ID = fmt.Sprintf("call_%d_%d", i, idx)
			}
		}
		calls := make(map[string]bool, len(msg.ToolCalls))
		pending := make([]string, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			calls[tc.ID] = true
			pending = append(pending, tc.ID)
		}
		nextPending := func(results map[string]models.ToolResult) string {
			for _, id := range pending {
				if _, done := results[id]; !done {
					return id
				}
			}
			return ""
		}

		results := make(map[string]models.ToolResult, len(msg.ToolCalls))
		var base *models.Message
		var toolText string
		var remainder []models.Message

		j := i + 1
		for ; j < len(msgs) && msgs[j].Role != models.RoleAssistant; j++ {
			next := msgs[j]
			if next.Role != models.RoleTool {
				remainder = append(remainder, next)
				continue
			}
			if base == nil {
				b := next
				base = &b
			}
			toolText = joinText(toolText, next.Content)

			var orphans []models.ToolResult
			for _, tr := range next.ToolResults {
				if tr.ToolCallID == "" {
					tr.ToolCallID = nextPending(results)
				}
				if _, dup := results[tr.ToolCallID]; dup || !calls[tr.ToolCallID] {
					orphans = append(orphans, tr)
					continue
				}
				results[tr.ToolCallID] = tr
			}
			if len(orphans) > 0 {
				remainder = append(remainder, orphanNotes(models.Message{SessionKey: next.SessionKey, CreatedAt: next.CreatedAt}, orphans)...)
			}
		}

		toolMsg := models.Message{Role: models.RoleTool, SessionKey: msg.SessionKey}
		if base != nil {
			toolMsg = *base
		}
		toolMsg.Content = toolText
		toolMsg.ToolResults = make([]models.ToolResult, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			tr, ok := results[tc.ID]
			if !ok {
				tr = models.ToolResult{ToolCallID: tc.ID, Content: MissingToolResult, IsError: true}
			}
			toolMsg.ToolResults = append(toolMsg.ToolResults, tr)
		}

		out = append(out, msg, toolMsg)
		out = append(out, remainder...)
		i = j - 1
	}
	return out
}

// orphanNotes turns tool results that match no call into user-visible text.
func orphanNotes(src models.Message, results []models.ToolResult) []models.Message {
	var text string
	for _, tr := range results {
		label := "Tool result"
		if tr.IsError {
			label = "Tool error"
		}
		if tr.ToolCallID != "" {
			label += " (" + tr.ToolCallID + ")"
		}
		text = joinText(text, label+": "+tr.Content)
	}
	text = joinText(text, src.Content)
	if text == "" {
		return nil
	}
	return []models.Message{{
		ID:         src.ID,
		SessionKey: src.SessionKey,
		Role:       models.RoleUser,
		Content:    text,
		CreatedAt:  src.CreatedAt,
	}}
}

// mergeAdjacent collapses consecutive turns on the same side of the
// conversation so roles strictly alternate.
func mergeAdjacent(msgs []models.Message, p Profile) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for _, msg := range msgs {
		if len(out) == 0 {
			out = append(out, msg)
			continue
		}
		prev := &out[len(out)-1]
		switch {
		case prev.Role == models.RoleUser && msg.Role == models.RoleUser:
			prev.Content = joinText(prev.Content, msg.Content)
		case prev.Role == models.RoleAssistant && msg.Role == models.RoleAssistant && len(prev.ToolCalls) == 0:
			prev.Content = joinText(prev.Content, msg.Content)
			prev.ToolCalls = append(prev.ToolCalls, msg.ToolCalls...)
		case prev.Role == models.RoleTool && msg.Role == models.RoleUser && p.ToolResultsAsUser:
			prev.Content = joinText(prev.Content, msg.Content)
		case prev.Role == models.RoleTool && msg.Role == models.RoleUser:
			out = append(out, models.Message{Role: models.RoleAssistant, SessionKey: msg.SessionKey, Content: NoResponsePlaceholder}, msg)
		default:
			out = append(out, msg)
		}
	}
	return out
}

// fillEmpty gives empty text turns a placeholder body.
func fillEmpty(msgs []models.Message) []models.Message {
	for i := range msgs {
		if strings.TrimSpace(msgs[i].Content) != "" {
			continue
		}
		switch {
		case msgs[i].Role == models.RoleUser:
			msgs[i].Content = ContinuedPlaceholder
		case msgs[i].Role == models.RoleAssistant && len(msgs[i].ToolCalls) == 0:
			msgs[i].Content = NoResponsePlaceholder
		}
	}
	return msgs
}

func joinText(a, b string) string {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n\n" + b
	}
}
