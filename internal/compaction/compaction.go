// Package compaction keeps a conversation inside its context window. It
// provides token estimation, the context guard, and the compaction
// strategies (hard clear, summary, tool-result truncation, adaptive
// chunking) applied when the guard trips.
package compaction

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Constants for compaction behavior
const (
	// CharsPerToken is the approximate character-to-token ratio for estimation.
	CharsPerToken = 4

	// MessageOverheadTokens accounts for role markers and framing per message.
	MessageOverheadTokens = 4

	// BaseChunkRatio is the default ratio of context window for chunk sizing.
	BaseChunkRatio = 0.4

	// MinChunkRatio is the minimum ratio to prevent overly small chunks.
	MinChunkRatio = 0.15

	// SafetyMargin provides a 20% buffer for token estimation inaccuracy.
	SafetyMargin = 1.2

	// DefaultSummaryFallback is used when there is nothing to summarize.
	DefaultSummaryFallback = "No prior history."

	// ChunkMetadataKey tags messages grouped by adaptive chunking.
	ChunkMetadataKey = "compaction_chunk"

	// SummaryMetadataKey marks the placeholder message produced by a summary.
	SummaryMetadataKey = "compaction_summary"
)

// EstimateMessageTokens estimates the token count of one message.
func EstimateMessageTokens(msg models.Message) int {
	chars := len(msg.Content)
	for _, tc := range msg.ToolCalls {
		chars += len(tc.Name) + len(tc.Input)
	}
	for _, tr := range msg.ToolResults {
		chars += len(tr.Content)
	}
	return (chars+CharsPerToken-1)/CharsPerToken + MessageOverheadTokens
}

// EstimateTokens estimates total tokens across all messages.
func EstimateTokens(messages []models.Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateMessageTokens(msg)
	}
	return total
}

// ChunkMessagesByMaxTokens splits messages into chunks where each chunk
// does not exceed maxTokens. A single oversized message gets its own chunk.
func ChunkMessagesByMaxTokens(messages []models.Message, maxTokens int) [][]models.Message {
	if len(messages) == 0 {
		return nil
	}
	if maxTokens <= 0 {
		return [][]models.Message{messages}
	}

	var result [][]models.Message
	var current []models.Message
	currentTokens := 0

	for _, msg := range messages {
		msgTokens := EstimateMessageTokens(msg)

		if msgTokens > maxTokens {
			if len(current) > 0 {
				result = append(result, current)
				current = nil
				currentTokens = 0
			}
			result = append(result, []models.Message{msg})
			continue
		}

		if currentTokens+msgTokens > maxTokens && len(current) > 0 {
			result = append(result, current)
			current = nil
			currentTokens = 0
		}

		current = append(current, msg)
		currentTokens += msgTokens
	}

	if len(current) > 0 {
		result = append(result, current)
	}
	return result
}

// ComputeAdaptiveChunkRatio computes chunk ratio based on average message size.
// When messages are large relative to the window, chunks get smaller.
func ComputeAdaptiveChunkRatio(messages []models.Message, contextWindow int) float64 {
	if len(messages) == 0 || contextWindow <= 0 {
		return BaseChunkRatio
	}

	avgTokensPerMsg := float64(EstimateTokens(messages)) / float64(len(messages))
	windowRatio := avgTokensPerMsg / float64(contextWindow)

	ratio := BaseChunkRatio * (1 - windowRatio*SafetyMargin)
	if ratio < MinChunkRatio {
		ratio = MinChunkRatio
	}
	if ratio > BaseChunkRatio {
		ratio = BaseChunkRatio
	}
	return ratio
}

// FormatMessagesForSummary formats messages into text suitable for a
// summarization prompt.
func FormatMessagesForSummary(messages []models.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		sb.WriteString(fmt.Sprintf("[%s]: ", msg.Role))
		sb.WriteString(msg.Content)

		for _, tc := range msg.ToolCalls {
			sb.WriteString(fmt.Sprintf("\n  [Tool call %s: %s]", tc.Name, truncateRunes(string(tc.Input), 200)))
		}
		for _, tr := range msg.ToolResults {
			sb.WriteString(fmt.Sprintf("\n  [Tool result: %s]", truncateRunes(tr.Content, 200)))
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// truncateRunes shortens s to at most max runes, adding an ellipsis.
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}
