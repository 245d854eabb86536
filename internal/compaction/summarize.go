package compaction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/agentcore/internal/llm"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// Summarizer condenses older messages into text.
type Summarizer interface {
	Summarize(ctx context.Context, messages []models.Message) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, messages []models.Message) (string, error)

// Summarize calls f.
func (f SummarizerFunc) Summarize(ctx context.Context, messages []models.Message) (string, error) {
	return f(ctx, messages)
}

func summarize(ctx context.Context, older []models.Message, s Summarizer) (string, error) {
	if s == nil {
		return ExtractiveDigest(older), nil
	}
	text, err := s.Summarize(ctx, older)
	if err != nil {
		return "", fmt.Errorf("summarize %d messages: %w", len(older), err)
	}
	if text = strings.TrimSpace(text); text == "" {
		return ExtractiveDigest(older), nil
	}
	return text, nil
}

const digestLineRunes = 160

// ExtractiveDigest produces a deterministic summary: one line per message
// holding the first line of its text, plus the tools it called.
func ExtractiveDigest(messages []models.Message) string {
	if len(messages) == 0 {
		return DefaultSummaryFallback
	}
	lines := make([]string, 0, len(messages)+1)
	lines = append(lines, fmt.Sprintf("%d earlier messages:", len(messages)))
	for _, msg := range messages {
		text := strings.TrimSpace(msg.Content)
		if first, _, ok := strings.Cut(text, "\n"); ok {
			text = first
		}
		text = truncateRunes(text, digestLineRunes)
		if len(msg.ToolCalls) > 0 {
			names := make([]string, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				names = append(names, tc.Name)
			}
			text = strings.TrimSpace(text + " [called " + strings.Join(names, ", ") + "]")
		}
		if len(msg.ToolResults) > 0 {
			text = strings.TrimSpace(text + fmt.Sprintf(" [%d tool results]", len(msg.ToolResults)))
		}
		if text == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", msg.Role, text))
	}
	return strings.Join(lines, "\n")
}

const summaryInstructions = "Summarize the conversation below. Preserve decisions, open questions, facts about the user, and results of tool calls. Be concise."

const mergeInstructions = "Merge these chunk summaries into a single coherent summary. Preserve key details and maintain chronological flow."

// ProviderSummarizer asks a language model for summaries. Long histories are
// summarized in token-bounded chunks whose summaries are then merged.
type ProviderSummarizer struct {
	Provider       llm.Provider
	Model          string
	MaxTokens      int
	MaxChunkTokens int
}

// Summarize implements Summarizer.
func (p *ProviderSummarizer) Summarize(ctx context.Context, messages []models.Message) (string, error) {
	if len(messages) == 0 {
		return DefaultSummaryFallback, nil
	}
	if p == nil || p.Provider == nil {
		return "", errors.New("summarizer provider is nil")
	}

	chunks := ChunkMessagesByMaxTokens(messages, p.MaxChunkTokens)
	if len(chunks) == 1 {
		return p.complete(ctx, summaryInstructions, FormatMessagesForSummary(chunks[0]))
	}

	summaries := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		s, err := p.complete(ctx, summaryInstructions, FormatMessagesForSummary(chunk))
		if err != nil {
			return "", fmt.Errorf("summarizing chunk %d: %w", i, err)
		}
		summaries = append(summaries, s)
	}

	var sb strings.Builder
	for i, s := range summaries {
		fmt.Fprintf(&sb, "Chunk %d summary:\n%s\n\n", i+1, s)
	}
	return p.complete(ctx, mergeInstructions, sb.String())
}

func (p *ProviderSummarizer) complete(ctx context.Context, system, text string) (string, error) {
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	stream, err := p.Provider.Complete(ctx, &llm.CompletionRequest{
		Model:     p.Model,
		System:    system,
		Messages:  []models.Message{models.UserMessage(text)},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for chunk := range stream {
		if chunk.Error != nil {
			go drain(stream)
			return "", chunk.Error
		}
		sb.WriteString(chunk.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}

func drain(stream <-chan *llm.Chunk) {
	for range stream {
	}
}
