package compaction

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/agentcore/internal/config"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// Kind names a compaction strategy.
type Kind string

const (
	KindHardClear            Kind = "hard_clear"
	KindSummary              Kind = "summary"
	KindToolResultTruncation Kind = "tool_result_truncation"
	KindAdaptiveChunking     Kind = "adaptive_chunking"
)

// Strategy is a fully parameterized compaction pass.
type Strategy struct {
	Kind        Kind
	KeepRecent  int
	MaxChars    int
	ChunkTokens int

	// Window is the context window used to scale adaptive chunks.
	Window int
}

// Options parameterize strategy selection and compaction passes.
type Options struct {
	KeepRecent         int
	MaxToolResultChars int
	ChunkTokens        int
	Summarizer         Summarizer
}

// OptionsFromConfig builds Options from configuration.
func OptionsFromConfig(cfg config.CompactionConfig) Options {
	return Options{
		KeepRecent:         cfg.KeepRecent,
		MaxToolResultChars: cfg.MaxToolResultChars,
		ChunkTokens:        cfg.ChunkTokens,
	}
}

// SelectStrategy picks the compaction pass for the current state. Priority
// is hard clear at the hard limit, then truncation of oversized tool
// results, then summary at the warn breakpoint, then adaptive chunking.
func SelectStrategy(g Guard, tokens int, oversizedToolResult bool, opts Options) Strategy {
	s := Strategy{
		KeepRecent:  opts.KeepRecent,
		MaxChars:    opts.MaxToolResultChars,
		ChunkTokens: opts.ChunkTokens,
		Window:      g.HardLimit,
	}
	switch {
	case g.HardLimit > 0 && tokens >= g.HardLimit:
		s.Kind = KindHardClear
	case oversizedToolResult:
		s.Kind = KindToolResultTruncation
	case g.NeedsCompaction(tokens):
		s.Kind = KindSummary
	default:
		s.Kind = KindAdaptiveChunking
	}
	return s
}

// Result is the outcome of one or more compaction passes.
type Result struct {
	Strategy Kind
	Messages []models.Message
	Summary  string
	Chunks   [][]models.Message

	// Passes lists every strategy applied, in order.
	Passes []Kind

	TokensBefore   int
	TokensAfter    int
	MessagesBefore int
	MessagesAfter  int
	Changed        bool
}

// Apply runs one strategy over a copy of msgs. The input is never modified.
func Apply(ctx context.Context, s Strategy, msgs []models.Message, summarizer Summarizer) (*Result, error) {
	work := models.CloneMessages(msgs)
	res := &Result{
		Strategy:       s.Kind,
		Messages:       work,
		Passes:         []Kind{s.Kind},
		TokensBefore:   EstimateTokens(msgs),
		MessagesBefore: len(msgs),
	}

	switch s.Kind {
	case KindHardClear:
		if keep := clampKeep(s.KeepRecent); len(work) > keep {
			res.Messages = work[len(work)-keep:]
			res.Changed = true
		}
	case KindSummary:
		keep := clampKeep(s.KeepRecent)
		if len(work) <= keep {
			break
		}
		older, recent := work[:len(work)-keep], work[len(work)-keep:]
		summary, err := summarize(ctx, older, summarizer)
		if err != nil {
			return nil, err
		}
		placeholder := models.Message{
			Role:     models.RoleSystem,
			Content:  "[Conversation summary]\n" + summary,
			Metadata: map[string]any{SummaryMetadataKey: len(older)},
		}
		if len(recent) > 0 {
			placeholder.SessionKey = recent[0].SessionKey
		}
		res.Messages = append([]models.Message{placeholder}, recent...)
		res.Summary = summary
		res.Changed = true
	case KindToolResultTruncation:
		for i := range work {
			for j := range work[i].ToolResults {
				tr := &work[i].ToolResults[j]
				if cut, ok := TruncateToolResult(tr.Content, s.MaxChars); ok {
					tr.Content = cut
					res.Changed = true
				}
			}
		}
	case KindAdaptiveChunking:
		keep := clampKeep(s.KeepRecent)
		if len(work) <= keep {
			break
		}
		older := work[:len(work)-keep]
		limit := s.ChunkTokens
		if s.Window > 0 {
			adaptive := int(ComputeAdaptiveChunkRatio(older, s.Window) * float64(s.Window))
			if limit <= 0 || adaptive < limit {
				limit = adaptive
			}
		}
		offset := 0
		for idx, chunk := range ChunkMessagesByMaxTokens(older, limit) {
			for k := range chunk {
				m := &work[offset+k]
				if m.Metadata == nil {
					m.Metadata = make(map[string]any, 1)
				}
				if m.Metadata[ChunkMetadataKey] != idx {
					m.Metadata[ChunkMetadataKey] = idx
					res.Changed = true
				}
			}
			res.Chunks = append(res.Chunks, work[offset:offset+len(chunk)])
			offset += len(chunk)
		}
	default:
		return nil, fmt.Errorf("unknown compaction strategy %q", s.Kind)
	}

	res.TokensAfter = EstimateTokens(res.Messages)
	res.MessagesAfter = len(res.Messages)
	return res, nil
}

const maxCompactPasses = 4

// Compact applies successive passes until the estimate is below the warn
// breakpoint or a pass changes nothing. A failing summarizer falls back to
// the extractive digest.
func Compact(ctx context.Context, g Guard, msgs []models.Message, opts Options) (*Result, error) {
	out := &Result{
		Messages:       models.CloneMessages(msgs),
		TokensBefore:   EstimateTokens(msgs),
		MessagesBefore: len(msgs),
	}

	for pass := 0; pass < maxCompactPasses; pass++ {
		tokens := EstimateTokens(out.Messages)
		if !g.NeedsCompaction(tokens) {
			break
		}
		s := SelectStrategy(g, tokens, HasOversizedToolResult(out.Messages, opts.MaxToolResultChars), opts)

		res, err := Apply(ctx, s, out.Messages, opts.Summarizer)
		if err != nil && s.Kind == KindSummary && opts.Summarizer != nil && ctx.Err() == nil {
			res, err = Apply(ctx, s, out.Messages, nil)
		}
		if err != nil {
			return nil, err
		}
		if !res.Changed {
			break
		}

		out.Messages = res.Messages
		out.Strategy = res.Strategy
		out.Passes = append(out.Passes, res.Strategy)
		out.Changed = true
		if res.Summary != "" {
			out.Summary = res.Summary
		}
	}

	out.TokensAfter = EstimateTokens(out.Messages)
	out.MessagesAfter = len(out.Messages)
	return out, nil
}

// HasOversizedToolResult reports whether any untruncated tool result
// exceeds maxChars runes.
func HasOversizedToolResult(msgs []models.Message, maxChars int) bool {
	if maxChars <= 0 {
		return false
	}
	for _, msg := range msgs {
		for _, tr := range msg.ToolResults {
			if _, ok := TruncateToolResult(tr.Content, maxChars); ok {
				return true
			}
		}
	}
	return false
}

const truncationMarkerPrefix = "\n…[truncated "

// TruncateToolResult cuts content to maxChars runes and appends a marker
// naming the number of runes removed. It reports false when content is
// within the limit or was already truncated to it.
func TruncateToolResult(content string, maxChars int) (string, bool) {
	if maxChars <= 0 || utf8.RuneCountInString(content) <= maxChars {
		return content, false
	}
	r := []rune(content)
	tail := string(r[maxChars:])
	if strings.HasPrefix(tail, truncationMarkerPrefix) && strings.HasSuffix(tail, " chars]") {
		return content, false
	}
	return string(r[:maxChars]) + fmt.Sprintf("%s%d chars]", truncationMarkerPrefix, len(r)-maxChars), true
}

func clampKeep(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
