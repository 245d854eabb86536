// Package prompt assembles the system prompt from ordered, labeled sections.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Section titles.
const (
	TitleInstructions = "Instructions"
	TitleContext      = "Context"
	TitleTools        = "Tools"
	TitleSkills       = "Skills"
	TitleMemory       = "Memory"
)

// Section is one headed block of the prompt.
type Section struct {
	Title string
	Body  string
}

// DynamicContext is per-turn information rendered into the context section.
type DynamicContext struct {
	// Now defaults to the current time.
	Now       time.Time
	Workspace string
	AgentID   string
	Extra     map[string]string
}

// ToolDescription is the catalog entry for one tool.
type ToolDescription struct {
	Name        string
	Description string
}

// Builder collects sections in insertion order.
type Builder struct {
	sections []Section
	now      func() time.Time
}

// New creates an empty builder.
func New() *Builder {
	return &Builder{now: time.Now}
}

// WithClock overrides the time source used for dynamic context.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	if now != nil {
		b.now = now
	}
	return b
}

// WithSection appends an arbitrary section.
func (b *Builder) WithSection(title, body string) *Builder {
	b.sections = append(b.sections, Section{Title: strings.TrimSpace(title), Body: strings.TrimSpace(body)})
	return b
}

// WithBasePrompt appends the agent's base instructions.
func (b *Builder) WithBasePrompt(text string) *Builder {
	return b.WithSection(TitleInstructions, text)
}

// WithDynamicContext appends the current time and workspace metadata.
func (b *Builder) WithDynamicContext(dc DynamicContext) *Builder {
	now := dc.Now
	if now.IsZero() {
		now = b.now()
	}
	lines := []string{"Current time: " + now.Format(time.RFC3339)}
	if ws := strings.TrimSpace(dc.Workspace); ws != "" {
		lines = append(lines, "Workspace: "+ws)
	}
	if id := strings.TrimSpace(dc.AgentID); id != "" {
		lines = append(lines, "Agent: "+id)
	}

	keys := make([]string, 0, len(dc.Extra))
	for k := range dc.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := strings.TrimSpace(dc.Extra[k]); v != "" {
			lines = append(lines, fmt.Sprintf("%s: %s", k, v))
		}
	}
	return b.WithSection(TitleContext, strings.Join(lines, "\n"))
}

// WithToolDescriptions appends the tool catalog as a bullet list.
func (b *Builder) WithToolDescriptions(tools []ToolDescription) *Builder {
	lines := make([]string, 0, len(tools))
	for _, t := range tools {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			continue
		}
		if desc := strings.TrimSpace(t.Description); desc != "" {
			lines = append(lines, fmt.Sprintf("- %s: %s", name, desc))
		} else {
			lines = append(lines, "- "+name)
		}
	}
	return b.WithSection(TitleTools, strings.Join(lines, "\n"))
}

// WithSkillInstructions appends skill guidance.
func (b *Builder) WithSkillInstructions(text string) *Builder {
	return b.WithSection(TitleSkills, text)
}

// WithMemoryContext appends recalled memory.
func (b *Builder) WithMemoryContext(text string) *Builder {
	return b.WithSection(TitleMemory, text)
}

// Sections returns the non-empty sections in order.
func (b *Builder) Sections() []Section {
	out := make([]Section, 0, len(b.sections))
	for _, s := range b.sections {
		if s.Body == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Build renders every non-empty section as "## Title\nbody", separated by
// a blank line.
func (b *Builder) Build() string {
	sections := b.Sections()
	blocks := make([]string, 0, len(sections))
	for _, s := range sections {
		if s.Title == "" {
			blocks = append(blocks, s.Body)
			continue
		}
		blocks = append(blocks, "## "+s.Title+"\n"+s.Body)
	}
	return strings.Join(blocks, "\n\n")
}
