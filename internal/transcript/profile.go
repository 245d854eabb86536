// Package transcript rewrites a message history into the shape a specific
// provider accepts. Repair is applied immediately before every provider call
// and never removes user-authored text.
package transcript

import "strings"

// Profile describes a provider's transcript constraints.
type Profile struct {
	Name string

	// SystemInline keeps system content as a message at the head of the
	// transcript. When false, system messages are removed and the caller
	// passes ExtractSystem's text through the request's system slot.
	SystemInline bool

	// StrictAlternation requires user-side and assistant turns to alternate.
	StrictAlternation bool

	// FirstMustBeUser requires the first non-system message to be a user turn.
	FirstMustBeUser bool

	// ToolResultsAsUser means tool results travel on the user side of the
	// conversation, so user text following them joins the same turn.
	ToolResultsAsUser bool
}

var (
	anthropicProfile = Profile{Name: "anthropic", StrictAlternation: true, FirstMustBeUser: true, ToolResultsAsUser: true}
	openAIProfile    = Profile{Name: "openai", SystemInline: true}
	googleProfile    = Profile{Name: "google", StrictAlternation: true, FirstMustBeUser: true, ToolResultsAsUser: true}
	bedrockProfile   = Profile{Name: "bedrock", StrictAlternation: true, FirstMustBeUser: true, ToolResultsAsUser: true}
	defaultProfile   = Profile{Name: "default", SystemInline: true}
)

// ProfileFor returns the transcript profile for a provider id.
func ProfileFor(provider string) Profile {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "anthropic":
		return anthropicProfile
	case "openai":
		return openAIProfile
	case "google", "gemini":
		return googleProfile
	case "bedrock":
		return bedrockProfile
	default:
		return defaultProfile
	}
}
