// Package routing maps session keys to agents and agents to their model
// fallback chains. It only reads the configuration snapshot it was built with.
package routing

import (
	"errors"
	"fmt"
	"sort"

	"golang.org/x/text/cases"

	"github.com/haasonsaas/agentcore/internal/config"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// ErrAgentNotFound is returned for an agent id absent from configuration.
var ErrAgentNotFound = errors.New("agent not found")

// ErrNoModels is returned when an agent has no usable model.
var ErrNoModels = errors.New("agent has no models configured")

// Resolver answers routing questions against one config snapshot.
type Resolver struct {
	cfg *config.Config
}

// NewResolver creates a resolver for cfg.
func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Config returns the snapshot the resolver reads.
func (r *Resolver) Config() *config.Config { return r.cfg }

// DefaultAgentID returns the configured fallback agent.
func (r *Resolver) DefaultAgentID() string {
	if r.cfg == nil || r.cfg.DefaultAgent == "" {
		return config.DefaultAgentID
	}
	return r.cfg.DefaultAgent
}

// ResolveAgentID returns the agent of the first binding matching the
// session, or the default agent when none matches.
func (r *Resolver) ResolveAgentID(sessionKey string) string {
	if r.cfg == nil {
		return r.DefaultAgentID()
	}
	attrs := ParseSessionKey(sessionKey)
	for _, b := range r.cfg.Bindings {
		if Matches(b.Match, attrs) {
			return b.AgentID
		}
	}
	return r.DefaultAgentID()
}

// Matches reports whether every present predicate of m holds for attrs.
// Comparison is case-insensitive; an empty attribute only satisfies an
// absent predicate.
func Matches(m config.BindingMatch, attrs SessionAttrs) bool {
	return matchField(m.Channel, attrs.Channel) &&
		matchField(m.AccountID, attrs.AccountID) &&
		matchField(m.Peer, attrs.PeerID) &&
		matchField(m.GuildID, attrs.GuildID)
}

func matchField(want *string, got string) bool {
	if want == nil {
		return true
	}
	if got == "" {
		return false
	}
	return cases.Fold().String(*want) == cases.Fold().String(got)
}

// ResolveAgentConfig looks up an agent by id.
func (r *Resolver) ResolveAgentConfig(agentID string) (*config.AgentConfig, error) {
	agent, ok := r.cfg.Agent(agentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return &agent, nil
}

// ResolveModelChain parses the agent's primary and fallback models.
func (r *Resolver) ResolveModelChain(agentID string) (ModelChain, error) {
	agent, err := r.ResolveAgentConfig(agentID)
	if err != nil {
		return ModelChain{}, err
	}
	refs := agent.ModelRefs()
	if len(refs) == 0 {
		return ModelChain{}, fmt.Errorf("%w: %s", ErrNoModels, agentID)
	}

	var chain ModelChain
	for i, raw := range refs {
		ref, err := ParseModelRef(raw, r.cfg.DefaultProvider)
		if err != nil {
			return ModelChain{}, fmt.Errorf("agent %s: %w", agentID, err)
		}
		if i == 0 {
			chain.Primary = ref
			continue
		}
		chain.Fallbacks = append(chain.Fallbacks, ref)
	}
	return chain, nil
}

// ListAgentIDs returns every configured agent id, sorted.
func (r *Resolver) ListAgentIDs() []string {
	if r.cfg == nil {
		return nil
	}
	ids := make([]string, 0, len(r.cfg.Agents))
	for id := range r.cfg.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolution is everything a run needs to know about its agent.
type Resolution struct {
	AgentID string
	Agent   *config.AgentConfig
	Chain   ModelChain
}

// ResolveParams resolves the agent for a run. An explicit AgentID wins
// over bindings and must exist.
func (r *Resolver) ResolveParams(params models.RunParams) (Resolution, error) {
	agentID := params.AgentID
	if agentID == "" {
		agentID = r.ResolveAgentID(params.SessionKey)
	}
	agent, err := r.ResolveAgentConfig(agentID)
	if err != nil {
		return Resolution{}, err
	}
	chain, err := r.ResolveModelChain(agentID)
	if err != nil {
		return Resolution{}, err
	}
	if params.Model != "" {
		ref, err := ParseModelRef(params.Model, r.cfg.DefaultProvider)
		if err != nil {
			return Resolution{}, err
		}
		chain = chain.WithPrimary(ref)
	}
	return Resolution{AgentID: agentID, Agent: agent, Chain: chain}, nil
}
