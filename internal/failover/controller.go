package failover

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/haasonsaas/agentcore/internal/llm"
	"github.com/haasonsaas/agentcore/internal/routing"
)

// ErrAllModelsFailed matches every ExhaustedError.
var ErrAllModelsFailed = errors.New("all models failed")

// Action is the controller's verdict after a failure.
type Action string

const (
	ActionRetry        Action = "retry"
	ActionWait         Action = "wait"
	ActionCompactRetry Action = "compact_retry"
	ActionSwitch       Action = "switch"
	ActionExhausted    Action = "exhausted"
)

// Decision tells the caller how to proceed.
type Decision struct {
	Action Action
	From   routing.ModelRef
	To     routing.ModelRef
	Class  llm.ErrorClass
	// Delay is how long to sleep before the next call on retry or wait.
	Delay  time.Duration
	Reason string
}

// Attempt records the last failure seen on one model.
type Attempt struct {
	Model   routing.ModelRef
	Class   llm.ErrorClass
	Message string
	Err     error
}

// ExhaustedError reports every model tried and why each failed.
type ExhaustedError struct {
	AgentID  string
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for i, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%d. %s [%s] %s", i+1, a.Model, a.Class, a.Message))
	}
	return fmt.Sprintf("all models failed for agent %s: %s", e.AgentID, strings.Join(parts, "; "))
}

// Is reports whether target is ErrAllModelsFailed.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllModelsFailed
}

// Unwrap returns the last underlying failure.
func (e *ExhaustedError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// Option configures a Controller.
type Option func(*Controller)

// WithAgentID names the agent in exhaustion errors.
func WithAgentID(id string) Option {
	return func(c *Controller) { c.agentID = id }
}

// WithRand overrides the jitter source, which must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(c *Controller) {
		if fn != nil {
			c.rand = fn
		}
	}
}

// Controller walks one run's model chain. It is not safe for concurrent use;
// each run owns its own controller.
type Controller struct {
	agentID  string
	policy   Policy
	models   []routing.ModelRef
	idx      int
	attempts []Attempt
	rand     func() float64

	// per-model state, reset on switch and on success
	transient int
	waits     int
	waited    time.Duration
	compacted bool

	exhausted bool
}

// NewController creates a controller positioned on the chain's primary model.
func NewController(chain routing.ModelChain, policy Policy, opts ...Option) *Controller {
	policy.RateLimit.Backoff = policy.RateLimit.Backoff.Normalize()
	c := &Controller{
		policy: policy,
		models: chain.Models(),
		rand:   rand.Float64, // #nosec G404 -- jitter does not require cryptographic randomness
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current returns the model the next call should use.
func (c *Controller) Current() routing.ModelRef {
	if len(c.models) == 0 {
		return routing.ModelRef{}
	}
	return c.models[c.idx]
}

// Attempts returns the last failure on each model tried, in order.
func (c *Controller) Attempts() []Attempt {
	return append([]Attempt(nil), c.attempts...)
}

// Err returns the exhaustion error once the chain has run out.
func (c *Controller) Err() *ExhaustedError {
	if !c.exhausted {
		return nil
	}
	return &ExhaustedError{AgentID: c.agentID, Attempts: c.Attempts()}
}

// Succeed clears the per-model retry counters after a successful call.
func (c *Controller) Succeed() {
	c.resetModelState()
}

// Fail classifies err and decides the next step.
func (c *Controller) Fail(err error) Decision {
	current := c.Current()
	class := llm.Classify(err)
	if class == "" {
		class = llm.ClassTransient
	}
	msg := errorMessage(err)
	c.record(Attempt{Model: current, Class: class, Message: msg, Err: err})

	d := Decision{From: current, To: current, Class: class, Reason: fmt.Sprintf("%s: %s", class, msg)}
	if c.exhausted || len(c.models) == 0 {
		c.exhausted = true
		d.Action = ActionExhausted
		return d
	}

	switch class {
	case llm.ClassRateLimited:
		if delay, ok := c.nextWait(err); ok {
			d.Action = ActionWait
			d.Delay = delay
			return d
		}
	case llm.ClassContextOverflow:
		if c.policy.CompactOnOverflow && !c.compacted {
			c.compacted = true
			d.Action = ActionCompactRetry
			return d
		}
	case llm.ClassTransient:
		if c.transient < c.policy.MaxTransientRetries {
			c.transient++
			d.Action = ActionRetry
			d.Delay = c.policy.RateLimit.Backoff.DelayWithRand(c.transient, c.rand())
			return d
		}
	}
	return c.advance(d)
}

func (c *Controller) nextWait(err error) (time.Duration, bool) {
	rl := c.policy.RateLimit
	if rl.Mode != ModeWait || c.waits >= rl.MaxWaits {
		return 0, false
	}
	remaining := rl.WaitBudget - c.waited
	if remaining <= 0 {
		return 0, false
	}

	delay := rl.Backoff.DelayWithRand(c.waits+1, c.rand())
	if pe, ok := llm.GetProviderError(err); ok && pe.RetryAfter > 0 && pe.RetryAfter <= remaining {
		delay = pe.RetryAfter
	}
	if delay > remaining {
		return 0, false
	}
	c.waits++
	c.waited += delay
	return delay, true
}

func (c *Controller) advance(d Decision) Decision {
	if c.idx+1 >= len(c.models) {
		c.exhausted = true
		d.Action = ActionExhausted
		return d
	}
	c.idx++
	c.resetModelState()
	d.Action = ActionSwitch
	d.To = c.Current()
	return d
}

func (c *Controller) record(a Attempt) {
	if n := len(c.attempts); n > 0 && c.attempts[n-1].Model == a.Model {
		c.attempts[n-1] = a
		return
	}
	c.attempts = append(c.attempts, a)
}

func (c *Controller) resetModelState() {
	c.transient = 0
	c.waits = 0
	c.waited = 0
	c.compacted = false
}

func errorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	if pe, ok := llm.GetProviderError(err); ok && pe.Message != "" {
		return pe.Message
	}
	return err.Error()
}
