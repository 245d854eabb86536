package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/haasonsaas/agentcore/internal/abort"
	"github.com/haasonsaas/agentcore/internal/compaction"
	"github.com/haasonsaas/agentcore/internal/config"
	"github.com/haasonsaas/agentcore/internal/failover"
	"github.com/haasonsaas/agentcore/internal/llm"
	"github.com/haasonsaas/agentcore/internal/testharness"
	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/internal/usage"
	"github.com/haasonsaas/agentcore/pkg/models"
)

const sessionKey = "agent:main:test:dm:alice"

func testConfig(chain ...string) *config.Config {
	return &config.Config{
		DefaultAgent: "main",
		Agents: map[string]config.AgentConfig{
			"main": {
				Name:         "main",
				SystemPrompt: "You are a careful assistant.",
				Model:        chain[0],
				Fallbacks:    chain[1:],
			},
		},
		Compaction: config.CompactionConfig{KeepRecent: 2, MaxToolResultChars: 8000, ChunkTokens: 4000},
	}
}

func addTool() tools.Tool {
	schema := json.RawMessage(`{"type":"object","properties":{"a":{"type":"number"},"b":{"type":"number"}},"required":["a","b"]}`)
	return tools.NewFunc("add", "Adds two numbers", schema, func(_ context.Context, args json.RawMessage) (*tools.Result, error) {
		var in struct{ A, B float64 }
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		return &tools.Result{Content: strconv.FormatFloat(in.A+in.B, 'f', -1, 64)}, nil
	})
}

func authError(provider, model string) error {
	return llm.NewProviderError(provider, model, errors.New("invalid api key")).WithStatus(401)
}

type fixture struct {
	pipeline *Pipeline
	usage    *usage.Tracker
	rec      *testharness.Recorder
}

func newFixture(cfg *config.Config, loop LoopConfig, reg *tools.Registry, providers ...llm.Provider) *fixture {
	tracker := usage.NewTracker(usage.DefaultTrackerConfig())
	p := NewPipeline(Deps{
		Config:    config.NewSnapshot(cfg),
		Providers: llm.NewRegistry(providers...),
		Tools:     reg,
		Usage:     tracker,
	}, loop)
	return &fixture{pipeline: p, usage: tracker, rec: &testharness.Recorder{}}
}

func (f *fixture) run(t *testing.T, handle *abort.Handle, msgs ...models.Message) (*models.RunResult, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.pipeline.Run(ctx, models.RunParams{SessionKey: sessionKey, Messages: msgs}, handle, f.rec.Emit)
}

func assertSequenced(t *testing.T, events []models.Event) {
	t.Helper()
	var last uint64
	for _, ev := range events {
		if ev.Sequence <= last {
			t.Fatalf("sequence %d after %d", ev.Sequence, last)
		}
		last = ev.Sequence
		if ev.RunID == "" || ev.SessionKey != sessionKey {
			t.Fatalf("event missing run metadata: %+v", ev)
		}
	}
}

func TestRunStreamsTextAndCompletes(t *testing.T) {
	prov := testharness.NewProvider("a", testharness.Text("Hello", " world").WithUsage(10, 5))
	f := newFixture(testConfig("a/m1"), DefaultLoopConfig(), nil, prov)

	res, err := f.run(t, nil, models.UserMessage("hi"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Response != "Hello world" || res.Model != "a/m1" || res.AgentID != "main" {
		t.Errorf("result = %+v", res)
	}
	if res.Usage.Total() != 15 {
		t.Errorf("usage = %+v", res.Usage)
	}
	if got := f.usage.SessionTotal(sessionKey).Total(); got != 15 {
		t.Errorf("tracked usage = %d, want 15", got)
	}

	want := []models.EventType{models.EventTextDelta, models.EventTextDelta, models.EventUsage, models.EventComplete}
	if got := f.rec.Types(); !equalTypes(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	assertSequenced(t, f.rec.Events())

	req := prov.Requests()[0]
	if !strings.Contains(req.System, "You are a careful assistant.") || !strings.Contains(req.System, "Agent: main") {
		t.Errorf("system prompt = %q", req.System)
	}
	if req.Model != "m1" {
		t.Errorf("request model = %q", req.Model)
	}
}

func TestRunExecutesToolsAndLoops(t *testing.T) {
	prov := testharness.NewProvider("a",
		testharness.ToolCall("c1", "add", `{"a":2,"b":2}`),
		testharness.Text("2 + 2 = 4"),
	)
	f := newFixture(testConfig("a/m1"), DefaultLoopConfig(), tools.NewRegistry(addTool()), prov)

	res, err := f.run(t, nil, models.UserMessage("what is 2+2?"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Output != "4" || res.ToolCalls[0].IsError {
		t.Errorf("tool calls = %+v", res.ToolCalls)
	}
	if len(res.Messages) != 3 {
		t.Fatalf("appended messages = %d, want 3", len(res.Messages))
	}
	if res.Messages[1].Role != models.RoleTool || res.Messages[1].ToolResults[0].ToolCallID != "c1" {
		t.Errorf("tool message = %+v", res.Messages[1])
	}

	want := []models.EventType{
		models.EventToolCallStart, models.EventToolCallResult,
		models.EventTextDelta, models.EventComplete,
	}
	if got := f.rec.Types(); !equalTypes(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}

	reqs := prov.Requests()
	if len(reqs) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(reqs))
	}
	if len(reqs[0].Tools) != 1 || reqs[0].Tools[0].Name != "add" {
		t.Errorf("tools = %+v", reqs[0].Tools)
	}
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	if last.Role != models.RoleTool || last.ToolResults[0].Content != "4" {
		t.Errorf("second request tail = %+v", last)
	}
}

func TestRunSwitchesModelOnAuthFailure(t *testing.T) {
	a := testharness.NewProvider("a", testharness.Fail(authError("a", "m1")))
	b := testharness.NewProvider("b", testharness.Text("from b"))
	f := newFixture(testConfig("a/m1", "b/m2"), DefaultLoopConfig(), nil, a, b)

	res, err := f.run(t, nil, models.UserMessage("hi"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Model != "b/m2" || res.Response != "from b" {
		t.Errorf("result = %+v", res)
	}
	if n := f.rec.Count(models.EventModelSwitch); n != 1 {
		t.Fatalf("model_switch events = %d, want 1", n)
	}
	for _, ev := range f.rec.Events() {
		if ev.Type == models.EventModelSwitch {
			if ev.ModelSwitch.From != "a/m1" || ev.ModelSwitch.To != "b/m2" || !strings.Contains(ev.ModelSwitch.Reason, "auth") {
				t.Errorf("switch = %+v", ev.ModelSwitch)
			}
		}
	}
	if a.Calls() != 1 || b.Calls() != 1 {
		t.Errorf("calls a=%d b=%d", a.Calls(), b.Calls())
	}
}

func TestRunReportsExhaustedChain(t *testing.T) {
	a := testharness.NewProvider("a", testharness.Fail(authError("a", "m1")))
	b := testharness.NewProvider("b", testharness.Fail(authError("b", "m2")))
	f := newFixture(testConfig("a/m1", "b/m2"), DefaultLoopConfig(), nil, a, b)

	_, err := f.run(t, nil, models.UserMessage("hi"))
	if !errors.Is(err, failover.ErrAllModelsFailed) {
		t.Fatalf("Run() error = %v, want ErrAllModelsFailed", err)
	}
	terminal := f.rec.Terminal()
	if len(terminal) != 1 || terminal[0].Type != models.EventError {
		t.Fatalf("terminal events = %+v", terminal)
	}
	msg := terminal[0].Error.Message
	if !strings.Contains(msg, "a/m1") || !strings.Contains(msg, "b/m2") {
		t.Errorf("error message %q does not name both models", msg)
	}
}

func TestRunUnknownProviderIsFatal(t *testing.T) {
	b := testharness.NewProvider("b", testharness.Text("ok"))
	f := newFixture(testConfig("missing/m1", "b/m2"), DefaultLoopConfig(), nil, b)

	res, err := f.run(t, nil, models.UserMessage("hi"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Model != "b/m2" {
		t.Errorf("model = %q", res.Model)
	}
}

func TestRunAbortedBeforeStartEmitsNothing(t *testing.T) {
	prov := testharness.NewProvider("a", testharness.Text("never"))
	f := newFixture(testConfig("a/m1"), DefaultLoopConfig(), nil, prov)

	aborts := abort.NewRegistry()
	handle, ctx, err := aborts.Register(context.Background(), sessionKey)
	if err != nil {
		t.Fatal(err)
	}
	defer handle.Release()
	aborts.Signal(sessionKey)

	_, err = f.pipeline.Run(ctx, models.RunParams{SessionKey: sessionKey, Messages: []models.Message{models.UserMessage("hi")}}, handle, f.rec.Emit)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("Run() error = %v, want ErrAborted", err)
	}
	if got := f.rec.Events(); len(got) != 0 {
		t.Errorf("events = %v, want none", testharness.Types(got))
	}
	if prov.Calls() != 0 {
		t.Errorf("provider called %d times", prov.Calls())
	}
}

func TestRunAbortedMidStreamHasNoTerminalEvent(t *testing.T) {
	aborts := abort.NewRegistry()
	prov := testharness.NewProvider("a", testharness.Step{Text: []string{"partial"}, Block: true})
	prov.OnCall = func(int, *llm.CompletionRequest) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			aborts.Signal(sessionKey)
		}()
	}
	f := newFixture(testConfig("a/m1"), DefaultLoopConfig(), nil, prov)

	handle, ctx, err := aborts.Register(context.Background(), sessionKey)
	if err != nil {
		t.Fatal(err)
	}
	defer handle.Release()

	_, err = f.pipeline.Run(ctx, models.RunParams{SessionKey: sessionKey, Messages: []models.Message{models.UserMessage("hi")}}, handle, f.rec.Emit)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("Run() error = %v, want ErrAborted", err)
	}
	if terminal := f.rec.Terminal(); len(terminal) != 0 {
		t.Errorf("terminal events = %+v, want none", terminal)
	}
}

func TestRunStopsAtMaxIterations(t *testing.T) {
	prov := testharness.NewProvider("a", testharness.ToolCall("", "add", `{"a":1,"b":1}`)).RepeatLast()
	cfg := testConfig("a/m1")
	agent := cfg.Agents["main"]
	agent.MaxIterations = 2
	cfg.Agents["main"] = agent
	f := newFixture(cfg, DefaultLoopConfig(), tools.NewRegistry(addTool()), prov)

	_, err := f.run(t, nil, models.UserMessage("loop forever"))
	if !errors.Is(err, ErrMaxIterations) {
		t.Fatalf("Run() error = %v, want ErrMaxIterations", err)
	}
	if prov.Calls() != 2 {
		t.Errorf("provider calls = %d, want 2", prov.Calls())
	}
	if terminal := f.rec.Terminal(); len(terminal) != 1 || terminal[0].Type != models.EventError {
		t.Errorf("terminal events = %+v", terminal)
	}
	for _, ev := range f.rec.Events() {
		if ev.Type == models.EventToolCallStart && !strings.HasPrefix(ev.ToolStart.CallID, "call_") {
			t.Errorf("generated call id = %q", ev.ToolStart.CallID)
		}
	}
}

func TestRunParallelToolsKeepRequestOrder(t *testing.T) {
	var running atomic.Int32
	var peak atomic.Int32
	slow := func(name string, delay time.Duration) tools.Tool {
		return tools.NewFunc(name, name, nil, func(ctx context.Context, _ json.RawMessage) (*tools.Result, error) {
			n := running.Add(1)
			defer running.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(delay)
			return &tools.Result{Content: name}, nil
		})
	}

	prov := testharness.NewProvider("a",
		testharness.Step{ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "slow", Input: json.RawMessage(`{}`)},
			{ID: "c2", Name: "fast", Input: json.RawMessage(`{}`)},
		}},
		testharness.Text("done"),
	)
	loop := DefaultLoopConfig()
	loop.ParallelTools = true
	f := newFixture(testConfig("a/m1"), loop, tools.NewRegistry(slow("slow", 80*time.Millisecond), slow("fast", 30*time.Millisecond)), prov)

	res, err := f.run(t, nil, models.UserMessage("go"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	var order []string
	for _, ev := range f.rec.Events() {
		switch ev.Type {
		case models.EventToolCallStart:
			order = append(order, "start:"+ev.ToolStart.CallID)
		case models.EventToolCallResult:
			order = append(order, "result:"+ev.ToolResult.CallID)
		}
	}
	if got := strings.Join(order, ","); got != "start:c1,start:c2,result:c1,result:c2" {
		t.Errorf("tool event order = %s", got)
	}
	if peak.Load() != 2 {
		t.Errorf("peak concurrency = %d, want 2", peak.Load())
	}
	if res.ToolCalls[0].Output != "slow" || res.ToolCalls[1].Output != "fast" {
		t.Errorf("records = %+v", res.ToolCalls)
	}
}

func TestRunFeedsToolErrorsBackToModel(t *testing.T) {
	failing := tools.NewFunc("flaky", "", nil, func(context.Context, json.RawMessage) (*tools.Result, error) {
		return nil, errors.New("disk full")
	})
	prov := testharness.NewProvider("a",
		testharness.ToolCall("c1", "flaky", `{}`),
		testharness.Text("sorry"),
	)
	f := newFixture(testConfig("a/m1"), DefaultLoopConfig(), tools.NewRegistry(failing), prov)

	res, err := f.run(t, nil, models.UserMessage("save it"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	rec := res.ToolCalls[0]
	if !rec.IsError || !strings.Contains(rec.Output, "[tool:execution]") || !strings.Contains(rec.Output, "disk full") {
		t.Errorf("record = %+v", rec)
	}
	tail := prov.Requests()[1].Messages
	if tr := tail[len(tail)-1].ToolResults[0]; !tr.IsError {
		t.Errorf("tool result sent to model = %+v", tr)
	}
}

func TestRunToolTimeout(t *testing.T) {
	stuck := tools.NewFunc("stuck", "", nil, func(ctx context.Context, _ json.RawMessage) (*tools.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	prov := testharness.NewProvider("a",
		testharness.ToolCall("c1", "stuck", `{}`),
		testharness.Text("gave up"),
	)
	loop := DefaultLoopConfig()
	loop.ToolTimeout = 20 * time.Millisecond
	f := newFixture(testConfig("a/m1"), loop, tools.NewRegistry(stuck), prov)

	res, err := f.run(t, nil, models.UserMessage("wait"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if rec := res.ToolCalls[0]; !rec.IsError || !strings.Contains(rec.Output, "[tool:timeout]") {
		t.Errorf("record = %+v", rec)
	}
}

func TestRunEnforcesToolCallBudget(t *testing.T) {
	prov := testharness.NewProvider("a", testharness.Step{ToolCalls: []models.ToolCall{
		{ID: "c1", Name: "add", Input: json.RawMessage(`{"a":1,"b":1}`)},
		{ID: "c2", Name: "add", Input: json.RawMessage(`{"a":1,"b":1}`)},
	}})
	f := newFixture(testConfig("a/m1"), DefaultLoopConfig(), tools.NewRegistry(addTool()), prov)

	ctx := context.Background()
	_, err := f.pipeline.Run(ctx, models.RunParams{
		SessionKey: sessionKey,
		Messages:   []models.Message{models.UserMessage("add twice")},
		Budget:     &models.Budget{MaxToolCalls: 1},
	}, nil, f.rec.Emit)
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("Run() error = %v, want ErrBudgetExceeded", err)
	}
	if n := f.rec.Count(models.EventToolCallStart); n != 0 {
		t.Errorf("tool starts = %d, want 0", n)
	}
}

func TestRunCompactsOnContextOverflow(t *testing.T) {
	overflow := llm.NewProviderError("a", "m1", errors.New("prompt is too long: 210000 tokens > 200000 maximum")).WithStatus(400)
	prov := testharness.NewProvider("a", testharness.Fail(overflow), testharness.Text("fits now"))
	f := newFixture(testConfig("a/m1"), DefaultLoopConfig(), nil, prov)

	history := []models.Message{
		models.UserMessage("first question"),
		models.AssistantMessage("first answer"),
		models.UserMessage("second question"),
		models.AssistantMessage("second answer"),
		models.UserMessage("third question"),
		models.AssistantMessage("third answer"),
		models.UserMessage("final question"),
	}
	res, err := f.run(t, nil, history...)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Response != "fits now" {
		t.Errorf("response = %q", res.Response)
	}
	if n := f.rec.Count(models.EventCompaction); n != 1 {
		t.Fatalf("compaction events = %d, want 1", n)
	}
	if n := f.rec.Count(models.EventModelSwitch); n != 0 {
		t.Errorf("model_switch events = %d, want 0", n)
	}

	reqs := prov.Requests()
	if len(reqs[1].Messages) >= len(reqs[0].Messages) {
		t.Errorf("retry sent %d messages, first attempt %d", len(reqs[1].Messages), len(reqs[0].Messages))
	}
	tail := reqs[1].Messages[len(reqs[1].Messages)-1]
	if tail.Content != "final question" {
		t.Errorf("latest user turn lost: %+v", tail)
	}
}

func TestRunRejectsEmptyInput(t *testing.T) {
	f := newFixture(testConfig("a/m1"), DefaultLoopConfig(), nil, testharness.NewProvider("a"))
	_, err := f.run(t, nil)
	if !errors.Is(err, ErrNoMessages) {
		t.Fatalf("Run() error = %v, want ErrNoMessages", err)
	}
	var le *LoopError
	if !errors.As(err, &le) || le.Phase != PhaseResolving {
		t.Errorf("error = %#v", err)
	}
	if terminal := f.rec.Terminal(); len(terminal) != 1 || terminal[0].Type != models.EventError {
		t.Errorf("terminal = %+v", terminal)
	}
}

type staticMemory string

func (m staticMemory) BuildContext(context.Context, string, []models.Message) (string, error) {
	return string(m), nil
}

type probeSource struct {
	info RunInfo
}

func (s *probeSource) RunTools(info RunInfo) []tools.Tool {
	s.info = info
	return []tools.Tool{tools.NewFunc("probe", "Per-run probe", nil, func(context.Context, json.RawMessage) (*tools.Result, error) {
		return &tools.Result{Content: "ok"}, nil
	})}
}

func TestRunIncludesMemoryAndRunTools(t *testing.T) {
	prov := testharness.NewProvider("a", testharness.Text("hi"))
	src := &probeSource{}
	p := NewPipeline(Deps{
		Config:    config.NewSnapshot(testConfig("a/m1")),
		Providers: llm.NewRegistry(prov),
		Tools:     tools.NewRegistry(addTool()),
		RunTools:  src,
		Memory:    staticMemory("User prefers metric units."),
	}, DefaultLoopConfig())

	_, err := p.Run(context.Background(), models.RunParams{
		SessionKey: sessionKey,
		Messages:   []models.Message{models.UserMessage("hello")},
		Depth:      1,
		Budget:     &models.Budget{MaxTokens: 500},
	}, nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if src.info.Depth != 1 || src.info.AgentID != "main" || src.info.Budget == nil || src.info.Budget.MaxTokens != 500 {
		t.Errorf("run info = %+v", src.info)
	}

	req := prov.Requests()[0]
	if !strings.Contains(req.System, "User prefers metric units.") || !strings.Contains(req.System, "probe") {
		t.Errorf("system prompt = %q", req.System)
	}
	var names []string
	for _, spec := range req.Tools {
		names = append(names, spec.Name)
	}
	if got := strings.Join(names, ","); got != "add,probe" {
		t.Errorf("tools = %s", got)
	}
}

func TestRunUsesReloadedConfigForNewRuns(t *testing.T) {
	a := testharness.NewProvider("a", testharness.Text("from a"))
	b := testharness.NewProvider("b", testharness.Text("from b"))
	snap := config.NewSnapshot(testConfig("a/m1"))
	p := NewPipeline(Deps{Config: snap, Providers: llm.NewRegistry(a, b)}, DefaultLoopConfig())

	params := models.RunParams{SessionKey: sessionKey, Messages: []models.Message{models.UserMessage("hi")}}
	first, err := p.Run(context.Background(), params, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	snap.Store(testConfig("b/m2"))
	second, err := p.Run(context.Background(), params, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if first.Model != "a/m1" || second.Model != "b/m2" {
		t.Errorf("models = %s, %s", first.Model, second.Model)
	}
}

func equalTypes(a, b []models.EventType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRunTruncatesOversizedToolResultWithoutPressure(t *testing.T) {
	dump := tools.NewFunc("dump", "Dumps a large blob", nil, func(context.Context, json.RawMessage) (*tools.Result, error) {
		return &tools.Result{Content: strings.Repeat("x", 10000)}, nil
	})
	prov := testharness.NewProvider("a",
		testharness.ToolCall("c1", "dump", `{}`),
		testharness.Text("summarized"),
	)
	cfg := testConfig("a/m1")
	cfg.Compaction.MaxToolResultChars = 1000
	cfg.ContextWindow = config.ContextWindowConfig{WarnThreshold: 0.8, HardLimit: 1000000}
	f := newFixture(cfg, DefaultLoopConfig(), tools.NewRegistry(dump), prov)

	if _, err := f.run(t, nil, models.UserMessage("dump it")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	reqs := prov.Requests()
	if len(reqs) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(reqs))
	}
	tail := reqs[1].Messages[len(reqs[1].Messages)-1]
	if len(tail.ToolResults) != 1 {
		t.Fatalf("second request tail = %+v", tail)
	}
	got := tail.ToolResults[0].Content
	marker := "\n…[truncated 9000 chars]"
	if !strings.HasSuffix(got, marker) || !strings.HasPrefix(got, strings.Repeat("x", 1000)) {
		t.Errorf("tool result sent to provider = %d runes, want 1000 plus marker", utf8.RuneCountInString(got))
	}
	if n := utf8.RuneCountInString(got); n != 1000+utf8.RuneCountInString(marker) {
		t.Errorf("tool result length = %d runes", n)
	}

	var strategies []string
	for _, ev := range f.rec.Events() {
		if ev.Type == models.EventCompaction {
			strategies = append(strategies, ev.Compaction.Strategy)
		}
	}
	if len(strategies) != 1 || strategies[0] != string(compaction.KindToolResultTruncation) {
		t.Errorf("compaction events = %v, want one tool_result_truncation", strategies)
	}
}

func TestRunTagsOlderMessagesBelowWarnThreshold(t *testing.T) {
	prov := testharness.NewProvider("a", testharness.Text("ok"))
	f := newFixture(testConfig("a/m1"), DefaultLoopConfig(), nil, prov)

	history := []models.Message{
		models.UserMessage("first question"),
		models.AssistantMessage("first answer"),
		models.UserMessage("second question"),
		models.AssistantMessage("second answer"),
		models.UserMessage("final question"),
	}
	if _, err := f.run(t, nil, history...); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	sent := prov.Requests()[0].Messages
	if len(sent) != len(history) {
		t.Fatalf("sent %d messages, want %d", len(sent), len(history))
	}
	if _, ok := sent[0].Metadata[compaction.ChunkMetadataKey]; !ok {
		t.Errorf("oldest message not tagged: %+v", sent[0].Metadata)
	}
	if _, ok := sent[len(sent)-1].Metadata[compaction.ChunkMetadataKey]; ok {
		t.Error("recent message should not be tagged")
	}
	if n := f.rec.Count(models.EventCompaction); n != 0 {
		t.Errorf("compaction events = %d, want 0", n)
	}
}

func TestRunAbortDoesNotInterruptInFlightTool(t *testing.T) {
	aborts := abort.NewRegistry()
	toolErr := make(chan error, 1)
	finished := make(chan struct{})
	slow := tools.NewFunc("slow", "", nil, func(ctx context.Context, _ json.RawMessage) (*tools.Result, error) {
		defer close(finished)
		aborts.Signal(sessionKey)
		time.Sleep(50 * time.Millisecond)
		toolErr <- ctx.Err()
		return &tools.Result{Content: "late"}, nil
	})
	prov := testharness.NewProvider("a",
		testharness.ToolCall("c1", "slow", `{}`),
		testharness.Text("never"),
	)
	f := newFixture(testConfig("a/m1"), DefaultLoopConfig(), tools.NewRegistry(slow), prov)

	handle, ctx, err := aborts.Register(context.Background(), sessionKey)
	if err != nil {
		t.Fatal(err)
	}
	defer handle.Release()

	_, err = f.pipeline.Run(ctx, models.RunParams{SessionKey: sessionKey, Messages: []models.Message{models.UserMessage("go")}}, handle, f.rec.Emit)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("Run() error = %v, want ErrAborted", err)
	}
	select {
	case <-finished:
	default:
		t.Fatal("Run returned before the in-flight tool finished")
	}
	if err := <-toolErr; err != nil {
		t.Errorf("tool context error = %v, want nil", err)
	}
	if n := f.rec.Count(models.EventToolCallResult); n != 0 {
		t.Errorf("tool results = %d, want the aborted result discarded", n)
	}
	if terminal := f.rec.Terminal(); len(terminal) != 0 {
		t.Errorf("terminal events = %+v, want none", terminal)
	}
	if prov.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1", prov.Calls())
	}
}

func TestRunAbortAfterFinalAnswerIsAborted(t *testing.T) {
	aborts := abort.NewRegistry()
	prov := testharness.NewProvider("a", testharness.Text("done").WithUsage(3, 2))
	f := newFixture(testConfig("a/m1"), DefaultLoopConfig(), nil, prov)

	handle, ctx, err := aborts.Register(context.Background(), sessionKey)
	if err != nil {
		t.Fatal(err)
	}
	defer handle.Release()

	emit := func(ev models.Event) {
		f.rec.Emit(ev)
		if ev.Type == models.EventUsage {
			aborts.Signal(sessionKey)
		}
	}
	res, err := f.pipeline.Run(ctx, models.RunParams{SessionKey: sessionKey, Messages: []models.Message{models.UserMessage("hi")}}, handle, emit)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("Run() error = %v, want ErrAborted", err)
	}
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
	if terminal := f.rec.Terminal(); len(terminal) != 0 {
		t.Errorf("terminal events = %+v, want none", terminal)
	}
}
