package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/haasonsaas/agentcore/internal/config"
	"github.com/haasonsaas/agentcore/internal/routing"
	"github.com/haasonsaas/agentcore/internal/sessions"
	"github.com/haasonsaas/agentcore/internal/usage"
	"github.com/haasonsaas/agentcore/pkg/models"
)

var (
	errRunAborted = errors.New("run aborted")
	errRunFailed  = errors.New("run failed")
)

// =============================================================================
// Run Command Helpers
// =============================================================================

type runOptions struct {
	ConfigPath  string
	SessionKey  string
	AgentID     string
	Model       string
	JSON        bool
	MetricsAddr string
}

// runAgent runs a single prompt, or one turn per stdin line when no prompt
// is given.
func runAgent(ctx context.Context, in io.Reader, out io.Writer, opts runOptions, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	prompt := strings.TrimSpace(strings.Join(args, " "))
	rt, err := newRuntime(ctx, runtimeOptions{
		ConfigPath:  opts.ConfigPath,
		Watch:       prompt == "",
		MetricsAddr: opts.MetricsAddr,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	printer := newEventPrinter(out, opts.JSON)
	if prompt != "" {
		return runTurn(ctx, rt, printer, opts, prompt)
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		err := runTurn(ctx, rt, printer, opts, line)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, errRunFailed), errors.Is(err, errRunAborted):
			// Already reported on the stream; keep the session going.
		case err != nil:
			return err
		}
	}
	printer.totals(rt.usage.ModelTotals())
	return scanner.Err()
}

func runTurn(ctx context.Context, rt *runtime, printer *eventPrinter, opts runOptions, prompt string) error {
	stream, err := rt.runner.Run(ctx, models.RunParams{
		SessionKey: opts.SessionKey,
		AgentID:    opts.AgentID,
		Model:      opts.Model,
		Messages:   []models.Message{models.UserMessage(prompt)},
	})
	if err != nil {
		return err
	}

	var terminal *models.Event
	stopped := false
	for ev := range stream {
		printer.print(ev)
		if printer.err != nil && !stopped {
			// Nobody can see the rest of the run.
			_ = rt.runner.Abort(opts.SessionKey)
			stopped = true
		}
		if ev.IsTerminal() {
			last := ev
			terminal = &last
		}
	}
	switch {
	case printer.err != nil:
		return printer.err
	case terminal == nil:
		return errRunAborted
	case terminal.Type == models.EventError:
		return fmt.Errorf("%w: %s", errRunFailed, terminal.Error.Message)
	}
	return nil
}

// eventPrinter renders events as human-readable text or JSON lines.
type eventPrinter struct {
	out     io.Writer
	enc     *json.Encoder
	midLine bool
	err     error // first write failure; later events are dropped
}

func newEventPrinter(out io.Writer, asJSON bool) *eventPrinter {
	p := &eventPrinter{out: out}
	if asJSON {
		p.enc = json.NewEncoder(out)
	}
	return p
}

func (p *eventPrinter) print(ev models.Event) {
	if p.err != nil {
		return
	}
	if p.enc != nil {
		if err := p.enc.Encode(ev); err != nil {
			p.err = fmt.Errorf("write event: %w", err)
		}
		return
	}

	switch ev.Type {
	case models.EventTextDelta:
		p.write(fmt.Fprint(p.out, ev.Text.Text))
		p.midLine = !strings.HasSuffix(ev.Text.Text, "\n")
	case models.EventToolCallStart:
		p.line("[tool] %s (%s)", ev.ToolStart.Name, ev.ToolStart.CallID)
	case models.EventToolCallResult:
		status := "ok"
		if ev.ToolResult.IsError {
			status = "error"
		}
		p.line("[tool] %s %s: %s", ev.ToolResult.CallID, status, truncate(oneLine(ev.ToolResult.Result), 120))
	case models.EventModelSwitch:
		p.line("[failover] %s -> %s (%s)", ev.ModelSwitch.From, ev.ModelSwitch.To, ev.ModelSwitch.Reason)
	case models.EventCompaction:
		c := ev.Compaction
		p.line("[compaction] %s: %d -> %d messages, %s -> %s tokens", c.Strategy,
			c.MessagesBefore, c.MessagesAfter,
			usage.FormatTokenCount(int64(c.TokensBefore)), usage.FormatTokenCount(int64(c.TokensAfter)))
	case models.EventError:
		p.line("[error] %s", ev.Error.Message)
	case models.EventComplete:
		p.line("[done] %s, %s", ev.Complete.Model, usage.FormatUsage(ev.Complete.Usage))
	}
}

// line starts a fresh line when streamed text left the cursor mid-line.
func (p *eventPrinter) line(format string, args ...any) {
	if p.err != nil {
		return
	}
	if p.midLine {
		p.write(fmt.Fprintln(p.out))
		p.midLine = false
	}
	p.write(fmt.Fprintf(p.out, format+"\n", args...))
}

func (p *eventPrinter) write(_ int, err error) {
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("write output: %w", err)
	}
}

func (p *eventPrinter) totals(totals []usage.ModelTotal) {
	if p.enc != nil || len(totals) == 0 {
		return
	}
	p.line("")
	p.line("Usage")
	for _, t := range totals {
		p.line("  %-40s %4d requests  %s", t.Provider+"/"+t.Model, t.Requests, usage.FormatUsage(t.Usage))
	}
}

// =============================================================================
// Routing Command Helpers
// =============================================================================

// printRoute shows the attributes parsed from a session key and the agent
// and model chain they resolve to.
func printRoute(out io.Writer, configPath, sessionKey string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	resolver := routing.NewResolver(cfg)
	attrs := routing.ParseSessionKey(sessionKey)
	agentID := resolver.ResolveAgentID(sessionKey)

	fmt.Fprintf(out, "Session:  %s\n", sessionKey)
	fmt.Fprintf(out, "Channel:  %s\n", orDash(attrs.Channel))
	fmt.Fprintf(out, "Account:  %s\n", orDash(attrs.AccountID))
	fmt.Fprintf(out, "Peer:     %s\n", orDash(strings.Trim(attrs.PeerKind+":"+attrs.PeerID, ":")))
	if attrs.GuildID != "" {
		fmt.Fprintf(out, "Guild:    %s\n", attrs.GuildID)
	}
	fmt.Fprintf(out, "Agent:    %s\n", agentID)

	chain, err := resolver.ResolveModelChain(agentID)
	if err != nil {
		return err
	}
	refs := chain.Models()
	names := make([]string, len(refs))
	for i, ref := range refs {
		names[i] = ref.String()
	}
	fmt.Fprintf(out, "Models:   %s\n", strings.Join(names, " -> "))
	return nil
}

// printAgentsList prints the configured agents; the default is starred.
func printAgentsList(out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	resolver := routing.NewResolver(cfg)
	ids := resolver.ListAgentIDs()

	fmt.Fprintln(out, "Configured Agents")
	fmt.Fprintln(out, "=================")
	fmt.Fprintln(out)
	if len(ids) == 0 {
		fmt.Fprintln(out, "No agents defined.")
		return nil
	}

	fmt.Fprintln(out, "ID            Model                          Fallbacks  Tools")
	fmt.Fprintln(out, "------------  -----------------------------  ---------  ----------------")
	for _, id := range ids {
		agent := cfg.Agents[id]
		marker := " "
		if id == resolver.DefaultAgentID() {
			marker = "*"
		}
		tools := "all"
		if len(agent.Tools) > 0 {
			tools = strings.Join(agent.Tools, ",")
		}
		fmt.Fprintf(out, "%s%-11s  %-29s  %-9d  %s\n", marker, truncate(id, 11),
			truncate(orDash(agent.Model), 29), len(agent.Fallbacks), truncate(tools, 16))
	}
	fmt.Fprintln(out)
	return nil
}

// =============================================================================
// Config Command Helpers
// =============================================================================

func printConfigSchema(out io.Writer) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	_, err = fmt.Fprintln(out, string(schema))
	return err
}

func printConfigValidate(out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	backend := cfg.Sessions.Backend
	if backend == "" {
		backend = config.BackendMemory
	}
	fmt.Fprintf(out, "Config OK: %s\n", configPath)
	fmt.Fprintf(out, "  version:   %d\n", cfg.Version)
	fmt.Fprintf(out, "  agents:    %d (default %s)\n", len(cfg.Agents), cfg.DefaultAgent)
	fmt.Fprintf(out, "  providers: %d\n", len(cfg.Providers))
	fmt.Fprintf(out, "  bindings:  %d\n", len(cfg.Bindings))
	fmt.Fprintf(out, "  sessions:  %s\n", backend)
	return nil
}

// =============================================================================
// Session Command Helpers
// =============================================================================

func printSession(ctx context.Context, out io.Writer, configPath, sessionKey string, limit int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Sessions.Backend == "" || cfg.Sessions.Backend == config.BackendMemory {
		fmt.Fprintln(out, "Sessions use the memory backend; nothing is kept between processes.")
		return nil
	}

	store, err := sessions.Open(ctx, cfg.Sessions)
	if err != nil {
		return fmt.Errorf("open sessions: %w", err)
	}
	defer store.Close()

	history, err := store.GetHistory(ctx, sessionKey, limit)
	if err != nil {
		return err
	}
	record, err := store.GetCompactionRecord(ctx, sessionKey)
	if err != nil {
		return err
	}
	writeSession(out, sessionKey, history, record)
	return nil
}

func writeSession(out io.Writer, sessionKey string, history []models.Message, record sessions.CompactionRecord) {
	fmt.Fprintf(out, "Session: %s\n", sessionKey)
	if record.Count > 0 {
		fmt.Fprintf(out, "Compacted %d times, last %s (%s)\n", record.Count,
			record.LastCompactedAt.Format("2006-01-02 15:04:05"), record.LastStrategy)
	}
	fmt.Fprintln(out)
	if len(history) == 0 {
		fmt.Fprintln(out, "No messages.")
		return
	}
	for _, msg := range history {
		switch {
		case len(msg.ToolCalls) > 0:
			for _, call := range msg.ToolCalls {
				fmt.Fprintf(out, "%-9s -> %s %s\n", msg.Role, call.Name, truncate(oneLine(string(call.Input)), 80))
			}
		case len(msg.ToolResults) > 0:
			for _, res := range msg.ToolResults {
				fmt.Fprintf(out, "%-9s <- %s\n", msg.Role, truncate(oneLine(res.Content), 80))
			}
		}
		if msg.Content != "" {
			fmt.Fprintf(out, "%-9s %s\n", msg.Role, truncate(oneLine(msg.Content), 100))
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
