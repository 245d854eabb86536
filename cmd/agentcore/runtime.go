package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/internal/config"
	"github.com/haasonsaas/agentcore/internal/llm"
	"github.com/haasonsaas/agentcore/internal/observability"
	"github.com/haasonsaas/agentcore/internal/providers"
	"github.com/haasonsaas/agentcore/internal/runner"
	"github.com/haasonsaas/agentcore/internal/sessions"
	"github.com/haasonsaas/agentcore/internal/subagent"
	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/internal/tools/system"
	"github.com/haasonsaas/agentcore/internal/usage"
)

// runtime is the fully wired execution stack behind the run command.
type runtime struct {
	snapshot  *config.Snapshot
	logger    *slog.Logger
	metrics   *observability.Metrics
	promReg   *prometheus.Registry
	providers *llm.Registry
	store     sessions.Store
	usage     *usage.Tracker
	runner    *runner.Runner

	closers []func(context.Context) error
}

type runtimeOptions struct {
	ConfigPath string

	// Watch reloads the config file into the live snapshot on change.
	Watch bool

	// MetricsAddr, when set, serves Prometheus metrics on this address.
	// It overrides observability.metrics in the config file.
	MetricsAddr string
}

// newRuntime loads the config and wires providers, storage, observability,
// the pipeline, the subagent coordinator and the runner.
func newRuntime(ctx context.Context, opts runtimeOptions) (*runtime, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	rt := &runtime{
		snapshot: config.NewSnapshot(cfg),
		logger:   observability.NewLogger(observability.LogConfigFrom(cfg.Logging)),
		promReg:  prometheus.NewRegistry(),
		usage:    usage.NewTracker(usage.DefaultTrackerConfig()),
	}
	rt.promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.metrics = observability.NewMetrics(rt.promReg)

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfigFrom(cfg.Observability.Tracing))
	rt.closers = append(rt.closers, shutdownTracer)

	rt.providers, err = providers.BuildRegistry(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.store, err = sessions.Open(ctx, cfg.Sessions)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open sessions: %w", err)
	}
	rt.closers = append(rt.closers, func(context.Context) error { return rt.store.Close() })

	coord := subagent.NewCoordinator(subagent.Options{
		Logger:  rt.logger,
		Metrics: rt.metrics,
		Config:  rt.snapshot,
	})
	pipeline := agent.NewPipeline(agent.Deps{
		Config:    rt.snapshot,
		Providers: rt.providers,
		Tools:     tools.NewRegistry(system.NewUsageTool(rt.usage)),
		RunTools:  coord,
		Usage:     rt.usage,
		Logger:    rt.logger,
		Metrics:   rt.metrics,
		Tracer:    tracer,
	}, agent.LoopConfigFrom(cfg.Execution))
	rt.runner = runner.New(pipeline, runner.Options{
		Store:  rt.store,
		Logger: rt.logger,
	})
	coord.SetExecutor(rt.runner)

	if opts.Watch {
		watcher, err := config.Watch(ctx, opts.ConfigPath, rt.snapshot, config.WatchOptions{
			Logger:   rt.logger,
			OnChange: rt.reloadProviders,
		})
		if err != nil {
			rt.logger.Warn("config hot reload disabled", "error", err)
		} else {
			rt.closers = append(rt.closers, func(context.Context) error { return watcher.Close() })
		}
	}

	if opts.MetricsAddr == "" && cfg.Observability.Metrics.Enabled {
		opts.MetricsAddr = cfg.Observability.Metrics.Addr
	}
	if opts.MetricsAddr != "" {
		rt.serveMetrics(opts.MetricsAddr)
	}
	return rt, nil
}

// reloadProviders registers the providers of a reloaded config. Providers
// removed from the file stay registered until restart.
func (rt *runtime) reloadProviders(cfg *config.Config) {
	reg, err := providers.BuildRegistry(context.Background(), cfg)
	if err != nil {
		rt.logger.Warn("provider reload failed; keeping previous providers", "error", err)
		return
	}
	for _, name := range reg.Names() {
		if p, err := reg.Get(name); err == nil {
			rt.providers.Register(p)
		}
	}
	rt.logger.Info("config reloaded", "agents", len(cfg.Agents), "providers", len(cfg.Providers))
}

func (rt *runtime) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rt.promReg, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	rt.logger.Info("serving metrics", "addr", addr)
	rt.closers = append(rt.closers, server.Shutdown)
}

// Close waits for in-flight runs and releases resources in reverse order.
func (rt *runtime) Close() {
	if rt.runner != nil {
		rt.runner.Wait()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil && rt.logger != nil {
			rt.logger.Warn("shutdown step failed", "error", err)
		}
	}
}
