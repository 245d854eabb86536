package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Run Command
// =============================================================================

// DefaultSessionKey is the session used when --session is not given.
const DefaultSessionKey = "cli:local:dm:local"

func buildRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Execute an agent turn",
		Long: `Execute one agent turn and stream its events to stdout.

With no prompt argument, each line read from stdin is run as a turn on the
same session until EOF. The config file is watched and reloaded between
turns. Interrupt aborts the turn in flight.`,
		Example: `  # One turn with the default agent
  agentcore run "what changed in v2?"

  # Pin an agent and a model, emit JSON lines
  agentcore run --agent research --model openai/gpt-4o --json "compare the two drafts"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConfigPath = resolveConfigPath(opts.ConfigPath)
			return runAgent(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVarP(&opts.SessionKey, "session", "s", DefaultSessionKey, "Session key")
	cmd.Flags().StringVarP(&opts.AgentID, "agent", "a", "", "Agent id (default: resolved from session bindings)")
	cmd.Flags().StringVarP(&opts.Model, "model", "m", "", "Model override as provider/model")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Emit events as JSON lines")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

// =============================================================================
// Routing Commands
// =============================================================================

func buildRouteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "route <session-key>",
		Short: "Show which agent and models a session resolves to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return printRoute(cmd.OutOrStdout(), configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	return cmd
}

func buildAgentsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List configured agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return printAgentsList(cmd.OutOrStdout(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	return cmd
}

// =============================================================================
// Config Commands
// =============================================================================

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(buildConfigSchemaCmd(), buildConfigValidateCmd())
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON Schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printConfigSchema(cmd.OutOrStdout())
		},
	}
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return printConfigValidate(cmd.OutOrStdout(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	return cmd
}

// =============================================================================
// Session Commands
// =============================================================================

func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored sessions",
	}
	cmd.AddCommand(buildSessionsShowCmd())
	return cmd
}

func buildSessionsShowCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "show <session-key>",
		Short: "Print a session's history and compaction record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return printSession(cmd.Context(), cmd.OutOrStdout(), configPath, args[0], limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum messages to show (0 = all)")
	return cmd
}
