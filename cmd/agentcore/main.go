// Package main provides the CLI entry point for agentcore.
//
// agentcore runs configured agents against LLM providers with model
// failover, context compaction and nested subagents.
//
// # Basic Usage
//
// Run a single turn:
//
//	agentcore run --config agentcore.yaml "summarize the release notes"
//
// Start an interactive session (one turn per input line):
//
//	agentcore run --session cli:local:dm:me
//
// Inspect routing and configuration:
//
//	agentcore route slack:acme:dm:alice
//	agentcore agents
//	agentcore config validate
//
// # Environment Variables
//
//   - AGENTCORE_CONFIG: Path to configuration file (default: agentcore.yaml)
//
// ${VAR} references in the config file are expanded from the environment,
// so provider keys usually appear as api_key: ${ANTHROPIC_API_KEY}.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// DefaultConfigPath is used when neither --config nor AGENTCORE_CONFIG is set.
const DefaultConfigPath = "agentcore.yaml"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentcore",
		Short: "agentcore - multi-agent LLM execution core",
		Long: `agentcore executes agent turns against LLM providers.

Supported providers: Anthropic, OpenAI (and compatible endpoints), Google Gemini, AWS Bedrock
Sessions: in-memory, SQLite or PostgreSQL`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildRouteCmd(),
		buildAgentsCmd(),
		buildConfigCmd(),
		buildSessionsCmd(),
	)
	return rootCmd
}

func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("AGENTCORE_CONFIG")); env != "" {
		return env
	}
	return DefaultConfigPath
}
