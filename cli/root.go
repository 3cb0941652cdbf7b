// Package cli implements the petalmcp command line: an interactive chat
// loop plus one-shot commands for queries, tool listing and history.
package cli

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petalmcp/llm"
	"github.com/petal-labs/petalmcp/provider"
)

// Deps are the seams a session is built from. The zero value uses the
// real subprocess transports and model backends.
type Deps struct {
	// Dial replaces the provider transport dialer.
	Dial provider.Dialer
	// NewModel replaces the model backend constructor.
	NewModel func(Settings) (llm.Client, error)
	// Input replaces the interactive line editor.
	Input func() LineReader
	// Backoff overrides the base delay between connection attempts.
	Backoff time.Duration
}

// NewRootCmd builds the command tree. Running the root command starts the
// interactive chat.
func NewRootCmd(version string, deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "petalmcp [script.py|script.js|server:<name>]",
		Short: "Chat with a local model that can call MCP tools",
		Long: "petalmcp connects to MCP tool providers, sends your queries to a model, " +
			"runs the tools it asks for and reports back the answer.",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		Version:      version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, args, deps)
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolP("verbose", "v", false, "Enable verbose/debug logging")
	flags.String("config", "", "Provider config file (default: ./mcp-servers-config.json, ./petalmcp.yaml, ~/.petalmcp/config.yaml)")
	flags.StringArray("server", nil, "Connect only this configured server (repeatable)")
	flags.String("model", llm.DefaultModel, "Model name")
	flags.Float64("temperature", llm.DefaultTemperature, "Sampling temperature")
	flags.String("llm-provider", "ollama", "Model backend: ollama | openai | anthropic")
	flags.String("ollama-url", llm.DefaultOllamaURL, "Ollama server address")
	flags.String("api-key", "", "API key for hosted model backends")
	flags.Int("max-retries", provider.DefaultMaxRetries, "Connection attempts per provider")
	flags.String("history-db", "", "Transcript database (default: ~/.petalmcp/history.db)")
	flags.Bool("no-history", false, "Do not record transcripts")
	flags.String("otlp-endpoint", "", "Export traces to this OTLP/HTTP URL")
	flags.String("health-schedule", "", "Cron schedule for provider health checks, e.g. @every 30s")
	flags.Bool("validate-args", false, "Validate tool arguments against their input schema")
	flags.Float64("rate-limit", 0, "Maximum model requests per second (0 = unlimited)")

	cmd.SetVersionTemplate("petalmcp version {{.Version}}\n")

	cmd.AddCommand(newAskCmd(deps))
	cmd.AddCommand(newToolsCmd(deps))
	cmd.AddCommand(newServersCmd())
	cmd.AddCommand(newHistoryCmd())
	return cmd
}

// Settings are the resolved persistent flags.
type Settings struct {
	Verbose        bool
	ConfigPath     string
	Servers        []string
	Model          string
	Temperature    float64
	LLMProvider    string
	OllamaURL      string
	APIKey         string
	MaxRetries     int
	HistoryDB      string
	NoHistory      bool
	OTLPEndpoint   string
	HealthSchedule string
	ValidateArgs   bool
	RateLimit      float64
}

func readSettings(cmd *cobra.Command) Settings {
	flags := cmd.Flags()
	var s Settings
	s.Verbose, _ = flags.GetBool("verbose")
	s.ConfigPath, _ = flags.GetString("config")
	s.Servers, _ = flags.GetStringArray("server")
	s.Model, _ = flags.GetString("model")
	s.Temperature, _ = flags.GetFloat64("temperature")
	s.LLMProvider, _ = flags.GetString("llm-provider")
	s.OllamaURL, _ = flags.GetString("ollama-url")
	s.APIKey, _ = flags.GetString("api-key")
	s.MaxRetries, _ = flags.GetInt("max-retries")
	s.HistoryDB, _ = flags.GetString("history-db")
	s.NoHistory, _ = flags.GetBool("no-history")
	s.OTLPEndpoint, _ = flags.GetString("otlp-endpoint")
	s.HealthSchedule, _ = flags.GetString("health-schedule")
	s.ValidateArgs, _ = flags.GetBool("validate-args")
	s.RateLimit, _ = flags.GetFloat64("rate-limit")
	if s.MaxRetries < 1 {
		s.MaxRetries = 1
	}
	return s
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
