package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/petal-labs/petalmcp/config"
	"github.com/petal-labs/petalmcp/conversation"
	"github.com/petal-labs/petalmcp/executor"
	"github.com/petal-labs/petalmcp/llm"
	"github.com/petal-labs/petalmcp/mcp"
	petalotel "github.com/petal-labs/petalmcp/otel"
	"github.com/petal-labs/petalmcp/provider"
	"github.com/petal-labs/petalmcp/transcript"
)

const (
	serverPrefix     = "server:"
	historyRetention = 1000

	// defaultHealthSchedule backs on-demand checks when no schedule is
	// configured. It is never started.
	defaultHealthSchedule = "@every 30s"
)

// session is everything one command invocation needs: connected
// providers, the executor chain, the model and the transcript store.
type session struct {
	settings  Settings
	logger    *slog.Logger
	out       io.Writer
	errOut    io.Writer
	cfg       *config.File
	manager   *provider.Manager
	executor  *executor.Executor
	orch      *conversation.Orchestrator
	store     transcript.Store
	health    *provider.HealthMonitor
	watch     *config.Watcher
	telemetry *petalotel.Telemetry
	deps      Deps
}

type sessionOptions struct {
	// withModel builds the model client and the orchestrator.
	withModel bool
}

// openSession resolves which providers to connect, connects them and
// builds the execution stack. The caller must call close.
func openSession(cmd *cobra.Command, args []string, deps Deps, opts sessionOptions) (*session, error) {
	ctx := commandContext(cmd)
	settings := readSettings(cmd)
	s := &session{
		settings: settings,
		logger:   newLogger(cmd.ErrOrStderr(), settings.Verbose),
		out:      cmd.OutOrStdout(),
		errOut:   cmd.ErrOrStderr(),
		deps:     deps,
	}

	cfg, err := config.Discover(settings.ConfigPath)
	switch {
	case errors.Is(err, config.ErrNotFound):
	case err != nil:
		return nil, exitError(exitUsage, "%v", err)
	default:
		s.cfg = cfg
		s.logger.Debug("loaded config", "path", cfg.Path(), "servers", cfg.Names())
	}

	var target string
	if len(args) > 0 {
		target = args[0]
	}
	specs, err := resolveTargets(s.cfg, target, settings.Servers)
	if err != nil {
		return nil, err
	}

	telemetry, err := petalotel.Setup(ctx, petalotel.Config{Endpoint: settings.OTLPEndpoint})
	if err != nil {
		return nil, exitError(exitUsage, "%v", err)
	}
	s.telemetry = telemetry

	if err := s.connect(ctx, specs); err != nil {
		s.close()
		return nil, err
	}

	interceptors := []executor.Interceptor{
		executor.AskInterceptor(""),
		executor.ThinkingInterceptor(""),
	}
	var middleware []executor.Middleware
	if settings.ValidateArgs {
		middleware = append(middleware, executor.ValidateArguments(s.manager.Registry()))
	}
	printer := progressPrinter{w: s.errOut, verbose: settings.Verbose}
	s.executor = executor.New(s.manager.Registry(), executor.Options{
		Logger:       s.logger,
		Reporter:     printer.tool,
		Interceptors: interceptors,
		Middleware:   middleware,
		Verbose:      settings.Verbose,
	})

	schedule := settings.HealthSchedule
	if schedule == "" {
		schedule = defaultHealthSchedule
	}
	health, err := provider.NewHealthMonitor(s.manager, schedule, s.logger)
	if err != nil {
		s.close()
		return nil, exitError(exitUsage, "%v", err)
	}
	s.health = health
	if settings.HealthSchedule != "" {
		health.Start()
	}

	if !opts.withModel {
		return s, nil
	}

	client, err := s.newModel()
	if err != nil {
		s.close()
		return nil, exitError(exitUsage, "%v", err)
	}
	if !settings.NoHistory {
		store, err := openStore(settings.HistoryDB)
		if err != nil {
			s.logger.Warn("transcript history disabled", "error", err)
		} else {
			s.store = store
		}
	}
	temp := settings.Temperature
	s.orch = conversation.New(client, s.executor, s.manager.Registry(), conversation.Options{
		Logger:      s.logger,
		Store:       s.store,
		Model:       settings.Model,
		Temperature: &temp,
		Reporter:    printer.turn,
	})
	return s, nil
}

// connect builds the manager and connects specs. It fails only when no
// provider could be connected.
func (s *session) connect(ctx context.Context, specs []provider.Spec) error {
	opts := provider.ManagerOptions{
		Logger:      s.logger,
		Dial:        s.deps.Dial,
		BaseBackoff: s.deps.Backoff,
		ClientInfo:  mcp.Implementation{Name: "petalmcp", Version: "dev"},
		Stderr:      io.Discard,
	}
	if s.settings.Verbose {
		opts.Stderr = s.errOut
	}
	s.manager = provider.NewManager(opts)

	conns, err := s.manager.ConnectAll(ctx, specs, s.settings.MaxRetries)
	if ctx.Err() != nil {
		return exitError(exitInterrupt, "interrupted")
	}
	if err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Fprintln(s.errOut, errorStyle.Render(line))
		}
	}
	if len(conns) == 0 {
		return exitError(exitConnect, "no providers connected")
	}
	for _, conn := range conns {
		s.logger.Info("provider connected", "provider", conn.Name(), "tools", len(conn.Tools()), "attempts", conn.Attempts())
	}
	return nil
}

func (s *session) newModel() (llm.Client, error) {
	var (
		client llm.Client
		err    error
	)
	if s.deps.NewModel != nil {
		client, err = s.deps.NewModel(s.settings)
	} else {
		client, err = llm.NewClient(s.settings.LLMProvider, llm.ProviderConfig{
			APIKey:  s.settings.APIKey,
			BaseURL: s.settings.OllamaURL,
		})
	}
	if err != nil {
		return nil, err
	}
	if s.settings.RateLimit > 0 {
		client = llm.WithRateLimit(client, rate.NewLimiter(rate.Limit(s.settings.RateLimit), 1))
	}
	return client, nil
}

// close releases everything the session opened. It is safe to call on a
// partially built session.
func (s *session) close() {
	ctx := context.Background()
	if s.health != nil {
		s.health.Stop()
	}
	if s.manager != nil {
		if err := s.manager.Close(ctx); err != nil {
			s.logger.Warn("closing providers", "error", err)
		}
	}
	if closer, ok := s.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			s.logger.Warn("closing transcript store", "error", err)
		}
	}
	if s.telemetry != nil {
		if summary, err := s.telemetry.Summary(ctx); err == nil {
			s.logger.Debug("session summary",
				"tool_executions", summary.ToolExecutions,
				"tool_failures", summary.ToolFailures,
				"connect_attempts", summary.ConnectAttempts,
				"health_checks", summary.HealthChecks,
				"turns", summary.Turns,
			)
		}
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown", "error", err)
		}
	}
}

// checkHealth pings every provider now.
func (s *session) checkHealth(ctx context.Context) []string {
	return s.health.CheckAll(ctx)
}

// resolveTargets turns the command line target and --server flags into
// provider specs.
//
// A target is either "server:<name>", a .py or .js script path, or a bare
// configured server name. With no target and no --server flags every
// enabled configured server is used.
func resolveTargets(cfg *config.File, target string, servers []string) ([]provider.Spec, error) {
	lookup := func(name string) (provider.Spec, error) {
		if cfg == nil {
			return provider.Spec{}, exitError(exitUsage, "server %q requested but no config file was found", name)
		}
		spec, err := cfg.Spec(name)
		if err != nil {
			return provider.Spec{}, exitError(exitUsage, "%v (config: %s, available: %s)",
				err, cfg.Path(), strings.Join(cfg.Names(), ", "))
		}
		return spec, nil
	}

	var specs []provider.Spec
	if target != "" {
		var (
			spec provider.Spec
			err  error
		)
		switch ext := strings.ToLower(filepath.Ext(target)); {
		case strings.HasPrefix(target, serverPrefix):
			spec, err = lookup(strings.TrimPrefix(target, serverPrefix))
		case ext == ".py" || ext == ".js":
			spec, err = config.ScriptSpec(target)
			if err != nil {
				err = exitError(exitUsage, "%v", err)
			}
		default:
			spec, err = lookup(target)
		}
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	for _, name := range servers {
		spec, err := lookup(name)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	if len(specs) > 0 {
		return specs, nil
	}

	if cfg == nil {
		return nil, exitError(exitUsage,
			"no server specified and no config file found (looked for %s)", config.DefaultFileName)
	}
	specs = cfg.Specs()
	if len(specs) == 0 {
		return nil, exitError(exitUsage, "config %s has no enabled servers", cfg.Path())
	}
	return specs, nil
}

func openStore(path string) (transcript.Store, error) {
	if path == "" {
		var err error
		path, err = transcript.DefaultSQLitePath()
		if err != nil {
			return nil, err
		}
	}
	store, err := transcript.NewSQLiteStore(transcript.SQLiteStoreConfig{DSN: path, RetentionCount: historyRetention})
	if err != nil {
		return nil, err
	}
	return store, nil
}
