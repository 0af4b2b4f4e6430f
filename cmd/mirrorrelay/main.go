package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agentworkforce/mirrorrelay/internal/config"
	"github.com/agentworkforce/mirrorrelay/internal/dispatch"
	"github.com/agentworkforce/mirrorrelay/internal/observability"
	"github.com/agentworkforce/mirrorrelay/internal/relay"
	"github.com/agentworkforce/mirrorrelay/internal/statedoc"
)

const appName = "mirrorrelay"

var validFormats = []string{"text", "json"}

type rootOptions struct {
	ConfigPath string
	LogLevel   string
	Format     string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Relay chat commands and timers into mirror sync triggers",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", strings.TrimSpace(os.Getenv("MIRRORRELAY_CONFIG")), "path to the TOML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level override (trace|debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newTriggerCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range validFormats {
		if f == format {
			return true
		}
	}
	return false
}

// loadConfig reads the config and builds the process logger from it.
func loadConfig(opts *rootOptions, logOut io.Writer) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	level := cfg.Log.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	return cfg, observability.NewLogger(appName, level, logOut), nil
}

type components struct {
	dispatcher   *dispatch.HTTPDispatcher
	orchestrator *dispatch.Orchestrator
	aggregator   *statedoc.Aggregator
}

// buildComponents wires the outbound clients. Endpoints and the timezone
// come from the startup config; hot reloads do not move them.
func buildComponents(cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics) components {
	dispatcher := dispatch.NewHTTPDispatcher(dispatch.HTTPDispatcherOptions{
		APIBase:        cfg.GitHub.APIBase,
		Workflow:       cfg.GitHub.Workflow,
		PrimaryBranch:  cfg.GitHub.PrimaryBranch,
		FallbackBranch: cfg.GitHub.FallbackBranch,
		UserAgent:      appName,
		Logger:         logger.With().Str("component", "dispatch").Logger(),
		Metrics:        metrics,
	})
	orchestrator := dispatch.NewOrchestrator(dispatcher, dispatch.OrchestratorOptions{
		Logger:  logger.With().Str("component", "failover").Logger(),
		Metrics: metrics,
	})
	fetcher := statedoc.NewHTTPFetcher(statedoc.HTTPFetcherOptions{
		BaseURL:   cfg.GitHub.RawBase,
		Branch:    cfg.GitHub.StateBranch,
		Path:      cfg.GitHub.StatePath,
		UserAgent: appName,
		Logger:    logger.With().Str("component", "statedoc").Logger(),
		Metrics:   metrics,
	})
	aggregator := statedoc.NewAggregator(fetcher, statedoc.AggregatorOptions{
		Location: cfg.Location(),
		Logger:   logger.With().Str("component", "aggregate").Logger(),
	})
	return components{dispatcher: dispatcher, orchestrator: orchestrator, aggregator: aggregator}
}

// newOneShotRelay builds a relay for a single CLI invocation: no notifier,
// no workers.
func newOneShotRelay(cfg *config.Config, logger zerolog.Logger) (*relay.Relay, error) {
	c := buildComponents(cfg, logger, nil)
	return relay.New(relay.Options{
		Config:         func() *config.Config { return cfg },
		Trigger:        c.orchestrator,
		State:          c.aggregator,
		PrimaryBranch:  c.dispatcher.PrimaryBranch(),
		FallbackBranch: c.dispatcher.FallbackBranch(),
		Logger:         logger,
	})
}
