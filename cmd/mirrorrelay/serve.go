package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/agentworkforce/mirrorrelay/internal/config"
	"github.com/agentworkforce/mirrorrelay/internal/httpapi"
	"github.com/agentworkforce/mirrorrelay/internal/observability"
	"github.com/agentworkforce/mirrorrelay/internal/relay"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server, update workers and the sync scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, unix.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, logger, err := loadConfig(opts, nil)
	if err != nil {
		return err
	}
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	store := config.NewStore(cfg)
	metrics := observability.NewMetrics()

	if path := strings.TrimSpace(opts.ConfigPath); path != "" {
		watchOpts := config.WatchOptions{Logger: logger.With().Str("component", "config").Logger()}
		if err := config.Watch(ctx, path, store, watchOpts); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("config hot reload disabled")
		}
	}

	if strings.TrimSpace(cfg.Telegram.BotToken) != "" && strings.TrimSpace(cfg.Telegram.ChatID) == "" {
		logger.Warn().Msg("telegram.chat_id is empty; chat updates will be ignored")
	}

	queue, err := relay.BuildUpdateQueueFromDSN(cfg.Queue.DSN, cfg.Queue.Capacity)
	if err != nil {
		return err
	}
	c := buildComponents(cfg, logger, metrics)
	notifier := relay.NewTelegramClient(relay.TelegramClientOptions{
		BaseURL: cfg.Telegram.APIBase,
		TokenProvider: func(context.Context) (string, error) {
			return store.Load().Telegram.BotToken, nil
		},
		UserAgent: appName,
	})
	rl, err := relay.New(relay.Options{
		Config:         store.Load,
		Trigger:        c.orchestrator,
		State:          c.aggregator,
		Notifier:       notifier,
		Queue:          queue,
		Workers:        cfg.Queue.Workers,
		PrimaryBranch:  c.dispatcher.PrimaryBranch(),
		FallbackBranch: c.dispatcher.FallbackBranch(),
		Logger:         logger.With().Str("component", "relay").Logger(),
		Metrics:        metrics,
	})
	if err != nil {
		_ = queue.Close()
		return err
	}
	rl.Start(ctx)

	scheduler := relay.NewScheduler(rl, relay.SchedulerOptions{
		Config: store.Load,
		Logger: logger.With().Str("component", "scheduler").Logger(),
	})
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Run(ctx)
	}()

	handler := httpapi.NewServer(rl, httpapi.ServerConfig{
		Config:          store.Load,
		InternalMaxSkew: cfg.Server.InternalMaxSkew.Duration,
		RateLimitMax:    cfg.Server.RateLimitMax,
		RateLimitWindow: cfg.Server.RateLimitWindow.Duration,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		StreamInterval:  cfg.Server.StreamInterval.Duration,
		Logger:          logger.With().Str("component", "http").Logger(),
		Metrics:         metrics,
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()
	logger.Info().
		Str("addr", cfg.Server.Addr).
		Strs("mirrors", cfg.GitHub.Mirrors).
		Bool("schedule", cfg.Schedule.Enabled).
		Dur("interval", cfg.Schedule.Interval.Duration).
		Msg("mirrorrelay listening")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}
	if err := rl.Close(); err != nil {
		logger.Warn().Err(err).Msg("relay close failed")
	}
	<-schedulerDone
	return runErr
}
