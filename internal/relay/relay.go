// Package relay turns inbound updates (chat commands, drive change
// notifications, scheduler ticks) into failover runs and status replies.
package relay

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentworkforce/mirrorrelay/internal/config"
	"github.com/agentworkforce/mirrorrelay/internal/dispatch"
	"github.com/agentworkforce/mirrorrelay/internal/mirror"
	"github.com/agentworkforce/mirrorrelay/internal/observability"
	"github.com/agentworkforce/mirrorrelay/internal/statedoc"
)

// Triggerer runs one failover pass over the mirror set.
type Triggerer interface {
	Run(ctx context.Context, req dispatch.RunRequest) dispatch.Outcome
}

type StateReader interface {
	Aggregate(ctx context.Context, mirrors []mirror.Mirror) statedoc.AggregatedState
}

type Options struct {
	// Config returns the snapshot used for one invocation.
	Config   func() *config.Config
	Trigger  Triggerer
	State    StateReader
	Notifier Notifier
	Queue    UpdateQueue
	Workers  int
	// PrimaryBranch and FallbackBranch name the branches the Trigger
	// dispatches on. Empty values fall back to the snapshot's.
	PrimaryBranch  string
	FallbackBranch string
	// HandleTimeout bounds one update; zero leaves it to the HTTP clients.
	HandleTimeout time.Duration
	Now           func() time.Time
	Logger        zerolog.Logger
	Metrics       *observability.Metrics
}

type Relay struct {
	config        func() *config.Config
	trigger       Triggerer
	state         StateReader
	notifier      Notifier
	queue         UpdateQueue
	workers       int
	branches      [2]string
	handleTimeout time.Duration
	now           func() time.Time
	logger        zerolog.Logger
	metrics       *observability.Metrics

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(opts Options) (*Relay, error) {
	if opts.Config == nil || opts.Trigger == nil || opts.State == nil {
		return nil, fmt.Errorf("%w: config, trigger and state are required", ErrInvalidInput)
	}
	queue := opts.Queue
	if queue == nil {
		queue = NewInMemoryUpdateQueue(0)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Relay{
		config:        opts.Config,
		trigger:       opts.Trigger,
		state:         opts.State,
		notifier:      opts.Notifier,
		queue:         queue,
		workers:       workers,
		branches:      [2]string{strings.TrimSpace(opts.PrimaryBranch), strings.TrimSpace(opts.FallbackBranch)},
		handleTimeout: opts.HandleTimeout,
		now:           now,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
	}, nil
}

// Ingest stamps u and queues it for the workers. It never blocks: a full
// queue returns ErrQueueFull.
func (r *Relay) Ingest(ctx context.Context, u Update) (Update, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return Update{}, ErrClosed
	}
	if strings.TrimSpace(u.ID) == "" {
		u.ID = uuid.NewString()
	}
	if u.ReceivedAt.IsZero() {
		u.ReceivedAt = r.now().UTC()
	}
	if err := u.validate(); err != nil {
		return Update{}, err
	}
	if !r.queue.TryEnqueue(u) {
		r.metrics.RecordUpdate(string(u.Kind), "rejected")
		return Update{}, ErrQueueFull
	}
	r.logger.Debug().Str("update", u.ID).Str("kind", string(u.Kind)).Int("depth", r.queue.Depth()).Msg("update queued")
	return u, nil
}

// Start launches the worker pool. Workers stop when ctx is done or Close is
// called.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true
	workerCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.runWorker(workerCtx, i)
	}
}

func (r *Relay) runWorker(ctx context.Context, id int) {
	defer r.wg.Done()
	for {
		u, ok := r.queue.Dequeue(ctx)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if err := r.Handle(ctx, u); err != nil {
			r.logger.Error().Err(err).Int("worker", id).Str("update", u.ID).Msg("update handling failed")
		}
	}
}

func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	return r.queue.Close()
}

func (r *Relay) QueueDepth() int {
	return r.queue.Depth()
}

// Handle processes one update to completion. It is the outer boundary of an
// invocation: panics are recovered and reported as errors.
func (r *Relay) Handle(ctx context.Context, u Update) (err error) {
	started := r.now()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic handling %s update %s: %v", u.Kind, u.ID, rec)
			r.logger.Error().Str("stack", string(debug.Stack())).Msg("recovered panic in relay")
		}
		result := "ok"
		if err != nil {
			result = "error"
		}
		r.metrics.RecordUpdate(string(u.Kind), result)
		r.logger.Debug().
			Str("update", u.ID).
			Str("kind", string(u.Kind)).
			Dur("took", r.now().Sub(started)).
			Msg("update handled")
	}()
	if r.handleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.handleTimeout)
		defer cancel()
	}

	cfg := r.config()
	if cfg == nil {
		return fmt.Errorf("%w: no config snapshot", ErrInvalidInput)
	}
	switch u.Kind {
	case KindScheduled:
		r.Sync(ctx, cfg, dispatch.PathScheduled, "")
		return nil
	case KindDriveChange:
		r.Sync(ctx, cfg, dispatch.PathDrive, "")
		return nil
	case KindCommand, KindCallback:
		return r.handleChat(ctx, cfg, u)
	default:
		return fmt.Errorf("%w: update kind %q", ErrInvalidInput, u.Kind)
	}
}

// Sync runs one failover pass with the snapshot's credential and mirrors.
func (r *Relay) Sync(ctx context.Context, cfg *config.Config, path, branch string) dispatch.Outcome {
	return r.trigger.Run(ctx, dispatch.RunRequest{
		Path:    path,
		Mirrors: cfg.MirrorList(),
		Token:   cfg.GitHub.Token,
		Branch:  branch,
	})
}

// Status aggregates the snapshot's mirror set.
func (r *Relay) Status(ctx context.Context, cfg *config.Config) statedoc.AggregatedState {
	return r.state.Aggregate(ctx, cfg.MirrorList())
}

func (r *Relay) handleChat(ctx context.Context, cfg *config.Config, u Update) error {
	allowed := strings.TrimSpace(cfg.Telegram.ChatID)
	if allowed == "" || strings.TrimSpace(u.ChatID) != allowed {
		r.logger.Debug().Str("chat", u.ChatID).Msg("ignoring update from unknown chat")
		return nil
	}
	if r.notifier == nil {
		return fmt.Errorf("%w: no notifier configured", ErrInvalidInput)
	}
	if u.Kind == KindCallback && u.CallbackID != "" {
		if err := r.notifier.AnswerCallback(ctx, u.CallbackID); err != nil {
			r.logger.Warn().Err(err).Str("update", u.ID).Msg("answer callback failed")
		}
	}

	v := r.viewOf(cfg)
	reply := func(msg Message) error {
		return r.notifier.Send(ctx, u.ChatID, msg)
	}
	switch parseCommand(u.Text) {
	case "/start", "/help":
		return reply(renderHelp(v))
	case "/dashboard", "/menu":
		return reply(renderDashboard(r.Status(ctx, cfg), v))
	case "/status":
		return reply(renderStatus(r.Status(ctx, cfg), v))
	case "/stats":
		return reply(renderStats(r.Status(ctx, cfg)))
	case "/history":
		return reply(renderHistory(r.Status(ctx, cfg)))
	case "/report":
		return reply(renderReport(r.Status(ctx, cfg), v))
	case "/settings":
		return reply(renderSettings(v))
	case "/sync":
		return r.handleSyncCommand(ctx, cfg, reply)
	default:
		return reply(renderUnknown())
	}
}

func (r *Relay) handleSyncCommand(ctx context.Context, cfg *config.Config, reply func(Message) error) error {
	if strings.TrimSpace(cfg.GitHub.Token) == "" {
		return reply(Message{Text: "Sync failed: " + dispatch.CauseMissingCredential + "."})
	}
	if err := reply(Message{Text: "Triggering sync..."}); err != nil {
		r.logger.Warn().Err(err).Msg("progress reply failed")
	}
	out := r.Sync(ctx, cfg, dispatch.PathOnDemand, "")
	if out.OK {
		return reply(Message{Text: "Sync triggered on " + out.Mirror.Owner + " (" + out.Branch + ")."})
	}
	cause := "unknown error"
	if out.Err != nil {
		cause = out.Err.Cause
	}
	primary, fallback := r.dispatchBranches(cfg)
	return reply(Message{Text: fmt.Sprintf(
		"Sync failed on all %d mirrors.\nLast error: %s\n\nCheck the credential scope and the branch names (%s/%s).",
		len(out.Attempted), cause, primary, fallback,
	)})
}

// dispatchBranches reports the branches the trigger actually uses.
func (r *Relay) dispatchBranches(cfg *config.Config) (string, string) {
	primary, fallback := r.branches[0], r.branches[1]
	if primary == "" {
		primary = cfg.GitHub.PrimaryBranch
	}
	if fallback == "" {
		fallback = cfg.GitHub.FallbackBranch
	}
	return primary, fallback
}

func (r *Relay) viewOf(cfg *config.Config) view {
	mirrors := cfg.MirrorList()
	names := make([]string, 0, len(mirrors))
	for _, m := range mirrors {
		names = append(names, m.String())
	}
	primary, fallback := r.dispatchBranches(cfg)
	return view{
		interval:       cfg.Schedule.Interval.Duration,
		jitter:         cfg.Schedule.Jitter,
		scheduleOn:     cfg.Schedule.Enabled,
		mirrors:        names,
		primaryBranch:  primary,
		fallbackBranch: fallback,
		location:       cfg.Location(),
		now:            r.now(),
	}
}
