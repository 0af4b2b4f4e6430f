package dispatch

import (
	"context"
	"math/rand"
	"strings"

	"github.com/rs/zerolog"

	"github.com/agentworkforce/mirrorrelay/internal/mirror"
	"github.com/agentworkforce/mirrorrelay/internal/observability"
)

// Shuffler permutes n elements through swap, with the contract of
// rand.Shuffle.
type Shuffler func(n int, swap func(i, j int))

// NoShuffle keeps registry order.
func NoShuffle(int, func(i, j int)) {}

const (
	PathOnDemand  = "on_demand"
	PathScheduled = "scheduled"
	PathDrive     = "drive_change"
	PathInternal  = "internal"
)

type RunRequest struct {
	Path    string
	Mirrors []mirror.Mirror
	Token   string
	// Branch overrides the dispatcher's primary branch when set.
	Branch string
}

// Outcome is the result of one failover run. On exhaustion Err holds only the
// last failure; earlier ones are logged.
type Outcome struct {
	Path      string        `json:"path"`
	OK        bool          `json:"ok"`
	Mirror    mirror.Mirror `json:"mirror,omitzero"`
	Branch    string        `json:"branch,omitempty"`
	Attempted []string      `json:"attempted"`
	Err       *Failure      `json:"error,omitempty"`
}

type OrchestratorOptions struct {
	Shuffle Shuffler
	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

type Orchestrator struct {
	dispatcher Dispatcher
	shuffle    Shuffler
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

func NewOrchestrator(dispatcher Dispatcher, opts OrchestratorOptions) *Orchestrator {
	shuffle := opts.Shuffle
	if shuffle == nil {
		shuffle = rand.Shuffle
	}
	return &Orchestrator{
		dispatcher: dispatcher,
		shuffle:    shuffle,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
}

// Run deduplicates and shuffles the mirror set once, then tries each mirror
// in turn until one trigger succeeds.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) Outcome {
	out := Outcome{Path: req.Path, Attempted: []string{}}
	if strings.TrimSpace(req.Token) == "" {
		out.Err = missingCredential()
		o.finish(out)
		return out
	}
	mirrors := mirror.Dedupe(req.Mirrors)
	if len(mirrors) == 0 {
		out.Err = &Failure{Kind: KindNoMirrors, Cause: CauseNoMirrors}
		o.finish(out)
		return out
	}
	o.shuffle(len(mirrors), func(i, j int) {
		mirrors[i], mirrors[j] = mirrors[j], mirrors[i]
	})

	for _, m := range mirrors {
		if err := ctx.Err(); err != nil {
			out.Err = transportFailure(err)
			break
		}
		out.Attempted = append(out.Attempted, m.String())
		res := o.dispatcher.TriggerBranch(ctx, m, req.Token, req.Branch)
		if res.OK() {
			out.OK = true
			out.Mirror = res.Mirror
			out.Branch = res.Branch
			out.Err = nil
			break
		}
		out.Err = res.Err
		o.logger.Warn().
			Str("path", req.Path).
			Str("mirror", m.String()).
			Str("branch", res.Branch).
			Str("kind", string(res.Err.Kind)).
			Str("cause", res.Err.Cause).
			Msg("mirror trigger failed, trying next")
	}
	o.finish(out)
	return out
}

func (o *Orchestrator) finish(out Outcome) {
	o.metrics.RecordFailoverRun(out.Path, out.OK)
	if out.OK {
		o.logger.Info().
			Str("path", out.Path).
			Str("mirror", out.Mirror.String()).
			Str("branch", out.Branch).
			Int("attempted", len(out.Attempted)).
			Msg("sync triggered")
		return
	}
	ev := o.logger.Error().Str("path", out.Path).Int("attempted", len(out.Attempted))
	if out.Err != nil {
		ev = ev.Str("kind", string(out.Err.Kind)).Str("cause", out.Err.Cause)
	}
	ev.Msg("all mirrors failed")
}
