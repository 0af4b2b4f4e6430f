package statedoc

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/agentworkforce/mirrorrelay/internal/mirror"
)

// Merge folds per-mirror results into one state. Unavailable mirrors add
// nothing but still appear in Sources. History keeps every event (no
// deduplication) ordered newest first; events whose time cannot be parsed
// go last in their original order.
func Merge(results []FetchResult, loc *time.Location) AggregatedState {
	state := AggregatedState{
		History: []SyncEvent{},
		Sources: make([]SourceStatus, 0, len(results)),
	}
	for _, r := range results {
		src := SourceStatus{Mirror: r.Mirror.String(), Available: r.Available}
		if r.Err != nil {
			src.Error = r.Err.Error()
		}
		state.Sources = append(state.Sources, src)
		if !r.Available {
			continue
		}
		state.Stats.TotalSyncs += r.Document.Stats.TotalSyncs
		state.Stats.TotalFiles += r.Document.Stats.TotalFiles
		state.Stats.LastSync = laterStamp(state.Stats.LastSync, r.Document.Stats.LastSync, loc)
		state.History = append(state.History, r.Document.History...)
	}
	state.History = sortHistory(state.History, loc)
	return state
}

type keyedEvent struct {
	event  SyncEvent
	at     time.Time
	parsed bool
}

func sortHistory(events []SyncEvent, loc *time.Location) []SyncEvent {
	keyed := make([]keyedEvent, len(events))
	for i, ev := range events {
		at, ok := ParseTime(ev.Time, loc)
		keyed[i] = keyedEvent{event: ev, at: at, parsed: ok}
	}
	sort.SliceStable(keyed, func(i, j int) bool {
		a, b := keyed[i], keyed[j]
		if a.parsed != b.parsed {
			return a.parsed
		}
		if !a.parsed {
			return false
		}
		return a.at.After(b.at)
	})
	out := make([]SyncEvent, len(keyed))
	for i, k := range keyed {
		out[i] = k.event
	}
	return out
}

type AggregatorOptions struct {
	// Concurrency caps in-flight fetches; zero means one per mirror.
	Concurrency int
	Location    *time.Location
	Logger      zerolog.Logger
}

type Aggregator struct {
	fetcher     Fetcher
	concurrency int
	location    *time.Location
	logger      zerolog.Logger
}

func NewAggregator(fetcher Fetcher, opts AggregatorOptions) *Aggregator {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{
		fetcher:     fetcher,
		concurrency: opts.Concurrency,
		location:    loc,
		logger:      opts.Logger,
	}
}

func (a *Aggregator) Location() *time.Location {
	return a.location
}

// Aggregate fetches every mirror concurrently and merges the results in
// registry order, independent of completion order.
func (a *Aggregator) Aggregate(ctx context.Context, mirrors []mirror.Mirror) AggregatedState {
	mirrors = mirror.Dedupe(mirrors)
	results := make([]FetchResult, len(mirrors))

	var g errgroup.Group
	if a.concurrency > 0 {
		g.SetLimit(a.concurrency)
	}
	for i, m := range mirrors {
		i, m := i, m
		g.Go(func() error {
			results[i] = a.fetcher.Fetch(ctx, m)
			return nil
		})
	}
	_ = g.Wait()

	state := Merge(results, a.location)
	a.logger.Debug().
		Int("mirrors", len(mirrors)).
		Int("available", state.AvailableSources()).
		Int("totalSyncs", state.Stats.TotalSyncs).
		Msg("aggregated mirror state")
	return state
}
