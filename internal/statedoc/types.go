// Package statedoc reads the status documents each mirror publishes and folds
// them into one aggregated view.
package statedoc

import (
	"math"
	"time"

	"github.com/agentworkforce/mirrorrelay/internal/mirror"
)

type Stats struct {
	TotalSyncs int    `json:"totalSyncs"`
	TotalFiles int    `json:"totalFiles"`
	LastSync   string `json:"lastSync"`
}

// SyncEvent is one completed sync run on one mirror.
type SyncEvent struct {
	Time    string `json:"time"`
	Files   int    `json:"files"`
	Details string `json:"details,omitempty"`
}

type StatusDocument struct {
	Stats   Stats       `json:"stats"`
	History []SyncEvent `json:"history"`
}

// FetchResult is the outcome of reading one mirror's document. When
// Available is false the Document is zero and Err says why; callers treat it
// the same as a mirror that has never synced.
type FetchResult struct {
	Mirror    mirror.Mirror
	Document  StatusDocument
	Available bool
	Err       error
}

type SourceStatus struct {
	Mirror    string `json:"mirror"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// AggregatedState is recomputed on every read and never persisted.
type AggregatedState struct {
	Stats   Stats          `json:"stats"`
	History []SyncEvent    `json:"history"`
	Sources []SourceStatus `json:"sources"`
}

// Recent returns at most n events from the head of the (newest first) history.
func (s AggregatedState) Recent(n int) []SyncEvent {
	if n <= 0 || len(s.History) == 0 {
		return nil
	}
	if n > len(s.History) {
		n = len(s.History)
	}
	return append([]SyncEvent(nil), s.History[:n]...)
}

// Window counts events and files whose time is less than d before now.
// Events with unparseable times are not counted.
func (s AggregatedState) Window(now time.Time, d time.Duration, loc *time.Location) (events, files int) {
	for _, ev := range s.History {
		at, ok := ParseTime(ev.Time, loc)
		if !ok {
			continue
		}
		if now.Sub(at) < d {
			events++
			files += ev.Files
		}
	}
	return events, files
}

// AverageFilesPerSync is rounded to one decimal place; zero when no syncs ran.
func (s AggregatedState) AverageFilesPerSync() float64 {
	if s.Stats.TotalSyncs <= 0 {
		return 0
	}
	return math.Round(float64(s.Stats.TotalFiles)/float64(s.Stats.TotalSyncs)*10) / 10
}

func (s AggregatedState) AvailableSources() int {
	n := 0
	for _, src := range s.Sources {
		if src.Available {
			n++
		}
	}
	return n
}
