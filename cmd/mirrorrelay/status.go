package main

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/agentworkforce/mirrorrelay/internal/statedoc"
)

const statusHistoryEvents = 10

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the aggregated sync status across all mirrors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			rl, err := newOneShotRelay(cfg, logger)
			if err != nil {
				return err
			}
			state := rl.Status(cmd.Context(), cfg)
			return writeState(cmd.OutOrStdout(), opts.Format, state)
		},
	}
}

func writeState(w io.Writer, format string, state statedoc.AggregatedState) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	}
	p := message.NewPrinter(language.English)
	lastSync := state.Stats.LastSync
	if lastSync == "" {
		lastSync = "never"
	}
	var b strings.Builder
	p.Fprintf(&b, "Mirrors reporting: %d/%d\nTotal syncs: %d\nTotal files: %d\nAverage per sync: %.1f files\nLast sync: %s\n",
		state.AvailableSources(), len(state.Sources),
		state.Stats.TotalSyncs, state.Stats.TotalFiles,
		state.AverageFilesPerSync(), lastSync,
	)
	for _, src := range state.Sources {
		if src.Available {
			p.Fprintf(&b, "  %s: ok\n", src.Mirror)
			continue
		}
		p.Fprintf(&b, "  %s: unavailable (%s)\n", src.Mirror, src.Error)
	}
	if recent := state.Recent(statusHistoryEvents); len(recent) == 0 {
		b.WriteString("No sync history yet.\n")
	} else {
		b.WriteString("Recent syncs:\n")
		for _, ev := range recent {
			p.Fprintf(&b, "  %s  %d files\n", ev.Time, ev.Files)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
