package relay

import (
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/agentworkforce/mirrorrelay/internal/statedoc"
)

const (
	historyEvents      = 5
	historyDetailLines = 5
	reportWindow       = 24 * time.Hour
)

// parseCommand returns the lowercased first token with any @botname suffix
// removed. Callback data such as "sync" maps to "/sync".
func parseCommand(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	cmd := strings.ToLower(fields[0])
	if at := strings.Index(cmd, "@"); at >= 0 {
		cmd = cmd[:at]
	}
	if !strings.HasPrefix(cmd, "/") {
		cmd = "/" + cmd
	}
	return cmd
}

// view carries what the renderers need from one config snapshot.
type view struct {
	interval       time.Duration
	jitter         float64
	scheduleOn     bool
	mirrors        []string
	primaryBranch  string
	fallbackBranch string
	location       *time.Location
	now            time.Time
}

var printer = message.NewPrinter(language.English)

func count(n int) string {
	return printer.Sprintf("%d", n)
}

func scheduleLine(v view) string {
	if !v.scheduleOn {
		return "Auto-sync: off"
	}
	return "Auto-sync: every " + v.interval.String()
}

func renderHelp(v view) Message {
	return Message{Text: strings.Join([]string{
		"Mirror sync relay",
		"",
		"Commands:",
		"/sync - trigger a sync now",
		"/status - current status",
		"/dashboard - overview",
		"/history - recent syncs",
		"/stats - statistics",
		"/report - last 24 hours",
		"/settings - configuration",
		"/help - this message",
		"",
		scheduleLine(v),
	}, "\n")}
}

func renderDashboard(state statedoc.AggregatedState, v view) Message {
	last := state.Stats.LastSync
	if last == "" {
		last = "never"
	}
	return Message{
		Text: strings.Join([]string{
			"Dashboard",
			"",
			"Total syncs: " + count(state.Stats.TotalSyncs),
			"Files synced: " + count(state.Stats.TotalFiles),
			"Last sync: " + last,
			"",
			scheduleLine(v),
		}, "\n"),
		Buttons: []Button{{Text: "Sync", Data: "sync"}, {Text: "History", Data: "history"}},
	}
}

func renderStatus(state statedoc.AggregatedState, v view) Message {
	last := state.Stats.LastSync
	if last == "" {
		last = "n/a"
	}
	return Message{Text: strings.Join([]string{
		"Status",
		"",
		"State: online",
		printer.Sprintf("Mirrors reporting: %d/%d", state.AvailableSources(), len(state.Sources)),
		"Total syncs: " + count(state.Stats.TotalSyncs),
		"Files: " + count(state.Stats.TotalFiles),
		"Last sync: " + last,
		scheduleLine(v),
	}, "\n")}
}

func renderStats(state statedoc.AggregatedState) Message {
	return Message{Text: strings.Join([]string{
		"Statistics",
		"",
		"Total syncs: " + count(state.Stats.TotalSyncs),
		"Total files: " + count(state.Stats.TotalFiles),
		printer.Sprintf("Average per sync: %.1f files", state.AverageFilesPerSync()),
	}, "\n")}
}

func renderHistory(state statedoc.AggregatedState) Message {
	recent := state.Recent(historyEvents)
	if len(recent) == 0 {
		return Message{Text: "No sync history yet."}
	}
	var b strings.Builder
	b.WriteString("Recent syncs\n")
	for _, ev := range recent {
		b.WriteString("\n- ")
		b.WriteString(statedoc.TimeOfDay(ev.Time))
		if ev.Files > 0 {
			b.WriteString(" (" + count(ev.Files) + " files)")
		}
		if ev.Files <= 0 || strings.TrimSpace(ev.Details) == "" {
			continue
		}
		lines := detailLines(ev.Details)
		shown := lines
		if len(shown) > historyDetailLines {
			shown = shown[:historyDetailLines]
		}
		for _, line := range shown {
			b.WriteString("\n    " + line)
		}
		if extra := len(lines) - len(shown); extra > 0 {
			b.WriteString("\n    ...and " + count(extra) + " more")
		}
	}
	return Message{Text: b.String()}
}

func detailLines(details string) []string {
	raw := strings.Split(strings.TrimSpace(details), "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- "))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func renderReport(state statedoc.AggregatedState, v view) Message {
	events, files := state.Window(v.now, reportWindow, v.location)
	return Message{Text: strings.Join([]string{
		"Report (last 24h)",
		"",
		"Syncs: " + count(events),
		"Files: " + count(files),
		"",
		"All-time syncs: " + count(state.Stats.TotalSyncs),
		"All-time files: " + count(state.Stats.TotalFiles),
	}, "\n")}
}

func renderSettings(v view) Message {
	lines := []string{"Settings", ""}
	if v.scheduleOn {
		lines = append(lines, printer.Sprintf("Auto-sync: every %s (jitter %.0f%%)", v.interval, v.jitter*100))
	} else {
		lines = append(lines, "Auto-sync: off")
	}
	lines = append(lines,
		"Mirrors: "+strings.Join(v.mirrors, ", "),
		"Branch: "+v.primaryBranch+" (fallback "+v.fallbackBranch+")",
	)
	return Message{Text: strings.Join(lines, "\n")}
}

func renderUnknown() Message {
	return Message{Text: "Unknown command. Send /help for the command list."}
}
