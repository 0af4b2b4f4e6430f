package httpapi

import (
	"html/template"
	"net/http"

	"github.com/agentworkforce/mirrorrelay/internal/statedoc"
)

const dashboardHistoryLimit = 20

var dashboardTemplate = template.Must(template.New("dashboard").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Mirror Relay</title>
  <style>
    :root {
      --ink: #102223;
      --paper: #f8f4ea;
      --card: #fffdf9;
      --line: #d7cbb3;
      --accent: #1f9d88;
      --danger: #c2483f;
      --muted: #6f7d7d;
    }
    * { box-sizing: border-box; }
    body {
      margin: 0;
      font-family: "Space Grotesk", "Avenir Next", "Segoe UI", sans-serif;
      color: var(--ink);
      background: var(--paper);
      padding: 20px;
    }
    .shell { max-width: 960px; margin: 0 auto; display: grid; gap: 14px; }
    .card { background: var(--card); border: 1px solid var(--line); border-radius: 14px; padding: 16px; }
    h1 { margin: 0; font-size: 1.5rem; }
    .stats { display: grid; grid-template-columns: repeat(3, 1fr); gap: 10px; }
    .stat strong { display: block; font-size: 1.4rem; }
    .muted { color: var(--muted); }
    .ok { color: var(--accent); }
    .down { color: var(--danger); }
    table { width: 100%; border-collapse: collapse; }
    td, th { text-align: left; padding: 6px 4px; border-bottom: 1px solid var(--line); }
  </style>
</head>
<body>
  <main class="shell">
    <section class="card">
      <h1>Mirror Relay</h1>
      <p class="muted">Mirrors reporting: {{.Reporting}}/{{len .State.Sources}}</p>
    </section>
    <section class="card stats">
      <div class="stat"><span class="muted">Total syncs</span><strong>{{.State.Stats.TotalSyncs}}</strong></div>
      <div class="stat"><span class="muted">Total files</span><strong>{{.State.Stats.TotalFiles}}</strong></div>
      <div class="stat"><span class="muted">Last sync</span><strong>{{if .State.Stats.LastSync}}{{.State.Stats.LastSync}}{{else}}never{{end}}</strong></div>
    </section>
    <section class="card">
      <table>
        <tr><th>Mirror</th><th>Status</th></tr>
        {{range .State.Sources}}
        <tr><td>{{.Mirror}}</td><td>{{if .Available}}<span class="ok">reporting</span>{{else}}<span class="down">unavailable</span> <span class="muted">{{.Error}}</span>{{end}}</td></tr>
        {{end}}
      </table>
    </section>
    <section class="card">
      <table>
        <tr><th>Time</th><th>Files</th><th>Details</th></tr>
        {{range .History}}
        <tr><td>{{.Time}}</td><td>{{.Files}}</td><td class="muted">{{.Details}}</td></tr>
        {{else}}
        <tr><td colspan="3" class="muted">No sync history yet.</td></tr>
        {{end}}
      </table>
    </section>
  </main>
</body>
</html>
`))

type dashboardView struct {
	State     statedoc.AggregatedState
	History   []statedoc.SyncEvent
	Reporting int
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	state := s.relay.Status(r.Context(), s.cfg.Config())
	view := dashboardView{
		State:     state,
		History:   state.Recent(dashboardHistoryLimit),
		Reporting: state.AvailableSources(),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTemplate.Execute(w, view); err != nil {
		s.cfg.Logger.Warn().Err(err).Msg("render dashboard failed")
	}
}
