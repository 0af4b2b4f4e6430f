package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/mirrorrelay/internal/statedoc"
)

const testStateDoc = `{"stats":{"totalSyncs":1234,"totalFiles":9,"lastSync":"2026-03-01T10:00:00Z"},"history":[{"time":"2026-03-01T10:00:00Z","files":9,"details":"a.md"}]}`

func newGitHubStub(t *testing.T, dispatchStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/actions/workflows/sync.yml/dispatches") {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(dispatchStatus)
	})
	mux.HandleFunc("/acme/a/main/state.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testStateDoc))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func writeTestConfig(t *testing.T, baseURL string, mirrors ...string) string {
	t.Helper()
	quoted := make([]string, 0, len(mirrors))
	for _, m := range mirrors {
		quoted = append(quoted, fmt.Sprintf("%q", m))
	}
	body := fmt.Sprintf(`
[github]
token = "ghp_test"
api_base = %q
raw_base = %q
mirrors = [%s]

[log]
level = "disabled"
`, baseURL, baseURL, strings.Join(quoted, ", "))
	path := filepath.Join(t.TempDir(), "mirrorrelay.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTriggerCommandSucceeds(t *testing.T) {
	server := newGitHubStub(t, http.StatusNoContent)
	path := writeTestConfig(t, server.URL, "acme/a")

	out, err := execute(t, "trigger", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Sync triggered on acme/a (main)")
}

func TestTriggerCommandFailsWhenExhausted(t *testing.T) {
	server := newGitHubStub(t, http.StatusNotFound)
	path := writeTestConfig(t, server.URL, "acme/a", "acme/b")

	out, err := execute(t, "trigger", "--config", path)
	assert.ErrorIs(t, err, errSyncExhausted)
	assert.Contains(t, out, "Sync failed on all 2 mirrors")
	assert.Contains(t, out, "404 Not Found")
}

func TestTriggerCommandJSON(t *testing.T) {
	server := newGitHubStub(t, http.StatusNoContent)
	path := writeTestConfig(t, server.URL, "acme/a")

	out, err := execute(t, "trigger", "--config", path, "--format", "json", "--branch", "release")
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, true, payload["ok"])
	assert.Equal(t, "release", payload["branch"])
}

func TestStatusCommandJSON(t *testing.T) {
	server := newGitHubStub(t, http.StatusNoContent)
	path := writeTestConfig(t, server.URL, "acme/a", "acme/missing")

	out, err := execute(t, "status", "--config", path, "--format", "json")
	require.NoError(t, err)
	var state statedoc.AggregatedState
	require.NoError(t, json.Unmarshal([]byte(out), &state))
	assert.Equal(t, 1234, state.Stats.TotalSyncs)
	assert.Len(t, state.History, 1)
	assert.Len(t, state.Sources, 2)
	assert.Equal(t, 1, state.AvailableSources())
}

func TestStatusCommandText(t *testing.T) {
	server := newGitHubStub(t, http.StatusNoContent)
	path := writeTestConfig(t, server.URL, "acme/a")

	out, err := execute(t, "status", "--config", path)
	require.NoError(t, err)
	for _, want := range []string{"Mirrors reporting: 1/1", "Total syncs: 1,234", "acme/a: ok", "9 files"} {
		assert.Contains(t, out, want)
	}
}

type failingWriter struct {
	writes int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.writes++
	return 0, errors.New("disk full")
}

func TestWriteStateTextReportsWriteError(t *testing.T) {
	state := statedoc.AggregatedState{
		Stats:   statedoc.Stats{TotalSyncs: 2, TotalFiles: 5},
		History: []statedoc.SyncEvent{{Time: "2026-03-01T10:00:00Z", Files: 5}},
		Sources: []statedoc.SourceStatus{{Mirror: "acme/a", Available: true}, {Mirror: "acme/b", Error: "status 404"}},
	}
	w := &failingWriter{}
	assert.EqualError(t, writeState(w, "text", state), "disk full")
	assert.Equal(t, 1, w.writes)

	var buf bytes.Buffer
	require.NoError(t, writeState(&buf, "text", state))
	out := buf.String()
	assert.Contains(t, out, "acme/b: unavailable (status 404)")
	assert.True(t, strings.HasSuffix(out, "Recent syncs:\n  2026-03-01T10:00:00Z  5 files\n"), out)
}

func TestRootRejectsUnknownFormat(t *testing.T) {
	_, err := execute(t, "status", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestTriggerCommandRejectsConfigWithoutMirrors(t *testing.T) {
	path := writeTestConfig(t, "http://127.0.0.1:1")
	_, err := execute(t, "trigger", "--config", path)
	assert.Error(t, err)
}
