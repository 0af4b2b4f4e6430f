// Package dispatch sends workflow trigger requests to mirrors and fails over
// between them.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentworkforce/mirrorrelay/internal/mirror"
	"github.com/agentworkforce/mirrorrelay/internal/observability"
)

const maxErrorBodyBytes = 64 << 10

// Dispatcher triggers the sync workflow on one mirror.
type Dispatcher interface {
	TriggerBranch(ctx context.Context, m mirror.Mirror, token, branch string) Result
}

type Result struct {
	Mirror   mirror.Mirror `json:"mirror"`
	Branch   string        `json:"branch"`
	Attempts int           `json:"attempts"`
	Err      *Failure      `json:"error,omitempty"`
}

func (r Result) OK() bool {
	return r.Err == nil
}

type HTTPDispatcherOptions struct {
	APIBase        string
	Workflow       string
	PrimaryBranch  string
	FallbackBranch string
	HTTPClient     *http.Client
	UserAgent      string
	Logger         zerolog.Logger
	Metrics        *observability.Metrics
}

type HTTPDispatcher struct {
	apiBase        string
	workflow       string
	primaryBranch  string
	fallbackBranch string
	httpClient     *http.Client
	userAgent      string
	logger         zerolog.Logger
	metrics        *observability.Metrics
}

func NewHTTPDispatcher(opts HTTPDispatcherOptions) *HTTPDispatcher {
	apiBase := strings.TrimRight(strings.TrimSpace(opts.APIBase), "/")
	if apiBase == "" {
		apiBase = "https://api.github.com"
	}
	workflow := strings.TrimSpace(opts.Workflow)
	if workflow == "" {
		workflow = "sync.yml"
	}
	primary := strings.TrimSpace(opts.PrimaryBranch)
	if primary == "" {
		primary = "main"
	}
	fallback := strings.TrimSpace(opts.FallbackBranch)
	if fallback == "" {
		fallback = "master"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = "mirrorrelay"
	}
	return &HTTPDispatcher{
		apiBase:        apiBase,
		workflow:       workflow,
		primaryBranch:  primary,
		fallbackBranch: fallback,
		httpClient:     httpClient,
		userAgent:      userAgent,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
	}
}

func (d *HTTPDispatcher) PrimaryBranch() string {
	return d.primaryBranch
}

func (d *HTTPDispatcher) FallbackBranch() string {
	return d.fallbackBranch
}

// Trigger dispatches against the primary branch.
func (d *HTTPDispatcher) Trigger(ctx context.Context, m mirror.Mirror, token string) Result {
	return d.TriggerBranch(ctx, m, token, d.primaryBranch)
}

// TriggerBranch sends one trigger request for branch. A 422 on the primary
// branch is retried exactly once on the fallback branch. An empty token
// fails locally without touching the network.
func (d *HTTPDispatcher) TriggerBranch(ctx context.Context, m mirror.Mirror, token, branch string) Result {
	branch = strings.TrimSpace(branch)
	if branch == "" {
		branch = d.primaryBranch
	}
	result := Result{Mirror: m, Branch: branch}
	token = strings.TrimSpace(token)
	if token == "" {
		result.Err = missingCredential()
		d.metrics.RecordDispatchAttempt(m.String(), branch, string(KindMissingCredential))
		return result
	}

	status, body, err := d.send(ctx, m, token, branch)
	result.Attempts++
	if err == nil && status == http.StatusUnprocessableEntity && branch == d.primaryBranch {
		d.metrics.RecordDispatchAttempt(m.String(), branch, "unprocessable")
		d.logger.Info().
			Str("mirror", m.String()).
			Str("branch", branch).
			Str("fallback", d.fallbackBranch).
			Msg("trigger unprocessable on primary branch, retrying on fallback")
		branch = d.fallbackBranch
		result.Branch = branch
		status, body, err = d.send(ctx, m, token, branch)
		result.Attempts++
	}

	switch {
	case err != nil:
		result.Err = transportFailure(err)
	case status < 200 || status > 299:
		result.Err = classifyStatus(status, body)
	}

	outcome := "ok"
	if result.Err != nil {
		outcome = string(result.Err.Kind)
		d.logger.Warn().
			Str("mirror", m.String()).
			Str("branch", branch).
			Int("status", result.Err.StatusCode).
			Str("kind", string(result.Err.Kind)).
			Str("cause", result.Err.Cause).
			Msg("trigger failed")
	}
	d.metrics.RecordDispatchAttempt(m.String(), branch, outcome)
	return result
}

func (d *HTTPDispatcher) dispatchURL(m mirror.Mirror) string {
	return d.apiBase + "/repos/" + url.PathEscape(m.Owner) + "/" + url.PathEscape(m.Name) +
		"/actions/workflows/" + url.PathEscape(d.workflow) + "/dispatches"
}

func (d *HTTPDispatcher) send(ctx context.Context, m mirror.Mirror, token, branch string) (int, string, error) {
	payload, err := json.Marshal(map[string]string{"ref": branch})
	if err != nil {
		return 0, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.dispatchURL(m), bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("X-Correlation-Id", "dispatch_"+uuid.NewString())

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, strings.TrimSpace(string(body)), nil
}
