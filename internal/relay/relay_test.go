package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/mirrorrelay/internal/config"
	"github.com/agentworkforce/mirrorrelay/internal/dispatch"
	"github.com/agentworkforce/mirrorrelay/internal/mirror"
	"github.com/agentworkforce/mirrorrelay/internal/statedoc"
)

type fakeTrigger struct {
	mu       sync.Mutex
	requests []dispatch.RunRequest
	outcome  dispatch.Outcome
	panicMsg string
}

func (f *fakeTrigger) Run(ctx context.Context, req dispatch.RunRequest) dispatch.Outcome {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	out := f.outcome
	out.Path = req.Path
	return out
}

func (f *fakeTrigger) runs() []dispatch.RunRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatch.RunRequest(nil), f.requests...)
}

type fakeState struct {
	state statedoc.AggregatedState
	calls int
}

func (f *fakeState) Aggregate(ctx context.Context, mirrors []mirror.Mirror) statedoc.AggregatedState {
	f.calls++
	return f.state
}

type sentMessage struct {
	ChatID string
	Msg    Message
}

type fakeNotifier struct {
	mu       sync.Mutex
	sent     []sentMessage
	answered []string
}

func (f *fakeNotifier) Send(ctx context.Context, chatID string, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Msg: msg})
	return nil
}

func (f *fakeNotifier) AnswerCallback(ctx context.Context, callbackID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, callbackID)
	return nil
}

func (f *fakeNotifier) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.Msg.Text)
	}
	return out
}

func testConfig(t *testing.T, token string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.GitHub.Token = token
	cfg.GitHub.Mirrors = []string{"acme/drive-sync", "backup/drive-sync"}
	cfg.Telegram.ChatID = "42"
	require.NoError(t, cfg.Validate())
	return cfg
}

type relayFixture struct {
	relay    *Relay
	trigger  *fakeTrigger
	state    *fakeState
	notifier *fakeNotifier
}

func newRelayFixture(t *testing.T, cfg *config.Config, opts ...func(*Options)) *relayFixture {
	t.Helper()
	f := &relayFixture{
		trigger: &fakeTrigger{outcome: dispatch.Outcome{
			OK:        true,
			Mirror:    mirror.Mirror{Owner: "acme", Name: "drive-sync"},
			Branch:    "main",
			Attempted: []string{"acme/drive-sync"},
		}},
		state: &fakeState{state: statedoc.AggregatedState{
			Stats: statedoc.Stats{TotalSyncs: 1234, TotalFiles: 4321, LastSync: "2024-05-02 09:00:00"},
			History: []statedoc.SyncEvent{
				{Time: "2024-05-02 09:00:00", Files: 7, Details: "a.md\nb.md\nc.md\nd.md\ne.md\nf.md\ng.md"},
				{Time: "2024-05-01 08:00:00", Files: 0},
			},
			Sources: []statedoc.SourceStatus{{Mirror: "acme/drive-sync", Available: true}, {Mirror: "backup/drive-sync"}},
		}},
		notifier: &fakeNotifier{},
	}
	o := Options{
		Config:   func() *config.Config { return cfg },
		Trigger:  f.trigger,
		State:    f.state,
		Notifier: f.notifier,
		Queue:    NewInMemoryUpdateQueue(2),
		Now:      func() time.Time { return time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC) },
	}
	for _, fn := range opts {
		fn(&o)
	}
	r, err := New(o)
	require.NoError(t, err)
	f.relay = r
	return f
}

func command(text string) Update {
	return Update{ID: "u_" + strings.TrimPrefix(text, "/"), Kind: KindCommand, ChatID: "42", Text: text}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestHandleSyncCommandSuccess(t *testing.T) {
	f := newRelayFixture(t, testConfig(t, "tok"))
	require.NoError(t, f.relay.Handle(context.Background(), command("/sync")))

	runs := f.trigger.runs()
	require.Len(t, runs, 1)
	assert.Equal(t, dispatch.PathOnDemand, runs[0].Path)
	assert.Equal(t, "tok", runs[0].Token)
	assert.Len(t, runs[0].Mirrors, 2)

	texts := f.notifier.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, "Triggering sync...", texts[0])
	assert.Contains(t, texts[1], "Sync triggered on acme")
}

func TestHandleSyncCommandMissingCredentialSkipsTrigger(t *testing.T) {
	f := newRelayFixture(t, testConfig(t, ""))
	require.NoError(t, f.relay.Handle(context.Background(), command("/sync")))

	assert.Empty(t, f.trigger.runs())
	texts := f.notifier.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], dispatch.CauseMissingCredential)
}

func TestHandleSyncCommandExhaustionReportsLastError(t *testing.T) {
	f := newRelayFixture(t, testConfig(t, "tok"))
	f.trigger.outcome = dispatch.Outcome{
		Attempted: []string{"acme/drive-sync", "backup/drive-sync"},
		Err:       &dispatch.Failure{Kind: dispatch.KindNotFound, Cause: dispatch.CauseNotFound},
	}
	require.NoError(t, f.relay.Handle(context.Background(), command("/sync")))

	texts := f.notifier.texts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[1], "all 2 mirrors")
	assert.Contains(t, texts[1], dispatch.CauseNotFound)
}

func TestHandleReportsDispatcherBranchesAfterReload(t *testing.T) {
	cfg := testConfig(t, "tok")
	cfg.GitHub.PrimaryBranch = "trunk"
	cfg.GitHub.FallbackBranch = "legacy"
	f := newRelayFixture(t, cfg, func(o *Options) {
		o.PrimaryBranch = "main"
		o.FallbackBranch = "master"
	})
	f.trigger.outcome = dispatch.Outcome{
		Attempted: []string{"acme/drive-sync"},
		Err:       &dispatch.Failure{Kind: dispatch.KindNotFound, Cause: dispatch.CauseNotFound},
	}
	require.NoError(t, f.relay.Handle(context.Background(), command("/sync")))
	require.NoError(t, f.relay.Handle(context.Background(), command("/settings")))

	texts := f.notifier.texts()
	require.Len(t, texts, 3)
	assert.Contains(t, texts[1], "(main/master)")
	assert.NotContains(t, texts[1], "trunk")
	assert.Contains(t, texts[2], "main (fallback master)")
	assert.NotContains(t, texts[2], "legacy")
}

func TestHandleIgnoresOtherChats(t *testing.T) {
	f := newRelayFixture(t, testConfig(t, "tok"))
	u := command("/sync")
	u.ChatID = "99"
	require.NoError(t, f.relay.Handle(context.Background(), u))
	assert.Empty(t, f.trigger.runs())
	assert.Empty(t, f.notifier.texts())
}

func TestHandleIgnoresAllChatsWhenChatIDUnset(t *testing.T) {
	cfg := testConfig(t, "tok")
	cfg.Telegram.ChatID = ""
	f := newRelayFixture(t, cfg)

	for _, chat := range []string{"666", "42", ""} {
		u := command("/sync")
		u.ChatID = chat
		require.NoError(t, f.relay.Handle(context.Background(), u))
	}
	cb := Update{ID: "cb1", Kind: KindCallback, ChatID: "666", Text: "settings", CallbackID: "cbq_1"}
	require.NoError(t, f.relay.Handle(context.Background(), cb))

	assert.Empty(t, f.trigger.runs())
	assert.Empty(t, f.notifier.texts())
	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	assert.Empty(t, f.notifier.answered)
}

func TestHandleStatusCommands(t *testing.T) {
	cases := []struct {
		text string
		want []string
	}{
		{text: "/status", want: []string{"Total syncs: 1,234", "Mirrors reporting: 1/2", "Last sync: 2024-05-02 09:00:00"}},
		{text: "/dashboard", want: []string{"Dashboard", "Files synced: 4,321"}},
		{text: "/MENU@MirrorBot", want: []string{"Dashboard"}},
		{text: "/stats", want: []string{"Average per sync: 3.5 files"}},
		{text: "/history", want: []string{"09:00:00 (7 files)", "e.md", "...and 2 more"}},
		{text: "/report", want: []string{"Syncs: 1", "Files: 7", "All-time syncs: 1,234"}},
		{text: "/settings", want: []string{"acme/drive-sync, backup/drive-sync", "main (fallback master)"}},
		{text: "/help", want: []string{"/sync - trigger a sync now"}},
		{text: "/bogus", want: []string{"Unknown command"}},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			f := newRelayFixture(t, testConfig(t, "tok"))
			require.NoError(t, f.relay.Handle(context.Background(), command(tc.text)))
			texts := f.notifier.texts()
			require.Len(t, texts, 1)
			for _, want := range tc.want {
				assert.Contains(t, texts[0], want)
			}
			assert.Empty(t, f.trigger.runs())
		})
	}
}

func TestHandleHistoryWhenEmpty(t *testing.T) {
	f := newRelayFixture(t, testConfig(t, "tok"))
	f.state.state = statedoc.AggregatedState{}
	require.NoError(t, f.relay.Handle(context.Background(), command("/history")))
	assert.Equal(t, []string{"No sync history yet."}, f.notifier.texts())
}

func TestHandleCallbackAnswersThenRoutes(t *testing.T) {
	f := newRelayFixture(t, testConfig(t, "tok"))
	u := Update{ID: "cb1", Kind: KindCallback, ChatID: "42", Text: "history", CallbackID: "cbq_1"}
	require.NoError(t, f.relay.Handle(context.Background(), u))
	assert.Equal(t, []string{"cbq_1"}, f.notifier.answered)
	require.Len(t, f.notifier.texts(), 1)
	assert.Contains(t, f.notifier.texts()[0], "Recent syncs")
}

func TestHandleDashboardOffersButtons(t *testing.T) {
	f := newRelayFixture(t, testConfig(t, "tok"))
	require.NoError(t, f.relay.Handle(context.Background(), command("/dashboard")))
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, []Button{{Text: "Sync", Data: "sync"}, {Text: "History", Data: "history"}}, f.notifier.sent[0].Msg.Buttons)
}

func TestHandleScheduledAndDriveUpdatesSendNothing(t *testing.T) {
	f := newRelayFixture(t, testConfig(t, "tok"))
	require.NoError(t, f.relay.Handle(context.Background(), Update{ID: "s1", Kind: KindScheduled}))
	require.NoError(t, f.relay.Handle(context.Background(), Update{ID: "d1", Kind: KindDriveChange}))

	runs := f.trigger.runs()
	require.Len(t, runs, 2)
	assert.Equal(t, dispatch.PathScheduled, runs[0].Path)
	assert.Equal(t, dispatch.PathDrive, runs[1].Path)
	assert.Empty(t, f.notifier.texts())
}

func TestHandleRecoversPanics(t *testing.T) {
	f := newRelayFixture(t, testConfig(t, "tok"))
	f.trigger.panicMsg = "boom"
	err := f.relay.Handle(context.Background(), Update{ID: "s1", Kind: KindScheduled})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestIngestQueuesAndRejectsWhenFull(t *testing.T) {
	f := newRelayFixture(t, testConfig(t, "tok"))
	ctx := context.Background()

	queued, err := f.relay.Ingest(ctx, Update{Kind: KindDriveChange})
	require.NoError(t, err)
	assert.NotEmpty(t, queued.ID)
	assert.False(t, queued.ReceivedAt.IsZero())

	_, err = f.relay.Ingest(ctx, Update{Kind: KindDriveChange})
	require.NoError(t, err)
	_, err = f.relay.Ingest(ctx, Update{Kind: KindDriveChange})
	assert.True(t, errors.Is(err, ErrQueueFull))
	assert.Equal(t, 2, f.relay.QueueDepth())

	_, err = f.relay.Ingest(ctx, Update{Kind: KindCommand})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestWorkersDrainQueue(t *testing.T) {
	f := newRelayFixture(t, testConfig(t, "tok"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.relay.Start(ctx)

	_, err := f.relay.Ingest(ctx, Update{Kind: KindDriveChange})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.trigger.runs()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.relay.Close())
	_, err = f.relay.Ingest(ctx, Update{Kind: KindDriveChange})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestParseCommand(t *testing.T) {
	assert.Equal(t, "/sync", parseCommand("/Sync@DriveBot now please"))
	assert.Equal(t, "/history", parseCommand("history"))
	assert.Equal(t, "", parseCommand("   "))
}
