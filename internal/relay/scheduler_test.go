package relay

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/mirrorrelay/internal/config"
)

func TestClampJitterRatio(t *testing.T) {
	assert.Equal(t, 0.0, clampJitterRatio(-0.1))
	assert.Equal(t, 1.0, clampJitterRatio(1.5))
	assert.Equal(t, 0.4, clampJitterRatio(0.4))
}

func TestJitteredIntervalWithSample(t *testing.T) {
	base := 10 * time.Second
	assert.Equal(t, base, jitteredIntervalWithSample(base, 0, 0.2))
	assert.Equal(t, 8*time.Second, jitteredIntervalWithSample(base, 0.2, 0))
	assert.Equal(t, 10*time.Second, jitteredIntervalWithSample(base, 0.2, 0.5))
	assert.Equal(t, 12*time.Second, jitteredIntervalWithSample(base, 0.2, 1))
	assert.Equal(t, time.Millisecond, jitteredIntervalWithSample(base, 1, 0))
	assert.Equal(t, time.Duration(0), jitteredIntervalWithSample(0, 0.2, 0.5))
}

type countingHandler struct {
	calls atomic.Int32
	kinds chan UpdateKind
}

func (h *countingHandler) Handle(ctx context.Context, u Update) error {
	h.calls.Add(1)
	if h.kinds != nil {
		select {
		case h.kinds <- u.Kind:
		default:
		}
	}
	return nil
}

func TestSchedulerTickSkipsWhenDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Schedule.Enabled = false
	h := &countingHandler{}
	s := NewScheduler(h, SchedulerOptions{Config: func() *config.Config { return cfg }})
	s.Tick(context.Background())
	assert.Equal(t, int32(0), h.calls.Load())

	cfg.Schedule.Enabled = true
	s.Tick(context.Background())
	assert.Equal(t, int32(1), h.calls.Load())
}

func TestSchedulerRunFiresScheduledUpdates(t *testing.T) {
	cfg := config.Default()
	cfg.Schedule.Interval = config.Duration{Duration: 10 * time.Millisecond}
	cfg.Schedule.Jitter = 0
	h := &countingHandler{kinds: make(chan UpdateKind, 1)}
	s := NewScheduler(h, SchedulerOptions{
		Config: func() *config.Config { return cfg },
		Sample: func() float64 { return 0.5 },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case kind := <-h.kinds:
		assert.Equal(t, KindScheduled, kind)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not tick")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	require.GreaterOrEqual(t, h.calls.Load(), int32(1))
}
