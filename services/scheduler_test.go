package services

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	loaderrors "chatload/errors"
	"chatload/metrics"
	"chatload/models"
	"chatload/websocket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startChatHub(t *testing.T) (*websocket.Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	hub := websocket.NewHub(models.NewNopLoadLogger())
	go hub.Run(ctx)

	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		server.Close()
		cancel()
	})

	return hub, "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func testConfig(url string, stages ...models.Stage) *models.Config {
	cfg := models.DefaultConfig()
	cfg.Target.URL = url
	cfg.Target.HandshakeTimeout = models.Duration{Duration: time.Second}
	cfg.Session = models.SessionConfig{
		MessagesPerUser:     2,
		ThinkTimeMin:        models.Duration{Duration: time.Millisecond},
		ThinkTimeMax:        models.Duration{Duration: 2 * time.Millisecond},
		UnsubscribeDelay:    models.Duration{Duration: time.Millisecond},
		CloseDelay:          models.Duration{Duration: time.Millisecond},
		UnsubscribeOddUsers: true,
	}
	cfg.Scheduler.TickInterval = models.Duration{Duration: 10 * time.Millisecond}
	cfg.Stages = stages
	return cfg
}

func newTestScheduler(cfg *models.Config) (*Scheduler, *metrics.Sink) {
	logger := models.NewNopLoadLogger()
	sink := metrics.NewSink(logger)
	s := NewScheduler(cfg, sink, logger)
	s.ProgressInterval = 0
	return s, sink
}

func TestSchedulerRampsToTarget(t *testing.T) {
	hub, url := startChatHub(t)
	s, sink := newTestScheduler(testConfig(url,
		stage(200*time.Millisecond, 3),
		stage(300*time.Millisecond, 3),
	))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := s.Run(ctx)
	require.NoError(t, err)

	assert.False(t, result.Interrupted)
	assert.Equal(t, 3, result.Spawned)
	assert.Equal(t, 3, result.PeakActive)
	assert.Zero(t, result.SessionErrors)
	assert.Equal(t, map[models.SessionState]int{models.SessionClosed: 3}, result.States)
	assert.GreaterOrEqual(t, result.Elapsed, 500*time.Millisecond)

	snap := sink.Snapshot()
	assert.Equal(t, int64(3), snap.Counters[metrics.MetricSessionsStarted])
	assert.Equal(t, int64(6), snap.Counters[metrics.MetricMessagesSent])
	assert.Equal(t, float64(0), snap.Gauges[metrics.MetricVUs])

	assert.Zero(t, s.Active())
	assert.False(t, s.Status(0).Running)
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(3), hub.TotalConnected.Load())
}

func TestSchedulerRampDownRetiresNewest(t *testing.T) {
	_, url := startChatHub(t)
	s, _ := newTestScheduler(testConfig(url,
		stage(50*time.Millisecond, 4),
		stage(2*time.Second, 4),
	))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan *RunResult, 1)
	go func() {
		result, err := s.Run(ctx)
		assert.NoError(t, err)
		done <- result
	}()

	require.Eventually(t, func() bool { return s.Status(0).Active == 4 }, 2*time.Second, 5*time.Millisecond)

	status := s.Status(2)
	assert.True(t, status.Running)
	assert.Equal(t, 4, status.Desired)
	assert.Equal(t, 4, status.Spawned)
	require.Len(t, status.Users, 2)
	assert.Equal(t, 1, status.Users[0].ID)
	assert.Equal(t, "user_2", status.Users[1].Username)

	cancel()
	select {
	case result := <-done:
		assert.True(t, result.Interrupted)
		assert.Equal(t, 4, result.Spawned)
		for state := range result.States {
			assert.True(t, state.IsTerminal(), "state %s", state)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not drain after cancellation")
	}
}

func TestSchedulerReconcileRetiresNewestFirst(t *testing.T) {
	s, _ := newTestScheduler(testConfig("ws://127.0.0.1:1/ws", stage(time.Second, 4)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.reconcile(ctx, time.Second)
	assert.Equal(t, []int{1, 2, 3, 4}, s.order)

	s.stages = []models.Stage{stage(time.Second, 4), stage(time.Second, 0)}
	s.reconcile(ctx, 1500*time.Millisecond)
	assert.Equal(t, []int{1, 2}, s.order)

	_, ok := s.users.Get(4)
	assert.False(t, ok)
	_, ok = s.users.Get(1)
	assert.True(t, ok)

	s.retireAll()
	s.wg.Wait()
	assert.Zero(t, s.Active())
}

func TestSchedulerRejectsInvalidProfile(t *testing.T) {
	cfg := testConfig("ws://127.0.0.1:1/ws")
	s, _ := newTestScheduler(cfg)

	_, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, loaderrors.ErrCodeConfigInvalid, loaderrors.GetErrorCode(err))

	cfg = testConfig("ws://127.0.0.1:1/ws", stage(time.Second, 1))
	cfg.Scheduler.TickInterval = models.Duration{}
	s, _ = newTestScheduler(cfg)

	_, err = s.Run(context.Background())
	assert.Equal(t, loaderrors.ErrCodeConfigInvalid, loaderrors.GetErrorCode(err))
}

func TestSchedulerCountsFailedSessions(t *testing.T) {
	s, sink := newTestScheduler(testConfig("ws://127.0.0.1:1/ws",
		stage(30*time.Millisecond, 2),
		stage(200*time.Millisecond, 2),
	))

	result, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Spawned)
	assert.Equal(t, 2, result.SessionErrors)
	assert.Equal(t, 2, result.States[models.SessionFailed])
	assert.Equal(t, int64(2), sink.Snapshot().Counters[metrics.MetricSessionsFailed])
}

func TestSchedulerCountsBrokenSessions(t *testing.T) {
	cfg := testConfig(newDroppingServer(t),
		stage(30*time.Millisecond, 2),
		stage(300*time.Millisecond, 2),
	)
	cfg.Session.MessagesPerUser = 0
	cfg.Session.UnsubscribeOddUsers = false
	s, sink := newTestScheduler(cfg)

	result, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Spawned)
	assert.Equal(t, 2, result.SessionErrors)
	assert.Equal(t, 2, result.States[models.SessionClosed])
	assert.Equal(t, int64(2), sink.Snapshot().Rates[metrics.MetricMessageErrorRate].Hits)
}
