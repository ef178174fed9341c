package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomery/loom/internal/store"
)

// mockScheduleStore satisfies store.Store for scheduler tests.
type mockScheduleStore struct {
	store.Store
	mu        sync.Mutex
	schedules map[string]*store.CronSchedule
}

func newMockScheduleStore() *mockScheduleStore {
	return &mockScheduleStore{schedules: make(map[string]*store.CronSchedule)}
}

func (m *mockScheduleStore) add(sched store.CronSchedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := sched
	m.schedules[sched.TriggerID] = &cp
}

func (m *mockScheduleStore) get(triggerID string) *store.CronSchedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.schedules[triggerID]
	return &cp
}

func (m *mockScheduleStore) ListCronSchedules(_ context.Context, filter store.CronScheduleFilter) ([]*store.CronSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*store.CronSchedule
	for _, sc := range m.schedules {
		if filter.Enabled != nil && sc.Enabled != *filter.Enabled {
			continue
		}
		if filter.WorkflowID != "" && sc.WorkflowID != filter.WorkflowID {
			continue
		}
		cp := *sc
		result = append(result, &cp)
	}
	return result, nil
}

func (m *mockScheduleStore) UpdateCronSchedule(_ context.Context, triggerID string, update store.CronScheduleUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.schedules[triggerID]
	if !ok {
		return nil
	}
	if update.LastRunAt != nil {
		sc.LastRunAt = update.LastRunAt
	}
	if update.NextRunAt != nil {
		sc.NextRunAt = update.NextRunAt
	}
	if update.LastRunStatus != "" {
		sc.LastRunStatus = update.LastRunStatus
	}
	return nil
}

// recordingStarter records fired trigger IDs and optionally fails.
type recordingStarter struct {
	mu    sync.Mutex
	fired []string
	err   error
}

func (r *recordingStarter) StartTriggerRun(_ context.Context, triggerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, triggerID)
	return r.err
}

func (r *recordingStarter) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.fired))
	copy(out, r.fired)
	return out
}

func newTestScheduler(ms *mockScheduleStore, starter TriggerStarter) *Scheduler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewScheduler(ms, starter, time.Minute, logger)
}

// --- Tick ---

func TestTick_FiresDueSchedule(t *testing.T) {
	ms := newMockScheduleStore()
	ms.add(store.CronSchedule{
		TriggerID: "tick", WorkflowID: "wf-1",
		CronExpression: "*/5 * * * *", Enabled: true,
	})
	starter := &recordingStarter{}
	s := newTestScheduler(ms, starter)

	s.Tick(context.Background())

	assert.Equal(t, []string{"tick"}, starter.all())
	sched := ms.get("tick")
	require.NotNil(t, sched.LastRunAt)
	require.NotNil(t, sched.NextRunAt)
	assert.True(t, sched.NextRunAt.After(*sched.LastRunAt))
	assert.Equal(t, "success", sched.LastRunStatus)
}

func TestTick_SkipsFutureSchedule(t *testing.T) {
	future := time.Now().UTC().Add(30 * time.Minute)
	ms := newMockScheduleStore()
	ms.add(store.CronSchedule{
		TriggerID: "tick", WorkflowID: "wf-1",
		CronExpression: "0 * * * *", Enabled: true, NextRunAt: &future,
	})
	starter := &recordingStarter{}
	s := newTestScheduler(ms, starter)

	s.Tick(context.Background())
	assert.Empty(t, starter.all())
}

func TestTick_SkipsDisabledSchedule(t *testing.T) {
	ms := newMockScheduleStore()
	ms.add(store.CronSchedule{
		TriggerID: "paused", WorkflowID: "wf-1",
		CronExpression: "0 * * * *", Enabled: false,
	})
	starter := &recordingStarter{}
	s := newTestScheduler(ms, starter)

	s.Tick(context.Background())
	assert.Empty(t, starter.all())
}

func TestTick_RecordsErrorStatus(t *testing.T) {
	ms := newMockScheduleStore()
	ms.add(store.CronSchedule{
		TriggerID: "tick", WorkflowID: "wf-1",
		CronExpression: "*/5 * * * *", Enabled: true,
	})
	starter := &recordingStarter{err: errors.New("trigger gone")}
	s := newTestScheduler(ms, starter)

	s.Tick(context.Background())

	sched := ms.get("tick")
	assert.Equal(t, "error", sched.LastRunStatus)
	require.NotNil(t, sched.NextRunAt, "a failed firing still schedules the next one")
}

func TestTick_DedupsInflightTrigger(t *testing.T) {
	ms := newMockScheduleStore()
	ms.add(store.CronSchedule{
		TriggerID: "tick", WorkflowID: "wf-1",
		CronExpression: "*/5 * * * *", Enabled: true,
	})
	starter := &recordingStarter{}
	s := newTestScheduler(ms, starter)

	require.True(t, s.tryAcquire("tick"))
	s.Tick(context.Background())
	assert.Empty(t, starter.all(), "in-flight trigger must not fire again")

	s.release("tick")
	s.Tick(context.Background())
	assert.Len(t, starter.all(), 1)
}

// --- Next-run computation ---

func TestCalculateNextRun(t *testing.T) {
	s := newTestScheduler(newMockScheduleStore(), &recordingStarter{})

	from := time.Date(2026, 3, 10, 14, 2, 0, 0, time.UTC)
	next, err := s.CalculateNextRun("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 14, 15, 0, 0, time.UTC), next)
}

func TestCalculateNextRun_InvalidExpression(t *testing.T) {
	s := newTestScheduler(newMockScheduleStore(), &recordingStarter{})

	_, err := s.CalculateNextRun("every tuesday", time.Now())
	assert.Error(t, err)
}

// --- Lifecycle ---

func TestStartStop(t *testing.T) {
	s := newTestScheduler(newMockScheduleStore(), &recordingStarter{})

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "second start must fail")
	require.NoError(t, s.Stop())
	assert.NoError(t, s.Stop(), "stop is idempotent")
}

func TestStartFiresInitialTick(t *testing.T) {
	ms := newMockScheduleStore()
	ms.add(store.CronSchedule{
		TriggerID: "tick", WorkflowID: "wf-1",
		CronExpression: "*/5 * * * *", Enabled: true,
	})
	starter := &recordingStarter{}
	s := newTestScheduler(ms, starter)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return len(starter.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop())
}

// --- Missed-run recovery ---

func TestRecoverMissed(t *testing.T) {
	past := time.Now().UTC().Add(-2 * time.Hour)
	ms := newMockScheduleStore()
	ms.add(store.CronSchedule{
		TriggerID: "stale", WorkflowID: "wf-1",
		CronExpression: "0 * * * *", Enabled: true, NextRunAt: &past,
	})
	// Freshly synced schedule without a next run is left for the tick loop.
	ms.add(store.CronSchedule{
		TriggerID: "fresh", WorkflowID: "wf-2",
		CronExpression: "0 * * * *", Enabled: true,
	})
	starter := &recordingStarter{}
	s := newTestScheduler(ms, starter)

	require.NoError(t, s.RecoverMissed(context.Background()))
	assert.Equal(t, []string{"stale"}, starter.all())

	sched := ms.get("stale")
	require.NotNil(t, sched.NextRunAt)
	assert.True(t, sched.NextRunAt.After(time.Now().UTC()))
}
