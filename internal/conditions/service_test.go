package conditions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"kanshi/internal/clock"
	"kanshi/internal/model"
	"kanshi/internal/store"
)

var jst = time.FixedZone("JST", 9*3600)

var machines = []model.MachineID{"GRS_14", "GRS_17"}

type recordingNotifier struct {
	changes []model.StatusChange
}

func (r *recordingNotifier) Dispatch(c model.StatusChange) { r.changes = append(r.changes, c) }

func newStore(t *testing.T) store.Store {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, _ := gdb.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, gdb.AutoMigrate(&model.Machine{}, &model.MachineEvent{}, &model.MachineRuntime{}, &model.PushSubscription{}))
	return store.NewGormStore(gdb)
}

func day(d, h, m, s int) time.Time {
	return time.Date(2024, 5, d, h, m, s, 0, jst)
}

func newService(t *testing.T, now time.Time) (*Service, store.Store, *clock.Fake, *recordingNotifier) {
	st := newStore(t)
	fake := clock.NewFake(now)
	n := &recordingNotifier{}
	return NewService(st, jst, machines, WithClock(fake), WithNotifier(n)), st, fake, n
}

func TestConditionsExtendsCurrentStateAndBuildsTimeline(t *testing.T) {
	svc, st, _, _ := newService(t, day(1, 9, 0, 0))
	ctx := context.Background()
	_, err := st.RecordStatus(ctx, "GRS_14", model.Running, day(1, 8, 0, 0))
	require.NoError(t, err)

	resp, err := svc.Conditions(ctx)
	require.NoError(t, err)

	assert.True(t, resp.Complete())
	assert.False(t, resp.JustReset)
	assert.Equal(t, "On", resp.MachineConditions["GRS_14"])
	assert.Equal(t, "Unknown", resp.MachineConditions["GRS_17"])
	assert.Equal(t, 3600.0, resp.TotalDurations["GRS_14"][model.Running])
	assert.Equal(t, "2024-05-01T09:00:00", resp.DebugInfo.CurrentTime)

	slots := resp.TimelineData["GRS_14"]
	require.Len(t, slots, 144)
	assert.Equal(t, model.Slot("Unknown"), slots[0])
	assert.Equal(t, model.Slot("Unknown"), slots[23])
	assert.Equal(t, model.Slot("On"), slots[24])
	assert.Equal(t, model.Slot("On"), slots[36])
	assert.Equal(t, model.Slot(""), slots[37])
}

func TestConditionsBeforeWindowHasEmptyTimeline(t *testing.T) {
	svc, _, _, _ := newService(t, day(1, 5, 0, 0))
	resp, err := svc.Conditions(context.Background())
	require.NoError(t, err)
	for _, s := range resp.TimelineData["GRS_14"] {
		assert.Equal(t, model.Slot(""), s)
	}
}

func TestConditionsResetsRightAfterResetHour(t *testing.T) {
	svc, st, _, _ := newService(t, day(1, 6, 0, 3))
	ctx := context.Background()
	_, err := st.RecordStatus(ctx, "GRS_14", model.Running, day(1, 5, 0, 0))
	require.NoError(t, err)
	_, err = st.RecordStatus(ctx, "GRS_14", model.Stopped, day(1, 5, 30, 0))
	require.NoError(t, err)

	resp, err := svc.Conditions(ctx)
	require.NoError(t, err)

	assert.True(t, resp.JustReset)
	assert.True(t, resp.DebugInfo.JustReset)
	totals := resp.TotalDurations["GRS_14"]
	assert.Equal(t, 0.0, totals[model.Running])
	assert.Equal(t, 3.0, totals[model.Stopped], "current state counts from the reset instant")
}

func TestConditionsForcesMissedReset(t *testing.T) {
	svc, st, fake, _ := newService(t, day(1, 6, 0, 30))
	ctx := context.Background()
	_, err := st.RecordStatus(ctx, "GRS_14", model.Running, day(1, 5, 0, 0))
	require.NoError(t, err)
	require.NoError(t, st.ResetCounters(ctx, day(0, 6, 0, 0)))

	resp, err := svc.Conditions(ctx)
	require.NoError(t, err)
	assert.True(t, resp.JustReset)

	fake.Set(day(1, 6, 0, 40))
	resp, err = svc.Conditions(ctx)
	require.NoError(t, err)
	assert.False(t, resp.JustReset, "already reset today")
	require.NotNil(t, resp.DebugInfo.LastResetTime)
	assert.Equal(t, "2024-05-01T06:00:00", *resp.DebugInfo.LastResetTime)
}

func TestHistoryDay(t *testing.T) {
	svc, st, _, _ := newService(t, day(2, 10, 0, 0))
	ctx := context.Background()
	for _, e := range []struct {
		at     time.Time
		status model.OperatingState
	}{
		{day(1, 5, 0, 0), model.Stopped},
		{day(1, 7, 0, 0), model.Running},
		{day(1, 17, 0, 0), model.Stopped},
	} {
		_, err := st.RecordStatus(ctx, "GRS_14", e.status, e.at)
		require.NoError(t, err)
	}

	hist, err := svc.HistoryDay(ctx, "2024-05-01")
	require.NoError(t, err)

	h := hist["GRS_14"]
	require.Len(t, h.Events, 3)
	assert.Equal(t, model.StatusEvent{Timestamp: "2024-05-01T06:00:00", Status: "Off"}, h.Events[0])
	assert.Equal(t, model.StatusEvent{Timestamp: "2024-05-01T07:00:00", Status: "On", Duration: 3600}, h.Events[1])
	assert.Equal(t, 7200.0, h.Durations[model.Stopped])
	assert.Equal(t, 36000.0, h.Durations[model.Running])

	empty := hist["GRS_17"]
	assert.Empty(t, empty.Events)
	assert.Equal(t, 43200.0, empty.Durations[model.Unknown])
}

func TestHistoryDayTodayIsEmpty(t *testing.T) {
	svc, st, _, _ := newService(t, day(1, 10, 0, 0))
	_, err := st.RecordStatus(context.Background(), "GRS_14", model.Running, day(1, 7, 0, 0))
	require.NoError(t, err)

	hist, err := svc.HistoryDay(context.Background(), "2024-05-01")
	require.NoError(t, err)
	assert.NotNil(t, hist["GRS_14"].Events)
	assert.Empty(t, hist["GRS_14"].Events)
}

func TestHistoryDayInvalidDate(t *testing.T) {
	svc, _, _, _ := newService(t, day(1, 10, 0, 0))
	_, err := svc.HistoryDay(context.Background(), "2024/05/01")
	assert.True(t, errors.Is(err, ErrInvalidDate))
}

func TestHistoryDatesExcludeToday(t *testing.T) {
	svc, st, _, _ := newService(t, day(3, 10, 0, 0))
	ctx := context.Background()
	_, err := st.RecordStatus(ctx, "GRS_14", model.Running, day(1, 7, 0, 0))
	require.NoError(t, err)
	_, err = st.RecordStatus(ctx, "GRS_14", model.Stopped, day(2, 7, 0, 0))
	require.NoError(t, err)
	_, err = st.RecordStatus(ctx, "GRS_14", model.Running, day(3, 7, 0, 0))
	require.NoError(t, err)

	dates, err := svc.HistoryDates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-05-02", "2024-05-01"}, dates)
}

func TestIngest(t *testing.T) {
	svc, _, fake, n := newService(t, day(1, 9, 0, 0))
	ctx := context.Background()

	changed, err := svc.Ingest(ctx, "GRS_14", model.Running)
	require.NoError(t, err)
	assert.True(t, changed)

	fake.Advance(10 * time.Second)
	changed, err = svc.Ingest(ctx, "GRS_14", model.Running)
	require.NoError(t, err)
	assert.False(t, changed)

	require.Len(t, n.changes, 1)
	assert.Equal(t, model.MachineID("GRS_14"), n.changes[0].MachineID)

	_, err = svc.Ingest(ctx, "GRS_99", model.Running)
	assert.True(t, errors.Is(err, ErrUnknownMachine))

	fake.Set(day(1, 19, 0, 0))
	_, err = svc.Ingest(ctx, "GRS_14", model.Stopped)
	assert.True(t, errors.Is(err, ErrOutsideWorkingHours))
}

func TestIngestUnknownAccruesUnknownDuration(t *testing.T) {
	svc, st, fake, n := newService(t, day(1, 8, 0, 0))
	ctx := context.Background()

	_, err := svc.Ingest(ctx, "GRS_14", model.Running)
	require.NoError(t, err)

	fake.Set(day(1, 9, 0, 0))
	changed, err := svc.Ingest(ctx, "GRS_14", model.Unknown)
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, n.changes, 2)
	assert.Equal(t, model.Unknown, n.changes[1].Status)

	fake.Set(day(1, 10, 0, 0))
	resp, err := svc.Conditions(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Unknown", resp.MachineConditions["GRS_14"])
	assert.Equal(t, 3600.0, resp.TotalDurations["GRS_14"][model.Running])
	assert.Equal(t, 3600.0, resp.TotalDurations["GRS_14"][model.Unknown])

	events, err := st.EventsBetween(ctx, "GRS_14", day(1, 6, 0, 0), day(1, 18, 0, 0))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Unknown", events[1].Status)

	slots := resp.TimelineData["GRS_14"]
	assert.Equal(t, model.Slot("On"), slots[24])
	assert.Equal(t, model.Slot("Unknown"), slots[36])
}
