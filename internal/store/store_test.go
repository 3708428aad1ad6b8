package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"kanshi/internal/model"
)

var jst = time.FixedZone("JST", 9*3600)

// A helper function to create a mock database connection.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

// newSQLiteStore opens a private in-memory database for one test.
func newSQLiteStore(t *testing.T) Store {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, _ := gdb.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, gdb.AutoMigrate(&model.Machine{}, &model.MachineEvent{}, &model.MachineRuntime{}, &model.PushSubscription{}))
	return NewGormStore(gdb)
}

func at(h, m, s int) time.Time {
	return time.Date(2024, 5, 1, h, m, s, 0, jst)
}

func TestRecordStatusAccumulatesPreviousState(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	changed, err := s.RecordStatus(ctx, "GRS_14", model.Running, at(9, 0, 0))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.RecordStatus(ctx, "GRS_14", model.Running, at(9, 0, 10))
	require.NoError(t, err)
	assert.False(t, changed, "same status is not a change")

	changed, err = s.RecordStatus(ctx, "GRS_14", model.Stopped, at(9, 10, 0))
	require.NoError(t, err)
	assert.True(t, changed)

	runtimes, err := s.Runtimes(ctx)
	require.NoError(t, err)
	rt := runtimes["GRS_14"]
	assert.Equal(t, "Off", rt.CurrentStatus)
	assert.InDelta(t, 600, rt.OnDuration, 0.001)
	assert.Zero(t, rt.OffDuration)
	require.NotNil(t, rt.CurrentStartTime)
	assert.True(t, rt.CurrentStartTime.Equal(at(9, 10, 0)))

	events, err := s.EventsBetween(ctx, "GRS_14", at(6, 0, 0), at(18, 0, 0))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "On", events[0].Status)
	assert.Equal(t, "Off", events[1].Status)
}

func TestResetCountersKeepsStatus(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	_, err := s.RecordStatus(ctx, "GRS_14", model.Running, at(5, 0, 0))
	require.NoError(t, err)
	_, err = s.RecordStatus(ctx, "GRS_14", model.Preparing, at(5, 30, 0))
	require.NoError(t, err)

	require.NoError(t, s.ResetCounters(ctx, at(6, 0, 0)))

	runtimes, err := s.Runtimes(ctx)
	require.NoError(t, err)
	rt := runtimes["GRS_14"]
	assert.Equal(t, "Prep", rt.CurrentStatus)
	assert.Zero(t, rt.OnDuration)
	require.NotNil(t, rt.LastResetTime)
	assert.True(t, rt.LastResetTime.Equal(at(6, 0, 0)))
	assert.True(t, rt.CurrentStartTime.Equal(at(6, 0, 0)))
}

func TestLastEventBefore(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	ev, err := s.LastEventBefore(ctx, "GRS_14", at(6, 0, 0))
	require.NoError(t, err)
	assert.Nil(t, ev)

	_, err = s.RecordStatus(ctx, "GRS_14", model.Running, at(5, 0, 0))
	require.NoError(t, err)
	_, err = s.RecordStatus(ctx, "GRS_14", model.Stopped, at(5, 30, 0))
	require.NoError(t, err)
	_, err = s.RecordStatus(ctx, "GRS_14", model.Running, at(7, 0, 0))
	require.NoError(t, err)

	ev, err = s.LastEventBefore(ctx, "GRS_14", at(6, 0, 0))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "Off", ev.Status)
}

func TestEventDatesDescending(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	for i, day := range []int{28, 29, 29, 30} {
		state := model.Running
		if i%2 == 1 {
			state = model.Stopped
		}
		_, err := s.RecordStatus(ctx, "GRS_14", state, time.Date(2024, 4, day, 10, i, 0, 0, jst))
		require.NoError(t, err)
	}
	_, err := s.RecordStatus(ctx, "GRS_17", model.Running, at(9, 0, 0))
	require.NoError(t, err)

	dates, err := s.EventDates(ctx, time.Date(2024, 4, 1, 0, 0, 0, 0, jst), time.Date(2024, 5, 1, 0, 0, 0, 0, jst))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-04-30", "2024-04-29", "2024-04-28"}, dates)
}

func TestEnsureMachinesIsIdempotent(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureMachines(ctx, []model.MachineID{"GRS_14", "GRS_17"}))
	require.NoError(t, s.EnsureMachines(ctx, []model.MachineID{"GRS_14", "GRS_19"}))

	var count int64
	require.NoError(t, s.DB().Model(&model.Machine{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)
}

func TestGormStore_DeleteEventsBefore(t *testing.T) {
	gormDB, mock := newMockDB(t)
	s := NewGormStore(gormDB)
	cutoff := at(0, 0, 0).AddDate(0, 0, -30)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "machine_events" WHERE timestamp < $1`)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectCommit()

	n, err := s.DeleteEventsBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_ResetCountersError(t *testing.T) {
	gormDB, mock := newMockDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "machine_runtimes" SET`)).
		WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	err := s.ResetCounters(context.Background(), at(6, 0, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reset counters")
	assert.NoError(t, mock.ExpectationsWereMet())
}
