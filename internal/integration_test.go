package internal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"kanshi/config"
	"kanshi/internal/api"
	"kanshi/internal/board"
	"kanshi/internal/clock"
	"kanshi/internal/conditions"
	"kanshi/internal/db"
	"kanshi/internal/history"
	"kanshi/internal/loop"
	"kanshi/internal/model"
	"kanshi/internal/poller"
	"kanshi/internal/session"
	"kanshi/internal/store"
	"kanshi/internal/upstream"
)

// TestDashboardLifecycle drives a dashboard session against a condition
// server backed by an in-memory database: a machine starts, stops, and the
// next day shows up in history.
func TestDashboardLifecycle(t *testing.T) {
	// --- Test Setup ---
	jst := time.FixedZone("JST", 9*3600)
	machines := []model.MachineID{"GRS_14", "GRS_17"}
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, jst)

	testDB, err := gorm.Open(sqlite.Open("file:lifecycle?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, _ := testDB.DB()
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()
	require.NoError(t, db.Migrate(testDB))

	st := store.NewGormStore(testDB)
	require.NoError(t, st.EnsureMachines(context.Background(), machines))

	serverClock := clock.NewFake(start)
	svc := conditions.NewService(st, jst, machines, conditions.WithClock(serverClock))
	router := api.NewRouter(config.ServerConfig{RateLimitPerSec: 100, RateLimitBurst: 100, CacheTTLSeconds: 60}, st, svc, nil)
	server := httptest.NewServer(router)
	defer server.Close()

	client := upstream.NewClient(config.DashboardConfig{UpstreamURL: server.URL, Timezone: "Asia/Tokyo"})

	report := func(m model.MachineID, status string) {
		t.Helper()
		resp, err := http.Post(server.URL+"/api/events", "application/json",
			strings.NewReader(`{"machine_id":"`+string(m)+`","status":"`+status+`"}`))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	clientClock := clock.NewFake(start)
	sched := loop.NewManual()
	live := session.New(session.Options{
		Machines:  machines,
		Clock:     clientClock,
		Location:  jst,
		Scheduler: sched,
	})
	p := poller.New(live, client, time.Second)
	ctx := context.Background()

	// --- Step 1: the machine starts running ---
	report("GRS_14", "On")
	require.NoError(t, p.Poll(ctx))

	status, ok := live.Board.Status("GRS_14")
	require.True(t, ok)
	assert.Equal(t, "加工中", status.Text())
	assert.True(t, status.HasClass("status-on"))
	assert.True(t, live.Counters.Active("GRS_14"))
	assert.False(t, live.Counters.Active("GRS_17"))

	onTime, _ := live.Board.Duration("GRS_14", model.Running)
	assert.True(t, onTime.HasClass(board.TrackedClass))
	assert.Equal(t, "00:00:00", onTime.Text())

	strip, ok := live.Board.Strip("GRS_14")
	require.True(t, ok)
	buckets := strip.(*board.Strip).Buckets()
	require.Len(t, buckets, 144)
	assert.Equal(t, model.Running, buckets[36].State)
	assert.True(t, buckets[36].Current)
	assert.False(t, buckets[37].Active)

	// --- Step 2: one minute later it stops ---
	serverClock.Advance(time.Minute)
	clientClock.Advance(time.Minute)
	report("GRS_14", "Off")
	require.NoError(t, p.Poll(ctx))

	assert.Equal(t, "停止", status.Text())
	assert.Equal(t, "00:01:00", onTime.Text())
	assert.False(t, onTime.HasClass(board.TrackedClass))
	offTime, _ := live.Board.Duration("GRS_14", model.Stopped)
	assert.True(t, offTime.HasClass(board.TrackedClass))
	assert.Equal(t, 1, live.Counters.Len())

	// --- Step 3: the next day shows the run in history ---
	nextDay := time.Date(2024, 5, 2, 10, 0, 0, 0, jst)
	serverClock.Set(nextDay)
	past := session.New(session.Options{
		Machines:  machines,
		Clock:     clock.NewFake(nextDay),
		Location:  jst,
		Scheduler: loop.NewManual(),
	})
	loader := history.NewLoader(past, client)
	require.NoError(t, loader.LoadLatest(ctx))

	assert.Equal(t, "2024-05-01", loader.Selected())
	assert.Equal(t, []string{"2024-05-01"}, loader.Dates())
	pastOn, _ := past.Board.Duration("GRS_14", model.Running)
	assert.Equal(t, "00:01:00", pastOn.Text())

	live.Close()
	assert.Equal(t, 0, live.Counters.Len())
}
