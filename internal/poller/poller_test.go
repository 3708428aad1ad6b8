package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kanshi/internal/board"
	"kanshi/internal/clock"
	"kanshi/internal/loop"
	"kanshi/internal/model"
	"kanshi/internal/session"
)

var jst = time.FixedZone("JST", 9*3600)

type fakeSource struct {
	resp *model.ConditionsResponse
	err  error
	hits int
}

func (f *fakeSource) Conditions(ctx context.Context) (*model.ConditionsResponse, error) {
	f.hits++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type harness struct {
	fake  *clock.Fake
	sched *loop.Manual
	sess  *session.Session
	src   *fakeSource
	p     *Poller
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()
	fake := clock.NewFake(now)
	sched := loop.NewManual()
	sess := session.New(session.Options{
		Machines:  []model.MachineID{"GRS_14", "GRS_17"},
		Clock:     fake,
		Location:  jst,
		Scheduler: sched,
	})
	src := &fakeSource{}
	return &harness{fake: fake, sched: sched, sess: sess, src: src, p: New(sess, src, time.Second)}
}

func conditions(serverTime string, reset bool, states map[model.MachineID]string) *model.ConditionsResponse {
	resp := &model.ConditionsResponse{
		MachineConditions: map[model.MachineID]string{},
		TotalDurations:    map[model.MachineID]model.DurationTotals{},
		TimelineData:      map[model.MachineID][]model.Slot{},
		DebugInfo:         model.DebugInfo{CurrentTime: serverTime},
		JustReset:         reset,
	}
	for m, s := range states {
		resp.MachineConditions[m] = s
		resp.TotalDurations[m] = model.DurationTotals{model.Stopped: 30, model.Preparing: 0, model.Running: 100}
		resp.TimelineData[m] = []model.Slot{"On", "On", "Off"}
	}
	return resp
}

func text(t *testing.T, b *board.Board, m model.MachineID, s model.OperatingState) string {
	t.Helper()
	el, ok := b.Duration(m, s)
	require.True(t, ok)
	return el.Text()
}

func TestPollAppliesConditions(t *testing.T) {
	h := newHarness(t, time.Date(2024, 5, 1, 9, 30, 0, 0, jst))
	h.src.resp = conditions("2024-05-01T09:30:00", false, map[model.MachineID]string{"GRS_14": "On", "GRS_17": "weird"})

	require.NoError(t, h.p.Poll(context.Background()))

	assert.True(t, h.sess.Sync.Synced())
	st, _ := h.sess.State("GRS_14")
	assert.Equal(t, model.Running, st.Current)

	status, _ := h.sess.Board.Status("GRS_14")
	assert.Equal(t, "加工中", status.Text())
	assert.True(t, status.HasClass("status-on"))
	unknown, _ := h.sess.Board.Status("GRS_17")
	assert.Equal(t, "不明", unknown.Text())
	assert.True(t, unknown.HasClass("status-unknown"))

	assert.Equal(t, "00:01:40", text(t, h.sess.Board, "GRS_14", model.Running))
	assert.Equal(t, "00:00:30", text(t, h.sess.Board, "GRS_14", model.Stopped))
	on, _ := h.sess.Board.Duration("GRS_14", model.Running)
	assert.True(t, on.HasClass(board.TrackedClass))

	assert.True(t, h.sess.Counters.Active("GRS_14"))
	assert.False(t, h.sess.Counters.Active("GRS_17"), "unknown state has no counter")

	buckets, _ := h.sess.Grid.Buckets("GRS_14")
	assert.Equal(t, model.Running, buckets[0].State)
	assert.True(t, buckets[42].Current)

	h.fake.Advance(2 * time.Second)
	h.sched.Tick()
	assert.Equal(t, "00:01:42", text(t, h.sess.Board, "GRS_14", model.Running))
}

func TestIdenticalPollDoesNotRestartCounter(t *testing.T) {
	h := newHarness(t, time.Date(2024, 5, 1, 9, 30, 0, 0, jst))
	h.src.resp = conditions("2024-05-01T09:30:00", false, map[model.MachineID]string{"GRS_14": "On"})
	require.NoError(t, h.p.Poll(context.Background()))
	first, _ := h.sess.Counters.Get("GRS_14")

	h.fake.Advance(5 * time.Second)
	h.src.resp = conditions("2024-05-01T09:30:05", false, map[model.MachineID]string{"GRS_14": "on"})
	require.NoError(t, h.p.Poll(context.Background()))

	second, _ := h.sess.Counters.Get("GRS_14")
	assert.Same(t, first, second)
	assert.Equal(t, 1, h.sched.Active())
}

func TestStateChangeRestartsCounter(t *testing.T) {
	h := newHarness(t, time.Date(2024, 5, 1, 9, 30, 0, 0, jst))
	h.src.resp = conditions("2024-05-01T09:30:00", false, map[model.MachineID]string{"GRS_14": "On"})
	require.NoError(t, h.p.Poll(context.Background()))

	h.src.resp = conditions("2024-05-01T09:30:05", false, map[model.MachineID]string{"GRS_14": "Off"})
	require.NoError(t, h.p.Poll(context.Background()))

	on, _ := h.sess.Board.Duration("GRS_14", model.Running)
	off, _ := h.sess.Board.Duration("GRS_14", model.Stopped)
	assert.False(t, on.HasClass(board.TrackedClass))
	assert.True(t, off.HasClass(board.TrackedClass))
	assert.Equal(t, 1, h.sched.Active())
}

func TestResetClearsTimersBeforeRestart(t *testing.T) {
	h := newHarness(t, time.Date(2024, 5, 1, 6, 0, 2, 0, jst))
	states := map[model.MachineID]string{"GRS_14": "On", "GRS_17": "Prep"}
	h.src.resp = conditions("2024-05-01T06:00:02", false, states)
	require.NoError(t, h.p.Poll(context.Background()))
	before14, _ := h.sess.Counters.Get("GRS_14")
	before17, _ := h.sess.Counters.Get("GRS_17")

	h.src.resp = conditions("2024-05-01T06:00:03", true, states)
	h.src.resp.TotalDurations["GRS_14"] = model.DurationTotals{}
	require.NoError(t, h.p.Poll(context.Background()))

	after14, _ := h.sess.Counters.Get("GRS_14")
	after17, _ := h.sess.Counters.Get("GRS_17")
	assert.NotSame(t, before14, after14)
	assert.NotSame(t, before17, after17)
	assert.Equal(t, 2, h.sched.Active())
	assert.Equal(t, "00:00:00", text(t, h.sess.Board, "GRS_14", model.Running))
}

func TestFailedPollLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, time.Date(2024, 5, 1, 9, 30, 0, 0, jst))
	h.src.resp = conditions("2024-05-01T09:30:00", false, map[model.MachineID]string{"GRS_14": "On"})
	require.NoError(t, h.p.Poll(context.Background()))
	version := h.sess.Board.Version()

	h.fake.Advance(time.Second)
	h.src.err = errors.New("connection refused")
	err := h.p.Poll(context.Background())
	require.Error(t, err)

	assert.Equal(t, version, h.sess.Board.Version())
	assert.Equal(t, time.Second, mustSince(t, h.sess.Sync))
	assert.True(t, h.sess.Counters.Active("GRS_14"))
}

func mustSince(t *testing.T, s *clock.Sync) time.Duration {
	t.Helper()
	d, ok := s.SinceLastSync()
	require.True(t, ok)
	return d
}

func TestIncompletePayloadOnlySyncsClock(t *testing.T) {
	h := newHarness(t, time.Date(2024, 5, 1, 9, 30, 0, 0, jst))
	h.src.resp = &model.ConditionsResponse{
		MachineConditions: map[model.MachineID]string{"GRS_14": "On"},
		DebugInfo:         model.DebugInfo{CurrentTime: "2024-05-01T09:30:00"},
	}
	require.NoError(t, h.p.Poll(context.Background()))

	assert.True(t, h.sess.Sync.Synced())
	st, _ := h.sess.State("GRS_14")
	assert.False(t, st.Current.Known())
	assert.Equal(t, 0, h.sess.Counters.Len())
}

func TestMissingTargetIsSkipped(t *testing.T) {
	h := newHarness(t, time.Date(2024, 5, 1, 9, 30, 0, 0, jst))
	h.sess.Board.Remove(board.DurationID("GRS_14", model.Running))
	h.sess.Board.Remove(board.StatusID("GRS_17"))
	h.src.resp = conditions("2024-05-01T09:30:00", false, map[model.MachineID]string{"GRS_14": "On", "GRS_17": "On"})

	require.NoError(t, h.p.Poll(context.Background()))

	assert.False(t, h.sess.Counters.Active("GRS_14"))
	assert.Equal(t, "00:00:30", text(t, h.sess.Board, "GRS_14", model.Stopped))
	assert.True(t, h.sess.Counters.Active("GRS_17"))
}

func TestOutsideWindowSeedsWithoutCounting(t *testing.T) {
	h := newHarness(t, time.Date(2024, 5, 1, 19, 0, 0, 0, jst))
	h.src.resp = conditions("2024-05-01T19:00:00", false, map[model.MachineID]string{"GRS_14": "On"})

	require.NoError(t, h.p.Poll(context.Background()))

	assert.Equal(t, 0, h.sess.Counters.Len())
	assert.Equal(t, "00:01:40", text(t, h.sess.Board, "GRS_14", model.Running))
	on, _ := h.sess.Board.Duration("GRS_14", model.Running)
	assert.False(t, on.HasClass(board.TrackedClass))
}

func TestOlderResponseIsDropped(t *testing.T) {
	h := newHarness(t, time.Date(2024, 5, 1, 9, 30, 0, 0, jst))
	older := h.p.issue()
	newer := h.p.issue()

	h.p.apply(newer, conditions("2024-05-01T09:30:05", false, map[model.MachineID]string{"GRS_14": "Off"}), 0)
	h.p.apply(older, conditions("2024-05-01T09:30:00", false, map[model.MachineID]string{"GRS_14": "On"}), 0)

	st, _ := h.sess.State("GRS_14")
	assert.Equal(t, model.Stopped, st.Current)
	assert.Equal(t, "2024-05-01T09:30:05", model.FormatTimestamp(h.sess.Sync.LastKnownServerTime(), jst))
}

func TestPollDoesNotStompNewerCounter(t *testing.T) {
	h := newHarness(t, time.Date(2024, 5, 1, 9, 30, 0, 0, jst))
	tk := h.p.issue()

	target, _ := h.sess.Board.Duration("GRS_14", model.Running)
	manual := h.sess.Counters.Start("GRS_14", target, 500, h.sess.Sync.PreciseServerTime())

	h.p.apply(tk, conditions("2024-05-01T09:30:00", false, map[model.MachineID]string{"GRS_14": "On"}), 0)

	current, _ := h.sess.Counters.Get("GRS_14")
	assert.Same(t, manual, current)
}

func TestRequestPollCoalesces(t *testing.T) {
	h := newHarness(t, time.Date(2024, 5, 1, 9, 30, 0, 0, jst))
	h.p.RequestPoll()
	h.p.RequestPoll()
	assert.Len(t, h.p.trigger, 1)
}

func TestStaleCounterRequestsPoll(t *testing.T) {
	h := newHarness(t, time.Date(2024, 5, 1, 9, 30, 0, 0, jst))
	h.src.resp = conditions("2024-05-01T09:30:00", false, map[model.MachineID]string{"GRS_14": "On"})
	require.NoError(t, h.p.Poll(context.Background()))

	h.fake.Advance(11 * time.Second)
	h.sched.Tick()
	assert.Len(t, h.p.trigger, 1)
}

func TestRunPollsUntilCancelled(t *testing.T) {
	h := newHarness(t, time.Date(2024, 5, 1, 9, 30, 0, 0, jst))
	h.src.resp = conditions("2024-05-01T09:30:00", false, map[model.MachineID]string{"GRS_14": "On"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.p.RequestPoll()
	go func() {
		h.p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(h.p.trigger) == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
