// Package counter keeps the per-machine duration counters ticking between
// server syncs.
package counter

import (
	"log"
	"time"

	"kanshi/internal/clock"
	"kanshi/internal/format"
	"kanshi/internal/loop"
	"kanshi/internal/model"
	"kanshi/internal/timeline"
)

// TickInterval is how often a counter refreshes its display.
const TickInterval = time.Second

// Target is the display element a counter writes to.
type Target interface {
	SetText(text string)
	SetTracked(tracked bool)
}

// Table owns the active timers of a session, at most one per machine.
type Table struct {
	sched       loop.Scheduler
	sync        *clock.Sync
	window      timeline.Window
	staleAfter  time.Duration
	requestSync func()

	timers map[model.MachineID]*Timer
	seq    uint64
}

// NewTable creates an empty timer table. requestSync is called from a tick
// when the last sync is older than staleAfter; it must not block.
func NewTable(sched loop.Scheduler, sync *clock.Sync, window timeline.Window, staleAfter time.Duration, requestSync func()) *Table {
	if requestSync == nil {
		requestSync = func() {}
	}
	return &Table{
		sched:       sched,
		sync:        sync,
		window:      window,
		staleAfter:  staleAfter,
		requestSync: requestSync,
		timers:      make(map[model.MachineID]*Timer),
	}
}

// Timer is the handle of one running counter.
type Timer struct {
	table    *Table
	machine  model.MachineID
	target   Target
	baseline int64
	start    time.Time
	seq      uint64
	reg      loop.Registration
}

// Machine returns the machine the timer counts for.
func (t *Timer) Machine() model.MachineID { return t.machine }

// Seq returns the start sequence number of the timer.
func (t *Timer) Seq() uint64 { return t.seq }

// Start begins counting for a machine from baselineSeconds at serverStart,
// replacing any timer the machine already has.
func (tb *Table) Start(machine model.MachineID, target Target, baselineSeconds int64, serverStart time.Time) *Timer {
	tb.Stop(machine)

	tb.seq++
	t := &Timer{
		table:    tb,
		machine:  machine,
		target:   target,
		baseline: baselineSeconds,
		start:    clock.Quantize(serverStart),
		seq:      tb.seq,
	}
	log.Printf("counter: starting %s from %s at %s", machine, format.Duration(baselineSeconds), t.start.Format(time.RFC3339))
	t.reg = tb.sched.Every(TickInterval, t.tick)
	tb.timers[machine] = t
	return t
}

// Stop cancels the machine's timer, if any.
func (tb *Table) Stop(machine model.MachineID) {
	if t, ok := tb.timers[machine]; ok {
		t.Stop()
	}
}

// StopAll cancels every timer.
func (tb *Table) StopAll() {
	for _, t := range tb.timers {
		t.Stop()
	}
}

// Active reports whether the machine has a running timer.
func (tb *Table) Active(machine model.MachineID) bool {
	_, ok := tb.timers[machine]
	return ok
}

// Get returns the machine's running timer.
func (tb *Table) Get(machine model.MachineID) (*Timer, bool) {
	t, ok := tb.timers[machine]
	return t, ok
}

// Len returns the number of running timers.
func (tb *Table) Len() int { return len(tb.timers) }

// Seq returns the sequence number of the most recent Start.
func (tb *Table) Seq() uint64 { return tb.seq }

// Stop cancels the timer. Stopping a timer that was already replaced does
// not affect its replacement.
func (t *Timer) Stop() {
	t.reg.Stop()
	if cur, ok := t.table.timers[t.machine]; ok && cur == t {
		delete(t.table.timers, t.machine)
	}
}

// Elapsed returns the whole seconds counted since the timer's start, never
// negative.
func (t *Timer) Elapsed() int64 {
	d := t.table.sync.PreciseServerTime().Sub(t.start)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

func (t *Timer) tick() {
	tb := t.table
	if !tb.window.Contains(tb.sync.AdjustedNow()) {
		t.Stop()
		t.target.SetTracked(false)
		return
	}

	t.target.SetText(format.Duration(t.baseline + t.Elapsed()))

	if since, ok := tb.sync.SinceLastSync(); !ok || since > tb.staleAfter {
		tb.requestSync()
	}
}
