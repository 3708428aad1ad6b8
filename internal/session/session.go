// Package session holds everything one dashboard view owns: the machine
// registry, the clock sync, the timeline grid, the running counters and the
// board they render to.
package session

import (
	"log"
	"time"

	"github.com/google/uuid"

	"kanshi/internal/board"
	"kanshi/internal/clock"
	"kanshi/internal/counter"
	"kanshi/internal/loop"
	"kanshi/internal/model"
	"kanshi/internal/timeline"
)

// MachineRuntimeState is the client-side record of one machine.
type MachineRuntimeState struct {
	// Current is the state applied by the last successful poll; empty until
	// the first one.
	Current model.OperatingState
}

// Options configures a Session.
type Options struct {
	Machines   []model.MachineID
	Clock      clock.Clock
	Location   *time.Location
	Offset     time.Duration
	Scheduler  loop.Scheduler
	Labels     model.Labels
	Window     timeline.Window
	StaleAfter time.Duration
}

// Session is the explicit context of one view. All methods except Board
// reads must run on the session's scheduler.
type Session struct {
	ID       string
	Sync     *clock.Sync
	Grid     *timeline.Grid
	Counters *counter.Table
	Board    *board.Board
	Sched    loop.Scheduler
	Labels   model.Labels

	machines []model.MachineID
	states   map[model.MachineID]*MachineRuntimeState
	onStale  func()
	clockReg loop.Registration
}

// New builds a session with an initialized grid and an empty timer table.
func New(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Labels == nil {
		opts.Labels = model.DefaultLabels
	}
	if opts.Window == (timeline.Window{}) {
		opts.Window = timeline.DefaultWindow
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 10 * time.Second
	}

	s := &Session{
		ID:       uuid.NewString(),
		Sync:     clock.NewSync(opts.Clock, clock.WithOffset(opts.Offset), clock.WithLocation(opts.Location)),
		Board:    board.New(opts.Machines),
		Sched:    opts.Scheduler,
		Labels:   opts.Labels,
		machines: append([]model.MachineID(nil), opts.Machines...),
		states:   make(map[model.MachineID]*MachineRuntimeState, len(opts.Machines)),
	}
	for _, m := range opts.Machines {
		s.states[m] = &MachineRuntimeState{}
	}
	s.Grid = timeline.NewGrid(opts.Window, s.Sync.AdjustedNow, s.Sync.Location(), s.Board.Strip)
	s.Grid.Initialize(s.machines)
	s.Counters = counter.NewTable(opts.Scheduler, s.Sync, opts.Window, opts.StaleAfter, s.requestSync)
	log.Printf("session %s: created for %d machines", s.ID, len(s.machines))
	return s
}

// OnStale sets the callback counters use to ask for an early poll.
func (s *Session) OnStale(fn func()) {
	s.onStale = fn
}

func (s *Session) requestSync() {
	if s.onStale != nil {
		s.onStale()
	}
}

// Machines returns the registered machines in display order.
func (s *Session) Machines() []model.MachineID {
	return append([]model.MachineID(nil), s.machines...)
}

// State returns the runtime record of a registered machine.
func (s *Session) State(m model.MachineID) (*MachineRuntimeState, bool) {
	st, ok := s.states[m]
	return st, ok
}

// StartClock begins refreshing the wall-clock displays once per second.
func (s *Session) StartClock() {
	if s.clockReg != nil {
		return
	}
	s.refreshClock()
	s.clockReg = s.Sched.Every(time.Second, s.refreshClock)
}

func (s *Session) refreshClock() {
	now := s.Sync.Clock().Now().In(s.Sync.Location())
	clockText := now.Format("15:04:05")
	if el, ok := s.Board.Element(board.DateID); ok {
		el.SetText("日付: " + now.Format("2006/01/02"))
	}
	if el, ok := s.Board.Element(board.TimeID); ok {
		el.SetText("時間: " + clockText)
	}
	for _, m := range s.machines {
		if el, ok := s.Board.Element(board.CurrentTimeID(m)); ok {
			el.SetText(clockText)
		}
	}
}

// Close stops every timer the session owns.
func (s *Session) Close() {
	if s.clockReg != nil {
		s.clockReg.Stop()
		s.clockReg = nil
	}
	s.Counters.StopAll()
	log.Printf("session %s: closed", s.ID)
}
