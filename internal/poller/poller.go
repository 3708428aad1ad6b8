// Package poller keeps a live session in step with the condition server.
package poller

import (
	"context"
	"fmt"
	"log"
	"time"

	"kanshi/internal/format"
	"kanshi/internal/model"
	"kanshi/internal/session"
)

// Source fetches the current conditions.
type Source interface {
	Conditions(ctx context.Context) (*model.ConditionsResponse, error)
}

// ticket identifies one poll. It is taken on the session loop when the poll
// is issued.
type ticket struct {
	id         uint64
	counterSeq uint64
}

// Poller fetches conditions on a fixed interval and applies them to a
// session.
type Poller struct {
	sess     *session.Session
	src      Source
	interval time.Duration
	trigger  chan struct{}

	// loop-confined
	issued  uint64
	applied uint64
}

// New creates a poller and registers it as the session's stale-sync
// handler.
func New(sess *session.Session, src Source, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	p := &Poller{
		sess:     sess,
		src:      src,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	}
	sess.OnStale(p.RequestPoll)
	return p
}

// RequestPoll asks Run for a poll ahead of schedule. Requests made while one
// is already pending are merged. It never blocks.
func (p *Poller) RequestPoll() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run polls immediately, then every interval and on request, until ctx is
// cancelled. Failed polls are retried on the next interval.
func (p *Poller) Run(ctx context.Context) {
	log.Printf("poller: starting for session %s every %s", p.sess.ID, p.interval)
	p.pollAndLog(ctx)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("poller: shutting down.")
			return
		case <-timer.C:
			p.pollAndLog(ctx)
			timer.Reset(p.interval)
		case <-p.trigger:
			p.pollAndLog(ctx)
		}
	}
}

func (p *Poller) pollAndLog(ctx context.Context) {
	if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
		log.Printf("poller: error updating machine conditions: %v", err)
	}
}

// Poll fetches the conditions once and applies them on the session loop.
// On error nothing in the session changes. It must not be called from the
// session loop itself.
func (p *Poller) Poll(ctx context.Context) error {
	issued := make(chan ticket, 1)
	p.sess.Sched.Post(func() { issued <- p.issue() })

	var t ticket
	select {
	case t = <-issued:
	case <-ctx.Done():
		return ctx.Err()
	}

	c := p.sess.Sync.Clock()
	started := c.Now()
	resp, err := p.src.Conditions(ctx)
	if err != nil {
		return fmt.Errorf("fetch conditions: %w", err)
	}
	rtt := c.Now().Sub(started)

	done := make(chan struct{})
	p.sess.Sched.Post(func() {
		p.apply(t, resp, rtt)
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) issue() ticket {
	p.issued++
	return ticket{id: p.issued, counterSeq: p.sess.Counters.Seq()}
}

func (p *Poller) apply(t ticket, resp *model.ConditionsResponse, rtt time.Duration) {
	if t.id < p.applied {
		log.Printf("poller: dropping poll %d, poll %d already applied", t.id, p.applied)
		return
	}
	p.applied = t.id

	s := p.sess
	serverTime, err := model.ParseTimestamp(resp.DebugInfo.CurrentTime, s.Sync.Location())
	if err != nil {
		log.Printf("poller: response has no usable server time: %v", err)
	} else {
		s.Sync.RecordSync(serverTime)
		s.Sync.ObserveRoundTrip(rtt)
	}

	if !resp.Complete() {
		log.Printf("poller: incomplete conditions payload; keeping current display")
		return
	}

	reset := resp.JustReset
	if reset {
		s.Counters.StopAll()
		log.Println("poller: reset detected, cleared all timers")
	}

	for _, m := range s.Machines() {
		raw, ok := resp.MachineConditions[m]
		if !ok {
			continue
		}
		state := model.ParseState(raw)

		if el, ok := s.Board.Status(m); ok {
			el.SetStatus(s.Labels.Label(state), state.StyleKey())
		}

		rs, _ := s.State(m)
		previous := rs.Current
		rs.Current = state

		if previous != state || !s.Counters.Active(m) || reset {
			if timer, ok := s.Counters.Get(m); ok && timer.Seq() > t.counterSeq {
				log.Printf("poller: counter for %s started after poll %d; leaving it", m, t.id)
			} else {
				p.updateDisplayedTimes(m, state, resp.TotalDurations[m])
			}
		}

		s.Grid.Render(m, resp.TimelineData[m], state)
	}
}

// updateDisplayedTimes seeds every duration display of a machine with the
// reported totals, then starts the counter of the current state when the
// operating window is open.
func (p *Poller) updateDisplayedTimes(m model.MachineID, state model.OperatingState, totals model.DurationTotals) {
	s := p.sess
	s.Counters.Stop(m)

	open := s.Grid.Window().Contains(s.Sync.AdjustedNow())
	serverStart := s.Sync.LastKnownServerTime()
	if !s.Sync.Synced() {
		serverStart = s.Sync.PreciseServerTime()
	}

	for _, tracked := range model.TrackedStates {
		el, ok := s.Board.Duration(m, tracked)
		if !ok {
			continue
		}
		secs := totals.Seconds(tracked)
		el.SetText(format.Duration(secs))
		el.SetTracked(false)

		if state == tracked && open {
			el.SetTracked(true)
			s.Counters.Start(m, el, secs, serverStart)
		}
	}
}
