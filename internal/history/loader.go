// Package history renders finished days into a history session.
package history

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"kanshi/internal/format"
	"kanshi/internal/model"
	"kanshi/internal/session"
)

// DateLayout is the format of history dates.
const DateLayout = "2006-01-02"

// ErrInvalidDate is returned for dates not in DateLayout.
var ErrInvalidDate = errors.New("invalid date")

// RefreshHour is the hour at which the latest day is reloaded.
const RefreshHour = 18

// Source fetches history from the condition server.
type Source interface {
	HistoryDates(ctx context.Context) ([]string, error)
	HistoryDay(ctx context.Context, date string) (model.HistoryDay, error)
}

// Loader loads days into a session's grid and duration displays.
type Loader struct {
	sess *session.Session
	src  Source

	mu       sync.RWMutex
	selected string
	dates    []string
}

// NewLoader creates a loader for a history session.
func NewLoader(sess *session.Session, src Source) *Loader {
	return &Loader{sess: sess, src: src}
}

// Selected returns the date currently displayed, if any.
func (l *Loader) Selected() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.selected
}

// Dates returns the dates reported by the last LoadLatest.
func (l *Loader) Dates() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.dates...)
}

// Today returns the current date in the session's zone.
func (l *Loader) Today() string {
	return l.sess.Sync.AdjustedNow().Format(DateLayout)
}

// Load displays the given day. Today is never historical and always shows
// empty timelines without asking the server. On a fetch error the display
// is left as it was.
func (l *Loader) Load(ctx context.Context, date string) error {
	if _, err := time.ParseInLocation(DateLayout, date, l.sess.Sync.Location()); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	if date == l.Today() {
		return l.post(ctx, func() {
			l.renderEmpty()
			l.setSelected(date)
		})
	}

	day, err := l.src.HistoryDay(ctx, date)
	if err != nil {
		return fmt.Errorf("fetch history for %s: %w", date, err)
	}
	return l.post(ctx, func() {
		l.render(day)
		l.setSelected(date)
	})
}

// LoadLatest displays the most recent day the server has history for, or
// empty timelines when there is none.
func (l *Loader) LoadLatest(ctx context.Context) error {
	dates, err := l.src.HistoryDates(ctx)
	if err != nil {
		return fmt.Errorf("fetch history dates: %w", err)
	}
	l.mu.Lock()
	l.dates = dates
	l.mu.Unlock()

	if len(dates) == 0 {
		return l.post(ctx, func() {
			l.renderEmpty()
			l.setSelected("")
		})
	}
	return l.Load(ctx, dates[0])
}

// Run loads the latest day, then reloads it every day at RefreshHour until
// ctx is cancelled.
func (l *Loader) Run(ctx context.Context) {
	if err := l.LoadLatest(ctx); err != nil {
		log.Printf("history: error loading latest day: %v", err)
	}

	for {
		wait := NextRefresh(l.sess.Sync.AdjustedNow()).Sub(l.sess.Sync.AdjustedNow())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("history: shutting down.")
			return
		case <-timer.C:
			log.Println("history: refreshing at end of working hours")
			if err := l.LoadLatest(ctx); err != nil {
				log.Printf("history: error loading latest day: %v", err)
			}
		}
	}
}

// NextRefresh returns the next RefreshHour strictly after now.
func NextRefresh(now time.Time) time.Time {
	target := time.Date(now.Year(), now.Month(), now.Day(), RefreshHour, 0, 0, 0, now.Location())
	if !now.Before(target) {
		target = target.AddDate(0, 0, 1)
	}
	return target
}

func (l *Loader) setSelected(date string) {
	l.mu.Lock()
	l.selected = date
	l.mu.Unlock()
}

// post runs fn on the session loop and waits for it.
func (l *Loader) post(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.sess.Sched.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loader) render(day model.HistoryDay) {
	for _, m := range l.sess.Machines() {
		h := day[m]
		l.setDurations(m, h.Durations)
		l.sess.Grid.RenderFromEvents(m, h.Events)
	}
}

func (l *Loader) renderEmpty() {
	for _, m := range l.sess.Machines() {
		l.setDurations(m, nil)
		l.sess.Grid.RenderFromEvents(m, nil)
	}
}

func (l *Loader) setDurations(m model.MachineID, totals model.DurationTotals) {
	for _, s := range model.TrackedStates {
		if el, ok := l.sess.Board.Duration(m, s); ok {
			el.SetText(format.Duration(totals.Seconds(s)))
		}
	}
}
