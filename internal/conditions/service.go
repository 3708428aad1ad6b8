// Package conditions computes the condition server's responses from the
// stored events and runtimes.
package conditions

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"kanshi/internal/clock"
	"kanshi/internal/model"
	"kanshi/internal/store"
	"kanshi/internal/timeline"
)

const dateLayout = "2006-01-02"

var (
	// ErrInvalidDate is returned for history dates not in YYYY-MM-DD form.
	ErrInvalidDate = errors.New("invalid date")
	// ErrUnknownMachine is returned when ingesting for an unregistered machine.
	ErrUnknownMachine = errors.New("unknown machine")
	// ErrOutsideWorkingHours is returned when ingesting outside the window.
	ErrOutsideWorkingHours = errors.New("outside working hours")
)

const (
	// resetGrace is how long after the reset hour a poll reports a reset.
	resetGrace = 5 * time.Second
	// forcedResetGrace applies when the last reset is from a previous day.
	forcedResetGrace = 60 * time.Second
	// historyDays is how far back history dates are listed.
	historyDays = 30
)

// Notifier is told about every ingested status change.
type Notifier interface {
	Dispatch(change model.StatusChange)
}

// Service answers the condition server endpoints.
type Service struct {
	store     store.Store
	clock     clock.Clock
	loc       *time.Location
	machines  []model.MachineID
	window    timeline.Window
	resetHour int
	notifier  Notifier
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithNotifier sets the receiver of status changes.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithResetHour overrides the daily reset hour.
func WithResetHour(h int) Option {
	return func(s *Service) { s.resetHour = h }
}

// NewService creates a Service for the given machines.
func NewService(st store.Store, loc *time.Location, machines []model.MachineID, opts ...Option) *Service {
	if loc == nil {
		loc = time.Local
	}
	s := &Service{
		store:     st,
		clock:     clock.System{},
		loc:       loc,
		machines:  machines,
		window:    timeline.DefaultWindow,
		resetHour: timeline.DefaultWindow.StartHour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Machines returns the registered machines.
func (s *Service) Machines() []model.MachineID { return s.machines }

// Now returns the current time in the service's zone.
func (s *Service) Now() time.Time { return s.clock.Now().In(s.loc) }

func (s *Service) at(day time.Time, hour int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, s.loc)
}

// Conditions builds the /update_conditions payload. A poll arriving shortly
// after the reset hour performs the daily reset and reports it.
func (s *Service) Conditions(ctx context.Context) (*model.ConditionsResponse, error) {
	now := s.Now()
	resetAt := s.at(now, s.resetHour)
	diff := now.Sub(resetAt)

	runtimes, err := s.store.Runtimes(ctx)
	if err != nil {
		return nil, err
	}
	lastReset := s.lastReset(runtimes)

	justReset := diff >= 0 && diff <= resetGrace
	if lastReset != nil && dateOf(*lastReset, s.loc) < dateOf(now, s.loc) && diff >= 0 && diff <= forcedResetGrace {
		log.Println("Forcing reset - past reset time and no reset today")
		justReset = true
	}

	if justReset {
		log.Printf("Reset triggered at %s (time_diff: %.1fs)", now.Format(time.RFC3339), diff.Seconds())
		if err := s.store.ResetCounters(ctx, resetAt); err != nil {
			return nil, err
		}
		if runtimes, err = s.store.Runtimes(ctx); err != nil {
			return nil, err
		}
	}

	resp := &model.ConditionsResponse{
		MachineConditions: make(map[model.MachineID]string, len(s.machines)),
		LatestTimestamp:   fmt.Sprintf("%s (%s)", now.Format("2006-01-02 15:04:05"), zoneName(now)),
		TimelineData:      make(map[model.MachineID][]model.Slot, len(s.machines)),
		TotalDurations:    make(map[model.MachineID]model.DurationTotals, len(s.machines)),
		DebugInfo: model.DebugInfo{
			CurrentTime:     model.FormatTimestamp(now, s.loc),
			ResetCheckTime:  model.FormatTimestamp(resetAt, s.loc),
			TimeDiffSeconds: diff.Seconds(),
			JustReset:       justReset,
		},
		JustReset: justReset,
	}
	if lastReset != nil {
		v := model.FormatTimestamp(*lastReset, s.loc)
		resp.DebugInfo.LastResetTime = &v
	}

	for _, m := range s.machines {
		rt, ok := runtimes[m]
		condition := string(model.Unknown)
		if ok && rt.CurrentStatus != "" {
			condition = rt.CurrentStatus
		}
		resp.MachineConditions[m] = condition
		resp.TotalDurations[m] = s.liveTotals(rt, ok, now)

		slots, err := s.timeline(ctx, m, rt, ok, now)
		if err != nil {
			log.Printf("Error generating timeline data for %s: %v", m, err)
			slots = make([]model.Slot, timeline.BucketCount)
		}
		resp.TimelineData[m] = slots
	}
	return resp, nil
}

func (s *Service) lastReset(runtimes map[model.MachineID]model.MachineRuntime) *time.Time {
	for _, m := range s.machines {
		if rt, ok := runtimes[m]; ok && rt.LastResetTime != nil {
			return rt.LastResetTime
		}
	}
	return nil
}

// liveTotals extends the stored totals by the time spent in the current
// status, counted only inside today's window.
func (s *Service) liveTotals(rt model.MachineRuntime, ok bool, now time.Time) model.DurationTotals {
	totals := model.DurationTotals{model.Stopped: 0, model.Preparing: 0, model.Running: 0, model.Unknown: 0}
	if !ok {
		return totals
	}
	for k, v := range rt.Totals() {
		totals[k] = v
	}

	if rt.CurrentStatus != "" && rt.CurrentStartTime != nil && s.window.Contains(now) {
		start := rt.CurrentStartTime.In(s.loc)
		if open := s.window.StartOf(now); start.Before(open) {
			start = open
		}
		end := now
		if closeAt := s.window.EndOf(now); closeAt.Before(end) {
			end = closeAt
		}
		if d := end.Sub(start).Seconds(); d > 0 {
			totals[model.ParseState(rt.CurrentStatus)] += d
		}
	}

	for k, v := range totals {
		totals[k] = math.RoundToEven(v)
	}
	return totals
}

// timeline builds today's bucket array up to now. Buckets not reached yet
// are empty.
func (s *Service) timeline(ctx context.Context, m model.MachineID, rt model.MachineRuntime, ok bool, now time.Time) ([]model.Slot, error) {
	start := s.window.StartOf(now)
	end := s.window.EndOf(now)
	slots := make([]model.Slot, 0, timeline.BucketCount)

	status := string(model.Unknown)
	last, err := s.store.LastEventBefore(ctx, m, start)
	if err != nil {
		return nil, err
	}
	if last != nil {
		status = last.Status
	}

	events, err := s.store.EventsBetween(ctx, m, start, now)
	if err != nil {
		return nil, err
	}
	if ok && rt.CurrentStartTime != nil && rt.CurrentStatus != "" {
		if len(events) == 0 || rt.CurrentStartTime.After(events[len(events)-1].Timestamp) {
			events = append(events, model.MachineEvent{MachineID: string(m), Timestamp: *rt.CurrentStartTime, Status: rt.CurrentStatus})
		}
	}

	for t := start; !t.After(now) && t.Before(end); t = t.Add(timeline.BucketSize) {
		next := t.Add(timeline.BucketSize)
		for _, ev := range events {
			if !ev.Timestamp.Before(t) && ev.Timestamp.Before(next) {
				status = ev.Status
			}
		}
		slots = append(slots, model.Slot(status))
	}
	for len(slots) < timeline.BucketCount {
		slots = append(slots, "")
	}
	return slots, nil
}

// HistoryDates lists the days before today, within the retention span, that
// have events, most recent first.
func (s *Service) HistoryDates(ctx context.Context) ([]string, error) {
	now := s.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	return s.store.EventDates(ctx, today.AddDate(0, 0, -historyDays), today)
}

// HistoryDay returns every machine's events and totals inside the window of
// date. The first event is a synthetic one at the window start carrying the
// status in effect before it. Today has no history yet and yields empty
// entries.
func (s *Service) HistoryDay(ctx context.Context, date string) (model.HistoryDay, error) {
	day, err := time.ParseInLocation(dateLayout, date, s.loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	out := make(model.HistoryDay, len(s.machines))
	if date == s.Now().Format(dateLayout) {
		for _, m := range s.machines {
			out[m] = model.MachineHistory{Events: []model.StatusEvent{}, Durations: zeroTotals()}
		}
		return out, nil
	}

	start := s.at(day, s.window.StartHour)
	end := s.at(day, s.window.EndHour)
	for _, m := range s.machines {
		h, err := s.machineHistory(ctx, m, start, end)
		if err != nil {
			return nil, err
		}
		out[m] = h
	}
	return out, nil
}

func (s *Service) machineHistory(ctx context.Context, m model.MachineID, start, end time.Time) (model.MachineHistory, error) {
	last, err := s.store.LastEventBefore(ctx, m, start)
	if err != nil {
		return model.MachineHistory{}, err
	}
	rows, err := s.store.EventsBetween(ctx, m, start, end)
	if err != nil {
		return model.MachineHistory{}, err
	}

	totals := zeroTotals()
	events := make([]model.StatusEvent, 0, len(rows)+1)
	current := model.Unknown
	if last != nil {
		events = append(events, model.StatusEvent{Timestamp: model.FormatTimestamp(start, s.loc), Status: last.Status})
		current = model.ParseState(last.Status)
	}

	cursor := start
	for _, row := range rows {
		d := row.Timestamp.Sub(cursor).Seconds()
		totals[current] += d
		events = append(events, model.StatusEvent{
			Timestamp: model.FormatTimestamp(row.Timestamp, s.loc),
			Status:    row.Status,
			Duration:  d,
		})
		cursor = row.Timestamp
		current = model.ParseState(row.Status)
	}
	totals[current] += end.Sub(cursor).Seconds()

	return model.MachineHistory{Events: events, Durations: totals}, nil
}

// Ingest records a status reported by a collector and notifies subscribers
// when it is a change.
func (s *Service) Ingest(ctx context.Context, m model.MachineID, status model.OperatingState) (bool, error) {
	if !s.known(m) {
		return false, fmt.Errorf("%w: %s", ErrUnknownMachine, m)
	}
	now := s.Now()
	if !s.window.Contains(now) {
		return false, ErrOutsideWorkingHours
	}

	changed, err := s.store.RecordStatus(ctx, m, status, now)
	if err != nil {
		return false, err
	}
	if changed && s.notifier != nil {
		s.notifier.Dispatch(model.StatusChange{MachineID: m, Status: status, At: now})
	}
	return changed, nil
}

// ResetNow resets every counter as of the current time.
func (s *Service) ResetNow(ctx context.Context) error {
	return s.store.ResetCounters(ctx, s.at(s.Now(), s.resetHour))
}

func (s *Service) known(m model.MachineID) bool {
	for _, id := range s.machines {
		if id == m {
			return true
		}
	}
	return false
}

func zeroTotals() model.DurationTotals {
	return model.DurationTotals{model.Stopped: 0, model.Preparing: 0, model.Running: 0, model.Unknown: 0}
}

func dateOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dateLayout)
}

func zoneName(t time.Time) string {
	name, _ := t.Zone()
	return name
}
