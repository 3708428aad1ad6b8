package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kanshi/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB
	EnsureMachines(ctx context.Context, ids []model.MachineID) error
	RecordStatus(ctx context.Context, machine model.MachineID, status model.OperatingState, at time.Time) (bool, error)
	ResetCounters(ctx context.Context, at time.Time) error
	Runtimes(ctx context.Context) (map[model.MachineID]model.MachineRuntime, error)
	EventsBetween(ctx context.Context, machine model.MachineID, from, to time.Time) ([]model.MachineEvent, error)
	LastEventBefore(ctx context.Context, machine model.MachineID, before time.Time) (*model.MachineEvent, error)
	EventDates(ctx context.Context, from, before time.Time) ([]string, error)
	DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// DB returns the underlying connection.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// EnsureMachines registers the configured machines, keeping existing rows.
func (s *gormStore) EnsureMachines(ctx context.Context, ids []model.MachineID) error {
	if len(ids) == 0 {
		return nil
	}
	machines := make([]model.Machine, len(ids))
	for i, id := range ids {
		machines[i] = model.Machine{ID: string(id), DisplayName: string(id)}
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&machines).Error; err != nil {
		return fmt.Errorf("failed to register machines: %w", err)
	}
	return nil
}

// RecordStatus stores a status observation. When the status differs from
// the machine's current one, the time spent in the previous status is added
// to its total, an event is inserted and the runtime now starts at at. It
// reports whether the status changed.
func (s *gormStore) RecordStatus(ctx context.Context, machine model.MachineID, status model.OperatingState, at time.Time) (bool, error) {
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rt model.MachineRuntime
		err := tx.First(&rt, "machine_id = ?", string(machine)).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			rt = model.MachineRuntime{MachineID: string(machine)}
		case err != nil:
			return fmt.Errorf("failed to load runtime for %s: %w", machine, err)
		}

		if rt.CurrentStatus == string(status) {
			return nil
		}

		if rt.CurrentStatus != "" && rt.CurrentStartTime != nil {
			if d := at.Sub(*rt.CurrentStartTime).Seconds(); d > 0 {
				rt.Add(model.ParseState(rt.CurrentStatus), d)
			}
		}

		event := model.MachineEvent{MachineID: string(machine), Timestamp: at, Status: string(status)}
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("failed to insert event for %s: %w", machine, err)
		}

		rt.CurrentStatus = string(status)
		rt.CurrentStartTime = &at
		if err := tx.Save(&rt).Error; err != nil {
			return fmt.Errorf("failed to save runtime for %s: %w", machine, err)
		}
		changed = true
		return nil
	})
	if err == nil && changed {
		log.Printf("Status change logged for %s: %s", machine, status)
	}
	return changed, err
}

// ResetCounters zeroes every total and restarts the current statuses at at.
func (s *gormStore) ResetCounters(ctx context.Context, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&model.MachineRuntime{}).Where("1 = 1").Updates(map[string]any{
		"off_duration":       0,
		"prep_duration":      0,
		"on_duration":        0,
		"unknown_duration":   0,
		"last_reset_time":    at,
		"current_start_time": at,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to reset counters: %w", res.Error)
	}
	log.Printf("Reset %d machine counters at %s", res.RowsAffected, at.Format(time.RFC3339))
	return nil
}

// Runtimes returns the runtime rows keyed by machine.
func (s *gormStore) Runtimes(ctx context.Context) (map[model.MachineID]model.MachineRuntime, error) {
	var rows []model.MachineRuntime
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch runtimes: %w", err)
	}
	out := make(map[model.MachineID]model.MachineRuntime, len(rows))
	for _, r := range rows {
		out[model.MachineID(r.MachineID)] = r
	}
	return out, nil
}

// EventsBetween returns a machine's events with from <= timestamp <= to in
// time order.
func (s *gormStore) EventsBetween(ctx context.Context, machine model.MachineID, from, to time.Time) ([]model.MachineEvent, error) {
	var events []model.MachineEvent
	err := s.db.WithContext(ctx).
		Where("machine_id = ? AND timestamp >= ? AND timestamp <= ?", string(machine), from, to).
		Order("timestamp ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events for %s: %w", machine, err)
	}
	return events, nil
}

// LastEventBefore returns the latest event strictly before before, or nil.
func (s *gormStore) LastEventBefore(ctx context.Context, machine model.MachineID, before time.Time) (*model.MachineEvent, error) {
	var events []model.MachineEvent
	err := s.db.WithContext(ctx).
		Where("machine_id = ? AND timestamp < ?", string(machine), before).
		Order("timestamp DESC").
		Limit(1).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch last event for %s: %w", machine, err)
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

// EventDates lists the distinct days, in from's zone, that have events in
// [from, before), most recent first.
func (s *gormStore) EventDates(ctx context.Context, from, before time.Time) ([]string, error) {
	var stamps []time.Time
	err := s.db.WithContext(ctx).Model(&model.MachineEvent{}).
		Where("timestamp >= ? AND timestamp < ?", from, before).
		Pluck("timestamp", &stamps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch event dates: %w", err)
	}

	seen := make(map[string]struct{})
	for _, ts := range stamps {
		seen[ts.In(from.Location()).Format("2006-01-02")] = struct{}{}
	}
	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

// DeleteEventsBefore removes events older than before.
func (s *gormStore) DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("timestamp < ?", before).Delete(&model.MachineEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", res.Error)
	}
	return res.RowsAffected, nil
}
