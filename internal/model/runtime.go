package model

import "time"

// MachineEvent is one observed status change.
type MachineEvent struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	MachineID string    `gorm:"size:64;not null;index:idx_machine_events_machine_ts,priority:1"`
	Timestamp time.Time `gorm:"not null;index;index:idx_machine_events_machine_ts,priority:2"`
	Status    string    `gorm:"size:16;not null"`
}

// MachineRuntime is the running tally of a machine for the current day.
type MachineRuntime struct {
	MachineID        string `gorm:"primaryKey;size:64"`
	CurrentStatus    string `gorm:"size:16"`
	CurrentStartTime *time.Time
	OffDuration      float64 `gorm:"not null;default:0"`
	PrepDuration     float64 `gorm:"not null;default:0"`
	OnDuration       float64 `gorm:"not null;default:0"`
	UnknownDuration  float64 `gorm:"not null;default:0"`
	LastResetTime    *time.Time
}

// Totals returns the accumulated durations keyed by state.
func (r MachineRuntime) Totals() DurationTotals {
	return DurationTotals{
		Stopped:   r.OffDuration,
		Preparing: r.PrepDuration,
		Running:   r.OnDuration,
		Unknown:   r.UnknownDuration,
	}
}

// Add accumulates seconds onto the column of the given state.
func (r *MachineRuntime) Add(state OperatingState, seconds float64) {
	switch state {
	case Stopped:
		r.OffDuration += seconds
	case Preparing:
		r.PrepDuration += seconds
	case Running:
		r.OnDuration += seconds
	default:
		r.UnknownDuration += seconds
	}
}

// StatusChange is an ingested status that differs from the previous one.
type StatusChange struct {
	MachineID MachineID
	Status    OperatingState
	At        time.Time
}
