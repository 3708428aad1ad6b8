package model

import (
	"bytes"
	"encoding/json"
	"math"
)

// DurationTotals maps a state to accumulated seconds as reported by the server.
type DurationTotals map[OperatingState]float64

// Seconds returns the whole seconds recorded for s; missing entries are zero.
func (d DurationTotals) Seconds(s OperatingState) int64 {
	v, ok := d[s]
	if !ok || math.IsNaN(v) || v < 0 {
		return 0
	}
	return int64(math.Floor(v))
}

// Slot is one entry of a timeline bucket array. The empty slot encodes as null.
type Slot string

// MarshalJSON implements json.Marshaler.
func (s Slot) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

// DebugInfo carries the server clock and reset diagnostics.
type DebugInfo struct {
	CurrentTime     string  `json:"current_time"`
	ResetCheckTime  string  `json:"reset_check_time,omitempty"`
	TimeDiffSeconds float64 `json:"time_diff_seconds"`
	JustReset       bool    `json:"just_reset"`
	LastResetTime   *string `json:"last_reset_time"`
}

// ConditionsResponse is the payload of GET /update_conditions.
type ConditionsResponse struct {
	MachineConditions map[MachineID]string         `json:"machine_conditions"`
	LatestTimestamp   string                       `json:"latest_timestamp,omitempty"`
	TimelineData      map[MachineID][]Slot         `json:"timeline_data"`
	TotalDurations    map[MachineID]DurationTotals `json:"total_durations"`
	DebugInfo         DebugInfo                    `json:"debug_info"`
	JustReset         bool                         `json:"just_reset"`
}

// Complete reports whether the three per-machine sections are present.
func (r *ConditionsResponse) Complete() bool {
	return r.MachineConditions != nil && r.TotalDurations != nil && r.TimelineData != nil
}

// HistoryDatesResponse is the payload of GET /api/history/dates.
type HistoryDatesResponse struct {
	Dates []string `json:"dates"`
}

// StatusEvent is a timestamped state change in a history day.
type StatusEvent struct {
	Timestamp string  `json:"timestamp"`
	Status    string  `json:"status"`
	Duration  float64 `json:"duration"`
}

// MachineHistory holds one machine's events and totals for a history day.
type MachineHistory struct {
	Events    []StatusEvent  `json:"events"`
	Durations DurationTotals `json:"durations"`
}

// UnmarshalJSON accepts both the object form and the bare empty list the
// server sends for days without data.
func (h *MachineHistory) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var events []StatusEvent
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return err
		}
		*h = MachineHistory{Events: events}
		return nil
	}
	type plain MachineHistory
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*h = MachineHistory(p)
	return nil
}

// HistoryDay is the payload of GET /api/history/data/{date}.
type HistoryDay map[MachineID]MachineHistory
