package model

import "strings"

// MachineID identifies a monitored machine, e.g. "GRS_14".
type MachineID string

// OperatingState is the condition reported for a machine. The zero value
// means no state has been observed yet.
type OperatingState string

const (
	Running   OperatingState = "On"
	Stopped   OperatingState = "Off"
	Preparing OperatingState = "Prep"
	Unknown   OperatingState = "Unknown"
)

// TrackedStates are the states that carry a duration counter, in display order.
var TrackedStates = []OperatingState{Stopped, Preparing, Running}

// ParseState maps a server state string onto an OperatingState. Matching is
// case-insensitive and anything unrecognized becomes Unknown.
func ParseState(s string) OperatingState {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ON":
		return Running
	case "OFF":
		return Stopped
	case "PREP":
		return Preparing
	default:
		return Unknown
	}
}

// Known reports whether a state has been observed.
func (s OperatingState) Known() bool {
	return s != ""
}

// StyleKey returns the style class suffix for the state.
func (s OperatingState) StyleKey() string {
	switch s {
	case Running, Stopped, Preparing:
		return strings.ToLower(string(s))
	case "":
		return "inactive"
	default:
		return "unknown"
	}
}

// Label returns the default display label for the state.
func (s OperatingState) Label() string {
	return DefaultLabels.Label(s)
}

// Labels maps states to display labels.
type Labels map[OperatingState]string

// DefaultLabels are the labels shown on the factory floor displays.
var DefaultLabels = Labels{
	Running:   "加工中",
	Stopped:   "停止",
	Preparing: "準備中",
	Unknown:   "不明",
}

// Label returns the label for s, falling back to the defaults and finally to
// the Unknown label.
func (l Labels) Label(s OperatingState) string {
	if v, ok := l[s]; ok && v != "" {
		return v
	}
	if v, ok := DefaultLabels[s]; ok {
		return v
	}
	if v, ok := l[Unknown]; ok && v != "" {
		return v
	}
	return DefaultLabels[Unknown]
}

// LabelsFrom builds Labels from raw configuration keys. Keys are parsed with
// ParseState, so "on" and "On" are equivalent.
func LabelsFrom(raw map[string]string) Labels {
	out := make(Labels, len(raw))
	for k, v := range raw {
		out[ParseState(k)] = v
	}
	return out
}
