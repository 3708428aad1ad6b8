package timeline

import "kanshi/internal/model"

// Bucket is one 5-minute slot of a machine's timeline.
type Bucket struct {
	Index   int                  `json:"index"`
	State   model.OperatingState `json:"state,omitempty"`
	Active  bool                 `json:"active"`
	Current bool                 `json:"current"`
	Dimmed  bool                 `json:"dimmed"`
}

// StyleKey returns the block style: the state's key, or "inactive".
func (b Bucket) StyleKey() string {
	if !b.Active {
		return "inactive"
	}
	return b.State.StyleKey()
}

func inactive(i int, dimmed bool) Bucket {
	return Bucket{Index: i, Dimmed: dimmed}
}

func filled(i int, state model.OperatingState) Bucket {
	return Bucket{Index: i, State: state, Active: true}
}

// stateOf converts a bucket entry from the server. Empty entries are not a
// state and leave the bucket inactive.
func stateOf(slot string) (model.OperatingState, bool) {
	if slot == "" {
		return "", false
	}
	return model.ParseState(slot), true
}
