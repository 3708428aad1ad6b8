package board

import "kanshi/internal/model"

// ElementView is the serialized form of an element.
type ElementView struct {
	Text    string   `json:"text"`
	Classes []string `json:"classes"`
}

// BlockView is the serialized form of a timeline bucket.
type BlockView struct {
	Index   int    `json:"index"`
	Style   string `json:"style"`
	Current bool   `json:"current,omitempty"`
	Dimmed  bool   `json:"dimmed,omitempty"`
}

// MachineView collects every target of one machine.
type MachineView struct {
	ID          model.MachineID        `json:"id"`
	Status      *ElementView           `json:"status,omitempty"`
	CurrentTime string                 `json:"current_time,omitempty"`
	Durations   map[string]ElementView `json:"durations"`
	Timeline    []BlockView            `json:"timeline"`
}

// Snapshot is a consistent copy of the whole board.
type Snapshot struct {
	Version  uint64        `json:"version"`
	Date     string        `json:"date"`
	Time     string        `json:"time"`
	Machines []MachineView `json:"machines"`
}

// Snapshot copies the board under one read lock.
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := Snapshot{
		Version:  b.version,
		Machines: make([]MachineView, 0, len(b.machines)),
	}
	if el, ok := b.elements[DateID]; ok {
		snap.Date = el.text
	}
	if el, ok := b.elements[TimeID]; ok {
		snap.Time = el.text
	}

	for _, m := range b.machines {
		mv := MachineView{
			ID:        m,
			Durations: make(map[string]ElementView, len(model.TrackedStates)),
		}
		if el, ok := b.elements[StatusID(m)]; ok {
			v := el.view()
			mv.Status = &v
		}
		if el, ok := b.elements[CurrentTimeID(m)]; ok {
			mv.CurrentTime = el.text
		}
		for _, s := range model.TrackedStates {
			if el, ok := b.elements[DurationID(m, s)]; ok {
				mv.Durations[string(s)] = el.view()
			}
		}
		if strip, ok := b.strips[TimelineID(m)]; ok {
			mv.Timeline = make([]BlockView, len(strip.buckets))
			for i, bk := range strip.buckets {
				mv.Timeline[i] = BlockView{
					Index:   bk.Index,
					Style:   bk.StyleKey(),
					Current: bk.Current,
					Dimmed:  bk.Dimmed,
				}
			}
		}
		snap.Machines = append(snap.Machines, mv)
	}
	return snap
}
