// Package board is the in-memory render surface of a dashboard session. It
// stands in for the page: every target has a stable id derived from the
// machine id, and readers take consistent snapshots while the session loop
// writes.
package board

import (
	"sort"
	"sync"

	"kanshi/internal/model"
	"kanshi/internal/timeline"
)

// TrackedClass marks a duration display that is currently counting.
const TrackedClass = "active-server-tracked"

// Page-wide clock targets.
const (
	DateID = "current-date"
	TimeID = "current-time"
)

// TimelineID is the id of a machine's timeline strip.
func TimelineID(m model.MachineID) string { return string(m) + "-timeline" }

// StatusID is the id of a machine's status label.
func StatusID(m model.MachineID) string { return string(m) + "-status" }

// CurrentTimeID is the id of a machine's wall-clock display.
func CurrentTimeID(m model.MachineID) string { return string(m) + "-current-time" }

// DurationID names the duration display of a state, e.g. "GRS_14-on-time".
func DurationID(m model.MachineID, s model.OperatingState) string {
	return string(m) + "-" + s.StyleKey() + "-time"
}

// Board holds the elements and timeline strips of one view.
type Board struct {
	mu       sync.RWMutex
	machines []model.MachineID
	elements map[string]*Element
	strips   map[string]*Strip
	version  uint64
	changed  chan struct{}
}

// New creates a board with the full set of targets for each machine.
func New(machines []model.MachineID) *Board {
	b := &Board{
		machines: append([]model.MachineID(nil), machines...),
		elements: make(map[string]*Element),
		strips:   make(map[string]*Strip),
		changed:  make(chan struct{}, 1),
	}
	b.addElement(DateID)
	b.addElement(TimeID)
	for _, m := range machines {
		b.strips[TimelineID(m)] = &Strip{board: b}
		b.addElement(StatusID(m), "machine-status")
		b.addElement(CurrentTimeID(m))
		for _, s := range model.TrackedStates {
			b.addElement(DurationID(m, s), "duration")
		}
	}
	return b
}

func (b *Board) addElement(id string, classes ...string) {
	el := &Element{board: b, id: id, classes: make(map[string]bool)}
	for _, c := range classes {
		el.classes[c] = true
	}
	b.elements[id] = el
}

// Remove deletes a target, as if it were missing from the page.
func (b *Board) Remove(id string) {
	b.mu.Lock()
	delete(b.elements, id)
	delete(b.strips, id)
	b.mu.Unlock()
}

// Machines returns the machines the board was created for.
func (b *Board) Machines() []model.MachineID {
	return append([]model.MachineID(nil), b.machines...)
}

// Element looks up an element by id.
func (b *Board) Element(id string) (*Element, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	el, ok := b.elements[id]
	return el, ok
}

// Status returns the status label of a machine.
func (b *Board) Status(m model.MachineID) (*Element, bool) {
	return b.Element(StatusID(m))
}

// Duration returns the duration display of a machine's state.
func (b *Board) Duration(m model.MachineID, s model.OperatingState) (*Element, bool) {
	return b.Element(DurationID(m, s))
}

// Strip returns the timeline strip of a machine. It matches
// timeline.StripLookup.
func (b *Board) Strip(m model.MachineID) (timeline.Strip, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.strips[TimelineID(m)]
	if !ok {
		return nil, false
	}
	return s, true
}

// Changes signals after every modification. Signals coalesce; the reader
// should take a fresh Snapshot on each receive.
func (b *Board) Changes() <-chan struct{} {
	return b.changed
}

// Version increases with every modification.
func (b *Board) Version() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

// touch must be called with b.mu held for writing.
func (b *Board) touch() {
	b.version++
	select {
	case b.changed <- struct{}{}:
	default:
	}
}

// Element is a text target with a set of style classes.
type Element struct {
	board   *Board
	id      string
	text    string
	classes map[string]bool
}

// ID returns the element id.
func (e *Element) ID() string { return e.id }

// SetText replaces the element text.
func (e *Element) SetText(text string) {
	e.board.mu.Lock()
	defer e.board.mu.Unlock()
	if e.text == text {
		return
	}
	e.text = text
	e.board.touch()
}

// Text returns the element text.
func (e *Element) Text() string {
	e.board.mu.RLock()
	defer e.board.mu.RUnlock()
	return e.text
}

// SetTracked toggles the tracked marker of a duration display.
func (e *Element) SetTracked(tracked bool) {
	e.board.mu.Lock()
	defer e.board.mu.Unlock()
	if e.classes[TrackedClass] == tracked {
		return
	}
	if tracked {
		e.classes[TrackedClass] = true
	} else {
		delete(e.classes, TrackedClass)
	}
	e.board.touch()
}

// SetStatus writes a status label and replaces its status-* style.
func (e *Element) SetStatus(label, styleKey string) {
	e.board.mu.Lock()
	defer e.board.mu.Unlock()
	for c := range e.classes {
		if len(c) > 7 && c[:7] == "status-" {
			delete(e.classes, c)
		}
	}
	e.classes["status-"+styleKey] = true
	e.text = label
	e.board.touch()
}

// HasClass reports whether the element carries class c.
func (e *Element) HasClass(c string) bool {
	e.board.mu.RLock()
	defer e.board.mu.RUnlock()
	return e.classes[c]
}

func (e *Element) view() ElementView {
	classes := make([]string, 0, len(e.classes))
	for c := range e.classes {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	return ElementView{Text: e.text, Classes: classes}
}

// Strip is a timeline container.
type Strip struct {
	board   *Board
	buckets []timeline.Bucket
}

// Paint implements timeline.Strip.
func (s *Strip) Paint(buckets []timeline.Bucket) {
	s.board.mu.Lock()
	defer s.board.mu.Unlock()
	s.buckets = append(s.buckets[:0], buckets...)
	s.board.touch()
}

// Buckets returns a copy of the painted buckets.
func (s *Strip) Buckets() []timeline.Bucket {
	s.board.mu.RLock()
	defer s.board.mu.RUnlock()
	return append([]timeline.Bucket(nil), s.buckets...)
}
