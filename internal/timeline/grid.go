package timeline

import (
	"log"
	"time"

	"kanshi/internal/model"
)

// Strip is a render target that displays one machine's buckets.
type Strip interface {
	Paint(buckets []Bucket)
}

// StripLookup finds the strip of a machine. A missing strip is not an error;
// the grid keeps its state and skips painting.
type StripLookup func(id model.MachineID) (Strip, bool)

// Grid keeps the bucket state of every machine of a session.
type Grid struct {
	window  Window
	now     func() time.Time
	loc     *time.Location
	strips  StripLookup
	buckets map[model.MachineID][]Bucket
}

// NewGrid creates a grid reading wall-clock time from now. Event timestamps
// without a zone are interpreted in loc.
func NewGrid(window Window, now func() time.Time, loc *time.Location, strips StripLookup) *Grid {
	if loc == nil {
		loc = time.Local
	}
	return &Grid{
		window:  window,
		now:     now,
		loc:     loc,
		strips:  strips,
		buckets: make(map[model.MachineID][]Bucket),
	}
}

// Window returns the operating window of the grid.
func (g *Grid) Window() Window { return g.window }

// Initialize resets the grid to BucketCount inactive buckets for each
// machine. Prior state, including machines not listed, is discarded.
func (g *Grid) Initialize(ids []model.MachineID) {
	g.buckets = make(map[model.MachineID][]Bucket, len(ids))
	for _, id := range ids {
		g.buckets[id] = g.blank(true)
		g.paint(id)
	}
}

// Buckets returns a copy of the machine's buckets.
func (g *Grid) Buckets(id model.MachineID) ([]Bucket, bool) {
	b, ok := g.buckets[id]
	if !ok {
		return nil, false
	}
	out := make([]Bucket, len(b))
	copy(out, b)
	return out, true
}

// Render draws the live timeline of a machine: buckets before the current
// interval take the historical entry, the current bucket takes current, and
// later buckets are dimmed. Before the window opens every bucket is dimmed.
func (g *Grid) Render(id model.MachineID, states []model.Slot, current model.OperatingState) {
	buckets, ok := g.buckets[id]
	if !ok {
		log.Printf("timeline: no grid for machine %s; skipping render", id)
		return
	}

	now := g.now()
	if !g.window.Opened(now) {
		for i := range buckets {
			buckets[i] = inactive(i, true)
		}
		g.paint(id)
		return
	}

	currentInterval := g.window.Interval(now)
	for i := range buckets {
		switch {
		case i < currentInterval:
			var slot string
			if i < len(states) {
				slot = string(states[i])
			}
			if state, ok := stateOf(slot); ok {
				buckets[i] = filled(i, state)
			} else {
				buckets[i] = inactive(i, false)
			}
		case i == currentInterval:
			buckets[i] = Bucket{Index: i, State: current, Active: current.Known(), Current: true}
		default:
			buckets[i] = inactive(i, true)
		}
	}
	g.paint(id)
}

// RenderFromEvents draws a finished day from its ordered state changes. All
// buckets are reset, then each event fills the buckets from the last filled
// index up to its own bucket (exclusive) with the status in effect before it.
// After the last event the remaining buckets take the last status. An empty
// event list leaves every bucket inactive.
func (g *Grid) RenderFromEvents(id model.MachineID, events []model.StatusEvent) {
	if _, ok := g.buckets[id]; !ok {
		log.Printf("timeline: no grid for machine %s; skipping history render", id)
		return
	}

	buckets := g.blank(true)
	g.buckets[id] = buckets
	defer g.paint(id)

	if len(events) == 0 {
		return
	}

	status := model.ParseState(events[0].Status)
	next := 0
	for _, ev := range events {
		at, err := model.ParseTimestamp(ev.Timestamp, g.loc)
		if err != nil {
			log.Printf("timeline: skipping event for %s: %v", id, err)
			continue
		}
		index := g.window.Interval(at.In(g.loc))
		for next < index && next < len(buckets) {
			buckets[next] = filled(next, status)
			next++
		}
		status = model.ParseState(ev.Status)
	}
	for next < len(buckets) {
		buckets[next] = filled(next, status)
		next++
	}
}

func (g *Grid) blank(dimmed bool) []Bucket {
	b := make([]Bucket, BucketCount)
	for i := range b {
		b[i] = inactive(i, dimmed)
	}
	return b
}

func (g *Grid) paint(id model.MachineID) {
	if g.strips == nil {
		return
	}
	strip, ok := g.strips(id)
	if !ok {
		return
	}
	out, _ := g.Buckets(id)
	strip.Paint(out)
}
