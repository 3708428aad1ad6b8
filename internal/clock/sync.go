package clock

import "time"

// Sync holds the offset between the local clock and the last known server
// clock. It is owned by one session and mutated only by successful polls.
type Sync struct {
	clock    Clock
	loc      *time.Location
	offset   time.Duration
	accuracy time.Duration

	synced          bool
	lastSyncLocal   time.Time
	lastKnownServer time.Time
}

// Option configures a Sync.
type Option func(*Sync)

// WithOffset sets the coarse offset applied before any sync has happened.
func WithOffset(d time.Duration) Option {
	return func(s *Sync) { s.offset = d }
}

// WithLocation sets the zone in which wall-clock times are reported.
func WithLocation(loc *time.Location) Option {
	return func(s *Sync) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// NewSync creates an unsynchronized Sync reading time from c.
func NewSync(c Clock, opts ...Option) *Sync {
	s := &Sync{
		clock:    c,
		loc:      time.Local,
		accuracy: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Clock returns the local clock the Sync reads from.
func (s *Sync) Clock() Clock { return s.clock }

// Location returns the zone used for wall-clock times.
func (s *Sync) Location() *time.Location { return s.loc }

// RecordSync anchors the server clock at serverTime as of the current local
// time. Only call it with a timestamp taken from an actual server response.
func (s *Sync) RecordSync(serverTime time.Time) {
	s.lastKnownServer = serverTime
	s.lastSyncLocal = s.clock.Now()
	s.synced = true
}

// ObserveRoundTrip records the request round trip of the last sync as its
// accuracy.
func (s *Sync) ObserveRoundTrip(d time.Duration) {
	if d >= 0 {
		s.accuracy = d
	}
}

// Accuracy returns the round trip observed on the last sync.
func (s *Sync) Accuracy() time.Duration { return s.accuracy }

// Synced reports whether at least one sync has been recorded.
func (s *Sync) Synced() bool { return s.synced }

// LastKnownServerTime returns the server time of the last sync, or the zero
// time before any sync.
func (s *Sync) LastKnownServerTime() time.Time { return s.lastKnownServer }

// SinceLastSync returns the local time elapsed since the last sync. Before
// any sync it reports ok=false.
func (s *Sync) SinceLastSync() (time.Duration, bool) {
	if !s.synced {
		return 0, false
	}
	return s.clock.Now().Sub(s.lastSyncLocal), true
}

// AdjustedNow is the local clock shifted by the configured offset, in the
// session's zone. It is usable before any sync.
func (s *Sync) AdjustedNow() time.Time {
	return s.clock.Now().Add(s.offset).In(s.loc)
}

// PreciseServerTime extrapolates the last known server time forward by the
// local time elapsed since the sync, floored to the second. Before any sync
// it falls back to the floored AdjustedNow.
func (s *Sync) PreciseServerTime() time.Time {
	if !s.synced {
		return Quantize(s.AdjustedNow())
	}
	elapsed := s.clock.Now().Sub(s.lastSyncLocal)
	return Quantize(s.lastKnownServer.Add(elapsed)).In(s.loc)
}

// Quantize floors t to the whole second.
func Quantize(t time.Time) time.Time {
	ms := t.UnixMilli()
	floored := ms - ((ms%1000)+1000)%1000
	return time.UnixMilli(floored).In(t.Location())
}
