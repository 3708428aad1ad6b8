package loop

import "time"

// Manual is a Scheduler driven by the caller. Posted tasks run immediately
// and registrations fire only on Tick. It is meant for tests.
type Manual struct {
	regs []*manualReg
}

// NewManual returns an empty Manual scheduler.
func NewManual() *Manual {
	return &Manual{}
}

type manualReg struct {
	m        *Manual
	interval time.Duration
	fn       func()
	stopped  bool
}

// Stop implements Registration.
func (r *manualReg) Stop() {
	if r.stopped {
		return
	}
	r.stopped = true
	for i, reg := range r.m.regs {
		if reg == r {
			r.m.regs = append(r.m.regs[:i], r.m.regs[i+1:]...)
			break
		}
	}
}

// Every implements Scheduler.
func (m *Manual) Every(interval time.Duration, fn func()) Registration {
	r := &manualReg{m: m, interval: interval, fn: fn}
	m.regs = append(m.regs, r)
	return r
}

// Post implements Scheduler.
func (m *Manual) Post(fn func()) {
	fn()
}

// Tick fires every live registration once, in registration order.
// Registrations stopped during the tick are skipped.
func (m *Manual) Tick() {
	regs := append([]*manualReg(nil), m.regs...)
	for _, r := range regs {
		if !r.stopped {
			r.fn()
		}
	}
}

// Active returns the number of live registrations.
func (m *Manual) Active() int {
	return len(m.regs)
}
