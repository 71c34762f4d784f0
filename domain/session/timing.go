package session

import "time"

// scanClock tracks how long the camera has been scanning in the current run
// and in total. The zero value is ready to use.
type scanClock struct {
	active  bool
	start   time.Time
	last    time.Duration
	accrued time.Duration
}

// observe advances the clock with the current scanning flag.
func (c *scanClock) observe(scanning bool, now time.Time) {
	if scanning {
		if !c.active { // off -> on
			c.active = true
			c.start = now
			c.last = 0
		}
		c.last = now.Sub(c.start)
	} else if c.active { // on -> off
		c.last = now.Sub(c.start)
		c.accrued += c.last
		c.active = false
	}
}

// values returns the current (or last) run and the total including it.
func (c *scanClock) values() (run, total time.Duration) {
	run = c.last
	total = c.accrued
	if c.active {
		total += run
	}
	return
}
