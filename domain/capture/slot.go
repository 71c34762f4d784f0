package capture

import (
	"sync/atomic"
	"time"
)

// frameSlot holds the most recent frame pushed by a device callback. Taking
// the frame empties the slot, so a consumer never sees the same frame twice
// and CaptureFrame reports "no data" until the device pushes again.
type frameSlot struct {
	latest       atomic.Pointer[Frame]
	captures     atomic.Uint64
	skipped      atomic.Uint64
	captureNanos atomic.Uint64
	sequence     atomic.Uint64
	lastCapture  atomic.Int64
}

// put stores f, recycling an older frame nobody consumed.
func (s *frameSlot) put(f Frame, took time.Duration) {
	f.Sequence = s.sequence.Add(1)
	if f.CapturedAt.IsZero() {
		f.CapturedAt = time.Now()
	}
	s.captures.Add(1)
	s.captureNanos.Add(uint64(took.Nanoseconds()))
	s.lastCapture.Store(f.CapturedAt.UnixNano())
	if old := s.latest.Swap(&f); old != nil {
		s.skipped.Add(1)
		RecycleFrame(*old)
	}
}

func (s *frameSlot) take() (Frame, bool) {
	f := s.latest.Swap(nil)
	if f == nil {
		return Frame{}, false
	}
	return *f, true
}

// drain recycles whatever is left in the slot.
func (s *frameSlot) drain() {
	if f := s.latest.Swap(nil); f != nil {
		RecycleFrame(*f)
	}
}

func (s *frameSlot) stats() Stats {
	captures := s.captures.Load()
	var avg time.Duration
	if captures > 0 {
		avg = time.Duration(s.captureNanos.Load() / captures)
	}
	st := Stats{
		Captures:   captures,
		Skipped:    s.skipped.Load(),
		AvgCapture: avg,
		Sequence:   s.sequence.Load(),
	}
	if ns := s.lastCapture.Load(); ns > 0 {
		st.LastCapture = time.Unix(0, ns)
		st.LatestFrameAge = time.Since(st.LastCapture)
	}
	return st
}

// StatsSource is implemented by devices that track capture statistics.
type StatsSource interface {
	Stats() Stats
}
