package session

import (
	"context"
	"time"
)

// scheduleLoop periodically enqueues a read for one DID (spec.md §4.2
// "Command Queue & Scheduler"). A periodSec of 0 means "run once, at
// Start time" rather than repeat.
type scheduleLoop struct {
	did      uint16
	periodID uint32
	periodMs int64
}

// AddSchedule registers a periodic (or one-shot, if periodSec == 0) read
// of did. Must be called before Start.
func (s *Session) AddSchedule(did uint16, periodSec int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uint32(len(s.schedules)) + 1
	s.schedules[id] = &scheduleLoop{did: did, periodID: id, periodMs: int64(periodSec) * 1000}
}

func (s *Session) startSchedule(ctx context.Context, l *scheduleLoop) {
	if l.periodMs <= 0 {
		s.ReadByDid(l.did)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(durationMs(l.periodMs))
		defer ticker.Stop()
		s.ReadByDid(l.did)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.ReadByDid(l.did)
			}
		}
	}()
}
