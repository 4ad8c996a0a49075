package sink

import (
	"time"

	"github.com/viess-e3/udsgw/outcome"
)

// minPublishIntervalMs throttles statistics publishing (spec.md §3, §4.3).
const minPublishIntervalMs = 5000

// ReplyTime tracks min/max/mean round-trip latency across completed
// exchanges.
type ReplyTime struct {
	Min  time.Duration
	Max  time.Duration
	Mean time.Duration
	n    int64
}

func (r *ReplyTime) observe(d time.Duration) {
	if r.n == 0 || d < r.Min {
		r.Min = d
	}
	if d > r.Max {
		r.Max = d
	}
	r.n++
	r.Mean = r.Mean + (d-r.Mean)/time.Duration(r.n)
}

// Statistics is the per-session counters block (spec.md §3). It has no lock
// of its own: the owning Session calls RecordOutcome while holding its main
// mutex and RecordOverlap while holding its overlap mutex.
type Statistics struct {
	CntTotal         uint64
	CntOk            uint64
	CntNegativeResp  uint64
	CntTimeout       uint64
	CntBadProtocol   uint64
	CntOverlap       uint64
	PerDidFailures   map[uint16]uint32
	ReplyTime        ReplyTime
	nextPublishTs    time.Time
}

func NewStatistics() *Statistics {
	return &Statistics{PerDidFailures: make(map[uint16]uint32)}
}

// Snapshot is an immutable copy of Statistics suitable for publishing.
type Snapshot struct {
	CntTotal        uint64
	CntOk           uint64
	CntNegativeResp uint64
	CntTimeout      uint64
	CntBadProtocol  uint64
	CntOverlap      uint64
	PerDidFailures  map[uint16]uint32
	ReplyTime       ReplyTime
}

func (s *Statistics) snapshot() Snapshot {
	cp := make(map[uint16]uint32, len(s.PerDidFailures))
	for k, v := range s.PerDidFailures {
		cp[k] = v
	}
	return Snapshot{
		CntTotal:        s.CntTotal,
		CntOk:           s.CntOk,
		CntNegativeResp: s.CntNegativeResp,
		CntTimeout:      s.CntTimeout,
		CntBadProtocol:  s.CntBadProtocol,
		CntOverlap:      s.CntOverlap,
		PerDidFailures:  cp,
		ReplyTime:       s.ReplyTime,
	}
}

// RecordOutcome updates counters for a completed exchange's outcome. Reply
// latency is observed for Ok outcomes only.
func (s *Statistics) RecordOutcome(kind outcome.Kind, did uint16, latency time.Duration) {
	s.CntTotal++
	switch kind {
	case outcome.Ok:
		s.CntOk++
	case outcome.NegativeResponse:
		s.CntNegativeResp++
		s.PerDidFailures[did]++
	case outcome.Timeout:
		s.CntTimeout++
		s.PerDidFailures[did]++
	case outcome.DidMismatch, outcome.BadFrame, outcome.BadState:
		s.CntBadProtocol++
		s.PerDidFailures[did]++
	}
	if kind == outcome.Ok {
		s.ReplyTime.observe(latency)
	}
}

// RecordOverlap counts a dropped re-entrant inbound-frame call.
func (s *Statistics) RecordOverlap() {
	s.CntOverlap++
}

// PublishIfDue publishes the current snapshot via pub if the throttle
// interval has elapsed or forceStore is true (spec.md §4.3).
func (s *Statistics) PublishIfDue(pub Publisher, now time.Time, forceStore bool) {
	if !forceStore && now.Before(s.nextPublishTs) {
		return
	}
	s.nextPublishTs = now.Add(minPublishIntervalMs * time.Millisecond)
	pub.PublishStats(s.snapshot())
}
