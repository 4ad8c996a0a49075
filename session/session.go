package session

import (
	"context"
	"sync"
	"time"

	"github.com/viess-e3/udsgw/canbus"
	"github.com/viess-e3/udsgw/outcome"
	"github.com/viess-e3/udsgw/sink"
)

// drainIntervalMs is the command-queue drain period (spec.md §4.2).
const drainIntervalMs = 40

// transferBuffer tracks one in-flight exchange (spec.md §3). It is reset
// to its zero value on every completion, matching the invariant
// "SessionState = Idle <=> TransferBuffer is inactive".
type transferBuffer struct {
	mode           CommandMode
	did            uint16
	expectedLen    uint16
	bytes          []byte
	seqCounter     byte
	valueToWrite   []byte
	requestStarted time.Time
}

func (t *transferBuffer) reset() {
	*t = transferBuffer{}
}

// Callback reports one exchange's outcome (spec.md §4.1).
type Callback func(outcome.Result)

// Session is the per-device UDS state machine (spec.md §3). All state
// mutation funnels through mu: OnInboundFrame uses TryLock so a genuinely
// re-entrant call is detected and counted rather than blocking (spec.md
// §4.1 "Overlap protection"); every other internal entrypoint (drain tick,
// timeout fire, schedule tick) uses a blocking Lock, since those only ever
// originate from this Session's own timers and never overlap by
// construction.
type Session struct {
	cfg Config

	mu            sync.Mutex
	state         State
	tbuf          transferBuffer
	queue         []Command
	coolDownUntil time.Time
	opMode        Mode
	callback      Callback
	timeoutTimer  *time.Timer

	overlapMu    sync.Mutex
	overlapCount uint64

	sink *sink.Sink

	schedules map[uint32]*scheduleLoop
	stopCh    chan struct{}
	wg        sync.WaitGroup
	started   bool
}

// New builds a Session for one (txId, rxId) pair. sk may be nil for the
// SID-0x77 companion session, which never calls into the decode sink
// directly (spec.md §4.1 SID-0x77 variant: only the original session
// publishes decoded values).
func New(cfg Config, sk *sink.Sink) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		cfg:       cfg,
		state:     Idle,
		opMode:    Standby,
		sink:      sk,
		schedules: make(map[uint32]*scheduleLoop),
	}
}

// SetCallback installs the outcome callback (spec.md §4.1).
func (s *Session) SetCallback(fn Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = fn
}

// SetOpMode changes the session's lifecycle switch (spec.md §6).
func (s *Session) SetOpMode(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opMode = m
}

// RxID returns the session's receive arbitration id, used by the
// Supervisor to route inbound frames.
func (s *Session) RxID() uint16 { return s.cfg.RxID }

// TxID returns the session's transmit arbitration id.
func (s *Session) TxID() uint16 { return s.cfg.TxID }

// Name returns the session's diagnostic name.
func (s *Session) Name() string { return s.cfg.Name }

// ReadByDid pushes a read command for did (spec.md §3 Command). Pushes are
// always accepted regardless of session state (spec.md §4.2).
func (s *Session) ReadByDid(did uint16) {
	s.enqueue(Command{Mode: Read, Did: did, RequestedAt: now()})
}

// WriteByDid pushes a write command using the default SID-0x2E protocol.
func (s *Session) WriteByDid(did uint16, payload []byte) {
	s.enqueue(Command{Mode: Write, Did: did, Payload: payload, RequestedAt: now()})
}

// WriteByDid77 pushes a write command using the vendor SID-0x77 variant.
func (s *Session) WriteByDid77(did uint16, payload []byte) {
	s.enqueue(Command{Mode: Write77, Did: did, Payload: payload, RequestedAt: now()})
}

func (s *Session) enqueue(c Command) {
	s.mu.Lock()
	s.queue = append(s.queue, c)
	s.mu.Unlock()
}

// Start begins the session's drain loop and all configured schedule
// loops (spec.md §4.2, §5).
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.drainLoop(ctx)

	s.mu.Lock()
	loops := make([]*scheduleLoop, 0, len(s.schedules))
	for _, l := range s.schedules {
		loops = append(loops, l)
	}
	s.mu.Unlock()
	for _, l := range loops {
		s.startSchedule(ctx, l)
	}
}

// Stop cancels all schedules, timers, and the drain loop. In-flight
// exchanges are abandoned without firing their callback (spec.md §5).
// Stop is idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	if s.timeoutTimer != nil {
		s.timeoutTimer.Stop()
		s.timeoutTimer = nil
	}
	s.state = Idle
	s.tbuf.reset()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Session) drainLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(drainIntervalMs * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tryDrain()
		}
	}
}

// tryDrain pops and dispatches one command iff the engine is idle, the
// cool-down has elapsed, and opMode != Standby (spec.md §3 invariant,
// §4.2).
func (s *Session) tryDrain() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opMode == Standby {
		return
	}
	if s.state != Idle {
		return
	}
	if now().Before(s.coolDownUntil) {
		return
	}
	if len(s.queue) == 0 {
		return
	}

	cmd := s.queue[0]
	s.queue = s.queue[1:]
	s.dispatch(cmd)
}

// now is a seam for tests; defaults to time.Now.
var now = time.Now

// OnInboundFrame routes one inbound CAN frame into the state machine. A
// genuinely re-entrant call (this session already processing a frame on
// another goroutine) is dropped and counted rather than blocking (spec.md
// §4.1 "Overlap protection").
func (s *Session) OnInboundFrame(f canbus.Frame) {
	if !s.mu.TryLock() {
		s.recordOverlapLocked()
		return
	}
	defer s.mu.Unlock()
	s.handleFrameLocked(f)
}

func (s *Session) recordOverlapLocked() {
	// TryLock failed, so we do not hold mu here; the overlap counters are
	// guarded by their own mutex, overlapMu, instead.
	s.overlapMu.Lock()
	s.overlapCount++
	n := s.overlapCount
	if s.sink != nil {
		s.sink.Stats.RecordOverlap()
	}
	s.overlapMu.Unlock()
	if n == 1 || n%100 == 0 {
		s.cfg.Logger.Printf("[%s] overlap #%d: dropped re-entrant inbound frame", s.cfg.Name, n)
	}
}
