package session

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/viess-e3/udsgw/canbus"
	"github.com/viess-e3/udsgw/outcome"
)

func newTestSession(t *testing.T) (*Session, *canbus.MockDriver) {
	t.Helper()
	mock := canbus.NewMockDriver()
	s := New(Config{TxID: 0x700, Driver: mock}, nil)
	s.SetOpMode(Normal)
	return s, mock
}

func waitResult(t *testing.T, ch <-chan outcome.Result) outcome.Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
		return outcome.Result{}
	}
}

func TestReadByDidSingleFrame(t *testing.T) {
	s, mock := newTestSession(t)
	results := make(chan outcome.Result, 1)
	s.SetCallback(func(r outcome.Result) { results <- r })

	s.ReadByDid(0x0100)
	s.mu.Lock()
	s.tryDrainLocked()
	s.mu.Unlock()

	last, ok := mock.LastSent()
	if !ok {
		t.Fatal("no read request was sent")
	}
	want := [8]byte{0x03, sidReadByDid, 0x01, 0x00, 0, 0, 0, 0}
	if last.Data != want {
		t.Fatalf("request frame = % 02X, want % 02X", last.Data, want)
	}

	reply := canbus.NewFrame(0x710, []byte{0x05, sidReadByDidReply, 0x01, 0x00, 0x01, 0x90}, 0)
	s.OnInboundFrame(reply)

	res := waitResult(t, results)
	if res.Kind != outcome.Ok || res.Did != 0x0100 {
		t.Fatalf("result = %+v, want Ok/0x0100", res)
	}
	if !bytes.Equal(res.Value, []byte{0x01, 0x90}) {
		t.Errorf("Value = % 02X, want 01 90", res.Value)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		t.Errorf("state = %s, want Idle", s.state)
	}
}

func TestReadByDidMultiFrame(t *testing.T) {
	s, mock := newTestSession(t)
	results := make(chan outcome.Result, 1)
	s.SetCallback(func(r outcome.Result) { results <- r })

	s.ReadByDid(0x0100)
	s.mu.Lock()
	s.tryDrainLocked()
	s.mu.Unlock()

	// 12-byte payload => total length 15: FF carries 3, two CFs carry 7+2.
	ff := canbus.NewFrame(0x710, []byte{0x10, 15, sidReadByDidReply, 0x01, 0x00, 0x01, 0x02, 0x03}, 0)
	s.OnInboundFrame(ff)

	last, ok := mock.LastSent()
	if !ok || last.Data[0] != pciFC {
		t.Fatalf("expected a Flow Control frame to be sent, got %+v (ok=%v)", last, ok)
	}

	s.mu.Lock()
	if s.state != AwaitReadCF {
		t.Fatalf("state = %s, want AwaitReadCF", s.state)
	}
	s.mu.Unlock()

	cf1 := canbus.NewFrame(0x710, []byte{0x21, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A}, 0)
	s.OnInboundFrame(cf1)
	cf2 := canbus.NewFrame(0x710, []byte{0x22, 0x0B, 0x0C}, 0)
	s.OnInboundFrame(cf2)

	res := waitResult(t, results)
	if res.Kind != outcome.Ok {
		t.Fatalf("result = %+v, want Ok", res)
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	if !bytes.Equal(res.Value, want) {
		t.Errorf("Value = % 02X, want % 02X", res.Value, want)
	}
}

func TestWriteByDidSingleFrame(t *testing.T) {
	s, mock := newTestSession(t)
	results := make(chan outcome.Result, 1)
	s.SetCallback(func(r outcome.Result) { results <- r })

	s.WriteByDid(0x0100, []byte{0x01, 0x90})
	s.mu.Lock()
	s.tryDrainLocked()
	s.mu.Unlock()

	last, _ := mock.LastSent()
	want := [8]byte{0x05, sidWriteByDid, 0x01, 0x00, 0x01, 0x90, 0, 0}
	if last.Data != want {
		t.Fatalf("request frame = % 02X, want % 02X", last.Data, want)
	}

	ack := canbus.NewFrame(0x710, []byte{0x03, sidWriteByDidReply, 0x01, 0x00}, 0)
	s.OnInboundFrame(ack)

	res := waitResult(t, results)
	if res.Kind != outcome.Ok {
		t.Fatalf("result = %+v, want Ok", res)
	}
}

func TestWriteByDidMultiFrame(t *testing.T) {
	s, mock := newTestSession(t)
	results := make(chan outcome.Result, 1)
	s.SetCallback(func(r outcome.Result) { results <- r })

	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05} // n=5 > 4 => FF+CF
	s.WriteByDid(0x0100, payload)
	s.mu.Lock()
	s.tryDrainLocked()
	s.mu.Unlock()

	ff, _ := mock.LastSent()
	wantFF := [8]byte{pciFF, 0x08, sidWriteByDid, 0x01, 0x00, 0x01, 0x02, 0x03}
	if ff.Data != wantFF {
		t.Fatalf("FF frame = % 02X, want % 02X", ff.Data, wantFF)
	}

	fc := canbus.NewFrame(0x710, []byte{pciFC, 0x00, 0x00}, 0)
	s.OnInboundFrame(fc)

	cf, _ := mock.LastSent()
	wantCF := [8]byte{0x21, 0x04, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00}
	if cf.Data != wantCF {
		t.Fatalf("CF frame = % 02X, want % 02X", cf.Data, wantCF)
	}

	s.mu.Lock()
	if s.state != AwaitWriteAck {
		t.Fatalf("state = %s, want AwaitWriteAck", s.state)
	}
	s.mu.Unlock()

	ack := canbus.NewFrame(0x710, []byte{0x03, sidWriteByDidReply, 0x01, 0x00}, 0)
	s.OnInboundFrame(ack)

	res := waitResult(t, results)
	if res.Kind != outcome.Ok {
		t.Fatalf("result = %+v, want Ok", res)
	}
}

func TestNegativeResponseRetriesViaWrite77(t *testing.T) {
	s, _ := newTestSession(t)
	results := make(chan outcome.Result, 1)
	s.SetCallback(func(r outcome.Result) { results <- r })

	s.WriteByDid(0x0100, []byte{0x01, 0x90})
	s.mu.Lock()
	s.tryDrainLocked()
	s.mu.Unlock()

	neg := canbus.NewFrame(0x710, []byte{0x03, sidNegativeResp, sidWriteByDid, 0x31}, 0)
	s.OnInboundFrame(neg)

	res := waitResult(t, results)
	if res.Kind != outcome.NegativeResponse || res.NRC != 0x31 {
		t.Fatalf("result = %+v, want NegativeResponse/NRC 0x31", res)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) != 1 || s.queue[0].Mode != Write77 || s.queue[0].Did != 0x0100 {
		t.Fatalf("queue = %+v, want one queued Write77 retry for 0x0100", s.queue)
	}
	if s.coolDownUntil.IsZero() {
		t.Error("coolDownUntil not set after negative response")
	}
}

func TestExchangeTimeoutFires(t *testing.T) {
	mock := canbus.NewMockDriver()
	s := New(Config{TxID: 0x700, Driver: mock, TimeoutMs: 5}, nil)
	s.SetOpMode(Normal)
	results := make(chan outcome.Result, 1)
	s.SetCallback(func(r outcome.Result) { results <- r })

	s.ReadByDid(0x0100)
	s.mu.Lock()
	s.tryDrainLocked()
	s.mu.Unlock()

	res := waitResult(t, results)
	if res.Kind != outcome.Timeout {
		t.Fatalf("result = %+v, want Timeout", res)
	}
}

func TestOverlapProtectionDropsReentrantFrame(t *testing.T) {
	s, _ := newTestSession(t)

	s.mu.Lock()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.OnInboundFrame(canbus.NewFrame(0x710, []byte{0x03, 0x22, 0, 0}, 0))
	}()
	time.Sleep(20 * time.Millisecond) // give the goroutine a chance to hit TryLock
	s.mu.Unlock()
	wg.Wait()

	s.overlapMu.Lock()
	n := s.overlapCount
	s.overlapMu.Unlock()
	if n != 1 {
		t.Errorf("overlapCount = %d, want 1", n)
	}
}

// tryDrainLocked lets tests dispatch a queued command synchronously
// without running the real 40ms drain ticker. Must be called with mu held.
func (s *Session) tryDrainLocked() {
	if s.opMode == Standby || s.state != Idle || len(s.queue) == 0 {
		return
	}
	if now().Before(s.coolDownUntil) {
		return
	}
	cmd := s.queue[0]
	s.queue = s.queue[1:]
	s.dispatch(cmd)
}
