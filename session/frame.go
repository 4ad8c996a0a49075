package session

import (
	"context"

	"github.com/viess-e3/udsgw/canbus"
	"github.com/viess-e3/udsgw/outcome"
)

// UDS/ISO-TP constants (spec.md §4.1). PCI nibbles follow ISO 15765-2;
// SIDs follow ISO 14229 plus the vendor SID-0x77 write variant.
const (
	sidReadByDid       = 0x22
	sidReadByDidReply  = 0x62
	sidWriteByDid      = 0x2E
	sidWriteByDidReply = 0x6E
	sidVendorWrite     = 0x77
	sidNegativeResp    = 0x7F

	pciSF = 0x00
	pciFF = 0x10
	pciCF = 0x20
	pciFC = 0x30

	seqStart  = 0x21
	seqWrap   = 0x2F
	seqWrapTo = 0x20
)

// dispatch starts one exchange for cmd. Called with mu held.
func (s *Session) dispatch(cmd Command) {
	s.tbuf.reset()
	s.tbuf.mode = cmd.Mode
	s.tbuf.did = cmd.Did
	s.tbuf.requestStarted = now()

	if cmd.Mode != Read && s.sink != nil && !s.sink.Catalog.IsWritable(cmd.Did) {
		s.tbuf.reset()
		s.complete(outcome.Result{Kind: outcome.BadState, Did: cmd.Did})
		return
	}

	switch cmd.Mode {
	case Read:
		s.startRead(cmd)
	case Write:
		s.startWrite(cmd)
	case Write77:
		s.startWrite77(cmd)
	}
}

// send transmits a frame on this session's txId. Errors are logged but do
// not themselves complete the exchange; the timeout timer covers a CAN
// stack that silently drops a frame.
func (s *Session) send(payload []byte, pad byte) {
	f := canbus.NewFrame(s.cfg.TxID, payload, pad)
	if s.cfg.Driver == nil {
		return
	}
	if err := s.cfg.Driver.Send(context.Background(), f); err != nil {
		s.cfg.Logger.Printf("[%s] send failed: %v", s.cfg.Name, err)
	}
}

// armTimeout (re)starts the exchange timeout (spec.md §4.1, default
// 7500ms). Called with mu held.
func (s *Session) armTimeout() {
	if s.timeoutTimer != nil {
		s.timeoutTimer.Stop()
	}
	s.timeoutTimer = afterFunc(timeoutDuration(s.cfg.TimeoutMs), func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.onTimeout()
	})
}

func (s *Session) cancelTimeout() {
	if s.timeoutTimer != nil {
		s.timeoutTimer.Stop()
		s.timeoutTimer = nil
	}
}

func (s *Session) onTimeout() {
	if s.state == Idle {
		return // already completed between fire and lock acquisition
	}
	s.complete(outcome.Result{Kind: outcome.Timeout, Did: s.tbuf.did})
}

// complete ends the current exchange: cancels the timeout, applies the
// outcome's cool-down, resets to Idle, records statistics, and invokes the
// callback. Called with mu held.
func (s *Session) complete(res outcome.Result) {
	s.cancelTimeout()
	cool := res.Kind.CoolDownMs()
	if cool > 0 {
		s.coolDownUntil = now().Add(durationMs(cool))
	}
	latency := now().Sub(s.tbuf.requestStarted)
	s.state = Idle
	s.tbuf.reset()

	if s.sink != nil {
		s.sink.Stats.RecordOutcome(res.Kind, res.Did, latency)
	}
	if s.sink != nil && res.Kind == outcome.Ok && res.Value != nil {
		s.sink.Publish(res.Did, res.Value)
	}
	if s.callback != nil {
		cb := s.callback
		go cb(res)
	}
}

// handleFrameLocked dispatches one inbound frame according to the current
// protocol state. Called with mu held (by OnInboundFrame's TryLock guard).
func (s *Session) handleFrameLocked(f canbus.Frame) {
	if isNegativeResponse(f) {
		s.handleNegativeResponse(f)
		return
	}

	switch s.state {
	case Idle:
		// Unsolicited frame on this rxId; nothing in flight to match it to.
		return
	case AwaitReadHead:
		s.onReadHead(f)
	case AwaitReadCF:
		s.onReadCF(f)
	case AwaitWriteFC:
		s.onWriteFC(f)
	case AwaitWriteAck:
		if s.tbuf.mode == Write77 {
			s.onVendorWriteAck(f)
		} else {
			s.onWriteAck(f)
		}
	}
}

func isNegativeResponse(f canbus.Frame) bool {
	pci := f.Data[0] & 0xF0
	return pci == pciSF && int(f.Data[0]&0x0F) >= 1 && f.Data[1] == sidNegativeResp
}

// handleNegativeResponse applies the fixed 100ms cool-down and, in Normal
// opMode, schedules one automatic retry via the SID-0x77 write variant
// (spec.md §4.1 "Negative response handling").
func (s *Session) handleNegativeResponse(f canbus.Frame) {
	if s.state == Idle {
		return
	}
	nrc := f.Data[3]
	did := s.tbuf.did
	retryPayload := s.tbuf.valueToWrite
	wasWrite := s.state == AwaitWriteFC || s.state == AwaitWriteAck
	wasRetry := s.tbuf.mode == Write77
	s.complete(outcome.Result{Kind: outcome.NegativeResponse, Did: did, NRC: nrc})

	if !wasWrite || wasRetry || s.opMode != Normal || retryPayload == nil {
		return
	}
	if s.cfg.Write77Via != nil {
		s.cfg.Write77Via(did, retryPayload)
		return
	}
	s.queue = append([]Command{{Mode: Write77, Did: did, Payload: retryPayload, RequestedAt: now()}}, s.queue...)
}
