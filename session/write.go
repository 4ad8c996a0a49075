package session

import (
	"github.com/viess-e3/udsgw/canbus"
	"github.com/viess-e3/udsgw/outcome"
)

// defaultSeparationTimeMs is used whenever the device's Flow Control STmin
// byte falls outside the accepted [0x14,0x7F] (20-127ms) range (spec.md
// §4.1 "Consecutive Frame pacing").
const defaultSeparationTimeMs = 50

const (
	stMinLow  = 0x14
	stMinHigh = 0x7F
)

// startWrite sends a WriteDataByIdentifier request (SID 0x2E). Payloads of
// up to 4 bytes fit in a single frame; longer payloads require a First
// Frame followed by Consecutive Frames once the device's Flow Control
// arrives (spec.md §4.1).
func (s *Session) startWrite(cmd Command) {
	did := cmd.Did
	s.tbuf.valueToWrite = cmd.Payload
	n := len(cmd.Payload)

	if n <= 4 {
		data := make([]byte, 4+n)
		data[0] = byte(3 + n)
		data[1] = sidWriteByDid
		data[2] = byte(did >> 8)
		data[3] = byte(did)
		copy(data[4:], cmd.Payload)
		s.send(data, 0x00)
		s.state = AwaitWriteAck
		s.armTimeout()
		return
	}

	total := 3 + n
	ff := make([]byte, 8)
	ff[0] = pciFF | byte(total>>8)
	ff[1] = byte(total)
	ff[2] = sidWriteByDid
	ff[3] = byte(did >> 8)
	ff[4] = byte(did)
	copy(ff[5:8], cmd.Payload[:3])
	s.send(ff, 0x00)

	s.tbuf.bytes = append([]byte(nil), cmd.Payload[3:]...) // remaining bytes to send as CFs
	s.tbuf.seqCounter = seqStart
	s.state = AwaitWriteFC
	s.armTimeout()
}

// onWriteFC handles the device's Flow Control reply to our First Frame,
// then paces out the remaining bytes as Consecutive Frames.
func (s *Session) onWriteFC(f canbus.Frame) {
	if f.Data[0]&0xF0 != pciFC {
		s.complete(outcome.Result{Kind: outcome.BadFrame, Did: s.tbuf.did})
		return
	}
	stMin := f.Data[2]
	s.cancelTimeout()
	s.sendNextCF(stMin)
}

// sendNextCF sends one Consecutive Frame and, if more remain, schedules the
// next one after the negotiated separation time; otherwise transitions to
// AwaitWriteAck to wait for the final positive/negative response.
func (s *Session) sendNextCF(stMin byte) {
	remaining := s.tbuf.bytes
	take := 7
	if len(remaining) < take {
		take = len(remaining)
	}
	chunk := remaining[:take]
	s.tbuf.bytes = remaining[take:]

	data := make([]byte, 1+len(chunk))
	data[0] = pciCF | s.tbuf.seqCounter&0x0F
	copy(data[1:], chunk)
	s.send(data, 0x00)

	if s.tbuf.seqCounter == seqWrap {
		s.tbuf.seqCounter = seqWrapTo
	} else {
		s.tbuf.seqCounter++
	}

	if len(s.tbuf.bytes) == 0 {
		s.state = AwaitWriteAck
		s.armTimeout()
		return
	}

	afterFunc(durationMs(separationTimeMs(stMin)), func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state != AwaitWriteFC {
			return
		}
		s.sendNextCF(stMin)
	})
}

func separationTimeMs(stMin byte) int64 {
	if stMin < stMinLow || stMin > stMinHigh {
		return defaultSeparationTimeMs
	}
	return int64(stMin)
}

// onWriteAck handles the device's final response to a write (spec.md
// §4.1): a positive reply (SID 0x6E) completes Ok; anything else is a
// protocol violation since negative responses are intercepted earlier in
// handleFrameLocked.
func (s *Session) onWriteAck(f canbus.Frame) {
	sid := f.Data[1]
	if sid != sidWriteByDidReply {
		s.complete(outcome.Result{Kind: outcome.BadFrame, Did: s.tbuf.did})
		return
	}
	did := uint16(f.Data[2])<<8 | uint16(f.Data[3])
	if did != s.tbuf.did {
		s.complete(outcome.Result{Kind: outcome.DidMismatch, Did: s.tbuf.did})
		return
	}
	s.complete(outcome.Result{Kind: outcome.Ok, Did: did})
}
