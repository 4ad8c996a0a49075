package session

import (
	"github.com/viess-e3/udsgw/canbus"
	"github.com/viess-e3/udsgw/outcome"
)

// startRead sends a ReadDataByIdentifier request (SID 0x22) as a single
// frame and arms the AwaitReadHead state (spec.md §4.1).
func (s *Session) startRead(cmd Command) {
	did := cmd.Did
	s.send([]byte{0x03, sidReadByDid, byte(did >> 8), byte(did)}, 0x00)
	s.state = AwaitReadHead
	s.armTimeout()
}

// onReadHead handles the first reply frame to a read request: either a
// complete single-frame reply, or the leading frame of a multi-frame reply
// which must be acknowledged with a Flow Control before continuation
// frames arrive (spec.md §4.1).
func (s *Session) onReadHead(f canbus.Frame) {
	pci := f.Data[0] & 0xF0

	switch pci {
	case pciSF:
		sid := f.Data[1]
		did := uint16(f.Data[2])<<8 | uint16(f.Data[3])
		if sid != sidReadByDidReply {
			s.complete(outcome.Result{Kind: outcome.BadFrame, Did: s.tbuf.did})
			return
		}
		if did != s.tbuf.did {
			s.complete(outcome.Result{Kind: outcome.DidMismatch, Did: s.tbuf.did})
			return
		}
		length := int(f.Data[0]) - 3
		if length < 0 || 4+length > len(f.Data) {
			s.complete(outcome.Result{Kind: outcome.BadFrame, Did: s.tbuf.did})
			return
		}
		value := append([]byte(nil), f.Data[4:4+length]...)
		s.complete(outcome.Result{Kind: outcome.Ok, Did: did, Length: uint16(length), Value: value})

	case pciFF:
		totalLen := int(f.Data[0]&0x0F)<<8 | int(f.Data[1])
		sid := f.Data[2]
		did := uint16(f.Data[3])<<8 | uint16(f.Data[4])
		if sid != sidReadByDidReply {
			s.complete(outcome.Result{Kind: outcome.BadFrame, Did: s.tbuf.did})
			return
		}
		if did != s.tbuf.did {
			s.complete(outcome.Result{Kind: outcome.DidMismatch, Did: s.tbuf.did})
			return
		}
		payloadLen := totalLen - 3
		if payloadLen < 0 {
			s.complete(outcome.Result{Kind: outcome.BadFrame, Did: s.tbuf.did})
			return
		}
		s.tbuf.expectedLen = uint16(payloadLen)
		s.tbuf.bytes = append([]byte(nil), f.Data[5:8]...)
		s.tbuf.seqCounter = seqStart

		s.send([]byte{pciFC, 0x00, 0x00}, 0x00)
		s.state = AwaitReadCF
		s.armTimeout()

	default:
		s.complete(outcome.Result{Kind: outcome.BadFrame, Did: s.tbuf.did})
	}
}

// onReadCF accumulates consecutive frames until expectedLen bytes are
// collected, then completes the exchange (spec.md §4.1).
func (s *Session) onReadCF(f canbus.Frame) {
	pci := f.Data[0] & 0xF0
	if pci != pciCF {
		s.complete(outcome.Result{Kind: outcome.BadFrame, Did: s.tbuf.did})
		return
	}
	seq := f.Data[0] & 0x0F
	if seq != s.tbuf.seqCounter&0x0F {
		s.complete(outcome.Result{Kind: outcome.BadFrame, Did: s.tbuf.did})
		return
	}

	remaining := int(s.tbuf.expectedLen) - len(s.tbuf.bytes)
	take := 7
	if remaining < take {
		take = remaining
	}
	if take > 0 {
		s.tbuf.bytes = append(s.tbuf.bytes, f.Data[1:1+take]...)
	}

	if s.tbuf.seqCounter == seqWrap {
		s.tbuf.seqCounter = seqWrapTo
	} else {
		s.tbuf.seqCounter++
	}

	if len(s.tbuf.bytes) >= int(s.tbuf.expectedLen) {
		value := s.tbuf.bytes[:s.tbuf.expectedLen]
		s.complete(outcome.Result{Kind: outcome.Ok, Did: s.tbuf.did, Length: s.tbuf.expectedLen, Value: value})
		return
	}
	s.armTimeout()
}
