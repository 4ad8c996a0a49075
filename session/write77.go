package session

import (
	"github.com/viess-e3/udsgw/canbus"
	"github.com/viess-e3/udsgw/outcome"
)

// vendorWritePad is the fill byte used after a vendor SID-0x77 write
// payload (spec.md §4.1 "SID-0x77 variant").
const vendorWritePad = 0x55

// startWrite77 sends a vendor-encapsulated write using SID 0x77's
// proprietary single-frame layout: [0x43,0x01,0x82,did_lo,did_hi,0xB0+n]
// followed by the value bytes and 0x55 padding (spec.md §4.1). data[0] is
// the fixed prefix byte 0x43, not an ISO-TP PCI/length nibble: the whole
// encapsulated block is carried raw in one 8-byte frame, so this exchange
// never goes through the SF/FF/CF machinery the other two services use.
func (s *Session) startWrite77(cmd Command) {
	did := cmd.Did
	n := len(cmd.Payload)
	s.tbuf.valueToWrite = cmd.Payload

	data := make([]byte, 8)
	data[0] = 0x43
	data[1] = 0x01
	data[2] = 0x82
	data[3] = byte(did)
	data[4] = byte(did >> 8)
	data[5] = 0xB0 + byte(n)
	copy(data[6:], cmd.Payload)
	for i := 6 + n; i < 8; i++ {
		data[i] = vendorWritePad
	}
	s.send(data, vendorWritePad)
	s.state = AwaitWriteAck
	s.armTimeout()
}

// onVendorWriteAck completes a SID-0x77 write once the device echoes the
// completion marker in data[4] (spec.md §4.1). Frames belonging to
// unrelated SID-0x77 traffic on this rxId (e.g. device-originated scans)
// are ignored rather than treated as protocol errors.
func (s *Session) onVendorWriteAck(f canbus.Frame) {
	if f.Data[4] != 0x44 {
		return
	}
	s.complete(outcome.Result{Kind: outcome.Ok, Did: s.tbuf.did})
}
