// Package canbus defines the contract between the UDS session engine and a
// physical CAN channel. The core never speaks to hardware directly; it
// depends only on the Driver interface below, the same separation the
// teacher draws between udsclient and driver.CANDriver.
package canbus

import (
	"context"
	"fmt"
)

// Frame is a single classic-CAN frame: an 11-bit identifier and up to 8
// data bytes. The session engine never sets RTR or 29-bit IDs (spec §6).
type Frame struct {
	ID   uint16
	Data [8]byte
	DLC  uint8
}

// String renders a frame the way the teacher's CanMessage.String does.
func (f Frame) String() string {
	return fmt.Sprintf("<Frame %03X [%d] % 02X>", f.ID, f.DLC, f.Data[:f.DLC])
}

// Driver abstracts a CAN channel. Send transmits one 8-byte frame.
// Subscribe registers a callback invoked for every inbound frame on the
// bus; callbacks must not block. Close releases the underlying channel.
//
// This mirrors driver.CANDriver (Init/Start/Stop/Write/RxChan/Context)
// collapsed to the callback shape spec.md §2 describes ("receive
// callbacks with {id, data[0..8]}").
type Driver interface {
	Send(ctx context.Context, f Frame) error
	Subscribe(fn func(Frame)) (unsubscribe func())
	Close() error
}

// NewFrame builds a padded 8-byte frame from a short payload, padding the
// tail with pad (0x55 for SID-0x77 writes, otherwise irrelevant per spec §6).
func NewFrame(id uint16, payload []byte, pad byte) Frame {
	var f Frame
	f.ID = id
	f.DLC = 8
	n := copy(f.Data[:], payload)
	for i := n; i < 8; i++ {
		f.Data[i] = pad
	}
	return f
}
