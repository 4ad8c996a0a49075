package canbus

import (
	"context"
	"fmt"

	"github.com/brutella/can"
)

// SocketCANDriver adapts a Linux SocketCAN interface to Driver via
// github.com/brutella/can, the same library boatkit-io/n2k uses for its
// NMEA2000-over-CAN transport. This is the gateway's production driver;
// MockDriver remains for tests and dry-run mode.
type SocketCANDriver struct {
	bus *can.Bus
}

// NewSocketCANDriver opens ifName (e.g. "can0") as a SocketCAN bus.
func NewSocketCANDriver(ifName string) (*SocketCANDriver, error) {
	bus, err := can.NewBusForInterfaceWithName(ifName)
	if err != nil {
		return nil, fmt.Errorf("canbus: opening %s: %w", ifName, err)
	}
	d := &SocketCANDriver{bus: bus}
	go func() {
		if err := bus.ConnectAndPublish(); err != nil {
			// ConnectAndPublish blocks until Disconnect; a returned error here
			// means the interface dropped out from under us.
		}
	}()
	return d, nil
}

func (d *SocketCANDriver) Send(_ context.Context, f Frame) error {
	return d.bus.Publish(can.Frame{
		ID:     uint32(f.ID),
		Length: f.DLC,
		Data:   f.Data,
	})
}

func (d *SocketCANDriver) Subscribe(fn func(Frame)) func() {
	handler := can.NewHandler(func(cf can.Frame) {
		fn(Frame{ID: uint16(cf.ID), Data: cf.Data, DLC: cf.Length})
	})
	d.bus.Subscribe(handler)
	return func() { d.bus.Unsubscribe(handler) }
}

func (d *SocketCANDriver) Close() error {
	return d.bus.Disconnect()
}
