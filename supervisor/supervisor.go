// Package supervisor owns the set of active sessions, routes inbound CAN
// frames to the right one by rxId, and lazily spawns SID-0x77 companion
// sessions the first time a device write needs the vendor variant (spec.md
// §4.5). Grounded on the teacher's main.go/cmd/main.go wiring of one
// tp_layer.Transport per device plus driver.CANDriver's single shared
// receive callback fan-out.
package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/viess-e3/udsgw/canbus"
	"github.com/viess-e3/udsgw/session"
	"github.com/viess-e3/udsgw/sink"
)

// vendorSessionTxOffset is added to a device's base txId to derive its
// SID-0x77 companion session's txId (spec.md §4.5).
const vendorSessionTxOffset = 0x02

// DeviceConfig names one device's base arbitration id and schedule.
type DeviceConfig struct {
	Name  string
	TxID  uint16
	Dids  []ScheduledDid
}

// ScheduledDid is one periodic (or one-shot, PeriodSec == 0) read.
type ScheduledDid struct {
	Did       uint16
	PeriodSec int
}

// Supervisor wires one Driver to many per-device Sessions. Each device
// carries its own Sink (built from its own merged catalog), since two
// devices' DIDs are not guaranteed to share a symbolic-ID namespace.
type Supervisor struct {
	driver canbus.Driver

	mu             sync.Mutex
	sessionsByRxID map[uint16]*session.Session
	vendorByTxID   map[uint16]*session.Session
	unsubscribe    func()
	started        bool
}

func New(driver canbus.Driver) *Supervisor {
	return &Supervisor{
		driver:         driver,
		sessionsByRxID: make(map[uint16]*session.Session),
		vendorByTxID:   make(map[uint16]*session.Session),
	}
}

// AddDevice registers a device's primary session, bound to sk, and its
// schedule. Must be called before Start.
func (sv *Supervisor) AddDevice(dc DeviceConfig, sk *sink.Sink) *session.Session {
	var primary *session.Session
	cfg := session.Config{
		TxID:        dc.TxID,
		Name:        dc.Name,
		Driver:      sv.driver,
		StatePrefix: dc.Name,
		Write77Via: func(did uint16, payload []byte) {
			sv.vendorSession(primary).WriteByDid77(did, payload)
		},
	}
	primary = session.New(cfg, sk)
	for _, d := range dc.Dids {
		primary.AddSchedule(d.Did, d.PeriodSec)
	}

	sv.mu.Lock()
	sv.sessionsByRxID[primary.RxID()] = primary
	sv.mu.Unlock()
	return primary
}

// vendorSession lazily creates the SID-0x77 companion session for a
// primary session's txId, the first time it is needed (spec.md §4.5).
// The companion session never touches the decode sink directly: its
// traffic only ever completes a write the primary session's retry queued.
func (sv *Supervisor) vendorSession(primary *session.Session) *session.Session {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	if v, ok := sv.vendorByTxID[primary.TxID()]; ok {
		return v
	}
	vendorTx := primary.TxID() + vendorSessionTxOffset
	cfg := session.Config{TxID: vendorTx, Name: fmt.Sprintf("%s-svc77", primary.Name()), Driver: sv.driver}
	v := session.New(cfg, nil)
	v.SetOpMode(session.Service77)
	sv.vendorByTxID[primary.TxID()] = v
	sv.sessionsByRxID[v.RxID()] = v
	if sv.started {
		v.Start(context.Background())
	}
	return v
}

// Start subscribes to the driver and starts every registered session.
func (sv *Supervisor) Start(ctx context.Context) {
	sv.mu.Lock()
	if sv.started {
		sv.mu.Unlock()
		return
	}
	sv.started = true
	sessions := make([]*session.Session, 0, len(sv.sessionsByRxID))
	for _, s := range sv.sessionsByRxID {
		sessions = append(sessions, s)
	}
	sv.mu.Unlock()

	sv.unsubscribe = sv.driver.Subscribe(func(f canbus.Frame) {
		sv.route(f)
	})
	for _, s := range sessions {
		s.Start(ctx)
	}
}

// Stop stops every session and unsubscribes from the driver. It does not
// close the driver itself; the caller owns that lifecycle.
func (sv *Supervisor) Stop() {
	sv.mu.Lock()
	if !sv.started {
		sv.mu.Unlock()
		return
	}
	sv.started = false
	sessions := make([]*session.Session, 0, len(sv.sessionsByRxID))
	for _, s := range sv.sessionsByRxID {
		sessions = append(sessions, s)
	}
	unsub := sv.unsubscribe
	sv.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	for _, s := range sessions {
		s.Stop()
	}
}

func (sv *Supervisor) route(f canbus.Frame) {
	sv.mu.Lock()
	s, ok := sv.sessionsByRxID[f.ID]
	sv.mu.Unlock()
	if !ok {
		return
	}
	s.OnInboundFrame(f)
}
