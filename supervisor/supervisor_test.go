package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/viess-e3/udsgw/canbus"
	"github.com/viess-e3/udsgw/catalog"
	"github.com/viess-e3/udsgw/codec"
	"github.com/viess-e3/udsgw/outcome"
	"github.com/viess-e3/udsgw/session"
	"github.com/viess-e3/udsgw/sink"
)

type nopPublisher struct{}

func (nopPublisher) PublishRaw(uint16, string, string)  {}
func (nopPublisher) PublishJSON(uint16, string, string) {}
func (nopPublisher) PublishTree(uint16, string, any)    {}
func (nopPublisher) DeleteTree(uint16)                  {}
func (nopPublisher) PublishStats(sink.Snapshot)         {}

func testSink() *sink.Sink {
	cat := &catalog.Catalog{Dids: map[uint16]catalog.DidDescriptor{}, Writable: map[uint16]bool{0x0100: true}}
	return sink.New(cat, codec.NewRegistry(), nopPublisher{})
}

func TestRouteDeliversFrameToMatchingSession(t *testing.T) {
	mock := canbus.NewMockDriver()
	sv := New(mock)
	s := sv.AddDevice(DeviceConfig{Name: "boiler", TxID: 0x700, Dids: []ScheduledDid{{Did: 0x0100, PeriodSec: 0}}}, testSink())
	s.SetOpMode(session.Normal)
	results := make(chan outcome.Result, 1)
	s.SetCallback(func(r outcome.Result) { results <- r })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sv.Start(ctx)
	defer sv.Stop()

	time.Sleep(60 * time.Millisecond) // let the drain loop send the scheduled read

	last, ok := mock.LastSent()
	if !ok {
		t.Fatal("no request sent for scheduled read")
	}

	reply := canbus.NewFrame(last.ID+0x10, []byte{0x05, 0x62, 0x01, 0x00, 0x01, 0x90}, 0)
	mock.Inject(reply)

	// The session's own tests cover exchange correctness; this test covers
	// routing by rxId: the reply must reach the device's session.
	select {
	case res := <-results:
		if res.Kind != outcome.Ok || res.Did != 0x0100 {
			t.Errorf("result = %+v, want Ok/0x0100", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reply on the device's rxId never reached its session")
	}
}

func TestRouteIgnoresUnknownRxID(t *testing.T) {
	mock := canbus.NewMockDriver()
	sv := New(mock)
	sv.AddDevice(DeviceConfig{Name: "boiler", TxID: 0x700}, testSink())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sv.Start(ctx)
	defer sv.Stop()

	// Should not panic even though no session is registered for this id.
	mock.Inject(canbus.NewFrame(0xABC, []byte{0x01}, 0))
}
