package sink

import (
	"strings"
	"testing"
	"time"

	"github.com/viess-e3/udsgw/catalog"
	"github.com/viess-e3/udsgw/codec"
	"github.com/viess-e3/udsgw/outcome"
)

type recordingPublisher struct {
	raw   []string
	json  []string
	tree  []any
	stats []Snapshot
}

func (p *recordingPublisher) PublishRaw(did uint16, symbolicID string, hexValue string) {
	p.raw = append(p.raw, symbolicID+":"+hexValue)
}
func (p *recordingPublisher) PublishJSON(did uint16, symbolicID string, jsonValue string) {
	p.json = append(p.json, jsonValue)
}
func (p *recordingPublisher) PublishTree(did uint16, symbolicID string, value any) {
	p.tree = append(p.tree, value)
}
func (p *recordingPublisher) DeleteTree(did uint16) {}
func (p *recordingPublisher) PublishStats(s Snapshot) {
	p.stats = append(p.stats, s)
}

func testCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		Dids: map[uint16]catalog.DidDescriptor{
			0x0100: {DidNumber: 0x0100, SymbolicID: "Outside.Temp", DeclaredLen: 2, CodecName: "scaled16be", CodecArgs: map[string]any{"scale": 0.1, "offset": -40.0}},
		},
	}
}

func TestPublishKnownDidProducesAllThreeViews(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(testCatalog(), codec.NewRegistry(), pub)

	s.Publish(0x0100, []byte{0x01, 0x90})

	if len(pub.raw) != 1 || !strings.Contains(pub.raw[0], "Outside_Temp") {
		t.Errorf("PublishRaw not called with sanitized symbolic id: %v", pub.raw)
	}
	if len(pub.json) != 1 {
		t.Errorf("PublishJSON called %d times, want 1", len(pub.json))
	}
	if len(pub.tree) != 1 {
		t.Errorf("PublishTree called %d times, want 1", len(pub.tree))
	}
}

func TestPublishUnknownDidFallsBackToRawOnly(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(testCatalog(), codec.NewRegistry(), pub)

	s.Publish(0x9999, []byte{0xDE, 0xAD})

	if len(pub.raw) != 1 || !strings.HasPrefix(pub.raw[0], deviceSpecificSymbolicID+":") {
		t.Errorf("PublishRaw = %v, want DeviceSpecific fallback", pub.raw)
	}
	if len(pub.json) != 0 || len(pub.tree) != 0 {
		t.Errorf("expected no JSON/tree publish on fallback, got json=%d tree=%d", len(pub.json), len(pub.tree))
	}
}

func TestPublishLengthMismatchFallsBackToRawOnly(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(testCatalog(), codec.NewRegistry(), pub)

	s.Publish(0x0100, []byte{0x01}) // declared_len is 2

	if len(pub.raw) != 1 || !strings.HasPrefix(pub.raw[0], deviceSpecificSymbolicID+":") {
		t.Errorf("PublishRaw = %v, want DeviceSpecific fallback on length mismatch", pub.raw)
	}
}

func TestTruncateTreeCapsChildrenPerLevel(t *testing.T) {
	big := make(map[string]any, 150)
	for i := 0; i < 150; i++ {
		big[string(rune('a'+i%26))+string(rune(i))] = i
	}
	out := truncateTree(big, 100).(map[string]any)
	if len(out) > 100 {
		t.Errorf("truncateTree kept %d children, want <= 100", len(out))
	}
}

func TestSanitizeSymbolicID(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Outside.Temp", "Outside_Temp"},
		{"Boiler State", "Boiler_State"},
		{"Already_Valid_1", "Already_Valid_1"},
	}
	for _, tc := range tests {
		if got := sanitizeSymbolicID(tc.in); got != tc.want {
			t.Errorf("sanitizeSymbolicID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestStatisticsRecordOutcomeAndThrottledPublish(t *testing.T) {
	stats := NewStatistics()
	stats.RecordOutcome(outcome.Ok, 0x0100, 10*time.Millisecond)
	stats.RecordOutcome(outcome.NegativeResponse, 0x0100, 0)
	stats.RecordOutcome(outcome.Timeout, 0x0200, 0)

	if stats.CntTotal != 3 || stats.CntOk != 1 || stats.CntNegativeResp != 1 || stats.CntTimeout != 1 {
		t.Errorf("unexpected counters: %+v", stats)
	}
	if stats.PerDidFailures[0x0100] != 1 || stats.PerDidFailures[0x0200] != 1 {
		t.Errorf("unexpected per-did failures: %v", stats.PerDidFailures)
	}

	pub := &recordingPublisher{}
	t0 := time.Now()
	stats.PublishIfDue(pub, t0, false)
	stats.PublishIfDue(pub, t0.Add(1*time.Second), false) // too soon, throttled
	if len(pub.stats) != 1 {
		t.Errorf("PublishIfDue published %d times within throttle window, want 1", len(pub.stats))
	}
	stats.PublishIfDue(pub, t0.Add(6*time.Second), false)
	if len(pub.stats) != 2 {
		t.Errorf("PublishIfDue did not publish after throttle interval elapsed")
	}
}
