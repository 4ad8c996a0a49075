// Package session implements the ISO-TP/UDS session engine: the per-device
// state machine driving ReadByDid/WriteByDid/WriteByDid77 exchanges over
// single- and multi-frame ISO-TP framing (spec.md §4.1). It is grounded on
// the teacher's tp_layer.Transport channel-driven state machine and
// udsclient.UDSClient's glue, generalized to this spec's exact SID/PCI byte
// layouts.
package session

import (
	"log"
	"time"

	"github.com/viess-e3/udsgw/canbus"
)

// Mode is the session's opMode (spec.md §6).
type Mode int

const (
	Standby Mode = iota
	Normal
	UdsDevScan
	UdsDidScan
	Service77
	Test
)

func (m Mode) String() string {
	switch m {
	case Standby:
		return "Standby"
	case Normal:
		return "Normal"
	case UdsDevScan:
		return "UdsDevScan"
	case UdsDidScan:
		return "UdsDidScan"
	case Service77:
		return "Service77"
	case Test:
		return "Test"
	default:
		return "Unknown"
	}
}

// CommandMode selects which exchange a queued Command performs.
type CommandMode int

const (
	Read CommandMode = iota
	Write
	Write77
)

// Command is a queued unit of work (spec.md §3).
type Command struct {
	Mode        CommandMode
	Did         uint16
	Payload     []byte
	RequestedAt time.Time
}

// State is the engine's protocol state (spec.md §3).
type State int

const (
	Idle State = iota
	AwaitReadHead
	AwaitReadCF
	AwaitWriteAck
	AwaitWriteFC
)

func (st State) String() string {
	switch st {
	case Idle:
		return "Idle"
	case AwaitReadHead:
		return "AwaitReadHead"
	case AwaitReadCF:
		return "AwaitReadCF"
	case AwaitWriteAck:
		return "AwaitWriteAck"
	case AwaitWriteFC:
		return "AwaitWriteFC"
	default:
		return "Unknown"
	}
}

// Config configures one Session (spec.md §3 SessionConfig, plus the
// ambient logging fields from SPEC_FULL.md §4).
type Config struct {
	TxID        uint16
	RxID        uint16 // txId + 0x10, computed by New if left zero
	TimeoutMs   int64  // default 7500 (spec.md §4.1)
	StatePrefix string
	Name        string
	Logger      *log.Logger
	Driver      canbus.Driver

	// Write77Via, when set, redirects automatic negative-response retries
	// (spec.md §4.1) to a companion SID-0x77 session instead of queuing the
	// retry on this session itself (spec.md §4.5: the Supervisor spawns a
	// dedicated session for vendor-variant traffic).
	Write77Via func(did uint16, payload []byte)
}

const defaultTimeoutMs = 7500

func (c Config) withDefaults() Config {
	if c.RxID == 0 {
		c.RxID = c.TxID + 0x10
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = defaultTimeoutMs
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.Name == "" {
		c.Name = c.StatePrefix
	}
	return c
}
