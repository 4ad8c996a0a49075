// Command udsgw is the UDS-over-CAN gateway daemon: it loads the DID
// catalog and device list from YAML, opens the CAN interface, and runs the
// Supervisor until interrupted. Grounded on the teacher's main.go/cmd/main.go
// wiring and the modbus-replicator example's cmd/replicator/main.go
// flag-driven config path.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/viess-e3/udsgw/canbus"
	"github.com/viess-e3/udsgw/catalog"
	"github.com/viess-e3/udsgw/codec"
	"github.com/viess-e3/udsgw/config"
	"github.com/viess-e3/udsgw/logging"
	"github.com/viess-e3/udsgw/session"
	"github.com/viess-e3/udsgw/sink"
	"github.com/viess-e3/udsgw/supervisor"
)

func main() {
	configPath := flag.String("config", "udsgw.yaml", "path to the gateway YAML config")
	dryRun := flag.Bool("dry-run", false, "use an in-memory CAN driver instead of opening a real interface")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("udsgw: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("udsgw: invalid config: %v", err)
	}
	config.Normalize(cfg)

	rec, err := logging.NewRecorder(cfg.Gateway.LogDir, "udsgw")
	if err != nil {
		log.Fatalf("udsgw: %v", err)
	}
	rec.Start()
	defer rec.Stop()
	logger := rec.Logger()

	var driver canbus.Driver
	if *dryRun {
		driver = canbus.NewMockDriver()
	} else {
		driver, err = canbus.NewSocketCANDriver(cfg.Gateway.CANInterface)
		if err != nil {
			log.Fatalf("udsgw: opening CAN interface: %v", err)
		}
	}
	defer driver.Close()

	publisher := &stdoutPublisher{logger: logger}
	registry := codec.NewRegistry()

	sv := supervisor.New(driver)
	for _, dc := range cfg.Gateway.Devices {
		cat, err := catalog.Load(cfg.Gateway.CommonDids, dc.DeviceDids)
		if err != nil {
			log.Fatalf("udsgw: loading catalog for %s: %v", dc.Name, err)
		}
		sk := sink.New(cat, registry, publisher)

		entries := make([]supervisor.ScheduledDid, 0, len(dc.Schedule))
		for _, e := range dc.Schedule {
			entries = append(entries, supervisor.ScheduledDid{Did: e.Did, PeriodSec: e.PeriodSec})
		}
		s := sv.AddDevice(supervisor.DeviceConfig{Name: dc.Name, TxID: dc.TxID, Dids: entries}, sk)
		s.SetOpMode(session.Normal)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sv.Start(ctx)
	logger.Printf("udsgw: gateway started on %s with %d device(s)", cfg.Gateway.CANInterface, len(cfg.Gateway.Devices))

	<-ctx.Done()
	logger.Printf("udsgw: shutting down")
	sv.Stop()
}

// stdoutPublisher is the default Publisher used when no external host
// automation framework is wired in: it logs every published view instead
// of forwarding it anywhere (spec.md §4.3 leaves the destination to the
// embedding host).
type stdoutPublisher struct {
	logger *log.Logger
}

func (p *stdoutPublisher) PublishRaw(did uint16, symbolicID string, hexValue string) {
	p.logger.Printf("raw  did=0x%04X %s=%s", did, symbolicID, hexValue)
}

func (p *stdoutPublisher) PublishJSON(did uint16, symbolicID string, jsonValue string) {
	p.logger.Printf("json did=0x%04X %s=%s", did, symbolicID, jsonValue)
}

func (p *stdoutPublisher) PublishTree(did uint16, symbolicID string, value any) {
	p.logger.Printf("tree did=0x%04X %s=%v", did, symbolicID, value)
}

func (p *stdoutPublisher) DeleteTree(did uint16) {
	p.logger.Printf("delete did=0x%04X", did)
}

func (p *stdoutPublisher) PublishStats(stats sink.Snapshot) {
	p.logger.Printf("stats total=%d ok=%d neg=%d timeout=%d badproto=%d overlap=%d",
		stats.CntTotal, stats.CntOk, stats.CntNegativeResp, stats.CntTimeout, stats.CntBadProtocol, stats.CntOverlap)
}
