package config

import "fmt"

// Validate checks configuration correctness declaratively. It MUST NOT
// mutate cfg (grounded on the modbus-replicator example's Validate/
// Normalize split).
func Validate(cfg *Config) error {
	if cfg.Gateway.CANInterface == "" {
		return fmt.Errorf("gateway: can_interface is required")
	}
	if cfg.Gateway.CommonDids == "" {
		return fmt.Errorf("gateway: common_dids is required")
	}
	if len(cfg.Gateway.Devices) == 0 {
		return fmt.Errorf("gateway: at least one device is required")
	}

	seenTxID := make(map[uint16]string)
	seenName := make(map[string]bool)
	for _, d := range cfg.Gateway.Devices {
		if d.Name == "" {
			return fmt.Errorf("gateway: device with tx_id 0x%03X has no name", d.TxID)
		}
		if seenName[d.Name] {
			return fmt.Errorf("gateway: duplicate device name %q", d.Name)
		}
		seenName[d.Name] = true

		if prev, ok := seenTxID[d.TxID]; ok {
			return fmt.Errorf("gateway: tx_id 0x%03X used by both %q and %q", d.TxID, prev, d.Name)
		}
		seenTxID[d.TxID] = d.Name

		if d.DeviceDids == "" {
			return fmt.Errorf("gateway: device %q has no device_dids catalog", d.Name)
		}
		for _, sch := range d.Schedule {
			if sch.PeriodSec < 0 {
				return fmt.Errorf("gateway: device %q did 0x%04X has negative period_sec", d.Name, sch.Did)
			}
		}
	}
	return nil
}
