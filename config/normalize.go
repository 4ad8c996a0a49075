package config

// defaultLogDir is used when the config omits log_dir.
const defaultLogDir = "./logs"

// Normalize applies post-validation defaulting. It MUST be called only
// after Validate (grounded on the modbus-replicator example's
// Load/Validate/Normalize split).
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Gateway.LogDir == "" {
		cfg.Gateway.LogDir = defaultLogDir
	}
}
