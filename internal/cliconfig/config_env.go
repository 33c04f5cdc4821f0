package cliconfig

import "os"

// EnvPrefix prefixes every environment variable the CLI reads.
const EnvPrefix = "GRACEHOST_"

// ApplyEnvConfig applies configuration from environment variables (GRACEHOST_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("root", os.Getenv(EnvPrefix+"ROOT"), &cfg.Root)
	s.setString("config-dir", os.Getenv(EnvPrefix+"CONFIG_DIR"), &cfg.ConfigDir)
	s.setList("config", os.Getenv(EnvPrefix+"CONFIG"), &cfg.ConfigFiles)
	s.setList("use", os.Getenv(EnvPrefix+"USE"), &cfg.Use)
	s.setString("log-level", os.Getenv(EnvPrefix+"LOG_LEVEL"), &cfg.LogLevel)
	s.setString("metrics-addr", os.Getenv(EnvPrefix+"METRICS_ADDR"), &cfg.MetricsAddr)

	if err := s.setIntFromString("cluster-max", os.Getenv(EnvPrefix+"CLUSTER_MAX"), &cfg.ClusterMax); err != nil {
		return err
	}
	if err := s.setDuration("shutdown-timeout", os.Getenv(EnvPrefix+"SHUTDOWN_TIMEOUT"), &cfg.ShutdownTimeout); err != nil {
		return err
	}

	s.setBoolFromString("master-modules", os.Getenv(EnvPrefix+"MASTER_MODULES"), &cfg.MasterModules)

	return nil
}
