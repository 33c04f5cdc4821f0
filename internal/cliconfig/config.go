package cliconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config holds CLI configuration for gracehost run.
type Config struct {
	Root        string
	ConfigDir   string
	ConfigFiles []string

	// ClusterMax overrides cluster.max when non-negative.
	ClusterMax int

	// MasterModules overrides cluster.master_modules when set.
	MasterModules *bool

	// Use lists modules as name or name=path.
	Use []string

	LogLevel        string
	MetricsAddr     string
	ShutdownTimeout time.Duration
}

// Module is one --use entry.
type Module struct {
	Name string
	Path string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Root:            ".",
		ConfigDir:       "configs",
		ConfigFiles:     []string{"default.toml"},
		ClusterMax:      -1,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("root is required")
	}
	if c.ConfigDir == "" {
		return fmt.Errorf("config-dir is required")
	}
	if len(c.ConfigFiles) == 0 {
		return fmt.Errorf("at least one config file is required")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if _, err := c.Modules(); err != nil {
		return err
	}
	return nil
}

// Modules parses the --use entries.
func (c *Config) Modules() ([]Module, error) {
	out := make([]Module, 0, len(c.Use))
	for _, u := range c.Use {
		name, path, _ := strings.Cut(strings.TrimSpace(u), "=")
		if name == "" {
			return nil, fmt.Errorf("invalid module %q", u)
		}
		out = append(out, Module{Name: name, Path: path})
	}
	return out, nil
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setList splits a comma separated value into dst if not empty and flag
// not changed.
func (s *configSetter) setList(flag, value string, dst *[]string) {
	if value == "" || s.changed[flag] {
		return
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	*dst = out
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setIntFromString parses a string to int and sets the destination if valid.
// Zero is kept since it disables clustering.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i < 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst **bool) {
	if value == "" || s.changed[flag] {
		return
	}
	v := value == "true" || value == "1"
	*dst = &v
}
