package cliconfig

import (
	"reflect"
	"testing"
	"time"
)

func TestApplyEnvConfig(t *testing.T) {
	yes := true

	tests := []struct {
		name     string
		envVars  map[string]string
		changed  map[string]bool
		initial  Config
		expected Config
		wantErr  bool
	}{
		{
			name: "applies all valid env vars",
			envVars: map[string]string{
				"GRACEHOST_ROOT":             "/srv/app",
				"GRACEHOST_CONFIG_DIR":       "etc",
				"GRACEHOST_CONFIG":           "default.toml, prod.yaml",
				"GRACEHOST_USE":              "status,heartbeat",
				"GRACEHOST_CLUSTER_MAX":      "4",
				"GRACEHOST_MASTER_MODULES":   "true",
				"GRACEHOST_LOG_LEVEL":        "debug",
				"GRACEHOST_METRICS_ADDR":     ":9100",
				"GRACEHOST_SHUTDOWN_TIMEOUT": "30s",
			},
			changed: map[string]bool{},
			initial: Config{ClusterMax: -1},
			expected: Config{
				Root:            "/srv/app",
				ConfigDir:       "etc",
				ConfigFiles:     []string{"default.toml", "prod.yaml"},
				Use:             []string{"status", "heartbeat"},
				ClusterMax:      4,
				MasterModules:   &yes,
				LogLevel:        "debug",
				MetricsAddr:     ":9100",
				ShutdownTimeout: 30 * time.Second,
			},
		},
		{
			name: "zero cluster max disables clustering",
			envVars: map[string]string{
				"GRACEHOST_CLUSTER_MAX": "0",
			},
			changed:  map[string]bool{},
			initial:  Config{ClusterMax: -1},
			expected: Config{ClusterMax: 0},
		},
		{
			name: "respects changed flags",
			envVars: map[string]string{
				"GRACEHOST_ROOT":        "/env/root",
				"GRACEHOST_CLUSTER_MAX": "8",
			},
			changed:  map[string]bool{"root": true, "cluster-max": true},
			initial:  Config{Root: "/cli/root", ClusterMax: 2},
			expected: Config{Root: "/cli/root", ClusterMax: 2},
		},
		{
			name: "returns error for invalid duration",
			envVars: map[string]string{
				"GRACEHOST_SHUTDOWN_TIMEOUT": "soon",
			},
			changed: map[string]bool{},
			wantErr: true,
		},
		{
			name: "returns error for invalid int",
			envVars: map[string]string{
				"GRACEHOST_CLUSTER_MAX": "many",
			},
			changed: map[string]bool{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := tt.initial
			err := ApplyEnvConfig(&cfg, tt.changed)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ApplyEnvConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !reflect.DeepEqual(cfg, tt.expected) {
				t.Errorf("config = %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}
