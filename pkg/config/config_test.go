package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bft-labs/gracehost/internal/domain"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func noEnv() []string { return nil }

func TestStore_LoadMergesFormats(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.toml", `
[cluster]
max = 4
master_modules = false

[log]
level = "info"
console = true
`)
	writeFile(t, dir, "override.yaml", `
cluster:
  max: 2
modules:
  status:
    dir: /tmp/status
`)
	writeFile(t, dir, "extra.json", `{"log": {"level": "debug"}, "metrics": {"addr": ":9100"}}`)

	s := NewStore(dir, []string{"base.toml", "override.yaml", "extra.json"}, WithEnviron(noEnv))
	if err := s.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		key  string
		want interface{}
		got  func(string) interface{}
	}{
		{"cluster.max", 2, func(k string) interface{} { return s.Int(k) }},
		{"cluster.master_modules", false, func(k string) interface{} { return s.Bool(k) }},
		{"log.level", "debug", func(k string) interface{} { return s.String(k) }},
		{"log.console", true, func(k string) interface{} { return s.Bool(k) }},
		{"modules.status.dir", "/tmp/status", func(k string) interface{} { return s.String(k) }},
		{"metrics.addr", ":9100", func(k string) interface{} { return s.String(k) }},
	}
	for _, tt := range tests {
		if got := tt.got(tt.key); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.key, got, tt.want)
		}
	}

	if s.Has("missing.key") {
		t.Error("Has(missing.key) = true")
	}
}

func TestStore_LoadErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.toml", `this is = = not toml`)
	writeFile(t, dir, "conf.ini", `x=1`)

	tests := []struct {
		name  string
		store *Store
	}{
		{"missing dir", NewStore(filepath.Join(dir, "nope"), []string{"a.toml"}, WithEnviron(noEnv))},
		{"no files", NewStore(dir, nil, WithEnviron(noEnv))},
		{"missing file", NewStore(dir, []string{"absent.toml"}, WithEnviron(noEnv))},
		{"parse error", NewStore(dir, []string{"bad.toml"}, WithEnviron(noEnv))},
		{"unknown format", NewStore(dir, []string{"conf.ini"}, WithEnviron(noEnv))},
		{"no dir", NewStore("", []string{"a.toml"}, WithEnviron(noEnv))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.store.Load()
			if !errors.Is(err, domain.ErrConfiguration) {
				t.Errorf("Load() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestStore_EnvironmentHooks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.toml", `
[http]
host = "{$HOST}"
port = 8080
`)
	writeFile(t, dir, "env.yaml", "http:\n  port: 9090\n")

	env := func() []string {
		return []string{
			"GRACEHOST_HOST=10.0.0.1",
			"GRACEHOST_CONF=env.yaml",
			"OTHER_HOST=ignored",
		}
	}
	s := NewStore(dir, []string{"base.toml"}, WithEnviron(env))
	if err := s.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := s.String("http.host"); got != "10.0.0.1" {
		t.Errorf("http.host = %q, want 10.0.0.1", got)
	}
	if got := s.Int("http.port"); got != 9090 {
		t.Errorf("http.port = %d, want 9090", got)
	}
}

func TestStore_SetOverridesSurviveReload(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.toml", "[cluster]\nmax = 8\n")

	s := NewStore(dir, []string{"base.toml"}, WithEnviron(noEnv))
	s.Set("cluster.max", 0)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if got := s.Int("cluster.max"); got != 0 {
		t.Errorf("cluster.max = %d, want override 0", got)
	}
}

func TestSection_Decode(t *testing.T) {
	s := FromMap(map[string]interface{}{
		"modules": map[string]interface{}{
			"heartbeat": map[string]interface{}{
				"channel":  "beats",
				"interval": "2s",
			},
		},
	})

	sec := s.Section("modules.heartbeat")
	if sec == nil {
		t.Fatal("Section() = nil")
	}
	if sec.Duration("interval") != 2*time.Second {
		t.Errorf("interval = %v", sec.Duration("interval"))
	}

	var out struct {
		Channel string `json:"channel"`
	}
	if err := sec.Decode(&out); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if out.Channel != "beats" {
		t.Errorf("Channel = %q", out.Channel)
	}

	// Sections are copies.
	sec["channel"] = "mutated"
	if s.String("modules.heartbeat.channel") != "beats" {
		t.Error("mutating a section changed the store")
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.toml", "[cluster]\nmax = 1\n")

	s := NewStore(dir, []string{"base.toml"}, WithEnviron(noEnv))
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}

	w := NewWatcher(s, 10*time.Millisecond, nil)
	reloaded := make(chan error, 4)
	w.OnReload(func(err error) { reloaded <- err })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	writeFile(t, dir, "base.toml", "[cluster]\nmax = 3\n")

	select {
	case err := <-reloaded:
		if err != nil {
			t.Fatalf("reload error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reload after write")
	}
	if got := s.Int("cluster.max"); got != 3 {
		t.Errorf("cluster.max = %d after reload, want 3", got)
	}
}
