package status

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bft-labs/gracehost/pkg/config"
	"github.com/bft-labs/gracehost/pkg/log"
	"github.com/bft-labs/gracehost/pkg/module"
	"github.com/bft-labs/gracehost/pkg/state"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestPlugin_ReadConfig(t *testing.T) {
	p := New(Config{})
	if p.cfg != DefaultConfig() {
		t.Fatalf("cfg = %+v, want defaults", p.cfg)
	}

	if err := p.ReadConfig(config.Section{"dir": "/var/run/app", "retention": "1h"}); err != nil {
		t.Fatalf("ReadConfig failed: %v", err)
	}
	if p.cfg.Dir != "/var/run/app" {
		t.Errorf("Dir = %q, want /var/run/app", p.cfg.Dir)
	}
	if p.cfg.Retention != time.Hour {
		t.Errorf("Retention = %v, want 1h", p.cfg.Retention)
	}
}

func TestPlugin_WritesLifecycle(t *testing.T) {
	tests := []struct {
		name     string
		role     string
		worker   string
		wantFile string
	}{
		{name: "singleton", role: "singleton", wantFile: "status.json"},
		{name: "worker", role: "worker", worker: "2", wantFile: "status.worker-2.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

			p := New(DefaultConfig())
			p.now = fixedClock(start)

			var ready []func()
			mc := module.NewContext(Name, module.Env{
				Root:       root,
				InstanceID: "host-1",
				Role:       tt.role,
				Worker:     tt.worker,
				Logger:     log.NewNoopLogger(),
				OnReady:    func(fn func()) { ready = append(ready, fn) },
			})

			if err := p.Setup(context.Background(), mc); err != nil {
				t.Fatalf("Setup failed: %v", err)
			}

			wantPath := filepath.Join(root, "run", tt.wantFile)
			if p.Path() != wantPath {
				t.Fatalf("Path = %q, want %q", p.Path(), wantPath)
			}

			repo := state.NewFileRepository(filepath.Join(root, "run"), tt.wantFile)
			s, err := repo.Load(context.Background())
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if s.Phase != "Modules" || s.Role != tt.role || s.Worker != tt.worker {
				t.Errorf("initial status = %+v", s)
			}
			if s.Instance != "host-1" || !s.StartedAt.Equal(start) {
				t.Errorf("initial status = %+v", s)
			}
			if len(ready) != 1 {
				t.Fatalf("ready hooks = %d, want 1", len(ready))
			}

			p.now = fixedClock(start.Add(time.Second))
			ready[0]()
			s, _ = repo.Load(context.Background())
			if s.Phase != "Ready" || s.ReadyAt == nil {
				t.Errorf("ready status = %+v", s)
			}
			if !s.Running() {
				t.Error("status should be running after ready")
			}

			p.now = fixedClock(start.Add(time.Minute))
			if err := p.stop(context.Background()); err != nil {
				t.Fatalf("stop failed: %v", err)
			}
			s, _ = repo.Load(context.Background())
			if s.Phase != "Stopped" || s.StoppedAt == nil {
				t.Errorf("stopped status = %+v", s)
			}
			if s.Running() {
				t.Error("status should not be running after stop")
			}
		})
	}
}

func TestPlugin_PrunesStaleWorkerFiles(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "run")
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	stopped := now.Add(-72 * time.Hour)

	stale := state.NewFileRepository(dir, state.FileName("worker-9"))
	if err := stale.Save(context.Background(), state.Status{Pid: 9, StoppedAt: &stopped}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	p := New(DefaultConfig())
	p.now = fixedClock(now)
	mc := &module.Context{Name: Name, Root: root, Role: "master", Logger: log.NewNoopLogger()}
	if err := p.Setup(context.Background(), mc); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	all, err := state.List(dir)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 1 || all[0].Role != "master" {
		t.Errorf("List = %+v, want only the master status", all)
	}
}
