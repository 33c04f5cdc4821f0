package cluster

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/bft-labs/gracehost/internal/domain"
	"github.com/bft-labs/gracehost/pkg/ipc"
)

type fakeProcess struct {
	pid  int
	exit chan ExitStatus

	mu      sync.Mutex
	signals []os.Signal
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, sig)
	return nil
}

func (p *fakeProcess) Wait() (ExitStatus, error) {
	return <-p.exit, nil
}

func (p *fakeProcess) Signals() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]os.Signal(nil), p.signals...)
}

type fakeSpawner struct {
	mu    sync.Mutex
	procs map[string]*fakeProcess
	peers map[string]*ipc.Conn
	fail  string
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{procs: map[string]*fakeProcess{}, peers: map[string]*ipc.Conn{}}
}

func (s *fakeSpawner) Spawn(ctx context.Context, id string) (Process, *ipc.Conn, error) {
	if id == s.fail {
		return nil, nil, errors.New("fork failed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	master, worker := ipc.Pipe()
	p := &fakeProcess{pid: 1000 + len(s.procs), exit: make(chan ExitStatus, 1)}
	s.procs[id] = p
	s.peers[id] = worker
	return p, master, nil
}

func (s *fakeSpawner) proc(id string) *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[id]
}

func noEnv(string) (string, bool) { return "", false }

func TestWorkerCount(t *testing.T) {
	tests := []struct {
		max, cpus, want int
	}{
		{4, 2, 2},
		{1, 8, 1},
		{0, 8, 0},
		{-1, 8, 0},
		{8, 8, 8},
	}
	for _, tt := range tests {
		if got := WorkerCount(tt.max, tt.cpus); got != tt.want {
			t.Errorf("WorkerCount(%d, %d) = %d, want %d", tt.max, tt.cpus, got, tt.want)
		}
	}
}

func TestManager_ResolveRole(t *testing.T) {
	upstream, _ := ipc.Pipe()
	tests := []struct {
		name   string
		cfg    Config
		env    func(string) (string, bool)
		want   string
		wantWN int
	}{
		{"clustered", Config{Max: 4}, noEnv, "master", 2},
		{"disabled", Config{Max: 0}, noEnv, "singleton", 0},
		{"worker marker", Config{Max: 4}, func(k string) (string, bool) {
			if k == EnvWorkerID {
				return "3", true
			}
			return "", false
		}, "worker", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(nil,
				WithCPUCount(func() int { return 2 }),
				WithLookupEnv(tt.env),
				WithUpstream(func() (*ipc.Conn, error) { return upstream, nil }))

			role, err := m.ResolveRole(tt.cfg)
			if err != nil {
				t.Fatalf("ResolveRole() error = %v", err)
			}
			if role.String() != tt.want {
				t.Fatalf("role = %s, want %s", role, tt.want)
			}
			switch r := role.(type) {
			case Master:
				if r.Workers != tt.wantWN {
					t.Errorf("Workers = %d, want %d", r.Workers, tt.wantWN)
				}
			case Worker:
				if r.ID != "3" || r.Upstream != upstream {
					t.Errorf("worker = %+v", r)
				}
			}
		})
	}
}

func TestManager_ResolveRole_UpstreamError(t *testing.T) {
	m := NewManager(nil,
		WithLookupEnv(func(string) (string, bool) { return "1", true }),
		WithUpstream(func() (*ipc.Conn, error) { return nil, errors.New("no fds") }))

	if _, err := m.ResolveRole(Config{}); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("ResolveRole() error = %v, want ErrConfiguration", err)
	}
}

func TestRunsModules(t *testing.T) {
	if RunsModules(Master{Workers: 2}, Config{}) {
		t.Error("master runs modules without master_modules")
	}
	if !RunsModules(Master{Workers: 2}, Config{MasterModules: true}) {
		t.Error("master skips modules with master_modules")
	}
	if !RunsModules(Singleton{}, Config{}) || !RunsModules(Worker{ID: "1"}, Config{}) {
		t.Error("singleton and worker must run modules")
	}
}

func TestManager_SpawnWorkers(t *testing.T) {
	sp := newFakeSpawner()
	m := NewManager(nil, WithSpawner(sp))

	handles, err := m.SpawnWorkers(context.Background(), 2)
	if err != nil {
		t.Fatalf("SpawnWorkers() error = %v", err)
	}
	if len(handles) != 2 || handles[0].ID != "1" || handles[1].ID != "2" {
		t.Fatalf("handles = %+v", handles)
	}
	if got := len(m.Workers()); got != 2 {
		t.Errorf("Workers() = %d, want 2", got)
	}

	if _, err := m.SpawnWorkers(context.Background(), 2); !errors.Is(err, domain.ErrAlreadySpawned) {
		t.Errorf("second SpawnWorkers() error = %v, want ErrAlreadySpawned", err)
	}
	if got := len(sp.procs); got != 2 {
		t.Errorf("spawned %d processes, want 2", got)
	}
}

func TestManager_SpawnFailureKeepsEarlierWorkers(t *testing.T) {
	sp := newFakeSpawner()
	sp.fail = "2"
	m := NewManager(nil, WithSpawner(sp))

	handles, err := m.SpawnWorkers(context.Background(), 3)
	if err == nil {
		t.Fatal("SpawnWorkers() expected error")
	}
	if len(handles) != 1 || len(m.Workers()) != 1 {
		t.Errorf("handles = %d, live = %d, want 1 each", len(handles), len(m.Workers()))
	}
}

func TestManager_WorkerExitRemovesHandle(t *testing.T) {
	sp := newFakeSpawner()
	m := NewManager(nil, WithSpawner(sp))

	exited := make(chan ExitStatus, 1)
	m.OnWorkerExit(func(h WorkerHandle, s ExitStatus) {
		if h.ID == "1" {
			exited <- s
		}
	})

	if _, err := m.SpawnWorkers(context.Background(), 2); err != nil {
		t.Fatalf("SpawnWorkers() error = %v", err)
	}
	sp.proc("1").exit <- ExitStatus{Code: 3}

	select {
	case s := <-exited:
		if s.Code != 3 {
			t.Errorf("exit code = %d, want 3", s.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("exit handler not called")
	}

	live := m.Workers()
	if len(live) != 1 || live[0].ID != "2" {
		t.Errorf("Workers() = %+v, want only worker 2", live)
	}
}

func TestManager_BroadcastSignalAndWait(t *testing.T) {
	sp := newFakeSpawner()
	m := NewManager(nil, WithSpawner(sp))
	if _, err := m.SpawnWorkers(context.Background(), 2); err != nil {
		t.Fatalf("SpawnWorkers() error = %v", err)
	}

	if n := m.BroadcastSignal(syscall.SIGTERM); n != 2 {
		t.Errorf("BroadcastSignal() = %d, want 2", n)
	}
	for _, id := range []string{"1", "2"} {
		p := sp.proc(id)
		if sigs := p.Signals(); len(sigs) != 1 || sigs[0] != syscall.SIGTERM {
			t.Errorf("worker %s signals = %v", id, sigs)
		}
		p.exit <- ExitStatus{Signal: "terminated"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got := len(m.Workers()); got != 0 {
		t.Errorf("Workers() = %d after exit, want 0", got)
	}
}
