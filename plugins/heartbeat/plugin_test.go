package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/bft-labs/gracehost/pkg/config"
	"github.com/bft-labs/gracehost/pkg/ipc"
	"github.com/bft-labs/gracehost/pkg/log"
	"github.com/bft-labs/gracehost/pkg/mesh"
	"github.com/bft-labs/gracehost/pkg/module"
)

func waitPeers(t *testing.T, p *Plugin, want ...string) []Beat {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		peers := p.Peers()
		if len(peers) == len(want) {
			match := true
			for i, b := range peers {
				if b.Node != want[i] {
					match = false
				}
			}
			if match {
				return peers
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("Peers() = %+v, want nodes %v", peers, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func setup(t *testing.T, p *Plugin, n mesh.Network, role, worker string) {
	t.Helper()
	mc := module.NewContext(Name, module.Env{
		Role:   role,
		Worker: worker,
		Logger: log.NewNoopLogger(),
		Mesh:   n,
	})
	if err := p.Setup(context.Background(), mc); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	t.Cleanup(func() { p.Shutdown(context.Background()) })
}

func TestPlugin_ReadConfig(t *testing.T) {
	tests := []struct {
		name string
		sec  config.Section
		want Config
	}{
		{
			name: "empty keeps defaults",
			sec:  config.Section{},
			want: DefaultConfig(),
		},
		{
			name: "interval scales expiry",
			sec:  config.Section{"interval": "1s"},
			want: Config{Interval: time.Second, Expiry: 3 * time.Second, Channel: "heartbeat"},
		},
		{
			name: "explicit values",
			sec:  config.Section{"interval": 200, "expiry": "2s", "channel": "alive"},
			want: Config{Interval: 200 * time.Millisecond, Expiry: 2 * time.Second, Channel: "alive"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(DefaultConfig())
			if err := p.ReadConfig(tt.sec); err != nil {
				t.Fatalf("ReadConfig failed: %v", err)
			}
			if p.cfg != tt.want {
				t.Errorf("cfg = %+v, want %+v", p.cfg, tt.want)
			}
		})
	}
}

func TestPlugin_NoMesh(t *testing.T) {
	p := New(DefaultConfig())
	mc := module.NewContext(Name, module.Env{Logger: log.NewNoopLogger()})

	if err := p.Setup(context.Background(), mc); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if len(p.Peers()) != 0 {
		t.Error("Peers() should be empty without a mesh")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestPlugin_SingletonHearsItself(t *testing.T) {
	coord := mesh.NewCoordinator(mesh.WithID("solo"))
	defer coord.Close()

	p := New(Config{Interval: 20 * time.Millisecond})
	setup(t, p, coord, "singleton", "")

	peers := waitPeers(t, p, "solo")
	if peers[0].Role != "singleton" || peers[0].Seq == 0 {
		t.Errorf("beat = %+v", peers[0])
	}
}

func TestPlugin_MasterAndWorkerSeeEachOther(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord := mesh.NewCoordinator(mesh.WithID("master"))
	defer coord.Close()

	masterEnd, workerEnd := ipc.Pipe()
	go coord.Serve(ctx, masterEnd)
	client, err := mesh.NewClient(workerEnd, mesh.WithID("worker-1"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()
	mux := ipc.NewMux(workerEnd, nil)
	mux.Handle(ipc.CategoryMesh, client.Handle)
	go mux.Serve(ctx)

	master := New(Config{Interval: 20 * time.Millisecond})
	setup(t, master, coord, "master", "")
	worker := New(Config{Interval: 20 * time.Millisecond})
	setup(t, worker, client, "worker", "1")

	waitPeers(t, master, "master", "worker-1")
	peers := waitPeers(t, worker, "master", "worker-1")
	if peers[1].Worker != "1" {
		t.Errorf("worker beat = %+v", peers[1])
	}
}

func TestPlugin_PeersExpire(t *testing.T) {
	p := New(Config{Interval: time.Second, Expiry: time.Minute})
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	data, _ := ipc.Marshal(Beat{Node: "a", Seq: 1, At: now.Add(-2 * time.Minute)})
	p.record(mesh.Message{Channel: "heartbeat", From: "a", Data: data})
	data, _ = ipc.Marshal(Beat{Node: "b", Seq: 1, At: now.Add(-time.Second)})
	p.record(mesh.Message{Channel: "heartbeat", From: "b", Data: data})

	peers := p.Peers()
	if len(peers) != 1 || peers[0].Node != "b" {
		t.Errorf("Peers() = %+v, want only b", peers)
	}
}

func TestPlugin_ShutdownLeavesChannel(t *testing.T) {
	coord := mesh.NewCoordinator(mesh.WithID("solo"))
	defer coord.Close()

	p := New(Config{Interval: 20 * time.Millisecond})
	mc := module.NewContext(Name, module.Env{Logger: log.NewNoopLogger(), Mesh: coord})
	if err := p.Setup(context.Background(), mc); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if !coord.Nodes()["solo"].Subscribed("heartbeat") {
		t.Fatal("node should be subscribed after Setup")
	}

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if coord.Nodes()["solo"].Subscribed("heartbeat") {
		t.Error("node still subscribed after Shutdown")
	}
}
