package lifecycle

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// mockEmitter tracks phase change events for testing.
type mockEmitter struct {
	mu     sync.Mutex
	events []phaseChangeEvent
}

type phaseChangeEvent struct {
	previous Phase
	current  Phase
	reason   string
}

func (m *mockEmitter) OnPhaseChange(previous, current Phase, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, phaseChangeEvent{previous, current, reason})
}

func (m *mockEmitter) Events() []phaseChangeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]phaseChangeEvent{}, m.events...)
}

func TestNewManager(t *testing.T) {
	l := NewManager(nil, nil)
	if l.Phase() != PhaseNone {
		t.Errorf("initial phase = %v, want None", l.Phase())
	}
	if !l.CanStart() {
		t.Error("CanStart() = false on a new manager")
	}
}

func TestPhase_String(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{PhaseNone, "None"},
		{PhaseConfig, "Config"},
		{PhaseProcessRole, "ProcessRole"},
		{PhaseReady, "Ready"},
		{PhaseShuttingDown, "ShuttingDown"},
		{PhaseStopped, "Stopped"},
		{Phase(99), "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.want {
			t.Errorf("Phase(%d).String() = %s, want %s", tt.phase, got, tt.want)
		}
	}
}

func TestManager_TransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    Phase
		to      Phase
		wantErr bool
	}{
		{"None to Config", PhaseNone, PhaseConfig, false},
		{"Config to Log", PhaseConfig, PhaseLog, false},
		{"ProcessRole to Ready skips Mesh and Modules", PhaseProcessRole, PhaseReady, false},
		{"Mesh to Ready", PhaseMesh, PhaseReady, false},
		{"Modules to ShuttingDown", PhaseModules, PhaseShuttingDown, false},
		{"Ready to ShuttingDown", PhaseReady, PhaseShuttingDown, false},
		{"ShuttingDown to Stopped", PhaseShuttingDown, PhaseStopped, false},
		{"None to ShuttingDown", PhaseNone, PhaseShuttingDown, true},
		{"Log to Config", PhaseLog, PhaseConfig, true},
		{"Config to Config", PhaseConfig, PhaseConfig, true},
		{"Ready to Modules", PhaseReady, PhaseModules, true},
		{"ShuttingDown to Ready", PhaseShuttingDown, PhaseReady, true},
		{"ShuttingDown to ShuttingDown", PhaseShuttingDown, PhaseShuttingDown, true},
		{"Stopped to Config", PhaseStopped, PhaseConfig, true},
		{"Ready to Stopped", PhaseReady, PhaseStopped, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewManager(nil, nil)
			l.phase = tt.from

			err := l.TransitionTo(tt.to, "test")
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("TransitionTo() error = %v, want ErrInvalidTransition", err)
				}
				if l.Phase() != tt.from {
					t.Errorf("phase changed to %v on invalid transition", l.Phase())
				}
				return
			}
			if err != nil {
				t.Fatalf("TransitionTo() error = %v", err)
			}
			if l.Phase() != tt.to {
				t.Errorf("phase = %v, want %v", l.Phase(), tt.to)
			}
		})
	}
}

func TestManager_EmitsEvents(t *testing.T) {
	emitter := &mockEmitter{}
	l := NewManager(nil, emitter)

	for _, p := range []Phase{PhaseConfig, PhaseLog, PhaseShuttingDown, PhaseStopped} {
		if err := l.TransitionTo(p, p.String()); err != nil {
			t.Fatalf("TransitionTo(%v) error = %v", p, err)
		}
	}

	events := emitter.Events()
	if len(events) != 4 {
		t.Fatalf("events = %d, want 4", len(events))
	}
	if events[0].previous != PhaseNone || events[0].current != PhaseConfig {
		t.Errorf("first event = %+v", events[0])
	}
	if events[3].current != PhaseStopped || events[3].reason != "Stopped" {
		t.Errorf("last event = %+v", events[3])
	}
}

func TestManager_Reset(t *testing.T) {
	l := NewManager(nil, nil)
	if err := l.Reset(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Reset() from None error = %v", err)
	}

	l.TransitionTo(PhaseConfig, "")
	l.TransitionTo(PhaseShuttingDown, "")
	l.TransitionTo(PhaseStopped, "")
	if err := l.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if !l.CanStart() {
		t.Error("CanStart() = false after Reset")
	}
}

func TestManager_WaitWithTimeout(t *testing.T) {
	l := NewManager(nil, nil)

	l.AddWorker()
	release := make(chan struct{})
	go func() {
		<-release
		l.WorkerDone()
	}()

	if err := l.WaitWithTimeout(20 * time.Millisecond); !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("WaitWithTimeout() error = %v, want ErrShutdownTimeout", err)
	}
	close(release)
	if err := l.WaitWithTimeout(time.Second); err != nil {
		t.Errorf("WaitWithTimeout() error = %v", err)
	}
}
