package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/gracehost/pkg/log"
)

type mockLogger struct {
	mu     sync.Mutex
	errors []string
}

func (m *mockLogger) Debug(msg string, fields ...log.Field) {}
func (m *mockLogger) Info(msg string, fields ...log.Field)  {}
func (m *mockLogger) Warn(msg string, fields ...log.Field)  {}
func (m *mockLogger) Error(msg string, fields ...log.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func recorder(order *[]string, mu *sync.Mutex, name string, err error) Task {
	return func(ctx context.Context) error {
		mu.Lock()
		*order = append(*order, name)
		mu.Unlock()
		return err
	}
}

func TestDrain_RunsInRegistrationOrder(t *testing.T) {
	c := New(&mockLogger{})
	var order []string
	var mu sync.Mutex

	for _, name := range []string{"db", "cache", "log"} {
		c.Register(name, recorder(&order, &mu, name, nil))
	}

	if got := c.Names(); len(got) != 3 || got[0] != "db" || got[2] != "log" {
		t.Fatalf("Names() = %v", got)
	}

	report := c.Drain(context.Background())

	want := []string{"db", "cache", "log"}
	if len(order) != len(want) {
		t.Fatalf("ran %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
	if len(report.Ran) != 3 || len(report.Failures) != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestDrain_SecondDrainIsNoop(t *testing.T) {
	c := New(nil)
	calls := 0
	c.Register("once", func(ctx context.Context) error {
		calls++
		return nil
	})

	c.Drain(context.Background())
	report := c.Drain(context.Background())

	if calls != 1 {
		t.Errorf("task ran %d times, want 1", calls)
	}
	if len(report.Ran) != 0 {
		t.Errorf("second drain ran %v, want nothing", report.Ran)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after drain, want 0", c.Len())
	}
}

func TestDrain_FailuresDoNotStopQueue(t *testing.T) {
	logger := &mockLogger{}
	c := New(logger)
	var order []string
	var mu sync.Mutex

	c.Register("first", recorder(&order, &mu, "first", nil))
	c.Register("errors", recorder(&order, &mu, "errors", errors.New("boom")))
	c.Register("panics", func(ctx context.Context) error {
		mu.Lock()
		order = append(order, "panics")
		mu.Unlock()
		panic("task exploded")
	})
	c.Register("last", recorder(&order, &mu, "last", nil))

	report := c.Drain(context.Background())

	if len(order) != 4 || order[3] != "last" {
		t.Fatalf("ran %v, want all four tasks", order)
	}
	if len(report.Failures) != 2 {
		t.Fatalf("failures = %+v, want 2", report.Failures)
	}
	if report.Failures[0].Name != "errors" || report.Failures[1].Name != "panics" {
		t.Errorf("failure names = %+v", report.Failures)
	}
	if len(logger.errors) != 2 {
		t.Errorf("logged errors = %v, want 2", logger.errors)
	}
}

func TestDrain_ConcurrentCallsAreSerialized(t *testing.T) {
	c := New(nil)
	release := make(chan struct{})
	started := make(chan struct{})
	var running, maxRunning int
	var mu sync.Mutex

	enter := func() {
		mu.Lock()
		running++
		if running > maxRunning {
			maxRunning = running
		}
		mu.Unlock()
	}
	leave := func() {
		mu.Lock()
		running--
		mu.Unlock()
	}

	c.Register("slow", func(ctx context.Context) error {
		enter()
		defer leave()
		close(started)
		<-release
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Drain(context.Background())
	}()
	<-started

	// Registered while the first drain is in flight; must run in the second
	// drain, after the first has finished.
	c.Register("late", func(ctx context.Context) error {
		enter()
		defer leave()
		return nil
	})

	second := make(chan Report, 1)
	go func() {
		second <- c.Drain(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	report := <-second
	if len(report.Ran) != 1 || report.Ran[0] != "late" {
		t.Errorf("second drain ran %v, want [late]", report.Ran)
	}
	if maxRunning != 1 {
		t.Errorf("max concurrent tasks = %d, want 1", maxRunning)
	}
}

func TestDrain_TaskTimeout(t *testing.T) {
	c := New(nil)
	c.SetTaskTimeout(10 * time.Millisecond)
	ranNext := false

	c.Register("stuck", func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	c.Register("next", func(ctx context.Context) error {
		ranNext = true
		return nil
	})

	report := c.Drain(context.Background())

	if !ranNext {
		t.Error("task after a stuck task did not run")
	}
	if len(report.Failures) != 1 || !errors.Is(report.Failures[0].Err, ErrTaskTimeout) {
		t.Errorf("failures = %+v, want one ErrTaskTimeout", report.Failures)
	}
}

func TestDrain_MasterOnly(t *testing.T) {
	c := New(nil)
	var order []string
	var mu sync.Mutex

	c.Register("worker-only", recorder(&order, &mu, "worker-only", nil))
	c.Register("everywhere", recorder(&order, &mu, "everywhere", nil), OnMaster())
	c.SetMasterOnly(true)

	report := c.Drain(context.Background())

	if len(order) != 1 || order[0] != "everywhere" {
		t.Errorf("ran %v, want [everywhere]", order)
	}
	if len(report.Skipped) != 1 || report.Skipped[0] != "worker-only" {
		t.Errorf("skipped = %v", report.Skipped)
	}
}

func TestRegister_NilTaskIgnored(t *testing.T) {
	c := New(nil)
	c.Register("nil", nil)
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}
