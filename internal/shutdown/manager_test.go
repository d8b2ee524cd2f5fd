package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestManager_NewManager(t *testing.T) {
	m := NewManager(DefaultConfig(), zerolog.Nop())

	if m.GetState() != StateRunning {
		t.Errorf("expected state %s, got %s", StateRunning, m.GetState())
	}
	if m.IsDraining() {
		t.Error("new manager should not be draining")
	}
}

func TestManager_StepsRunInOrder(t *testing.T) {
	m := NewManager(Config{Timeout: time.Second}, zerolog.Nop())

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"http", "scheduler", "audit"} {
		m.Register(name, func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			if !m.IsDraining() {
				t.Errorf("step %s ran while not draining", name)
			}
			return nil
		})
	}

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(order); got != 3 || order[0] != "http" || order[2] != "audit" {
		t.Fatalf("unexpected step order: %v", order)
	}
	if m.GetState() != StateComplete {
		t.Errorf("expected state %s, got %s", StateComplete, m.GetState())
	}

	select {
	case <-m.Done():
	default:
		t.Fatal("Done channel should be closed")
	}
}

func TestManager_StepErrorsAreJoined(t *testing.T) {
	m := NewManager(Config{Timeout: time.Second}, zerolog.Nop())

	boom := errors.New("boom")
	ran := false
	m.Register("fails", func(context.Context) error { return boom })
	m.Register("still runs", func(context.Context) error {
		ran = true
		return nil
	})

	err := m.Shutdown(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error to wrap boom, got %v", err)
	}
	if !ran {
		t.Fatal("later steps must run after a failure")
	}
}

func TestManager_DrainReportsDraining(t *testing.T) {
	m := NewManager(Config{Timeout: time.Second, DrainTimeout: 50 * time.Millisecond}, zerolog.Nop())

	go func() { _ = m.Shutdown(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for m.GetState() == StateRunning && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !m.IsDraining() {
		t.Fatal("expected manager to be draining")
	}
	<-m.Done()
}

func TestManager_ShutdownOnce(t *testing.T) {
	m := NewManager(Config{Timeout: time.Second}, zerolog.Nop())

	calls := 0
	m.Register("count", func(context.Context) error {
		calls++
		return nil
	})

	_ = m.Shutdown(context.Background())
	_ = m.Shutdown(context.Background())
	if calls != 1 {
		t.Fatalf("expected steps to run once, ran %d times", calls)
	}
}

func TestManager_DeadlineCutsDrainShort(t *testing.T) {
	m := NewManager(Config{Timeout: 20 * time.Millisecond, DrainTimeout: time.Hour}, zerolog.Nop())

	var stepCtxErr error
	m.Register("check", func(ctx context.Context) error {
		stepCtxErr = ctx.Err()
		return nil
	})

	start := time.Now()
	_ = m.Shutdown(context.Background())
	if time.Since(start) > 5*time.Second {
		t.Fatal("shutdown should not wait for the full drain timeout")
	}
	if stepCtxErr == nil {
		t.Fatal("steps should see the expired deadline")
	}
}
