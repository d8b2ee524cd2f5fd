package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
)

// mockCompactionStore implements CompactionStore for testing.
type mockCompactionStore struct {
	mu           sync.Mutex
	calls        int
	lastCutoff   time.Time
	deletedCount int64
	err          error
}

func (m *mockCompactionStore) CompactAllocations(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastCutoff = cutoff
	if m.err != nil {
		return 0, m.err
	}
	return m.deletedCount, nil
}

type countingRecorder struct{ total int64 }

func (r *countingRecorder) RecordCompaction(n int64) { r.total += n }

func TestNewRetentionScheduler(t *testing.T) {
	s := NewRetentionScheduler(&mockCompactionStore{}, 30*24*time.Hour, "", quartz.NewReal(), zerolog.Nop())

	if s.schedule != DefaultSchedule {
		t.Errorf("expected default schedule, got %q", s.schedule)
	}
	if s.running {
		t.Error("expected scheduler to not be running initially")
	}
}

func TestRetentionScheduler_StartStop(t *testing.T) {
	s := NewRetentionScheduler(&mockCompactionStore{}, 24*time.Hour, "@every 1h", quartz.NewReal(), zerolog.Nop())

	if err := s.Start(); err != nil {
		t.Fatalf("unexpected error starting scheduler: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Error("expected error when starting already-running scheduler")
	}

	<-s.Stop().Done()
	if s.running {
		t.Error("expected scheduler to not be running after Stop()")
	}

	// Stopping a stopped scheduler returns an already-done context.
	select {
	case <-s.Stop().Done():
	default:
		t.Error("expected done context from idle Stop()")
	}
}

func TestRetentionScheduler_StartValidation(t *testing.T) {
	t.Run("bad schedule", func(t *testing.T) {
		s := NewRetentionScheduler(&mockCompactionStore{}, time.Hour, "not a cron", quartz.NewReal(), zerolog.Nop())
		if err := s.Start(); err == nil {
			t.Fatal("expected error for invalid schedule")
		}
	})

	t.Run("zero retention", func(t *testing.T) {
		s := NewRetentionScheduler(&mockCompactionStore{}, 0, "", quartz.NewReal(), zerolog.Nop())
		if err := s.Start(); err == nil {
			t.Fatal("expected error for zero retention")
		}
	})
}

func TestRetentionScheduler_RunNow(t *testing.T) {
	now := time.Date(2025, 7, 1, 3, 0, 0, 0, time.UTC)
	clock := quartz.NewMock(t)
	clock.Set(now)

	store := &mockCompactionStore{deletedCount: 4}
	rec := &countingRecorder{}
	s := NewRetentionScheduler(store, 7*24*time.Hour, "", clock, zerolog.Nop())
	s.SetRecorder(rec)

	n, err := s.RunNow(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 deleted rows, got %d", n)
	}
	if want := now.Add(-7 * 24 * time.Hour); !store.lastCutoff.Equal(want) {
		t.Errorf("expected cutoff %v, got %v", want, store.lastCutoff)
	}
	if rec.total != 4 {
		t.Errorf("expected recorder to see 4 rows, got %d", rec.total)
	}
}

func TestRetentionScheduler_RunNowError(t *testing.T) {
	store := &mockCompactionStore{err: errors.New("db unavailable")}
	rec := &countingRecorder{}
	s := NewRetentionScheduler(store, time.Hour, "", quartz.NewReal(), zerolog.Nop())
	s.SetRecorder(rec)

	if _, err := s.RunNow(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	// The scheduled path only logs.
	s.runCleanup()

	if store.calls != 2 {
		t.Errorf("expected 2 store calls, got %d", store.calls)
	}
	if rec.total != 0 {
		t.Errorf("expected nothing recorded on failure, got %d", rec.total)
	}
}
