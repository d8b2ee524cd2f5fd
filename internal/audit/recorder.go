// Package audit records license decisions to the audit log without ever
// delaying or failing the request that produced them.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/MacJediWizard/seatkeeper/internal/models"
	"github.com/rs/zerolog"
)

// writeTimeout bounds each background write.
const writeTimeout = 5 * time.Second

// Store persists audit log entries.
type Store interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Recorder writes audit entries asynchronously.
type Recorder struct {
	store  Store
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewRecorder creates a new Recorder.
func NewRecorder(store Store, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Record saves entry in the background. Write failures are logged only.
func (r *Recorder) Record(entry *models.AuditLog) {
	if r == nil || r.store == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := r.store.CreateAuditLog(ctx, entry); err != nil {
			r.logger.Error().Err(err).
				Str("action", string(entry.Action)).
				Str("entity_type", entry.EntityType).
				Msg("failed to create audit log")
		}
	}()
}

// Wait blocks until every pending write has finished.
func (r *Recorder) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}

// MemoryStore keeps audit entries in process.
type MemoryStore struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

// CreateAuditLog implements Store.
func (m *MemoryStore) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, log)
	return nil
}

// Entries returns the recorded entries in insertion order.
func (m *MemoryStore) Entries() []*models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.AuditLog, len(m.entries))
	copy(out, m.entries)
	return out
}
