// Package shutdown provides graceful shutdown coordination for the Seatkeeper server.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State represents the current shutdown state.
type State string

const (
	// StateRunning indicates the server is running normally.
	StateRunning State = "running"
	// StateDraining indicates the server reports unhealthy so load balancers
	// stop routing to it, while in-flight requests finish.
	StateDraining State = "draining"
	// StateStopping indicates the registered steps are running.
	StateStopping State = "stopping"
	// StateComplete indicates shutdown is complete.
	StateComplete State = "complete"
)

// Step is one unit of shutdown work, such as stopping the HTTP server.
type Step func(ctx context.Context) error

// Config holds configuration for the shutdown manager.
type Config struct {
	// Timeout bounds the whole shutdown including the drain.
	Timeout time.Duration

	// DrainTimeout is how long health reports draining before steps run.
	DrainTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		DrainTimeout: 5 * time.Second,
	}
}

type namedStep struct {
	name string
	fn   Step
}

// Manager coordinates graceful shutdown of the Seatkeeper server.
type Manager struct {
	config       Config
	logger       zerolog.Logger
	mu           sync.RWMutex
	state        State
	steps        []namedStep
	doneCh       chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error
}

// NewManager creates a new shutdown manager.
func NewManager(config Config, logger zerolog.Logger) *Manager {
	return &Manager{
		config: config,
		logger: logger.With().Str("component", "shutdown_manager").Logger(),
		state:  StateRunning,
		doneCh: make(chan struct{}),
	}
}

// Register adds a step. Steps run in registration order, so register the
// HTTP server before the stores it writes to.
func (m *Manager) Register(name string, fn Step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, namedStep{name: name, fn: fn})
}

// GetState returns the current shutdown state.
func (m *Manager) GetState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsDraining reports whether shutdown has begun.
func (m *Manager) IsDraining() bool {
	return m.GetState() != StateRunning
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Shutdown drains, runs every step and blocks until they finish or the
// timeout passes. Later calls return the first call's result.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.shutdownErr = m.doShutdown(ctx)
		close(m.doneCh)
	})
	return m.shutdownErr
}

func (m *Manager) doShutdown(ctx context.Context) error {
	start := time.Now()
	m.logger.Info().
		Dur("timeout", m.config.Timeout).
		Dur("drain_timeout", m.config.DrainTimeout).
		Msg("initiating graceful shutdown")

	if m.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()
	}

	m.setState(StateDraining)
	if m.config.DrainTimeout > 0 {
		timer := time.NewTimer(m.config.DrainTimeout)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			m.logger.Warn().Msg("shutdown deadline reached during drain")
		}
	}

	m.setState(StateStopping)
	m.mu.RLock()
	steps := append([]namedStep(nil), m.steps...)
	m.mu.RUnlock()

	var errs []error
	for _, s := range steps {
		stepStart := time.Now()
		if err := s.fn(ctx); err != nil {
			m.logger.Error().Err(err).Str("step", s.name).Msg("shutdown step failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		m.logger.Debug().Str("step", s.name).Dur("duration", time.Since(stepStart)).Msg("shutdown step complete")
	}

	m.setState(StateComplete)
	m.logger.Info().Dur("duration", time.Since(start)).Int("failed_steps", len(errs)).Msg("graceful shutdown complete")
	return errors.Join(errs...)
}

// Done returns a channel that is closed when shutdown is complete.
func (m *Manager) Done() <-chan struct{} {
	return m.doneCh
}
