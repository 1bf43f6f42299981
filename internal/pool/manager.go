package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/truongnat/agentic-sdlc-orchestrator/internal/agent"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/task"
)

// Manager owns one Pool per AgentType role.
type Manager struct {
	mu     sync.RWMutex
	pools  map[string]*Pool
	logger logrus.FieldLogger
}

// NewManager creates an empty pool manager.
func NewManager(logger logrus.FieldLogger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{pools: make(map[string]*Pool), logger: logger}
}

// CreatePool registers a new pool for a role. Returns an error if one
// already exists for that role.
func (m *Manager) CreatePool(cfg Config) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pools[cfg.Role]; exists {
		return nil, fmt.Errorf("pool for role %s already exists", cfg.Role)
	}
	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}

	p, err := New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool for role %s: %w", cfg.Role, err)
	}
	m.pools[cfg.Role] = p
	return p, nil
}

// Pool returns the pool for a role, or ErrDistribution-shaped error if none
// is registered.
func (m *Manager) Pool(role string) (*Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, exists := m.pools[role]
	if !exists {
		return nil, fmt.Errorf("no pool registered for role %s", role)
	}
	return p, nil
}

// Assign routes a task to the pool for its role.
func (m *Manager) Assign(role string, t *task.AgentTask, callback func(*task.AgentResult)) (string, error) {
	p, err := m.Pool(role)
	if err != nil {
		return "", err
	}
	inst, err := p.Assign(t, callback)
	if err != nil {
		return "", err
	}
	if inst == nil {
		return "", nil
	}
	return inst.ID, nil
}

// Complete routes a finished task's outcome to the pool for its role, so the
// pool can update its rolling metrics and, if its queue is non-empty and the
// instance just freed up, hand it the next queued task.
func (m *Manager) Complete(role, instanceID string, success bool, execTime time.Duration, quality float64) (*agent.Instance, error) {
	p, err := m.Pool(role)
	if err != nil {
		return nil, err
	}
	return p.Complete(instanceID, success, execTime, quality)
}

// HasIdleInstance reports whether the pool for role currently has at least
// one idle instance, used by the recovery module's REASSIGN decision.
func (m *Manager) HasIdleInstance(role string) bool {
	p, err := m.Pool(role)
	if err != nil {
		return false
	}
	status := p.Status()
	return status.IdleInstances > 0
}

// ListPools returns every registered role.
func (m *Manager) ListPools() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	roles := make([]string, 0, len(m.pools))
	for role := range m.pools {
		roles = append(roles, role)
	}
	return roles
}

// AggregateMetrics returns the per-role Metrics snapshot for every pool.
func (m *Manager) AggregateMetrics() map[string]Metrics {
	m.mu.RLock()
	pools := make(map[string]*Pool, len(m.pools))
	for role, p := range m.pools {
		pools[role] = p
	}
	m.mu.RUnlock()

	out := make(map[string]Metrics, len(pools))
	for role, p := range pools {
		out[role] = p.Status()
	}
	return out
}

// Stop tears down every pool.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.RLock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.RUnlock()

	for _, p := range pools {
		p.Cleanup(ctx)
	}
}
