package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/moolen/sleuth/internal/logging"
)

// DefaultShutdownTimeout is the per-component grace period used by Stop.
const DefaultShutdownTimeout = 30 * time.Second

// rollbackTimeout bounds each Stop call made while undoing a failed Start.
const rollbackTimeout = 5 * time.Second

type node struct {
	component Component
	deps      []Component
	running   bool
}

// Manager starts components after their dependencies and stops them in
// the reverse order they were started.
type Manager struct {
	regMu sync.Mutex // held across Register, Start and Stop
	nodes []*node

	mu              sync.RWMutex
	started         []Component
	shutdownTimeout time.Duration

	logger *logging.Logger
}

// NewManager returns an empty Manager using DefaultShutdownTimeout.
func NewManager() *Manager {
	return &Manager{
		shutdownTimeout: DefaultShutdownTimeout,
		logger:          logging.GetLogger("lifecycle"),
	}
}

// Register adds a component. Every dependency must already be registered,
// which also rules out cycles.
func (m *Manager) Register(component Component, dependsOn ...Component) error {
	m.regMu.Lock()
	defer m.regMu.Unlock()

	if component == nil {
		return errors.New("cannot register nil component")
	}
	if component.Name() == "" {
		return errors.New("component must have a non-empty name")
	}
	if m.lookup(component) != nil {
		return fmt.Errorf("component %s is already registered", component.Name())
	}
	for _, dep := range dependsOn {
		if dep == nil || m.lookup(dep) == nil {
			return fmt.Errorf("dependency of %s is not registered", component.Name())
		}
	}

	m.mu.Lock()
	m.nodes = append(m.nodes, &node{component: component, deps: slices.Clone(dependsOn)})
	m.mu.Unlock()
	m.logger.Debug("Registered %s (%d dependencies)", component.Name(), len(dependsOn))
	return nil
}

func (m *Manager) lookup(c Component) *node {
	for _, n := range m.nodes {
		if n.component == c {
			return n
		}
	}
	return nil
}

// order returns nodes with dependencies ahead of dependents, otherwise in
// registration order.
func (m *Manager) order() []*node {
	seen := make(map[*node]bool, len(m.nodes))
	out := make([]*node, 0, len(m.nodes))
	var visit func(n *node)
	visit = func(n *node) {
		if seen[n] {
			return
		}
		seen[n] = true
		for _, dep := range n.deps {
			visit(m.lookup(dep))
		}
		out = append(out, n)
	}
	for _, n := range m.nodes {
		visit(n)
	}
	return out
}

// Start starts every component. On the first failure the components started
// so far are stopped again, newest first, and the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.regMu.Lock()
	defer m.regMu.Unlock()

	m.mu.Lock()
	m.started = m.started[:0]
	m.mu.Unlock()

	for _, n := range m.order() {
		name := n.component.Name()
		m.logger.Info("Starting %s", name)
		begin := time.Now()

		if err := n.component.Start(ctx); err != nil {
			m.logger.Error("Failed to start %s: %v", name, err)
			m.rollback()
			return fmt.Errorf("initialization failed for %s: %w", name, err)
		}

		m.mu.Lock()
		n.running = true
		m.started = append(m.started, n.component)
		m.mu.Unlock()
		m.logger.Info("%s started (took %dms)", name, time.Since(begin).Milliseconds())
	}

	m.logger.Info("All components started")
	return nil
}

func (m *Manager) rollback() {
	for _, c := range m.startedReversed() {
		m.logger.Debug("Rolling back %s", c.Name())
		ctx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
		if err := c.Stop(ctx); err != nil {
			m.logger.Warn("Error stopping %s during rollback: %v", c.Name(), err)
		}
		cancel()
		m.markStopped(c)
	}
}

// Stop stops the running components, newest first. Each one gets its own
// shutdown timeout derived from ctx. Errors are logged and Stop returns nil.
func (m *Manager) Stop(ctx context.Context) error {
	m.regMu.Lock()
	defer m.regMu.Unlock()

	m.logger.Info("Stopping all components")
	for _, c := range m.startedReversed() {
		if !m.IsRunning(c) {
			continue
		}
		name := c.Name()
		begin := time.Now()

		m.mu.RLock()
		timeout := m.shutdownTimeout
		m.mu.RUnlock()

		stopCtx, cancel := context.WithTimeout(ctx, timeout)
		err := c.Stop(stopCtx)
		cancel()

		switch {
		case errors.Is(err, context.DeadlineExceeded):
			m.logger.Warn("%s exceeded its %dms grace period", name, timeout.Milliseconds())
		case err != nil:
			m.logger.Error("Error stopping %s: %v", name, err)
		default:
			m.logger.Info("%s stopped (took %dms)", name, time.Since(begin).Milliseconds())
		}
		m.markStopped(c)
	}
	m.logger.Info("All components stopped")
	return nil
}

func (m *Manager) startedReversed() []Component {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Clone(m.started)
	slices.Reverse(out)
	return out
}

func (m *Manager) markStopped(c Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := m.lookup(c); n != nil {
		n.running = false
	}
}

// IsRunning reports whether c started successfully and has not been stopped.
func (m *Manager) IsRunning(c Component) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := m.lookup(c)
	return n != nil && n.running
}

// SetShutdownTimeout sets the per-component grace period used by Stop.
func (m *Manager) SetShutdownTimeout(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownTimeout = timeout
}
