package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// checkerState is the runtime state of a registered checker
type checkerState struct {
	checker   Checker
	enabled   bool
	timeout   time.Duration
	critical  bool
	lastCheck time.Time
}

// Manager runs registered checks on demand and in the background
type Manager struct {
	checkers      map[string]*checkerState
	lastResults   map[string]CheckResult
	started       bool
	checkInterval time.Duration
	stopCh        chan struct{}
	logger        *zap.Logger
	mu            sync.RWMutex
}

// NewManager creates a new health manager
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		checkers:      make(map[string]*checkerState),
		lastResults:   make(map[string]CheckResult),
		checkInterval: 30 * time.Second,
		stopCh:        make(chan struct{}),
		logger:        logger,
	}
}

// RegisterChecker registers a health check
func (m *Manager) RegisterChecker(checker Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := checker.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}

	m.checkers[name] = &checkerState{
		checker:  checker,
		enabled:  true,
		timeout:  checker.Timeout(),
		critical: checker.IsCritical(),
	}
	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", checker.IsCritical()),
		zap.Duration("timeout", checker.Timeout()),
	)
	return nil
}

// SetEnabled turns a registered checker on or off
func (m *Manager) SetEnabled(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.checkers[name]
	if !exists {
		return fmt.Errorf("checker %s not found", name)
	}
	state.enabled = enabled
	if !enabled {
		delete(m.lastResults, name)
	}
	return nil
}

// GetOverallHealth returns the overall health status
func (m *Manager) GetOverallHealth(ctx context.Context) OverallHealth {
	startTime := time.Now()
	detailed := m.GetDetailedHealth(ctx)
	overall := detailed.Overall
	overall.Timestamp = detailed.Timestamp
	overall.Duration = time.Since(startTime)
	return overall
}

// GetDetailedHealth runs every enabled check and reports the results
func (m *Manager) GetDetailedHealth(ctx context.Context) DetailedHealth {
	states := m.enabledStates()
	timestamp := time.Now()

	components := make(map[string]CheckResult, len(states))
	for name, state := range states {
		components[name] = m.runCheck(ctx, state)
	}

	m.mu.Lock()
	for name, result := range components {
		m.lastResults[name] = result
	}
	m.mu.Unlock()

	summary := summarize(components)
	return DetailedHealth{
		Overall:    overallStatus(components, summary),
		Components: components,
		Summary:    summary,
		Timestamp:  timestamp,
	}
}

// CachedHealth reports the most recent results without running checks
func (m *Manager) CachedHealth() DetailedHealth {
	components := m.GetLastResults()
	summary := summarize(components)
	return DetailedHealth{
		Overall:    overallStatus(components, summary),
		Components: components,
		Summary:    summary,
		Timestamp:  time.Now(),
	}
}

func (m *Manager) enabledStates() map[string]*checkerState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*checkerState, len(m.checkers))
	for name, state := range m.checkers {
		if state.enabled {
			out[name] = state
		}
	}
	return out
}

func (m *Manager) runCheck(ctx context.Context, state *checkerState) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, state.timeout)
	defer cancel()

	startTime := time.Now()
	result := state.checker.Check(checkCtx)

	result.Component = state.checker.Name()
	result.Critical = state.critical
	result.Duration = time.Since(startTime)
	result.Timestamp = startTime

	m.mu.Lock()
	state.lastCheck = startTime
	m.mu.Unlock()
	return result
}

// overallStatus folds component results into one verdict. A failing
// critical component makes the service unready; anything else only degrades it.
func overallStatus(components map[string]CheckResult, summary HealthSummary) OverallHealth {
	if summary.Total == 0 {
		return OverallHealth{Status: StatusUnknown, Message: "No health checks registered", Live: true}
	}

	criticalFailures, nonCriticalFailures, degraded := 0, 0, 0
	for _, result := range components {
		switch {
		case result.Status == StatusDegraded:
			degraded++
		case result.Status == StatusUnhealthy && result.Critical:
			criticalFailures++
		case result.Status == StatusUnhealthy:
			nonCriticalFailures++
		}
	}

	switch {
	case criticalFailures > 0:
		return OverallHealth{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("%d critical component(s) failing", criticalFailures),
			Live:    true,
		}
	case degraded > 0:
		return OverallHealth{
			Status:   StatusDegraded,
			Message:  fmt.Sprintf("%d component(s) degraded", degraded),
			Degraded: true, Ready: true, Live: true,
		}
	case nonCriticalFailures > 0:
		return OverallHealth{
			Status:   StatusDegraded,
			Message:  fmt.Sprintf("%d non-critical component(s) failing", nonCriticalFailures),
			Degraded: true, Ready: true, Live: true,
		}
	default:
		return OverallHealth{
			Status:  StatusHealthy,
			Message: fmt.Sprintf("All %d components healthy", summary.Total),
			Ready:   true, Live: true,
		}
	}
}

// IsReady returns true if the service is ready to serve requests
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.GetOverallHealth(ctx).Ready
}

// IsLive returns true if the service is alive (for liveness probes)
func (m *Manager) IsLive(ctx context.Context) bool {
	return m.GetOverallHealth(ctx).Live
}

// Start begins background health checking
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}
	m.started = true
	go m.backgroundChecker(ctx, m.checkInterval)

	m.logger.Info("Health manager started",
		zap.Duration("check_interval", m.checkInterval),
		zap.Int("registered_checkers", len(m.checkers)),
	)
	return nil
}

// Stop stops background health checking
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}
	close(m.stopCh)
	m.started = false
	m.logger.Info("Health manager stopped")
	return nil
}

// SetCheckInterval updates the background check interval. It takes effect
// on the next Start.
func (m *Manager) SetCheckInterval(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkInterval = interval
}

func (m *Manager) backgroundChecker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			detailed := m.GetDetailedHealth(checkCtx)
			cancel()
			if detailed.Overall.Status != StatusHealthy {
				m.logger.Warn("Background health check",
					zap.String("status", detailed.Overall.Status.String()),
					zap.String("message", detailed.Overall.Message),
				)
			}
		}
	}
}

// GetLastResults returns the most recent health check results without running new checks
func (m *Manager) GetLastResults() map[string]CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make(map[string]CheckResult, len(m.lastResults))
	for name, result := range m.lastResults {
		results[name] = result
	}
	return results
}
