package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "citetrack_circuit_breaker_state",
			Help: "Current breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name", "service"},
	)

	breakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citetrack_circuit_breaker_requests_total",
			Help: "Requests routed through a circuit breaker",
		},
		[]string{"name", "service", "state", "result"},
	)

	breakerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citetrack_circuit_breaker_failures_total",
			Help: "Failed requests routed through a circuit breaker",
		},
		[]string{"name", "service"},
	)

	breakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citetrack_circuit_breaker_state_changes_total",
			Help: "Breaker state transitions",
		},
		[]string{"name", "service", "from_state", "to_state"},
	)

	breakerOpenSince = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "citetrack_circuit_breaker_open_since_seconds",
			Help: "Unix time the breaker last opened (0 when not open)",
		},
		[]string{"name", "service"},
	)
)

type breakerKey struct {
	name    string
	service string
}

// MetricsCollector exports breaker state to Prometheus
type MetricsCollector struct {
	mu       sync.RWMutex
	breakers map[breakerKey]*CircuitBreaker
}

// NewMetricsCollector creates an empty collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{breakers: make(map[breakerKey]*CircuitBreaker)}
}

// RegisterCircuitBreaker hooks cb's state changes into the exported metrics.
func (mc *MetricsCollector) RegisterCircuitBreaker(name, service string, cb *CircuitBreaker) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.breakers[breakerKey{name: name, service: service}] = cb

	cb.mutex.Lock()
	prev := cb.config.OnStateChange
	cb.config.OnStateChange = func(cbName string, from State, to State) {
		if prev != nil {
			prev(cbName, from, to)
		}
		breakerStateChanges.WithLabelValues(name, service, from.String(), to.String()).Inc()
		breakerState.WithLabelValues(name, service).Set(float64(to))
		switch {
		case to == StateOpen:
			breakerOpenSince.WithLabelValues(name, service).SetToCurrentTime()
		case from == StateOpen:
			breakerOpenSince.WithLabelValues(name, service).Set(0)
		}
	}
	cb.mutex.Unlock()
}

// RecordRequest counts one call by result: success, failure, neutral or rejected
func (mc *MetricsCollector) RecordRequest(name, service string, state State, result string) {
	if result == VerdictFailure.String() {
		breakerFailures.WithLabelValues(name, service).Inc()
	}
	breakerRequests.WithLabelValues(name, service, state.String(), result).Inc()
}

// UpdateMetrics refreshes the state gauge of every registered breaker
func (mc *MetricsCollector) UpdateMetrics() {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	for key, cb := range mc.breakers {
		breakerState.WithLabelValues(key.name, key.service).Set(float64(cb.State()))
	}
}

// OpenBreakers lists the "service/name" of every breaker currently open
func (mc *MetricsCollector) OpenBreakers() []string {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	var open []string
	for key, cb := range mc.breakers {
		if cb.State() == StateOpen {
			open = append(open, key.service+"/"+key.name)
		}
	}
	return open
}

// GlobalMetricsCollector is shared by every wrapper in the process
var GlobalMetricsCollector = NewMetricsCollector()

// StartMetricsCollection refreshes breaker gauges every interval until ctx ends.
func StartMetricsCollection(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				GlobalMetricsCollector.UpdateMetrics()
			}
		}
	}()
}

// guard binds a breaker to its metric labels
type guard struct {
	cb      *CircuitBreaker
	name    string
	service string
}

func newGuard(name, service string, settings Settings, classify Classifier, logger *zap.Logger) guard {
	cb := NewCircuitBreaker(name, settings.ToConfig(classify), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker(name, service, cb)
	return guard{cb: cb, name: name, service: service}
}

// run executes fn through the breaker and records the outcome
func (g guard) run(ctx context.Context, fn func() error) error {
	err := g.cb.Execute(ctx, fn)
	result := "rejected"
	if !IsBreakerError(err) {
		result = g.cb.Classify(err).String()
	}
	GlobalMetricsCollector.RecordRequest(g.name, g.service, g.cb.State(), result)
	return err
}
