package circuitbreaker

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Group hands out one breaker per key, created on first use and named
// "<prefix>:<key>". Failures under one key never open another key's breaker.
type Group struct {
	prefix   string
	service  string
	settings Settings
	classify Classifier
	logger   *zap.Logger

	mu     sync.Mutex
	guards map[string]guard
}

// NewGroup creates an empty group. classify may be nil.
func NewGroup(prefix, service string, settings Settings, classify Classifier, logger *zap.Logger) *Group {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Group{
		prefix:   prefix,
		service:  service,
		settings: settings,
		classify: classify,
		logger:   logger,
		guards:   make(map[string]guard),
	}
}

func (g *Group) guard(key string) guard {
	g.mu.Lock()
	defer g.mu.Unlock()
	gd, ok := g.guards[key]
	if !ok {
		gd = newGuard(g.prefix+":"+key, g.service, g.settings, g.classify, g.logger)
		g.guards[key] = gd
	}
	return gd
}

// Run executes fn through key's breaker
func (g *Group) Run(ctx context.Context, key string, fn func() error) error {
	return g.guard(key).run(ctx, fn)
}

// State returns key's breaker state. Keys never used are closed.
func (g *Group) State(key string) State {
	g.mu.Lock()
	gd, ok := g.guards[key]
	g.mu.Unlock()
	if !ok {
		return StateClosed
	}
	return gd.cb.State()
}

// Open lists the keys whose breaker is open, sorted
func (g *Group) Open() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	open := make([]string, 0)
	for key, gd := range g.guards {
		if gd.cb.State() == StateOpen {
			open = append(open, key)
		}
	}
	sort.Strings(open)
	return open
}
