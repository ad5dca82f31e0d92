package config

import (
	"errors"
	"io/fs"
	"os"
	"reflect"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/leapgeo/citetrack/internal/ratecontrol"
)

// LimitsHandler receives the scrape limits after a reload changed them
type LimitsHandler func(ratecontrol.Limits)

// Manager owns the loaded configuration and hot-reloads the parts that can
// change at runtime. Only scrape_limits is applied live; other edits are
// logged and take effect on restart.
type Manager struct {
	v       *viper.Viper
	path    string
	logger  *zap.Logger
	mu      sync.RWMutex
	current *Config

	handlers []LimitsHandler
}

// Path returns CONFIG_PATH or DefaultPath
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads .env, the config file at path and CITETRACK_* overrides
func Load(path string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loadDotEnv(logger)

	v := newViper(path)
	if err := read(v, path); err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	used := v.ConfigFileUsed()
	if _, statErr := os.Stat(used); used == "" || statErr != nil {
		logger.Warn("Config file not found, using defaults and environment", zap.String("path", path))
	} else {
		logger.Info("Configuration loaded", zap.String("path", used))
	}
	return &Manager{v: v, path: path, logger: logger, current: cfg}, nil
}

// loadDotEnv applies ./.env without overriding variables already set
func loadDotEnv(logger *zap.Logger) {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	if err := godotenv.Load(".env"); err != nil {
		logger.Warn("Failed to load .env", zap.Error(err))
	}
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// Config returns the current configuration
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnScrapeLimitsChange registers fn for live scrape limit updates
func (m *Manager) OnScrapeLimitsChange(fn LimitsHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, fn)
}

// Watch starts watching the config file for changes
func (m *Manager) Watch() {
	if m.path == "" {
		return
	}
	m.v.OnConfigChange(func(e fsnotify.Event) {
		m.reload(e)
	})
	m.v.WatchConfig()
	m.logger.Info("Watching configuration for changes", zap.String("path", m.path))
}

// reload re-reads the file and applies scrape limit changes. An invalid
// file keeps the previous configuration.
func (m *Manager) reload(e fsnotify.Event) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}
	if err := m.v.ReadInConfig(); err != nil {
		m.logger.Error("Failed to re-read configuration", zap.String("file", e.Name), zap.Error(err))
		return
	}
	next, err := decode(m.v)
	if err != nil {
		m.logger.Error("Rejected configuration change", zap.String("file", e.Name), zap.Error(err))
		return
	}

	m.mu.Lock()
	prev := m.current
	m.current = next
	handlers := append([]LimitsHandler(nil), m.handlers...)
	m.mu.Unlock()

	if reflect.DeepEqual(prev.ScrapeLimits, next.ScrapeLimits) {
		m.logger.Info("Configuration changed; restart to apply non-limit settings", zap.String("file", e.Name))
		return
	}
	m.logger.Info("Scrape limits reloaded",
		zap.String("file", e.Name),
		zap.Int("default_rpm", next.ScrapeLimits.DefaultRPM),
		zap.Int("overrides", len(next.ScrapeLimits.PlatformOverrides)),
	)
	for _, h := range handlers {
		h(next.ScrapeLimits)
	}
}
